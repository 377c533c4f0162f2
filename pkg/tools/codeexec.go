package tools

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
)

const maxCodeExecTimeout = 300 * time.Second

// CodeExecTool runs Python or JavaScript inside a docker container with the
// network disabled, memory and CPU quotas, and an ephemeral workspace that is
// discarded after the run.
type CodeExecTool struct {
	timeout     time.Duration
	memoryLimit string
	cpuQuota    string
	logger      utils.ExtendedLogger
}

func NewCodeExecTool(timeout time.Duration, memoryLimit, cpuQuota string, logger utils.ExtendedLogger) *CodeExecTool {
	if timeout <= 0 || timeout > maxCodeExecTimeout {
		timeout = maxCodeExecTimeout
	}
	if memoryLimit == "" {
		memoryLimit = "512m"
	}
	if cpuQuota == "" {
		cpuQuota = "1.0"
	}
	return &CodeExecTool{timeout: timeout, memoryLimit: memoryLimit, cpuQuota: cpuQuota, logger: logger}
}

func (t *CodeExecTool) Definition() Definition {
	return Definition{
		Name:        "code_execution",
		Description: "Execute Python or JavaScript in an isolated container without network access",
		Category:    CategoryCode,
		Parameters: []Parameter{
			{Name: "language", Type: TypeString, Required: true, Enum: []string{"python", "javascript"}},
			{Name: "code", Type: TypeString, Required: true},
			{Name: "dependencies", Type: TypeArray, Required: false},
		},
		Returns:          "stdout, stderr and exit code",
		RequiresApproval: true,
	}
}

type languageSpec struct {
	image      string
	filename   string
	runCmd     []string
	installCmd []string // prefix; package names appended
}

var languages = map[string]languageSpec{
	"python": {
		image:      "python:3.12-slim",
		filename:   "main.py",
		runCmd:     []string{"python", "/workspace/main.py"},
		installCmd: []string{"pip", "install", "--no-cache-dir"},
	},
	"javascript": {
		image:      "node:22-slim",
		filename:   "main.js",
		runCmd:     []string{"node", "/workspace/main.js"},
		installCmd: []string{"npm", "install", "--prefix", "/workspace"},
	},
}

func (t *CodeExecTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	language, _ := args["language"].(string)
	code, _ := args["code"].(string)
	spec, ok := languages[language]
	if !ok {
		return nil, core.E(core.KindValidationFailed, "unsupported language %q", language)
	}
	if code == "" {
		return nil, core.E(core.KindValidationFailed, "code is empty")
	}

	var deps []string
	if raw, ok := args["dependencies"].([]any); ok {
		for _, d := range raw {
			if s, ok := d.(string); ok && s != "" {
				deps = append(deps, s)
			}
		}
	}

	workspace, err := os.MkdirTemp("", "codeexec-*")
	if err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "failed to create workspace")
	}
	defer os.RemoveAll(workspace)

	if err := os.WriteFile(filepath.Join(workspace, spec.filename), []byte(code), 0o644); err != nil {
		return nil, core.Wrap(core.KindExecutionFailed, err, "failed to write source file")
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	// Dependencies install inside the container before the run; the install
	// step is the only one allowed network access.
	if len(deps) > 0 {
		install := append([]string(nil), spec.installCmd...)
		install = append(install, deps...)
		if out, err := t.dockerRun(ctx, spec.image, workspace, false, install); err != nil {
			return &Result{
				Success: false,
				Error:   fmt.Sprintf("dependency install failed: %v", err),
				Output:  out,
			}, nil
		}
	}

	output, err := t.dockerRun(ctx, spec.image, workspace, true, spec.runCmd)
	exitCode := 0
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return nil, core.E(core.KindTimeout, "execution exceeded %s", t.timeout)
		}
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return nil, core.Wrap(core.KindExecutionFailed, err, "container launch failed")
		}
	}

	return &Result{
		Success: exitCode == 0,
		Output:  output,
		Error:   errorForExit(exitCode),
		Metadata: map[string]any{
			"exit_code": exitCode,
			"language":  language,
		},
	}, nil
}

func errorForExit(code int) string {
	if code == 0 {
		return ""
	}
	return fmt.Sprintf("process exited with code %d", code)
}

// dockerRun launches one container invocation and captures stdout/stderr.
func (t *CodeExecTool) dockerRun(ctx context.Context, image, workspace string, networkDisabled bool, cmd []string) (map[string]string, error) {
	dockerArgs := []string{
		"run", "--rm",
		"--memory", t.memoryLimit,
		"--cpus", t.cpuQuota,
		"-v", workspace + ":/workspace",
		"-w", "/workspace",
	}
	if networkDisabled {
		dockerArgs = append(dockerArgs, "--network", "none")
	}
	dockerArgs = append(dockerArgs, image)
	dockerArgs = append(dockerArgs, cmd...)

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "docker", dockerArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	t.logger.Debugf("🐳 docker %v", dockerArgs)
	err := command.Run()
	return map[string]string{
		"stdout": stdout.String(),
		"stderr": stderr.String(),
	}, err
}
