package tools

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"lalo/core/internal/utils"
	"lalo/core/pkg/core"
)

type registration struct {
	def     Definition
	tool    Tool
	schema  *jsonschema.Schema
	perms   []string
	enabled bool
}

// Registry is the process-wide tool catalog. Names are unique, definitions
// immutable after registration, and Execute never returns a Go error: every
// failure becomes a Result envelope.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registration
	logger  utils.ExtendedLogger
	pool    *ExecPool
}

func NewRegistry(logger utils.ExtendedLogger, pool *ExecPool) *Registry {
	return &Registry{
		entries: make(map[string]*registration),
		logger:  logger,
		pool:    pool,
	}
}

// Register adds a tool under its definition name. Duplicate names are
// rejected. requiredPerms is the set of permissions of which a caller must
// hold at least one; empty means unrestricted.
func (r *Registry) Register(tool Tool, requiredPerms ...string) error {
	def := tool.Definition()
	if def.Name == "" {
		return core.E(core.KindInvalidInput, "tool definition requires a name")
	}

	schema, err := compileParameterSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for tool %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[def.Name]; exists {
		return core.E(core.KindInvalidInput, "tool %s is already registered", def.Name)
	}
	r.entries[def.Name] = &registration{
		def:     def,
		tool:    tool,
		schema:  schema,
		perms:   requiredPerms,
		enabled: true,
	}
	r.logger.Infof("🔧 Registered tool: %s (category=%s)", def.Name, def.Category)
	return nil
}

// SetEnabled toggles a tool. Enabling an already-enabled tool is a no-op.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.entries[name]
	if !ok {
		return core.E(core.KindNotFound, "tool %s is not registered", name)
	}
	entry.enabled = enabled
	return nil
}

// Get returns a tool's definition.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[name]
	if !ok {
		return Definition{}, false
	}
	return entry.def, true
}

// List returns all registered definitions.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.entries))
	for _, entry := range r.entries {
		out = append(out, entry.def)
	}
	return out
}

// Execute runs the registry pipeline: existence and enabled check, permission
// check, schema validation, then invocation. The returned Result is never nil.
func (r *Registry) Execute(ctx context.Context, name string, principal core.Principal, args map[string]any) *Result {
	start := time.Now()
	fail := func(kind core.Kind, format string, a ...any) *Result {
		return &Result{
			Success:         false,
			Error:           fmt.Sprintf(format, a...),
			ErrorKind:       string(kind),
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		}
	}

	r.mu.RLock()
	entry, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fail(core.KindNotFound, "tool %s is not registered", name)
	}
	if !entry.enabled {
		return fail(core.KindNotFound, "tool %s is disabled", name)
	}
	if !principal.HasAny(entry.perms) {
		return fail(core.KindPermissionDenied, "user %s lacks permission for tool %s", principal.UserID, name)
	}

	if args == nil {
		args = map[string]any{}
	}
	applyDefaults(entry.def.Parameters, args)
	if err := entry.schema.Validate(normalizeForSchema(args)); err != nil {
		return fail(core.KindValidationFailed, "invalid arguments for tool %s: %v", name, err)
	}

	result := r.invoke(ctx, entry, args)
	result.ExecutionTimeMS = time.Since(start).Milliseconds()
	if result.Success {
		r.logger.Debugf("✅ Tool %s completed in %dms", name, result.ExecutionTimeMS)
	} else {
		r.logger.Warnf("⚠️ Tool %s failed: %s", name, result.Error)
	}
	return result
}

// invoke runs the tool on the executor pool with panic containment.
func (r *Registry) invoke(ctx context.Context, entry *registration, args map[string]any) *Result {
	run := func(ctx context.Context) (res *Result) {
		defer func() {
			if rec := recover(); rec != nil {
				r.logger.Errorf("Tool %s panicked: %v", entry.def.Name, rec)
				res = &Result{
					Success:   false,
					Error:     fmt.Sprintf("tool %s panicked: %v", entry.def.Name, rec),
					ErrorKind: string(core.KindInternal),
				}
			}
		}()
		out, err := entry.tool.Execute(ctx, args)
		if err != nil {
			return &Result{
				Success:   false,
				Error:     err.Error(),
				ErrorKind: string(core.KindOf(err)),
			}
		}
		if out == nil {
			out = &Result{Success: true}
		}
		return out
	}

	if r.pool != nil {
		return r.pool.Run(ctx, run)
	}
	return run(ctx)
}

func applyDefaults(params []Parameter, args map[string]any) {
	for _, p := range params {
		if _, ok := args[p.Name]; !ok && p.Default != nil {
			args[p.Name] = p.Default
		}
	}
}

// compileParameterSchema builds a JSON schema document from the typed
// definition and compiles it once at registration.
func compileParameterSchema(def Definition) (*jsonschema.Schema, error) {
	properties := map[string]any{}
	var required []any
	for _, p := range def.Parameters {
		prop := map[string]any{"type": string(p.Type)}
		if len(p.Enum) > 0 {
			enum := make([]any, len(p.Enum))
			for i, e := range p.Enum {
				enum[i] = e
			}
			prop["enum"] = enum
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	doc := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		doc["required"] = required
	}

	compiler := jsonschema.NewCompiler()
	url := "tool://" + def.Name + "/parameters.json"
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// normalizeForSchema converts Go-typed argument values into the shapes the
// validator expects from decoded JSON.
func normalizeForSchema(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		switch n := v.(type) {
		case int:
			out[k] = float64(n)
		case int64:
			out[k] = float64(n)
		case float32:
			out[k] = float64(n)
		default:
			out[k] = v
		}
	}
	return out
}
