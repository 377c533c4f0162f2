package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// CoreConfig is the single configuration object for the core. Loaded once at
// startup from environment variables (optionally a .env file) and flags;
// invalid configuration is fatal.
type CoreConfig struct {
	// Behavior toggles
	DemoMode    bool `mapstructure:"demo_mode"`
	AutoApprove bool `mapstructure:"auto_approve"`

	// Code executor sandbox
	CodeExecTimeout     int    `mapstructure:"code_exec_timeout" validate:"gte=1,lte=300"`
	CodeExecMemoryLimit string `mapstructure:"code_exec_memory_limit"`
	CodeExecCPUQuota    string `mapstructure:"code_exec_cpu_quota"`

	// Filesystem tool sandbox
	FileToolRoot     string `mapstructure:"file_tool_root" validate:"required"`
	FileToolMaxBytes int64  `mapstructure:"file_tool_max_bytes" validate:"gt=0"`

	// Database tool
	DBToolRowLimit int `mapstructure:"db_tool_row_limit" validate:"gt=0"`
	DBToolTimeout  int `mapstructure:"db_tool_timeout" validate:"gt=0"`

	// Providers
	SearchProvider string `mapstructure:"search_provider" validate:"oneof=exa tavily"`
	VectorBackend  string `mapstructure:"vector_backend" validate:"oneof=sqlite-vec memory"`

	// Secrets
	EncryptionKey string `mapstructure:"encryption_key" validate:"required,min=16"`

	// Model identifiers for the internal models
	RouterModel  string `mapstructure:"router_model"`
	ScorerModel  string `mapstructure:"scorer_model"`
	PlannerModel string `mapstructure:"planner_model"`

	// Execution limits
	InferenceTimeoutSeconds int   `mapstructure:"inference_timeout_seconds" validate:"gt=0"`
	MaxFallbackAttempts     int   `mapstructure:"max_fallback_attempts" validate:"gte=1"`
	MaxPlanIterations       int   `mapstructure:"max_plan_iterations" validate:"gte=1"`
	StepParallelism         int64 `mapstructure:"step_parallelism" validate:"gte=1"`
	WorkflowExecTimeoutSecs int   `mapstructure:"workflow_exec_timeout_seconds" validate:"gt=0"`
	MaxInflightPerPrincipal int   `mapstructure:"max_inflight_per_principal" validate:"gte=1"`

	// Storage
	DatabasePath string `mapstructure:"database_path" validate:"required"`
	LocalModels  string `mapstructure:"local_models"` // directory holding local model artifacts
}

// InferenceTimeout returns the per-call inference timeout.
func (c *CoreConfig) InferenceTimeout() time.Duration {
	return time.Duration(c.InferenceTimeoutSeconds) * time.Second
}

// WorkflowExecTimeout returns the per-workflow Executing-state timeout.
func (c *CoreConfig) WorkflowExecTimeout() time.Duration {
	return time.Duration(c.WorkflowExecTimeoutSecs) * time.Second
}

// CodeExecTimeoutDuration returns the container execution timeout.
func (c *CoreConfig) CodeExecTimeoutDuration() time.Duration {
	return time.Duration(c.CodeExecTimeout) * time.Second
}

// DBTimeout returns the database-tool statement timeout.
func (c *CoreConfig) DBTimeout() time.Duration {
	return time.Duration(c.DBToolTimeout) * time.Second
}

// Defaults applies the documented default for every unset option.
func Defaults(v *viper.Viper) {
	v.SetDefault("demo_mode", false)
	v.SetDefault("auto_approve", false)
	v.SetDefault("code_exec_timeout", 30)
	v.SetDefault("code_exec_memory_limit", "512m")
	v.SetDefault("code_exec_cpu_quota", "1.0")
	v.SetDefault("file_tool_root", "./sandbox")
	v.SetDefault("file_tool_max_bytes", int64(10*1024*1024))
	v.SetDefault("db_tool_row_limit", 1000)
	v.SetDefault("db_tool_timeout", 30)
	v.SetDefault("search_provider", "exa")
	v.SetDefault("vector_backend", "sqlite-vec")
	v.SetDefault("router_model", "gpt-4.1-mini")
	v.SetDefault("scorer_model", "gpt-4.1-mini")
	v.SetDefault("planner_model", "gpt-4.1")
	v.SetDefault("inference_timeout_seconds", 60)
	v.SetDefault("max_fallback_attempts", 3)
	v.SetDefault("max_plan_iterations", 3)
	v.SetDefault("step_parallelism", 4)
	v.SetDefault("workflow_exec_timeout_seconds", 300)
	v.SetDefault("max_inflight_per_principal", 8)
	v.SetDefault("database_path", "lalo.db")
	v.SetDefault("local_models", "./models")
}

// Load reads configuration from the environment (and an optional .env file)
// into a validated CoreConfig.
func Load() (*CoreConfig, error) {
	// Best effort: a missing .env file is not an error.
	_ = godotenv.Load()

	v := viper.New()
	Defaults(v)
	v.AutomaticEnv()

	// Bind the documented environment names to their keys.
	for env, key := range map[string]string{
		"DEMO_MODE":              "demo_mode",
		"AUTO_APPROVE":           "auto_approve",
		"CODE_EXEC_TIMEOUT":      "code_exec_timeout",
		"CODE_EXEC_MEMORY_LIMIT": "code_exec_memory_limit",
		"CODE_EXEC_CPU_QUOTA":    "code_exec_cpu_quota",
		"FILE_TOOL_ROOT":         "file_tool_root",
		"FILE_TOOL_MAX_BYTES":    "file_tool_max_bytes",
		"DB_TOOL_ROW_LIMIT":      "db_tool_row_limit",
		"DB_TOOL_TIMEOUT":        "db_tool_timeout",
		"SEARCH_PROVIDER":        "search_provider",
		"VECTOR_BACKEND":         "vector_backend",
		"ENCRYPTION_KEY":         "encryption_key",
		"ROUTER_MODEL":           "router_model",
		"SCORER_MODEL":           "scorer_model",
		"PLANNER_MODEL":          "planner_model",
		"DATABASE_PATH":          "database_path",
		"LOCAL_MODELS":           "local_models",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var cfg CoreConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration against its constraints.
func (c *CoreConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// TestConfig returns a valid configuration for tests, rooted under dir.
func TestConfig(dir string) *CoreConfig {
	return &CoreConfig{
		CodeExecTimeout:         30,
		CodeExecMemoryLimit:     "256m",
		CodeExecCPUQuota:        "0.5",
		FileToolRoot:            dir,
		FileToolMaxBytes:        1 << 20,
		DBToolRowLimit:          100,
		DBToolTimeout:           5,
		SearchProvider:          "exa",
		VectorBackend:           "sqlite-vec",
		EncryptionKey:           "0123456789abcdef0123456789abcdef",
		RouterModel:             "fake-router",
		ScorerModel:             "fake-scorer",
		PlannerModel:            "fake-planner",
		InferenceTimeoutSeconds: 10,
		MaxFallbackAttempts:     3,
		MaxPlanIterations:       3,
		StepParallelism:         4,
		WorkflowExecTimeoutSecs: 60,
		MaxInflightPerPrincipal: 8,
		DatabasePath:            ":memory:",
		LocalModels:             dir,
	}
}
