package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"lalo/core/internal/llm"
	"lalo/core/internal/observability"
	"lalo/core/internal/utils"
	"lalo/core/pkg/config"
	"lalo/core/pkg/database"
	"lalo/core/pkg/events"
	"lalo/core/pkg/handler"
	"lalo/core/pkg/orchestrator"
	"lalo/core/pkg/planner"
	"lalo/core/pkg/router"
	"lalo/core/pkg/scorer"
	"lalo/core/pkg/secrets"
	"lalo/core/pkg/tools"
	"lalo/core/pkg/vectorstore"
	"lalo/core/pkg/workflow"
)

// App holds every assembled component of the core.
type App struct {
	Config   *config.CoreConfig
	Logger   utils.ExtendedLogger
	Tracer   observability.Tracer
	Emitter  *events.Emitter
	History  *events.History
	Store    database.Store
	Secrets  secrets.Provider
	Vector   vectorstore.Store
	Gateway  *llm.Service
	Registry *tools.Registry
	Backups  *tools.BackupStore
	Router   *router.Router
	Scorer   *scorer.Scorer
	Planner  *planner.Planner
	Orch     *orchestrator.Orchestrator
	Workflow *workflow.Engine
	Handler  *handler.Handler
}

// buildApp wires the whole engine from configuration. Components are
// constructed bottom-up: storage, inference, tools, then the decision layers.
func buildApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:  viper.GetString("log-level"),
		Format: viper.GetString("log-format"),
		File:   viper.GetString("log-file"),
	})
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}

	tracer := observability.GetTracer(viper.GetString("trace-provider"), logger)
	history := events.NewHistory(0)
	emitter := events.NewEmitter(history)

	store, err := database.NewSQLiteStore(cfg.DatabasePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	secretsProvider, err := secrets.NewSQLiteProvider(store.DB(), cfg.EncryptionKey, logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing secrets: %w", err)
	}

	embedder := vectorstore.NewHashEmbedder(0)
	var vector vectorstore.Store
	switch cfg.VectorBackend {
	case "memory":
		vector = vectorstore.NewMemoryStore(embedder)
	default:
		vector = vectorstore.NewSQLiteVec(store.DB(), embedder, logger)
	}
	if err := vector.Initialize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("initializing vector store: %w", err)
	}

	gateway := llm.NewService(llm.ServiceConfig{
		DemoMode:       cfg.DemoMode,
		Timeout:        cfg.InferenceTimeout(),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		AnthropicKey:   os.Getenv("ANTHROPIC_API_KEY"),
		OpenRouterKey:  os.Getenv("OPENROUTER_API_KEY"),
		BedrockRegion:  os.Getenv("AWS_REGION"),
		LocalModelsDir: cfg.LocalModels,
		LocalBaseURL:   os.Getenv("LOCAL_INFERENCE_URL"),
		Logger:         logger,
		Tracer:         tracer,
		Emitter:        emitter,
	})

	registry, backups, err := buildTools(cfg, store, vector, logger)
	if err != nil {
		store.Close()
		return nil, err
	}

	sc := scorer.New(gateway, cfg.ScorerModel, logger)
	rt := router.New(gateway, cfg.RouterModel, logger)
	pl := planner.New(gateway, cfg.PlannerModel, logger,
		planner.WithMemory(vector),
		planner.WithMaxIterations(cfg.MaxPlanIterations),
		planner.WithEmitter(emitter),
	)
	orch := orchestrator.New(gateway, registry, pl, sc, emitter, logger, orchestrator.Config{
		MaxFallbackAttempts: cfg.MaxFallbackAttempts,
		StepParallelism:     cfg.StepParallelism,
	})
	wf := workflow.NewEngine(store, gateway, pl, orch, backups, vector, emitter, logger, workflow.Config{
		AutoApprove: cfg.AutoApprove,
		ExecTimeout: cfg.WorkflowExecTimeout(),
		Model:       cfg.RouterModel,
	})
	h := handler.New(store, rt, orch, emitter, tracer, logger, handler.Config{
		MaxInflightPerPrincipal: cfg.MaxInflightPerPrincipal,
	})

	logger.Infof("🚀 Core assembled (demo_mode=%v, vector_backend=%s)", cfg.DemoMode, cfg.VectorBackend)
	return &App{
		Config:   cfg,
		Logger:   logger,
		Tracer:   tracer,
		Emitter:  emitter,
		History:  history,
		Store:    store,
		Secrets:  secretsProvider,
		Vector:   vector,
		Gateway:  gateway,
		Registry: registry,
		Backups:  backups,
		Router:   rt,
		Scorer:   sc,
		Planner:  pl,
		Orch:     orch,
		Workflow: wf,
		Handler:  h,
	}, nil
}

// buildTools registers the built-in tool set against the configured sandbox.
func buildTools(cfg *config.CoreConfig, store database.Store, vector vectorstore.Store, logger utils.ExtendedLogger) (*tools.Registry, *tools.BackupStore, error) {
	registry := tools.NewRegistry(logger, tools.NewExecPool(cfg.StepParallelism))

	if err := os.MkdirAll(cfg.FileToolRoot, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating sandbox root: %w", err)
	}
	fsTool, err := tools.NewFilesystemTool(cfg.FileToolRoot, cfg.FileToolMaxBytes)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing filesystem tool: %w", err)
	}
	if err := registry.Register(fsTool, "files"); err != nil {
		return nil, nil, err
	}

	backupRoot := filepath.Join(filepath.Dir(cfg.FileToolRoot), ".lalo-backups")
	backups, err := tools.NewBackupStore(cfg.FileToolRoot, backupRoot, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing backup store: %w", err)
	}

	if err := registry.Register(tools.NewDatabaseTool(store.DB(), cfg.DBToolRowLimit, cfg.DBTimeout()), "db"); err != nil {
		return nil, nil, err
	}
	if err := registry.Register(tools.NewCodeExecTool(cfg.CodeExecTimeoutDuration(), cfg.CodeExecMemoryLimit, cfg.CodeExecCPUQuota, logger), "code"); err != nil {
		return nil, nil, err
	}
	if err := registry.Register(tools.NewHTTPAPITool(cfg.FileToolMaxBytes), "network"); err != nil {
		return nil, nil, err
	}
	if err := registry.Register(tools.NewRAGTool(vector)); err != nil {
		return nil, nil, err
	}

	var search tools.SearchProvider
	switch cfg.SearchProvider {
	case "tavily":
		if key := os.Getenv("TAVILY_API_KEY"); key != "" {
			search = tools.NewTavilyProvider(key)
		}
	default:
		if key := os.Getenv("EXA_API_KEY"); key != "" {
			search = tools.NewExaProvider(key)
		}
	}
	if search != nil {
		if err := registry.Register(tools.NewWebSearchTool(search, nil, nil), "network"); err != nil {
			return nil, nil, err
		}
	} else {
		logger.Warnf("⚠️ No %s API key set, web search tool disabled", cfg.SearchProvider)
	}

	return registry, backups, nil
}
