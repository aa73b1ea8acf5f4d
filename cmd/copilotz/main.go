// Copilotz server — exposes the multi-agent conversation engine over
// HTTP and drives its durable event queue.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/copilotz/copilotz/pkg/api"
	"github.com/copilotz/copilotz/pkg/assets"
	"github.com/copilotz/copilotz/pkg/config"
	"github.com/copilotz/copilotz/pkg/database"
	"github.com/copilotz/copilotz/pkg/engine"
	"github.com/copilotz/copilotz/pkg/events"
	"github.com/copilotz/copilotz/pkg/llm"
	"github.com/copilotz/copilotz/pkg/llm/providers"
	"github.com/copilotz/copilotz/pkg/mcp"
	"github.com/copilotz/copilotz/pkg/models"
	"github.com/copilotz/copilotz/pkg/tools"
	"github.com/copilotz/copilotz/pkg/tools/native"
	"github.com/copilotz/copilotz/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func setupLogging(cfg config.LoggingConfig) {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func buildAssetResolver(ctx context.Context, cfg config.AssetsConfig) (*assets.Resolver, error) {
	switch cfg.Backend {
	case "", "memory":
		return assets.NewResolver(assets.NewMemoryStore()), nil
	case "local":
		store, err := assets.NewLocalStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		return assets.NewResolver(store), nil
	case "s3":
		store, err := assets.NewS3Store(ctx, assets.S3Config{
			Bucket:       cfg.S3.Bucket,
			Region:       cfg.S3.Region,
			Prefix:       cfg.S3.Prefix,
			Endpoint:     cfg.S3.Endpoint,
			UsePathStyle: cfg.S3.UsePathStyle,
			AccessKeyID:  cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretKey,
		})
		if err != nil {
			return nil, err
		}
		return assets.NewResolver(store), nil
	}
	return assets.NewResolver(nil), nil
}

func buildProviders(ctx context.Context, cfgs map[string]config.ProviderConfig) (*llm.Registry, error) {
	registry := llm.NewRegistry()
	for name, cfg := range cfgs {
		switch models.Provider(name) {
		case models.ProviderOpenAI:
			registry.Register(models.ProviderOpenAI, providers.NewOpenAI(cfg))
		case models.ProviderAnthropic:
			registry.Register(models.ProviderAnthropic, providers.NewAnthropic(cfg))
		case models.ProviderGemini:
			client, err := providers.NewGemini(ctx, cfg)
			if err != nil {
				return nil, err
			}
			registry.Register(models.ProviderGemini, client)
		default:
			slog.Warn("Unknown provider in config, skipping", "provider", name)
		}
	}
	return registry, nil
}

func main() {
	configPath := flag.String("config", getEnv("COPILOTZ_CONFIG", "copilotz.yaml"), "Path to the YAML config file")
	envPath := flag.String("env", ".env", "Path to the .env file")
	flag.Parse()

	if err := godotenv.Load(*envPath); err != nil {
		slog.Debug("No .env file loaded, continuing with existing environment",
			"path", *envPath, "error", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	slog.Info("Starting copilotz", "version", version.Full(), "config", *configPath)

	ctx := context.Background()

	// Database (with embedded migrations).
	db, err := database.Acquire(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := database.Shutdown(); err != nil {
			slog.Error("Error closing database handles", "error", err)
		}
	}()
	slog.Info("Database ready", "driver", db.Driver())

	// Asset store.
	resolver, err := buildAssetResolver(ctx, cfg.Assets)
	if err != nil {
		slog.Error("Failed to initialize asset store", "backend", cfg.Assets.Backend, "error", err)
		os.Exit(1)
	}

	// LLM providers.
	providers, err := buildProviders(ctx, cfg.Providers)
	if err != nil {
		slog.Error("Failed to initialize LLM providers", "error", err)
		os.Exit(1)
	}
	defer providers.Close()

	// Tool registry: native builtins, OpenAPI-derived tools, MCP tools.
	toolRegistry := tools.NewRegistry()
	toolRegistry.RegisterNative(native.All(native.DefaultConfig())...)

	for _, apiCfg := range cfg.OpenAPIs {
		apiTools, err := tools.LoadOpenAPITools(ctx, apiCfg)
		if err != nil {
			slog.Error("Failed to load OpenAPI tools", "name", apiCfg.Name, "error", err)
			os.Exit(1)
		}
		toolRegistry.RegisterOpenAPI(apiTools...)
		slog.Info("OpenAPI tools loaded", "name", apiCfg.Name, "count", len(apiTools))
	}

	var mcpManager *mcp.Manager
	if len(cfg.MCPServers) > 0 {
		mcpManager = mcp.NewManager(cfg.MCPServers)
		if err := mcpManager.Initialize(ctx); err != nil {
			slog.Error("Failed to initialize MCP servers", "error", err)
			os.Exit(1)
		}
		if failed := mcpManager.FailedServers(); len(failed) > 0 {
			slog.Error("MCP servers failed startup validation", "failed_servers", failed)
			os.Exit(1)
		}
		defer mcpManager.Close()
		toolRegistry.RegisterRemote(mcpManager.Tools(ctx)...)
		slog.Info("MCP servers connected", "count", len(cfg.MCPServers))
	}

	// Event fan-out for WebSocket clients.
	broadcaster := events.NewBroadcaster()
	defer broadcaster.Close()
	connManager := events.NewConnectionManager(broadcaster, events.DefaultWriteTimeout)

	// Engine.
	eng, err := engine.New(engine.Options{
		Config:      cfg,
		DB:          db,
		Tools:       toolRegistry,
		LLM:         providers,
		Assets:      resolver,
		Broadcaster: broadcaster,
	})
	if err != nil {
		slog.Error("Failed to build engine", "error", err)
		os.Exit(1)
	}
	eng.Start()

	// HTTP server.
	server := api.NewServer(eng, db, connManager, cfg.Server)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	slog.Info("Copilotz started", "addr", cfg.Server.Addr, "agents", len(cfg.Agents))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// Phased shutdown: HTTP drain, then engine drain; MCP and database
	// close through the deferred handlers.
	if err := server.Shutdown(ctx); err != nil {
		slog.Warn("HTTP shutdown incomplete", "error", err)
	}
	eng.Close()
	slog.Info("Shutdown complete")
}
