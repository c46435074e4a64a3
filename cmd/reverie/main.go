// Command reverie is the main entry point for the Reverie narrative engine
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/reveriehq/reverie/internal/assembler"
	"github.com/reveriehq/reverie/internal/config"
	"github.com/reveriehq/reverie/internal/health"
	"github.com/reveriehq/reverie/internal/maintenance"
	"github.com/reveriehq/reverie/internal/memcache"
	"github.com/reveriehq/reverie/internal/observe"
	"github.com/reveriehq/reverie/internal/recall"
	"github.com/reveriehq/reverie/internal/resilience"
	"github.com/reveriehq/reverie/internal/server"
	"github.com/reveriehq/reverie/internal/task"
	"github.com/reveriehq/reverie/internal/turn"
	"github.com/reveriehq/reverie/internal/work"
	"github.com/reveriehq/reverie/pkg/narrative/postgres"
	"github.com/reveriehq/reverie/pkg/provider/embeddings"
	oaembed "github.com/reveriehq/reverie/pkg/provider/embeddings/openai"
	"github.com/reveriehq/reverie/pkg/provider/generate"
	"github.com/reveriehq/reverie/pkg/provider/generate/anyllm"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "reverie: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "reverie: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("reverie starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "reverie",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	generator, embedder, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Narrative store ───────────────────────────────────────────────────────
	store, err := postgres.NewStore(ctx, cfg.Memory.PostgresDSN, cfg.Memory.EmbeddingDimensions)
	if err != nil {
		slog.Error("failed to connect to postgres", "err", err)
		return 1
	}
	defer store.Close()

	// ── Work library ──────────────────────────────────────────────────────────
	library, err := work.LoadLibrary(cfg.Works.Dir)
	if err != nil {
		slog.Error("failed to load works", "dir", cfg.Works.Dir, "err", err)
		return 1
	}
	slog.Info("works loaded", "dir", cfg.Works.Dir, "count", len(library.IDs()))

	// ── Engine wiring ─────────────────────────────────────────────────────────
	guarded := recall.NewGuard(store.Memories())
	searcher := recall.NewSearcher(recall.SearcherConfig{
		Index:    guarded,
		Embedder: embedder,
	})
	memories := memcache.New(memcache.Config{Searcher: searcher})
	contextAssembler := assembler.New(assembler.Config{
		Sessions:      store.Sessions(),
		Scenes:        store.Scenes(),
		Relationships: store.Relationships(),
		Memories:      memories,
		Facts:         guarded,
		ReadTimeout:   cfg.Engine.ReadTimeout.Std(),
		HistoryLimit:  cfg.Engine.HistoryLimit,
	})
	consolidator := recall.NewConsolidator(recall.ConsolidatorConfig{
		Index:    guarded,
		Embedder: embedder,
	})
	runner := task.NewRunner(task.RunnerConfig{})
	scheduler := maintenance.NewScheduler(maintenance.SchedulerConfig{
		Index:       guarded,
		Artifacts:   store,
		Sessions:    store.Sessions(),
		Generator:   generator,
		Runner:      runner,
		DecayFactor: cfg.Memory.DecayFactor,
		MinStrength: cfg.Memory.MinStrength,
		MaxRecords:  cfg.Memory.MaxRecords,
	})

	orchestrator := turn.New(turn.Config{
		Sessions:        store.Sessions(),
		Scenes:          store.Scenes(),
		Relationships:   store.Relationships(),
		Memories:        memories,
		Assembler:       contextAssembler,
		Generator:       generator,
		Consolidator:    consolidator,
		Scheduler:       scheduler,
		Runner:          runner,
		Works:           library,
		ContextBudget:   cfg.Engine.ContextBudget,
		GenerateTimeout: cfg.Engine.GenerateTimeout.Std(),
	})

	// ── HTTP server ───────────────────────────────────────────────────────────
	srvCfg := server.Config{
		Addr:   cfg.Server.ListenAddr,
		Engine: orchestrator,
		Checkers: []health.Checker{
			{Name: "database", Check: store.Ping},
		},
	}
	if cfg.Server.TLS != nil {
		srvCfg.TLSCertFile = cfg.Server.TLS.CertFile
		srvCfg.TLSKeyFile = cfg.Server.TLS.KeyFile
	}
	srv := server.New(srvCfg)

	// ── Config hot reload ─────────────────────────────────────────────────────
	// Only the log level applies live; anything else is reported and needs a
	// restart.
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		diff := config.Diff(old, new)
		if diff.LogLevelChanged {
			levelVar.Set(slogLevel(diff.NewLogLevel))
			slog.Info("log level changed", "level", diff.NewLogLevel)
		}
		if diff.EngineChanged || diff.MemoryChanged || diff.ProvidersChanged {
			slog.Warn("engine, memory or provider configuration changed — restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── Serve ─────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", cfg.Server.ListenAddr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	// Let in-flight background maintenance finish before closing the store.
	drainCtx, drainCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer drainCancel()
	if err := runner.Wait(drainCtx); err != nil {
		slog.Warn("background jobs did not drain in time", "err", err)
	}

	slog.Info("goodbye")
	return 0
}

// slogLevel maps a config log level to its slog equivalent.
func slogLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai, anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile
	// all share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"openai", "anthropic", "gemini",
		"deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterGeneration(providerName, func(entry config.ProviderEntry) (generate.Service, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterGeneration("ollama", func(entry config.ProviderEntry) (generate.Service, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildProviders instantiates the generation and embeddings backends named in
// cfg. The generation service is required; when a fallback is configured the
// returned service routes through a circuit-breaker fallback group.
func buildProviders(cfg *config.Config, reg *config.Registry) (generate.Service, embeddings.Provider, error) {
	primary, err := reg.CreateGeneration(cfg.Providers.Generation)
	if err != nil {
		return nil, nil, fmt.Errorf("create generation provider %q: %w", cfg.Providers.Generation.Name, err)
	}
	slog.Info("provider created", "kind", "generation", "name", cfg.Providers.Generation.Name)

	var generator generate.Service = primary
	if name := cfg.Providers.FallbackGeneration.Name; name != "" {
		secondary, err := reg.CreateGeneration(cfg.Providers.FallbackGeneration)
		if err != nil {
			return nil, nil, fmt.Errorf("create fallback generation provider %q: %w", name, err)
		}
		group := resilience.NewGenerateFallback(primary, cfg.Providers.Generation.Name, resilience.FallbackConfig{})
		group.AddFallback(name, secondary)
		generator = group
		slog.Info("provider created", "kind", "generation-fallback", "name", name)
	}

	var embedder embeddings.Provider
	if name := cfg.Providers.Embeddings.Name; name != "" {
		p, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("embeddings provider not available — memory retrieval falls back to recency", "name", name)
		} else if err != nil {
			return nil, nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		} else {
			embedder = p
			slog.Info("provider created", "kind", "embeddings", "name", name)
		}
	}

	return generator, embedder, nil
}
