// Command sage is the main entry point for the SAGE tutoring server.
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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/sage-learning/sage/internal/api"
	"github.com/sage-learning/sage/internal/config"
	"github.com/sage-learning/sage/internal/engine"
	"github.com/sage-learning/sage/internal/extract"
	"github.com/sage-learning/sage/internal/health"
	"github.com/sage-learning/sage/internal/intent"
	"github.com/sage-learning/sage/internal/normalize"
	"github.com/sage-learning/sage/internal/observe"
	"github.com/sage-learning/sage/internal/prompt"
	"github.com/sage-learning/sage/internal/resilience"
	"github.com/sage-learning/sage/internal/session"
	"github.com/sage-learning/sage/internal/turnctx"
	"github.com/sage-learning/sage/pkg/graph"
	"github.com/sage-learning/sage/pkg/graph/memstore"
	pggraph "github.com/sage-learning/sage/pkg/graph/postgres"
	"github.com/sage-learning/sage/pkg/provider/embeddings"
	ollamaembed "github.com/sage-learning/sage/pkg/provider/embeddings/ollama"
	oaembed "github.com/sage-learning/sage/pkg/provider/embeddings/openai"
	"github.com/sage-learning/sage/pkg/provider/llm"
	"github.com/sage-learning/sage/pkg/provider/llm/anyllm"
	oallm "github.com/sage-learning/sage/pkg/provider/llm/openai"
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
			fmt.Fprintf(os.Stderr, "sage: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "sage: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("sage starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "sage",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	metrics, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		slog.Error("failed to create metrics", "err", err)
		return 1
	}

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, embedder, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Learning graph store ──────────────────────────────────────────────────
	store, closeStore, err := openStore(ctx, cfg.Graph)
	if err != nil {
		slog.Error("failed to open graph store", "err", err)
		return 1
	}
	defer closeStore()

	// ── Conversation engine ───────────────────────────────────────────────────
	assemblerOpts := []turnctx.Option{}
	if embedder != nil {
		assemblerOpts = append(assemblerOpts, turnctx.WithEmbeddings(embedder))
	}

	extractor := extract.New(provider,
		extract.WithMetrics(metrics),
		extract.WithTimeout(cfg.Dialogue.EffectiveModelCallTimeout()))
	eng, err := engine.New(engine.Config{
		Store:      store,
		Provider:   provider,
		Normalizer: normalize.New(intent.DefaultRegistry(), extractor),
		Prompt:     prompt.NewBuilder(prompt.WithTokenBudget(cfg.Dialogue.EffectivePromptTokenBudget())),
		Assembler:  turnctx.NewAssembler(store, assemblerOpts...),
		Dialogue:   cfg.Dialogue,
		Metrics:    metrics,
		Summariser: session.NewLLMSummariser(provider),
	})
	if err != nil {
		slog.Error("failed to initialise engine", "err", err)
		return 1
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.DialogueChanged {
			eng.SetDialogue(d.NewDialogue)
			slog.Info("dialogue tuning updated")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	apiSrv := api.NewServer(eng)
	apiSrv.Register(mux)
	go apiSrv.RunSessionReaper(ctx, time.Minute)
	health.New(
		health.GraphStore(store),
		health.LLMProvider(provider),
	).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	printStartupSummary(cfg, addr)

	errCh := make(chan error, 1)
	go func() {
		if cfg.Server.TLS != nil {
			errCh <- srv.ListenAndServeTLS(cfg.Server.TLS.CertFile, cfg.Server.TLS.KeyFile)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "err", err)
			return 1
		}
	case <-ctx.Done():
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────
	// openai talks to the API directly; everything else goes through the
	// any-llm adapter with an optional APIKey and BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
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
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	// ── Embeddings ────────────────────────────────────────────────────────────

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildProviders instantiates the completion and embedding providers named in
// cfg. Fallback LLM entries are wrapped behind per-provider circuit breakers.
func buildProviders(cfg *config.Config, reg *config.Registry) (llm.Provider, embeddings.Provider, error) {
	primaryEntry := cfg.Providers.LLM
	if primaryEntry.Name == "" {
		return nil, nil, errors.New("providers.llm.name is required")
	}
	primary, err := reg.CreateLLM(primaryEntry)
	if err != nil {
		return nil, nil, fmt.Errorf("create llm provider %q: %w", primaryEntry.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", primaryEntry.Name, "model", primaryEntry.Model)

	var provider llm.Provider = primary
	if len(cfg.Providers.LLMFallbacks) > 0 {
		group := resilience.NewLLMFallback(primary, primaryEntry.Name, resilience.FallbackConfig{})
		for _, entry := range cfg.Providers.LLMFallbacks {
			fb, err := reg.CreateLLM(entry)
			if err != nil {
				return nil, nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
			}
			group.AddFallback(entry.Name, fb)
			slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
		}
		provider = group
	}

	var embedder embeddings.Provider
	if name := cfg.Providers.Embeddings.Name; name != "" {
		embedder, err = reg.CreateEmbeddings(cfg.Providers.Embeddings)
		if err != nil {
			return nil, nil, fmt.Errorf("create embeddings provider %q: %w", name, err)
		}
		slog.Info("provider created", "kind", "embeddings", "name", name)
	}

	return provider, embedder, nil
}

// openStore connects to the pgvector-backed graph when a DSN is configured,
// otherwise falls back to the in-memory store for development.
func openStore(ctx context.Context, cfg config.GraphConfig) (graph.Store, func(), error) {
	if cfg.PostgresDSN == "" {
		slog.Warn("no postgres_dsn configured — using in-memory graph store, state is lost on restart")
		return memstore.New(), func() {}, nil
	}

	dims := cfg.EmbeddingDimensions
	if dims == 0 {
		dims = 1536
	}
	store, err := pggraph.NewStore(ctx, cfg.PostgresDSN, dims)
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}
	slog.Info("graph store connected", "backend", "postgres", "embedding_dims", dims)
	return store, store.Close, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, addr string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║           SAGE — startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	for _, fb := range cfg.Providers.LLMFallbacks {
		printProvider("LLM fallback", fb.Name, fb.Model)
	}
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	backend := "in-memory"
	if cfg.Graph.PostgresDSN != "" {
		backend = "postgres"
	}
	fmt.Printf("║  Graph store     : %-19s ║\n", backend)
	fmt.Printf("║  Listen addr     : %-19s ║\n", addr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
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
