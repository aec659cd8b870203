package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/specforge/internal/api"
	"github.com/kalambet/specforge/internal/assistant"
	"github.com/kalambet/specforge/internal/config"
	"github.com/kalambet/specforge/internal/embedding"
	"github.com/kalambet/specforge/internal/learning"
	"github.com/kalambet/specforge/internal/llm"
	"github.com/kalambet/specforge/internal/ollama"
	"github.com/kalambet/specforge/internal/patterns"
	"github.com/kalambet/specforge/internal/planner"
	"github.com/kalambet/specforge/internal/progress"
	"github.com/kalambet/specforge/internal/storage"
	"github.com/kalambet/specforge/internal/storage/postgres"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the specforge HTTP server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show specforge system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the MCP tools over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCP()
	},
}

// primaryStore is what a database driver provides: learned preferences,
// patterns and schema management.
type primaryStore interface {
	learning.Primary
	patterns.Store
	api.SchemaIniter
	Close() error
}

// app holds the wired components shared by the HTTP and MCP front ends.
type app struct {
	cfg        config.Config
	planner    *planner.Planner
	sessions   *progress.Sessions
	assistant  *assistant.Assistant
	learning   *learning.Store
	patterns   *patterns.Service
	extractor  *patterns.Extractor
	backfiller *patterns.Backfiller
	schema     api.SchemaIniter
	closers    []func() error
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closing component", "error", err)
		}
	}
}

// openPrimary opens the store selected by storage.driver. It returns nil
// when no primary database is configured.
func openPrimary(ctx context.Context, cfg config.Config) (primaryStore, error) {
	switch cfg.Storage.Driver {
	case "sqlite":
		s, err := storage.Open(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return s, nil
	case "postgres":
		if cfg.Storage.DatabaseURL == "" {
			return nil, nil
		}
		s, err := postgres.Open(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("opening postgres store: %w", err)
		}
		return s, nil
	default:
		return nil, nil
	}
}

// newLLMClient picks the chat backend. Progress from pulling Ollama models
// goes to w.
func newLLMClient(ctx context.Context, cfg config.Config, w io.Writer) (llm.Client, error) {
	if cfg.LLM.Mock {
		return llm.Mock(), nil
	}
	if cfg.LLM.Provider == "ollama" {
		c := ollama.New(cfg.Ollama.BaseURL)
		models := []string{cfg.Ollama.ChatModel}
		if cfg.Embed.Provider == "ollama" {
			models = append(models, cfg.Ollama.EmbedModel)
		}
		if err := ollama.EnsureReady(ctx, c, w, models...); err != nil {
			return nil, err
		}
		return llm.NewOllama(c, cfg.Ollama.ChatModel), nil
	}
	return llm.NewOpenAI(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model), nil
}

func buildApp(ctx context.Context, cfg config.Config, w io.Writer) (*app, error) {
	a := &app{cfg: cfg, sessions: progress.NewSessions()}

	primary, err := openPrimary(ctx, cfg)
	if err != nil {
		return nil, err
	}

	var lp learning.Primary
	var health *learning.HealthChecker
	patternStore := patterns.Store(primary)
	if primary != nil {
		a.closers = append(a.closers, primary.Close)
		lp = primary
		health = learning.NewHealthChecker(primary.Ping, cfg.Storage.HealthIntervalDuration())
		a.schema = primary
	} else {
		// Patterns have no file fallback; keep them in memory for this run.
		slog.Warn("no primary database configured, learned preferences use the JSON fallback and patterns are not persisted",
			"fallback", cfg.Storage.FallbackPath())
		mem, err := storage.Open(":memory:")
		if err != nil {
			return nil, fmt.Errorf("opening in-memory pattern store: %w", err)
		}
		a.closers = append(a.closers, mem.Close)
		patternStore = mem
	}
	a.learning = learning.NewStore(lp, health, learning.NewFileStore(cfg.Storage.FallbackPath()))

	emb, err := embedding.FromConfig(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("creating embedder: %w", err)
	}
	slog.Info("embedder ready", "embedder", emb.Name())

	client, err := newLLMClient(ctx, cfg, w)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.patterns = patterns.NewService(patternStore, emb, cfg.Patterns.ReinforceByName)
	a.backfiller = patterns.NewBackfiller(patternStore, emb, 0, cfg.Patterns.BackfillIntervalDuration())
	a.extractor = patterns.NewExtractor(client, a.patterns)
	a.planner = planner.New(client, nil, cfg.LLM.Mock)
	a.assistant = assistant.New(client, a.learning, 0)
	return a, nil
}

func loadConfigAndLogging() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Log.SlogLevel()})))
	return cfg, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "specforge version %s\n", version)

	cfg, err := loadConfigAndLogging()
	if err != nil {
		return err
	}

	apiToken, err := config.APIToken(cfg)
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		printWarning("specforge is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	handler := api.NewAppHandler(api.AppDeps{
		Token:         apiToken,
		Planner:       a.planner,
		Sessions:      a.sessions,
		Assistant:     a.assistant,
		Learning:      a.learning,
		Patterns:      a.patterns,
		Extractor:     a.extractor,
		Backfiller:    a.backfiller,
		Schema:        a.schema,
		MinSimilarity: cfg.Patterns.MinSimilarity,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: handler,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go a.backfiller.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "specforge listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// runMCP serves the tools on stdin/stdout. Nothing else may write to
// stdout while it runs.
func runMCP() error {
	cfg, err := loadConfigAndLogging()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	go a.backfiller.Run(ctx)

	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Planner:       a.planner,
		Sessions:      a.sessions,
		Assistant:     a.assistant,
		Learning:      a.learning,
		Patterns:      a.patterns,
		MinSimilarity: cfg.Patterns.MinSimilarity,
	}, version)
	slog.Info("MCP server started (stdio transport)")

	err = server.NewStdioServer(mcpSrv).Listen(ctx, os.Stdin, os.Stdout)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("MCP stdio server: %w", err)
	}
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	switch {
	case cfg.LLM.Mock:
		printStatus("LLM", "mock")
	case cfg.LLM.Provider == "ollama":
		state := "not running"
		if ollama.New(cfg.Ollama.BaseURL).IsRunning(ctx) {
			state = "running"
		}
		printStatus("LLM", "ollama %s at %s (%s)", cfg.Ollama.ChatModel, cfg.Ollama.BaseURL, state)
	default:
		printStatus("LLM", "%s via %s", cfg.LLM.Model, cfg.LLM.BaseURL)
	}
	printStatus("Embeddings", "%s", cfg.Embed.Provider)
	printStatus("Storage", "%s", cfg.Storage.Driver)

	if running {
		if token, err := config.APIToken(cfg); err == nil {
			c := &apiClient{baseURL: serverURL, token: token, httpClient: client}
			printServerCounts(ctx, c)
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// printServerCounts reports primary-store health and how much has been
// learned so far. Failures are skipped silently.
func printServerCounts(ctx context.Context, c *apiClient) {
	if resp, err := c.get(ctx, "/db/status"); err == nil {
		var st learning.Status
		if decodeJSON(resp, &st) == nil {
			printStatus("Database", "%s", st.Message)
		}
	}
	if resp, err := c.get(ctx, "/preferences"); err == nil {
		var prefs []learning.LearnedPreference
		if decodeJSON(resp, &prefs) == nil {
			printStatus("Preferences", "%d", len(prefs))
		}
	}
	if resp, err := c.get(ctx, "/patterns?limit=100"); err == nil {
		var res patternsResponse
		if decodeJSON(resp, &res) == nil {
			printStatus("Patterns", "%s", countLabel(res.Count, 100))
		}
	}
}
