// Command proctor monitors a participant's microphone during an online exam
// and reports audio anomalies to the exam platform.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/proctor/internal/app"
	"github.com/MrWong99/proctor/internal/backend"
	"github.com/MrWong99/proctor/internal/backend/postgres"
	"github.com/MrWong99/proctor/internal/config"
	"github.com/MrWong99/proctor/internal/observe"
	"github.com/MrWong99/proctor/internal/resilience"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	envFile := flag.String("env", ".env", "path to a dotenv file with secrets")
	quizID := flag.String("quiz", "", "quiz (exam) identifier")
	studentID := flag.String("student", "", "student identifier")
	consent := flag.String("consent", string(consentAsk), "consent mode: ask, accept or decline")
	flag.Parse()

	mode := consentMode(*consent)
	if !mode.IsValid() {
		fmt.Fprintf(os.Stderr, "proctor: invalid -consent %q; valid values: ask, accept, decline\n", *consent)
		return 2
	}

	// ── Load configuration ────────────────────────────────────────────────────
	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "proctor: %v\n", err)
		return 1
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "proctor: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "proctor: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(app.SlogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("proctor starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	prov, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := prov.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Backend registry ──────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinBackends(reg, metrics)

	// ── Application ───────────────────────────────────────────────────────────
	host := newConsoleHost(os.Stdout)
	id := app.Identity{QuizID: *quizID, StudentID: *studentID}
	application, err := app.New(ctx, cfg, id, host,
		app.WithRegistry(reg),
		app.WithMetrics(metrics),
		app.WithMetricsHandler(prov.Handler()),
		app.WithLogLevel(level),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, application.Reload)
	if err != nil {
		slog.Warn("config hot reload disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg, id, mode)

	// ── Run ───────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return application.Run(gctx) })
	g.Go(func() error { return monitor(gctx, application.Controller(), host, mode, os.Stdin) })
	runErr := g.Wait()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}

	switch {
	case runErr == nil, errors.Is(runErr, errDeclined):
		slog.Info("goodbye")
		return 0
	default:
		slog.Error("run error", "err", runErr)
		return 1
	}
}

// ── Backend wiring ────────────────────────────────────────────────────────────

// registerBuiltinBackends wires the http and postgres backends into reg. The
// "none" backend is pre-registered by [config.NewRegistry].
func registerBuiltinBackends(reg *config.Registry, metrics *observe.Metrics) {
	reg.RegisterBackend(config.BackendHTTP, func(_ context.Context, bc config.BackendConfig) (backend.Client, func(), error) {
		c, err := backend.NewHTTPClient(backend.HTTPConfig{
			BaseURL: bc.BaseURL,
			Token:   bc.Token,
			Timeout: bc.Timeout,
			Breaker: resilience.CircuitBreakerConfig{
				Name:         "backend",
				MaxFailures:  bc.Breaker.MaxFailures,
				ResetTimeout: bc.Breaker.ResetTimeout,
				HalfOpenMax:  bc.Breaker.HalfOpenMax,
			},
			Metrics: metrics,
		})
		if err != nil {
			return nil, nil, err
		}
		return c, nil, nil
	})

	reg.RegisterBackend(config.BackendPostgres, func(ctx context.Context, bc config.BackendConfig) (backend.Client, func(), error) {
		store, err := postgres.NewStore(ctx, bc.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	})
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, id app.Identity, mode consentMode) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        Proctor - startup summary      ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Quiz", id.QuizID)
	printRow("Student", id.StudentID)
	printRow("Backend", string(cfg.Backend.Kind))
	printRow("Microphone", orDefault(cfg.Capture.Device, "(system default)"))
	printRow("Interval", cfg.Analysis.Interval.String())
	printRow("Cooldown", cfg.Detection.Cooldown.String())
	printRow("Consent", string(mode))
	if cfg.Server.ListenAddr != "" {
		printRow("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", label, value)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
