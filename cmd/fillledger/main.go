package main

import (
	"FillLedger/internal/core"
	"FillLedger/internal/ingestion"
	"FillLedger/internal/observability"
	"FillLedger/internal/persistence"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config holds all application configuration, loaded from environment
// variables.
type Config struct {
	// NATS
	NATSURL string

	// Postgres sink. Empty disables persistence.
	PostgresURL   string
	MigrationsDir string

	// Recompute passes
	PassInterval time.Duration
	Workers      int

	// Normalization
	AccountID         string
	SourceOffsetHours int

	// HTTP
	MetricsAddr string
	HealthAddr  string
}

func DefaultConfig() Config {
	return Config{
		NATSURL:           envOrDefault("LEDGER_NATS_URL", "nats://localhost:4222"),
		PostgresURL:       envOrDefault("LEDGER_POSTGRES_DSN", ""),
		MigrationsDir:     envOrDefault("LEDGER_MIGRATIONS_DIR", "migrations"),
		PassInterval:      envDurationOrDefault("LEDGER_PASS_INTERVAL", time.Minute),
		Workers:           envIntOrDefault("LEDGER_WORKERS", runtime.NumCPU()),
		AccountID:         envOrDefault("LEDGER_ACCOUNT_ID", ""),
		SourceOffsetHours: envIntOrDefault("LEDGER_SOURCE_OFFSET_HOURS", 7),
		MetricsAddr:       envOrDefault("LEDGER_METRICS_ADDR", ":9091"),
		HealthAddr:        envOrDefault("LEDGER_HEALTH_ADDR", ":8080"),
	}
}

func main() {
	log := observability.NewLogger("main")
	log.Info().Msg("FillLedger starting...")

	cfg := DefaultConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker()

	// --- Postgres sink (optional) ---
	var sink *persistence.Sink
	if cfg.PostgresURL != "" {
		db, err := sql.Open("postgres", cfg.PostgresURL)
		if err != nil {
			log.Fatal().Err(err).Msg("postgres open")
		}
		defer db.Close()

		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.PingContext(ctx); err != nil {
			log.Fatal().Err(err).Msg("postgres ping")
		}
		log.Info().Msg("Postgres connected")

		migrator := persistence.NewMigrator(db, cfg.MigrationsDir, observability.NewLogger("migrator"))
		if err := migrator.Up(ctx); err != nil {
			log.Fatal().Err(err).Msg("run migrations")
		}
		log.Info().Msg("migrations applied")

		sink = persistence.NewSink(db, observability.NewLogger("sink"), metrics)
	} else {
		log.Info().Msg("no Postgres DSN configured, persistence disabled")
	}

	// --- NATS ---
	nc, js, err := ingestion.ConnectNATS(cfg.NATSURL, observability.NewLogger("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("nats connect")
	}
	defer nc.Close()
	log.Info().Msg("NATS connected")

	if err := ingestion.EnsureStreams(ctx, js, observability.NewLogger("nats")); err != nil {
		log.Fatal().Err(err).Msg("ensure NATS streams")
	}

	// --- Raw input logs fed by JetStream ---
	store := ingestion.NewRawStore()
	subscriber := ingestion.NewNATSSubscriber(js, store, observability.NewLogger("subscriber"))
	if err := subscriber.Subscribe(ctx, ingestion.DefaultSubjects()); err != nil {
		log.Fatal().Err(err).Msg("nats subscribe")
	}
	defer subscriber.Close()

	// --- Engine ---
	normalizer := ingestion.NewNormalizer(observability.NewLogger("normalizer"), cfg.AccountID)
	engine := core.NewEngine(cfg.Workers, time.Duration(cfg.SourceOffsetHours)*time.Hour, observability.NewLogger("engine"), metrics)

	// --- HTTP: metrics + health + on-demand pass trigger ---
	passRequests := make(chan struct{}, 1)

	errChan := make(chan error, 2)
	go func() {
		errChan <- serveMetrics(ctx, cfg.MetricsAddr)
	}()
	go func() {
		errChan <- serveHealth(ctx, cfg.HealthAddr, healthChecker, passRequests)
	}()

	// --- Scheduled passes ---
	passLog := observability.NewLogger("pass")
	runPass := func() {
		batch, report := core.BuildInputs(normalizer, store.SnapshotFills(), store.SnapshotFunding(), passLog, metrics)
		res := engine.Run(ctx, batch)
		healthChecker.RecordPass(res.FinishedAt)
		healthChecker.SetReady(true)

		for _, err := range report.SchemaErrors {
			passLog.Error().Err(err).Msg("source skipped this pass")
		}
		if sink != nil {
			if err := sink.WritePass(ctx, res); err != nil {
				passLog.Error().Err(err).Msg("sink write failed, outputs kept in memory only")
			}
		}
	}

	ticker := time.NewTicker(cfg.PassInterval)
	defer ticker.Stop()

	log.Info().
		Str("nats", cfg.NATSURL).
		Str("metrics", cfg.MetricsAddr).
		Str("health", cfg.HealthAddr).
		Dur("pass_interval", cfg.PassInterval).
		Int("workers", cfg.Workers).
		Msg("FillLedger ready")

	runPass()

	for {
		select {
		case <-ticker.C:
			runPass()
		case <-passRequests:
			runPass()
		case sig := <-sigChan:
			log.Info().Str("signal", sig.String()).Msg("shutting down...")
			cancel()
			log.Info().Msg("FillLedger shutdown complete")
			return
		case err := <-errChan:
			log.Error().Err(err).Msg("server failed, shutting down...")
			cancel()
			return
		}
	}
}

// serveMetrics runs the Prometheus endpoint until ctx is cancelled.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return serve(ctx, addr, mux)
}

// serveHealth runs liveness/readiness endpoints and a manual pass trigger.
func serveHealth(
	ctx context.Context,
	addr string,
	hc *observability.HealthChecker,
	passRequests chan<- struct{},
) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", hc.LivenessHandler)
	mux.HandleFunc("/readyz", hc.ReadinessHandler)
	mux.HandleFunc("/passes", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		select {
		case passRequests <- struct{}{}:
			w.WriteHeader(http.StatusAccepted)
		default:
			// A pass is already queued.
			w.WriteHeader(http.StatusConflict)
		}
	})
	return serve(ctx, addr, mux)
}

func serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{Addr: addr, Handler: handler}
	go func() {
		<-ctx.Done()
		shutCtx, c := context.WithTimeout(context.Background(), 5*time.Second)
		defer c()
		srv.Shutdown(shutCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server %s: %w", addr, err)
	}
	return nil
}

// --- Helpers ---

func envOrDefault(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envIntOrDefault(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var i int
	if _, err := fmt.Sscanf(v, "%d", &i); err != nil {
		return defaultVal
	}
	return i
}

func envDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
