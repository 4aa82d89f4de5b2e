package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/okian/vitalrisk/internal/adapters/http/api"
	"github.com/okian/vitalrisk/internal/adapters/http/swagger"
	"github.com/okian/vitalrisk/internal/adapters/mq/publisher"
	"github.com/okian/vitalrisk/internal/adapters/repository"
	app "github.com/okian/vitalrisk/internal/app"
	"github.com/okian/vitalrisk/internal/config"
	"github.com/okian/vitalrisk/internal/domain/scoring"
	"github.com/okian/vitalrisk/pkg/logger"
	"github.com/okian/vitalrisk/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
	defaultConditionWeight    = 0.05
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := logger.Init(); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.Get().Error(ctx, "vitalrisk exited", logger.Error(err))
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	log := logger.Get()
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return err
	}

	opts := []app.Option{
		app.WithLogger(log.Named("service")),
		app.WithStore(store),
		app.WithScorer(buildScorer(cfg)),
		app.WithDedupeSize(cfg.DedupeSize),
		app.WithMaxHistoryLimit(cfg.MaxHistoryLimit),
		app.WithStoreTimeout(cfg.StoreTimeout()),
		app.WithQueueSize(cfg.FeedQueueSize),
		app.WithWorkerCount(cfg.FeedWorkerCount),
	}

	if cfg.FeedEnabled() {
		client, pub, err := buildPublisher(ctx, cfg)
		if err != nil {
			_ = store.Close()
			return err
		}
		defer func() { _ = client.Close() }()
		opts = append(opts, app.WithPublisher(pub))
	}

	svc := app.New(opts...)
	if err := svc.Start(ctx); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	defer svc.Stop()

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(ctx, svc),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr), logger.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// newHandler registers docs and API routes behind CORS.
func newHandler(ctx context.Context, svc *app.Service) http.Handler {
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	api.NewServer(svc, svc).Register(ctx, mux)
	return api.CORS(mux)
}

// buildStore opens the configured store and applies the schema when asked.
func buildStore(ctx context.Context, cfg *config.Config) (repository.Store, error) {
	if cfg.StoreDriver != config.StorePostgres {
		return repository.NewMemoryStore(), nil
	}

	pg, err := repository.OpenPostgres(ctx, cfg.DatabaseURL,
		repository.WithPool(cfg.DBMaxOpenConns, cfg.DBMaxIdleConns),
		repository.WithTimeout(cfg.StoreTimeout()),
	)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if cfg.DBMigrate {
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return pg, nil
}

// buildPublisher connects to Redis and returns a stream publisher.
func buildPublisher(ctx context.Context, cfg *config.Config) (*redis.Client, *publisher.StreamPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	pub := publisher.NewStreamPublisher(client,
		publisher.WithStream(cfg.FeedStream),
		publisher.WithMaxLen(cfg.FeedMaxLen),
	)
	if err := pub.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
	}
	return client, pub, nil
}

// buildScorer applies the configured thresholds to the rule scorer.
func buildScorer(cfg *config.Config) *scoring.RuleScorer {
	weights := cfg.ConditionWeights
	if len(weights) == 0 {
		weights = make(map[string]float64, len(scoring.DefaultConditions))
		for _, c := range scoring.DefaultConditions {
			weights[c] = defaultConditionWeight
		}
	}
	return scoring.NewRuleScorer(
		scoring.WithAgeThresholds(cfg.SeniorAge, cfg.ElderlyAge),
		scoring.WithConditionWeights(weights, cfg.ConditionCap),
	)
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
