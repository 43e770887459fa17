package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
	_ "time/tzdata"

	"connectrpc.com/connect"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kkkkikiki/quote-competition/internal/competition"
	"github.com/kkkkikiki/quote-competition/internal/config"
	"github.com/kkkkikiki/quote-competition/internal/database"
	"github.com/kkkkikiki/quote-competition/internal/ledger"
	"github.com/kkkkikiki/quote-competition/internal/logging"
	"github.com/kkkkikiki/quote-competition/internal/service"
	"github.com/kkkkikiki/quote-competition/internal/workers"
)

func main() {
	ctx := context.Background()

	// Load configuration from environment variables
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(&cfg.App, os.Stdout)
	slog.SetDefault(logger)
	defer logging.Flush()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		logging.Flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting quote competition service",
		"environment", cfg.App.Environment,
		"driver", cfg.Database.Driver,
	)

	// Initialize database connection and schema
	db, err := database.NewDB(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connection", "error", err)
		}
	}()

	if err := database.Migrate(ctx, db.Conn); err != nil {
		return err
	}

	// Domain components
	rewards := ledger.New(db.Conn, nil, nil)
	selector := competition.NewWinnerSelector(db.Conn, rewards, competition.RewardPolicy{
		Currency:   cfg.Competition.WinnerCurrency,
		Experience: cfg.Competition.WinnerExperience,
	}, nil, logger)
	scheduler := competition.NewScheduler(db.Conn, selector, nil, logger)

	competitionService := service.NewCompetitionServer(service.Components{
		Entries:   competition.NewEntryStore(db.Conn, cfg.Competition.EntryMaxLength, nil),
		Voting:    competition.NewVotingService(db.Conn, cfg.Competition.AllowSelfVote, nil),
		Selector:  selector,
		Scheduler: scheduler,
		Ledger:    rewards,
	}, service.NewVoterLimiter(cfg.Competition.VotesPerMinute), logger)

	// Create HTTP mux
	mux := http.NewServeMux()

	path, handler := service.NewCompetitionServiceHandler(competitionService, connect.WithInterceptors(
		service.NewMetricsInterceptor(),
		service.NewTriggerAuthInterceptor(cfg.Competition.TriggerSecret, logger),
	))
	mux.Handle(path, handler)

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		hostname, _ := os.Hostname()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","service":"quote-competition","hostname":"%s"}`, hostname)
	})

	mux.HandleFunc("/health/db", func(w http.ResponseWriter, r *http.Request) {
		if err := db.Conn.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"error","message":"database unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","database":"%s"}`, cfg.Database.Driver)
	})

	mux.Handle("/metrics", promhttp.Handler())

	// The UI polls the read-only procedures from the browser
	corsHandler := cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{
			"Content-Type", "Connect-Protocol-Version", "Connect-Timeout-Ms",
			service.UserIDHeader,
		},
		ExposedHeaders: []string{service.ErrorCodeHeader},
	}).Handler(mux)

	server := &http.Server{
		Addr:           cfg.Server.GetServerAddr(),
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
		// Use h2c so we can serve HTTP/2 without TLS
		Handler: h2c.NewHandler(corsHandler, &http2.Server{
			MaxConcurrentStreams: 1000,
		}),
		ErrorLog: slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	// Background loops
	workerCtx, stopWorkers := context.WithCancel(ctx)
	var wg sync.WaitGroup
	for _, worker := range []func(context.Context){
		workers.NewRotationWorker(scheduler, cfg.Competition.RotateInterval, logger).Run,
		workers.NewBalanceWorker(rewards, cfg.Competition.BalanceInterval, cfg.Competition.BalanceBatch, logger).Run,
	} {
		wg.Add(1)
		go func(run func(context.Context)) {
			defer wg.Done()
			run(workerCtx)
		}(worker)
	}
	defer func() {
		stopWorkers()
		wg.Wait()
	}()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serverErr:
		return fmt.Errorf("failed to start server: %w", err)
	case sig := <-quit:
		logger.Info("shutting down server", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server exited gracefully")
	return nil
}
