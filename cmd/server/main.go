package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/suPer8Hu/city-searcher/internal/chat"
	"github.com/suPer8Hu/city-searcher/internal/config"
	"github.com/suPer8Hu/city-searcher/internal/db"
	"github.com/suPer8Hu/city-searcher/internal/dispatch"
	"github.com/suPer8Hu/city-searcher/internal/httpapi"
	"github.com/suPer8Hu/city-searcher/internal/httpapi/handlers"
	"github.com/suPer8Hu/city-searcher/internal/logger"
	"github.com/suPer8Hu/city-searcher/internal/search"
	"github.com/suPer8Hu/city-searcher/internal/store/rabbitmq"
	"github.com/suPer8Hu/city-searcher/internal/store/redisstore"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal("db migrate", zap.Error(err))
	}
	repo := chat.NewRepo(gdb)

	if cfg.SeedCitiesFile != "" {
		n, err := db.SeedCities(ctx, repo, cfg.SeedCitiesFile)
		if err != nil {
			log.Fatal("seed cities", zap.String("file", cfg.SeedCitiesFile), zap.Error(err))
		}
		log.Info("cities seeded", zap.Int("count", n))
	}

	// dispatch: RabbitMQ when configured, otherwise in-process
	var (
		dispatcher chat.Dispatcher
		local      *dispatch.Local
	)
	if cfg.RabbitURL != "" {
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatal("rabbit publisher", zap.Error(err))
		}
		defer pub.Close()
		dispatcher = pub
		log.Info("dispatching through rabbitmq", zap.String("queue", cfg.RabbitQueue))
	} else {
		searcher := search.NewClient(cfg.SearchBaseURL, cfg.SearchTimeout)
		proc := dispatch.NewProcessor(repo, searcher, log.Named("dispatch"))
		local = dispatch.NewLocal(proc, cfg.DispatchMaxAttempts, cfg.DispatchRetryDelay, log.Named("dispatch"))
		dispatcher = local
		log.Info("dispatching in-process", zap.String("search_url", cfg.SearchBaseURL))
	}

	svc := chat.NewService(repo, dispatcher, log.Named("chat"))

	var idem handlers.IdempotencyStore
	if cfg.RedisAddr != "" {
		rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rds.Ping(pctx)
		cancel()
		if err != nil {
			log.Warn("redis unavailable, idempotency keys disabled", zap.String("addr", cfg.RedisAddr), zap.Error(err))
			_ = rds.Close()
		} else {
			defer rds.Close()
			idem = rds
		}
	}

	h := handlers.NewHandler(svc, idem, log.Named("http"), cfg.WatchInterval)
	router := httpapi.NewRouter(h, cfg, log)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go sweep(ctx, svc, cfg.SweepInterval, cfg.SweepAge, log.Named("sweeper"))

	go func() {
		log.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	if local != nil {
		local.Wait()
	}
	log.Info("bye")
}

// sweep re-sends pending responses whose dispatch never reached the dispatcher.
func sweep(ctx context.Context, svc *chat.Service, interval, age time.Duration, log *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := svc.RedispatchStale(ctx, age)
			if err != nil {
				log.Error("redispatch stale", zap.Error(err))
				continue
			}
			if n > 0 {
				log.Info("redispatched stale responses", zap.Int("count", n))
			}
		}
	}
}
