package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sourcegraph/conc"
	"github.com/suPer8Hu/city-searcher/internal/chat"
	"github.com/suPer8Hu/city-searcher/internal/config"
	"github.com/suPer8Hu/city-searcher/internal/db"
	"github.com/suPer8Hu/city-searcher/internal/dispatch"
	"github.com/suPer8Hu/city-searcher/internal/logger"
	"github.com/suPer8Hu/city-searcher/internal/search"
	"github.com/suPer8Hu/city-searcher/internal/store/rabbitmq"
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

	if cfg.RabbitURL == "" {
		log.Fatal("RABBIT_URL is required for the worker")
	}

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatal("db connect", zap.Error(err))
	}
	repo := chat.NewRepo(gdb)
	proc := dispatch.NewProcessor(repo, search.NewClient(cfg.SearchBaseURL, cfg.SearchTimeout), log.Named("dispatch"))

	// retries are published on their own connection
	retries, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatal("rabbit publisher", zap.Error(err))
	}
	defer retries.Close()

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatal("rabbit dial", zap.Error(err))
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatal("rabbit channel", zap.Error(err))
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatal("queue declare", zap.Error(err))
	}

	//  strict concurrency control
	concurrency := cfg.WorkerConcurrency

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatal("qos", zap.Error(err))
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatal("consume", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("worker started", zap.String("queue", cfg.RabbitQueue), zap.Int("concurrency", concurrency))

	w := &worker{
		proc:        proc,
		retries:     retries,
		maxAttempts: cfg.DispatchMaxAttempts,
		retryDelay:  cfg.DispatchRetryDelay,
		log:         log,
	}

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg conc.WaitGroup
	for i := 0; i < concurrency; i++ {
		workerID := i
		wg.Go(func() {
			for d := range jobs {
				w.handle(workerID, d)
			}
		})
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Info("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Error("delivery channel closed")
				close(jobs)
				wg.Wait()
				return
			}
			jobs <- d
		}
	}
}
