package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// ErrMissingSearchURL is returned by Load when no search backend base URL is configured.
var ErrMissingSearchURL = errors.New("config: SEARCH_API_BASE_URL is required")

type Config struct {
	HTTPAddr string
	DBDSN    string

	SeedCitiesFile string

	// search backend
	SearchBaseURL string
	SearchTimeout time.Duration

	// dispatch
	DispatchMaxAttempts int
	DispatchRetryDelay  time.Duration
	WorkerConcurrency   int
	SweepInterval       time.Duration
	SweepAge            time.Duration

	WatchInterval time.Duration

	// rabbitMQ, empty URL dispatches in-process
	RabbitURL   string
	RabbitQueue string

	// redis, empty addr disables idempotency keys
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	CallbackSecret string
	CORSOrigins    []string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; real environment variables win.
func Load() (Config, error) {
	_ = godotenv.Load()

	searchURL := os.Getenv("SEARCH_API_BASE_URL")
	if searchURL == "" {
		searchURL = os.Getenv("FLASK_SERVER_URL")
	}
	searchURL = strings.TrimRight(strings.TrimSpace(searchURL), "/")
	if searchURL == "" {
		return Config{}, ErrMissingSearchURL
	}

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = "sqlite:./data/citysearch.db"
	}

	rabbitQueue := os.Getenv("RABBIT_QUEUE")
	if rabbitQueue == "" {
		rabbitQueue = "search_dispatch"
	}

	origins := []string{"*"}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		origins = origins[:0]
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	concurrency := envInt("WORKER_CONCURRENCY", 2)
	if concurrency <= 0 {
		concurrency = 2
	}
	if concurrency > 50 {
		concurrency = 50
	}

	attempts := envInt("DISPATCH_MAX_ATTEMPTS", 3)
	if attempts <= 0 {
		attempts = 1
	}

	return Config{
		HTTPAddr: envString("HTTP_ADDR", ":8080"),
		DBDSN:    dsn,

		SeedCitiesFile: os.Getenv("SEED_CITIES_FILE"),

		SearchBaseURL: searchURL,
		SearchTimeout: envDuration("SEARCH_TIMEOUT", 30*time.Second),

		DispatchMaxAttempts: attempts,
		DispatchRetryDelay:  envDuration("DISPATCH_RETRY_DELAY", 5*time.Second),
		WorkerConcurrency:   concurrency,
		SweepInterval:       envDuration("SWEEP_INTERVAL", time.Minute),
		SweepAge:            envDuration("SWEEP_AGE", time.Minute),

		WatchInterval: envDuration("WATCH_INTERVAL", 10*time.Second),

		RabbitURL:   os.Getenv("RABBIT_URL"),
		RabbitQueue: rabbitQueue,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       envInt("REDIS_DB", 0),

		CallbackSecret: os.Getenv("CALLBACK_SECRET"),
		CORSOrigins:    origins,

		LogLevel:  envString("LOG_LEVEL", "info"),
		LogFormat: envString("LOG_FORMAT", "json"),
	}, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return def
}
