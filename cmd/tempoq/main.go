package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"tempoq/internal/api"
	"tempoq/internal/config"
	"tempoq/internal/dispatch"
	"tempoq/internal/executor"
	"tempoq/internal/scheduler"
	"tempoq/internal/store"
	"tempoq/internal/task"
	"tempoq/internal/user"
)

func main() {
	var (
		cfgPath      = flag.String("config", "", "path to YAML config file")
		addr         = flag.String("addr", "", "HTTP bind address (overrides config)")
		storeBackend = flag.String("store", "", "store backend: redis, sqlite or memory (overrides config)")
		poll         = flag.Duration("poll", 0, "dispatcher poll interval (overrides config)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if *addr != "" {
		cfg.Addr = *addr
	}
	if *storeBackend != "" {
		cfg.Store = *storeBackend
	}
	if *poll > 0 {
		cfg.PollInterval = *poll
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "dev-only-secret"
		log.Warn().Msg("jwt_secret not set, using an insecure development secret")
	}

	kv, ix, closeStore, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	defer func() { _ = closeStore() }()

	tasks := task.NewRepository(kv, ix, log.Logger)
	schedules := scheduler.New(kv, ix, tasks, log.Logger)
	users := user.NewService(kv, []byte(cfg.JWTSecret), cfg.TokenTTL, log.Logger)

	registry := executor.NewRegistry(log.Logger)
	registry.Register("log", executor.Log{Logger: log.Logger})
	registry.Register("email", executor.Email{Logger: log.Logger})

	ctx, cancel := context.WithCancel(context.Background())
	disp := dispatch.New(tasks, schedules, registry, cfg.PollInterval, cfg.Retention, log.Logger)
	go disp.Run(ctx)

	srv := &http.Server{Addr: cfg.Addr, Handler: api.NewServer(tasks, schedules, users, log.Logger)}
	go func() {
		log.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	disp.Stop()
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}

func openStore(cfg config.Config) (store.Store, store.Index, func() error, error) {
	switch cfg.Store {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis at %s: %w", cfg.Redis.Addr, err)
		}
		s := store.NewRedis(rdb)
		return s, s, rdb.Close, nil
	case "sqlite":
		dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.SQLitePath)
		db, err := sql.Open("sqlite", dsn)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		db.SetMaxOpenConns(1) // SQLite single writer
		if err := store.EnsureSchema(db); err != nil {
			return nil, nil, nil, fmt.Errorf("ensure schema: %w", err)
		}
		s := store.NewSQLite(db)
		return s, s, db.Close, nil
	case "memory":
		log.Warn().Msg("memory store is not durable, for development only")
		m := store.NewMemory()
		return m, m, func() error { return nil }, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store)
}
