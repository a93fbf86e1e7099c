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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"gorq/internal/broker"
	"gorq/internal/cluster"
	"gorq/internal/codec"
	"gorq/internal/handlers/httpcall"
	"gorq/internal/handlers/shell"
	"gorq/internal/monitor"
	"gorq/internal/producer"
	"gorq/internal/registry"
	"gorq/internal/schedule"
	"gorq/internal/storage"
	"gorq/internal/tasks"
)

func main() {
	var (
		addr        = flag.String("addr", ":8080", "HTTP bind address")
		dbPath      = flag.String("db", "gorq.db", "SQLite DB path")
		workers     = flag.Int("workers", 8, "number of worker goroutines")
		poll        = flag.Duration("poll", 250*time.Millisecond, "poll interval for queue claims")
		reclaim     = flag.Duration("reclaim", 5*time.Minute, "stale lock reclaim timeout; must exceed the longest task runtime")
		queueKey    = flag.String("queue-key", "default", "broker queue partition key")
		clusterType = flag.String("cluster-type", "", "cluster affinity tag")
		schedEvery  = flag.Duration("schedule-interval", 30*time.Second, "schedule engine check interval")
		taskTimeout = flag.Duration("task-timeout", time.Minute, "per-task execution timeout")
		hookTimeout = flag.Duration("hook-timeout", 10*time.Second, "bounded wait for completion hooks")
		secret      = flag.String("secret", "", "payload signing secret (falls back to GORQ_SECRET)")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	key := *secret
	if key == "" {
		key = os.Getenv("GORQ_SECRET")
	}
	if key == "" {
		log.Fatal().Msg("a signing secret is required (-secret or GORQ_SECRET)")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)", *dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := storage.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	cod := codec.New(key)
	brk := broker.New(db, *reclaim)
	store := tasks.New(db, cod)
	schedStore := schedule.NewStore(db)
	liveness := cluster.NewLiveness(db)
	push := producer.New(db, store, brk, cod, *queueKey)

	reg := registry.New()
	reg.Register("shell.run", shell.Run)
	reg.Register("http.request", httpcall.Request)
	store.OnTerminal(tasks.HookSubscriber(reg, *hookTimeout))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cl := cluster.New(brk, store, reg, cod, liveness, cluster.Options{
		QueueKey:    *queueKey,
		ClusterType: *clusterType,
		Workers:     *workers,
		Poll:        *poll,
		TaskTimeout: *taskTimeout,
	})
	go func() {
		if err := cl.Run(ctx); err != nil {
			log.Fatal().Err(err).Msg("cluster")
		}
	}()

	engine := schedule.NewEngine(db, schedStore, store, brk, cod, *queueKey, *schedEvery)
	go engine.Start(ctx)

	srv := &http.Server{Addr: *addr, Handler: monitor.NewServer(store, schedStore, brk, push, liveness, *queueKey)}
	go func() {
		log.Info().Str("addr", *addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")
	cancel()
	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = srv.Shutdown(ctxTimeout)
}
