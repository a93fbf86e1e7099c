package schedule

import (
	"context"
	"database/sql"
	"time"

	"github.com/rs/zerolog/log"

	"gorq/internal/broker"
	"gorq/internal/codec"
	"gorq/internal/domain"
	"gorq/internal/tasks"
)

// Engine materializes due schedules into tasks. It is meant to run from
// a single coordinator process; firing from several processes at once
// can duplicate task creation.
type Engine struct {
	db       *sql.DB
	store    *Store
	tasks    *tasks.Store
	broker   *broker.Broker
	cod      *codec.Codec
	queueKey string
	interval time.Duration
	stop     chan struct{}
}

func NewEngine(db *sql.DB, store *Store, ts *tasks.Store, b *broker.Broker, cod *codec.Codec, queueKey string, interval time.Duration) *Engine {
	return &Engine{
		db: db, store: store, tasks: ts, broker: b, cod: cod,
		queueKey: queueKey, interval: interval, stop: make(chan struct{}),
	}
}

// Start ticks until the context is cancelled, firing everything due.
func (e *Engine) Start(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", e.interval).Msg("schedule engine started")

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.stop:
			return
		case now := <-ticker.C:
			e.fireDue(ctx, now.UTC())
		}
	}
}

func (e *Engine) Stop() { close(e.stop) }

func (e *Engine) fireDue(ctx context.Context, now time.Time) {
	due, err := e.store.Due(ctx, now)
	if err != nil {
		log.Error().Err(err).Msg("failed to get due schedules")
		return
	}
	for _, s := range due {
		if _, err := e.Fire(ctx, s, now); err != nil {
			log.Error().Err(err).Int64("schedule_id", s.ID).Str("func", s.Func).
				Msg("failed to fire schedule")
		}
	}
}

// Fire spawns one task from a schedule. The task row, the broker row,
// the spawned-task link, the repeat decrement and the next_run advance
// are committed in a single transaction: a crash mid-fire leaves the
// schedule exactly as it was, to be fired again on the next tick.
func (e *Engine) Fire(ctx context.Context, s domain.Schedule, now time.Time) (domain.Task, error) {
	if s.Inert() {
		return domain.Task{}, &domain.ValidationError{Field: "repeats", Reason: "schedule has no firings left"}
	}

	args, err := ParseArgs(s.Args)
	if err != nil {
		return domain.Task{}, err
	}
	kwargs, err := ParseKwargs(s.Kwargs)
	if err != nil {
		return domain.Task{}, err
	}

	id := tasks.NewID()
	name := s.Name
	if name == "" {
		name = id
	}
	payload, err := e.cod.EncodePayload(codec.Payload{
		ID: id, Name: name, Func: s.Func, Args: args, Kwargs: kwargs,
	})
	if err != nil {
		return domain.Task{}, err
	}
	encArgs, err := e.cod.EncodeResult(args)
	if err != nil {
		return domain.Task{}, err
	}
	encKwargs, err := e.cod.EncodeResult(kwargs)
	if err != nil {
		return domain.Task{}, err
	}

	next, hasNext, err := Next(s.Recur, s.NextRun, now)
	if err != nil {
		return domain.Task{}, err
	}
	repeats := s.Repeats
	if !hasNext {
		repeats = 0
		next = s.NextRun
	} else if repeats > 0 {
		repeats--
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.tasks.CreateTx(ctx, tx, domain.Task{
		ID: id, Name: name, Func: s.Func, Hook: s.Hook,
		Args: encArgs, Kwargs: encKwargs, Group: s.Group,
		CreatedAt: now,
	})
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := e.broker.EnqueueTx(ctx, tx, e.queueKey, payload); err != nil {
		return domain.Task{}, err
	}
	if err := e.store.markFired(ctx, tx, s.ID, t.ID, repeats, next); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}

	log.Info().Int64("schedule_id", s.ID).Str("task_id", t.ID).
		Time("next_run", next).Int("repeats", repeats).Msg("schedule fired")
	return t, nil
}
