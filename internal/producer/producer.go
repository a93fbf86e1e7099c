// Package producer is the enqueue side: it creates the pending task
// record and the signed broker row in one transaction, so a task is
// never claimable without a record and never recorded without being
// claimable.
package producer

import (
	"context"
	"database/sql"

	"time"

	"gorq/internal/broker"
	"gorq/internal/codec"
	"gorq/internal/domain"
	"gorq/internal/tasks"
)

// Request describes a task to enqueue. Func is the only required field.
type Request struct {
	Func        string
	Args        []any
	Kwargs      map[string]any
	Name        string
	Group       string
	Hook        string
	ClusterType string
}

type Producer struct {
	db       *sql.DB
	tasks    *tasks.Store
	broker   *broker.Broker
	cod      *codec.Codec
	queueKey string
}

func New(db *sql.DB, ts *tasks.Store, b *broker.Broker, cod *codec.Codec, queueKey string) *Producer {
	return &Producer{db: db, tasks: ts, broker: b, cod: cod, queueKey: queueKey}
}

// Push enqueues a task and returns its record.
func (p *Producer) Push(ctx context.Context, req Request) (domain.Task, error) {
	if req.Func == "" {
		return domain.Task{}, &domain.ValidationError{Field: "func", Reason: "required"}
	}

	id := tasks.NewID()
	name := req.Name
	if name == "" {
		name = id
	}
	payload, err := p.cod.EncodePayload(codec.Payload{
		ID: id, Name: name, Func: req.Func, Args: req.Args, Kwargs: req.Kwargs,
	})
	if err != nil {
		return domain.Task{}, err
	}
	encArgs, err := p.cod.EncodeResult(req.Args)
	if err != nil {
		return domain.Task{}, err
	}
	encKwargs, err := p.cod.EncodeResult(req.Kwargs)
	if err != nil {
		return domain.Task{}, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := p.tasks.CreateTx(ctx, tx, domain.Task{
		ID: id, Name: name, Func: req.Func, Hook: req.Hook,
		Args: encArgs, Kwargs: encKwargs,
		Group: req.Group, ClusterType: req.ClusterType,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := p.broker.EnqueueTx(ctx, tx, p.queueKey, payload); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}
