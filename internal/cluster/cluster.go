// Package cluster runs the worker pool: a set of workers polling the
// broker for claims, executing registered functions and writing the
// outcome into the task store. Each claimed row belongs to its worker
// until ack or lock expiry; the only inter-worker coordination is the
// broker's atomic claim.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"gorq/internal/broker"
	"gorq/internal/codec"
	"gorq/internal/domain"
	"gorq/internal/registry"
	"gorq/internal/tasks"
)

// Options configures a cluster. TaskTimeout bounds a single execution
// and should stay below the broker's reclaim timeout, otherwise a slow
// task can be claimed a second time while still running.
type Options struct {
	QueueKey    string
	ClusterType string
	Workers     int
	Poll        time.Duration
	TaskTimeout time.Duration
	Heartbeat   time.Duration
}

// Cluster owns its liveness record and a fixed set of worker loops.
type Cluster struct {
	id       string
	opts     Options
	broker   *broker.Broker
	tasks    *tasks.Store
	reg      *registry.Table
	cod      *codec.Codec
	liveness *Liveness
	workers  []string
	wg       sync.WaitGroup
}

func New(b *broker.Broker, ts *tasks.Store, reg *registry.Table, cod *codec.Codec, lv *Liveness, opts Options) *Cluster {
	if opts.Workers <= 0 {
		opts.Workers = 4
	}
	if opts.Poll <= 0 {
		opts.Poll = 250 * time.Millisecond
	}
	if opts.Heartbeat <= 0 {
		opts.Heartbeat = 5 * time.Second
	}
	return &Cluster{
		id: uuid.NewString(), opts: opts,
		broker: b, tasks: ts, reg: reg, cod: cod, liveness: lv,
	}
}

func (c *Cluster) ID() string { return c.id }

// Run registers the liveness records, starts the workers and the
// heartbeat, and blocks until the context is cancelled. The liveness
// rows are removed on the way out.
func (c *Cluster) Run(ctx context.Context) error {
	now := time.Now().UTC()
	hostname, _ := os.Hostname()
	err := c.liveness.OpenCluster(ctx, domain.Cluster{
		ID: c.id, StartedAt: now, HeartbeatAt: now,
		Hostname: hostname, PID: os.Getpid(), ClusterType: c.opts.ClusterType,
	})
	if err != nil {
		return fmt.Errorf("register cluster: %w", err)
	}

	for i := 0; i < c.opts.Workers; i++ {
		wid := uuid.NewString()
		if err := c.liveness.OpenWorker(ctx, domain.Worker{
			ID: wid, ClusterID: c.id, PID: os.Getpid(),
			StartedAt: now, HeartbeatAt: now,
		}); err != nil {
			return fmt.Errorf("register worker: %w", err)
		}
		c.workers = append(c.workers, wid)
		c.wg.Add(1)
		go c.workerLoop(ctx, wid)
	}

	log.Info().Str("cluster_id", c.id).Int("workers", c.opts.Workers).
		Str("queue_key", c.opts.QueueKey).Msg("cluster started")

	hb := time.NewTicker(c.opts.Heartbeat)
	defer hb.Stop()
	for {
		select {
		case <-ctx.Done():
			c.wg.Wait()
			// Background context: the run context is already cancelled.
			cctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := c.liveness.CloseCluster(cctx, c.id); err != nil {
				log.Error().Err(err).Msg("failed to deregister cluster")
			}
			return nil
		case now := <-hb.C:
			if err := c.liveness.Heartbeat(ctx, c.id, now.UTC()); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

func (c *Cluster) workerLoop(ctx context.Context, wid string) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.Poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			// Drain everything claimable before going back to sleep.
			for {
				m, ok, err := c.broker.Claim(ctx, c.opts.QueueKey, now.UTC())
				if err != nil {
					if ctx.Err() == nil {
						log.Error().Err(err).Msg("claim failed")
					}
					break
				}
				if !ok {
					break
				}
				c.process(ctx, wid, m)
			}
		}
	}
}

// process runs one claimed message through the task lifecycle. Failures
// are captured into the task record; nothing here panics the worker.
func (c *Cluster) process(ctx context.Context, wid string, m domain.Message) {
	p, err := c.cod.DecodePayload(m.Payload)
	if err != nil {
		// Tampered or corrupt blob: the task id is unreadable, so there
		// is no record to fail. Drop the row and log.
		log.Error().Err(err).Int64("queue_id", m.ID).Msg("discarding undecodable payload")
		c.dispose(ctx, m, false)
		return
	}

	switch err := c.tasks.Begin(ctx, p.ID, time.Now().UTC()); {
	case errors.Is(err, domain.ErrTerminal):
		// Duplicate delivery of a finished task; nothing to do.
		c.dispose(ctx, m, false)
		return
	case errors.Is(err, domain.ErrNotFound):
		// The pending row was deleted before we claimed it.
		c.dispose(ctx, m, false)
		return
	case err != nil:
		log.Error().Err(err).Str("task_id", p.ID).Msg("failed to begin task")
		c.dispose(ctx, m, true)
		return
	}

	if err := c.liveness.SetWorkerTask(ctx, wid, p.ID); err != nil {
		log.Error().Err(err).Str("worker_id", wid).Msg("failed to record worker task")
	}

	status := domain.StatusSuccess
	out := c.execute(ctx, p)
	if out.err != nil {
		status = domain.StatusFailed
	}
	result, err := c.encodeOutcome(out)
	if err != nil {
		log.Error().Err(err).Str("task_id", p.ID).Msg("failed to encode result")
		status = domain.StatusFailed
	}

	if err := c.tasks.Complete(ctx, p.ID, status, result, time.Now().UTC()); err != nil {
		if errors.Is(err, domain.ErrTerminal) {
			log.Warn().Str("task_id", p.ID).Msg("task completed elsewhere, dropping result")
		} else {
			log.Error().Err(err).Str("task_id", p.ID).Msg("failed to complete task")
		}
	}

	c.dispose(ctx, m, false)
	if err := c.liveness.SetWorkerTask(ctx, wid, ""); err != nil {
		log.Error().Err(err).Str("worker_id", wid).Msg("failed to clear worker task")
	}
}

type outcome struct {
	value any
	err   error
}

// execute resolves and runs the task function under the task timeout,
// converting panics into failures.
func (c *Cluster) execute(ctx context.Context, p codec.Payload) (out outcome) {
	fn, err := c.reg.Resolve(p.Func)
	if err != nil {
		return outcome{err: err}
	}
	runCtx := ctx
	if c.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, c.opts.TaskTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			out = outcome{err: fmt.Errorf("task panicked: %v", r)}
		}
	}()
	v, err := fn(runCtx, p.Args, p.Kwargs)
	return outcome{value: v, err: err}
}

func (c *Cluster) encodeOutcome(out outcome) ([]byte, error) {
	if out.err != nil {
		return c.cod.EncodeResult(out.err.Error())
	}
	return c.cod.EncodeResult(out.value)
}

// dispose acks or requeues a message, logging the reclaimed-lock case.
func (c *Cluster) dispose(ctx context.Context, m domain.Message, requeue bool) {
	var err error
	if requeue {
		err = c.broker.Fail(ctx, m, true)
	} else {
		err = c.broker.Ack(ctx, m)
	}
	if errors.Is(err, domain.ErrNotOwned) {
		log.Warn().Int64("queue_id", m.ID).
			Msg("lock expired before ack, row was reclaimed")
	} else if err != nil {
		log.Error().Err(err).Int64("queue_id", m.ID).Msg("failed to settle queue row")
	}
}
