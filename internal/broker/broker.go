// Package broker is the durable mailbox between producers and workers.
// Rows are claimed with an atomic lock so each one is handed to at most
// one concurrent worker; locks older than the reclaim timeout make the
// row claimable again, which is what recovers work from crashed workers.
package broker

import (
	"context"
	"database/sql"
	"time"

	"gorq/internal/domain"
	"gorq/internal/storage"
)

// Broker reads and writes the ormq table. Reclaim must exceed the
// worst-case task runtime: too short and a slow task still executing can
// be claimed a second time, too long and crash recovery is delayed.
type Broker struct {
	db      *sql.DB
	reclaim time.Duration
}

func New(db *sql.DB, reclaim time.Duration) *Broker {
	return &Broker{db: db, reclaim: reclaim}
}

// Enqueue appends an unlocked row. Duplicate payloads are legal.
func (b *Broker) Enqueue(ctx context.Context, key, payload string) (int64, error) {
	return b.EnqueueTx(ctx, b.db, key, payload)
}

// EnqueueTx is Enqueue inside a caller-owned transaction, used by the
// schedule engine to make fire effects atomic.
func (b *Broker) EnqueueTx(ctx context.Context, e storage.Execer, key, payload string) (int64, error) {
	res, err := e.ExecContext(ctx,
		`INSERT INTO ormq (key, payload, lock) VALUES (?, ?, NULL)`, key, payload)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Claim atomically takes ownership of the oldest eligible row for key.
// Eligible means never locked, or locked longer ago than the reclaim
// timeout. The lock is set in the same transaction that selected the
// row, and the UPDATE re-checks the eligibility predicate, so two
// concurrent claims can never return the same row. An empty queue
// returns ok=false with no error; it is the normal idle outcome.
func (b *Broker) Claim(ctx context.Context, key string, now time.Time) (domain.Message, bool, error) {
	cutoff := storage.UnixNano(now.Add(-b.reclaim))
	lock := storage.UnixNano(now)

	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return domain.Message{}, false, err
	}
	defer tx.Rollback()

	var (
		id      int64
		payload string
	)
	err = tx.QueryRowContext(ctx, `
SELECT id, payload FROM ormq
WHERE key = ? AND (lock IS NULL OR lock <= ?)
ORDER BY id
LIMIT 1`, key, cutoff).Scan(&id, &payload)
	if err == sql.ErrNoRows {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, err
	}

	res, err := tx.ExecContext(ctx, `
UPDATE ormq SET lock = ?
WHERE id = ? AND (lock IS NULL OR lock <= ?)`, lock, id, cutoff)
	if err != nil {
		return domain.Message{}, false, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return domain.Message{}, false, err
	} else if n == 0 {
		// Lost the race to another claimer; treat as empty and let the
		// caller poll again.
		return domain.Message{}, false, nil
	}

	if err := tx.Commit(); err != nil {
		return domain.Message{}, false, err
	}
	return domain.Message{ID: id, Key: key, Payload: payload, LockedAt: storage.Time(lock)}, true, nil
}

// Ack permanently removes a processed row. If the row's lock no longer
// matches the claim (it expired and was reclaimed, or the row is gone)
// the caller gets ErrNotOwned rather than a silent success.
func (b *Broker) Ack(ctx context.Context, m domain.Message) error {
	res, err := b.db.ExecContext(ctx,
		`DELETE FROM ormq WHERE id = ? AND lock = ?`, m.ID, storage.UnixNano(m.LockedAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrNotOwned
	}
	return nil
}

// Fail disposes of a claimed row after an execution failure. With
// requeue the lock is cleared so the row is claimable again at its
// original queue position; without it the row is deleted. Ownership is
// checked the same way as Ack.
func (b *Broker) Fail(ctx context.Context, m domain.Message, requeue bool) error {
	q := `DELETE FROM ormq WHERE id = ? AND lock = ?`
	if requeue {
		q = `UPDATE ormq SET lock = NULL WHERE id = ? AND lock = ?`
	}
	res, err := b.db.ExecContext(ctx, q, m.ID, storage.UnixNano(m.LockedAt))
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrNotOwned
	}
	return nil
}

// Size reports the number of rows queued under key, locked or not.
func (b *Broker) Size(ctx context.Context, key string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM ormq WHERE key = ?`, key).Scan(&n)
	return n, err
}

// Purge drops every row under key and returns how many were removed.
func (b *Broker) Purge(ctx context.Context, key string) (int, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM ormq WHERE key = ?`, key)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}
