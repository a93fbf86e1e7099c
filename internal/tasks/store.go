// Package tasks is the durable record of every task's lifecycle:
// pending when enqueued, running once a worker begins, then success or
// failed with the result attached. Terminal rows never change again.
package tasks

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"gorq/internal/codec"
	"gorq/internal/domain"
	"gorq/internal/storage"
)

// NewID returns a fresh 32-character task id (uuid hex, dashes stripped).
func NewID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Store persists task records and notifies terminal-state subscribers.
type Store struct {
	db  *sql.DB
	cod *codec.Codec

	mu   sync.RWMutex
	subs []func(domain.Task)
}

func New(db *sql.DB, cod *codec.Codec) *Store {
	return &Store{db: db, cod: cod}
}

// OnTerminal registers fn to be called once for every task that reaches
// success or failed. Subscribers run after the row is persisted; their
// panics are contained and never reach the caller of Complete.
func (s *Store) OnTerminal(fn func(domain.Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

const taskCols = `id, name, func, hook, args, kwargs, result, grp, cluster_type,
created_at, started_at, stopped_at, duration, status, attempts`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (domain.Task, error) {
	var (
		t        domain.Task
		created  int64
		started  sql.NullInt64
		stopped  sql.NullInt64
	)
	err := r.Scan(&t.ID, &t.Name, &t.Func, &t.Hook, &t.Args, &t.Kwargs, &t.Result,
		&t.Group, &t.ClusterType, &created, &started, &stopped, &t.Duration, &t.Status, &t.Attempts)
	if err != nil {
		return domain.Task{}, err
	}
	t.CreatedAt = storage.Time(created)
	t.StartedAt = storage.NullTime(started)
	t.StoppedAt = storage.NullTime(stopped)
	return t, nil
}

// Create inserts a pending task row. A missing id is generated.
func (s *Store) Create(ctx context.Context, t domain.Task) (domain.Task, error) {
	return s.CreateTx(ctx, s.db, t)
}

// CreateTx is Create inside a caller-owned transaction.
func (s *Store) CreateTx(ctx context.Context, e storage.Execer, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = NewID()
	}
	if t.Name == "" {
		t.Name = t.ID
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	t.Status = domain.StatusPending
	_, err := e.ExecContext(ctx, `
INSERT INTO tasks (id, name, func, hook, args, kwargs, grp, cluster_type, created_at, status)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 'pending')`,
		t.ID, t.Name, t.Func, t.Hook, t.Args, t.Kwargs, t.Group, t.ClusterType,
		storage.UnixNano(t.CreatedAt))
	if err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Begin marks an attempt: status becomes running, the start time is
// recorded and the attempt counter increments. Re-beginning a task that
// is still running is legal (a reclaimed row being retried); beginning a
// terminal task is rejected with ErrTerminal.
func (s *Store) Begin(ctx context.Context, id string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks SET status = 'running', started_at = ?, attempts = attempts + 1
WHERE id = ? AND status IN ('pending', 'running')`, storage.UnixNano(now), id)
	if err != nil {
		return err
	}
	return s.guard(ctx, res, id)
}

// Complete moves a task to its terminal state. Stop time, duration and
// result are written in the same statement that flips the status, and
// the guard rejects a second completion: terminal states are final.
// Subscribers are notified after the row is saved.
func (s *Store) Complete(ctx context.Context, id string, status domain.Status, result []byte, now time.Time) error {
	if !status.IsTerminal() {
		return &domain.ValidationError{Field: "status", Reason: "completion requires success or failed"}
	}
	stopped := storage.UnixNano(now)
	res, err := s.db.ExecContext(ctx, `
UPDATE tasks
SET status = ?, stopped_at = ?, result = ?,
    duration = (? - COALESCE(started_at, ?)) / 1000000000
WHERE id = ? AND status NOT IN ('success', 'failed')`,
		string(status), stopped, result, stopped, stopped, id)
	if err != nil {
		return err
	}
	if err := s.guard(ctx, res, id); err != nil {
		return err
	}
	t, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	s.notify(t)
	return nil
}

// guard maps a zero-row update to ErrTerminal or ErrNotFound.
func (s *Store) guard(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	var exists int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE id = ?`, id).Scan(&exists); err != nil {
		return err
	}
	if exists == 0 {
		return domain.ErrNotFound
	}
	return domain.ErrTerminal
}

// Get looks a task up by id when the input has the fixed id length,
// falling back to name. A name shared by several tasks is an error, not
// a first-match guess.
func (s *Store) Get(ctx context.Context, idOrName string) (domain.Task, error) {
	if len(idOrName) == domain.TaskIDLength {
		t, err := scanTask(s.db.QueryRowContext(ctx,
			`SELECT `+taskCols+` FROM tasks WHERE id = ?`, idOrName))
		if err == nil {
			return t, nil
		}
		if err != sql.ErrNoRows {
			return domain.Task{}, err
		}
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskCols+` FROM tasks WHERE name = ? LIMIT 2`, idOrName)
	if err != nil {
		return domain.Task{}, err
	}
	defer rows.Close()

	var found []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return domain.Task{}, err
		}
		found = append(found, t)
	}
	if err := rows.Err(); err != nil {
		return domain.Task{}, err
	}
	switch len(found) {
	case 0:
		return domain.Task{}, domain.ErrNotFound
	case 1:
		return found[0], nil
	default:
		return domain.Task{}, &domain.AmbiguousNameError{Name: idOrName, Count: len(found)}
	}
}

// Result returns the decoded result of a terminal task, nil otherwise.
func (s *Store) Result(ctx context.Context, idOrName string) (any, error) {
	t, err := s.Get(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	return s.cod.DecodeResult(t.Result)
}

// Delete removes a task row. Workers referencing it have their task
// cleared by the schema, never deleted.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// GroupTasks returns all members of a group, optionally failures only.
func (s *Store) GroupTasks(ctx context.Context, group string, failuresOnly bool) ([]domain.Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks WHERE grp = ?`
	if failuresOnly {
		q += ` AND status = 'failed'`
	}
	q += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, q, group)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GroupResults returns the decoded results of the group's members.
func (s *Store) GroupResults(ctx context.Context, group string, failuresOnly bool) ([]any, error) {
	ts, err := s.GroupTasks(ctx, group, failuresOnly)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(ts))
	for _, t := range ts {
		v, err := s.cod.DecodeResult(t.Result)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// GroupCount counts group members, optionally failures only.
func (s *Store) GroupCount(ctx context.Context, group string, failuresOnly bool) (int, error) {
	q := `SELECT COUNT(*) FROM tasks WHERE grp = ?`
	if failuresOnly {
		q += ` AND status = 'failed'`
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, group).Scan(&n)
	return n, err
}

// DeleteGroup removes a group: with cascade the member rows are deleted,
// without it only the group tag is cleared. Either way it is a single
// statement, never a partial mix.
func (s *Store) DeleteGroup(ctx context.Context, group string, cascade bool) (int, error) {
	q := `UPDATE tasks SET grp = '' WHERE grp = ?`
	if cascade {
		q = `DELETE FROM tasks WHERE grp = ?`
	}
	res, err := s.db.ExecContext(ctx, q, group)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// Filter narrows List. Zero values mean "no constraint".
type Filter struct {
	Status domain.Status
	Group  string
	Since  time.Time
	Until  time.Time
	Limit  int
}

// List returns tasks for the monitoring surface, newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]domain.Task, error) {
	q := `SELECT ` + taskCols + ` FROM tasks WHERE 1=1`
	var args []any
	if f.Status != "" {
		q += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Group != "" {
		q += ` AND grp = ?`
		args = append(args, f.Group)
	}
	if !f.Since.IsZero() {
		q += ` AND created_at >= ?`
		args = append(args, storage.UnixNano(f.Since))
	}
	if !f.Until.IsZero() {
		q += ` AND created_at <= ?`
		args = append(args, storage.UnixNano(f.Until))
	}
	q += ` ORDER BY created_at DESC`
	if f.Limit > 0 {
		q += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Succeeded and Failed are the filtered views of terminal tasks.
func (s *Store) Succeeded(ctx context.Context, limit int) ([]domain.Task, error) {
	return s.List(ctx, Filter{Status: domain.StatusSuccess, Limit: limit})
}

func (s *Store) Failed(ctx context.Context, limit int) ([]domain.Task, error) {
	return s.List(ctx, Filter{Status: domain.StatusFailed, Limit: limit})
}
