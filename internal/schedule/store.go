// Package schedule holds recurring task definitions and the engine that
// fires them into the broker queue.
package schedule

import (
	"context"
	"database/sql"
	"time"

	"gorq/internal/domain"
	"gorq/internal/storage"
)

// Store persists schedule definitions. Spent schedules (repeats == 0)
// stay in the table as history; they are skipped by Due, never deleted
// by the engine.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const schedCols = `id, name, func, hook, args, kwargs, grp, kind, minutes, cron, repeats, next_run, task_id`

func scanSchedule(r interface{ Scan(...any) error }) (domain.Schedule, error) {
	var (
		s       domain.Schedule
		nextRun int64
	)
	err := r.Scan(&s.ID, &s.Name, &s.Func, &s.Hook, &s.Args, &s.Kwargs, &s.Group,
		&s.Recur.Kind, &s.Recur.Minutes, &s.Recur.Cron, &s.Repeats, &nextRun, &s.TaskID)
	if err != nil {
		return domain.Schedule{}, err
	}
	s.NextRun = storage.Time(nextRun)
	return s, nil
}

// Create validates and inserts a schedule. A zero NextRun means "due
// now". The textual args are parsed here as well so a typo surfaces to
// the caller instead of failing silently at fire time.
func (st *Store) Create(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	if err := validateDefinition(&s); err != nil {
		return domain.Schedule{}, err
	}
	res, err := st.db.ExecContext(ctx, `
INSERT INTO schedules (name, func, hook, args, kwargs, grp, kind, minutes, cron, repeats, next_run, task_id)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, '')`,
		s.Name, s.Func, s.Hook, s.Args, s.Kwargs, s.Group,
		string(s.Recur.Kind), s.Recur.Minutes, s.Recur.Cron, s.Repeats,
		storage.UnixNano(s.NextRun))
	if err != nil {
		return domain.Schedule{}, err
	}
	s.ID, err = res.LastInsertId()
	return s, err
}

// Update validates and rewrites a schedule definition.
func (st *Store) Update(ctx context.Context, s domain.Schedule) error {
	if err := validateDefinition(&s); err != nil {
		return err
	}
	res, err := st.db.ExecContext(ctx, `
UPDATE schedules SET name=?, func=?, hook=?, args=?, kwargs=?, grp=?, kind=?, minutes=?, cron=?, repeats=?, next_run=?
WHERE id=?`,
		s.Name, s.Func, s.Hook, s.Args, s.Kwargs, s.Group,
		string(s.Recur.Kind), s.Recur.Minutes, s.Recur.Cron, s.Repeats,
		storage.UnixNano(s.NextRun), s.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func validateDefinition(s *domain.Schedule) error {
	if s.Func == "" {
		return &domain.ValidationError{Field: "func", Reason: "required"}
	}
	if err := Validate(s.Recur); err != nil {
		return err
	}
	if _, err := ParseArgs(s.Args); err != nil {
		return err
	}
	if _, err := ParseKwargs(s.Kwargs); err != nil {
		return err
	}
	if s.NextRun.IsZero() {
		s.NextRun = time.Now().UTC()
	}
	return nil
}

func (st *Store) Get(ctx context.Context, id int64) (domain.Schedule, error) {
	s, err := scanSchedule(st.db.QueryRowContext(ctx,
		`SELECT `+schedCols+` FROM schedules WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return domain.Schedule{}, domain.ErrNotFound
	}
	return s, err
}

func (st *Store) List(ctx context.Context) ([]domain.Schedule, error) {
	return st.query(ctx, `SELECT `+schedCols+` FROM schedules ORDER BY next_run`)
}

// Due returns schedules whose next_run has passed and that still have
// firings left.
func (st *Store) Due(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	return st.query(ctx, `
SELECT `+schedCols+` FROM schedules
WHERE next_run <= ? AND repeats != 0
ORDER BY next_run`, storage.UnixNano(now))
}

func (st *Store) query(ctx context.Context, q string, args ...any) ([]domain.Schedule, error) {
	rows, err := st.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Schedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (st *Store) Delete(ctx context.Context, id int64) error {
	_, err := st.db.ExecContext(ctx, `DELETE FROM schedules WHERE id = ?`, id)
	return err
}

// markFired records the outcome of one firing inside the firing
// transaction: the spawned task id, the decremented repeat counter and
// the advanced next_run move together or not at all.
func (st *Store) markFired(ctx context.Context, e storage.Execer, id int64, taskID string, repeats int, nextRun time.Time) error {
	_, err := e.ExecContext(ctx, `
UPDATE schedules SET task_id = ?, repeats = ?, next_run = ? WHERE id = ?`,
		taskID, repeats, storage.UnixNano(nextRun), id)
	return err
}
