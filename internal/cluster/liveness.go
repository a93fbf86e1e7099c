package cluster

import (
	"context"
	"database/sql"
	"time"

	"gorq/internal/domain"
	"gorq/internal/storage"
)

// Liveness persists cluster and worker heartbeat records. The queue
// algorithm never reads these; they exist for monitoring and external
// failure detection.
type Liveness struct {
	db *sql.DB
}

func NewLiveness(db *sql.DB) *Liveness {
	return &Liveness{db: db}
}

func (l *Liveness) OpenCluster(ctx context.Context, c domain.Cluster) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO clusters (id, started_at, heartbeat_at, hostname, pid, cluster_type)
VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, storage.UnixNano(c.StartedAt), storage.UnixNano(c.HeartbeatAt),
		c.Hostname, c.PID, c.ClusterType)
	return err
}

func (l *Liveness) OpenWorker(ctx context.Context, w domain.Worker) error {
	_, err := l.db.ExecContext(ctx, `
INSERT INTO workers (id, cluster_id, pid, started_at, heartbeat_at, task_id)
VALUES (?, ?, ?, ?, ?, NULL)`,
		w.ID, w.ClusterID, w.PID, storage.UnixNano(w.StartedAt), storage.UnixNano(w.HeartbeatAt))
	return err
}

// Heartbeat refreshes the cluster row and all its worker rows.
func (l *Liveness) Heartbeat(ctx context.Context, clusterID string, now time.Time) error {
	n := storage.UnixNano(now)
	if _, err := l.db.ExecContext(ctx,
		`UPDATE clusters SET heartbeat_at = ? WHERE id = ?`, n, clusterID); err != nil {
		return err
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE workers SET heartbeat_at = ? WHERE cluster_id = ?`, n, clusterID)
	return err
}

// SetWorkerTask records the task a worker is executing; an empty id
// marks the worker idle.
func (l *Liveness) SetWorkerTask(ctx context.Context, workerID, taskID string) error {
	var v any
	if taskID != "" {
		v = taskID
	}
	_, err := l.db.ExecContext(ctx,
		`UPDATE workers SET task_id = ? WHERE id = ?`, v, workerID)
	return err
}

// CloseCluster removes the cluster row; worker rows go with it.
func (l *Liveness) CloseCluster(ctx context.Context, clusterID string) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM clusters WHERE id = ?`, clusterID)
	return err
}

func (l *Liveness) Clusters(ctx context.Context) ([]domain.Cluster, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, started_at, heartbeat_at, hostname, pid, cluster_type FROM clusters ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Cluster
	for rows.Next() {
		var (
			c                  domain.Cluster
			started, heartbeat int64
		)
		if err := rows.Scan(&c.ID, &started, &heartbeat, &c.Hostname, &c.PID, &c.ClusterType); err != nil {
			return nil, err
		}
		c.StartedAt = storage.Time(started)
		c.HeartbeatAt = storage.Time(heartbeat)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (l *Liveness) Workers(ctx context.Context) ([]domain.Worker, error) {
	rows, err := l.db.QueryContext(ctx, `
SELECT id, cluster_id, pid, started_at, heartbeat_at, task_id FROM workers ORDER BY started_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Worker
	for rows.Next() {
		var (
			w                  domain.Worker
			started, heartbeat int64
			taskID             sql.NullString
		)
		if err := rows.Scan(&w.ID, &w.ClusterID, &w.PID, &started, &heartbeat, &taskID); err != nil {
			return nil, err
		}
		w.StartedAt = storage.Time(started)
		w.HeartbeatAt = storage.Time(heartbeat)
		w.TaskID = taskID.String
		out = append(out, w)
	}
	return out, rows.Err()
}
