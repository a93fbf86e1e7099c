package cluster

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorq/internal/domain"
)

func openPair(t *testing.T, e *env) (clusterID, workerID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC()
	clusterID, workerID = "cl-1", "wk-1"
	require.NoError(t, e.liveness.OpenCluster(ctx, domain.Cluster{
		ID: clusterID, StartedAt: now, HeartbeatAt: now, Hostname: "host", PID: 42,
	}))
	require.NoError(t, e.liveness.OpenWorker(ctx, domain.Worker{
		ID: workerID, ClusterID: clusterID, PID: 42, StartedAt: now, HeartbeatAt: now,
	}))
	return clusterID, workerID
}

func TestHeartbeatRefreshesRows(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	clusterID, _ := openPair(t, e)

	later := time.Now().UTC().Add(time.Minute)
	require.NoError(t, e.liveness.Heartbeat(ctx, clusterID, later))

	cs, err := e.liveness.Clusters(ctx)
	require.NoError(t, err)
	require.Len(t, cs, 1)
	assert.Equal(t, later, cs[0].HeartbeatAt)

	ws, err := e.liveness.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Equal(t, later, ws[0].HeartbeatAt)
}

func TestDeletingTaskClearsWorkerReference(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	_, workerID := openPair(t, e)

	created, err := e.tasks.Create(ctx, domain.Task{Func: "f"})
	require.NoError(t, err)
	require.NoError(t, e.liveness.SetWorkerTask(ctx, workerID, created.ID))

	ws, err := e.liveness.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	require.Equal(t, created.ID, ws[0].TaskID)

	// Deleting the task clears the reference but keeps the worker row.
	require.NoError(t, e.tasks.Delete(ctx, created.ID))
	ws, err = e.liveness.Workers(ctx)
	require.NoError(t, err)
	require.Len(t, ws, 1)
	assert.Empty(t, ws[0].TaskID)
}

func TestClosingClusterCascadesToWorkers(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	clusterID, _ := openPair(t, e)

	require.NoError(t, e.liveness.CloseCluster(ctx, clusterID))
	ws, err := e.liveness.Workers(ctx)
	require.NoError(t, err)
	assert.Empty(t, ws)
}
