package producer

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"gorq/internal/broker"
	"gorq/internal/codec"
	"gorq/internal/domain"
	"gorq/internal/storage"
	"gorq/internal/tasks"
)

func testProducer(t *testing.T) (*Producer, *tasks.Store, *broker.Broker, *codec.Codec) {
	t.Helper()
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, storage.EnsureSchema(db))

	cod := codec.New("test-secret")
	b := broker.New(db, time.Minute)
	ts := tasks.New(db, cod)
	return New(db, ts, b, cod, "default"), ts, b, cod
}

func TestPushCreatesRecordAndQueueRow(t *testing.T) {
	ctx := context.Background()
	p, ts, b, cod := testProducer(t)

	created, err := p.Push(ctx, Request{
		Func: "math.add", Args: []any{1.0, 2.0},
		Kwargs: map[string]any{"round": true},
		Name:   "sum", Group: "g1", Hook: "notify.done",
	})
	require.NoError(t, err)
	require.Len(t, created.ID, domain.TaskIDLength)

	rec, err := ts.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, "g1", rec.Group)
	assert.Equal(t, "notify.done", rec.Hook)

	m, ok, err := b.Claim(ctx, "default", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	payload, err := cod.DecodePayload(m.Payload)
	require.NoError(t, err)
	assert.Equal(t, created.ID, payload.ID)
	assert.Equal(t, "math.add", payload.Func)
	assert.Equal(t, []any{1.0, 2.0}, payload.Args)
	assert.Equal(t, map[string]any{"round": true}, payload.Kwargs)
}

func TestPushRequiresFunc(t *testing.T) {
	p, _, _, _ := testProducer(t)
	_, err := p.Push(context.Background(), Request{})
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestPushStoresDecodableArgs(t *testing.T) {
	ctx := context.Background()
	p, ts, _, cod := testProducer(t)

	created, err := p.Push(ctx, Request{Func: "f", Args: []any{"héllo", []any{1.0}}})
	require.NoError(t, err)

	rec, err := ts.Get(ctx, created.ID)
	require.NoError(t, err)
	args, err := cod.DecodeResult(rec.Args)
	require.NoError(t, err)
	assert.Equal(t, []any{"héllo", []any{1.0}}, args)
}
