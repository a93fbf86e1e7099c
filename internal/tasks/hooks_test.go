package tasks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorq/internal/domain"
	"gorq/internal/registry"
)

func completeOne(t *testing.T, s *Store, hook string) domain.Task {
	t.Helper()
	ctx := context.Background()
	created, err := s.Create(ctx, domain.Task{Func: "f", Hook: hook})
	require.NoError(t, err)
	now := time.Now().UTC()
	require.NoError(t, s.Begin(ctx, created.ID, now))
	require.NoError(t, s.Complete(ctx, created.ID, domain.StatusSuccess, nil, now.Add(time.Second)))
	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	return got
}

func TestSubscriberFiresOncePerTerminalTransition(t *testing.T) {
	s, _ := testStore(t)

	var calls []domain.Task
	s.OnTerminal(func(tk domain.Task) { calls = append(calls, tk) })

	got := completeOne(t, s, "")
	require.Len(t, calls, 1)
	assert.Equal(t, got.ID, calls[0].ID)
	assert.Equal(t, domain.StatusSuccess, calls[0].Status)

	// A rejected second completion must not re-fire the subscriber.
	err := s.Complete(context.Background(), got.ID, domain.StatusFailed, nil, time.Now().UTC())
	assert.ErrorIs(t, err, domain.ErrTerminal)
	assert.Len(t, calls, 1)
}

func TestSubscriberPanicDoesNotEscapeComplete(t *testing.T) {
	s, _ := testStore(t)
	s.OnTerminal(func(domain.Task) { panic("bad subscriber") })

	got := completeOne(t, s, "")
	assert.Equal(t, domain.StatusSuccess, got.Status)
}

func TestHookSubscriberInvokesHook(t *testing.T) {
	s, _ := testStore(t)
	reg := registry.New()

	invoked := make(chan domain.Task, 1)
	reg.RegisterHook("notify.done", func(tk domain.Task) { invoked <- tk })
	s.OnTerminal(HookSubscriber(reg, time.Second))

	got := completeOne(t, s, "notify.done")

	select {
	case tk := <-invoked:
		assert.Equal(t, got.ID, tk.ID)
		assert.True(t, tk.Status.IsTerminal())
	case <-time.After(2 * time.Second):
		t.Fatal("hook was never invoked")
	}
}

func TestHookPanicLeavesTaskSaved(t *testing.T) {
	s, _ := testStore(t)
	reg := registry.New()
	reg.RegisterHook("notify.broken", func(domain.Task) { panic("hook exploded") })
	s.OnTerminal(HookSubscriber(reg, time.Second))

	got := completeOne(t, s, "notify.broken")
	assert.Equal(t, domain.StatusSuccess, got.Status)
	require.NotNil(t, got.StoppedAt)
}

func TestUnresolvableHookIsSwallowed(t *testing.T) {
	s, _ := testStore(t)
	s.OnTerminal(HookSubscriber(registry.New(), time.Second))

	got := completeOne(t, s, "no.such.hook")
	assert.Equal(t, domain.StatusSuccess, got.Status)
}

func TestSlowHookDoesNotBlockComplete(t *testing.T) {
	s, _ := testStore(t)
	reg := registry.New()
	release := make(chan struct{})
	reg.RegisterHook("notify.slow", func(domain.Task) { <-release })
	s.OnTerminal(HookSubscriber(reg, 50*time.Millisecond))

	start := time.Now()
	got := completeOne(t, s, "notify.slow")
	close(release)

	assert.Equal(t, domain.StatusSuccess, got.Status)
	assert.Less(t, time.Since(start), 2*time.Second)
}
