package tasks

import (
	"time"

	"github.com/rs/zerolog/log"

	"gorq/internal/domain"
	"gorq/internal/registry"
)

// notify runs every subscriber for a freshly terminal task. Panics are
// contained per subscriber so one bad hook cannot unwind the save.
func (s *Store) notify(t domain.Task) {
	s.mu.RLock()
	subs := make([]func(domain.Task), len(s.subs))
	copy(subs, s.subs)
	s.mu.RUnlock()

	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("task_id", t.ID).Str("task_name", t.Name).
						Interface("panic", r).Msg("terminal subscriber panicked")
				}
			}()
			fn(t)
		}()
	}
}

// HookSubscriber returns a terminal subscriber that resolves the task's
// hook reference and invokes it with the completed task. A reference
// that resolves to nothing is logged and dropped; the hook itself runs
// on its own goroutine with a bounded wait, and its panics are
// contained, so a slow or broken hook never stalls or fails the task
// pipeline.
func HookSubscriber(reg *registry.Table, timeout time.Duration) func(domain.Task) {
	return func(t domain.Task) {
		if t.Hook == "" {
			return
		}
		h, err := reg.ResolveHook(t.Hook)
		if err != nil {
			log.Error().Str("hook", t.Hook).Str("task_name", t.Name).
				Msg("malformed return hook")
			return
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			defer func() {
				if r := recover(); r != nil {
					log.Error().Str("hook", t.Hook).Str("task_name", t.Name).
						Interface("panic", r).Msg("return hook failed")
				}
			}()
			h(t)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			log.Warn().Str("hook", t.Hook).Str("task_name", t.Name).
				Dur("timeout", timeout).Msg("return hook still running, detaching")
		}
	}
}
