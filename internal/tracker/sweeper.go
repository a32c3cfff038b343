// ABOUTME: Timeout-based status decay for agents that go quiet
// ABOUTME: Periodic sweep demotes stale states and evicts long-offline entries

package tracker

import (
	"context"
	"time"
)

// Decay thresholds, measured against a state's LastUpdated timestamp.
const (
	// offlineAfter demotes any silent agent to OFFLINE.
	offlineAfter = 5 * time.Minute
	// doneToWaiting relaxes a finished agent back to waiting-for-input.
	doneToWaiting = 30 * time.Second
	// idleAfter demotes statuses that imply activity; statuses in idleExempt
	// already describe a resting agent and are left alone.
	idleAfter = 60 * time.Second
	// offlineDeleteAfter evicts an OFFLINE agent from the map entirely.
	offlineDeleteAfter = 10 * time.Minute

	// taskDoneDeleteAfter evicts a completed subagent task entry.
	taskDoneDeleteAfter = 5 * time.Minute
	// taskStaleDeleteAfter evicts a subagent task that never completed,
	// typically because its stop event was lost.
	taskStaleDeleteAfter = 10 * time.Minute
)

// idleExempt statuses survive the 60s idle demotion: they already describe
// an agent at rest or one whose activity is delegated elsewhere.
var idleExempt = map[Status]bool{
	StatusWaiting:       true,
	StatusDone:          true,
	StatusOrchestrating: true,
	StatusBlocked:       true,
}

// Sweep applies the decay rules once against the given time and reports
// whether anything changed. Observers should be re-broadcast the state map
// when it returns true.
func (t *Tracker) Sweep(now time.Time) bool {
	nowMs := now.UnixMilli()

	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for key, state := range t.states {
		elapsed := time.Duration(nowMs-state.LastUpdated) * time.Millisecond

		if state.IsSubagent {
			switch {
			case state.Status == StatusDone && elapsed > taskDoneDeleteAfter:
				delete(t.states, key)
				changed = true
			case state.Status != StatusDone && elapsed > taskStaleDeleteAfter:
				delete(t.states, key)
				changed = true
			}
			continue
		}

		switch {
		case state.Status == StatusOffline:
			if elapsed > offlineDeleteAfter {
				delete(t.states, key)
				delete(t.taskQueues, key)
				changed = true
			}
		case elapsed > offlineAfter:
			state.Status = StatusOffline
			state.SubagentCount = 0
			delete(t.taskQueues, key)
			changed = true
		case state.Status == StatusDone && elapsed > doneToWaiting:
			state.Status = StatusWaiting
			changed = true
		case elapsed > idleAfter && !idleExempt[state.Status]:
			state.Status = StatusWaiting
			changed = true
		}
	}
	return changed
}

// Run sweeps on the given interval until ctx is cancelled, invoking onChange
// after every sweep that mutated the map.
func (t *Tracker) Run(ctx context.Context, interval time.Duration, onChange func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	t.logger.Info("sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			t.logger.Info("sweeper stopped")
			return
		case now := <-ticker.C:
			if t.Sweep(now) && onChange != nil {
				onChange()
			}
		}
	}
}
