// Package approval implements the human-in-the-loop rendezvous: one
// outstanding yes/no question at a time, answered out-of-band through the
// chat bridge.
package approval

import (
	"context"
	"sync"
)

// Notifier renders an approval request to the human reviewer. Implemented
// by the chat bridge.
type Notifier interface {
	SendApprovalRequest(stage, task string) error
}

// Oracle is a single-outstanding-request boolean rendezvous. A new Ask
// supersedes any unresolved prior request, resolving it to false.
type Oracle struct {
	mu       sync.Mutex
	notifier Notifier
	pending  chan bool
}

// NewOracle creates an Oracle. A nil notifier means no bridge is
// configured: every Ask resolves immediately to true.
func NewOracle(notifier Notifier) *Oracle {
	return &Oracle{notifier: notifier}
}

// SetNotifier swaps the bridge. Any unresolved request is resolved to
// false, since its approve/reject callbacks died with the old bridge.
func (o *Oracle) SetNotifier(notifier Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending != nil {
		close(o.pending)
		o.pending = nil
	}
	o.notifier = notifier
}

// Ask requests approval for a task and blocks until the human answers, the
// request is superseded, or ctx is done. Cancellation resolves to false.
func (o *Oracle) Ask(ctx context.Context, stage, task string) (bool, error) {
	o.mu.Lock()
	if o.notifier == nil {
		o.mu.Unlock()
		return true, nil
	}

	// Supersede any unresolved request.
	if o.pending != nil {
		close(o.pending)
	}
	ch := make(chan bool, 1)
	o.pending = ch
	o.mu.Unlock()

	if err := o.notifier.SendApprovalRequest(stage, task); err != nil {
		o.clear(ch)
		return false, err
	}

	select {
	case approved, ok := <-ch:
		if !ok {
			return false, nil // superseded
		}
		return approved, nil
	case <-ctx.Done():
		o.clear(ch)
		return false, ctx.Err()
	}
}

// Resolve answers the outstanding request, if any. Called by the chat
// bridge's approve/reject callbacks.
func (o *Oracle) Resolve(approved bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == nil {
		return
	}
	o.pending <- approved
	o.pending = nil
}

// clear drops ch if it is still the pending request.
func (o *Oracle) clear(ch chan bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.pending == ch {
		o.pending = nil
	}
}
