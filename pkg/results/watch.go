package results

import (
	"context"
	"sync"

	"github.com/l7mp/livesections/pkg/section"
)

// DefaultWatchChannelBuffer is the default buffer size of watch channels and serial executors.
const DefaultWatchChannelBuffer = 256

// Notification is a change of a Results delivered on a watch channel. Exactly one of the fields
// is set.
type Notification struct {
	Changes *section.ChangeSet
	Err     error
}

// Watcher delivers the notifications of a subscription on a channel.
type Watcher struct {
	sub      *Subscription
	ch       chan Notification
	stopCh   chan struct{}
	stopOnce sync.Once
	mu       sync.Mutex
	closed   bool
}

// Watch subscribes to the changes of the results and returns a watcher that delivers them on a
// channel. The channel is closed when the watcher is stopped, the context is canceled or the
// results is invalidated; the invalidation error is delivered before the channel is closed.
// Delivery blocks the base collection while the channel buffer is full.
func (r *Results) Watch(ctx context.Context, opts SubscribeOptions) (*Watcher, error) {
	w := &Watcher{
		ch:     make(chan Notification, DefaultWatchChannelBuffer),
		stopCh: make(chan struct{}),
	}

	sub, err := r.Subscribe(w.handle, opts)
	if err != nil {
		return nil, err
	}

	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			w.Stop()
		case <-w.stopCh:
		}
	}()

	return w, nil
}

func (w *Watcher) handle(r *Results, cs *section.ChangeSet, err error) {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	select {
	case w.ch <- Notification{Changes: cs, Err: err}:
	case <-w.stopCh:
	}
	sub := w.sub
	w.mu.Unlock()

	// errors without results are final if the results has been invalidated
	if r == nil && err != nil && sub != nil && sub.results.Err() != nil {
		w.Stop()
	}
}

// ResultChan returns the notification channel.
func (w *Watcher) ResultChan() <-chan Notification { return w.ch }

// Stop cancels the subscription and closes the channel. Stop is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)

		w.mu.Lock()
		defer w.mu.Unlock()

		if w.sub != nil {
			w.sub.Stop()
		}
		w.closed = true
		close(w.ch)
	})
}
