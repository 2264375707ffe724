package testutils

import (
	"sync"
	"time"

	"github.com/l7mp/livesections/pkg/results"
	"github.com/l7mp/livesections/pkg/section"
)

// TryWatch attempts to receive a notification from a watcher within the specified timeout.
// Returns the notification and true if successful, or an empty notification and false if timeout
// occurs or the channel is closed.
func TryWatch(w *results.Watcher, timeout time.Duration) (results.Notification, bool) {
	select {
	case n, ok := <-w.ResultChan():
		return n, ok
	case <-time.After(timeout):
		return results.Notification{}, false
	}
}

// Call is one recorded callback invocation.
type Call struct {
	Results *results.Results
	Changes *section.ChangeSet
	Err     error
}

// Recorder records the callback invocations of a subscription.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
}

// Callback returns the callback to register.
func (r *Recorder) Callback() results.Callback {
	return func(res *results.Results, cs *section.ChangeSet, err error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, Call{Results: res, Changes: cs, Err: err})
	}
}

// Calls returns a copy of the recorded invocations.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Len returns the number of recorded invocations.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// Last returns the last recorded invocation.
func (r *Recorder) Last() Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return Call{}
	}
	return r.calls[len(r.calls)-1]
}
