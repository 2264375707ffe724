package collection

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
)

// observers is a registry of change handlers, called in registration order.
type observers struct {
	mu       sync.RWMutex
	handlers map[int64]Handler
	counter  int64
	log      logr.Logger
}

// registration is the handle of a registered handler.
type registration struct {
	id      int64
	owner   *observers
	stopped atomic.Bool
}

// Stop implements Registration.
func (r *registration) Stop() {
	if r.stopped.Swap(true) {
		return
	}
	r.owner.remove(r.id)
}

func newObservers(logger logr.Logger) *observers {
	return &observers{handlers: map[int64]Handler{}, log: logger}
}

func (o *observers) add(h Handler) *registration {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := atomic.AddInt64(&o.counter, 1)
	o.handlers[id] = h
	o.log.V(4).Info("registering change handler", "handler-id", id)

	return &registration{id: id, owner: o}
}

func (o *observers) remove(id int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.log.V(4).Info("removing change handler", "handler-id", id)
	delete(o.handlers, id)
}

func (o *observers) clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers = map[int64]Handler{}
}

func (o *observers) len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.handlers)
}

// notify calls the handlers without holding the lock, so handlers may register or stop
// observers.
func (o *observers) notify(change RawChange) {
	o.mu.RLock()
	ids := make([]int64, 0, len(o.handlers))
	for id := range o.handlers {
		ids = append(ids, id)
	}
	handlers := make(map[int64]Handler, len(o.handlers))
	for id, h := range o.handlers {
		handlers[id] = h
	}
	o.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o.mu.RLock()
		_, live := o.handlers[id]
		o.mu.RUnlock()
		if !live {
			continue
		}
		o.log.V(8).Info("sending change to handler", "handler-id", id)
		handlers[id](change)
	}
}
