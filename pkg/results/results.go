// Package results implements sectioned live results: a view that groups the records of an
// ordered, observable collection into sections by a derived key, keeps the sections up to date
// as the collection changes, and notifies subscribers with minimal per-section change sets.
//
// Lifecycle: a Results instance starts Idle. The first subscription registers with the base
// collection and rebuilds the section index (Subscribed). Each change of the base collection
// rebuilds the index and dispatches the diff to the subscribers (Delivering). Releasing the last
// subscription unregisters from the base collection and returns to Idle; the last index stays
// readable. An error reported by the base collection moves the instance to the terminal
// Invalidated state.
//
// Accessors read an immutable index snapshot and never recompute. While Idle, they check the
// base collection for validity, so an invalidation of the base collection is noticed without a
// subscription.
package results

import (
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"
	"github.com/ohler55/ojg/jp"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livesections/pkg/collection"
	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/object"
	"github.com/l7mp/livesections/pkg/section"
	"github.com/l7mp/livesections/pkg/util"
)

// State is the lifecycle state of a Results instance.
type State int32

const (
	Idle State = iota
	Subscribed
	Delivering
	Invalidated
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Subscribed:
		return "subscribed"
	case Delivering:
		return "delivering"
	case Invalidated:
		return "invalidated"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Callback receives the notifications of a subscription. A notification carries either a change
// set or an error, never both. On errors the results argument is nil. Every subscription receives
// its own copy of the change set.
type Callback func(results *Results, changes *section.ChangeSet, err error)

// Results is a sectioned view of a base collection.
type Results struct {
	base    collection.Collection
	builder *section.Builder

	index   atomic.Pointer[section.Index]
	state   atomic.Int32
	invalid atomic.Pointer[section.InvalidatedError]

	// mu serializes recomputations
	mu      sync.Mutex
	tracker rowTracker
	pending sets.Set[section.RowID]
	// diverged is set while the row identities of the tracker are ahead of the stored index
	diverged bool

	// deliverMu keeps the dispatch order of subsequent recomputations, acquired with mu held
	deliverMu sync.Mutex

	// subsMu guards the subscriptions and the upstream registration, never held while acquiring
	// another lock of the instance
	subsMu     sync.Mutex
	subs       map[int64]*Subscription
	subCounter int64
	reg        collection.Registration

	log logr.Logger
}

// New creates a sectioned view of the base collection. The section index is built from the
// current snapshot right away, so accessors are usable before the first subscription.
func New(base collection.Collection, extractor key.Extractor, opts Options) (*Results, error) {
	if base == nil {
		return nil, errors.New("base collection is required")
	}
	if extractor == nil {
		return nil, errors.New("key extractor is required")
	}

	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	r := &Results{
		base:    base,
		builder: section.NewBuilder(extractor, opts.Order, logger),
		subs:    map[int64]*Subscription{},
		pending: sets.New[section.RowID](),
		log:     logger.WithName("sectioned-results"),
	}
	r.state.Store(int32(Idle))

	docs, err := base.Snapshot()
	if err != nil {
		return nil, section.NewInvalidatedError(err)
	}
	r.tracker.reset(len(docs))
	x, err := r.builder.Build(docs, r.tracker.ids, nil)
	if err != nil {
		return nil, err
	}
	r.index.Store(x)

	return r, nil
}

// State returns the lifecycle state.
func (r *Results) State() State {
	r.checkIdle()
	return State(r.state.Load())
}

// Err returns the reason of the invalidation, or nil.
func (r *Results) Err() error {
	r.checkIdle()
	return r.loadErr()
}

func (r *Results) loadErr() error {
	if ie := r.invalid.Load(); ie != nil {
		return ie
	}
	return nil
}

// checkIdle invalidates an instance whose base collection became invalid while no registration
// was there to report it.
func (r *Results) checkIdle() {
	if r.invalid.Load() != nil {
		return
	}

	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	if r.reg != nil {
		return
	}
	if err := r.base.Err(); err != nil {
		r.markInvalidated(err)
	}
}

// Snapshot returns the current section index.
func (r *Results) Snapshot() (*section.Index, error) {
	if err := r.Err(); err != nil {
		return nil, err
	}
	return r.index.Load(), nil
}

// Count returns the number of sections.
func (r *Results) Count() (int, error) {
	x, err := r.Snapshot()
	if err != nil {
		return 0, err
	}
	return x.Len(), nil
}

// Generation returns the build sequence number of the current index.
func (r *Results) Generation() uint64 { return r.index.Load().Generation() }

// SectionAt returns a handle to the section at position i.
func (r *Results) SectionAt(i int) (*Section, error) {
	x, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	s, err := x.Section(i)
	if err != nil {
		return nil, err
	}
	return &Section{results: r, id: s.ID, key: s.Key}, nil
}

// SectionFor returns a handle to the section holding the given key.
func (r *Results) SectionFor(k key.Key) (*Section, bool, error) {
	x, err := r.Snapshot()
	if err != nil {
		return nil, false, err
	}
	s, _, ok := x.LookupKey(k)
	if !ok {
		return nil, false, nil
	}
	return &Section{results: r, id: s.ID, key: s.Key}, true, nil
}

// At returns the record at the given index path.
func (r *Results) At(p section.IndexPath) (object.Document, error) {
	x, err := r.Snapshot()
	if err != nil {
		return nil, err
	}
	return x.Object(p)
}

// Sections iterates over the sections of one index snapshot. Iteration stops silently on an
// invalidated instance.
func (r *Results) Sections() iter.Seq2[int, *Section] {
	return func(yield func(int, *Section) bool) {
		x, err := r.Snapshot()
		if err != nil {
			return
		}
		for i, s := range x.Sections() {
			if !yield(i, &Section{results: r, id: s.ID, key: s.Key}) {
				return
			}
		}
	}
}

// Subscribe registers a callback for the changes of the sections. Unless opted out, the callback
// is first called with an initial change set that inserts every record. Callbacks must not call
// Subscribe synchronously; Stop may be called from a callback.
func (r *Results) Subscribe(fn Callback, opts SubscribeOptions) (*Subscription, error) {
	if fn == nil {
		return nil, errors.New("callback is required")
	}

	paths := make([]jp.Expr, 0, len(opts.WatchedKeyPaths))
	for _, p := range opts.WatchedKeyPaths {
		exp, err := key.ParsePath(p)
		if err != nil {
			return nil, err
		}
		paths = append(paths, exp)
	}

	exec := opts.Executor
	if exec == nil {
		exec = Inline
	}

	sub := &Subscription{
		results:  r,
		callback: fn,
		executor: exec,
		paths:    paths,
	}

	r.mu.Lock()

	if err := r.loadErr(); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	r.subsMu.Lock()
	active := r.reg != nil
	if active {
		r.addLocked(sub)
	}
	r.subsMu.Unlock()

	var buildErr error
	if !active {
		var err error
		if buildErr, err = r.activate(); err != nil {
			r.mu.Unlock()
			return nil, err
		}
		r.subsMu.Lock()
		r.addLocked(sub)
		r.subsMu.Unlock()
	}

	r.log.V(1).Info("subscription added", "subscription-id", sub.id,
		"watched-key-paths", opts.WatchedKeyPaths)

	x := r.index.Load()

	r.deliverMu.Lock()
	r.mu.Unlock()
	defer r.deliverMu.Unlock()

	switch {
	case buildErr != nil:
		sub.deliver(nil, nil, buildErr)
	case !opts.SkipInitial:
		sub.deliver(r, section.Initial(x), nil)
	}

	return sub, nil
}

// addLocked must be called with subsMu held.
func (r *Results) addLocked(sub *Subscription) {
	r.subCounter++
	sub.id = r.subCounter
	r.subs[sub.id] = sub
	subscriptionsGauge.Inc()
}

// activate registers with the base collection and rebuilds the index. A failed rebuild keeps the
// registration and the last index and is returned as buildErr; errors of the base collection are
// fatal. Must be called with mu held.
func (r *Results) activate() (buildErr, err error) {
	// register first so that no version committed after the snapshot is missed
	reg, err := r.base.Observe(r.onChange)
	if err != nil {
		r.invalidateLocked(err)
		return nil, r.loadErr()
	}

	r.subsMu.Lock()
	r.reg = reg
	r.state.Store(int32(Subscribed))
	r.subsMu.Unlock()

	docs, err := r.base.Snapshot()
	if err != nil {
		r.invalidateLocked(err)
		return nil, r.loadErr()
	}

	r.tracker.reset(len(docs))
	r.pending = sets.New[section.RowID]()
	x, err := r.builder.Build(docs, r.tracker.ids, r.index.Load())
	if err != nil {
		recomputeTotal.WithLabelValues(resultKeyError).Inc()
		r.log.V(1).Info("initial build failed, keeping last index", "error", err.Error())
		r.diverged = true
		return err, nil
	}
	r.index.Store(x)
	r.diverged = false

	r.log.V(1).Info("subscribed to base collection", "records", len(docs), "sections", x.Len())

	return nil, nil
}

func (r *Results) unsubscribe(sub *Subscription) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	if _, ok := r.subs[sub.id]; !ok {
		return
	}
	delete(r.subs, sub.id)
	subscriptionsGauge.Dec()

	r.log.V(1).Info("subscription removed", "subscription-id", sub.id, "subscriptions", len(r.subs))

	if len(r.subs) == 0 && r.reg != nil {
		r.reg.Stop()
		r.reg = nil
		if !r.state.CompareAndSwap(int32(Subscribed), int32(Idle)) {
			r.state.CompareAndSwap(int32(Delivering), int32(Idle))
		}
		r.log.V(1).Info("unsubscribed from base collection")
	}
}

type delivery struct {
	sub     *Subscription
	changes *section.ChangeSet
	err     error
}

// onChange is called by the base collection on every new version.
func (r *Results) onChange(change collection.RawChange) {
	r.mu.Lock()

	r.subsMu.Lock()
	active := r.reg != nil
	r.subsMu.Unlock()
	if !active || r.loadErr() != nil {
		r.mu.Unlock()
		return
	}

	delivering := r.state.CompareAndSwap(int32(Subscribed), int32(Delivering))

	var deliveries []delivery
	if change.Err != nil {
		deliveries = r.invalidateLocked(change.Err)
	} else {
		deliveries = r.recomputeLocked(change)
	}

	if len(deliveries) == 0 {
		r.mu.Unlock()
		if delivering {
			r.state.CompareAndSwap(int32(Delivering), int32(Subscribed))
		}
		return
	}

	r.deliverMu.Lock()
	r.mu.Unlock()

	for _, d := range deliveries {
		var results *Results
		if d.err == nil {
			results = r
		}
		d.sub.deliver(results, d.changes, d.err)
	}
	deliveryTotal.Add(float64(len(deliveries)))

	r.deliverMu.Unlock()

	if delivering {
		r.state.CompareAndSwap(int32(Delivering), int32(Subscribed))
	}
}

// recomputeLocked rebuilds the index and computes the deliveries. Must be called with mu held.
func (r *Results) recomputeLocked(change collection.RawChange) []delivery {
	timer := prometheus.NewTimer(recomputeDuration)
	defer timer.ObserveDuration()

	docs, err := r.base.Snapshot()
	if err != nil {
		return r.invalidateLocked(err)
	}

	prev := r.index.Load()

	if !r.diverged && sameDocuments(prev, docs) {
		// the change was already folded into the snapshot taken on subscription
		r.log.V(4).Info("dropping stale change", "change", change)
		return nil
	}

	modified, err := r.tracker.apply(change, len(docs))
	if err != nil {
		// replace every row: the diff degrades to a full reload
		r.log.Info("inconsistent change from base collection, reloading", "error", err.Error())
		r.tracker.reset(len(docs))
		modified = sets.New[section.RowID]()
	}
	r.pending = r.pending.Union(modified)

	subs := r.liveSubs()

	next, err := r.builder.Build(docs, r.tracker.ids, prev)
	if err != nil {
		recomputeTotal.WithLabelValues(resultKeyError).Inc()
		r.log.V(1).Info("recomputation failed, keeping last index", "generation", prev.Generation(),
			"error", err.Error())
		r.diverged = true
		ds := make([]delivery, 0, len(subs))
		for _, sub := range subs {
			ds = append(ds, delivery{sub: sub, err: err})
		}
		return ds
	}

	cs := section.Diff(prev, next, r.pending)
	r.pending = sets.New[section.RowID]()
	r.index.Store(next)
	r.diverged = false
	recomputeTotal.WithLabelValues(resultOK).Inc()

	r.log.V(4).Info("recomputation ready", "generation", next.Generation(), "sections", next.Len(),
		"changes", cs.String())

	ds := make([]delivery, 0, len(subs))
	for _, sub := range subs {
		subCS := sub.filter(prev, next, cs)
		if subCS.IsEmpty() {
			continue
		}
		ds = append(ds, delivery{sub: sub, changes: subCS.Clone()})
	}
	return ds
}

// invalidateLocked moves the instance to the terminal state and returns the final error
// deliveries. Must be called with mu held.
func (r *Results) invalidateLocked(cause error) []delivery {
	if !r.markInvalidated(cause) {
		return nil
	}

	subs := r.liveSubs()

	r.subsMu.Lock()
	if r.reg != nil {
		r.reg.Stop()
		r.reg = nil
	}
	subscriptionsGauge.Sub(float64(len(r.subs)))
	r.subs = map[int64]*Subscription{}
	r.subsMu.Unlock()

	ds := make([]delivery, 0, len(subs))
	for _, sub := range subs {
		ds = append(ds, delivery{sub: sub, err: cause})
	}
	return ds
}

// markInvalidated enters the terminal state. Returns false if the instance was already
// invalidated.
func (r *Results) markInvalidated(cause error) bool {
	if !r.invalid.CompareAndSwap(nil, &section.InvalidatedError{Cause: cause}) {
		return false
	}
	r.state.Store(int32(Invalidated))
	recomputeTotal.WithLabelValues(resultInvalidated).Inc()

	r.log.V(1).Info("base collection invalidated", "reason", cause.Error())

	return true
}

// liveSubs returns the subscriptions in registration order.
func (r *Results) liveSubs() []*Subscription {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()

	ret := make([]*Subscription, 0, len(r.subs))
	for _, id := range util.SortedKeys(r.subs) {
		ret = append(ret, r.subs[id])
	}
	return ret
}

func sameDocuments(x *section.Index, docs []object.Document) bool {
	if x.Size() != len(docs) {
		return false
	}
	for i, doc := range docs {
		prev, err := x.Document(i)
		if err != nil || !object.DeepEqual(prev, doc) {
			return false
		}
	}
	return true
}
