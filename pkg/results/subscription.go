package results

import (
	"sync/atomic"

	"github.com/ohler55/ojg/jp"

	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/object"
	"github.com/l7mp/livesections/pkg/section"
)

// Subscription is the handle of a registered callback. Stopping the subscription cancels all
// deliveries that have not started yet, including the ones already queued on the executor.
type Subscription struct {
	id       int64
	results  *Results
	callback Callback
	executor Executor
	paths    []jp.Expr
	stopped  atomic.Bool
}

// Stop cancels the subscription. Stop is idempotent and may be called from the callback.
func (s *Subscription) Stop() {
	if s.stopped.Swap(true) {
		return
	}
	s.results.unsubscribe(s)
}

// Stopped reports whether the subscription has been canceled.
func (s *Subscription) Stopped() bool { return s.stopped.Load() }

func (s *Subscription) deliver(r *Results, cs *section.ChangeSet, err error) {
	if s.stopped.Load() {
		return
	}
	s.executor.Execute(func() {
		if s.stopped.Load() {
			return
		}
		s.callback(r, cs, err)
	})
}

// filter drops the modifications that touch none of the watched key paths.
func (s *Subscription) filter(prev, next *section.Index, cs *section.ChangeSet) *section.ChangeSet {
	if len(s.paths) == 0 || len(cs.ModifiedPaths) == 0 {
		return cs
	}

	return cs.FilterModifications(func(_ section.ID, p section.IndexPath) bool {
		sec, err := next.Section(p.Section)
		if err != nil {
			return true
		}
		newDoc, err := next.Object(p)
		if err != nil {
			return true
		}
		ps, pr, ok := prev.Locate(sec.RowIDs[p.Row])
		if !ok {
			return true
		}
		oldDoc, err := prev.Object(section.IndexPath{Section: ps, Row: pr})
		if err != nil {
			return true
		}
		return s.touches(oldDoc, newDoc)
	})
}

func (s *Subscription) touches(oldDoc, newDoc object.Document) bool {
	for _, exp := range s.paths {
		oldVal, oldOK := key.GetPath(exp, oldDoc)
		newVal, newOK := key.GetPath(exp, newDoc)
		if oldOK != newOK || !object.ValueEqual(oldVal, newVal) {
			return true
		}
	}
	return false
}
