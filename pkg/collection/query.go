package collection

import (
	"fmt"
	"slices"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/go-logr/logr"
	"github.com/ohler55/ojg/jp"

	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/object"
)

// QueryOptions configure a Query.
type QueryOptions struct {
	// Where is an expr-lang boolean expression over the document fields, e.g., `age >= 18`.
	// Empty means all documents.
	Where string
	// SortBy is a JSONPath whose value orders the results. Empty keeps source order.
	SortBy     string
	Descending bool
	// PrimaryKey is the JSONPath of the document identity. Default: "$.id".
	PrimaryKey string
	Logger     logr.Logger
}

var _ Collection = &Query{}

// Query is a live, filtered and sorted view of another collection. The results are recomputed on
// every change of the source and the difference is published as a raw change of the query.
type Query struct {
	source     Collection
	where      *vm.Program
	sortBy     jp.Expr
	descending bool
	store      *Store // only used for keying

	mu       sync.RWMutex
	keys     []string
	snapshot []object.Document
	err      error

	reg       Registration
	observers *observers
	log       logr.Logger
}

// NewQuery creates a query over a source collection and subscribes to it. Close releases the
// subscription.
func NewQuery(source Collection, opts QueryOptions) (*Query, error) {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	store, err := NewStore(opts.PrimaryKey)
	if err != nil {
		return nil, err
	}

	q := &Query{
		source:     source,
		descending: opts.Descending,
		store:      store,
		log:        logger.WithName("query"),
	}
	q.observers = newObservers(q.log)

	if opts.Where != "" {
		program, err := expr.Compile(opts.Where, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("failed to compile query predicate %q: %w", opts.Where, err)
		}
		q.where = program
	}
	if opts.SortBy != "" {
		exp, err := key.ParsePath(opts.SortBy)
		if err != nil {
			return nil, err
		}
		q.sortBy = exp
	}

	docs, err := source.Snapshot()
	if err != nil {
		return nil, err
	}
	keys, snapshot, err := q.evaluate(docs)
	if err != nil {
		return nil, err
	}
	q.keys, q.snapshot = keys, snapshot

	reg, err := source.Observe(q.onSourceChange)
	if err != nil {
		return nil, err
	}
	q.reg = reg

	return q, nil
}

// Snapshot implements Collection.
func (q *Query) Snapshot() ([]object.Document, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.err != nil {
		return nil, q.err
	}
	return q.snapshot, nil
}

// Observe implements Collection.
func (q *Query) Observe(h Handler) (Registration, error) {
	q.mu.RLock()
	err := q.err
	q.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return q.observers.add(h), nil
}

// Err implements Collection.
func (q *Query) Err() error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.err
}

// Close stops following the source. The last results stay readable.
func (q *Query) Close() {
	if q.reg != nil {
		q.reg.Stop()
	}
}

func (q *Query) onSourceChange(change RawChange) {
	if change.Err != nil {
		q.invalidate(change.Err)
		return
	}

	docs, err := q.source.Snapshot()
	if err != nil {
		q.invalidate(err)
		return
	}

	keys, snapshot, err := q.evaluate(docs)
	if err != nil {
		q.invalidate(err)
		return
	}

	q.mu.Lock()
	oldDocs := make(map[string]object.Document, len(q.keys))
	for i, k := range q.keys {
		oldDocs[k] = q.snapshot[i]
	}
	newDocs := make(map[string]object.Document, len(keys))
	for i, k := range keys {
		newDocs[k] = snapshot[i]
	}
	out := diffOrder(q.keys, keys, func(k string) bool {
		return !object.DeepEqual(oldDocs[k], newDocs[k])
	})
	q.keys, q.snapshot = keys, snapshot
	q.mu.Unlock()

	if out.IsEmpty() {
		return
	}

	q.log.V(4).Info("query results changed", "deletions", out.Deletions,
		"insertions", out.Insertions, "modifications", out.Modifications)

	q.observers.notify(out)
}

func (q *Query) invalidate(err error) {
	q.mu.Lock()
	if q.err != nil {
		q.mu.Unlock()
		return
	}
	q.err = err
	q.mu.Unlock()

	q.log.V(1).Info("query invalidated", "reason", err.Error())

	q.Close()
	q.observers.notify(RawChange{Err: err})
	q.observers.clear()
}

type queryItem struct {
	key  string
	doc  object.Document
	sort key.Key
}

func (q *Query) evaluate(docs []object.Document) ([]string, []object.Document, error) {
	items := make([]queryItem, 0, len(docs))
	for _, doc := range docs {
		if q.where != nil {
			out, err := expr.Run(q.where, doc)
			if err != nil {
				return nil, nil, fmt.Errorf("failed to evaluate query predicate: %w", err)
			}
			if ok, _ := out.(bool); !ok {
				continue
			}
		}

		k, err := q.store.KeyOf(doc)
		if err != nil {
			return nil, nil, err
		}

		item := queryItem{key: k, doc: doc}
		if q.sortBy != nil {
			v, _ := key.GetPath(q.sortBy, doc)
			sk, err := key.FromValue(v)
			if err != nil {
				return nil, nil, fmt.Errorf("invalid sort key: %w", err)
			}
			item.sort = sk
		}
		items = append(items, item)
	}

	if q.sortBy != nil {
		slices.SortStableFunc(items, func(a, b queryItem) int {
			if q.descending {
				return b.sort.Compare(a.sort)
			}
			return a.sort.Compare(b.sort)
		})
	}

	keys := make([]string, len(items))
	snapshot := make([]object.Document, len(items))
	for i, item := range items {
		keys[i], snapshot[i] = item.key, item.doc
	}

	return keys, snapshot, nil
}
