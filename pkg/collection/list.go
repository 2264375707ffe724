package collection

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/l7mp/livesections/pkg/object"
)

// ErrInvalidated is returned by a collection that has been torn down.
var ErrInvalidated = errors.New("collection invalidated")

// ListOptions configure a List.
type ListOptions struct {
	// PrimaryKey is the JSONPath of the document identity. Default: "$.id".
	PrimaryKey string
	Logger     logr.Logger
}

var _ Collection = &List{}

// List is an in-memory, ordered, observable document collection. Edits are grouped into write
// transactions; each committed transaction produces exactly one change notification, delivered
// synchronously on the writer's goroutine to all observers.
type List struct {
	writeMu sync.Mutex // serializes transactions and notifications

	mu       sync.RWMutex
	store    *Store
	order    []string
	snapshot []object.Document
	version  uint64
	err      error

	observers *observers
	log       logr.Logger
}

// NewList creates an empty list.
func NewList(opts ListOptions) (*List, error) {
	logger := opts.Logger
	if logger.GetSink() == nil {
		logger = logr.Discard()
	}

	store, err := NewStore(opts.PrimaryKey)
	if err != nil {
		return nil, err
	}

	log := logger.WithName("list")
	return &List{
		store:     store,
		snapshot:  []object.Document{},
		observers: newObservers(log),
		log:       log,
	}, nil
}

// NewListFromDocuments creates a list holding the given documents.
func NewListFromDocuments(docs []object.Document, opts ListOptions) (*List, error) {
	l, err := NewList(opts)
	if err != nil {
		return nil, err
	}

	if _, err := l.Write(func(tx *Txn) error {
		for _, doc := range docs {
			if _, err := tx.Append(doc); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	return l, nil
}

// Snapshot implements Collection.
func (l *List) Snapshot() ([]object.Document, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.err != nil {
		return nil, l.err
	}
	return l.snapshot, nil
}

// Observe implements Collection.
func (l *List) Observe(h Handler) (Registration, error) {
	l.mu.RLock()
	err := l.err
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	return l.observers.add(h), nil
}

// Err implements Collection.
func (l *List) Err() error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.err
}

// Len returns the number of documents.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Version returns the number of committed non-empty transactions.
func (l *List) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// Keys returns the primary keys in collection order.
func (l *List) Keys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.order)
}

// Write runs fn as a write transaction. If fn returns an error the transaction is rolled back
// and no notification is sent. Otherwise the edits are committed atomically and the resulting
// change is delivered to the observers before Write returns. Observers must not call Write.
func (l *List) Write(fn func(tx *Txn) error) (RawChange, error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	l.mu.RLock()
	if l.err != nil {
		err := l.err
		l.mu.RUnlock()
		return RawChange{}, err
	}
	tx := &Txn{
		list:     l,
		order:    slices.Clone(l.order),
		pending:  map[string]object.Document{},
		modified: sets.New[string](),
	}
	l.mu.RUnlock()

	if err := fn(tx); err != nil {
		l.log.V(4).Info("transaction rolled back", "error", err.Error())
		return RawChange{}, err
	}

	change, err := l.commit(tx)
	if err != nil {
		return RawChange{}, err
	}

	if change.IsEmpty() {
		l.log.V(8).Info("suppressing empty change")
		return change, nil
	}

	l.log.V(4).Info("transaction committed", "deletions", change.Deletions,
		"insertions", change.Insertions, "modifications", change.Modifications)

	l.observers.notify(change)

	return change, nil
}

func (l *List) commit(tx *Txn) (RawChange, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	change := diffOrder(l.order, tx.order, func(k string) bool {
		if !tx.modified.Has(k) {
			return false
		}
		// rewrites with the same content are not modifications
		stored, exists, err := l.store.GetByKey(k)
		return err != nil || !exists || !object.DeepEqual(stored, tx.pending[k])
	})
	if err := change.Validate(len(l.order), len(tx.order)); err != nil {
		return RawChange{}, fmt.Errorf("internal error: %w", err)
	}

	kept := sets.New(tx.order...)
	for _, k := range l.order {
		if !kept.Has(k) {
			if err := l.store.Delete(k); err != nil {
				return RawChange{}, err
			}
		}
	}
	for k, doc := range tx.pending {
		if !kept.Has(k) {
			continue
		}
		if _, exists, _ := l.store.GetByKey(k); exists {
			if err := l.store.Update(doc); err != nil {
				return RawChange{}, err
			}
		} else if err := l.store.Add(doc); err != nil {
			return RawChange{}, err
		}
	}

	snapshot := make([]object.Document, len(tx.order))
	for i, k := range tx.order {
		doc, exists, err := l.store.GetByKey(k)
		if err != nil {
			return RawChange{}, err
		}
		if !exists {
			return RawChange{}, fmt.Errorf("internal error: key %q lost from store", k)
		}
		snapshot[i] = doc
	}

	l.order = tx.order
	l.snapshot = snapshot
	if !change.IsEmpty() {
		l.version++
	}

	return change, nil
}

// Invalidate tears the list down. Observers receive a final change carrying err, and all
// subsequent accesses fail with it.
func (l *List) Invalidate(err error) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()

	if err == nil {
		err = ErrInvalidated
	}

	l.mu.Lock()
	if l.err != nil {
		l.mu.Unlock()
		return
	}
	l.err = err
	l.mu.Unlock()

	l.log.V(1).Info("collection invalidated", "reason", err.Error())

	l.observers.notify(RawChange{Err: err})
	l.observers.clear()
}

// Txn is a write transaction on a List. A Txn must not be used after its Write returns.
type Txn struct {
	list     *List
	order    []string
	pending  map[string]object.Document
	modified sets.Set[string]
}

// Len returns the number of documents in the transaction's view of the list.
func (tx *Txn) Len() int { return len(tx.order) }

// Index returns the position of the document with the given key or -1.
func (tx *Txn) Index(k string) int { return slices.Index(tx.order, k) }

// Get returns the document at position i.
func (tx *Txn) Get(i int) (object.Document, error) {
	if i < 0 || i >= len(tx.order) {
		return nil, fmt.Errorf("position %d out of range [0,%d)", i, len(tx.order))
	}
	return tx.get(tx.order[i])
}

func (tx *Txn) get(k string) (object.Document, error) {
	if doc, ok := tx.pending[k]; ok {
		return doc, nil
	}
	doc, exists, err := tx.list.store.GetByKey(k)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no document with key %q", k)
	}
	return doc, nil
}

// Append adds a document to the end of the list and returns its primary key.
func (tx *Txn) Append(doc object.Document) (string, error) {
	return tx.Insert(len(tx.order), doc)
}

// Insert adds a document at position i and returns its primary key.
func (tx *Txn) Insert(i int, doc object.Document) (string, error) {
	if i < 0 || i > len(tx.order) {
		return "", fmt.Errorf("insert position %d out of range [0,%d]", i, len(tx.order))
	}

	doc, k, err := tx.list.store.EnsureKey(doc)
	if err != nil {
		return "", err
	}
	if tx.Index(k) >= 0 {
		return "", fmt.Errorf("duplicate primary key %q", k)
	}

	tx.order = slices.Insert(tx.order, i, k)
	tx.pending[k] = doc
	if _, exists, _ := tx.list.store.GetByKey(k); exists {
		// re-added within the transaction
		tx.modified.Insert(k)
	}

	return k, nil
}

// Update replaces the document at position i. The primary key of the document must be unset or
// equal to the key of the replaced document.
func (tx *Txn) Update(i int, doc object.Document) error {
	if i < 0 || i >= len(tx.order) {
		return fmt.Errorf("update position %d out of range [0,%d)", i, len(tx.order))
	}
	old := tx.order[i]

	doc = object.DeepCopy(doc)
	if doc == nil {
		doc = object.Document{}
	}
	if k, err := tx.list.store.KeyOf(doc); err == nil {
		if k != old {
			return fmt.Errorf("update cannot change primary key %q to %q", old, k)
		}
	} else {
		prev, err := tx.get(old)
		if err != nil {
			return err
		}
		if err := tx.list.store.path.Set(doc, tx.list.store.path.First(prev)); err != nil {
			return fmt.Errorf("cannot set primary key: %w", err)
		}
	}

	tx.pending[old] = doc
	if _, exists, _ := tx.list.store.GetByKey(old); exists {
		tx.modified.Insert(old)
	}
	return nil
}

// Set updates the document with the same primary key in place, or appends it if no such
// document exists.
func (tx *Txn) Set(doc object.Document) (string, error) {
	doc, k, err := tx.list.store.EnsureKey(doc)
	if err != nil {
		return "", err
	}
	if i := tx.Index(k); i >= 0 {
		return k, tx.Update(i, doc)
	}
	return tx.Append(doc)
}

// Remove deletes the document at position i.
func (tx *Txn) Remove(i int) error {
	if i < 0 || i >= len(tx.order) {
		return fmt.Errorf("remove position %d out of range [0,%d)", i, len(tx.order))
	}
	k := tx.order[i]
	tx.order = slices.Delete(tx.order, i, i+1)
	delete(tx.pending, k)
	tx.modified.Delete(k)
	return nil
}

// RemoveKey deletes the document with the given primary key.
func (tx *Txn) RemoveKey(k string) error {
	i := tx.Index(k)
	if i < 0 {
		return fmt.Errorf("no document with key %q", k)
	}
	return tx.Remove(i)
}

// Move moves the document at position from to position to.
func (tx *Txn) Move(from, to int) error {
	if from < 0 || from >= len(tx.order) || to < 0 || to >= len(tx.order) {
		return fmt.Errorf("move %d -> %d out of range [0,%d)", from, to, len(tx.order))
	}
	k := tx.order[from]
	tx.order = slices.Delete(tx.order, from, from+1)
	tx.order = slices.Insert(tx.order, to, k)
	return nil
}

// Clear removes all documents.
func (tx *Txn) Clear() {
	tx.order = []string{}
	tx.pending = map[string]object.Document{}
	tx.modified = sets.New[string]()
}
