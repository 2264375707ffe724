package collection

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ohler55/ojg/jp"
	"github.com/oklog/ulid/v2"
	toolscache "k8s.io/client-go/tools/cache"

	"github.com/l7mp/livesections/pkg/key"
	"github.com/l7mp/livesections/pkg/object"
)

// DefaultPrimaryKey is the JSONPath of the primary key of documents stored in a List.
const DefaultPrimaryKey = "$.id"

// Store is a keyed document store. Documents are deep-copied on the way in and are never
// mutated afterwards, so they can be handed out in snapshots without copying.
type Store struct {
	store      toolscache.Store
	primaryKey string
	path       jp.Expr
}

// NewStore creates a store that keys documents by the value at the primaryKey JSONPath.
func NewStore(primaryKey string) (*Store, error) {
	if primaryKey == "" {
		primaryKey = DefaultPrimaryKey
	}
	path, err := key.ParsePath(primaryKey)
	if err != nil {
		return nil, err
	}

	s := &Store{primaryKey: primaryKey, path: path}
	s.store = toolscache.NewStore(func(obj any) (string, error) {
		doc, ok := obj.(object.Document)
		if !ok {
			return "", fmt.Errorf("store must hold documents, got %T", obj)
		}
		return s.KeyOf(doc)
	})

	return s, nil
}

// KeyOf returns the primary key of a document.
func (s *Store) KeyOf(doc object.Document) (string, error) {
	v, ok := key.GetPath(s.path, doc)
	if !ok || v == nil {
		return "", fmt.Errorf("document has no primary key at %s: %s", s.primaryKey, object.Dump(doc))
	}
	k, err := key.FromValue(v)
	if err != nil {
		return "", fmt.Errorf("invalid primary key: %w", err)
	}
	return storeKey(k), nil
}

// storeKey renders a primary key. Strings that read like the rendering of another kind are
// quoted, so that e.g. 1 and "1" are distinct keys.
func storeKey(k key.Key) string {
	s := k.String()
	if k.Kind() != key.KindString {
		return s
	}
	switch s {
	case "<null>", "true", "false":
		return strconv.Quote(s)
	}
	if strings.HasPrefix(s, `"`) {
		return strconv.Quote(s)
	}
	if _, err := strconv.ParseFloat(s, 64); err == nil {
		return strconv.Quote(s)
	}
	return s
}

// EnsureKey returns a copy of the document that has a primary key, generating a ULID for
// documents that lack one.
func (s *Store) EnsureKey(doc object.Document) (object.Document, string, error) {
	doc = object.DeepCopy(doc)
	if doc == nil {
		doc = object.Document{}
	}

	if k, err := s.KeyOf(doc); err == nil {
		return doc, k, nil
	}

	id := ulid.Make().String()
	if err := s.path.Set(doc, id); err != nil {
		return nil, "", fmt.Errorf("cannot assign primary key at %s: %w", s.primaryKey, err)
	}
	k, err := s.KeyOf(doc)
	if err != nil {
		return nil, "", err
	}
	return doc, k, nil
}

// Add adds a document to the store. The document must not be modified afterwards.
func (s *Store) Add(doc object.Document) error { return s.store.Add(doc) }

// Update replaces the document with the same primary key.
func (s *Store) Update(doc object.Document) error { return s.store.Update(doc) }

// Delete removes the document with the given key.
func (s *Store) Delete(k string) error {
	item, exists, err := s.store.GetByKey(k)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("no document with key %q", k)
	}
	return s.store.Delete(item)
}

// GetByKey returns the document stored under the given key.
func (s *Store) GetByKey(k string) (object.Document, bool, error) {
	item, exists, err := s.store.GetByKey(k)
	if err != nil || !exists {
		return nil, exists, err
	}
	doc, ok := item.(object.Document)
	if !ok {
		return nil, false, errors.New("store must hold documents")
	}
	return doc, true, nil
}

// ListKeys returns the keys of all stored documents in no particular order.
func (s *Store) ListKeys() []string { return s.store.ListKeys() }

// Len returns the number of stored documents.
func (s *Store) Len() int { return len(s.store.ListKeys()) }
