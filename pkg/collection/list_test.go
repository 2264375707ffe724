package collection

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/livesections/pkg/object"
)

type changeLog struct{ changes []RawChange }

func (c *changeLog) handler() Handler {
	return func(change RawChange) { c.changes = append(c.changes, change) }
}

func (c *changeLog) last() RawChange { return c.changes[len(c.changes)-1] }

func ids(docs []object.Document) []any {
	ret := []any{}
	for _, doc := range docs {
		ret = append(ret, doc["id"])
	}
	return ret
}

var _ = Describe("List", func() {
	var (
		list *List
		log  *changeLog
	)

	BeforeEach(func() {
		var err error
		list, err = NewListFromDocuments([]object.Document{
			object.MustNew("id", "a", "v", int64(1)),
			object.MustNew("id", "b", "v", int64(2)),
			object.MustNew("id", "c", "v", int64(3)),
		}, ListOptions{})
		Expect(err).NotTo(HaveOccurred())

		log = &changeLog{}
		_, err = list.Observe(log.handler())
		Expect(err).NotTo(HaveOccurred())
	})

	It("should hold the initial documents in order", func() {
		docs, err := list.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(docs)).To(Equal([]any{"a", "b", "c"}))
		Expect(list.Keys()).To(Equal([]string{"a", "b", "c"}))
		Expect(list.Len()).To(Equal(3))
		Expect(list.Version()).To(Equal(uint64(1)))
	})

	It("should report an append as an insertion", func() {
		change, err := list.Write(func(tx *Txn) error {
			_, err := tx.Append(object.MustNew("id", "d"))
			return err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(change.Insertions).To(Equal([]int{3}))
		Expect(log.changes).To(HaveLen(1))
		Expect(log.last()).To(Equal(change))
	})

	It("should report an update as a modification", func() {
		_, err := list.Write(func(tx *Txn) error {
			return tx.Update(1, object.MustNew("v", int64(20)))
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(log.last().Modifications).To(Equal([]int{1}))
		Expect(log.last().Insertions).To(BeEmpty())

		docs, err := list.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(docs[1]).To(Equal(object.MustNew("id", "b", "v", int64(20))))
	})

	It("should update by primary key with Set", func() {
		_, err := list.Write(func(tx *Txn) error {
			if _, err := tx.Set(object.MustNew("id", "c", "v", int64(30))); err != nil {
				return err
			}
			_, err := tx.Set(object.MustNew("id", "e", "v", int64(5)))
			return err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(log.last().Modifications).To(Equal([]int{2}))
		Expect(log.last().Insertions).To(Equal([]int{3}))
	})

	It("should report a removal as a deletion", func() {
		_, err := list.Write(func(tx *Txn) error { return tx.RemoveKey("a") })
		Expect(err).NotTo(HaveOccurred())
		Expect(log.last().Deletions).To(Equal([]int{0}))
		Expect(list.Keys()).To(Equal([]string{"b", "c"}))
	})

	It("should report a move as a deletion and an insertion", func() {
		_, err := list.Write(func(tx *Txn) error { return tx.Move(0, 2) })
		Expect(err).NotTo(HaveOccurred())
		Expect(list.Keys()).To(Equal([]string{"b", "c", "a"}))
		Expect(log.last().Deletions).To(Equal([]int{0}))
		Expect(log.last().Insertions).To(Equal([]int{2}))
	})

	It("should not notify on an empty transaction", func() {
		change, err := list.Write(func(tx *Txn) error { return nil })
		Expect(err).NotTo(HaveOccurred())
		Expect(change.IsEmpty()).To(BeTrue())
		Expect(log.changes).To(BeEmpty())
		Expect(list.Version()).To(Equal(uint64(1)))
	})

	It("should roll back a failed transaction", func() {
		_, err := list.Write(func(tx *Txn) error {
			if err := tx.Remove(0); err != nil {
				return err
			}
			return tx.Update(0, object.MustNew("id", "zzz"))
		})
		Expect(err).To(HaveOccurred())
		Expect(log.changes).To(BeEmpty())
		Expect(list.Keys()).To(Equal([]string{"a", "b", "c"}))
	})

	It("should reject duplicate primary keys", func() {
		_, err := list.Write(func(tx *Txn) error {
			_, err := tx.Append(object.MustNew("id", "a"))
			return err
		})
		Expect(err).To(HaveOccurred())
	})

	It("should keep primary keys of different kinds apart", func() {
		l, err := NewListFromDocuments([]object.Document{
			object.MustNew("id", 1),
			object.MustNew("id", "1"),
			object.MustNew("id", true),
			object.MustNew("id", "true"),
			object.MustNew("id", "x"),
		}, ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Keys()).To(Equal([]string{"1", `"1"`, "true", `"true"`, "x"}))

		_, err = l.Write(func(tx *Txn) error { return tx.RemoveKey(`"1"`) })
		Expect(err).NotTo(HaveOccurred())
		docs, err := l.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(docs)).To(Equal([]any{int64(1), true, "true", "x"}))
	})

	It("should generate primary keys", func() {
		var k string
		_, err := list.Write(func(tx *Txn) error {
			var err error
			k, err = tx.Append(object.MustNew("v", int64(4)))
			return err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(k).To(HaveLen(26))

		docs, err := list.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(docs[3]["id"]).To(Equal(k))
	})

	It("should report a re-added record in place as a modification", func() {
		_, err := list.Write(func(tx *Txn) error {
			tx.Clear()
			for _, id := range []string{"a", "b", "c"} {
				if _, err := tx.Append(object.MustNew("id", id, "v", int64(0))); err != nil {
					return err
				}
			}
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(log.last().Modifications).To(Equal([]int{0, 1, 2}))
	})

	It("should not report a rewrite with the same content", func() {
		change, err := list.Write(func(tx *Txn) error {
			return tx.Update(0, object.MustNew("v", int64(1)))
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(change.IsEmpty()).To(BeTrue())
		Expect(log.changes).To(BeEmpty())
	})

	It("should keep old snapshots intact", func() {
		before, err := list.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		_, err = list.Write(func(tx *Txn) error {
			if err := tx.Update(0, object.MustNew("v", int64(100))); err != nil {
				return err
			}
			return tx.Remove(2)
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(before).To(HaveLen(3))
		Expect(before[0]["v"]).To(Equal(int64(1)))
	})

	It("should stop notifying a stopped registration", func() {
		other := &changeLog{}
		reg, err := list.Observe(other.handler())
		Expect(err).NotTo(HaveOccurred())
		reg.Stop()
		reg.Stop()

		_, err = list.Write(func(tx *Txn) error { return tx.Remove(0) })
		Expect(err).NotTo(HaveOccurred())
		Expect(other.changes).To(BeEmpty())
		Expect(log.changes).To(HaveLen(1))
	})

	It("should notify observers of the invalidation", func() {
		cause := errors.New("realm closed")
		Expect(list.Err()).NotTo(HaveOccurred())
		list.Invalidate(cause)

		Expect(log.changes).To(HaveLen(1))
		Expect(log.last().Err).To(MatchError(cause))
		Expect(list.Err()).To(MatchError(cause))

		_, err := list.Snapshot()
		Expect(err).To(MatchError(cause))
		_, err = list.Write(func(tx *Txn) error { return nil })
		Expect(err).To(MatchError(cause))
		_, err = list.Observe(log.handler())
		Expect(err).To(HaveOccurred())

		list.Invalidate(nil)
		Expect(log.changes).To(HaveLen(1))
	})

	It("should use the default invalidation error", func() {
		list.Invalidate(nil)
		_, err := list.Snapshot()
		Expect(errors.Is(err, ErrInvalidated)).To(BeTrue())
	})
})
