package collection

import (
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/livesections/pkg/object"
)

var _ = Describe("Query", func() {
	var (
		list *List
		log  *changeLog
	)

	BeforeEach(func() {
		var err error
		list, err = NewListFromDocuments([]object.Document{
			object.MustNew("id", "1", "name", "Alice", "age", int64(31)),
			object.MustNew("id", "2", "name", "Bob", "age", int64(25)),
			object.MustNew("id", "3", "name", "Carol", "age", int64(42)),
			object.MustNew("id", "4", "name", "Dave", "age", int64(37)),
		}, ListOptions{})
		Expect(err).NotTo(HaveOccurred())
		log = &changeLog{}
	})

	It("should filter the source", func() {
		q, err := NewQuery(list, QueryOptions{Where: "age >= 30"})
		Expect(err).NotTo(HaveOccurred())
		defer q.Close()

		docs, err := q.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(docs)).To(Equal([]any{"1", "3", "4"}))
	})

	It("should sort the source", func() {
		q, err := NewQuery(list, QueryOptions{SortBy: "age", Descending: true})
		Expect(err).NotTo(HaveOccurred())
		defer q.Close()

		docs, err := q.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(docs)).To(Equal([]any{"3", "4", "1", "2"}))
	})

	It("should reject an invalid predicate", func() {
		_, err := NewQuery(list, QueryOptions{Where: "age >="})
		Expect(err).To(HaveOccurred())
		_, err = NewQuery(list, QueryOptions{SortBy: "$.a["})
		Expect(err).To(HaveOccurred())
	})

	It("should follow the changes of the source", func() {
		q, err := NewQuery(list, QueryOptions{Where: "age >= 30", SortBy: "$.age"})
		Expect(err).NotTo(HaveOccurred())
		defer q.Close()
		_, err = q.Observe(log.handler())
		Expect(err).NotTo(HaveOccurred())

		// Bob enters the results
		_, err = list.Write(func(tx *Txn) error {
			return tx.Update(1, object.MustNew("name", "Bob", "age", int64(33)))
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(log.changes).To(HaveLen(1))
		Expect(log.last().Insertions).To(Equal([]int{1}))

		docs, err := q.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(ids(docs)).To(Equal([]any{"1", "2", "4", "3"}))

		// Alice is renamed in place
		_, err = list.Write(func(tx *Txn) error {
			return tx.Update(0, object.MustNew("name", "Alicia", "age", int64(31)))
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(log.last().Modifications).To(Equal([]int{0}))

		// a change outside of the results is not reported
		_, err = list.Write(func(tx *Txn) error {
			_, err := tx.Append(object.MustNew("id", "5", "name", "Eve", "age", int64(12)))
			return err
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(log.changes).To(HaveLen(2))
	})

	It("should stop following the source when closed", func() {
		q, err := NewQuery(list, QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		_, err = q.Observe(log.handler())
		Expect(err).NotTo(HaveOccurred())
		q.Close()

		_, err = list.Write(func(tx *Txn) error { return tx.Remove(0) })
		Expect(err).NotTo(HaveOccurred())
		Expect(log.changes).To(BeEmpty())

		docs, err := q.Snapshot()
		Expect(err).NotTo(HaveOccurred())
		Expect(docs).To(HaveLen(4))
	})

	It("should propagate the invalidation of the source", func() {
		q, err := NewQuery(list, QueryOptions{})
		Expect(err).NotTo(HaveOccurred())
		_, err = q.Observe(log.handler())
		Expect(err).NotTo(HaveOccurred())

		cause := errors.New("source gone")
		list.Invalidate(cause)
		Expect(log.changes).To(HaveLen(1))
		Expect(log.last().Err).To(MatchError(cause))

		_, err = q.Snapshot()
		Expect(err).To(MatchError(cause))
		Expect(q.Err()).To(MatchError(cause))
	})
})
