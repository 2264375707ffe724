package results_test

import (
	"context"
	"fmt"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/l7mp/livesections/internal/testutils"
	"github.com/l7mp/livesections/pkg/collection"
	"github.com/l7mp/livesections/pkg/object"
	"github.com/l7mp/livesections/pkg/results"
	"github.com/l7mp/livesections/pkg/section"
)

// randomWrite applies a few random edits to the list in one transaction.
func randomWrite(rnd *rand.Rand, list *collection.List, keys []any, next *int) error {
	_, err := list.Write(func(tx *collection.Txn) error {
		for op := 0; op < 1+rnd.Intn(3); op++ {
			n := tx.Len()
			switch {
			case n > 0 && rnd.Intn(4) == 0:
				if err := tx.Remove(rnd.Intn(n)); err != nil {
					return err
				}
			case n > 0 && rnd.Intn(3) == 0:
				pos := rnd.Intn(n)
				doc, err := tx.Get(pos)
				if err != nil {
					return err
				}
				doc = object.DeepCopy(doc)
				if rnd.Intn(2) == 0 {
					doc["key"] = keys[rnd.Intn(len(keys))]
				} else {
					doc["payload"] = int64(rnd.Intn(1000))
				}
				if err := tx.Update(pos, doc); err != nil {
					return err
				}
			case n > 1 && rnd.Intn(3) == 0:
				if err := tx.Move(rnd.Intn(n), rnd.Intn(n)); err != nil {
					return err
				}
			default:
				*next++
				if _, err := tx.Insert(rnd.Intn(n+1), testutils.Doc(*next, keys[rnd.Intn(len(keys))])); err != nil {
					return err
				}
			}
		}
		return nil
	})
	return err
}

var _ = Describe("Consistency", func() {
	DescribeTable("should produce change sets that replay to the new sections",
		func(order section.OrderPolicy, seed int64) {
			rnd := rand.New(rand.NewSource(seed))
			keys := []any{"a", "b", "c", "d", "e"}
			next := 100

			list := newList(testutils.RandomDocs(rnd, 0, 15, keys))
			r := newResults(list, "$.key", order)

			view := map[section.ID][]object.Document{}
			var replayErr error
			sub, err := r.Subscribe(func(r *results.Results, cs *section.ChangeSet, err error) {
				if err != nil {
					replayErr = err
					return
				}
				x, err := r.Snapshot()
				if err != nil {
					replayErr = err
					return
				}
				view, err = testutils.ApplyChangeSet(view, x, cs)
				if err != nil {
					replayErr = fmt.Errorf("%s: %w", cs.String(), err)
				}
			}, results.SubscribeOptions{})
			Expect(err).NotTo(HaveOccurred())
			defer sub.Stop()

			for round := 0; round < 150; round++ {
				Expect(randomWrite(rnd, list, keys, &next)).To(Succeed())
				Expect(replayErr).NotTo(HaveOccurred(), "round %d", round)

				x, err := r.Snapshot()
				Expect(err).NotTo(HaveOccurred())
				Expect(view).To(Equal(testutils.Materialize(x)), "round %d", round)

				// a rebuild from scratch agrees with the incremental index
				docs, err := list.Snapshot()
				Expect(err).NotTo(HaveOccurred())
				fresh := newResults(newList(docs), "$.key", order)
				Expect(sectionKeys(fresh)).To(Equal(sectionKeys(r)))
			}
		},
		Entry("first appearance", section.FirstAppearance(), int64(1)),
		Entry("ascending", section.Ascending(), int64(2)),
		Entry("descending", section.Descending(), int64(3)),
	)

	It("should serve concurrent readers during writes", func(ctx SpecContext) {
		rnd := rand.New(rand.NewSource(99))
		keys := []any{int64(1), int64(2), int64(3), 4.5, "x"}
		next := 100

		list := newList(testutils.RandomDocs(rnd, 0, 10, keys))
		r := newResults(list, "$.key", section.Ascending())

		exec := results.NewSerialExecutor(ctx, 0)
		rec := &testutils.Recorder{}
		sub, err := r.Subscribe(rec.Callback(), results.SubscribeOptions{Executor: exec})
		Expect(err).NotTo(HaveOccurred())
		defer sub.Stop()

		gctx, cancel := context.WithCancel(ctx)
		defer cancel()
		g, gctx := errgroup.WithContext(gctx)

		for i := 0; i < 4; i++ {
			g.Go(func() error {
				for gctx.Err() == nil {
					x, err := r.Snapshot()
					if err != nil {
						return err
					}
					// every snapshot is internally consistent
					total := 0
					for i, s := range x.Sections() {
						if s.Len() == 0 {
							return fmt.Errorf("empty section %d", i)
						}
						total += s.Len()
						if _, err := x.Object(section.IndexPath{Section: i, Row: s.Len() - 1}); err != nil {
							return err
						}
					}
					if total != x.Size() {
						return fmt.Errorf("sections cover %d of %d records", total, x.Size())
					}
				}
				return nil
			})
		}

		g.Go(func() error {
			defer cancel()
			for round := 0; round < 200; round++ {
				if err := randomWrite(rnd, list, keys, &next); err != nil {
					return err
				}
			}
			return nil
		})

		Expect(g.Wait()).To(Succeed())
		Eventually(func() error {
			last := rec.Last()
			if last.Err != nil {
				return last.Err
			}
			return nil
		}, timeout, interval).Should(Succeed())
		Expect(rec.Len()).To(BeNumerically(">", 1))
	})

	It("should register the metrics", func() {
		reg := prometheus.NewRegistry()
		Expect(results.RegisterMetrics(reg)).To(Succeed())
		Expect(results.RegisterMetrics(reg)).To(Succeed())

		list := newList([]object.Document{{"id": "1", "key": "x"}})
		r := newResults(list, "$.key", section.FirstAppearance())
		sub, err := r.Subscribe(func(*results.Results, *section.ChangeSet, error) {}, results.SubscribeOptions{})
		Expect(err).NotTo(HaveOccurred())
		update(list, 0, object.Document{"key": "y"})
		sub.Stop()

		families, err := reg.Gather()
		Expect(err).NotTo(HaveOccurred())
		names := []string{}
		for _, f := range families {
			names = append(names, f.GetName())
		}
		Expect(names).To(ContainElements(
			"livesections_recomputations_total",
			"livesections_recomputation_duration_seconds",
			"livesections_deliveries_total",
			"livesections_subscriptions",
		))
	})
})
