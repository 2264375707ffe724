package results

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultOK          = "ok"
	resultKeyError    = "key_error"
	resultInvalidated = "invalidated"
)

var (
	recomputeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "livesections_recomputations_total",
		Help: "Total number of section index recomputations by result",
	}, []string{"result"})

	recomputeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "livesections_recomputation_duration_seconds",
		Help:    "Duration of section index recomputations",
		Buckets: []float64{0.00001, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	})

	deliveryTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "livesections_deliveries_total",
		Help: "Total number of notifications dispatched to subscriptions",
	})

	subscriptionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "livesections_subscriptions",
		Help: "Current number of live subscriptions",
	})
)

// RegisterMetrics registers the collectors of the package. Registering the same collectors twice
// with the same registerer is not an error.
func RegisterMetrics(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{recomputeTotal, recomputeDuration, deliveryTotal, subscriptionsGauge} {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}
