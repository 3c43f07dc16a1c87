package nativecrypto

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Handle kinds used as the "kind" label.
const (
	kindAlgorithm   = "algorithm"
	kindCertificate = "certificate"
	kindKey         = "key"
)

type metrics struct {
	open     *prometheus.GaugeVec
	failures *prometheus.CounterVec
}

func newMetrics() *metrics {
	return &metrics{
		open: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xsec",
			Subsystem: "native",
			Name:      "open_handles",
			Help:      "Native handles currently held, by kind.",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xsec",
			Subsystem: "native",
			Name:      "acquire_failures_total",
			Help:      "Native handle acquisitions that failed, by kind.",
		}, []string{"kind"}),
	}
}

// register adds the collectors to r. A provider created after an earlier
// one was shut down reuses the collectors already registered.
func (m *metrics) register(r prometheus.Registerer) error {
	if err := r.Register(m.open); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		m.open = are.ExistingCollector.(*prometheus.GaugeVec)
	}
	if err := r.Register(m.failures); err != nil {
		var are prometheus.AlreadyRegisteredError
		if !errors.As(err, &are) {
			return err
		}
		m.failures = are.ExistingCollector.(*prometheus.CounterVec)
	}
	return nil
}

func (m *metrics) opened(kind string)   { m.open.WithLabelValues(kind).Inc() }
func (m *metrics) released(kind string) { m.open.WithLabelValues(kind).Dec() }
func (m *metrics) failed(kind string)   { m.failures.WithLabelValues(kind).Inc() }
