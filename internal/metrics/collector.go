package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// statusOK mirrors the registry's healthy status value.
const statusOK = "OK"

type Collector struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec

	ensembleDuration   prometheus.Histogram
	ensembleFanoutSize prometheus.Histogram

	modelUp          *prometheus.GaugeVec
	probeRoundsTotal prometheus.Counter
	probeFailures    *prometheus.CounterVec

	quotaRejectionsTotal *prometheus.CounterVec
}

// NewCollector registers every metric against reg. Production passes
// prometheus.DefaultRegisterer; tests pass a fresh registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)
	return &Collector{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arima_requests_total",
			Help: "Backend requests by model, mode and outcome",
		}, []string{"model", "mode", "outcome"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "arima_request_duration_seconds",
			Help:    "Backend request duration",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
		}, []string{"model", "mode"}),

		ensembleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arima_ensemble_duration_seconds",
			Help:    "Wall-clock duration of full ensemble rounds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		ensembleFanoutSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "arima_ensemble_successful_participants",
			Help:    "Participants that returned a usable response per round",
			Buckets: prometheus.LinearBuckets(0, 1, 8),
		}),

		modelUp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "arima_model_up",
			Help: "1 if the model passed its last probe, 0 otherwise",
		}, []string{"model"}),

		probeRoundsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "arima_probe_rounds_total",
			Help: "Completed probe rounds",
		}),

		probeFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arima_probe_failures_total",
			Help: "Failed probes by model",
		}, []string{"model"}),

		quotaRejectionsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "arima_quota_rejections_total",
			Help: "Admission rejections by mode",
		}, []string{"mode"}),
	}
}

func (c *Collector) RecordRequest(model, mode, outcome string, duration time.Duration) {
	c.requestsTotal.WithLabelValues(model, mode, outcome).Inc()
	c.requestDuration.WithLabelValues(model, mode).Observe(duration.Seconds())
}

func (c *Collector) RecordEnsemble(duration time.Duration, successful int) {
	c.ensembleDuration.Observe(duration.Seconds())
	c.ensembleFanoutSize.Observe(float64(successful))
}

func (c *Collector) RecordQuotaRejection(mode string) {
	c.quotaRejectionsTotal.WithLabelValues(mode).Inc()
}

func (c *Collector) RecordProbeRound(statuses map[string]string) {
	c.probeRoundsTotal.Inc()
	for model, status := range statuses {
		if status == statusOK {
			c.modelUp.WithLabelValues(model).Set(1)
		} else {
			c.modelUp.WithLabelValues(model).Set(0)
			c.probeFailures.WithLabelValues(model).Inc()
		}
	}
}
