package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "godeploy",
			Name:      "queue_depth",
			Help:      "Number of deployment jobs waiting in the backlog.",
		},
	)
	deploymentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "godeploy",
			Name:      "deployments_total",
			Help:      "Finished deployments grouped by terminal status.",
		},
		[]string{"status"},
	)
	buildDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "godeploy",
			Name:      "build_duration_seconds",
			Help:      "Wall time of a deployment from Building to its terminal status.",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
	)
	artifactUploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "godeploy",
			Name:      "artifact_uploads_total",
			Help:      "Artifact file uploads grouped by result.",
		},
		[]string{"result"},
	)
	logSubscribers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "godeploy",
			Name:      "log_subscribers",
			Help:      "Live log subscribers across all open channels.",
		},
	)
)

func init() {
	Register()
}

// Register adds the collectors to the default registry once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			queueDepth,
			deploymentsTotal,
			buildDuration,
			artifactUploadsTotal,
			logSubscribers,
		)
	})
}

func SetQueueDepth(n int) {
	queueDepth.Set(float64(n))
}

func ObserveDeployment(status string, elapsed time.Duration) {
	deploymentsTotal.WithLabelValues(status).Inc()
	buildDuration.Observe(elapsed.Seconds())
}

func ObserveUpload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	artifactUploadsTotal.WithLabelValues(result).Inc()
}

func AddLogSubscribers(delta int) {
	logSubscribers.Add(float64(delta))
}
