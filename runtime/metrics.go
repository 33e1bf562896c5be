package runtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	tracer = otel.Tracer("stemflow.runtime")

	nodeRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemflow_node_runs_total",
		Help: "Node executions by pipeline, node and result",
	}, []string{"pipeline", "node", "result"})

	nodeRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stemflow_node_duration_seconds",
		Help:    "Node process duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10), // 1ms to ~4min
	}, []string{"pipeline", "node"})

	nodeActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stemflow_node_active",
		Help: "Nodes currently executing",
	}, []string{"pipeline"})

	pipelineRunTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stemflow_pipeline_runs_total",
		Help: "Pipeline runs by pipeline and result",
	}, []string{"pipeline", "result"})

	pipelineRunDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stemflow_pipeline_duration_seconds",
		Help:    "Pipeline run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"pipeline"})
)

const (
	resultSuccess = "success"
	resultFailure = "failure"
	resultSkipped = "skipped"
)

func resultLabel(err error) string {
	if err != nil {
		return resultFailure
	}
	return resultSuccess
}
