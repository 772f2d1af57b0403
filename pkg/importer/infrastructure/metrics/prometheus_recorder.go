// Package metrics provides the Prometheus and OpenTelemetry backends of the MetricRecorder and Tracer ports.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of metrics.MetricRecorder.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	jobStartCounter    *prometheus.CounterVec
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	batchDurationSeconds *prometheus.HistogramVec
	recordCounter        *prometheus.CounterVec
	writeRetryCounter    *prometheus.CounterVec

	stepDurationSeconds *prometheus.HistogramVec
	stepStatusCounter   *prometheus.CounterVec

	previewDurationSeconds prometheus.Histogram
	previewRows            prometheus.Counter
}

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobStartCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_job_started_total",
			Help: "Total number of import job runs started.",
		}, []string{"entity"}),
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "importer_job_duration_seconds",
			Help:    "Wall time of import job runs.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"entity", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_job_status_total",
			Help: "Total number of import job runs by final status.",
		}, []string{"entity", "status"}),
		batchDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "importer_batch_duration_seconds",
			Help:    "Duration of batch evaluation and commit.",
			Buckets: prometheus.DefBuckets,
		}, []string{"entity"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_records_total",
			Help: "Total records committed by outcome.",
		}, []string{"entity", "status"}),
		writeRetryCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_write_retry_total",
			Help: "Total retried entity writes by reason.",
		}, []string{"entity", "reason"}),
		stepDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "importer_migration_step_duration_seconds",
			Help:    "Duration of migration steps.",
			Buckets: prometheus.ExponentialBuckets(0.1, 4, 8),
		}, []string{"type", "status"}),
		stepStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "importer_migration_step_status_total",
			Help: "Total migration steps by final status.",
		}, []string{"type", "status"}),
		previewDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "importer_preview_duration_seconds",
			Help:    "Duration of preview runs.",
			Buckets: prometheus.DefBuckets,
		}),
		previewRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "importer_preview_rows_total",
			Help: "Total sample rows evaluated by previews.",
		}),
	}

	registry.MustRegister(
		r.jobStartCounter,
		r.jobDurationSeconds,
		r.jobStatusCounter,
		r.batchDurationSeconds,
		r.recordCounter,
		r.writeRetryCounter,
		r.stepDurationSeconds,
		r.stepStatusCounter,
		r.previewDurationSeconds,
		r.previewRows,
	)
	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, job *model.ImportJob) {
	r.jobStartCounter.WithLabelValues(string(job.TargetEntity)).Inc()
}

func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, job *model.ImportJob, duration time.Duration) {
	entity, status := string(job.TargetEntity), string(job.Status)
	r.jobDurationSeconds.WithLabelValues(entity, status).Observe(duration.Seconds())
	r.jobStatusCounter.WithLabelValues(entity, status).Inc()
	logger.Debugf("Metrics: job '%s' ended with status %s after %.3fs.", job.ID, status, duration.Seconds())
}

func (r *PrometheusRecorder) RecordBatchCommit(ctx context.Context, job *model.ImportJob, commit model.BatchCommit, duration time.Duration) {
	entity := string(job.TargetEntity)
	r.batchDurationSeconds.WithLabelValues(entity).Observe(duration.Seconds())
	for status, n := range map[model.RecordStatus]int64{
		model.RecordStatusSuccess:   commit.Delta.Successful,
		model.RecordStatusFailed:    commit.Delta.Failed,
		model.RecordStatusDuplicate: commit.Delta.Duplicate,
		model.RecordStatusSkipped:   commit.Delta.Skipped,
	} {
		if n > 0 {
			r.recordCounter.WithLabelValues(entity, string(status)).Add(float64(n))
		}
	}
}

func (r *PrometheusRecorder) RecordWriteRetry(ctx context.Context, entity model.EntityType, reason string) {
	r.writeRetryCounter.WithLabelValues(string(entity), reason).Inc()
}

func (r *PrometheusRecorder) RecordStepEnd(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep, duration time.Duration) {
	stepType, status := string(step.Type), string(step.Status)
	r.stepDurationSeconds.WithLabelValues(stepType, status).Observe(duration.Seconds())
	r.stepStatusCounter.WithLabelValues(stepType, status).Inc()
}

func (r *PrometheusRecorder) RecordPreview(ctx context.Context, tenantID string, rows int, duration time.Duration) {
	r.previewDurationSeconds.Observe(duration.Seconds())
	r.previewRows.Add(float64(rows))
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
