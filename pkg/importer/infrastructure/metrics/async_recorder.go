package metrics

import (
	"context"
	"sync"
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

type eventType int

const (
	eventJobStart eventType = iota
	eventJobEnd
	eventBatchCommit
	eventWriteRetry
	eventStepEnd
	eventPreview
)

// metricEvent carries snapshots, never the live job or plan.
type metricEvent struct {
	kind     eventType
	job      *model.ImportJob
	commit   model.BatchCommit
	plan     *model.MigrationPlan
	step     *model.MigrationStep
	entity   model.EntityType
	reason   string
	tenantID string
	rows     int
	duration time.Duration
}

// AsyncMetricRecorder queues metric calls and replays them on a worker goroutine,
// so slow backends never stall the batch loop. Events are dropped when the queue is full.
type AsyncMetricRecorder struct {
	queue  chan metricEvent
	stopCh chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	target metrics.MetricRecorder
}

// NewAsyncMetricRecorder starts the worker. bufferSize <= 0 selects 256.
func NewAsyncMetricRecorder(bufferSize int, syncRecorder metrics.MetricRecorder) *AsyncMetricRecorder {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	r := &AsyncMetricRecorder{
		queue:  make(chan metricEvent, bufferSize),
		stopCh: make(chan struct{}),
		target: syncRecorder,
	}
	r.wg.Add(1)
	go r.run()
	return r
}

func (r *AsyncMetricRecorder) run() {
	defer r.wg.Done()
	for {
		select {
		case ev := <-r.queue:
			r.process(ev)
		case <-r.stopCh:
			for {
				select {
				case ev := <-r.queue:
					r.process(ev)
				default:
					return
				}
			}
		}
	}
}

func (r *AsyncMetricRecorder) process(ev metricEvent) {
	ctx := context.Background()
	switch ev.kind {
	case eventJobStart:
		r.target.RecordJobStart(ctx, ev.job)
	case eventJobEnd:
		r.target.RecordJobEnd(ctx, ev.job, ev.duration)
	case eventBatchCommit:
		r.target.RecordBatchCommit(ctx, ev.job, ev.commit, ev.duration)
	case eventWriteRetry:
		r.target.RecordWriteRetry(ctx, ev.entity, ev.reason)
	case eventStepEnd:
		r.target.RecordStepEnd(ctx, ev.plan, ev.step, ev.duration)
	case eventPreview:
		r.target.RecordPreview(ctx, ev.tenantID, ev.rows, ev.duration)
	}
}

// Close stops accepting events and drains the queue.
func (r *AsyncMetricRecorder) Close() {
	r.once.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *AsyncMetricRecorder) send(ev metricEvent) {
	select {
	case <-r.stopCh:
		return
	default:
	}
	select {
	case r.queue <- ev:
	default:
		logger.Warnf("AsyncMetricRecorder: event queue is full, event discarded.")
	}
}

func snapshotJob(job *model.ImportJob) *model.ImportJob {
	c := *job
	c.ErrorLog, c.ProgressLog, c.Metadata = nil, nil, nil
	return &c
}

func (r *AsyncMetricRecorder) RecordJobStart(ctx context.Context, job *model.ImportJob) {
	r.send(metricEvent{kind: eventJobStart, job: snapshotJob(job)})
}

func (r *AsyncMetricRecorder) RecordJobEnd(ctx context.Context, job *model.ImportJob, duration time.Duration) {
	r.send(metricEvent{kind: eventJobEnd, job: snapshotJob(job), duration: duration})
}

func (r *AsyncMetricRecorder) RecordBatchCommit(ctx context.Context, job *model.ImportJob, commit model.BatchCommit, duration time.Duration) {
	commit.Records, commit.Errors = nil, nil
	r.send(metricEvent{kind: eventBatchCommit, job: snapshotJob(job), commit: commit, duration: duration})
}

func (r *AsyncMetricRecorder) RecordWriteRetry(ctx context.Context, entity model.EntityType, reason string) {
	r.send(metricEvent{kind: eventWriteRetry, entity: entity, reason: reason})
}

func (r *AsyncMetricRecorder) RecordStepEnd(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep, duration time.Duration) {
	p := model.MigrationPlan{ID: plan.ID, TenantID: plan.TenantID, Name: plan.Name, Status: plan.Status}
	s := *step
	s.Config, s.Result = nil, nil
	r.send(metricEvent{kind: eventStepEnd, plan: &p, step: &s, duration: duration})
}

func (r *AsyncMetricRecorder) RecordPreview(ctx context.Context, tenantID string, rows int, duration time.Duration) {
	r.send(metricEvent{kind: eventPreview, tenantID: tenantID, rows: rows, duration: duration})
}

var _ metrics.MetricRecorder = (*AsyncMetricRecorder)(nil)
