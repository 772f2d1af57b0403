// Package migration runs migration plans: dependency-ordered sets of steps that wrap
// import runs and the auxiliary actions around them (verification, reference fixup,
// error-log archival).
//
// A single scheduler goroutine owns the plan document. It starts every step whose
// dependencies completed, up to a parallelism cap, and persists the plan after each
// status change. Step handlers run in their own goroutines and report back over a channel.
package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// ErrConcurrentExecution is returned when another run already claimed the plan.
var ErrConcurrentExecution = errors.New("migration plan is already being executed")

func init() {
	exception.RegisterErrorType("ErrConcurrentPlanExecution", ErrConcurrentExecution)
}

// Resources carries what steps need beyond stored documents.
type Resources struct {
	// Sources holds the row source of each import job, keyed by job id.
	Sources map[string]port.RowSource
}

// StepInput is what a handler sees of the plan.
type StepInput struct {
	TenantID string
	PlanID   string
	Step     model.MigrationStep
	// IDRemap is a snapshot of the plan's remap table when the step started.
	IDRemap   map[string]map[string]string
	Resources Resources
}

// StepOutput is what a handler reports back.
type StepOutput struct {
	Result map[string]interface{}
	// Remap holds entity → source key → entity id entries to merge into the plan.
	Remap map[string]map[string]string
}

// StepHandler executes one step type.
type StepHandler interface {
	Execute(ctx context.Context, in StepInput) (StepOutput, error)
}

// StepHandlerFunc adapts a function to StepHandler.
type StepHandlerFunc func(ctx context.Context, in StepInput) (StepOutput, error)

func (f StepHandlerFunc) Execute(ctx context.Context, in StepInput) (StepOutput, error) {
	return f(ctx, in)
}

// Executor runs migration plans.
type Executor struct {
	plans       repository.PlanStore
	handlers    map[model.StepType]StepHandler
	maxParallel int
	recorder    metrics.MetricRecorder
	tracer      metrics.Tracer
	listeners   []port.StepListener
	now         func() time.Time
}

// Option customizes an Executor.
type Option func(*Executor)

// WithMetricRecorder sets the metric recorder.
func WithMetricRecorder(r metrics.MetricRecorder) Option {
	return func(e *Executor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t metrics.Tracer) Option {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithStepListener adds a step listener.
func WithStepListener(l port.StepListener) Option {
	return func(e *Executor) { e.listeners = append(e.listeners, l) }
}

// WithHandler registers or replaces the handler of one step type.
func WithHandler(t model.StepType, h StepHandler) Option {
	return func(e *Executor) { e.handlers[t] = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Executor) { e.now = now }
}

// NewExecutor creates an Executor running at most maxParallel steps of a plan at once.
func NewExecutor(plans repository.PlanStore, handlers map[model.StepType]StepHandler, maxParallel int, opts ...Option) *Executor {
	if maxParallel <= 0 {
		maxParallel = 1
	}
	e := &Executor{
		plans:       plans,
		handlers:    make(map[model.StepType]StepHandler, len(handlers)),
		maxParallel: maxParallel,
		recorder:    metrics.NewNoOpMetricRecorder(),
		tracer:      metrics.NewNoOpTracer(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for t, h := range handlers {
		e.handlers[t] = h
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type stepDone struct {
	id      string
	out     StepOutput
	err     error
	elapsed time.Duration
	// endSpan is called by the scheduler once the step's final status is set.
	endSpan func()
}

// Run executes a pending plan and returns it as last persisted.
//
// Cancelling ctx stops new steps from starting; running steps finish and the plan ends
// cancelled. A plan that ends failed or cancelled is a result, not an error.
func (e *Executor) Run(ctx context.Context, tenantID, planID string, res Resources) (*model.MigrationPlan, error) {
	persist := context.WithoutCancel(ctx)
	plan, err := e.plans.FindPlan(ctx, tenantID, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != model.PlanStatusPending {
		return plan, exception.NewPermanentError("migration", fmt.Sprintf("plan %s is %s, only pending plans can be run", planID, plan.Status), nil)
	}

	order, verr := e.validate(plan)
	now := e.now()
	plan.StartedAt = &now
	if verr != nil {
		logger.Errorf("Migration plan '%s' is invalid: %v", plan.ID, verr)
		e.finishPlan(plan, model.PlanStatusFailed)
		if plan.Metadata == nil {
			plan.Metadata = map[string]interface{}{}
		}
		plan.Metadata["error"] = exception.ExtractErrorMessage(verr)
		if err := e.plans.UpdatePlan(persist, plan); err != nil {
			return nil, claimError(err)
		}
		return plan, nil
	}

	plan.Status = model.PlanStatusRunning
	if err := e.plans.UpdatePlan(persist, plan); err != nil {
		return nil, claimError(err)
	}
	logger.Infof("Migration plan '%s' (tenant %s) started with %d steps.", plan.ID, plan.TenantID, len(plan.Steps))

	results := make(chan stepDone)
	running := 0
	interrupted := ctx.Err() != nil
	stopping := interrupted
	cancelled := ctx.Done()
	var fatal error

	for {
		if !stopping && ctx.Err() != nil {
			stopping, interrupted = true, true
			cancelled = nil
		}
		if !stopping {
			for _, id := range order {
				if running >= e.maxParallel {
					break
				}
				step, _ := plan.Step(id)
				if step.Status != model.StepStatusPending {
					continue
				}
				switch blocker := e.blocker(plan, step); {
				case blocker != nil:
					e.skip(plan, step, fmt.Sprintf("dependency '%s' %s", blocker.ID, blocker.Status))
				case e.ready(plan, step):
					e.start(ctx, plan, step, res, results)
					running++
				default:
					continue
				}
				if err := e.plans.UpdatePlan(persist, plan); err != nil {
					fatal, stopping = err, true
					break
				}
			}
		}
		if running == 0 {
			break
		}

		select {
		case d := <-results:
			running--
			e.complete(persist, plan, d)
			if err := e.plans.UpdatePlan(persist, plan); err != nil && fatal == nil {
				fatal, stopping = err, true
			}
		case <-cancelled:
			logger.Warnf("Migration plan '%s': cancellation requested, waiting for %d running steps.", plan.ID, running)
			stopping, interrupted = true, true
			cancelled = nil
		}
	}

	if fatal != nil {
		logger.Errorf("Migration plan '%s': cannot persist plan: %v", plan.ID, fatal)
		return plan, claimError(fatal)
	}

	status := model.PlanStatusCompleted
	for i := range plan.Steps {
		s := &plan.Steps[i]
		if s.Status == model.StepStatusPending && interrupted {
			e.skip(plan, s, "plan cancelled")
			status = model.PlanStatusCancelled
		}
	}
	if status != model.PlanStatusCancelled {
		for _, s := range plan.Steps {
			if s.Status == model.StepStatusFailed && s.NonSkippable {
				status = model.PlanStatusFailed
			}
		}
	}
	e.finishPlan(plan, status)
	if err := e.plans.UpdatePlan(persist, plan); err != nil {
		return plan, claimError(err)
	}
	logger.Infof("Migration plan '%s' %s.", plan.ID, plan.Status)
	return plan, nil
}

// validate checks the dependency graph and that every step type has a handler.
func (e *Executor) validate(plan *model.MigrationPlan) ([]string, error) {
	order, err := plan.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	for _, s := range plan.Steps {
		if _, ok := e.handlers[s.Type]; !ok {
			return nil, exception.NewCompilationError("migration", fmt.Sprintf("step '%s' has unknown type '%s'", s.ID, s.Type), nil)
		}
	}
	return order, nil
}

// blocker returns a dependency of step that failed or was skipped.
func (e *Executor) blocker(plan *model.MigrationPlan, step *model.MigrationStep) *model.MigrationStep {
	for _, dep := range step.DependsOn {
		d, _ := plan.Step(dep)
		if d.Status == model.StepStatusFailed || d.Status == model.StepStatusSkipped {
			return d
		}
	}
	return nil
}

func (e *Executor) ready(plan *model.MigrationPlan, step *model.MigrationStep) bool {
	for _, dep := range step.DependsOn {
		d, _ := plan.Step(dep)
		if d.Status != model.StepStatusCompleted {
			return false
		}
	}
	return true
}

func (e *Executor) start(ctx context.Context, plan *model.MigrationPlan, step *model.MigrationStep, res Resources, results chan<- stepDone) {
	now := e.now()
	step.Status = model.StepStatusRunning
	step.StartedAt = &now
	for _, l := range e.listeners {
		l.BeforeStep(ctx, plan, step)
	}
	logger.Infof("Migration plan '%s': step '%s' (%s) started.", plan.ID, step.ID, step.Type)

	in := StepInput{
		TenantID:  plan.TenantID,
		PlanID:    plan.ID,
		Step:      *step,
		IDRemap:   copyRemap(plan.IDRemap),
		Resources: res,
	}
	handler := e.handlers[step.Type]
	stepCtx, endSpan := e.tracer.StartStepSpan(context.WithoutCancel(ctx), plan, step)
	go func() {
		began := time.Now()
		out, err := handler.Execute(stepCtx, in)
		if err != nil {
			e.tracer.RecordError(stepCtx, "migration", err)
		}
		results <- stepDone{id: in.Step.ID, out: out, err: err, elapsed: time.Since(began), endSpan: endSpan}
	}()
}

// complete records a finished step and skips the dependents of a failed one.
func (e *Executor) complete(ctx context.Context, plan *model.MigrationPlan, d stepDone) {
	step, _ := plan.Step(d.id)
	now := e.now()
	step.CompletedAt = &now
	step.Result = d.out.Result
	if d.err != nil {
		step.Status = model.StepStatusFailed
		step.Error = d.err.Error()
		logger.Errorf("Migration plan '%s': step '%s' failed: %v", plan.ID, step.ID, d.err)
		for _, id := range plan.Dependents(step.ID) {
			dep, _ := plan.Step(id)
			if dep.Status == model.StepStatusPending {
				e.skip(plan, dep, fmt.Sprintf("dependency '%s' failed", step.ID))
			}
		}
	} else {
		step.Status = model.StepStatusCompleted
		for entity, keys := range d.out.Remap {
			for key, id := range keys {
				plan.AddRemap(entity, key, id)
			}
		}
		logger.Infof("Migration plan '%s': step '%s' completed.", plan.ID, step.ID)
	}
	if d.endSpan != nil {
		d.endSpan()
	}
	e.recorder.RecordStepEnd(ctx, plan, step, d.elapsed)
	for _, l := range e.listeners {
		l.AfterStep(ctx, plan, step)
	}
}

func (e *Executor) skip(plan *model.MigrationPlan, step *model.MigrationStep, reason string) {
	now := e.now()
	step.Status = model.StepStatusSkipped
	step.Error = reason
	step.CompletedAt = &now
	logger.Warnf("Migration plan '%s': step '%s' skipped: %s", plan.ID, step.ID, reason)
}

func (e *Executor) finishPlan(plan *model.MigrationPlan, status model.PlanStatus) {
	now := e.now()
	plan.Status = status
	plan.CompletedAt = &now
}

func claimError(err error) error {
	if exception.IsOptimisticLockingFailure(err) {
		return fmt.Errorf("%w: %v", ErrConcurrentExecution, err)
	}
	return err
}

func copyRemap(in map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(in))
	for entity, keys := range in {
		m := make(map[string]string, len(keys))
		for k, v := range keys {
			m[k] = v
		}
		out[entity] = m
	}
	return out
}
