package migration

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/executor"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/mapping"
)

// ExecutorParams defines the dependencies of NewExecutorFromParams.
type ExecutorParams struct {
	fx.In
	Plans      repository.PlanStore
	Jobs       repository.JobStore
	Reader     repository.EntityReader
	Writer     repository.EntityWriter
	Runner     *executor.Executor
	Engine     *config.EngineConfig
	System     *config.SystemConfig
	Archiver   ErrorArchiver          `optional:"true"`
	Validators port.ValidatorRegistry `optional:"true"`
	Lookups    port.LookupTables      `optional:"true"`
	Recorder   metrics.MetricRecorder `optional:"true"`
	Tracer     metrics.Tracer         `optional:"true"`
	Listeners  []port.StepListener    `group:"step_listeners"`
}

// NewExecutorFromParams builds a plan Executor with the built-in step handlers.
func NewExecutorFromParams(p ExecutorParams) *Executor {
	handlers := DefaultHandlers(HandlerDeps{
		Runner:   p.Runner,
		Jobs:     p.Jobs,
		Reader:   p.Reader,
		Writer:   p.Writer,
		Archiver: p.Archiver,
		Mapping: mapping.Dependencies{
			Validators: p.Validators,
			Lookups:    p.Lookups,
			Timezone:   p.System.Timezone,
		},
	})
	opts := []Option{WithMetricRecorder(p.Recorder), WithTracer(p.Tracer)}
	for _, l := range p.Listeners {
		opts = append(opts, WithStepListener(l))
	}
	return NewExecutor(p.Plans, handlers, p.Engine.MaxParallelSteps, opts...)
}

// Module provides the migration plan Executor.
var Module = fx.Options(
	fx.Provide(NewExecutorFromParams),
)
