package executor

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
)

// ExecutorParams defines the dependencies of NewExecutorFromParams.
type ExecutorParams struct {
	fx.In
	Jobs           repository.JobStore
	Writer         repository.EntityWriter
	Engine         *config.EngineConfig
	System         *config.SystemConfig
	Validators     port.ValidatorRegistry `optional:"true"`
	Lookups        port.LookupTables      `optional:"true"`
	Recorder       metrics.MetricRecorder `optional:"true"`
	Tracer         metrics.Tracer         `optional:"true"`
	JobListeners   []port.JobListener     `group:"job_listeners"`
	BatchListeners []port.BatchListener   `group:"batch_listeners"`
}

// NewExecutorFromParams builds an Executor from the fx graph.
func NewExecutorFromParams(p ExecutorParams) *Executor {
	opts := []Option{
		WithValidators(p.Validators),
		WithLookups(p.Lookups),
		WithMetricRecorder(p.Recorder),
		WithTracer(p.Tracer),
	}
	for _, l := range p.JobListeners {
		opts = append(opts, WithJobListener(l))
	}
	for _, l := range p.BatchListeners {
		opts = append(opts, WithBatchListener(l))
	}
	return NewExecutor(p.Jobs, p.Writer, *p.Engine, p.System.Timezone, opts...)
}

// NewLauncherWithLifecycle creates a Launcher whose runs are paused on application stop.
func NewLauncherWithLifecycle(lc fx.Lifecycle, executor *Executor, cfg *config.EngineConfig) *Launcher {
	l := NewLauncher(executor, cfg)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return l.Shutdown(ctx)
		},
	})
	return l
}

// Module provides the Executor and the Launcher.
var Module = fx.Options(
	fx.Provide(NewExecutorFromParams),
	fx.Provide(NewLauncherWithLifecycle),
)
