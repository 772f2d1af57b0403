package preview

import (
	"go.uber.org/fx"

	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
)

// GeneratorParams defines the dependencies of NewGeneratorFromParams.
type GeneratorParams struct {
	fx.In
	Engine   *config.EngineConfig
	Recorder metrics.MetricRecorder `optional:"true"`
}

// NewGeneratorFromParams creates a Generator bounded by the engine preview settings.
func NewGeneratorFromParams(p GeneratorParams) *Generator {
	return NewGenerator(Options{SampleSize: p.Engine.PreviewSampleSize, MaxSampleRows: p.Engine.PreviewMaxRows}, p.Recorder)
}

// Module provides the preview Generator.
var Module = fx.Options(
	fx.Provide(NewGeneratorFromParams),
)
