package configbinder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleStepConfig struct {
	JobID    string        `yaml:"jobId"`
	Strict   bool          `yaml:"strict"`
	Limit    int           `yaml:"limit"`
	Timeout  time.Duration `yaml:"timeout"`
	JobIDs   []string      `yaml:"jobIds"`
	RemapKey string        `yaml:"remapKey"`
}

func TestBindProperties_WeakTypes(t *testing.T) {
	var cfg sampleStepConfig
	err := BindProperties(map[string]interface{}{
		"jobId":   "job-1",
		"strict":  "true",
		"limit":   "25",
		"timeout": "250ms",
		"jobIds":  "a,b",
	}, &cfg)
	require.NoError(t, err)

	assert.Equal(t, "job-1", cfg.JobID)
	assert.True(t, cfg.Strict)
	assert.Equal(t, 25, cfg.Limit)
	assert.Equal(t, 250*time.Millisecond, cfg.Timeout)
	assert.Equal(t, []string{"a", "b"}, cfg.JobIDs)
}

func TestBindProperties_EmptyIsNoop(t *testing.T) {
	cfg := sampleStepConfig{JobID: "keep"}
	require.NoError(t, BindProperties(nil, &cfg))
	assert.Equal(t, "keep", cfg.JobID)
}

func TestBindStrict_RejectsUnknownKeys(t *testing.T) {
	var cfg sampleStepConfig
	err := BindStrict(map[string]interface{}{"jobId": "x", "jobid_typo": "y"}, &cfg)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "sampleStepConfig")
}
