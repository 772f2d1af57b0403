// Package preview profiles a bounded sample of raw records and runs the compiled mapping
// and validation over it without persisting anything.
//
// Generate is deterministic: the same sample and mapping always produce byte-identical JSON.
// The output therefore carries no timestamps, and every collection is emitted in a fixed order.
package preview

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/zeebo/xxh3"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/metrics"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/mapping"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/validation"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/typeinfer"
)

const (
	DefaultSampleSize    = 10
	DefaultMaxSampleRows = 5
)

// Options bounds the preview.
type Options struct {
	// SampleSize caps how many records are profiled and evaluated.
	SampleSize int
	// MaxSampleRows caps how many evaluated rows are returned.
	MaxSampleRows int
}

func (o Options) withDefaults() Options {
	if o.SampleSize <= 0 {
		o.SampleSize = DefaultSampleSize
	}
	if o.MaxSampleRows <= 0 {
		o.MaxSampleRows = DefaultMaxSampleRows
	}
	return o
}

// Column is the profile of one source header.
type Column struct {
	Name       string               `json:"name"`
	Normalized string               `json:"normalized"`
	Type       typeinfer.ColumnType `json:"type"`
	Layout     string               `json:"layout,omitempty"`
	Nulls      int                  `json:"nulls"`
	Unique     int                  `json:"unique"`
	Target     string               `json:"target,omitempty"`
}

// Row is one evaluated sample record.
type Row struct {
	Index    int                     `json:"index"`
	Target   model.FieldBag          `json:"target"`
	Status   model.RecordStatus      `json:"status"`
	Errors   []model.ValidationIssue `json:"errors,omitempty"`
	Warnings []model.ValidationIssue `json:"warnings,omitempty"`
}

// IssueCount is the number of issues carrying one code.
type IssueCount struct {
	Code  exception.Code `json:"code"`
	Count int            `json:"count"`
}

// Preview is the result of Generate.
type Preview struct {
	Headers     []string     `json:"headers"`
	Columns     []Column     `json:"columns"`
	SampledRows int          `json:"sampledRows"`
	ValidRows   int          `json:"validRows"`
	InvalidRows int          `json:"invalidRows"`
	WarningRows int          `json:"warningRows"`
	Rows        []Row        `json:"rows"`
	Issues      []IssueCount `json:"issues"`
	Fingerprint string       `json:"fingerprint"`
}

// Generate profiles sample and, when compiled is not nil, evaluates it. It never writes.
func Generate(ctx context.Context, sample []model.FieldBag, compiled *mapping.Compiled, opts Options) (*Preview, error) {
	opts = opts.withDefaults()
	if len(sample) > opts.SampleSize {
		sample = sample[:opts.SampleSize]
	}

	p := &Preview{SampledRows: len(sample), Rows: []Row{}, Issues: []IssueCount{}}
	p.Headers = headers(sample)

	targets := map[string]string{}
	if compiled != nil {
		for _, target := range compiled.Targets() {
			if source, ok := compiled.SourceOf(target); ok {
				targets[source] = target
			}
		}
	}

	p.Columns = make([]Column, 0, len(p.Headers))
	for _, h := range p.Headers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p.Columns = append(p.Columns, profile(h, sample, targets[h]))
	}

	if compiled != nil {
		counts := map[exception.Code]int{}
		for i, raw := range sample {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			v := compiled.Evaluate(raw)
			switch {
			case v.Failed():
				p.InvalidRows++
			case len(v.Warnings) > 0:
				p.WarningRows++
				p.ValidRows++
			default:
				p.ValidRows++
			}
			for _, issue := range v.Errors {
				counts[issue.Code]++
			}
			for _, issue := range v.Warnings {
				counts[issue.Code]++
			}
			if len(p.Rows) < opts.MaxSampleRows {
				p.Rows = append(p.Rows, Row{Index: i, Target: v.Target, Status: v.Status, Errors: v.Errors, Warnings: v.Warnings})
			}
		}
		for _, code := range exception.Codes {
			if n := counts[code]; n > 0 {
				p.Issues = append(p.Issues, IssueCount{Code: code, Count: n})
			}
		}
	}

	fp, err := fingerprint(p)
	if err != nil {
		return nil, err
	}
	p.Fingerprint = fp
	return p, nil
}

// headers returns every key of the sample in first-seen order.
func headers(sample []model.FieldBag) []string {
	seen := map[string]struct{}{}
	out := []string{}
	for _, raw := range sample {
		for _, k := range raw.Keys() {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func profile(header string, sample []model.FieldBag, target string) Column {
	col := Column{Name: header, Normalized: typeinfer.NormalizeHeader(header), Target: target}
	values := make([]string, 0, len(sample))
	distinct := map[string]struct{}{}
	for _, raw := range sample {
		v, ok := raw.Get(header)
		if !ok || validation.IsEmpty(v) {
			col.Nulls++
			continue
		}
		s := transform.Stringify(v)
		values = append(values, s)
		distinct[s] = struct{}{}
	}
	col.Unique = len(distinct)
	col.Type = typeinfer.InferColumn(values)
	switch col.Type {
	case typeinfer.TypeDate:
		col.Layout = typeinfer.BestLayout(values, typeinfer.DateLayouts)
	case typeinfer.TypeTimestamp:
		col.Layout = typeinfer.BestLayout(values, typeinfer.TimestampLayouts)
	}
	return col
}

// fingerprint hashes the canonical JSON of p without its fingerprint.
func fingerprint(p *Preview) (string, error) {
	clone := *p
	clone.Fingerprint = ""
	data, err := json.Marshal(clone)
	if err != nil {
		return "", exception.NewPermanentError("preview", "cannot encode preview", err)
	}
	return fmt.Sprintf("%016x", xxh3.Hash(data)), nil
}

// Generator wraps Generate with engine defaults and metrics.
type Generator struct {
	opts     Options
	recorder metrics.MetricRecorder
}

// NewGenerator creates a Generator. A nil recorder disables metrics.
func NewGenerator(opts Options, recorder metrics.MetricRecorder) *Generator {
	if recorder == nil {
		recorder = metrics.NewNoOpMetricRecorder()
	}
	return &Generator{opts: opts.withDefaults(), recorder: recorder}
}

// Preview runs Generate for a tenant's sample. Zero-valued opts fields use the generator's defaults.
func (g *Generator) Preview(ctx context.Context, tenantID string, sample []model.FieldBag, compiled *mapping.Compiled, opts Options) (*Preview, error) {
	if opts.SampleSize <= 0 {
		opts.SampleSize = g.opts.SampleSize
	}
	if opts.MaxSampleRows <= 0 {
		opts.MaxSampleRows = g.opts.MaxSampleRows
	}
	start := time.Now()
	p, err := Generate(ctx, sample, compiled, opts)
	if err != nil {
		return nil, err
	}
	g.recorder.RecordPreview(ctx, tenantID, p.SampledRows, time.Since(start))
	return p, nil
}
