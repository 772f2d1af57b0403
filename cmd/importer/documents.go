package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/source"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
)

const defaultSourceType = "jsonlines"

// jobDocument is the JSON request describing one import job.
type jobDocument struct {
	ID              string                  `json:"id,omitempty"`
	TenantID        string                  `json:"tenantId"`
	SourceType      string                  `json:"sourceType,omitempty"`
	TargetEntity    model.EntityType        `json:"targetEntity"`
	FieldMapping    model.FieldMapping      `json:"fieldMapping"`
	ValidationRules model.ValidationRuleSet `json:"validationRules,omitempty"`
	Configuration   model.Configuration     `json:"configuration"`
	// Input is a JSON lines file, resolved relative to the document.
	Input string `json:"input,omitempty"`

	dir string
}

func (d *jobDocument) validate() error {
	if d.TenantID == "" {
		return errors.New("job document requires tenantId")
	}
	if d.TargetEntity == "" {
		return errors.New("job document requires targetEntity")
	}
	return nil
}

func (d *jobDocument) newJob() *model.ImportJob {
	sourceType := d.SourceType
	if sourceType == "" {
		sourceType = defaultSourceType
	}
	job := model.NewImportJob(d.TenantID, sourceType, d.TargetEntity, d.FieldMapping, d.ValidationRules, d.Configuration)
	if d.ID != "" {
		job.ID = d.ID
	}
	return job
}

// inputPath returns override when set, otherwise the document's input.
func (d *jobDocument) inputPath(override string) (string, error) {
	if override != "" {
		return override, nil
	}
	if d.Input == "" {
		return "", fmt.Errorf("no input file for job %q", d.ID)
	}
	if filepath.IsAbs(d.Input) {
		return d.Input, nil
	}
	return filepath.Join(d.dir, d.Input), nil
}

// planDocument is the JSON request describing a migration plan and the jobs it imports.
type planDocument struct {
	TenantID string                `json:"tenantId"`
	Name     string                `json:"name,omitempty"`
	Jobs     []jobDocument         `json:"jobs"`
	Steps    []model.MigrationStep `json:"steps"`
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func loadJobDocument(path string) (*jobDocument, error) {
	var doc jobDocument
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	doc.dir = filepath.Dir(path)
	if err := doc.validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

func loadPlanDocument(path string) (*planDocument, error) {
	var doc planDocument
	if err := readJSON(path, &doc); err != nil {
		return nil, err
	}
	if doc.TenantID == "" {
		return nil, errors.New("plan document requires tenantId")
	}
	for i := range doc.Jobs {
		job := &doc.Jobs[i]
		job.dir = filepath.Dir(path)
		if job.TenantID == "" {
			job.TenantID = doc.TenantID
		}
		if job.ID == "" {
			return nil, fmt.Errorf("plan job %d requires an id referenced by its import-batch step", i)
		}
		if err := job.validate(); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

// loadLookups reads a {"table": {"key": "value"}} document. An empty path yields nil.
func loadLookups(path string) (port.StaticLookupTables, error) {
	if path == "" {
		return nil, nil
	}
	var tables map[string]map[string]string
	if err := readJSON(path, &tables); err != nil {
		return nil, err
	}
	return port.StaticLookupTables(tables), nil
}

func openSource(path string) port.RowSource {
	return source.NewJSONLinesSource(source.FileOpener(path))
}

// readSample returns up to n rows of src.
func readSample(ctx context.Context, src port.RowSource, n int) ([]model.FieldBag, error) {
	if err := src.Open(ctx); err != nil {
		return nil, err
	}
	defer src.Close()
	var rows []model.FieldBag
	for len(rows) < n {
		row, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newPlan(doc *planDocument) *model.MigrationPlan {
	steps := make([]model.MigrationStep, len(doc.Steps))
	copy(steps, doc.Steps)
	return model.NewMigrationPlan(doc.TenantID, doc.Name, steps...)
}
