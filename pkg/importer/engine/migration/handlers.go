package migration

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/hashicorp/go-multierror"
	"github.com/mitchellh/mapstructure"

	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/mapping"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/transform"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/validation"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/exception"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

// pageSize is the page length used when walking a job's records or errors.
const pageSize = 500

// JobRunner runs and resumes import jobs.
type JobRunner interface {
	Run(ctx context.Context, tenantID, jobID string, source port.RowSource) (*model.ImportJob, error)
	Resume(ctx context.Context, tenantID, jobID string, source port.RowSource) (*model.ImportJob, error)
}

// ErrorArchiver writes a job's error log to object storage.
type ErrorArchiver interface {
	ArchiveErrors(ctx context.Context, storageRef, bucket, objectName string, entries []model.ImportError) error
}

// HandlerDeps are the collaborators of the built-in step handlers.
type HandlerDeps struct {
	Runner   JobRunner
	Jobs     repository.JobStore
	Reader   repository.EntityReader
	Writer   repository.EntityWriter
	Archiver ErrorArchiver
	// Mapping resolves custom validators, lookup tables and the default timezone when verify
	// steps recompile a job's mapping.
	Mapping mapping.Dependencies
}

// DefaultHandlers returns the handlers of the four built-in step types.
func DefaultHandlers(deps HandlerDeps) map[model.StepType]StepHandler {
	return map[model.StepType]StepHandler{
		model.StepTypeImportBatch:     &importBatchHandler{deps: deps},
		model.StepTypeVerify:          &verifyHandler{deps: deps},
		model.StepTypeFixupReferences: &fixupHandler{deps: deps},
		model.StepTypeCleanup:         &cleanupHandler{deps: deps},
	}
}

func decodeConfig(step model.MigrationStep, target interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return exception.NewCompilationError("migration", "cannot create step config decoder", err)
	}
	if err := decoder.Decode(step.Config); err != nil {
		return exception.NewCompilationError("migration", fmt.Sprintf("invalid config for step '%s'", step.ID), err)
	}
	return nil
}

func requireField(step model.MigrationStep, name, value string) error {
	if value == "" {
		return exception.NewCompilationError("migration", fmt.Sprintf("%s is required for %s step '%s'", name, step.Type, step.ID), nil)
	}
	return nil
}

// eachRecord walks every persisted record of a job in index order.
func eachRecord(ctx context.Context, jobs repository.JobStore, tenantID, jobID string, fn func(model.ImportRecord) error) error {
	for offset := 0; ; offset += pageSize {
		records, total, err := jobs.ListRecords(ctx, tenantID, jobID, repository.Page{Offset: offset, Limit: pageSize})
		if err != nil {
			return err
		}
		for _, r := range records {
			if err := fn(r); err != nil {
				return err
			}
		}
		if len(records) == 0 || int64(offset+len(records)) >= total {
			return nil
		}
	}
}

type importBatchConfig struct {
	JobID    string `mapstructure:"jobId"`
	RemapKey string `mapstructure:"remapKey"`
}

// importBatchHandler runs one import job and collects id-remap entries from its records.
type importBatchHandler struct {
	deps HandlerDeps
}

func (h *importBatchHandler) Execute(ctx context.Context, in StepInput) (StepOutput, error) {
	var cfg importBatchConfig
	if err := decodeConfig(in.Step, &cfg); err != nil {
		return StepOutput{}, err
	}
	if err := requireField(in.Step, "jobId", cfg.JobID); err != nil {
		return StepOutput{}, err
	}
	source, ok := in.Resources.Sources[cfg.JobID]
	if !ok {
		return StepOutput{}, exception.NewPermanentError("migration", fmt.Sprintf("no row source supplied for job %s", cfg.JobID), nil)
	}

	job, err := h.deps.Jobs.FindJob(ctx, in.TenantID, cfg.JobID)
	if err != nil {
		return StepOutput{}, err
	}
	if job.Status == model.JobStatusPaused {
		job, err = h.deps.Runner.Resume(ctx, in.TenantID, cfg.JobID, source)
	} else {
		job, err = h.deps.Runner.Run(ctx, in.TenantID, cfg.JobID, source)
	}
	if err != nil {
		return StepOutput{}, err
	}

	out := StepOutput{Result: map[string]interface{}{
		"jobId":      job.ID,
		"status":     string(job.Status),
		"total":      job.TotalRecords,
		"processed":  job.ProcessedRecords,
		"successful": job.SuccessfulRecords,
		"failed":     job.FailedRecords,
		"duplicate":  job.DuplicateRecords,
		"skipped":    job.SkippedRecords,
	}}
	if job.Status != model.JobStatusCompleted {
		return out, exception.NewPermanentError("migration", fmt.Sprintf("import job %s ended %s", job.ID, job.Status), nil)
	}

	if cfg.RemapKey != "" {
		entity := string(job.TargetEntity)
		remap := map[string]string{}
		err := eachRecord(ctx, h.deps.Jobs, in.TenantID, job.ID, func(r model.ImportRecord) error {
			if r.EntityID == "" {
				return nil
			}
			if v, ok := r.Raw.Get(cfg.RemapKey); ok && !validation.IsEmpty(v) {
				remap[transform.Stringify(v)] = r.EntityID
			}
			return nil
		})
		if err != nil {
			return out, err
		}
		out.Remap = map[string]map[string]string{entity: remap}
		out.Result["remapped"] = len(remap)
	}
	return out, nil
}

type verifyConfig struct {
	JobID         string `mapstructure:"jobId"`
	FailOnInvalid bool   `mapstructure:"failOnInvalid"`
}

// verifyHandler re-validates the entities a job persisted. It never writes.
type verifyHandler struct {
	deps HandlerDeps
}

func (h *verifyHandler) Execute(ctx context.Context, in StepInput) (StepOutput, error) {
	var cfg verifyConfig
	if err := decodeConfig(in.Step, &cfg); err != nil {
		return StepOutput{}, err
	}
	if err := requireField(in.Step, "jobId", cfg.JobID); err != nil {
		return StepOutput{}, err
	}
	job, err := h.deps.Jobs.FindJob(ctx, in.TenantID, cfg.JobID)
	if err != nil {
		return StepOutput{}, err
	}
	deps := h.deps.Mapping
	if job.Configuration.Timezone != "" {
		deps.Timezone = job.Configuration.Timezone
	}
	compiled, err := mapping.Compile(job.FieldMapping, job.ValidationRules, deps)
	if err != nil {
		return StepOutput{}, err
	}

	var checked, invalid, missing int
	var issues []map[string]interface{}
	err = eachRecord(ctx, h.deps.Jobs, in.TenantID, job.ID, func(r model.ImportRecord) error {
		if r.EntityID == "" {
			return nil
		}
		checked++
		entity, err := h.deps.Reader.Get(ctx, in.TenantID, job.TargetEntity, r.EntityID)
		if errors.Is(err, repository.ErrEntityNotFound) {
			missing++
			issues = append(issues, map[string]interface{}{
				"recordIndex": r.Index,
				"code":        string(exception.CodeReferenceNotFound),
				"message":     fmt.Sprintf("%s %s no longer exists", job.TargetEntity, r.EntityID),
			})
			return nil
		}
		if err != nil {
			return err
		}
		for _, issue := range compiled.Validate(entity) {
			if issue.IsCritical() {
				invalid++
				issues = append(issues, map[string]interface{}{
					"recordIndex": r.Index,
					"field":       issue.Field,
					"code":        string(issue.Code),
					"message":     issue.Message,
				})
				break
			}
		}
		return nil
	})
	if err != nil {
		return StepOutput{}, err
	}

	out := StepOutput{Result: map[string]interface{}{
		"jobId":   job.ID,
		"checked": checked,
		"invalid": invalid,
		"missing": missing,
	}}
	if len(issues) > 0 {
		out.Result["issues"] = issues
	}
	logger.Infof("Verify step '%s': %d entities checked, %d invalid, %d missing.", in.Step.ID, checked, invalid, missing)
	if cfg.FailOnInvalid && invalid+missing > 0 {
		return out, exception.NewRecordError("migration", exception.CodeValidationFailed, "",
			fmt.Sprintf("%d of %d entities of job %s failed verification", invalid+missing, checked, job.ID), nil)
	}
	return out, nil
}

type reference struct {
	Field  string `mapstructure:"field"`
	Entity string `mapstructure:"entity"`
}

type fixupConfig struct {
	JobID      string      `mapstructure:"jobId"`
	References []reference `mapstructure:"references"`
	Strict     bool        `mapstructure:"strict"`
}

// fixupHandler rewrites foreign keys of a job's entities through the plan's id remap.
type fixupHandler struct {
	deps HandlerDeps
}

func (h *fixupHandler) Execute(ctx context.Context, in StepInput) (StepOutput, error) {
	var cfg fixupConfig
	if err := decodeConfig(in.Step, &cfg); err != nil {
		return StepOutput{}, err
	}
	if err := requireField(in.Step, "jobId", cfg.JobID); err != nil {
		return StepOutput{}, err
	}
	if len(cfg.References) == 0 {
		return StepOutput{}, exception.NewCompilationError("migration", fmt.Sprintf("references are required for fixup-references step '%s'", in.Step.ID), nil)
	}
	job, err := h.deps.Jobs.FindJob(ctx, in.TenantID, cfg.JobID)
	if err != nil {
		return StepOutput{}, err
	}

	var rewritten, unresolved int
	var unresolvedKeys []string
	err = eachRecord(ctx, h.deps.Jobs, in.TenantID, job.ID, func(r model.ImportRecord) error {
		if r.EntityID == "" {
			return nil
		}
		entity, err := h.deps.Reader.Get(ctx, in.TenantID, job.TargetEntity, r.EntityID)
		if err != nil {
			return err
		}
		var patch model.FieldBag
		for _, ref := range cfg.References {
			v, ok := entity.Get(ref.Field)
			if !ok || validation.IsEmpty(v) {
				continue
			}
			key := transform.Stringify(v)
			id, ok := in.IDRemap[ref.Entity][key]
			if !ok {
				unresolved++
				unresolvedKeys = append(unresolvedKeys, fmt.Sprintf("%s=%s", ref.Field, key))
				continue
			}
			if id != key {
				patch.Set(ref.Field, id)
			}
		}
		if patch.Len() == 0 {
			return nil
		}
		if err := h.deps.Writer.Update(ctx, in.TenantID, job.TargetEntity, r.EntityID, patch); err != nil {
			return err
		}
		rewritten++
		return nil
	})
	if err != nil {
		return StepOutput{}, err
	}

	out := StepOutput{Result: map[string]interface{}{
		"jobId":      job.ID,
		"rewritten":  rewritten,
		"unresolved": unresolved,
	}}
	if unresolved > 0 {
		logger.Warnf("Fixup step '%s': %d references could not be resolved.", in.Step.ID, unresolved)
		if cfg.Strict {
			return out, exception.NewRecordError("migration", exception.CodeReferenceNotFound, "",
				fmt.Sprintf("%d unresolved references, first: %s", unresolved, unresolvedKeys[0]), nil)
		}
	}
	return out, nil
}

type cleanupConfig struct {
	JobIDs     []string `mapstructure:"jobIds"`
	StorageRef string   `mapstructure:"storageRef"`
	Bucket     string   `mapstructure:"bucket"`
	Prefix     string   `mapstructure:"prefix"`
}

// cleanupHandler archives the error logs of finished jobs.
type cleanupHandler struct {
	deps HandlerDeps
}

func (h *cleanupHandler) Execute(ctx context.Context, in StepInput) (StepOutput, error) {
	var cfg cleanupConfig
	if err := decodeConfig(in.Step, &cfg); err != nil {
		return StepOutput{}, err
	}
	if err := requireField(in.Step, "storageRef", cfg.StorageRef); err != nil {
		return StepOutput{}, err
	}
	if h.deps.Archiver == nil {
		return StepOutput{}, exception.NewPermanentError("migration", "no error archiver configured", nil)
	}

	var result *multierror.Error
	archived := map[string]interface{}{}
	for _, jobID := range cfg.JobIDs {
		entries, err := h.collectErrors(ctx, in.TenantID, jobID)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("job %s: %w", jobID, err))
			continue
		}
		object := path.Join(cfg.Prefix, in.TenantID, jobID, "errors.parquet")
		if err := h.deps.Archiver.ArchiveErrors(ctx, cfg.StorageRef, cfg.Bucket, object, entries); err != nil {
			result = multierror.Append(result, fmt.Errorf("job %s: %w", jobID, err))
			continue
		}
		archived[jobID] = len(entries)
		logger.Infof("Cleanup step '%s': archived %d error entries of job %s to %s.", in.Step.ID, len(entries), jobID, object)
	}
	out := StepOutput{Result: map[string]interface{}{"archived": archived}}
	return out, result.ErrorOrNil()
}

func (h *cleanupHandler) collectErrors(ctx context.Context, tenantID, jobID string) ([]model.ImportError, error) {
	var all []model.ImportError
	for offset := 0; ; offset += pageSize {
		page, total, err := h.deps.Jobs.ListErrors(ctx, tenantID, jobID, repository.Page{Offset: offset, Limit: pageSize})
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) == 0 || int64(len(all)) >= total {
			return all, nil
		}
	}
}
