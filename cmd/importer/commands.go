package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/cobra"

	"github.com/tigerroll/surfin-import/pkg/importer/adapter/database"
	"github.com/tigerroll/surfin-import/pkg/importer/core/config"
	"github.com/tigerroll/surfin-import/pkg/importer/core/domain/model"
	domainrepo "github.com/tigerroll/surfin-import/pkg/importer/core/domain/repository"
	"github.com/tigerroll/surfin-import/pkg/importer/core/port"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/executor"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/mapping"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/migration"
	"github.com/tigerroll/surfin-import/pkg/importer/engine/preview"
	sqlstore "github.com/tigerroll/surfin-import/pkg/importer/infrastructure/repository/sql"
	"github.com/tigerroll/surfin-import/pkg/importer/support/util/logger"
)

func newRootCommand() *cobra.Command {
	g := &globalOptions{}
	root := &cobra.Command{
		Use:           "importer",
		Short:         "Preview, run and migrate tenant bulk imports",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	envFile := os.Getenv("ENV_FILE_PATH")
	if envFile == "" {
		envFile = ".env"
	}
	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML configuration file (defaults to the embedded configuration)")
	root.PersistentFlags().StringVar(&g.envFilePath, "env-file", envFile, ".env file loaded before the configuration")
	root.PersistentFlags().StringVar(&g.lookupsPath, "lookups", "", "JSON file of lookup tables used by lookup transforms")

	root.AddCommand(
		newPreviewCommand(g),
		newRunCommand(g),
		newResumeCommand(g),
		newPlanCommand(g),
		newErrorsCommand(g),
		newMigrateCommand(g),
	)
	return root
}

func newPreviewCommand(g *globalOptions) *cobra.Command {
	var jobPath, inputPath string
	var sampleSize, maxRows int
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Profile a sample of the input and evaluate the mapping without writing anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := loadJobDocument(jobPath)
			if err != nil {
				return err
			}
			input, err := doc.inputPath(inputPath)
			if err != nil {
				return err
			}
			var (
				gen    *preview.Generator
				engine *config.EngineConfig
				system *config.SystemConfig
			)
			return withApp(cmd.Context(), g, func(ctx context.Context) error {
				tables, err := loadLookups(g.lookupsPath)
				if err != nil {
					return err
				}
				deps := mapping.Dependencies{Timezone: doc.Configuration.Timezone}
				if deps.Timezone == "" {
					deps.Timezone = system.Timezone
				}
				if tables != nil {
					deps.Lookups = tables
				}
				compiled, err := mapping.Compile(doc.FieldMapping, doc.ValidationRules, deps)
				if err != nil {
					return err
				}
				n := sampleSize
				if n <= 0 {
					n = engine.PreviewSampleSize
				}
				sample, err := readSample(ctx, openSource(input), n)
				if err != nil {
					return err
				}
				p, err := gen.Preview(ctx, doc.TenantID, sample, compiled, preview.Options{SampleSize: n, MaxSampleRows: maxRows})
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), p)
			}, &gen, &engine, &system)
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "", "job document (JSON)")
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON lines input, overriding the document's input")
	cmd.Flags().IntVar(&sampleSize, "sample", 0, "number of rows to sample")
	cmd.Flags().IntVar(&maxRows, "rows", 0, "number of evaluated rows to print")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newRunCommand(g *globalOptions) *cobra.Command {
	var jobPaths []string
	var inputPath string
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Create import jobs and run them to completion, up to max_concurrent_jobs at once",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if inputPath != "" && len(jobPaths) > 1 {
				return errors.New("--input can only be used with a single --job")
			}
			docs := make([]*jobDocument, 0, len(jobPaths))
			inputs := make([]string, 0, len(jobPaths))
			for _, path := range jobPaths {
				doc, err := loadJobDocument(path)
				if err != nil {
					return err
				}
				input, err := doc.inputPath(inputPath)
				if err != nil {
					return err
				}
				docs = append(docs, doc)
				inputs = append(inputs, input)
			}
			var (
				jobs     domainrepo.JobStore
				launcher *executor.Launcher
			)
			return withApp(cmd.Context(), g, func(ctx context.Context) error {
				handles := make([]*executor.Handle, 0, len(docs))
				for i, doc := range docs {
					job := doc.newJob()
					if err := jobs.CreateJob(ctx, job); err != nil {
						return err
					}
					logger.Infof("Created import job '%s' for tenant '%s'.", job.ID, job.TenantID)
					handles = append(handles, launcher.Launch(ctx, job.TenantID, job.ID, openSource(inputs[i])))
				}
				results, err := awaitRuns(ctx, launcher, handles)
				if werr := writeRunResults(cmd, results); werr != nil {
					return werr
				}
				return err
			}, &jobs, &launcher)
		},
	}
	cmd.Flags().StringArrayVar(&jobPaths, "job", nil, "job document (JSON); repeat to run several jobs concurrently")
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON lines input, overriding the document's input")
	_ = cmd.MarkFlagRequired("job")
	return cmd
}

func newResumeCommand(g *globalOptions) *cobra.Command {
	var tenantID, jobID, inputPath string
	cmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume a paused import job from its processed-record count",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var launcher *executor.Launcher
			return withApp(cmd.Context(), g, func(ctx context.Context) error {
				handle := launcher.LaunchResume(ctx, tenantID, jobID, openSource(inputPath))
				results, err := awaitRuns(ctx, launcher, []*executor.Handle{handle})
				if werr := writeRunResults(cmd, results); werr != nil {
					return werr
				}
				return err
			}, &launcher)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id")
	cmd.Flags().StringVar(&inputPath, "input", "", "JSON lines input of the job")
	for _, f := range []string{"tenant", "job-id", "input"} {
		_ = cmd.MarkFlagRequired(f)
	}
	return cmd
}

// awaitRuns waits for every handle. Cancelling ctx shuts the launcher down, which pauses
// the runs at their next batch boundary; their paused state is still collected.
func awaitRuns(ctx context.Context, launcher *executor.Launcher, handles []*executor.Handle) ([]*model.ImportJob, error) {
	stop := context.AfterFunc(ctx, func() {
		logger.Warnf("Interrupted, pausing %d import jobs.", len(handles))
		_ = launcher.Shutdown(context.Background())
	})
	defer stop()

	var errs *multierror.Error
	results := make([]*model.ImportJob, 0, len(handles))
	for _, h := range handles {
		job, err := h.Wait(context.WithoutCancel(ctx))
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("job %s: %w", h.JobID, err))
		}
		if job != nil {
			results = append(results, job)
		}
	}
	return results, errs.ErrorOrNil()
}

// writeRunResults prints a single job as an object and several as an array.
func writeRunResults(cmd *cobra.Command, results []*model.ImportJob) error {
	switch len(results) {
	case 0:
		return nil
	case 1:
		return writeJSON(cmd.OutOrStdout(), results[0])
	default:
		return writeJSON(cmd.OutOrStdout(), results)
	}
}

func newPlanCommand(g *globalOptions) *cobra.Command {
	var planPath string
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Create the jobs and the migration plan of a plan document and execute the plan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			doc, err := loadPlanDocument(planPath)
			if err != nil {
				return err
			}
			var (
				jobs  domainrepo.JobStore
				plans domainrepo.PlanStore
				exec  *migration.Executor
			)
			return withApp(cmd.Context(), g, func(ctx context.Context) error {
				res := migration.Resources{Sources: map[string]port.RowSource{}}
				for i := range doc.Jobs {
					jd := &doc.Jobs[i]
					input, err := jd.inputPath("")
					if err != nil {
						return err
					}
					if err := jobs.CreateJob(ctx, jd.newJob()); err != nil {
						return fmt.Errorf("failed to create job %s: %w", jd.ID, err)
					}
					res.Sources[jd.ID] = openSource(input)
				}
				plan := newPlan(doc)
				if err := plans.CreatePlan(ctx, plan); err != nil {
					return err
				}
				logger.Infof("Created migration plan '%s' with %d steps.", plan.ID, len(plan.Steps))
				result, err := exec.Run(ctx, plan.TenantID, plan.ID, res)
				if result != nil {
					if werr := writeJSON(cmd.OutOrStdout(), result); werr != nil {
						return werr
					}
				}
				return err
			}, &jobs, &plans, &exec)
		},
	}
	cmd.Flags().StringVar(&planPath, "plan", "", "plan document (JSON)")
	_ = cmd.MarkFlagRequired("plan")
	return cmd
}

func newErrorsCommand(g *globalOptions) *cobra.Command {
	var tenantID, jobID string
	var page domainrepo.Page
	cmd := &cobra.Command{
		Use:   "errors",
		Short: "List a page of a job's error log",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var jobs domainrepo.JobStore
			return withApp(cmd.Context(), g, func(ctx context.Context) error {
				entries, total, err := jobs.ListErrors(ctx, tenantID, jobID, page.Normalize())
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), map[string]interface{}{"total": total, "errors": entries})
			}, &jobs)
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&jobID, "job-id", "", "job id")
	cmd.Flags().IntVar(&page.Offset, "offset", 0, "first entry")
	cmd.Flags().IntVar(&page.Limit, "limit", domainrepo.DefaultPageLimit, "page size")
	_ = cmd.MarkFlagRequired("tenant")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func newMigrateCommand(g *globalOptions) *cobra.Command {
	var dbRef string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the store schema migrations to a configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				cfg      *config.Config
				resolver database.DBConnectionResolver
			)
			return withApp(cmd.Context(), g, func(ctx context.Context) error {
				name := dbRef
				if name == "" {
					name = cfg.Importer.Store.DBRef
				}
				db, dbCfg, err := resolver.ResolveDB(ctx, name)
				if err != nil {
					return err
				}
				if err := sqlstore.Migrate(db, dbCfg.Type); err != nil {
					return err
				}
				logger.Infof("Schema of database '%s' (%s) is up to date.", name, dbCfg.Type)
				return nil
			}, &cfg, &resolver)
		},
	}
	cmd.Flags().StringVar(&dbRef, "db", "", "database connection name (defaults to importer.store.db_ref)")
	return cmd
}
