package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"
	"github.com/vigyanshaala/kalpana/pkg/catalog"
	"github.com/vigyanshaala/kalpana/pkg/config"
	"github.com/vigyanshaala/kalpana/pkg/constraint"
	"github.com/vigyanshaala/kalpana/pkg/dedupe"
	"github.com/vigyanshaala/kalpana/pkg/export"
	"github.com/vigyanshaala/kalpana/pkg/mapping"
	"github.com/vigyanshaala/kalpana/pkg/pipeline"
	"github.com/vigyanshaala/kalpana/pkg/scheduler"
	"github.com/vigyanshaala/kalpana/pkg/state"
	"github.com/vigyanshaala/kalpana/pkg/upsert"
	"go.uber.org/zap"
)

var errRunFailed = errors.New("one or more tables failed")

type runOptions struct {
	tables      []string
	dryRun      bool
	rerunFailed bool
	autoOrder   bool
	verify      bool
	output      string
}

func Run(isDebug *bool, envFile *string) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "deduplicate, constrain and reconcile the selected tables, one after the other",
		Flags: []cli.Flag{
			configFlag,
			&cli.StringSliceFlag{
				Name:    "tables",
				Aliases: []string{"t"},
				Usage:   "the tables to run, in order; defaults to the tables of the pipeline definition",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "run every stage and report the counts, then roll everything back",
			},
			&cli.BoolFlag{
				Name:  "rerun-failed",
				Usage: "run only the tables that failed in the last run",
			},
			&cli.BoolFlag{
				Name:  "auto-order",
				Usage: "reorder the selected tables so every table runs after the tables it derives from",
			},
			&cli.BoolFlag{
				Name:  "verify",
				Usage: "check key uniqueness and completeness before committing each table",
			},
			&cli.StringFlag{
				Name:  "schedule",
				Usage: "keep running on the given cron schedule instead of once",
			},
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			defer RecoverFromPanic()

			logger := makeLogger(*isDebug)
			output := c.String("output")

			p, err := loadPipeline(c)
			if err != nil {
				printError(err, output, "Failed to load the pipeline definition")
				return cli.Exit("", 1)
			}

			opts := runOptions{
				tables:      c.StringSlice("tables"),
				dryRun:      c.Bool("dry-run"),
				rerunFailed: c.Bool("rerun-failed"),
				autoOrder:   c.Bool("auto-order"),
				verify:      c.Bool("verify") || p.Verify,
				output:      output,
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			schedule := c.String("schedule")
			if schedule == "" {
				schedule = p.Schedule
			}
			if schedule == "" {
				err := runOnce(ctx, logger, *envFile, p, opts)
				if errors.Is(err, errRunFailed) {
					return cli.Exit("", 1)
				}
				if err != nil {
					printError(err, output, "Run failed")
					return cli.Exit("", 1)
				}
				return nil
			}

			return runOnSchedule(ctx, logger, schedule, func() error {
				return runOnce(ctx, logger, *envFile, p, opts)
			})
		},
	}
}

// runOnSchedule never overlaps runs: a tick that arrives while a run is in progress is skipped.
func runOnSchedule(ctx context.Context, logger *zap.SugaredLogger, schedule string, run func() error) error {
	sched, err := cron.ParseStandard(schedule)
	if err != nil {
		errorPrinter.Printf("Invalid schedule '%s': %v\n", schedule, err)
		return cli.Exit("", 1)
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	c.Schedule(sched, cron.FuncJob(func() {
		if err := run(); err != nil && !errors.Is(err, errRunFailed) {
			logger.Errorw("scheduled run failed", "error", err)
		}
	}))

	infoPrinter.Printf("Running on schedule '%s', next run at %s\n", schedule, sched.Next(time.Now()).Format(time.RFC3339))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func runOnce(ctx context.Context, logger *zap.SugaredLogger, envFile string, p *config.Pipeline, opts runOptions) error {
	store := state.NewStore(fs, p.StateDir)

	names := opts.tables
	if opts.rerunFailed {
		failed, err := store.FailedTables()
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			successPrinter.Println("The last run had no failed tables, nothing to re-run.")
			return nil
		}
		names = failed
	}

	registry := catalog.Default()
	tables, err := pipeline.Select(registry, p, names, opts.autoOrder)
	if err != nil {
		return err
	}

	client, err := connect(ctx, envFile, 0)
	if err != nil {
		return err
	}
	defer client.Close()

	runID := NewRunID()
	ignoreOutputs(logger, p.AuditDir, p.StateDir)

	// a dry run removes nothing, so there is nothing to keep an audit copy of
	var exporter dedupe.Exporter
	if !opts.dryRun {
		format, err := export.ParseFormat(p.AuditFormat)
		if err != nil {
			return err
		}
		exporter = export.NewAuditExporter(export.NewWriter(fs), p.AuditDir, format, runID)
	}

	o := pipeline.NewOrchestrator(
		client,
		registry,
		mapping.NewResolver(logger),
		dedupe.New(logger, exporter),
		constraint.NewManager(logger),
		upsert.NewEngine(logger),
		logger,
		pipeline.Options{
			RunID:            runID,
			Pipeline:         p.Name,
			DryRun:           opts.dryRun,
			Verify:           opts.verify,
			StatementTimeout: p.StatementTimeout,
			OnStatusChange:   progressPrinter(opts.output),
		},
	)

	if opts.output != "json" {
		infoPrinter.Printf("Starting run %s with %d tables\n", runID, len(tables))
	}

	report, err := o.Run(ctx, tables)
	if err != nil {
		return err
	}

	if !report.DryRun {
		path, err := store.Save(report)
		if err != nil {
			logger.Errorw("failed to save the run state", "error", err)
		} else {
			logger.Debugw("saved the run state", "path", path)
		}
	}

	if opts.output == "json" {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printReport(os.Stdout, report)
	}

	if report.HasFailures() {
		return errRunFailed
	}
	return nil
}

func progressPrinter(output string) func(ti *scheduler.TableInstance) {
	if output == "json" {
		return nil
	}

	return func(ti *scheduler.TableInstance) {
		now := faint(fmt.Sprintf("[%s]", time.Now().Format("15:04:05")))
		switch ti.Status() {
		case scheduler.Deduping:
			fmt.Printf("%s Starting: %s\n", now, ti.Name())
		case scheduler.Done:
			fmt.Printf("%s %s %s %s\n", now, successPrinter.Sprint("Finished:"), ti.Name(), faint(fmt.Sprintf("(%s)", ti.Duration().Round(time.Millisecond))))
		case scheduler.Failed:
			fmt.Printf("%s %s %s\n", now, errorPrinter.Sprint("Failed:"), ti.Name())
		default:
			fmt.Printf("%s %s %s\n", now, faint(ti.Status().String()), faint(ti.Name()))
		}
	}
}
