package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"grailed-lister/browser/grailed"
	"grailed-lister/config"
	"grailed-lister/models"
	"grailed-lister/operator"
	"grailed-lister/services"
	"grailed-lister/storage"
	"grailed-lister/utils"
	"grailed-lister/vision"
)

// errRunNotOK makes the process exit non-zero after the report is printed.
var errRunNotOK = errors.New("run finished with invalid or failed records")

var _ services.BrowserSession = (*grailed.Session)(nil)

type app struct {
	cfg    *config.Config
	logger *utils.Logger

	debug     bool
	reportCSV string
}

func main() {
	a := &app{logger: utils.NewLogger()}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.rootCmd().ExecuteContext(ctx); err != nil {
		if !errors.Is(err, errRunNotOK) {
			a.logger.Error("%v", err)
		}
		stop()
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "grailed-lister",
		Short:         "Validate, complete and publish batches of Grailed listings",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			a.cfg = config.Load()
			a.logger.SetLevel(a.cfg.LogLevel)
			if a.debug {
				a.logger.SetLevel("debug")
			}
			if a.reportCSV == "" {
				a.reportCSV = a.cfg.ReportCSVPath
			}
		},
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "enable debug logging")
	root.PersistentFlags().StringVar(&a.reportCSV, "report-csv", "", "also write the run report to this CSV file")

	root.AddCommand(a.validateCmd(), a.analyzeCmd(), a.runCmd())
	return root
}

func (a *app) validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <listings-file>",
		Short: "Check every record and report violations without calling any service",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := storage.LoadListings(args[0])
			if err != nil {
				return err
			}
			p := a.pipeline(nil, nil, nil)
			report, err := p.Validate(cmd.Context(), records)
			if err != nil {
				return err
			}
			return a.finish(cmd.Context(), p, report)
		},
	}
}

func (a *app) analyzeCmd() *cobra.Command {
	var (
		interactive bool
		output      string
	)
	cmd := &cobra.Command{
		Use:   "analyze <listings-file>",
		Short: "Fill missing metadata from the listing photos and write the records back",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			records, err := storage.LoadListings(args[0])
			if err != nil {
				return err
			}

			var approver services.Approver
			if interactive {
				approver = operator.NewTerminal()
			}
			p := a.pipeline(a.analyzer(), approver, nil)

			report, err := p.Analyze(cmd.Context(), records)
			if err != nil {
				return err
			}

			if output == "" {
				output = args[0]
			}
			if err := storage.SaveListings(output, records); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			a.logger.Info("Completed records written to %s", output)
			return a.finish(cmd.Context(), p, report)
		},
	}
	cmd.Flags().BoolVar(&interactive, "interactive", false, "ask before accepting each proposal")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write completed records here instead of overwriting the input")
	return cmd
}

func (a *app) runCmd() *cobra.Command {
	var (
		opts     services.RunOptions
		retryRun string
	)
	cmd := &cobra.Command{
		Use:   "run <listings-file>",
		Short: "Validate, complete and submit every record through the browser",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			records, err := storage.LoadListings(args[0])
			if err != nil {
				return err
			}
			if opts.StartIndex < 0 || opts.StartIndex > len(records) {
				return fmt.Errorf("--start-index %d out of range (batch has %d records)", opts.StartIndex, len(records))
			}

			if retryRun != "" {
				only, err := a.failedIndexes(ctx, retryRun)
				if err != nil {
					return err
				}
				opts.Only = only
				a.logger.Info("Retrying %d failed records from run %s", len(only), retryRun)
			}

			p := a.pipeline(a.analyzer(), nil, operator.NewTerminal())

			a.logger.Info("=== Grailed lister starting: %d records (dry-run: %t) ===", len(records), opts.DryRun)
			report, runErr := p.Run(ctx, records, opts)
			if report == nil {
				return runErr
			}
			if err := a.finish(ctx, p, report); err != nil && runErr == nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "fill the form but never publish")
	cmd.Flags().IntVar(&opts.StartIndex, "start-index", 0, "skip records before this index")
	cmd.Flags().StringVar(&retryRun, "retry-run", "", "only submit records that failed in this earlier run (needs REPORT_DATABASE_DSN)")
	return cmd
}

// pipeline wires the services for one command. Any collaborator may be nil
// when the command does not reach the stage that uses it.
func (a *app) pipeline(analyzer services.Analyzer, approver services.Approver, op services.Operator) *services.Pipeline {
	validator := services.NewValidator(services.NewPathResolver(), a.logger)

	var completer *services.MetadataCompleter
	if analyzer != nil {
		completer = services.NewMetadataCompleter(a.cfg.Vision, analyzer, validator, approver, a.logger)
	}

	return &services.Pipeline{
		Validator: validator,
		Completer: completer,
		NewBrowser: func(ctx context.Context) (services.BrowserSession, error) {
			return grailed.Open(ctx, a.cfg.Submit, a.logger)
		},
		Operator: op,
		Reports:  services.NewReportService(a.logger),
		Submit:   a.cfg.Submit,
		Workers:  a.cfg.ValidateWorkers,
		Logger:   a.logger,
	}
}

func (a *app) analyzer() services.Analyzer {
	analyzer, err := vision.NewOpenAIAnalyzer(a.cfg.Vision, a.logger)
	if err != nil {
		a.logger.Warn("Vision model unavailable, records with missing metadata will be skipped: %v", err)
		return unavailableAnalyzer{err: err}
	}
	return analyzer
}

// finish prints the report, persists it to any configured sinks and turns a
// failed run into errRunNotOK.
func (a *app) finish(ctx context.Context, p *services.Pipeline, report *models.RunReport) error {
	p.Reports.Print(os.Stdout, report)

	for _, w := range a.reportWriters(ctx) {
		if err := w.WriteReport(context.WithoutCancel(ctx), report); err != nil {
			a.logger.Error("Report write failed: %v", err)
		}
		if err := w.Close(); err != nil {
			a.logger.Warn("Closing report writer: %v", err)
		}
	}

	if !report.OK() {
		return errRunNotOK
	}
	return nil
}

func (a *app) reportWriters(ctx context.Context) []storage.ReportWriter {
	var writers []storage.ReportWriter
	if a.reportCSV != "" {
		w, err := storage.NewCSVWriter(a.reportCSV)
		if err != nil {
			a.logger.Error("Failed to create CSV report: %v", err)
		} else {
			writers = append(writers, w)
		}
	}
	if a.cfg.ReportDatabaseDSN != "" {
		w, err := storage.NewPostgresWriter(context.WithoutCancel(ctx), a.cfg.ReportDatabaseDSN)
		if err != nil {
			a.logger.Error("Failed to connect to PostgreSQL: %v", err)
		} else {
			writers = append(writers, w)
		}
	}
	return writers
}

func (a *app) failedIndexes(ctx context.Context, runID string) (map[int]bool, error) {
	if a.cfg.ReportDatabaseDSN == "" {
		return nil, errors.New("--retry-run needs REPORT_DATABASE_DSN")
	}
	pw, err := storage.NewPostgresWriter(ctx, a.cfg.ReportDatabaseDSN)
	if err != nil {
		return nil, err
	}
	defer pw.Close()

	indexes, err := pw.FailedIndexes(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	only := make(map[int]bool, len(indexes))
	for _, i := range indexes {
		only[i] = true
	}
	return only, nil
}

// unavailableAnalyzer stands in when no vision model is configured.
type unavailableAnalyzer struct{ err error }

func (u unavailableAnalyzer) Analyze(context.Context, []models.Image, string) (*models.Proposal, error) {
	return nil, fmt.Errorf("%w: %v", models.ErrMetadataUnavailable, u.err)
}
