package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/dunning/internal/clock"
	"github.com/smallbiznis/dunning/internal/report"
	"github.com/smallbiznis/dunning/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var errInvalidFlag = errors.New("invalid_flag")

type runOptions struct {
	dryRun  bool
	company string
	asJSON  bool
	export  string
}

func runCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run invoices|offers|all",
		Short: "Run the reminder jobs once",
		Long: `Run the reminder jobs once and print a report.

Invoices overdue past a threshold move up at most one reminder level per run.
Offers close to expiry get an informational reminder.

Examples:
  dunning run all
  dunning run invoices --dry-run --company=1786512345678901248
  dunning run offers --json --export=offers.xlsx`,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"invoices", "offers", "all"},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJobs(cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "report planned reminders without sending or writing anything")
	cmd.Flags().StringVar(&opts.company, "company", "", "restrict the run to one organization id")
	cmd.Flags().BoolVar(&opts.asJSON, "json", false, "print the report as JSON")
	cmd.Flags().StringVar(&opts.export, "export", "", "also write the report to an .xlsx file")

	return cmd
}

func jobsFor(target string) ([]string, error) {
	switch strings.ToLower(strings.TrimSpace(target)) {
	case "invoices":
		return []string{scheduler.JobInvoiceReminders}, nil
	case "offers":
		return []string{scheduler.JobOfferReminders}, nil
	case "all":
		return []string{scheduler.JobInvoiceReminders, scheduler.JobOfferReminders}, nil
	default:
		return nil, fmt.Errorf("%w: unknown target %q", errInvalidFlag, target)
	}
}

func (o *runOptions) request() (scheduler.RunRequest, error) {
	req := scheduler.RunRequest{DryRun: o.dryRun}
	if company := strings.TrimSpace(o.company); company != "" {
		id, err := snowflake.ParseString(company)
		if err != nil || id <= 0 {
			return req, fmt.Errorf("%w: --company must be a numeric organization id", errInvalidFlag)
		}
		req.OrgID = &id
	}
	if o.export != "" && !strings.EqualFold(filepath.Ext(o.export), ".xlsx") {
		return req, fmt.Errorf("%w: --export must name an .xlsx file", errInvalidFlag)
	}
	return req, nil
}

func runJobs(cmd *cobra.Command, target string, opts *runOptions) error {
	jobs, err := jobsFor(target)
	if err != nil {
		return err
	}
	req, err := opts.request()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		sched *scheduler.Scheduler
		clk   clock.Clock
	)
	shutdown, err := startOneShot(ctx, schedulerModules(), fx.Populate(&sched, &clk))
	if err != nil {
		return err
	}
	defer shutdown()

	reports, runErr := executeJobs(ctx, sched, jobs, req)

	out := cmd.OutOrStdout()
	if opts.asJSON {
		err = report.WriteJSON(out, report.NewEnvelope(clk.Now(), reports))
	} else {
		err = report.WriteText(out, reports)
	}
	if err != nil {
		return errors.Join(runErr, err)
	}
	if opts.export != "" {
		if err := report.WriteXLSXFile(opts.export, reports); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

// executeJobs runs jobs in order. A job held by another runner is reported,
// not failed.
func executeJobs(ctx context.Context, runner jobRunner, jobs []string, req scheduler.RunRequest) ([]*scheduler.RunReport, error) {
	var (
		reports []*scheduler.RunReport
		err     error
	)
	for _, job := range jobs {
		rep, jobErr := runner.Run(ctx, job, req)
		if rep != nil {
			reports = append(reports, rep)
		}
		if jobErr != nil && !errors.Is(jobErr, scheduler.ErrRunInProgress) {
			err = errors.Join(err, fmt.Errorf("%s: %w", job, jobErr))
		}
	}
	return reports, err
}

type jobRunner interface {
	Run(ctx context.Context, job string, req scheduler.RunRequest) (*scheduler.RunReport, error)
}
