// Package report renders scheduler run reports for operators.
package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	json "github.com/goccy/go-json"
	"github.com/smallbiznis/dunning/internal/scheduler"
	"github.com/xuri/excelize/v2"
)

const (
	summarySheet = "summary"
	itemsSheet   = "items"
)

var summaryHeader = []any{
	"Job", "Run ID", "Dry run", "Started", "Finished", "Escalated", "Planned",
	"Notified", "Skipped", "Failed", "Tenants skipped", "Lock held", "Timed out", "Aborted",
}

var itemsHeader = []any{
	"Job", "Org ID", "Kind", "Number", "Outcome", "Reason", "From level", "To level",
	"Days overdue", "Days left", "Currency", "Fee", "Interest", "Notice number", "Error",
}

// Envelope is the JSON document printed by --json and served by /reports/last.
type Envelope struct {
	GeneratedAt time.Time              `json:"generated_at"`
	Reports     []*scheduler.RunReport `json:"reports"`
	Totals      scheduler.Counts       `json:"totals"`
}

func NewEnvelope(at time.Time, reports []*scheduler.RunReport) Envelope {
	env := Envelope{GeneratedAt: at.UTC(), Reports: reports}
	for _, r := range reports {
		c := r.Summary()
		env.Totals.Escalated += c.Escalated
		env.Totals.Planned += c.Planned
		env.Totals.Notified += c.Notified
		env.Totals.Skipped += c.Skipped
		env.Totals.Failed += c.Failed
	}
	return env
}

func MarshalJSON(env Envelope) ([]byte, error) {
	return json.MarshalIndent(env, "", "  ")
}

func WriteJSON(w io.Writer, env Envelope) error {
	body, err := MarshalJSON(env)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	body = append(body, '\n')
	_, err = w.Write(body)
	return err
}

// BuildXLSX renders one summary row per run and one item row per invoice or offer.
func BuildXLSX(reports []*scheduler.RunReport) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", summarySheet); err != nil {
		return nil, err
	}
	if _, err := f.NewSheet(itemsSheet); err != nil {
		return nil, err
	}

	if err := f.SetSheetRow(summarySheet, "A1", &summaryHeader); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(itemsSheet, "A1", &itemsHeader); err != nil {
		return nil, err
	}

	itemRow := 2
	for i, r := range reports {
		counts := r.Summary()
		row := []any{
			r.Job, r.RunID, r.DryRun,
			r.StartedAt.UTC().Format(time.RFC3339), r.FinishedAt.UTC().Format(time.RFC3339),
			counts.Escalated, counts.Planned, counts.Notified, counts.Skipped, counts.Failed,
			r.TenantsSkipped(), r.SkippedByLock, r.TimedOut, r.Aborted,
		}
		if err := f.SetSheetRow(summarySheet, cell(1, i+2), &row); err != nil {
			return nil, err
		}

		for _, item := range r.Items() {
			row := []any{
				r.Job, item.OrgID.String(), string(item.Kind), item.Number, string(item.Outcome), item.Reason,
				string(item.FromLevel), string(item.ToLevel), item.DaysOverdue, item.DaysLeft,
				item.Currency, item.Fee.InexactFloat64(), item.Interest.InexactFloat64(),
				item.NoticeNumber, item.Error,
			}
			if err := f.SetSheetRow(itemsSheet, cell(1, itemRow), &row); err != nil {
				return nil, err
			}
			itemRow++
		}
	}

	_ = f.SetColWidth(summarySheet, "A", "B", 22)
	_ = f.SetColWidth(itemsSheet, "B", "D", 22)
	_ = f.SetColWidth(itemsSheet, "N", "O", 30)

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteXLSXFile writes the spreadsheet to path.
func WriteXLSXFile(path string, reports []*scheduler.RunReport) error {
	body, err := BuildXLSX(reports)
	if err != nil {
		return fmt.Errorf("build xlsx: %w", err)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteText prints a short per-run table.
func WriteText(w io.Writer, reports []*scheduler.RunReport) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tRUN\tMODE\tESCALATED\tPLANNED\tNOTIFIED\tSKIPPED\tFAILED\tNOTE")
	for _, r := range reports {
		c := r.Summary()
		mode := "live"
		if r.DryRun {
			mode = "dry-run"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\n",
			r.Job, r.RunID, mode, c.Escalated, c.Planned, c.Notified, c.Skipped, c.Failed, note(r))
	}
	return tw.Flush()
}

func note(r *scheduler.RunReport) string {
	var parts []string
	if r.SkippedByLock {
		parts = append(parts, "skipped: another runner holds the lock")
	}
	if n := r.TenantsSkipped(); n > 0 {
		parts = append(parts, fmt.Sprintf("%d tenant(s) skipped", n))
	}
	if r.TimedOut {
		parts = append(parts, "timed out")
	}
	if r.Aborted {
		parts = append(parts, "aborted")
	}
	return strings.Join(parts, "; ")
}

func cell(col, row int) string {
	name, _ := excelize.CoordinatesToCellName(col, row)
	return name
}
