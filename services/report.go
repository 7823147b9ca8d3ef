package services

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"

	"grailed-lister/models"
	"grailed-lister/utils"
)

var (
	headerColor  = color.New(color.FgMagenta, color.Bold)
	sectionColor = color.New(color.FgYellow, color.Bold)
	okColor      = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	failColor    = color.New(color.FgRed, color.Bold)
	boldColor    = color.New(color.Bold)
)

// RunMeta identifies the invocation a report belongs to.
type RunMeta struct {
	RunID     string
	Command   string
	DryRun    bool
	StartedAt time.Time
	Aborted   string
}

// ReportService aggregates per-record results into a RunReport and prints it.
type ReportService struct {
	logger *utils.Logger
}

func NewReportService(logger *utils.Logger) *ReportService {
	return &ReportService{logger: logger}
}

// Summarize counts outcomes by kind. It copies entries so the returned
// report does not alias the caller's slice.
func (s *ReportService) Summarize(meta RunMeta, entries []models.ReportEntry) *models.RunReport {
	report := &models.RunReport{
		RunID:       meta.RunID,
		Command:     meta.Command,
		DryRun:      meta.DryRun,
		StartedAt:   meta.StartedAt,
		FinishedAt:  time.Now(),
		Aborted:     meta.Aborted,
		Entries:     make([]models.ReportEntry, len(entries)),
		Total:       len(entries),
		SkipReasons: make(map[string]int),
	}

	for i, e := range entries {
		if e.Outcome != nil {
			o := *e.Outcome
			e.Outcome = &o
		}
		e.Validation.Violations = append([]models.Violation(nil), e.Validation.Violations...)
		report.Entries[i] = e

		if !e.Validation.Valid {
			report.Invalid++
			continue
		}
		if e.Outcome == nil {
			continue
		}
		switch e.Outcome.Kind {
		case models.OutcomeSubmitted:
			report.Submitted++
		case models.OutcomeDryRun:
			report.DryRunOK++
		case models.OutcomeSkipped:
			report.Skipped++
			report.SkipReasons[e.Outcome.Reason]++
		case models.OutcomeFailed:
			report.Failed++
		}
	}

	s.logger.Debug("[report] %d records: %d invalid, %d succeeded, %d skipped, %d failed",
		report.Total, report.Invalid, report.Succeeded(), report.Skipped, report.Failed)
	return report
}

// Print writes a human-readable summary of r to w.
func (s *ReportService) Print(w io.Writer, r *models.RunReport) {
	sep := strings.Repeat("═", 58)
	thin := strings.Repeat("─", 58)

	title := "LISTING RUN REPORT"
	if r.DryRun {
		title += " (DRY RUN)"
	}
	fmt.Fprintf(w, "\n%s\n", headerColor.Sprint(sep))
	fmt.Fprintf(w, "%s\n", headerColor.Sprintf("  %s  %s", title, r.Command))
	fmt.Fprintf(w, "%s\n\n", headerColor.Sprint(sep))

	fmt.Fprintf(w, "%s\n", sectionColor.Sprint("  Overview"))
	fmt.Fprintf(w, "  %s\n", thin)
	fmt.Fprintf(w, "  Run ID     : %s\n", r.RunID)
	fmt.Fprintf(w, "  Records    : %s\n", boldColor.Sprint(r.Total))
	fmt.Fprintf(w, "  Invalid    : %s\n", countColor(r.Invalid, failColor).Sprint(r.Invalid))
	if r.Command == "run" {
		fmt.Fprintf(w, "  Succeeded  : %s/%d\n", okColor.Sprint(r.Succeeded()), r.Total)
		if r.DryRun {
			fmt.Fprintf(w, "  Dry-run OK : %d\n", r.DryRunOK)
		} else {
			fmt.Fprintf(w, "  Submitted  : %d\n", r.Submitted)
		}
		fmt.Fprintf(w, "  Failed     : %s\n", countColor(r.Failed, failColor).Sprint(r.Failed))
	}
	fmt.Fprintf(w, "  Skipped    : %s\n", countColor(r.Skipped, warnColor).Sprint(r.Skipped))
	if r.Aborted != "" {
		fmt.Fprintf(w, "  Aborted    : %s\n", failColor.Sprint(r.Aborted))
	}
	fmt.Fprintln(w)

	if len(r.SkipReasons) > 0 {
		fmt.Fprintf(w, "%s\n", sectionColor.Sprint("  Skip Reasons"))
		fmt.Fprintf(w, "  %s\n", thin)
		reasons := make([]string, 0, len(r.SkipReasons))
		for reason := range r.SkipReasons {
			reasons = append(reasons, reason)
		}
		sort.Slice(reasons, func(i, j int) bool {
			return r.SkipReasons[reasons[i]] > r.SkipReasons[reasons[j]] ||
				(r.SkipReasons[reasons[i]] == r.SkipReasons[reasons[j]] && reasons[i] < reasons[j])
		})
		for _, reason := range reasons {
			fmt.Fprintf(w, "  %-24s %d\n", reason, r.SkipReasons[reason])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%s\n", sectionColor.Sprint("  Records"))
	fmt.Fprintf(w, "  %s\n", thin)
	for _, e := range r.Entries {
		fmt.Fprintf(w, "  %s %-36s %s\n", boldColor.Sprintf("#%-3d", e.Index), truncate(e.Title, 36), entryStatus(e))
		for _, v := range e.Validation.Violations {
			fmt.Fprintf(w, "       %s %s\n", failColor.Sprint("✗"), v)
		}
		for _, msg := range e.Validation.Warnings {
			fmt.Fprintf(w, "       %s %s\n", warnColor.Sprint("!"), msg)
		}
		if len(e.Validation.MissingMetadata) > 0 && r.Command == "validate" {
			fmt.Fprintf(w, "       missing metadata: %s\n", strings.Join(e.Validation.MissingMetadata, ", "))
		}
	}

	fmt.Fprintf(w, "\n%s\n\n", headerColor.Sprint(sep))
}

func entryStatus(e models.ReportEntry) string {
	if !e.Validation.Valid {
		return failColor.Sprint("invalid")
	}
	if e.Outcome == nil {
		return okColor.Sprint("ready")
	}
	switch e.Outcome.Kind {
	case models.OutcomeSubmitted, models.OutcomeDryRun:
		return okColor.Sprint(e.Outcome.String())
	case models.OutcomeSkipped:
		return warnColor.Sprint(e.Outcome.String())
	}
	return failColor.Sprint(e.Outcome.String())
}

func countColor(n int, c *color.Color) *color.Color {
	if n == 0 {
		return okColor
	}
	return c
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
