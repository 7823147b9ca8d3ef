package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"grailed-lister/config"
	"grailed-lister/models"
	"grailed-lister/utils"
)

// RunOptions tune the run command.
type RunOptions struct {
	DryRun     bool
	StartIndex int
	// Only, when non-nil, restricts submission to these record indexes.
	Only map[int]bool
}

// Pipeline wires validation, metadata completion, submission and reporting
// for one batch.
type Pipeline struct {
	Validator  *Validator
	Completer  *MetadataCompleter
	NewBrowser BrowserFactory
	Operator   Operator
	Reports    *ReportService
	Submit     config.SubmitConfig
	Workers    int
	Logger     *utils.Logger
}

// Validate checks every record and reports violations only.
func (p *Pipeline) Validate(ctx context.Context, records []*models.ListingRecord) (*models.RunReport, error) {
	meta := p.meta("validate", false)
	results, err := p.Validator.ValidateBatch(ctx, records, p.Workers)
	if err != nil {
		return nil, err
	}

	entries := make([]models.ReportEntry, len(records))
	for i, rec := range records {
		rec.Index = i
		entries[i] = models.ReportEntry{Index: i, Title: rec.Title(), Validation: results[i]}
	}
	return p.Reports.Summarize(meta, entries), nil
}

// Analyze validates records and completes missing metadata in place. The
// caller is responsible for writing the records back.
func (p *Pipeline) Analyze(ctx context.Context, records []*models.ListingRecord) (*models.RunReport, error) {
	meta := p.meta("analyze", false)
	entries, valid, err := p.validate(ctx, records)
	if err != nil {
		return nil, err
	}

	results := p.Completer.CompleteBatch(ctx, valid)
	for i, rec := range valid {
		entries[rec.Index].Outcome = results[i].Outcome
		entries[rec.Index].Title = rec.Title()
		for _, f := range results[i].LowConfidence {
			entries[rec.Index].Validation.Warnings = append(entries[rec.Index].Validation.Warnings,
				fmt.Sprintf("low confidence: %s = %q", f, rec.Get(f)))
		}
	}
	return p.Reports.Summarize(meta, entries), nil
}

// Run validates, completes and submits the batch. It returns an error only
// for a setup failure, in which case nothing was submitted; the report is
// returned either way.
func (p *Pipeline) Run(ctx context.Context, records []*models.ListingRecord, opts RunOptions) (*models.RunReport, error) {
	meta := p.meta("run", opts.DryRun)
	entries, valid, err := p.validate(ctx, records)
	if err != nil {
		return nil, err
	}

	var eligible []*models.ListingRecord
	for _, rec := range valid {
		switch {
		case rec.Index < opts.StartIndex:
			entries[rec.Index].Outcome = outcomePtr(models.Skipped(models.ReasonBeforeStart))
		case opts.Only != nil && !opts.Only[rec.Index]:
			entries[rec.Index].Outcome = outcomePtr(models.Skipped(models.ReasonNotRetried))
		default:
			eligible = append(eligible, rec)
		}
	}

	var ready []*models.ListingRecord
	results := p.Completer.CompleteBatch(ctx, eligible)
	for i, rec := range eligible {
		entries[rec.Index].Title = rec.Title()
		if results[i].Outcome != nil {
			entries[rec.Index].Outcome = results[i].Outcome
			continue
		}
		ready = append(ready, rec)
	}

	if len(ready) == 0 {
		return p.Reports.Summarize(meta, entries), nil
	}
	if ctx.Err() != nil {
		markAll(entries, ready, models.ReasonCancelled)
		return p.Reports.Summarize(meta, entries), nil
	}

	session, err := p.NewBrowser(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrSetup) {
			err = fmt.Errorf("%w: %v", models.ErrSetup, err)
		}
		p.Logger.Error("[pipeline] Browser setup failed, nothing submitted: %v", err)
		markAll(entries, ready, models.ReasonSetupFailed)
		meta.Aborted = err.Error()
		return p.Reports.Summarize(meta, entries), err
	}
	defer func() {
		if err := session.Close(); err != nil {
			p.Logger.Warn("[pipeline] Closing browser: %v", err)
		}
	}()

	submitter := NewSubmitter(p.Submit, session, p.Operator, opts.DryRun, p.Logger)
	for i, rec := range ready {
		if ctx.Err() != nil {
			markAll(entries, ready[i:], models.ReasonCancelled)
			break
		}
		p.Logger.Info("[pipeline] Submitting #%d %q (%d/%d)", rec.Index, rec.Title(), i+1, len(ready))
		outcome := submitter.Submit(ctx, rec)
		entries[rec.Index].Outcome = &outcome
		if outcome.Kind == models.OutcomeSkipped && outcome.Reason == models.ReasonCancelled {
			p.Logger.Warn("[pipeline] Run cancelled at #%d, %d records left unsubmitted", rec.Index, len(ready)-i-1)
			markAll(entries, ready[i+1:], models.ReasonCancelled)
			break
		}
	}

	return p.Reports.Summarize(meta, entries), nil
}

// validate runs the validator and returns report entries indexed like
// records plus the valid, normalized records.
func (p *Pipeline) validate(ctx context.Context, records []*models.ListingRecord) ([]models.ReportEntry, []*models.ListingRecord, error) {
	results, err := p.Validator.ValidateBatch(ctx, records, p.Workers)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]models.ReportEntry, len(records))
	var valid []*models.ListingRecord
	for i, rec := range records {
		rec.Index = i
		entries[i] = models.ReportEntry{Index: i, Title: rec.Title(), Validation: results[i]}
		if !results[i].Valid {
			p.Logger.Warn("[pipeline] #%d invalid: %v", i, results[i].Violations)
			continue
		}
		Normalize(rec, results[i])
		valid = append(valid, rec)
	}
	return entries, valid, nil
}

func (p *Pipeline) meta(command string, dryRun bool) RunMeta {
	return RunMeta{
		RunID:     uuid.NewString(),
		Command:   command,
		DryRun:    dryRun,
		StartedAt: time.Now(),
	}
}

func markAll(entries []models.ReportEntry, records []*models.ListingRecord, reason string) {
	for _, rec := range records {
		entries[rec.Index].Outcome = outcomePtr(models.Skipped(reason))
	}
}
