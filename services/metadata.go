package services

import (
	"context"
	"errors"
	"fmt"
	"os"

	"grailed-lister/config"
	"grailed-lister/models"
	"grailed-lister/utils"
)

// Instruction is the fixed request sent with every batch of photos.
const Instruction = `You are cataloguing a second-hand fashion item for a Grailed listing.
Look at the photos and propose values for these fields:
department (Menswear or Womenswear), category, sub_category, designer, item_name,
size, color, condition (Brand New, Like New, Gently Used, Used, Very Worn), description.
Reply with a single JSON object of the form
{"fields": {"<field>": "<value>", ...}, "confidence": {"<field>": <0..1>, ...}}.
Omit any field you cannot determine from the photos.`

// Analyzer is the vision collaborator. Implementations return an error
// wrapping models.ErrQuotaExceeded when throttled.
type Analyzer interface {
	Analyze(ctx context.Context, images []models.Image, instruction string) (*models.Proposal, error)
}

// Approver lets an operator accept or reject a proposal before it is merged.
type Approver interface {
	Approve(ctx context.Context, rec *models.ListingRecord, proposed models.Metadata, filled []string) (bool, error)
}

// CompletionResult describes what the metadata stage did to one record.
type CompletionResult struct {
	// Outcome is nil when the record may proceed to submission.
	Outcome       *models.SubmissionOutcome
	Filled        []string
	LowConfidence []string
}

// MetadataCompleter fills missing metadata from the vision collaborator.
type MetadataCompleter struct {
	cfg       config.VisionConfig
	analyzer  Analyzer
	validator *Validator
	approver  Approver
	logger    *utils.Logger
}

// NewMetadataCompleter wires the stage. approver may be nil.
func NewMetadataCompleter(cfg config.VisionConfig, analyzer Analyzer, validator *Validator, approver Approver, logger *utils.Logger) *MetadataCompleter {
	return &MetadataCompleter{
		cfg:       cfg,
		analyzer:  analyzer,
		validator: validator,
		approver:  approver,
		logger:    logger,
	}
}

// Complete asks the collaborator for the record's missing metadata and merges
// the proposal without overwriting caller-supplied values.
func (c *MetadataCompleter) Complete(ctx context.Context, rec *models.ListingRecord) CompletionResult {
	missing := rec.Missing()
	if len(missing) == 0 {
		return CompletionResult{}
	}
	if ctx.Err() != nil {
		return skip(models.ReasonCancelled)
	}

	images, err := c.loadImages(rec)
	if err != nil {
		c.logger.Warn("[metadata] #%d: %v", rec.Index, err)
		return skip(models.ReasonMetadataIncomplete)
	}

	c.logger.Info("[metadata] #%d: requesting %d fields from %d images", rec.Index, len(missing), len(images))
	proposal, err := c.analyzer.Analyze(ctx, images, Instruction)
	switch {
	case err == nil && proposal == nil:
		c.logger.Warn("[metadata] #%d: empty proposal", rec.Index)
		return skip(models.ReasonMetadataIncomplete)
	case err == nil:
	case ctx.Err() != nil:
		return skip(models.ReasonCancelled)
	case errors.Is(err, models.ErrQuotaExceeded):
		c.logger.Warn("[metadata] #%d: quota exceeded: %v", rec.Index, err)
		return skip(models.ReasonQuotaExceeded)
	default:
		c.logger.Warn("[metadata] #%d: collaborator unavailable: %v", rec.Index, err)
		return skip(models.ReasonMetadataIncomplete)
	}

	merged := rec.Metadata
	var filled []string
	for _, f := range missing {
		if v := proposal.Fields.Get(f); v != "" {
			merged.Set(f, v)
			filled = append(filled, f)
		}
	}
	NormalizeMetadata(&merged)

	if violations := c.validator.EnumViolations(&merged); len(violations) > 0 {
		c.logger.Warn("[metadata] #%d: proposal rejected: %v", rec.Index, violations)
		return skip(models.ReasonMetadataIncomplete)
	}

	if c.approver != nil && len(filled) > 0 {
		ok, err := c.approver.Approve(ctx, rec, merged, filled)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return skip(models.ReasonCancelled)
			}
			c.logger.Warn("[metadata] #%d: approval failed: %v", rec.Index, err)
			return skip(models.ReasonRejected)
		}
		if !ok {
			return skip(models.ReasonRejected)
		}
	}

	rec.Metadata = merged
	result := CompletionResult{Filled: filled, LowConfidence: c.lowConfidence(proposal, filled)}

	for _, f := range models.RequiredMetadata {
		if !rec.Has(f) {
			c.logger.Warn("[metadata] #%d: %s still missing after completion", rec.Index, f)
			result.Outcome = outcomePtr(models.Skipped(models.ReasonMetadataIncomplete))
			return result
		}
	}
	for _, f := range result.LowConfidence {
		if isRequired(f) {
			c.logger.Warn("[metadata] #%d: %s below confidence %.2f, review needed", rec.Index, f, c.cfg.ReviewThreshold)
			result.Outcome = outcomePtr(models.Skipped(models.ReasonNeedsReview))
			return result
		}
	}

	c.logger.Info("[metadata] #%d: filled %v", rec.Index, filled)
	return result
}

// CompleteBatch runs Complete for the given records through a rate-limited
// worker pool. With an approver the pool has a single worker. Once any record
// is cancelled, records that have not started are cancelled too.
func (c *MetadataCompleter) CompleteBatch(ctx context.Context, records []*models.ListingRecord) []CompletionResult {
	results := make([]CompletionResult, len(records))
	started := make([]bool, len(records))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// one terminal, one prompt at a time
	workers := c.cfg.Concurrency
	if c.approver != nil {
		workers = 1
	}

	pool := utils.NewWorkerPool(workers, c.cfg.RateLimitMs)
	for i, rec := range records {
		if len(rec.Missing()) == 0 {
			started[i] = true
			continue
		}
		job := func() {
			results[i] = c.Complete(ctx, rec)
			if o := results[i].Outcome; o != nil && o.Reason == models.ReasonCancelled {
				cancel()
			}
		}
		if !pool.Submit(ctx, job) {
			break
		}
		started[i] = true
	}
	pool.Wait()

	for i := range results {
		if !started[i] {
			results[i] = skip(models.ReasonCancelled)
		}
	}
	return results
}

func (c *MetadataCompleter) loadImages(rec *models.ListingRecord) ([]models.Image, error) {
	paths := rec.ResolvedPaths
	if len(paths) == 0 {
		return nil, errors.New("no resolved image paths")
	}
	if c.cfg.MaxImages > 0 && len(paths) > c.cfg.MaxImages {
		paths = paths[:c.cfg.MaxImages]
	}

	images := make([]models.Image, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("stat image: %w", err)
		}
		if c.cfg.MaxImageBytes > 0 && info.Size() > c.cfg.MaxImageBytes {
			c.logger.Warn("[metadata] #%d: skipping %s (%d bytes over limit)", rec.Index, p, info.Size())
			continue
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read image: %w", err)
		}
		images = append(images, models.Image{Path: p, MIMEType: "image/jpeg", Data: data})
	}
	if len(images) == 0 {
		return nil, errors.New("no image within size limit")
	}
	return images, nil
}

// lowConfidence lists filled fields scored below the review threshold.
// A field the collaborator gave no score for counts as low.
func (c *MetadataCompleter) lowConfidence(p *models.Proposal, filled []string) []string {
	if c.cfg.ReviewThreshold <= 0 {
		return nil
	}
	var low []string
	for _, f := range filled {
		if score, ok := p.ConfidenceFor(f); !ok || score < c.cfg.ReviewThreshold {
			low = append(low, f)
		}
	}
	return low
}

func isRequired(field string) bool {
	for _, f := range models.RequiredMetadata {
		if f == field {
			return true
		}
	}
	return false
}

func skip(reason string) CompletionResult {
	return CompletionResult{Outcome: outcomePtr(models.Skipped(reason))}
}

func outcomePtr(o models.SubmissionOutcome) *models.SubmissionOutcome {
	return &o
}
