package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"grailed-lister/config"
	"grailed-lister/models"
	"grailed-lister/utils"
)

// Browser is the browser-automation collaborator. Every method may fail with
// a transport or timeout error.
type Browser interface {
	// Acquire confirms the shared session is still usable.
	Acquire(ctx context.Context) error
	Navigate(ctx context.Context, url string) error
	DetectSurface(ctx context.Context) (models.Surface, error)
	// AuthenticationPrompt reports a login prompt, including one overlaid on
	// another page.
	AuthenticationPrompt(ctx context.Context) (bool, error)
	FillField(ctx context.Context, field, value string) error
	UploadFile(ctx context.Context, path string) error
	SubmitForm(ctx context.Context) error
}

// BrowserSession is a Browser that owns resources released by Close.
type BrowserSession interface {
	Browser
	Close() error
}

// BrowserFactory opens the session shared by a whole run. Errors should wrap
// models.ErrSetup.
type BrowserFactory func(ctx context.Context) (BrowserSession, error)

// Operator is the human in the loop for authentication.
type Operator interface {
	// WaitForLogin blocks until the operator reports that login is complete
	// or ctx is cancelled. An operator who gives up returns an error wrapping
	// context.Canceled, which ends the run like a cancelled ctx.
	WaitForLogin(ctx context.Context) error
}

// FormValue is one field to fill, in order.
type FormValue struct {
	Field string
	Value string
}

// Submitter walks one record at a time through the listing form.
type Submitter struct {
	cfg      config.SubmitConfig
	browser  Browser
	operator Operator
	logger   *utils.Logger
	retry    *utils.RetryConfig
	machine  *SurfaceMachine
	dryRun   bool

	// formDirty is set once a record has typed into the form, so the next
	// record starts from a freshly loaded page.
	formDirty bool
}

// NewSubmitter creates a Submitter over an already-open browser session.
func NewSubmitter(cfg config.SubmitConfig, browser Browser, operator Operator, dryRun bool, logger *utils.Logger) *Submitter {
	return &Submitter{
		cfg:      cfg,
		browser:  browser,
		operator: operator,
		logger:   logger,
		retry: &utils.RetryConfig{
			MaxAttempts: cfg.MaxRetries,
			BaseDelay:   time.Second,
			Logger:      logger,
		},
		machine: NewSurfaceMachine(),
		dryRun:  dryRun,
	}
}

// Surfaces returns the surfaces observed so far.
func (s *Submitter) Surfaces() []models.Surface { return s.machine.History() }

// Submit runs the fixed action sequence for rec. A failure at any step ends
// this record only; the returned outcome names the step.
func (s *Submitter) Submit(ctx context.Context, rec *models.ListingRecord) (outcome models.SubmissionOutcome) {
	defer func() {
		if outcome.Kind == models.OutcomeFailed && ctx.Err() != nil {
			outcome = models.Skipped(models.ReasonCancelled)
		}
	}()

	if err := s.step(ctx, func(ctx context.Context) error { return s.browser.Acquire(ctx) }); err != nil {
		return s.fail(rec, models.StageAcquire, err)
	}

	if stage, err := s.reachListingForm(ctx, rec); err != nil {
		if stage == models.StageAuthenticate && errors.Is(err, context.Canceled) {
			s.logger.Warn("[submit] #%d: operator interrupted the login wait", rec.Index)
			return models.Skipped(models.ReasonCancelled)
		}
		return s.fail(rec, stage, err)
	}

	s.formDirty = true
	for _, fv := range FormValues(rec) {
		err := s.step(ctx, func(ctx context.Context) error { return s.browser.FillField(ctx, fv.Field, fv.Value) })
		if err != nil {
			return s.fail(rec, models.StageFill, fmt.Errorf("field %s: %w", fv.Field, err))
		}
	}

	for _, p := range imagePaths(rec) {
		err := s.step(ctx, func(ctx context.Context) error { return s.browser.UploadFile(ctx, p) })
		if err != nil {
			return s.fail(rec, models.StageUpload, fmt.Errorf("image %s: %w", p, err))
		}
	}

	if s.dryRun {
		s.logger.Info("[submit] #%d %q: dry run, form filled, not publishing", rec.Index, rec.Title())
		return models.DryRunOK()
	}

	if err := s.step(ctx, func(ctx context.Context) error { return s.browser.SubmitForm(ctx) }); err != nil {
		return s.fail(rec, models.StageSubmit, err)
	}

	surface, err := s.detect(ctx)
	if err != nil {
		return s.fail(rec, models.StageSubmit, fmt.Errorf("confirm: %w", err))
	}
	if surface != models.SurfaceSubmitted {
		return s.fail(rec, models.StageSubmit, fmt.Errorf("no success indicator, page is %s", surface))
	}

	s.logger.Info("[submit] #%d %q: published", rec.Index, rec.Title())
	return models.Submitted()
}

// reachListingForm drives the surface machine until the listing form is
// showing with no login prompt, waiting on the operator when needed.
func (s *Submitter) reachListingForm(ctx context.Context, rec *models.ListingRecord) (models.Stage, error) {
	navigated := false
	for {
		if _, err := s.detect(ctx); err != nil {
			return models.StageNavigate, err
		}

		action := s.machine.Next()
		if action == ActionFillForm && s.formDirty && !navigated {
			action = ActionNavigate
		}
		if action == ActionFillForm {
			prompt, err := s.authPrompt(ctx)
			if err != nil {
				return models.StageAuthenticate, err
			}
			if !prompt {
				return "", nil
			}
			action = ActionWaitForLogin
		}

		switch action {
		case ActionWaitForLogin:
			s.logger.Warn("[submit] #%d: login required, complete it in the browser window", rec.Index)
			if err := s.operator.WaitForLogin(ctx); err != nil {
				return models.StageAuthenticate, err
			}
			s.logger.Info("[submit] #%d: operator confirmed login, resuming", rec.Index)
			navigated = false

		case ActionNavigate:
			if navigated {
				return models.StageNavigate, fmt.Errorf("still on %s after navigating to %s", s.machine.Current(), s.cfg.ListingURL)
			}
			err := s.retry.Do(ctx, "navigate", func(ctx context.Context) error {
				return s.step(ctx, func(ctx context.Context) error { return s.browser.Navigate(ctx, s.cfg.ListingURL) })
			})
			if err != nil {
				return models.StageNavigate, err
			}
			navigated = true
			s.formDirty = false
		}
	}
}

func (s *Submitter) detect(ctx context.Context) (models.Surface, error) {
	var surface models.Surface
	err := s.step(ctx, func(ctx context.Context) error {
		var err error
		surface, err = s.browser.DetectSurface(ctx)
		return err
	})
	if err != nil {
		return models.SurfaceUnknown, err
	}
	if err := s.machine.Observe(surface); err != nil {
		if !errors.Is(err, ErrUnexpectedTransition) {
			return surface, err
		}
		s.logger.Warn("[submit] %v, recovering from %s", err, surface)
	}
	s.logger.Debug("[submit] surface: %s", surface)
	return surface, nil
}

func (s *Submitter) authPrompt(ctx context.Context) (bool, error) {
	var prompt bool
	err := s.step(ctx, func(ctx context.Context) error {
		var err error
		prompt, err = s.browser.AuthenticationPrompt(ctx)
		return err
	})
	return prompt, err
}

// step bounds one browser call by the configured step timeout.
func (s *Submitter) step(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.cfg.StepTimeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StepTimeout)
	defer cancel()
	return fn(ctx)
}

func (s *Submitter) fail(rec *models.ListingRecord, stage models.Stage, err error) models.SubmissionOutcome {
	var se *models.StageError
	if !errors.As(err, &se) {
		se = &models.StageError{Stage: stage, Err: err}
	}
	s.logger.Error("[submit] #%d %q failed: %v", rec.Index, rec.Title(), se)
	return models.Failed(se.Stage, se.Err)
}

// FormValues lists the form inputs for rec in fill order. A designer
// collaboration such as "Brain Dead x A.P.C" is entered one designer at a time.
func FormValues(rec *models.ListingRecord) []FormValue {
	var out []FormValue
	for _, f := range models.MetadataFields {
		v := rec.Get(f)
		if v == "" {
			continue
		}
		if f == models.FieldDesigner {
			for _, d := range splitDesigners(v) {
				out = append(out, FormValue{Field: f, Value: d})
			}
			continue
		}
		out = append(out, FormValue{Field: f, Value: v})
	}

	if c := strings.TrimSpace(rec.CountryOfOrigin); c != "" {
		out = append(out, FormValue{Field: models.FieldCountryOfOrigin, Value: c})
	}
	if rec.Price != nil {
		out = append(out, FormValue{Field: models.FieldPrice, Value: formatPrice(*rec.Price)})
	}
	if rec.AcceptOffers != nil {
		out = append(out, FormValue{Field: models.FieldAcceptOffers, Value: strconv.FormatBool(*rec.AcceptOffers)})
	}
	if rec.SmartPricing != nil {
		out = append(out, FormValue{Field: models.FieldSmartPricing, Value: strconv.FormatBool(*rec.SmartPricing)})
	}
	if rec.SmartPricingEnabled() && rec.FloorPrice != nil {
		out = append(out, FormValue{Field: models.FieldFloorPrice, Value: formatPrice(*rec.FloorPrice)})
	}
	return out
}

func splitDesigners(v string) []string {
	var out []string
	for _, part := range strings.Split(v, " x ") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func formatPrice(p float64) string {
	return strconv.FormatFloat(p, 'f', -1, 64)
}

func imagePaths(rec *models.ListingRecord) []string {
	if len(rec.ResolvedPaths) > 0 {
		return rec.ResolvedPaths
	}
	return rec.ImagePaths
}
