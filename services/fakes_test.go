package services

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"grailed-lister/config"
	"grailed-lister/models"
	"grailed-lister/utils"
)

func ptrF(f float64) *float64 { return &f }
func ptrB(b bool) *bool       { return &b }

// writeImages creates empty files under dir and returns their paths.
func writeImages(t *testing.T, dir string, names ...string) []string {
	t.Helper()
	paths := make([]string, 0, len(names))
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte{0xff, 0xd8, 0xff, 0xe0}, 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
		paths = append(paths, p)
	}
	return paths
}

func fullMetadata() models.Metadata {
	return models.Metadata{
		Department:  "Menswear",
		Category:    "Outerwear",
		SubCategory: "Denim Jackets",
		Designer:    "Brain Dead x A.P.C",
		ItemName:    "Denim Trucker Jacket",
		Size:        "M",
		Color:       "Indigo",
		Condition:   "Gently Used",
		Description: "Light fading on the cuffs.",
	}
}

func testVisionConfig() config.VisionConfig {
	return config.VisionConfig{Concurrency: 1, ReviewThreshold: 0.6, MaxImages: 4}
}

func testSubmitConfig() config.SubmitConfig {
	return config.SubmitConfig{
		SiteURL:     "https://www.grailed.com",
		ListingURL:  "https://www.grailed.com/sell/new",
		MaxRetries:  1,
		StepTimeout: time.Second,
	}
}

// fakeAnalyzer returns canned proposals or errors keyed by the first image path.
type fakeAnalyzer struct {
	mu        sync.Mutex
	proposals map[string]*models.Proposal
	errs      map[string]error
	fallback  *models.Proposal
	calls     int
}

func (f *fakeAnalyzer) Analyze(_ context.Context, images []models.Image, _ string) (*models.Proposal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++

	key := images[0].Path
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if p, ok := f.proposals[key]; ok {
		return p, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return nil, errors.New("no proposal scripted")
}

func confidentProposal(md models.Metadata) *models.Proposal {
	conf := make(map[string]float64)
	for _, f := range models.MetadataFields {
		conf[f] = 0.9
	}
	return &models.Proposal{Fields: md, Confidence: conf}
}

// fakeBrowser simulates the listing site as a tiny state machine.
type fakeBrowser struct {
	mu sync.Mutex

	surface       models.Surface
	requireLogin  bool
	loggedIn      bool
	noSuccessPage bool
	failOn        map[string]error
	// afterSubmit, when non-empty, names the surface each successive
	// SubmitForm lands on instead of the confirmation page.
	afterSubmit []models.Surface

	navigations int
	fills       []FormValue
	uploads     []string
	submits     int
	closed      bool
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{surface: models.SurfaceUnknown, failOn: map[string]error{}}
}

func (b *fakeBrowser) Acquire(context.Context) error { return b.failOn["acquire"] }

func (b *fakeBrowser) Navigate(_ context.Context, url string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failOn["navigate"]; err != nil {
		return err
	}
	b.navigations++
	if b.requireLogin && !b.loggedIn {
		b.surface = models.SurfaceLogin
	} else {
		b.surface = models.SurfaceListingForm
	}
	return nil
}

func (b *fakeBrowser) DetectSurface(context.Context) (models.Surface, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.surface, b.failOn["detect"]
}

func (b *fakeBrowser) AuthenticationPrompt(context.Context) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.surface == models.SurfaceLogin, nil
}

func (b *fakeBrowser) FillField(_ context.Context, field, value string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failOn["fill:"+field]; err != nil {
		return err
	}
	b.fills = append(b.fills, FormValue{Field: field, Value: value})
	return nil
}

func (b *fakeBrowser) UploadFile(_ context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failOn["upload"]; err != nil {
		return err
	}
	b.uploads = append(b.uploads, path)
	return nil
}

func (b *fakeBrowser) SubmitForm(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.failOn["submit"]; err != nil {
		return err
	}
	b.submits++
	switch {
	case len(b.afterSubmit) > 0:
		b.surface = b.afterSubmit[0]
		b.afterSubmit = b.afterSubmit[1:]
	case !b.noSuccessPage:
		b.surface = models.SurfaceSubmitted
	}
	return nil
}

func (b *fakeBrowser) Close() error {
	b.closed = true
	return nil
}

// fakeOperator logs the browser in and lands it on landOn (the homepage by
// default), blocks until cancelled, or gives up with err.
type fakeOperator struct {
	browser *fakeBrowser
	block   bool
	err     error
	landOn  models.Surface
	waits   int
}

func (o *fakeOperator) WaitForLogin(ctx context.Context) error {
	o.waits++
	if o.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if o.err != nil {
		return o.err
	}
	o.browser.mu.Lock()
	o.browser.loggedIn = true
	o.browser.surface = models.SurfaceHomepage
	if o.landOn != "" {
		o.browser.surface = o.landOn
	}
	o.browser.mu.Unlock()
	return nil
}

func newTestPipeline(analyzer Analyzer, browser *fakeBrowser, operator Operator) *Pipeline {
	logger := utils.Discard()
	v := NewValidator(NewPathResolver(), logger)
	return &Pipeline{
		Validator: v,
		Completer: NewMetadataCompleter(testVisionConfig(), analyzer, v, nil, logger),
		NewBrowser: func(context.Context) (BrowserSession, error) {
			return browser, nil
		},
		Operator: operator,
		Reports:  NewReportService(logger),
		Submit:   testSubmitConfig(),
		Workers:  2,
		Logger:   logger,
	}
}
