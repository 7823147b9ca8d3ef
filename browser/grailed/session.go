package grailed

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"grailed-lister/config"
	"grailed-lister/models"
	"grailed-lister/utils"
)

const confirmPollInterval = 500 * time.Millisecond

// Session drives one Chrome tab through the Grailed listing form. It is
// created once per run and used by one goroutine at a time.
type Session struct {
	cfg    config.SubmitConfig
	logger *utils.Logger

	tabCtx      context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
}

// Open starts (or attaches to) a browser and returns a ready session.
// Failures wrap models.ErrSetup.
func Open(ctx context.Context, cfg config.SubmitConfig, logger *utils.Logger) (*Session, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)

	if cfg.RemoteURL != "" {
		logger.Info("[browser] Attaching to remote browser at %s", cfg.RemoteURL)
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), cfg.RemoteURL)
	} else {
		chromeBin := findChromeBinary(cfg.ChromeBin)
		logger.Info("[browser] Using browser binary: %s", chromeBin)

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", cfg.Headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
			chromedp.Flag("disable-setuid-sandbox", true),
			chromedp.WindowSize(1366, 900),
			chromedp.UserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 "+
				"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"),
		)
		if chromeBin != "" {
			opts = append(opts, chromedp.ExecPath(chromeBin))
		}
		if cfg.UserDataDir != "" {
			opts = append(opts, chromedp.UserDataDir(cfg.UserDataDir))
		}
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	// Suppress chromedp log noise
	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))

	s := &Session{
		cfg:         cfg,
		logger:      logger,
		tabCtx:      tabCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	// The first Run allocates the browser and must use the tab context itself,
	// otherwise cancelling a derived context would close the browser.
	started := make(chan error, 1)
	go func() {
		started <- chromedp.Run(tabCtx,
			chromedp.Navigate(cfg.SiteURL),
			chromedp.WaitReady("body", chromedp.ByQuery),
		)
	}()
	select {
	case err := <-started:
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%w: start browser: %v", models.ErrSetup, err)
		}
	case <-ctx.Done():
		_ = s.Close()
		return nil, fmt.Errorf("%w: %v", models.ErrSetup, ctx.Err())
	}

	return s, nil
}

// bind derives a context from the tab that also ends when ctx does.
func (s *Session) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancel := context.WithCancel(s.tabCtx)
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		prev := cancel
		cancel = func() { cancelDeadline(); prev() }
	}
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}

func (s *Session) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := s.bind(ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// Acquire checks that the tab still answers.
func (s *Session) Acquire(ctx context.Context) error {
	if err := s.tabCtx.Err(); err != nil {
		return fmt.Errorf("browser session closed: %w", err)
	}
	var loc string
	return s.run(ctx, chromedp.Location(&loc))
}

// Navigate loads url and waits for the page body.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("[browser] Navigating to %s", url)
	return s.run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
	)
}

func (s *Session) snapshot(ctx context.Context) (Signals, error) {
	var loc, html string
	err := s.run(ctx,
		chromedp.Location(&loc),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return Signals{}, err
	}
	return ReadSignals(loc, html)
}

// DetectSurface classifies the current page.
func (s *Session) DetectSurface(ctx context.Context) (models.Surface, error) {
	sig, err := s.snapshot(ctx)
	if err != nil {
		return models.SurfaceUnknown, err
	}
	return sig.Surface(), nil
}

// AuthenticationPrompt reports whether a login page or modal is showing.
func (s *Session) AuthenticationPrompt(ctx context.Context) (bool, error) {
	sig, err := s.snapshot(ctx)
	if err != nil {
		return false, err
	}
	return sig.Surface() == models.SurfaceLogin, nil
}

// FillField enters value into the form input for field.
func (s *Session) FillField(ctx context.Context, field, value string) error {
	input, ok := formFields[field]
	if !ok {
		return fmt.Errorf("no form input for field %q", field)
	}

	switch input.kind {
	case kindText:
		return s.run(ctx,
			chromedp.WaitVisible(input.selector, chromedp.ByQuery),
			chromedp.SetValue(input.selector, "", chromedp.ByQuery),
			chromedp.SendKeys(input.selector, value, chromedp.ByQuery),
		)

	case kindSelect:
		return s.run(ctx,
			chromedp.WaitVisible(input.selector, chromedp.ByQuery),
			chromedp.SetValue(input.selector, value, chromedp.ByQuery),
			chromedp.Evaluate(dispatchChange(input.selector), nil),
		)

	case kindMenu:
		return s.run(ctx,
			chromedp.Click(input.selector, chromedp.ByQuery),
			chromedp.Click(menuItemXPath(value), chromedp.BySearch),
		)

	case kindSearch:
		return s.run(ctx,
			chromedp.WaitVisible(input.selector, chromedp.ByQuery),
			chromedp.SetValue(input.selector, "", chromedp.ByQuery),
			chromedp.SendKeys(input.selector, value, chromedp.ByQuery),
			chromedp.Click(suggestionXPath(value), chromedp.BySearch),
		)

	case kindToggle:
		want, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("field %s: %w", field, err)
		}
		return s.run(ctx,
			chromedp.WaitReady(input.selector, chromedp.ByQuery),
			chromedp.Evaluate(setChecked(input.selector, want), nil),
		)
	}
	return fmt.Errorf("field %s: unsupported input kind", field)
}

// UploadFile attaches one image to the photo input.
func (s *Session) UploadFile(ctx context.Context, path string) error {
	return s.run(ctx,
		chromedp.SetUploadFiles(fileInputSelector, []string{path}, chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
	)
}

// SubmitForm clicks publish and polls until the site shows a result or the
// confirm timeout passes. A login prompt after publishing returns
// models.ErrAuthenticationRequired.
func (s *Session) SubmitForm(ctx context.Context) error {
	err := s.run(ctx,
		chromedp.Click(publishButtonSelector, chromedp.ByQuery),
		chromedp.Sleep(s.cfg.SettleDelay),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return err
	}

	deadline := time.Now().Add(s.cfg.ConfirmTimeout)
	for {
		sig, err := s.snapshot(ctx)
		if err != nil {
			return err
		}
		switch sig.Surface() {
		case models.SurfaceSubmitted, models.SurfaceError:
			return nil
		case models.SurfaceLogin:
			return models.ErrAuthenticationRequired
		}
		if time.Now().After(deadline) {
			s.logger.Warn("[browser] No confirmation within %v", s.cfg.ConfirmTimeout)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(confirmPollInterval):
		}
	}
}

// Close shuts the tab and the browser (or detaches from a remote one).
func (s *Session) Close() error {
	s.cancelTab()
	s.cancelAlloc()
	return nil
}

func dispatchChange(selector string) string {
	return fmt.Sprintf(`(function(){var el=document.querySelector(%s); if(el){el.dispatchEvent(new Event('change',{bubbles:true}));} return true;})()`,
		jsString(selector))
}

func setChecked(selector string, want bool) string {
	return fmt.Sprintf(`(function(){var el=document.querySelector(%s); if(el && el.checked !== %t){el.click();} return true;})()`,
		jsString(selector), want)
}

func menuItemXPath(text string) string {
	return fmt.Sprintf(`//*[@role="menuitem" and normalize-space(.)=%s]`, xpathLiteral(text))
}

func suggestionXPath(text string) string {
	return fmt.Sprintf(`//*[(@role="option" or @role="menuitem") and contains(normalize-space(.), %s)]`, xpathLiteral(text))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// xpathLiteral quotes s for use in an XPath 1.0 expression.
func xpathLiteral(s string) string {
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	if !strings.Contains(s, `'`) {
		return `'` + s + `'`
	}
	parts := strings.Split(s, `"`)
	quoted := make([]string, 0, 2*len(parts))
	for i, p := range parts {
		if i > 0 {
			quoted = append(quoted, `'"'`)
		}
		quoted = append(quoted, `"`+p+`"`)
	}
	return "concat(" + strings.Join(quoted, ", ") + ")"
}

// findChromeBinary locates Chrome/Chromium binary.
func findChromeBinary(configured string) string {
	if configured != "" {
		return configured
	}

	names := []string{"google-chrome-stable", "google-chrome", "chromium", "chromium-browser"}
	for _, name := range names {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}

	paths := []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}

