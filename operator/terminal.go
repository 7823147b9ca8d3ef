package operator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/manifoldco/promptui"

	"grailed-lister/models"
)

// Terminal talks to the operator on the controlling terminal.
type Terminal struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser

	// run executes a prompt; replaced in tests.
	run func(p *promptui.Prompt) (string, error)

	// busy is held while a prompt reads the terminal. A prompt abandoned on
	// cancellation keeps it until the operator answers, so the next prompt
	// waits instead of reading the same input.
	busy chan struct{}
	once sync.Once
}

// NewTerminal uses the process stdin/stdout (promptui defaults).
func NewTerminal() *Terminal {
	return &Terminal{}
}

func (t *Terminal) prompt(ctx context.Context, p *promptui.Prompt) (string, error) {
	t.once.Do(func() { t.busy = make(chan struct{}, 1) })

	select {
	case t.busy <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if t.Stdin != nil {
		p.Stdin = t.Stdin
	}
	if t.Stdout != nil {
		p.Stdout = t.Stdout
	}
	run := t.run
	if run == nil {
		run = func(p *promptui.Prompt) (string, error) { return p.Run() }
	}

	type answer struct {
		value string
		err   error
	}
	done := make(chan answer, 1)
	go func() {
		defer func() { <-t.busy }()
		v, err := run(p)
		done <- answer{v, err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case a := <-done:
		return a.value, a.err
	}
}

// WaitForLogin blocks until the operator presses Enter after logging in in
// the browser window. There is no timeout; cancelling ctx ends the wait.
func (t *Terminal) WaitForLogin(ctx context.Context) error {
	for {
		_, err := t.prompt(ctx, &promptui.Prompt{
			Label:     "Log in to Grailed in the browser window, then confirm to continue",
			IsConfirm: true,
		})
		switch {
		case err == nil:
			return nil
		case errors.Is(err, promptui.ErrAbort):
			// "n" keeps waiting
			continue
		case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
			return fmt.Errorf("login wait interrupted: %w", context.Canceled)
		default:
			return err
		}
	}
}

// Approve shows the merged metadata and asks whether to keep it.
func (t *Terminal) Approve(ctx context.Context, rec *models.ListingRecord, proposed models.Metadata, filled []string) (bool, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "#%d proposed metadata:\n", rec.Index)
	for _, f := range filled {
		fmt.Fprintf(&b, "  %-12s %s\n", f, proposed.Get(f))
	}
	out := t.Stdout
	if out != nil {
		_, _ = io.WriteString(out, b.String())
	} else {
		fmt.Print(b.String())
	}

	_, err := t.prompt(ctx, &promptui.Prompt{Label: "Accept", IsConfirm: true})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, promptui.ErrAbort):
		return false, nil
	case errors.Is(err, promptui.ErrInterrupt), errors.Is(err, promptui.ErrEOF):
		return false, fmt.Errorf("approval interrupted: %w", context.Canceled)
	}
	return false, err
}
