package services

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrPathNotFound is returned when an image path does not name a regular file.
var ErrPathNotFound = errors.New("file not found")

// PathResolver expands image references to absolute paths and checks that
// they exist. It never reads file contents and is safe for concurrent use.
type PathResolver struct {
	homeDir func() (string, error)
	workDir func() (string, error)
}

// NewPathResolver resolves against the process home and working directories.
func NewPathResolver() *PathResolver {
	return &PathResolver{homeDir: os.UserHomeDir, workDir: os.Getwd}
}

// NewPathResolverAt resolves against fixed directories.
func NewPathResolverAt(home, cwd string) *PathResolver {
	return &PathResolver{
		homeDir: func() (string, error) { return home, nil },
		workDir: func() (string, error) { return cwd, nil },
	}
}

// Expand returns the absolute form of p without touching the filesystem.
func (r *PathResolver) Expand(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" {
		return "", fmt.Errorf("empty path: %w", ErrPathNotFound)
	}

	if p == "~" || strings.HasPrefix(p, "~/") || strings.HasPrefix(p, `~\`) {
		home, err := r.homeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", p, err)
		}
		p = filepath.Join(home, p[1:])
	}

	if !filepath.IsAbs(p) {
		cwd, err := r.workDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", p, err)
		}
		p = filepath.Join(cwd, p)
	}
	return filepath.Clean(p), nil
}

// Resolve expands p and confirms it names an existing regular file.
func (r *PathResolver) Resolve(p string) (string, error) {
	abs, err := r.Expand(p)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", p, ErrPathNotFound)
		}
		return "", fmt.Errorf("stat %s: %w", p, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file: %w", p, ErrPathNotFound)
	}
	return abs, nil
}
