package storage

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"grailed-lister/models"
)

// CSVWriter writes one row per report entry to a CSV file.
// It is safe for concurrent use.
type CSVWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *csv.Writer
}

var _ ReportWriter = (*CSVWriter)(nil)

// NewCSVWriter creates (or truncates) the CSV file at the given path and
// writes the header row. Intermediate directories are created automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("csv: create file %q: %w", path, err)
	}

	w := csv.NewWriter(f)

	if err := w.Write([]string{
		"run_id", "index", "title", "valid", "violations", "outcome", "reason", "stage", "error",
	}); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: write header: %w", err)
	}
	w.Flush()

	return &CSVWriter{file: f, writer: w}, nil
}

// WriteReport appends every entry of the report.
func (c *CSVWriter) WriteReport(_ context.Context, report *models.RunReport) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, e := range report.Entries {
		violations := make([]string, 0, len(e.Validation.Violations))
		for _, v := range e.Validation.Violations {
			violations = append(violations, v.String())
		}

		row := []string{
			report.RunID,
			strconv.Itoa(e.Index),
			e.Title,
			strconv.FormatBool(e.Validation.Valid),
			strings.Join(violations, "; "),
			"", "", "", "",
		}
		if e.Outcome != nil {
			row[5] = string(e.Outcome.Kind)
			row[6] = e.Outcome.Reason
			row[7] = string(e.Outcome.Stage)
			row[8] = e.Outcome.Err
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.writer.Flush()
	return c.file.Close()
}
