package storage

import (
	"context"

	"grailed-lister/models"
)

// ReportWriter is the interface any run-report sink must satisfy.
type ReportWriter interface {
	WriteReport(ctx context.Context, report *models.RunReport) error
	Close() error
}
