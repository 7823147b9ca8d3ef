package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grailed-lister/models"
	"grailed-lister/utils"
)

func newTestCompleter(a Analyzer, approver Approver) *MetadataCompleter {
	logger := utils.Discard()
	return NewMetadataCompleter(testVisionConfig(), a, NewValidator(NewPathResolver(), logger), approver, logger)
}

func recordWithImages(t *testing.T, name string) *models.ListingRecord {
	t.Helper()
	imgs := writeImages(t, t.TempDir(), name)
	return &models.ListingRecord{ImagePaths: imgs, ResolvedPaths: imgs, Price: ptrF(80)}
}

type scriptedApprover struct {
	accept bool
	err    error
	seen   []string
}

func (a *scriptedApprover) Approve(_ context.Context, _ *models.ListingRecord, _ models.Metadata, filled []string) (bool, error) {
	a.seen = append(a.seen, filled...)
	return a.accept, a.err
}

func TestCompleteFillsOnlyMissingFields(t *testing.T) {
	rec := recordWithImages(t, "a.jpg")
	rec.ItemName = "X"

	proposed := fullMetadata()
	proposed.ItemName = "Something Else"
	a := &fakeAnalyzer{fallback: confidentProposal(proposed)}

	res := newTestCompleter(a, nil).Complete(context.Background(), rec)

	require.Nil(t, res.Outcome)
	assert.Equal(t, "X", rec.ItemName)
	assert.Equal(t, "Brain Dead x A.P.C", rec.Designer)
	assert.Equal(t, "Menswear", rec.Department)
	assert.NotContains(t, res.Filled, models.FieldItemName)
	assert.Len(t, res.Filled, len(models.MetadataFields)-1)
}

func TestCompleteSkipsCompleteRecords(t *testing.T) {
	rec := recordWithImages(t, "a.jpg")
	rec.Metadata = fullMetadata()
	a := &fakeAnalyzer{}

	res := newTestCompleter(a, nil).Complete(context.Background(), rec)
	assert.Nil(t, res.Outcome)
	assert.Zero(t, a.calls)
}

func TestCompleteCollaboratorFailures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"quota", fmt.Errorf("openai: %w", models.ErrQuotaExceeded), models.ReasonQuotaExceeded},
		{"unavailable", fmt.Errorf("%w: connection refused", models.ErrMetadataUnavailable), models.ReasonMetadataIncomplete},
		{"malformed", errors.New("parse proposal: unexpected end of JSON input"), models.ReasonMetadataIncomplete},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := recordWithImages(t, "a.jpg")
			a := &fakeAnalyzer{errs: map[string]error{rec.ResolvedPaths[0]: tt.err}}

			res := newTestCompleter(a, nil).Complete(context.Background(), rec)
			require.NotNil(t, res.Outcome)
			assert.Equal(t, models.Skipped(tt.reason), *res.Outcome)
			assert.False(t, rec.AnyPresent(), "record must be left untouched")
		})
	}
}

func TestCompleteRequiredFieldStillMissing(t *testing.T) {
	rec := recordWithImages(t, "a.jpg")
	proposed := fullMetadata()
	proposed.Category = ""

	res := newTestCompleter(&fakeAnalyzer{fallback: confidentProposal(proposed)}, nil).Complete(context.Background(), rec)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, models.ReasonMetadataIncomplete, res.Outcome.Reason)
}

func TestCompleteRejectsInvalidEnumProposal(t *testing.T) {
	rec := recordWithImages(t, "a.jpg")
	proposed := fullMetadata()
	proposed.Condition = "Pristine"

	res := newTestCompleter(&fakeAnalyzer{fallback: confidentProposal(proposed)}, nil).Complete(context.Background(), rec)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, models.ReasonMetadataIncomplete, res.Outcome.Reason)
	assert.Empty(t, rec.Condition)
}

func TestCompleteLowConfidence(t *testing.T) {
	t.Run("optional field only warns", func(t *testing.T) {
		rec := recordWithImages(t, "a.jpg")
		p := confidentProposal(fullMetadata())
		p.Confidence[models.FieldSize] = 0.2

		res := newTestCompleter(&fakeAnalyzer{fallback: p}, nil).Complete(context.Background(), rec)
		assert.Nil(t, res.Outcome)
		assert.Equal(t, []string{models.FieldSize}, res.LowConfidence)
	})

	t.Run("required field needs review", func(t *testing.T) {
		rec := recordWithImages(t, "a.jpg")
		p := confidentProposal(fullMetadata())
		delete(p.Confidence, models.FieldCategory)

		res := newTestCompleter(&fakeAnalyzer{fallback: p}, nil).Complete(context.Background(), rec)
		require.NotNil(t, res.Outcome)
		assert.Equal(t, models.ReasonNeedsReview, res.Outcome.Reason)
	})
}

func TestCompleteApproval(t *testing.T) {
	rec := recordWithImages(t, "a.jpg")
	approver := &scriptedApprover{accept: false}

	res := newTestCompleter(&fakeAnalyzer{fallback: confidentProposal(fullMetadata())}, approver).Complete(context.Background(), rec)
	require.NotNil(t, res.Outcome)
	assert.Equal(t, models.ReasonRejected, res.Outcome.Reason)
	assert.NotEmpty(t, approver.seen)
	assert.False(t, rec.AnyPresent())

	rec = recordWithImages(t, "b.jpg")
	approver = &scriptedApprover{accept: true}
	res = newTestCompleter(&fakeAnalyzer{fallback: confidentProposal(fullMetadata())}, approver).Complete(context.Background(), rec)
	assert.Nil(t, res.Outcome)
	assert.Equal(t, "Denim Trucker Jacket", rec.ItemName)
}

func TestCompleteBatchIsolatesQuotaFailure(t *testing.T) {
	first := recordWithImages(t, "first.jpg")
	second := recordWithImages(t, "second.jpg")
	second.Index = 1

	a := &fakeAnalyzer{
		errs:     map[string]error{first.ResolvedPaths[0]: fmt.Errorf("429: %w", models.ErrQuotaExceeded)},
		fallback: confidentProposal(fullMetadata()),
	}
	results := newTestCompleter(a, nil).CompleteBatch(context.Background(), []*models.ListingRecord{first, second})

	require.Len(t, results, 2)
	require.NotNil(t, results[0].Outcome)
	assert.Equal(t, models.ReasonQuotaExceeded, results[0].Outcome.Reason)
	assert.Nil(t, results[1].Outcome)
	assert.Equal(t, "Denim Trucker Jacket", second.ItemName)
	assert.Equal(t, 2, a.calls)
}

func TestCompleteBatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rec := recordWithImages(t, "a.jpg")
	results := newTestCompleter(&fakeAnalyzer{}, nil).CompleteBatch(ctx, []*models.ListingRecord{rec})

	require.NotNil(t, results[0].Outcome)
	assert.Equal(t, models.ReasonCancelled, results[0].Outcome.Reason)
}

// overlapApprover records how many approvals were in flight at once.
type overlapApprover struct {
	mu       sync.Mutex
	inFlight int
	max      int
	calls    int
	err      error
}

func (a *overlapApprover) Approve(context.Context, *models.ListingRecord, models.Metadata, []string) (bool, error) {
	a.mu.Lock()
	a.calls++
	a.inFlight++
	if a.inFlight > a.max {
		a.max = a.inFlight
	}
	a.mu.Unlock()

	time.Sleep(5 * time.Millisecond)

	a.mu.Lock()
	a.inFlight--
	a.mu.Unlock()
	return a.err == nil, a.err
}

func batchOf(t *testing.T, n int) []*models.ListingRecord {
	t.Helper()
	records := make([]*models.ListingRecord, n)
	for i := range records {
		records[i] = recordWithImages(t, fmt.Sprintf("%d.jpg", i))
		records[i].Index = i
	}
	return records
}

func TestCompleteBatchPromptsOneAtATime(t *testing.T) {
	cfg := testVisionConfig()
	cfg.Concurrency = 4
	logger := utils.Discard()
	approver := &overlapApprover{}
	c := NewMetadataCompleter(cfg, &fakeAnalyzer{fallback: confidentProposal(fullMetadata())},
		NewValidator(NewPathResolver(), logger), approver, logger)

	results := c.CompleteBatch(context.Background(), batchOf(t, 4))

	for _, r := range results {
		assert.Nil(t, r.Outcome)
	}
	assert.Equal(t, 4, approver.calls)
	assert.Equal(t, 1, approver.max)
}

func TestCompleteBatchStopsOnInterruptedApproval(t *testing.T) {
	cfg := testVisionConfig()
	cfg.Concurrency = 4
	logger := utils.Discard()
	a := &fakeAnalyzer{fallback: confidentProposal(fullMetadata())}
	approver := &overlapApprover{err: fmt.Errorf("approval interrupted: %w", context.Canceled)}
	c := NewMetadataCompleter(cfg, a, NewValidator(NewPathResolver(), logger), approver, logger)

	results := c.CompleteBatch(context.Background(), batchOf(t, 3))

	for _, r := range results {
		require.NotNil(t, r.Outcome)
		assert.Equal(t, models.ReasonCancelled, r.Outcome.Reason)
	}
	assert.Equal(t, 1, approver.calls)
	assert.Equal(t, 1, a.calls)
}
