package compare

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneiq/freightlens/internal/domain"
)

type fakeAnalyzer struct {
	results map[string]*domain.AnalysisResult
	errs    map[string]error
	calls   []string
}

func (f *fakeAnalyzer) Analyze(_ context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, bool, error) {
	f.calls = append(f.calls, req.TimePeriodID)
	if err, ok := f.errs[req.TimePeriodID]; ok {
		return nil, false, err
	}
	res, ok := f.results[req.TimePeriodID]
	if !ok {
		return nil, false, domain.E(domain.KindNotFound, "time period not found")
	}
	return res, false, nil
}

func dec(t *testing.T, s string) *decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	require.NoError(t, err)
	return &d
}

func bucket(t *testing.T, day int, count int64, mean string) domain.BucketStats {
	t.Helper()
	start := time.Date(2023, 1, day, 0, 0, 0, 0, time.UTC)
	b := domain.BucketStats{Start: start, End: start.Add(24 * time.Hour), RecordCount: count}
	if count > 0 {
		b.Mean = dec(t, mean)
	}
	return b
}

func result(t *testing.T, id, currency, endValue string, buckets ...domain.BucketStats) *domain.AnalysisResult {
	t.Helper()
	var n int64
	for _, b := range buckets {
		n += b.RecordCount
	}
	return &domain.AnalysisResult{
		ID:           id,
		CurrencyCode: currency,
		EndValue:     dec(t, endValue),
		Status:       domain.StatusCompleted,
		Results: &domain.MovementResults{
			Partitions: []domain.PartitionMovement{{
				CurrencyCode: currency,
				RecordCount:  n,
				Buckets:      buckets,
			}},
		},
	}
}

func TestCompare_EqualLengthPeriods(t *testing.T) {
	fa := &fakeAnalyzer{results: map[string]*domain.AnalysisResult{
		"base": result(t, "r-base", "USD", "1100",
			bucket(t, 1, 5, "1000"), bucket(t, 2, 5, "1100")),
		"comp": result(t, "r-comp", "USD", "1000",
			bucket(t, 8, 5, "800"), bucket(t, 9, 5, "1000")),
	}}
	svc := New(fa, zerolog.Nop())

	report, err := svc.Compare(context.Background(), "base", "comp", domain.Filters{}, "u-1")
	require.NoError(t, err)

	assert.Equal(t, "r-base", report.BaseResultID)
	assert.Equal(t, "r-comp", report.ComparisonResultID)
	assert.Equal(t, "USD", report.CurrencyCode)
	assert.False(t, report.LengthMismatch)
	assert.Equal(t, []string{"base", "comp"}, fa.calls)

	require.NotNil(t, report.EndValueDelta)
	assert.True(t, report.EndValueDelta.Equal(decimal.NewFromInt(100)))
	require.NotNil(t, report.RelativeDelta)
	assert.True(t, report.RelativeDelta.Equal(decimal.NewFromInt(10)),
		"got %s", report.RelativeDelta)

	require.Len(t, report.Buckets, 2)
	first := report.Buckets[0]
	require.NotNil(t, first.AbsoluteDelta)
	assert.True(t, first.AbsoluteDelta.Equal(decimal.NewFromInt(200)))
	require.NotNil(t, first.PercentageDelta)
	assert.True(t, first.PercentageDelta.Equal(decimal.NewFromInt(25)))
}

func TestCompare_LengthMismatchPadsShorterSide(t *testing.T) {
	fa := &fakeAnalyzer{results: map[string]*domain.AnalysisResult{
		"base": result(t, "r-base", "USD", "1200",
			bucket(t, 1, 3, "1000"), bucket(t, 2, 3, "1100"), bucket(t, 3, 3, "1200")),
		"comp": result(t, "r-comp", "USD", "900",
			bucket(t, 8, 3, "900")),
	}}
	svc := New(fa, zerolog.Nop())

	report, err := svc.Compare(context.Background(), "base", "comp", domain.Filters{}, "u-1")
	require.NoError(t, err)

	assert.True(t, report.LengthMismatch)
	require.Len(t, report.Buckets, 3)

	// Padded positions carry no deltas.
	assert.NotNil(t, report.Buckets[0].AbsoluteDelta)
	assert.Nil(t, report.Buckets[1].AbsoluteDelta)
	assert.True(t, report.Buckets[1].Comparison.Empty())
	assert.Nil(t, report.Buckets[2].AbsoluteDelta)
}

func TestCompare_ZeroComparisonEndValueSentinel(t *testing.T) {
	fa := &fakeAnalyzer{results: map[string]*domain.AnalysisResult{
		"base": result(t, "r-base", "USD", "500", bucket(t, 1, 2, "500")),
		"comp": result(t, "r-comp", "USD", "0", bucket(t, 8, 2, "0")),
	}}
	svc := New(fa, zerolog.Nop())

	report, err := svc.Compare(context.Background(), "base", "comp", domain.Filters{}, "u-1")
	require.NoError(t, err)

	require.NotNil(t, report.EndValueDelta)
	assert.True(t, report.EndValueDelta.Equal(decimal.NewFromInt(500)))
	assert.Nil(t, report.RelativeDelta)
	assert.Equal(t, domain.SentinelNewPrice, report.Sentinel)
}

func TestCompare_MixedCurrenciesOmitsSharedCurrency(t *testing.T) {
	fa := &fakeAnalyzer{results: map[string]*domain.AnalysisResult{
		"base": result(t, "r-base", "USD", "500", bucket(t, 1, 2, "500")),
		"comp": result(t, "r-comp", "EUR", "400", bucket(t, 8, 2, "400")),
	}}
	svc := New(fa, zerolog.Nop())

	report, err := svc.Compare(context.Background(), "base", "comp", domain.Filters{}, "u-1")
	require.NoError(t, err)
	assert.Empty(t, report.CurrencyCode)
}

func TestCompare_BaseFailurePropagates(t *testing.T) {
	fa := &fakeAnalyzer{errs: map[string]error{
		"base": domain.E(domain.KindInsufficientData, "not enough records"),
	}}
	svc := New(fa, zerolog.Nop())

	_, err := svc.Compare(context.Background(), "base", "comp", domain.Filters{}, "u-1")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInsufficientData))
	assert.Equal(t, []string{"base"}, fa.calls, "comparison analysis must not run")
}
