// Package compare runs two analyses over different windows and computes
// delta metrics between them.
package compare

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/laneiq/freightlens/internal/domain"
)

// Analyzer is the orchestrator surface the comparison service drives.
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, bool, error)
}

// BucketPair aligns the k-th base bucket with the k-th comparison bucket.
// A side beyond the shorter period's length is an empty bucket.
type BucketPair struct {
	Index           int                   `json:"index"`
	Base            domain.BucketStats    `json:"base"`
	Comparison      domain.BucketStats    `json:"comparison"`
	AbsoluteDelta   *decimal.Decimal      `json:"absolute_delta,omitempty"`
	PercentageDelta *decimal.Decimal      `json:"percentage_delta,omitempty"`
	Sentinel        domain.ChangeSentinel `json:"sentinel,omitempty"`
}

// Report is the outcome of a comparison.
type Report struct {
	BaseResultID       string                `json:"base_result_id"`
	ComparisonResultID string                `json:"comparison_result_id"`
	CurrencyCode       string                `json:"currency_code,omitempty"`
	EndValueDelta      *decimal.Decimal      `json:"end_value_delta,omitempty"`
	RelativeDelta      *decimal.Decimal      `json:"relative_delta,omitempty"`
	Sentinel           domain.ChangeSentinel `json:"sentinel,omitempty"`
	LengthMismatch     bool                  `json:"length_mismatch"`
	Buckets            []BucketPair          `json:"buckets"`
}

// Service compares analyses pairwise.
type Service struct {
	analyzer Analyzer
	log      zerolog.Logger
}

// New builds a comparison service.
func New(analyzer Analyzer, log zerolog.Logger) *Service {
	return &Service{analyzer: analyzer, log: log}
}

// Compare analyzes the base and comparison periods under the same filters
// and derives deltas. A failure in either underlying analysis propagates.
func (s *Service) Compare(ctx context.Context, basePeriodID, comparisonPeriodID string, filters domain.Filters, userID string) (*Report, error) {
	base, _, err := s.analyzer.Analyze(ctx, domain.AnalysisRequest{
		TimePeriodID: basePeriodID,
		Filters:      filters,
		UserID:       userID,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindOf(err), "base analysis", err)
	}
	comparison, _, err := s.analyzer.Analyze(ctx, domain.AnalysisRequest{
		TimePeriodID: comparisonPeriodID,
		Filters:      filters,
		UserID:       userID,
	})
	if err != nil {
		return nil, domain.Wrap(domain.KindOf(err), "comparison analysis", err)
	}

	report := &Report{
		BaseResultID:       base.ID,
		ComparisonResultID: comparison.ID,
	}
	if base.CurrencyCode == comparison.CurrencyCode {
		report.CurrencyCode = base.CurrencyCode
	}

	if base.EndValue != nil && comparison.EndValue != nil {
		delta := base.EndValue.Sub(*comparison.EndValue)
		report.EndValueDelta = &delta
		report.RelativeDelta, report.Sentinel = relativeDelta(*comparison.EndValue, *base.EndValue)
	}

	report.Buckets, report.LengthMismatch = alignBuckets(
		dominantBuckets(base), dominantBuckets(comparison))
	return report, nil
}

// relativeDelta follows the movement division policy, with the comparison
// value as the denominator.
func relativeDelta(comparison, base decimal.Decimal) (*decimal.Decimal, domain.ChangeSentinel) {
	if comparison.IsZero() {
		switch base.Sign() {
		case 0:
			z := decimal.Zero
			return &z, domain.SentinelNone
		case 1:
			return nil, domain.SentinelNewPrice
		default:
			return nil, domain.SentinelNewDiscount
		}
	}
	d := base.Sub(comparison).Mul(decimal.NewFromInt(100)).Div(comparison).RoundBank(6)
	return &d, domain.SentinelNone
}

// alignBuckets pairs buckets by ordinal position. The shorter side is
// right-padded with empty buckets and the mismatch is flagged.
func alignBuckets(base, comparison []domain.BucketStats) ([]BucketPair, bool) {
	n := len(base)
	if len(comparison) > n {
		n = len(comparison)
	}
	mismatch := len(base) != len(comparison)

	pairs := make([]BucketPair, 0, n)
	for k := 0; k < n; k++ {
		pair := BucketPair{Index: k}
		if k < len(base) {
			pair.Base = base[k]
		}
		if k < len(comparison) {
			pair.Comparison = comparison[k]
		}
		if !pair.Base.Empty() && !pair.Comparison.Empty() {
			delta := pair.Base.Mean.Sub(*pair.Comparison.Mean)
			pair.AbsoluteDelta = &delta
			pair.PercentageDelta, pair.Sentinel = relativeDelta(*pair.Comparison.Mean, *pair.Base.Mean)
		}
		pairs = append(pairs, pair)
	}
	return pairs, mismatch
}

// dominantBuckets picks the bucket series the result's top-level values
// were lifted from.
func dominantBuckets(res *domain.AnalysisResult) []domain.BucketStats {
	if res.Results == nil {
		return nil
	}
	if p := res.Results.Dominant(); p != nil {
		return p.Buckets
	}
	return nil
}
