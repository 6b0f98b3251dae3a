// Package movement turns ordered bucket series into price-movement
// summaries: start/end values, absolute and percentage change, and a
// three-valued trend classification.
package movement

import (
	"github.com/shopspring/decimal"

	"github.com/laneiq/freightlens/internal/domain"
)

// DefaultTrendThreshold is the ± percentage band classified as STABLE.
var DefaultTrendThreshold = decimal.NewFromInt(1)

var hundred = decimal.NewFromInt(100)

// Calculator computes movement summaries against a configurable trend
// threshold.
type Calculator struct {
	threshold decimal.Decimal
}

// NewCalculator builds a calculator; a zero or negative threshold falls
// back to the default 1.0.
func NewCalculator(threshold decimal.Decimal) *Calculator {
	if threshold.Sign() <= 0 {
		threshold = DefaultTrendThreshold
	}
	return &Calculator{threshold: threshold}
}

// Compute derives a movement summary per partition. Partitions with fewer
// than two non-empty buckets carry their buckets but no movement values;
// if no partition has enough data the whole computation fails with
// INSUFFICIENT_DATA.
func (c *Calculator) Compute(agg *domain.AggregateOutput) (*domain.MovementResults, error) {
	out := &domain.MovementResults{
		MixedCurrencies: agg.MixedCurrencies,
		MixedModes:      agg.MixedModes,
	}

	computed := 0
	for _, series := range agg.Series {
		pm := c.partitionMovement(series)
		if pm.StartValue != nil {
			computed++
		}
		out.Partitions = append(out.Partitions, pm)
	}
	if computed == 0 {
		return nil, domain.E(domain.KindInsufficientData,
			"movement needs at least two non-empty buckets")
	}

	out.WeightedAggregate = c.weightedAggregate(out.Partitions)
	return out, nil
}

func (c *Calculator) partitionMovement(series domain.BucketSeries) domain.PartitionMovement {
	pm := domain.PartitionMovement{
		CurrencyCode:  series.CurrencyCode,
		TransportMode: series.TransportMode,
		RecordCount:   series.TotalRecords(),
		Buckets:       series.Buckets,
		BucketDeltas:  bucketDeltas(series.Buckets),
	}

	first, last := -1, -1
	for i, b := range series.Buckets {
		if b.Empty() {
			continue
		}
		if first < 0 {
			first = i
		}
		last = i
	}
	if first < 0 || first == last {
		return pm
	}

	start := *series.Buckets[first].Mean
	end := *series.Buckets[last].Mean
	abs := end.Sub(start)
	pct, sentinel := percentageChange(start, end)

	pm.StartValue = &start
	pm.EndValue = &end
	pm.AbsoluteChange = &abs
	pm.PercentageChange = pct
	pm.Sentinel = sentinel
	pm.TrendDirection = c.trend(pct, sentinel)
	return pm
}

// percentageChange applies the division policy: a zero start with a
// non-zero end has no finite ratio, so a sentinel stands in for ±infinity.
func percentageChange(start, end decimal.Decimal) (*decimal.Decimal, domain.ChangeSentinel) {
	if start.IsZero() {
		switch end.Sign() {
		case 0:
			z := decimal.Zero
			return &z, domain.SentinelNone
		case 1:
			return nil, domain.SentinelNewPrice
		default:
			return nil, domain.SentinelNewDiscount
		}
	}
	pct := end.Sub(start).Mul(hundred).Div(start).RoundBank(6)
	return &pct, domain.SentinelNone
}

func (c *Calculator) trend(pct *decimal.Decimal, sentinel domain.ChangeSentinel) domain.TrendDirection {
	switch sentinel {
	case domain.SentinelNewPrice:
		return domain.TrendIncreasing
	case domain.SentinelNewDiscount:
		return domain.TrendDecreasing
	}
	if pct == nil {
		return ""
	}
	switch {
	case pct.Abs().LessThanOrEqual(c.threshold):
		return domain.TrendStable
	case pct.Sign() > 0:
		return domain.TrendIncreasing
	default:
		return domain.TrendDecreasing
	}
}

// bucketDeltas computes k vs k-1 movement for every adjacent bucket pair.
// Pairs with an empty side yield an entry with nil values so the series
// keeps its shape for the presentation layer.
func bucketDeltas(buckets []domain.BucketStats) []domain.BucketDelta {
	if len(buckets) < 2 {
		return nil
	}
	deltas := make([]domain.BucketDelta, 0, len(buckets)-1)
	for k := 1; k < len(buckets); k++ {
		delta := domain.BucketDelta{Index: k}
		prev, curBucket := buckets[k-1], buckets[k]
		if !prev.Empty() && !curBucket.Empty() {
			abs := curBucket.Mean.Sub(*prev.Mean)
			delta.AbsoluteChange = &abs
			delta.PercentageChange, delta.Sentinel = percentageChange(*prev.Mean, *curBucket.Mean)
		}
		deltas = append(deltas, delta)
	}
	return deltas
}

// weightedAggregate folds multiple partitions of the same currency into a
// record-count-weighted summary. Mixed currencies cannot be aggregated
// without conversion, which is out of scope, so nil is returned.
func (c *Calculator) weightedAggregate(partitions []domain.PartitionMovement) *domain.PartitionMovement {
	currency := ""
	var weighted []domain.PartitionMovement
	for _, p := range partitions {
		if p.StartValue == nil {
			continue
		}
		if currency == "" {
			currency = p.CurrencyCode
		} else if currency != p.CurrencyCode {
			return nil
		}
		weighted = append(weighted, p)
	}
	if len(weighted) < 2 {
		return nil
	}

	var totalCount int64
	startSum, endSum := decimal.Zero, decimal.Zero
	for _, p := range weighted {
		w := decimal.NewFromInt(p.RecordCount)
		totalCount += p.RecordCount
		startSum = startSum.Add(p.StartValue.Mul(w))
		endSum = endSum.Add(p.EndValue.Mul(w))
	}
	if totalCount == 0 {
		return nil
	}
	n := decimal.NewFromInt(totalCount)
	start := startSum.Div(n).RoundBank(6)
	end := endSum.Div(n).RoundBank(6)
	abs := end.Sub(start)
	pct, sentinel := percentageChange(start, end)

	return &domain.PartitionMovement{
		CurrencyCode:     currency,
		RecordCount:      totalCount,
		StartValue:       &start,
		EndValue:         &end,
		AbsoluteChange:   &abs,
		PercentageChange: pct,
		Sentinel:         sentinel,
		TrendDirection:   c.trend(pct, sentinel),
	}
}
