package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// BucketStats holds the per-bucket statistics over freight_charge. All
// statistic fields are nil for an empty bucket; zero would lie.
type BucketStats struct {
	Start       time.Time        `json:"start"`
	End         time.Time        `json:"end"`
	RecordCount int64            `json:"record_count"`
	Mean        *decimal.Decimal `json:"mean,omitempty"`
	Median      *decimal.Decimal `json:"median,omitempty"`
	Min         *decimal.Decimal `json:"min,omitempty"`
	Max         *decimal.Decimal `json:"max,omitempty"`
	StdDev      *decimal.Decimal `json:"stddev,omitempty"`
}

// Empty reports whether the bucket saw no records.
func (b BucketStats) Empty() bool { return b.RecordCount == 0 }

// BucketSeries is one partition's ordered bucket statistics. TransportMode
// is empty when the series spans modes (collapsed or filtered away).
type BucketSeries struct {
	CurrencyCode  string        `json:"currency_code"`
	TransportMode TransportMode `json:"transport_mode,omitempty"`
	Buckets       []BucketStats `json:"buckets"`
}

// TotalRecords sums record counts across the series.
func (s BucketSeries) TotalRecords() int64 {
	var n int64
	for _, b := range s.Buckets {
		n += b.RecordCount
	}
	return n
}

// AggregateOutput is the aggregation engine's result: one series per
// partition, plus flags describing why partitioning happened.
type AggregateOutput struct {
	MixedCurrencies bool           `json:"mixed_currencies"`
	MixedModes      bool           `json:"mixed_modes"`
	Series          []BucketSeries `json:"series"`
}

// BucketDelta is the movement between bucket k-1 and bucket k of a series.
// Percentage is nil when either neighbour is empty or the division is
// undefined (then Sentinel may carry NEW_PRICE / NEW_DISCOUNT).
type BucketDelta struct {
	Index            int              `json:"index"`
	AbsoluteChange   *decimal.Decimal `json:"absolute_change,omitempty"`
	PercentageChange *decimal.Decimal `json:"percentage_change,omitempty"`
	Sentinel         ChangeSentinel   `json:"sentinel,omitempty"`
}

// PartitionMovement is the movement summary for one partition series.
type PartitionMovement struct {
	CurrencyCode     string           `json:"currency_code"`
	TransportMode    TransportMode    `json:"transport_mode,omitempty"`
	RecordCount      int64            `json:"record_count"`
	StartValue       *decimal.Decimal `json:"start_value,omitempty"`
	EndValue         *decimal.Decimal `json:"end_value,omitempty"`
	AbsoluteChange   *decimal.Decimal `json:"absolute_change,omitempty"`
	PercentageChange *decimal.Decimal `json:"percentage_change,omitempty"`
	Sentinel         ChangeSentinel   `json:"sentinel,omitempty"`
	TrendDirection   TrendDirection   `json:"trend_direction,omitempty"`
	Buckets          []BucketStats    `json:"buckets"`
	BucketDeltas     []BucketDelta    `json:"bucket_deltas,omitempty"`
}

// MovementResults is the opaque results payload stored on an
// AnalysisResult: every partition's movement, plus a record-count-weighted
// aggregate when all partitions share a currency.
type MovementResults struct {
	MixedCurrencies   bool                `json:"mixed_currencies"`
	MixedModes        bool                `json:"mixed_modes"`
	Partitions        []PartitionMovement `json:"partitions"`
	WeightedAggregate *PartitionMovement  `json:"weighted_aggregate,omitempty"`
}

// Dominant returns the partition carrying the most records; ties break on
// (currency_code, transport_mode) for determinism. The orchestrator lifts
// its values to the result's top-level fields.
func (m *MovementResults) Dominant() *PartitionMovement {
	if m == nil || len(m.Partitions) == 0 {
		return nil
	}
	best := &m.Partitions[0]
	for i := 1; i < len(m.Partitions); i++ {
		p := &m.Partitions[i]
		if p.RecordCount > best.RecordCount ||
			(p.RecordCount == best.RecordCount && less(p, best)) {
			best = p
		}
	}
	return best
}

func less(a, b *PartitionMovement) bool {
	if a.CurrencyCode != b.CurrencyCode {
		return a.CurrencyCode < b.CurrencyCode
	}
	return a.TransportMode < b.TransportMode
}
