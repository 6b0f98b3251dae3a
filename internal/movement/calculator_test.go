package movement

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneiq/freightlens/internal/domain"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bucket(day int, count int64, mean string) domain.BucketStats {
	b := domain.BucketStats{
		Start:       time.Date(2023, 1, day, 0, 0, 0, 0, time.UTC),
		End:         time.Date(2023, 1, day+1, 0, 0, 0, 0, time.UTC),
		RecordCount: count,
	}
	if count > 0 {
		m := dec(mean)
		b.Mean = &m
		b.Median = &m
		b.Min = &m
		b.Max = &m
		z := decimal.Zero
		b.StdDev = &z
	}
	return b
}

func series(currency string, mode domain.TransportMode, buckets ...domain.BucketStats) domain.BucketSeries {
	return domain.BucketSeries{CurrencyCode: currency, TransportMode: mode, Buckets: buckets}
}

func singleSeries(buckets ...domain.BucketStats) *domain.AggregateOutput {
	return &domain.AggregateOutput{Series: []domain.BucketSeries{series("USD", domain.ModeOcean, buckets...)}}
}

func TestCompute_ConstantPriceIsStable(t *testing.T) {
	out, err := NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 1, "1000"), bucket(2, 1, "1000"), bucket(3, 1, "1000"),
		bucket(4, 1, "1000"), bucket(5, 1, "1000"), bucket(6, 1, "1000"),
		bucket(7, 1, "1000"),
	))
	require.NoError(t, err)
	require.Len(t, out.Partitions, 1)

	p := out.Partitions[0]
	assert.True(t, p.StartValue.Equal(dec("1000")))
	assert.True(t, p.EndValue.Equal(dec("1000")))
	assert.True(t, p.AbsoluteChange.IsZero())
	assert.True(t, p.PercentageChange.IsZero())
	assert.Equal(t, domain.TrendStable, p.TrendDirection)
}

func TestCompute_MonotonicIncrease(t *testing.T) {
	out, err := NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 10, "1000"), bucket(2, 10, "1100"), bucket(3, 10, "1210"),
	))
	require.NoError(t, err)

	p := out.Partitions[0]
	assert.True(t, p.StartValue.Equal(dec("1000")))
	assert.True(t, p.EndValue.Equal(dec("1210")))
	assert.True(t, p.AbsoluteChange.Equal(dec("210")))
	assert.True(t, p.PercentageChange.Equal(dec("21")), "pct=%s", p.PercentageChange)
	assert.Equal(t, domain.TrendIncreasing, p.TrendDirection)

	require.Len(t, p.BucketDeltas, 2)
	assert.True(t, p.BucketDeltas[0].AbsoluteChange.Equal(dec("100")))
	assert.True(t, p.BucketDeltas[0].PercentageChange.Equal(dec("10")))
	assert.True(t, p.BucketDeltas[1].PercentageChange.Equal(dec("10")))
}

func TestCompute_StartAndEndSkipEmptyBuckets(t *testing.T) {
	out, err := NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 0, ""), bucket(2, 5, "800"), bucket(3, 0, ""), bucket(4, 5, "900"), bucket(5, 0, ""),
	))
	require.NoError(t, err)

	p := out.Partitions[0]
	assert.True(t, p.StartValue.Equal(dec("800")))
	assert.True(t, p.EndValue.Equal(dec("900")))
	assert.Equal(t, domain.TrendIncreasing, p.TrendDirection)

	// Deltas across an empty neighbour carry no values.
	assert.Nil(t, p.BucketDeltas[0].AbsoluteChange)
	assert.Nil(t, p.BucketDeltas[1].AbsoluteChange)
}

func TestCompute_InsufficientData(t *testing.T) {
	_, err := NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 0, ""), bucket(2, 3, "500"), bucket(3, 0, ""),
	))
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientData, domain.KindOf(err))

	_, err = NewCalculator(decimal.Decimal{}).Compute(&domain.AggregateOutput{})
	require.Error(t, err)
	assert.Equal(t, domain.KindInsufficientData, domain.KindOf(err))
}

func TestCompute_NewPriceSentinel(t *testing.T) {
	out, err := NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 2, "0"), bucket(2, 2, "500"),
	))
	require.NoError(t, err)

	p := out.Partitions[0]
	assert.Nil(t, p.PercentageChange)
	assert.Equal(t, domain.SentinelNewPrice, p.Sentinel)
	assert.Equal(t, domain.TrendIncreasing, p.TrendDirection)
}

func TestCompute_ZeroToZeroIsStable(t *testing.T) {
	out, err := NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 2, "0"), bucket(2, 2, "0"),
	))
	require.NoError(t, err)

	p := out.Partitions[0]
	require.NotNil(t, p.PercentageChange)
	assert.True(t, p.PercentageChange.IsZero())
	assert.Equal(t, domain.SentinelNone, p.Sentinel)
	assert.Equal(t, domain.TrendStable, p.TrendDirection)
}

func TestCompute_TrendThresholdBoundary(t *testing.T) {
	// +1.0% exactly is STABLE with the default threshold.
	out, err := NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 1, "1000"), bucket(2, 1, "1010"),
	))
	require.NoError(t, err)
	assert.Equal(t, domain.TrendStable, out.Partitions[0].TrendDirection)

	// A wider configured threshold keeps a 5% move STABLE.
	out, err = NewCalculator(dec("10")).Compute(singleSeries(
		bucket(1, 1, "1000"), bucket(2, 1, "1050"),
	))
	require.NoError(t, err)
	assert.Equal(t, domain.TrendStable, out.Partitions[0].TrendDirection)

	// Decrease beyond the threshold.
	out, err = NewCalculator(decimal.Decimal{}).Compute(singleSeries(
		bucket(1, 1, "1000"), bucket(2, 1, "900"),
	))
	require.NoError(t, err)
	assert.Equal(t, domain.TrendDecreasing, out.Partitions[0].TrendDirection)
}

func TestCompute_MultiPartitionIndependentAndWeighted(t *testing.T) {
	agg := &domain.AggregateOutput{
		MixedModes: true,
		Series: []domain.BucketSeries{
			series("USD", domain.ModeAir, bucket(1, 1, "2000"), bucket(2, 1, "2200")),
			series("USD", domain.ModeOcean, bucket(1, 3, "1000"), bucket(2, 3, "1000")),
		},
	}
	out, err := NewCalculator(decimal.Decimal{}).Compute(agg)
	require.NoError(t, err)
	require.Len(t, out.Partitions, 2)
	assert.Equal(t, domain.TrendIncreasing, out.Partitions[0].TrendDirection)
	assert.Equal(t, domain.TrendStable, out.Partitions[1].TrendDirection)

	wa := out.WeightedAggregate
	require.NotNil(t, wa)
	assert.Equal(t, int64(8), wa.RecordCount)
	// start = (2000*2 + 1000*6) / 8 = 1250, end = (2200*2 + 1000*6) / 8 = 1300
	assert.True(t, wa.StartValue.Equal(dec("1250")), "start=%s", wa.StartValue)
	assert.True(t, wa.EndValue.Equal(dec("1300")), "end=%s", wa.EndValue)
	assert.Equal(t, domain.TrendIncreasing, wa.TrendDirection)
}

func TestCompute_MixedCurrenciesHaveNoWeightedAggregate(t *testing.T) {
	agg := &domain.AggregateOutput{
		MixedCurrencies: true,
		Series: []domain.BucketSeries{
			series("EUR", "", bucket(1, 1, "900"), bucket(2, 1, "950")),
			series("USD", "", bucket(1, 1, "1000"), bucket(2, 1, "1000")),
		},
	}
	out, err := NewCalculator(decimal.Decimal{}).Compute(agg)
	require.NoError(t, err)
	assert.True(t, out.MixedCurrencies)
	assert.Nil(t, out.WeightedAggregate)
	require.Len(t, out.Partitions, 2)
	for _, p := range out.Partitions {
		assert.NotNil(t, p.StartValue)
	}
}
