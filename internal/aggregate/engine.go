// Package aggregate groups a freight record stream into time buckets and
// computes per-bucket statistics, partitioning by currency and transport
// mode when the stream mixes them.
package aggregate

import (
	"context"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/store"
	"github.com/laneiq/freightlens/internal/timeperiod"
)

// statScale is the half-even rounding scale applied to computed statistics.
const statScale = 6

// Options controls partitioning behaviour.
type Options struct {
	// PartitionModes splits each currency partition by transport mode. The
	// orchestrator enables it when the caller neither filtered modes nor
	// opted out via collapse_modes.
	PartitionModes bool
}

type partitionKey struct {
	currency string
	mode     domain.TransportMode
}

type accumulator struct {
	count  int64
	sum    decimal.Decimal
	sumSq  decimal.Decimal
	min    decimal.Decimal
	max    decimal.Decimal
	values []decimal.Decimal
}

func (a *accumulator) add(v decimal.Decimal) {
	if a.count == 0 {
		a.min, a.max = v, v
	} else {
		if v.LessThan(a.min) {
			a.min = v
		}
		if v.GreaterThan(a.max) {
			a.max = v
		}
	}
	a.count++
	a.sum = a.sum.Add(v)
	a.sumSq = a.sumSq.Add(v.Mul(v))
	a.values = append(a.values, v)
}

type partition struct {
	key     partitionKey
	buckets []domain.BucketStats
	acc     accumulator
}

// Run consumes the cursor and produces one bucket series per partition.
// Records arrive ordered by record_date, so only the current bucket's
// values stay resident; everything before it is already finalized.
// Cancellation is honoured between batches and at bucket boundaries.
func Run(ctx context.Context, buckets []timeperiod.Bucket, cur store.RecordCursor, opts Options) (*domain.AggregateOutput, error) {
	if len(buckets) == 0 {
		return nil, domain.E(domain.KindInvalidPeriod, "no buckets to aggregate over")
	}

	parts := make(map[partitionKey]*partition)
	idx := 0

	for {
		if err := ctx.Err(); err != nil {
			return nil, domain.Wrap(domain.KindCancelled, "aggregation aborted", err)
		}
		batch, err := cur.Next(ctx)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}

		for _, rec := range batch {
			// Skip anything outside the window; the store query is bounded
			// to it but the contract is inclusive at the raw edges.
			if rec.RecordDate.Before(buckets[0].Start) || !rec.RecordDate.Before(buckets[len(buckets)-1].End) {
				continue
			}
			for !rec.RecordDate.Before(buckets[idx].End) {
				if err := ctx.Err(); err != nil {
					return nil, domain.Wrap(domain.KindCancelled, "aggregation aborted", err)
				}
				finalizeAll(parts, idx)
				idx++
			}

			key := partitionKey{currency: rec.CurrencyCode}
			if opts.PartitionModes {
				key.mode = rec.TransportMode
			}
			p, ok := parts[key]
			if !ok {
				p = &partition{key: key, buckets: emptyBuckets(buckets)}
				parts[key] = p
			}
			p.acc.add(rec.FreightCharge)
		}
	}
	finalizeAll(parts, idx)

	return assemble(parts), nil
}

func emptyBuckets(buckets []timeperiod.Bucket) []domain.BucketStats {
	out := make([]domain.BucketStats, len(buckets))
	for i, b := range buckets {
		out[i] = domain.BucketStats{Start: b.Start, End: b.End}
	}
	return out
}

func finalizeAll(parts map[partitionKey]*partition, idx int) {
	for _, p := range parts {
		if p.acc.count > 0 {
			p.buckets[idx] = finalize(p.buckets[idx], &p.acc)
		}
		p.acc = accumulator{}
	}
}

// finalize turns an accumulator into bucket statistics. Empty buckets keep
// nil statistics; zero would be a value, not an absence.
func finalize(b domain.BucketStats, a *accumulator) domain.BucketStats {
	n := decimal.NewFromInt(a.count)
	mean := a.sum.Div(n).RoundBank(statScale)
	med := median(a.values).RoundBank(statScale)
	sd := stddev(a, n)

	b.RecordCount = a.count
	b.Mean = &mean
	b.Median = &med
	b.Min = ptr(a.min)
	b.Max = ptr(a.max)
	b.StdDev = &sd
	return b
}

func median(values []decimal.Decimal) decimal.Decimal {
	sort.Slice(values, func(i, j int) bool { return values[i].LessThan(values[j]) })
	mid := len(values) / 2
	if len(values)%2 == 1 {
		return values[mid]
	}
	return values[mid-1].Add(values[mid]).Div(decimal.NewFromInt(2))
}

// stddev is the population standard deviation. The square root runs in
// float64 and the result is re-rounded half-even at the stat scale.
func stddev(a *accumulator, n decimal.Decimal) decimal.Decimal {
	mean := a.sum.Div(n)
	variance := a.sumSq.Div(n).Sub(mean.Mul(mean))
	if variance.IsNegative() {
		variance = decimal.Zero
	}
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64())).RoundBank(statScale)
}

func assemble(parts map[partitionKey]*partition) *domain.AggregateOutput {
	keys := make([]partitionKey, 0, len(parts))
	for k := range parts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].currency != keys[j].currency {
			return keys[i].currency < keys[j].currency
		}
		return keys[i].mode < keys[j].mode
	})

	out := &domain.AggregateOutput{Series: make([]domain.BucketSeries, 0, len(keys))}
	currencies := make(map[string]int)
	for _, k := range keys {
		currencies[k.currency]++
		out.Series = append(out.Series, domain.BucketSeries{
			CurrencyCode:  k.currency,
			TransportMode: k.mode,
			Buckets:       parts[k].buckets,
		})
	}
	out.MixedCurrencies = len(currencies) > 1
	for _, modesPerCurrency := range currencies {
		if modesPerCurrency > 1 {
			out.MixedModes = true
		}
	}
	return out
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }
