package timeperiod

import (
	"fmt"
	"time"

	"github.com/laneiq/freightlens/internal/domain"
)

// MaxBuckets caps expansion so a mis-sized window cannot blow up the
// aggregation stage.
const MaxBuckets = 10000

// Bucket is a half-open aggregation interval [Start, End).
type Bucket struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// EffectiveWindow returns the half-open window [start, end) an expansion
// covers. A period whose end_date sits exactly at UTC midnight is treated
// as inclusive of that whole day, so the date range [Jan 1, Jan 7] yields
// seven daily buckets rather than six.
func EffectiveWindow(tp domain.TimePeriod) (time.Time, time.Time) {
	start := tp.StartDate.UTC()
	end := tp.EndDate.UTC()
	if h, m, s := end.Clock(); h == 0 && m == 0 && s == 0 && end.Nanosecond() == 0 {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// Expand turns a validated time period into its ordered bucket sequence.
// Buckets are half-open, contiguous, and cover the effective window; the
// last bucket is truncated at the window end and dropped if that leaves it
// empty.
func Expand(tp domain.TimePeriod) ([]Bucket, error) {
	if err := tp.Validate(); err != nil {
		return nil, err
	}
	start, end := EffectiveWindow(tp)

	boundary, err := boundaryFunc(tp, start)
	if err != nil {
		return nil, err
	}
	if boundary(1).After(end) {
		return nil, domain.Ef(domain.KindInvalidPeriod,
			"window is shorter than one %s interval", tp.Granularity)
	}

	var buckets []Bucket
	cur := start
	for k := 1; cur.Before(end); k++ {
		bEnd := boundary(k)
		if bEnd.After(end) {
			bEnd = end
		}
		if bEnd.After(cur) {
			buckets = append(buckets, Bucket{Start: cur, End: bEnd})
			if len(buckets) > MaxBuckets {
				return nil, domain.Ef(domain.KindPeriodTooGranular,
					"window expands to more than %d %s buckets", MaxBuckets, tp.Granularity)
			}
		}
		cur = bEnd
	}
	return buckets, nil
}

// boundaryFunc returns the k-th bucket boundary generator for the period.
// DAILY boundaries sit on UTC midnights of the start day; WEEKLY and
// CUSTOM step in whole days from the start instant; MONTHLY and QUARTERLY
// step in calendar months with the day-of-month clamped.
func boundaryFunc(tp domain.TimePeriod, start time.Time) (func(k int) time.Time, error) {
	switch tp.Granularity {
	case domain.GranularityDaily:
		base := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
		return func(k int) time.Time { return base.AddDate(0, 0, k) }, nil
	case domain.GranularityWeekly:
		return func(k int) time.Time { return start.AddDate(0, 0, 7*k) }, nil
	case domain.GranularityMonthly:
		return func(k int) time.Time { return AddMonthsClamped(start, k) }, nil
	case domain.GranularityQuarterly:
		return func(k int) time.Time { return AddMonthsClamped(start, 3*k) }, nil
	case domain.GranularityCustom:
		days := tp.CustomIntervalDays
		return func(k int) time.Time { return start.AddDate(0, 0, k*days) }, nil
	}
	return nil, domain.E(domain.KindInvalidPeriod, fmt.Sprintf("unknown granularity %q", tp.Granularity))
}

// AddMonthsClamped steps t forward by whole calendar months, clamping the
// day-of-month to the target month's length: Jan 31 + 1 month is Feb 28
// (29 in leap years), never Mar 2-3. The schedule executor shares this for
// MONTHLY next-fire computation.
func AddMonthsClamped(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysInMonth(first.Year(), first.Month()); d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
