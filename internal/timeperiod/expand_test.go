package timeperiod

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneiq/freightlens/internal/domain"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func period(start, end time.Time, g domain.Granularity, interval int) domain.TimePeriod {
	return domain.TimePeriod{
		ID:                 "tp-1",
		StartDate:          start,
		EndDate:            end,
		Granularity:        g,
		CustomIntervalDays: interval,
	}
}

func TestExpand_DailyWholeWeek(t *testing.T) {
	buckets, err := Expand(period(day(2023, 1, 1), day(2023, 1, 7), domain.GranularityDaily, 0))
	require.NoError(t, err)
	require.Len(t, buckets, 7)

	assert.Equal(t, day(2023, 1, 1), buckets[0].Start)
	assert.Equal(t, day(2023, 1, 2), buckets[0].End)
	assert.Equal(t, day(2023, 1, 7), buckets[6].Start)
	assert.Equal(t, day(2023, 1, 8), buckets[6].End)
}

func TestExpand_WeeklyAlignedToStartWeekday(t *testing.T) {
	// 2023-01-04 is a Wednesday; every bucket starts on a Wednesday.
	buckets, err := Expand(period(day(2023, 1, 4), day(2023, 2, 1), domain.GranularityWeekly, 0))
	require.NoError(t, err)
	require.Len(t, buckets, 5)
	for i, b := range buckets[:4] {
		assert.Equal(t, time.Wednesday, b.Start.Weekday(), "bucket %d", i)
		assert.Equal(t, 7*24*time.Hour, b.End.Sub(b.Start), "bucket %d", i)
	}
	// Last bucket truncated at the inclusive end of Feb 1.
	assert.Equal(t, day(2023, 2, 1), buckets[4].Start)
	assert.Equal(t, day(2023, 2, 2), buckets[4].End)
}

func TestExpand_MonthlyCalendarStepping(t *testing.T) {
	buckets, err := Expand(period(day(2023, 1, 1), day(2023, 3, 31), domain.GranularityMonthly, 0))
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, day(2023, 2, 1), buckets[0].End)
	assert.Equal(t, day(2023, 3, 1), buckets[1].End)
	assert.Equal(t, day(2023, 4, 1), buckets[2].End)
}

func TestExpand_MonthlyClampsDayOfMonth(t *testing.T) {
	// Starting Jan 31, the February boundary clamps to Feb 28.
	buckets, err := Expand(period(day(2023, 1, 31), day(2023, 4, 30), domain.GranularityMonthly, 0))
	require.NoError(t, err)
	require.Len(t, buckets, 4)
	assert.Equal(t, day(2023, 2, 28), buckets[0].End)
	assert.Equal(t, day(2023, 3, 31), buckets[1].End)
	assert.Equal(t, day(2023, 4, 30), buckets[2].End)
	assert.Equal(t, day(2023, 5, 1), buckets[3].End) // truncated at inclusive Apr 30
}

func TestExpand_Quarterly(t *testing.T) {
	buckets, err := Expand(period(day(2023, 1, 1), day(2023, 12, 31), domain.GranularityQuarterly, 0))
	require.NoError(t, err)
	require.Len(t, buckets, 4)
	assert.Equal(t, day(2023, 4, 1), buckets[0].End)
	assert.Equal(t, day(2023, 7, 1), buckets[1].End)
	assert.Equal(t, day(2023, 10, 1), buckets[2].End)
}

func TestExpand_CustomIntervalTruncatesLastBucket(t *testing.T) {
	buckets, err := Expand(period(day(2023, 1, 1), day(2023, 1, 15), domain.GranularityCustom, 5))
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, day(2023, 1, 6), buckets[0].End)
	assert.Equal(t, day(2023, 1, 11), buckets[1].End)
	assert.Equal(t, day(2023, 1, 11), buckets[2].Start)
	assert.Equal(t, day(2023, 1, 16), buckets[2].End)
}

func TestExpand_CoverageAndIdempotence(t *testing.T) {
	tp := period(day(2022, 11, 3), day(2023, 2, 17), domain.GranularityWeekly, 0)

	first, err := Expand(tp)
	require.NoError(t, err)
	second, err := Expand(tp)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	start, end := EffectiveWindow(tp)
	assert.Equal(t, start, first[0].Start)
	assert.Equal(t, end, first[len(first)-1].End)
	for i := 1; i < len(first); i++ {
		assert.Equal(t, first[i-1].End, first[i].Start, "gap or overlap at bucket %d", i)
	}
}

func TestExpand_Validation(t *testing.T) {
	cases := []struct {
		name string
		tp   domain.TimePeriod
		kind domain.ErrorKind
	}{
		{
			name: "end before start",
			tp:   period(day(2023, 2, 1), day(2023, 1, 1), domain.GranularityDaily, 0),
			kind: domain.KindInvalidPeriod,
		},
		{
			name: "end equals start",
			tp:   period(day(2023, 1, 1), day(2023, 1, 1), domain.GranularityDaily, 0),
			kind: domain.KindInvalidPeriod,
		},
		{
			name: "custom without interval",
			tp:   period(day(2023, 1, 1), day(2023, 2, 1), domain.GranularityCustom, 0),
			kind: domain.KindInvalidPeriod,
		},
		{
			name: "interval on non-custom",
			tp:   period(day(2023, 1, 1), day(2023, 2, 1), domain.GranularityDaily, 5),
			kind: domain.KindInvalidPeriod,
		},
		{
			name: "unknown granularity",
			tp:   period(day(2023, 1, 1), day(2023, 2, 1), domain.Granularity("HOURLY"), 0),
			kind: domain.KindInvalidPeriod,
		},
		{
			name: "window shorter than one interval",
			tp:   period(day(2023, 1, 1), day(2023, 1, 10), domain.GranularityCustom, 30),
			kind: domain.KindInvalidPeriod,
		},
		{
			name: "too many buckets",
			tp:   period(day(1990, 1, 1), day(2023, 1, 1), domain.GranularityDaily, 0),
			kind: domain.KindPeriodTooGranular,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Expand(tc.tp)
			require.Error(t, err)
			assert.Equal(t, tc.kind, domain.KindOf(err))
		})
	}
}

func TestAddMonthsClamped(t *testing.T) {
	assert.Equal(t, day(2023, 2, 28), AddMonthsClamped(day(2023, 1, 31), 1))
	assert.Equal(t, day(2024, 2, 29), AddMonthsClamped(day(2024, 1, 31), 1))
	assert.Equal(t, day(2023, 3, 15), AddMonthsClamped(day(2023, 2, 15), 1))
	assert.Equal(t, day(2023, 4, 30), AddMonthsClamped(day(2023, 1, 30), 3))

	withTime := time.Date(2023, 1, 31, 10, 30, 0, 0, time.UTC)
	got := AddMonthsClamped(withTime, 1)
	assert.Equal(t, time.Date(2023, 2, 28, 10, 30, 0, 0, time.UTC), got)
}
