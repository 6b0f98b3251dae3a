package registry

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneiq/freightlens/internal/clock"
	"github.com/laneiq/freightlens/internal/domain"
	"github.com/laneiq/freightlens/internal/store/memstore"
)

type fixture struct {
	svc       *Service
	periods   *memstore.TimePeriodStore
	saved     *memstore.SavedAnalysisStore
	schedules *memstore.ScheduleStore
	clk       *clock.Fake
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clock.NewFake(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))
	periods := memstore.NewTimePeriodStore(clk)
	saved := memstore.NewSavedAnalysisStore(clk)
	schedules := memstore.NewScheduleStore(clk)
	return &fixture{
		svc:       New(periods, saved, schedules, clk, zerolog.Nop()),
		periods:   periods,
		saved:     saved,
		schedules: schedules,
		clk:       clk,
	}
}

func (f *fixture) seedPeriod(t *testing.T) string {
	t.Helper()
	tp := &domain.TimePeriod{
		Name:        "june",
		StartDate:   time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
		Granularity: domain.GranularityDaily,
		CreatedBy:   "u-1",
	}
	require.NoError(t, f.svc.CreatePeriod(context.Background(), tp))
	return tp.ID
}

func (f *fixture) seedSaved(t *testing.T, name string) string {
	t.Helper()
	sa := &domain.SavedAnalysis{
		Name:         name,
		TimePeriodID: f.seedPeriod(t),
		CreatedBy:    "u-1",
	}
	require.NoError(t, f.svc.CreateSaved(context.Background(), sa))
	return sa.ID
}

func TestCreatePeriod_RejectsInvalidWindow(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreatePeriod(context.Background(), &domain.TimePeriod{
		Name:        "backwards",
		StartDate:   time.Date(2023, 6, 30, 0, 0, 0, 0, time.UTC),
		EndDate:     time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
		Granularity: domain.GranularityDaily,
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidPeriod))
}

func TestCreateSaved_AssignsIDAndPersists(t *testing.T) {
	f := newFixture(t)
	id := f.seedSaved(t, "weekly-usd")

	got, err := f.svc.GetSaved(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "weekly-usd", got.Name)

	byName, err := f.svc.GetSavedByName(context.Background(), "u-1", "weekly-usd")
	require.NoError(t, err)
	assert.Equal(t, id, byName.ID)
}

func TestCreateSaved_NameConflictPerOwner(t *testing.T) {
	f := newFixture(t)
	f.seedSaved(t, "weekly-usd")

	err := f.svc.CreateSaved(context.Background(), &domain.SavedAnalysis{
		Name: "weekly-usd", CreatedBy: "u-1",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNameConflict))

	// A different owner may reuse the name.
	require.NoError(t, f.svc.CreateSaved(context.Background(), &domain.SavedAnalysis{
		Name: "weekly-usd", CreatedBy: "u-2",
	}))
}

func TestCreateSaved_ValidatesFiltersAndPeriod(t *testing.T) {
	f := newFixture(t)

	err := f.svc.CreateSaved(context.Background(), &domain.SavedAnalysis{
		Name:      "bad-currency",
		Filters:   domain.Filters{CurrencyCode: "usd$"},
		CreatedBy: "u-1",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidFilter))

	err = f.svc.CreateSaved(context.Background(), &domain.SavedAnalysis{
		Name:         "dangling-period",
		TimePeriodID: "nope",
		CreatedBy:    "u-1",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}

func TestDeleteSaved_RefusedWhileScheduled(t *testing.T) {
	f := newFixture(t)
	savedID := f.seedSaved(t, "scheduled")

	require.NoError(t, f.svc.CreateSchedule(context.Background(), &domain.AnalysisSchedule{
		Name:            "nightly",
		SavedAnalysisID: savedID,
		ScheduleKind:    domain.ScheduleDaily,
		CreatedBy:       "u-1",
	}))

	err := f.svc.DeleteSaved(context.Background(), savedID)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInUse))

	// Removing the schedule unblocks deletion.
	scheds, err := f.svc.ListSchedules(context.Background(), "u-1")
	require.NoError(t, err)
	require.Len(t, scheds, 1)
	require.NoError(t, f.svc.DeleteSchedule(context.Background(), scheds[0].ID))
	require.NoError(t, f.svc.DeleteSaved(context.Background(), savedID))
}

func TestCreateSchedule_ArmsNextRun(t *testing.T) {
	f := newFixture(t)
	savedID := f.seedSaved(t, "scheduled")

	sched := &domain.AnalysisSchedule{
		Name:            "hourly",
		SavedAnalysisID: savedID,
		ScheduleKind:    domain.ScheduleCron,
		ScheduleSpec:    "0 * * * *",
		CreatedBy:       "u-1",
	}
	require.NoError(t, f.svc.CreateSchedule(context.Background(), sched))

	require.NotNil(t, sched.NextRunAt)
	assert.Equal(t, time.Date(2023, 6, 1, 13, 0, 0, 0, time.UTC), *sched.NextRunAt)
	assert.True(t, sched.IsActive)
}

func TestCreateSchedule_BadSpecRejected(t *testing.T) {
	f := newFixture(t)
	savedID := f.seedSaved(t, "scheduled")

	err := f.svc.CreateSchedule(context.Background(), &domain.AnalysisSchedule{
		Name:            "broken",
		SavedAnalysisID: savedID,
		ScheduleKind:    domain.ScheduleCron,
		ScheduleSpec:    "every now and then",
		CreatedBy:       "u-1",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindInvalidScheduleSpec))
}

func TestCreateSchedule_DanglingSavedAnalysis(t *testing.T) {
	f := newFixture(t)
	err := f.svc.CreateSchedule(context.Background(), &domain.AnalysisSchedule{
		Name:            "orphan",
		SavedAnalysisID: "missing",
		ScheduleKind:    domain.ScheduleDaily,
		CreatedBy:       "u-1",
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.KindNotFound))
}
