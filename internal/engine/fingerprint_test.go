package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/laneiq/freightlens/internal/domain"
)

func baseRequest() domain.AnalysisRequest {
	return domain.AnalysisRequest{
		TimePeriodID: "tp-1",
		Period: domain.TimePeriod{
			StartDate:   time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
			EndDate:     time.Date(2023, 3, 31, 0, 0, 0, 0, time.UTC),
			Granularity: domain.GranularityMonthly,
		},
		Filters: domain.Filters{
			OriginIDs:  []string{"SHA", "RTM"},
			CarrierIDs: []string{"MAEU"},
		},
		UserID: "user-1",
	}
}

func TestFingerprint_Deterministic(t *testing.T) {
	a, canonA, err := Fingerprint(baseRequest())
	require.NoError(t, err)
	b, canonB, err := Fingerprint(baseRequest())
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.Equal(t, canonA, canonB)
	assert.Len(t, a, 64) // sha256 hex
}

func TestFingerprint_FilterOrderAndDuplicatesIrrelevant(t *testing.T) {
	a, _, err := Fingerprint(baseRequest())
	require.NoError(t, err)

	req := baseRequest()
	req.Filters.OriginIDs = []string{"RTM", "SHA", "RTM"}
	b, _, err := Fingerprint(req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestFingerprint_DefaultsElided(t *testing.T) {
	a, canonical, err := Fingerprint(baseRequest())
	require.NoError(t, err)

	req := baseRequest()
	req.OutputFormat = domain.FormatJSON // the documented default
	b, _, err := Fingerprint(req)
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotContains(t, canonical, "output_format")
	assert.NotContains(t, canonical, "include_visualization")
	assert.NotContains(t, canonical, "collapse_modes")
}

func TestFingerprint_SemanticFieldsChangeDigest(t *testing.T) {
	base, _, err := Fingerprint(baseRequest())
	require.NoError(t, err)

	mutations := map[string]func(*domain.AnalysisRequest){
		"end date":      func(r *domain.AnalysisRequest) { r.Period.EndDate = r.Period.EndDate.AddDate(0, 0, 1) },
		"granularity":   func(r *domain.AnalysisRequest) { r.Period.Granularity = domain.GranularityWeekly },
		"origin set":    func(r *domain.AnalysisRequest) { r.Filters.OriginIDs = append(r.Filters.OriginIDs, "HAM") },
		"mode filter":   func(r *domain.AnalysisRequest) { r.Filters.TransportModes = []domain.TransportMode{domain.ModeAir} },
		"currency":      func(r *domain.AnalysisRequest) { r.Filters.CurrencyCode = "EUR" },
		"output format": func(r *domain.AnalysisRequest) { r.OutputFormat = domain.FormatCSV },
		"visualization": func(r *domain.AnalysisRequest) { r.IncludeVisualization = true },
		"collapse":      func(r *domain.AnalysisRequest) { r.Filters.CollapseModes = true },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			req := baseRequest()
			mutate(&req)
			got, _, err := Fingerprint(req)
			require.NoError(t, err)
			assert.NotEqual(t, base, got)
		})
	}
}

func TestFingerprint_UserIdentityIrrelevant(t *testing.T) {
	// Two users asking the same question share the cache entry.
	a, _, err := Fingerprint(baseRequest())
	require.NoError(t, err)

	req := baseRequest()
	req.UserID = "user-2"
	b, _, err := Fingerprint(req)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFingerprint_CustomIntervalIncluded(t *testing.T) {
	req := baseRequest()
	req.Period.Granularity = domain.GranularityCustom
	req.Period.CustomIntervalDays = 5
	a, canonical, err := Fingerprint(req)
	require.NoError(t, err)
	assert.Contains(t, canonical, "custom_interval_days")

	req.Period.CustomIntervalDays = 10
	b, _, err := Fingerprint(req)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
