package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/laneiq/freightlens/internal/domain"
)

// fingerprintSchemaVersion bumps whenever the canonical document layout
// changes; bumping invalidates every cached result on purpose.
const fingerprintSchemaVersion = 1

// Fingerprint canonicalizes a request and hashes it with SHA-256. The
// canonical document is byte-stable: map keys marshal lexicographically
// sorted, id arrays are sorted and deduplicated, enum values are uppercase
// names, and keys holding their documented default are omitted.
func Fingerprint(req domain.AnalysisRequest) (digest string, canonical string, err error) {
	doc := map[string]any{
		"schema_version": fingerprintSchemaVersion,
		"period": map[string]any{
			"start_date":  req.Period.StartDate.UTC().Format(time.RFC3339Nano),
			"end_date":    req.Period.EndDate.UTC().Format(time.RFC3339Nano),
			"granularity": strings.ToUpper(string(req.Period.Granularity)),
		},
	}
	if req.Period.Granularity == domain.GranularityCustom {
		doc["period"].(map[string]any)["custom_interval_days"] = req.Period.CustomIntervalDays
	}

	if ids := canonicalSet(req.Filters.OriginIDs); len(ids) > 0 {
		doc["origin_ids"] = ids
	}
	if ids := canonicalSet(req.Filters.DestinationIDs); len(ids) > 0 {
		doc["destination_ids"] = ids
	}
	if ids := canonicalSet(req.Filters.CarrierIDs); len(ids) > 0 {
		doc["carrier_ids"] = ids
	}
	if modes := canonicalModes(req.Filters.TransportModes); len(modes) > 0 {
		doc["transport_modes"] = modes
	}
	if req.Filters.CurrencyCode != "" {
		doc["currency_code"] = strings.ToUpper(req.Filters.CurrencyCode)
	}
	if req.Filters.CollapseModes {
		doc["collapse_modes"] = true
	}
	if req.OutputFormat != "" && req.OutputFormat != domain.DefaultOutputFormat {
		doc["output_format"] = strings.ToUpper(string(req.OutputFormat))
	}
	if req.IncludeVisualization {
		doc["include_visualization"] = true
	}

	// encoding/json marshals map keys in sorted order, which is exactly
	// the canonical-document requirement.
	raw, err := json.Marshal(doc)
	if err != nil {
		return "", "", fmt.Errorf("canonicalize request: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), string(raw), nil
}

func canonicalSet(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func canonicalModes(modes []domain.TransportMode) []string {
	if len(modes) == 0 {
		return nil
	}
	out := make([]string, 0, len(modes))
	seen := make(map[string]struct{}, len(modes))
	for _, m := range modes {
		u := strings.ToUpper(string(m))
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	sort.Strings(out)
	return out
}
