// Package catalog holds the strategic route list and seeds it into storage.
package catalog

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"flight-deal-scanner/internal/domain"
	"flight-deal-scanner/internal/storage"
)

type entry struct {
	origin, destination string
	tier                domain.Tier
	calls               int
	region              string
	expectedDiscount    string
	segments            []domain.Segment
}

var strategic = []entry{
	{"CDG", "JFK", domain.Tier1, 4, "americas", "30-70%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "LAX", domain.Tier1, 3, "americas", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "BKK", domain.Tier1, 4, "asia", "25-45%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "DXB", domain.Tier1, 3, "asia", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "SIN", domain.Tier1, 3, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "HKG", domain.Tier1, 3, "asia", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "NRT", domain.Tier1, 3, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "SYD", domain.Tier1, 3, "oceania", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "GRU", domain.Tier1, 3, "americas", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "EZE", domain.Tier1, 3, "americas", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "SCL", domain.Tier1, 3, "americas", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "MEX", domain.Tier1, 3, "americas", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "BOM", domain.Tier1, 3, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "DEL", domain.Tier1, 3, "asia", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "PEK", domain.Tier1, 3, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "PVG", domain.Tier1, 3, "asia", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "ICN", domain.Tier1, 3, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"ORY", "YUL", domain.Tier2, 3, "americas", "30-50%", []domain.Segment{domain.SegmentFree, domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "YYZ", domain.Tier2, 2, "americas", "30-45%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "CUN", domain.Tier2, 3, "americas", "30-50%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "FDF", domain.Tier2, 3, "americas", "35-55%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"ORY", "PTP", domain.Tier2, 3, "americas", "30-50%", []domain.Segment{domain.SegmentFree, domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "RUH", domain.Tier3, 2, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "MNL", domain.Tier3, 2, "asia", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "ISL", domain.Tier3, 2, "europe", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "DOH", domain.Tier3, 2, "asia", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "LHR", domain.Tier3, 2, "europe", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "MIA", domain.Tier2, 3, "americas", "30-50%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "ATH", domain.Tier2, 3, "europe", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "PMI", domain.Tier2, 3, "europe", "25-45%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "IBZ", domain.Tier2, 3, "europe", "20-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "SPU", domain.Tier2, 3, "europe", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "MLE", domain.Tier2, 3, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "PUJ", domain.Tier2, 3, "americas", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "DPS", domain.Tier2, 3, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "LIS", domain.Tier3, 2, "europe", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "VIE", domain.Tier3, 2, "europe", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "BUD", domain.Tier3, 2, "europe", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "MCO", domain.Tier2, 3, "americas", "25-45%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "BAL", domain.Tier2, 3, "europe", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "HER", domain.Tier2, 3, "europe", "30-50%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "HAN", domain.Tier3, 2, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "CGK", domain.Tier3, 2, "asia", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "KUL", domain.Tier3, 2, "asia", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "BOG", domain.Tier3, 2, "americas", "25-40%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
	{"CDG", "LIM", domain.Tier3, 2, "americas", "20-35%", []domain.Segment{domain.SegmentPremium, domain.SegmentEnterprise}},
}

// Strategic returns the managed route catalogue with tier-default frequencies.
func Strategic() []domain.Route {
	routes := make([]domain.Route, 0, len(strategic))
	for _, e := range strategic {
		routes = append(routes, domain.Route{
			Origin:                 e.origin,
			Destination:            e.destination,
			Tier:                   e.tier,
			BaseScanFrequencyHours: e.tier.DefaultFrequencyHours(),
			EstimatedCallsPerScan:  e.calls,
			Segments:               append([]domain.Segment(nil), e.segments...),
			Region:                 e.region,
			Remarks:                "expected discount " + e.expectedDiscount,
			Active:                 true,
		})
	}
	return routes
}

// TierSummary describes the nominal daily load of one tier.
type TierSummary struct {
	Tier         domain.Tier
	Routes       int
	CallsPerScan int
	CallsPerDay  float64
}

// Summarize computes the nominal daily provider calls per tier, without prime-hour boosts.
func Summarize(routes []domain.Route) []TierSummary {
	byTier := map[domain.Tier]*TierSummary{}
	for _, r := range routes {
		if !r.Active {
			continue
		}
		s, ok := byTier[r.Tier]
		if !ok {
			s = &TierSummary{Tier: r.Tier}
			byTier[r.Tier] = s
		}
		s.Routes++
		s.CallsPerScan += r.EstimatedCallsPerScan
		if r.BaseScanFrequencyHours > 0 {
			s.CallsPerDay += float64(r.EstimatedCallsPerScan) * 24 / r.BaseScanFrequencyHours
		}
	}

	out := make([]TierSummary, 0, 3)
	for _, tier := range []domain.Tier{domain.Tier1, domain.Tier2, domain.Tier3} {
		if s, ok := byTier[tier]; ok {
			out = append(out, *s)
		}
	}
	return out
}

// SeedReport lists what a seed run changed.
type SeedReport struct {
	Upserted    int
	Deactivated int
}

// Seed upserts routes into the store. With prune set, active routes absent from
// the list are deactivated; history is never deleted.
func Seed(ctx context.Context, store storage.RouteStore, routes []domain.Route, prune bool, logger zerolog.Logger) (SeedReport, error) {
	log := logger.With().Str("component", "catalog").Logger()
	var report SeedReport

	wanted := make(map[string]struct{}, len(routes))
	for _, r := range routes {
		if err := r.Validate(); err != nil {
			return report, err
		}
		if _, err := store.UpsertRoute(ctx, r); err != nil {
			return report, fmt.Errorf("seed route %s: %w", r.Key(), err)
		}
		wanted[r.Key()] = struct{}{}
		report.Upserted++
	}

	if prune {
		existing, err := store.ListRoutes(ctx, true)
		if err != nil {
			return report, fmt.Errorf("list routes: %w", err)
		}
		for _, r := range existing {
			if _, ok := wanted[r.Key()]; ok {
				continue
			}
			if err := store.DeactivateRoute(ctx, r.ID); err != nil {
				return report, fmt.Errorf("deactivate route %s: %w", r.Key(), err)
			}
			log.Info().Str("route", r.Key()).Msg("route deactivated")
			report.Deactivated++
		}
	}

	log.Info().Int("upserted", report.Upserted).Int("deactivated", report.Deactivated).Msg("route catalogue seeded")
	return report, nil
}
