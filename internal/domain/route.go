package domain

import (
	"fmt"
	"math"
	"time"
)

// Tier is a route priority band, 1 being the highest.
type Tier int

const (
	Tier1 Tier = 1
	Tier2 Tier = 2
	Tier3 Tier = 3
)

// Valid reports whether t is one of the three known tiers.
func (t Tier) Valid() bool {
	return t >= Tier1 && t <= Tier3
}

// DefaultFrequencyHours returns the base scan interval of the tier's band.
func (t Tier) DefaultFrequencyHours() float64 {
	switch t {
	case Tier1:
		return 3
	case Tier2:
		return 6
	default:
		return 12
	}
}

// MinFrequencyHours is the lower bound for any route's base scan interval.
const MinFrequencyHours = 1.0

// ValidFrequency reports whether hours is a finite interval of at least MinFrequencyHours.
func ValidFrequency(hours float64) bool {
	return !math.IsNaN(hours) && !math.IsInf(hours, 0) && hours >= MinFrequencyHours
}

// Route is one origin/destination pair under management.
type Route struct {
	ID                     int64
	Origin                 string
	Destination            string
	Tier                   Tier
	BaseScanFrequencyHours float64
	EstimatedCallsPerScan  int
	Segments               []Segment
	Region                 string
	Remarks                string
	Active                 bool
	LastScanAt             time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
}

// Key returns the "ORIGIN-DEST" label used in logs and cache keys.
func (r Route) Key() string {
	return fmt.Sprintf("%s-%s", r.Origin, r.Destination)
}

// Validate checks the catalogue invariants of a route.
func (r Route) Validate() error {
	if r.Origin == "" || r.Destination == "" {
		return fmt.Errorf("route %d: origin and destination required", r.ID)
	}
	if !r.Tier.Valid() {
		return fmt.Errorf("route %s: invalid tier %d", r.Key(), r.Tier)
	}
	if !ValidFrequency(r.BaseScanFrequencyHours) {
		return fmt.Errorf("route %s: scan frequency %.2fh not a finite value of at least %.0fh", r.Key(), r.BaseScanFrequencyHours, MinFrequencyHours)
	}
	if r.EstimatedCallsPerScan <= 0 {
		return fmt.Errorf("route %s: estimated calls per scan must be positive", r.Key())
	}
	return nil
}

// TargetSegments returns the segments deals on this route are validated for.
func (r Route) TargetSegments() []Segment {
	if len(r.Segments) == 0 {
		return AllSegments()
	}
	return r.Segments
}

// RoutePerformance aggregates recent alert activity for one route.
type RoutePerformance struct {
	RouteID        int64
	TotalAlerts    int64
	AvgDiscountPct float64
	ClickRate      float64
	ConversionRate float64
}

// ScheduleChange is one tier/frequency update applied to a route.
type ScheduleChange struct {
	RouteID        int64
	Tier           Tier
	FrequencyHours float64
	Reason         string
}

// Validate checks the change against the route invariants.
func (c ScheduleChange) Validate() error {
	if !c.Tier.Valid() {
		return fmt.Errorf("route %d: invalid tier %d", c.RouteID, c.Tier)
	}
	if !ValidFrequency(c.FrequencyHours) {
		return fmt.Errorf("route %d: scan frequency %.2fh not a finite value of at least %.0fh", c.RouteID, c.FrequencyHours, MinFrequencyHours)
	}
	return nil
}
