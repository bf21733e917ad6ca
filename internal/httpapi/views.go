package httpapi

import (
	"time"

	"flight-deal-scanner/internal/domain"
)

type cycleJSON struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	PrimeStatus    string    `json:"prime_status"`
	Due            int       `json:"due"`
	Attempted      int       `json:"attempted"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	SkippedBudget  int       `json:"skipped_budget"`
	Anomalies      int       `json:"anomalies"`
	CandidatesSent int       `json:"candidates_sent"`
	CandidatesHeld int       `json:"candidates_held"`
	CallsConsumed  int       `json:"calls_consumed"`
	Halted         bool      `json:"halted"`
	HaltReason     string    `json:"halt_reason,omitempty"`
}

func cycleView(c domain.ScanCycle) cycleJSON {
	return cycleJSON{
		ID:             c.ID,
		StartedAt:      c.StartedAt,
		FinishedAt:     c.FinishedAt,
		PrimeStatus:    c.PrimeStatus,
		Due:            c.Due,
		Attempted:      c.Attempted,
		Succeeded:      c.Succeeded,
		Failed:         c.Failed,
		SkippedBudget:  c.SkippedBudget,
		Anomalies:      c.Anomalies,
		CandidatesSent: c.CandidatesSent,
		CandidatesHeld: c.CandidatesHeld,
		CallsConsumed:  c.CallsConsumed,
		Halted:         c.Halted,
		HaltReason:     c.HaltReason,
	}
}

type dealJSON struct {
	ID                    string    `json:"id"`
	CycleID               string    `json:"cycle_id"`
	Route                 string    `json:"route"`
	Tier                  int       `json:"tier"`
	Price                 string    `json:"price"`
	Currency              string    `json:"currency"`
	Airline               string    `json:"airline,omitempty"`
	Stops                 int       `json:"stops"`
	DeepLink              string    `json:"deep_link,omitempty"`
	Segment               string    `json:"segment"`
	ZScore                float64   `json:"z_score"`
	DiscountPct           float64   `json:"discount_pct"`
	ValidationScore       int       `json:"validation_score"`
	Recommendation        string    `json:"recommendation"`
	ValidationMethod      string    `json:"validation_method"`
	AdaptiveThresholdUsed float64   `json:"adaptive_threshold_used"`
	Synthetic             bool      `json:"synthetic"`
	DetectedAt            time.Time `json:"detected_at"`
}

func dealView(d domain.DealCandidate) dealJSON {
	return dealJSON{
		ID:                    d.ID,
		CycleID:               d.CycleID,
		Route:                 d.Route.Key(),
		Tier:                  int(d.Route.Tier),
		Price:                 d.Fare.Price.StringFixed(2),
		Currency:              d.Fare.Currency,
		Airline:               d.Fare.Airline,
		Stops:                 d.Fare.Stops,
		DeepLink:              d.Fare.DeepLink,
		Segment:               string(d.Segment),
		ZScore:                d.ZScore,
		DiscountPct:           d.DiscountPct,
		ValidationScore:       d.ValidationScore,
		Recommendation:        string(d.Recommendation),
		ValidationMethod:      string(d.ValidationMethod),
		AdaptiveThresholdUsed: d.AdaptiveThresholdUsed,
		Synthetic:             d.Synthetic,
		DetectedAt:            d.DetectedAt,
	}
}
