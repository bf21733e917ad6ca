package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Recommendation is the SEND/HOLD outcome of validating a candidate.
type Recommendation string

const (
	RecommendSend Recommendation = "SEND"
	RecommendHold Recommendation = "HOLD"
)

// ValidationMethod names the signal that dominated a decision.
type ValidationMethod string

const (
	MethodStatistical ValidationMethod = "STATISTICAL"
	MethodPredictive  ValidationMethod = "PREDICTIVE"
	MethodContextual  ValidationMethod = "CONTEXTUAL"
)

// DealCandidate is a validated anomaly handed to alerting and dashboards.
type DealCandidate struct {
	ID                    string
	CycleID               string
	Route                 Route
	Fare                  FareSample
	Segment               Segment
	ZScore                float64
	DiscountPct           float64
	ValidationScore       int
	Recommendation        Recommendation
	ValidationMethod      ValidationMethod
	AdaptiveThresholdUsed float64
	Synthetic             bool
	DetectedAt            time.Time
}

// Sendable reports whether the candidate should reach users.
func (d DealCandidate) Sendable() bool {
	return d.Recommendation == RecommendSend
}

// ScanCycle summarises one scheduler tick.
type ScanCycle struct {
	ID             string
	StartedAt      time.Time
	FinishedAt     time.Time
	PrimeStatus    string
	Due            int
	Attempted      int
	Succeeded      int
	Failed         int
	SkippedBudget  int
	Anomalies      int
	CandidatesSent int
	CandidatesHeld int
	CallsConsumed  int
	Halted         bool
	HaltReason     string
}

// CallUsageRecord captures one price-provider invocation.
type CallUsageRecord struct {
	Provider     string
	Endpoint     string
	RouteID      int64
	RouteKey     string
	Success      bool
	Synthetic    bool
	CacheHit     bool
	Latency      time.Duration
	ResultsCount int
	Error        string
	CreatedAt    time.Time
}

// DailyCallUsage is the number of provider calls recorded on one day.
type DailyCallUsage struct {
	Day       time.Time
	Calls     int64
	Failures  int64
	Synthetic int64
}

// AdvisorUsageRecord is one unit of external advisor consumption.
type AdvisorUsageRecord struct {
	Model     string
	Task      string
	Tokens    int
	Cost      decimal.Decimal
	CreatedAt time.Time
}

// AdvisorUsage aggregates cost and calls for one advisor model.
type AdvisorUsage struct {
	Model string          `json:"model"`
	Cost  decimal.Decimal `json:"cost"`
	Calls int64           `json:"calls"`
}
