package threshold

import (
	"math"

	"flight-deal-scanner/internal/domain"
)

const (
	statisticalWeight = 0.3
	predictiveWeight  = 0.4
	contextualWeight  = 0.3

	zScale      = 25.0
	marginScale = 2.5
)

// Input is one anomaly evaluated for one segment.
type Input struct {
	Route       domain.Route
	Fare        domain.FareSample
	ZScore      float64
	DiscountPct float64
	Segment     domain.Segment
	// BaselinePrice is the route's historical mean fare; zero when unknown.
	BaselinePrice float64
}

// Decision is the validation outcome.
type Decision struct {
	Score          int
	Recommendation domain.Recommendation
	Method         domain.ValidationMethod
	ThresholdUsed  float64
}

// Validate scores a candidate against the segment's current threshold.
// The recommendation is SEND exactly when the discount reaches the threshold.
func (e *Engine) Validate(in Input) Decision {
	threshold := e.Current(in.Segment)
	return Evaluate(in, threshold)
}

// Evaluate is Validate with an explicit threshold.
func Evaluate(in Input, threshold float64) Decision {
	statistical := math.Min(100, math.Abs(in.ZScore)*zScale)
	contextual := clamp(50+marginScale*(in.DiscountPct-threshold), 0, 100)

	type signal struct {
		method domain.ValidationMethod
		value  float64
	}

	var contributions []signal
	if price := in.Fare.PriceFloat(); in.BaselinePrice > 0 && price > 0 {
		baselineDiscount := (in.BaselinePrice - price) / in.BaselinePrice * 100
		predictive := clamp(50+marginScale*(baselineDiscount-threshold), 0, 100)
		contributions = []signal{
			{domain.MethodStatistical, statisticalWeight * statistical},
			{domain.MethodPredictive, predictiveWeight * predictive},
			{domain.MethodContextual, contextualWeight * contextual},
		}
	} else {
		total := statisticalWeight + contextualWeight
		contributions = []signal{
			{domain.MethodStatistical, statisticalWeight / total * statistical},
			{domain.MethodContextual, contextualWeight / total * contextual},
		}
	}

	var score float64
	best := contributions[0]
	for _, c := range contributions {
		score += c.value
		if c.value > best.value {
			best = c
		}
	}

	rec := domain.RecommendHold
	if in.DiscountPct >= threshold {
		rec = domain.RecommendSend
	}

	return Decision{
		Score:          int(math.Round(clamp(score, 0, 100))),
		Recommendation: rec,
		Method:         best.method,
		ThresholdUsed:  threshold,
	}
}
