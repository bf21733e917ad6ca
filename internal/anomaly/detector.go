// Package anomaly flags statistically cheap fares within one batch.
package anomaly

import (
	"math"
	"sort"

	"flight-deal-scanner/internal/domain"
)

// DefaultCutoff is the z-score below which a fare is anomalous.
const DefaultCutoff = -2.0

// Anomaly is one fare flagged by a detection pass.
type Anomaly struct {
	Fare        domain.FareSample
	ZScore      float64
	DiscountPct float64
}

// Result is the output of one detection pass.
type Result struct {
	Mean      float64
	StdDev    float64
	Samples   int
	ZScores   []float64
	Anomalies []Anomaly
}

// Empty reports whether no fare was flagged.
func (r Result) Empty() bool {
	return len(r.Anomalies) == 0
}

// Detector computes z-scores over a fare batch.
type Detector struct {
	cutoff float64
}

// NewDetector builds a detector; a non-negative cutoff falls back to DefaultCutoff.
func NewDetector(cutoff float64) *Detector {
	if cutoff >= 0 {
		cutoff = DefaultCutoff
	}
	return &Detector{cutoff: cutoff}
}

// Detect flags fares whose z-score is strictly below the cutoff.
// An empty batch yields an empty result.
func (d *Detector) Detect(fares []domain.FareSample) Result {
	if len(fares) == 0 {
		return Result{}
	}

	prices := make([]float64, len(fares))
	for i, f := range fares {
		prices[i] = f.PriceFloat()
	}
	mean, std := meanStdDev(prices)

	res := Result{
		Mean:    mean,
		StdDev:  std,
		Samples: len(fares),
		ZScores: make([]float64, len(fares)),
	}
	for i, p := range prices {
		z := 0.0
		if std > 0 {
			z = (p - mean) / std
		}
		res.ZScores[i] = z
		if z < d.cutoff {
			res.Anomalies = append(res.Anomalies, Anomaly{
				Fare:        fares[i],
				ZScore:      z,
				DiscountPct: discountPct(p, mean),
			})
		}
	}

	sort.SliceStable(res.Anomalies, func(i, j int) bool {
		a, b := res.Anomalies[i], res.Anomalies[j]
		if a.DiscountPct != b.DiscountPct {
			return a.DiscountPct > b.DiscountPct
		}
		return a.Fare.Price.LessThan(b.Fare.Price)
	})
	return res
}

// DiscountPct is the percentage a price sits below a reference price.
func DiscountPct(price, reference float64) float64 {
	return discountPct(price, reference)
}

func discountPct(price, reference float64) float64 {
	if reference <= 0 {
		return 0
	}
	return (reference - price) / reference * 100
}

// meanStdDev returns the arithmetic mean and population standard deviation.
func meanStdDev(values []float64) (float64, float64) {
	var sum float64
	for _, v := range values {
		sum += v
	}
	mean := sum / float64(len(values))

	var sq float64
	for _, v := range values {
		diff := v - mean
		sq += diff * diff
	}
	return mean, math.Sqrt(sq / float64(len(values)))
}
