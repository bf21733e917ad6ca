package fetcher

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"flight-deal-scanner/internal/domain"
)

var (
	basePriceLadder = []float64{79, 119, 159, 219, 299, 399, 549}

	syntheticAirlines = []struct{ name, code string }{
		{"Air France", "AF"},
		{"Iberia", "IB"},
		{"Lufthansa", "LH"},
		{"British Airways", "BA"},
		{"KLM", "KL"},
		{"TAP Air Portugal", "TP"},
		{"Vueling", "VY"},
		{"easyJet", "U2"},
	}

	syntheticAircraft = []string{"A320", "A321neo", "B737-800", "B787-9", "A350-900", "E190"}
)

// Synthesizer produces plausible fares when the live provider cannot answer.
// Output is deterministic for a route and departure date.
type Synthesizer struct {
	// FlashFares lets roughly one batch in seven carry a single fare at 40-55%
	// of the base price. Without it every fare stays within 20% of the base.
	FlashFares bool
}

// Generate returns 5-12 fares for q sorted ascending by price.
func (s Synthesizer) Generate(q Query) []domain.FareSample {
	rng := rand.New(rand.NewPCG(seedFor(q), uint64(q.Route.Tier)))

	base := basePriceLadder[rng.IntN(len(basePriceLadder))]
	switch q.Route.Tier {
	case domain.Tier1:
		base *= 1.25
	case domain.Tier3:
		base *= 0.85
	}

	departDay, err := time.Parse(dateLayout, q.DepartureDate)
	if err != nil {
		departDay = time.Now().UTC().Truncate(24 * time.Hour)
	}

	count := 5 + rng.IntN(8)
	fares := make([]domain.FareSample, 0, count)
	for i := 0; i < count; i++ {
		variance := rng.Float64()*0.4 - 0.2
		price := base * (1 + variance)

		airline := syntheticAirlines[rng.IntN(len(syntheticAirlines))]
		depart := departDay.Add(time.Duration(6+rng.IntN(16))*time.Hour + time.Duration(rng.IntN(12)*5)*time.Minute)
		duration := time.Duration(60+rng.IntN(600)) * time.Minute

		fares = append(fares, domain.FareSample{
			Price:      decimal.NewFromFloat(price).Round(2),
			Currency:   q.Currency,
			Stops:      syntheticStops(rng.Float64()),
			Airline:    airline.name,
			Aircraft:   syntheticAircraft[rng.IntN(len(syntheticAircraft))],
			FlightNo:   fmt.Sprintf("%s%d", airline.code, 100+rng.IntN(900)),
			Cabin:      q.Cabin,
			DeepLink:   fmt.Sprintf("https://www.flightapi.io/booking/%s", q.Route.Key()),
			DepartAt:   depart,
			ArriveAt:   depart.Add(duration),
			ReturnDate: q.ReturnDate,
		})
	}

	// occasional error fare
	if s.FlashFares && rng.Float64() < 0.15 {
		flash := base * (0.40 + rng.Float64()*0.15)
		fares[rng.IntN(len(fares))].Price = decimal.NewFromFloat(flash).Round(2)
	}

	sort.SliceStable(fares, func(i, j int) bool {
		return fares[i].Price.LessThan(fares[j].Price)
	})
	return fares
}

func syntheticStops(p float64) int {
	switch {
	case p < 0.6:
		return 0
	case p < 0.8:
		return 1
	default:
		return 2
	}
}

func seedFor(q Query) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(q.Route.Key()))
	_, _ = h.Write([]byte{'|'})
	_, _ = h.Write([]byte(q.DepartureDate))
	return h.Sum64()
}
