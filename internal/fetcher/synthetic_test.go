package fetcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSynthesizerShape(t *testing.T) {
	for _, date := range []string{"2025-09-10", "2025-09-17", "2025-10-01", "2026-01-05"} {
		q := testQuery()
		q.DepartureDate = date
		fares := Synthesizer{}.Generate(q)

		require.GreaterOrEqual(t, len(fares), 5, date)
		require.LessOrEqual(t, len(fares), 12, date)
		for i, f := range fares {
			require.NoError(t, f.Validate())
			assert.LessOrEqual(t, f.Stops, 2)
			assert.Equal(t, "EUR", f.Currency)
			if i > 0 {
				assert.False(t, f.Price.LessThan(fares[i-1].Price), "fares must be sorted ascending")
			}
		}
	}
}

func TestSynthesizerDeterministic(t *testing.T) {
	a := Synthesizer{}.Generate(testQuery())
	b := Synthesizer{}.Generate(testQuery())
	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.True(t, a[i].Price.Equal(b[i].Price))
		assert.Equal(t, a[i].Airline, b[i].Airline)
	}
}

func TestSynthesizerFlashFaresSwitch(t *testing.T) {
	day := time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)
	flashed := 0
	for i := 0; i < 200; i++ {
		q := testQuery()
		q.DepartureDate = day.AddDate(0, 0, i).Format(dateLayout)

		plain := Synthesizer{}.Generate(q)
		lo, hi := plain[0].PriceFloat(), plain[len(plain)-1].PriceFloat()
		require.LessOrEqual(t, hi/lo, 1.501, "plain batch stays inside the variance band")

		withFlash := Synthesizer{FlashFares: true}.Generate(q)
		require.Len(t, withFlash, len(plain))
		if !withFlash[0].Price.Equal(plain[0].Price) {
			flashed++
			assert.True(t, withFlash[0].Price.LessThan(plain[0].Price))
		}
	}
	assert.Positive(t, flashed)
}

func TestSyntheticStopsDistribution(t *testing.T) {
	assert.Equal(t, 0, syntheticStops(0.1))
	assert.Equal(t, 0, syntheticStops(0.59))
	assert.Equal(t, 1, syntheticStops(0.6))
	assert.Equal(t, 1, syntheticStops(0.79))
	assert.Equal(t, 2, syntheticStops(0.8))
}
