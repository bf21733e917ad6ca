package primehours

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// 2025-09-02 is a Tuesday.
func at(day, hour, minute int) time.Time {
	return time.Date(2025, time.September, day, hour, minute, 0, 0, time.UTC)
}

func TestMultiplierTuesdayMorningIsCapped(t *testing.T) {
	m := Multiplier(at(2, 9, 30))
	assert.InDelta(t, 1.5, m, 1e-9)
}

func TestMultiplierBounds(t *testing.T) {
	start := at(1, 0, 0)
	for i := 0; i < 7*24*4; i++ {
		ts := start.Add(time.Duration(i) * 15 * time.Minute)
		m := Multiplier(ts)
		if m < 1.0 || m > 1.5 {
			t.Fatalf("multiplier %.3f out of bounds at %s", m, ts)
		}
	}
}

func TestMultiplierComponents(t *testing.T) {
	cases := []struct {
		name string
		ts   time.Time
		want float64
	}{
		{"monday prime band", at(1, 10, 0), 1.2},
		{"monday afternoon band", at(1, 15, 0), 1.2},
		{"monday evening", at(1, 20, 0), 1.0},
		{"wednesday evening", at(3, 20, 0), 1.15},
		{"wednesday morning band", at(3, 10, 0), 1.35},
		{"tuesday afternoon band", at(2, 14, 0), 1.35},
		{"tuesday night", at(2, 3, 0), 1.0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, Multiplier(tc.ts), 1e-9)
		})
	}
}

func TestIsPrimeHour(t *testing.T) {
	assert.True(t, IsPrimeHour(at(1, 9, 0)))
	assert.True(t, IsPrimeHour(at(1, 16, 59)))
	assert.False(t, IsPrimeHour(at(1, 17, 0)))
	assert.True(t, IsPrimeHour(at(3, 7, 0)))
	assert.False(t, IsPrimeHour(at(3, 6, 0)))
	assert.False(t, IsPrimeHour(at(6, 12, 0)))
}

func TestEffectiveIntervalOffPeak(t *testing.T) {
	assert.InDelta(t, 6.0, EffectiveInterval(at(1, 3, 0), 4), 1e-9)
	assert.InDelta(t, 6.0, EffectiveInterval(at(2, 3, 0), 4), 1e-9)
}

func TestEffectiveIntervalPrime(t *testing.T) {
	got := EffectiveInterval(at(2, 10, 0), 4)
	assert.InDelta(t, 4/1.5, got, 1e-9)
	assert.True(t, math.Abs(got-2.67) < 0.01)
}

func TestEffectiveIntervalNormal(t *testing.T) {
	assert.InDelta(t, 12.0, EffectiveInterval(at(6, 20, 0), 12), 1e-9)
}

func TestEffectiveDuration(t *testing.T) {
	assert.Equal(t, 6*time.Hour, EffectiveDuration(at(1, 2, 0), 4))
}

func TestCurrentStatus(t *testing.T) {
	assert.Equal(t, StatusPrime, CurrentStatus(at(2, 10, 0)))
	assert.Equal(t, StatusReduced, CurrentStatus(at(2, 4, 0)))
	assert.Equal(t, StatusNormal, CurrentStatus(at(6, 20, 0)))
}
