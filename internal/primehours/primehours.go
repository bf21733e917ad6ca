// Package primehours decides how scan cadence bends with the wall clock.
//
// All functions take the instant explicitly; callers convert it to the
// configured local time zone first.
package primehours

import "time"

const (
	maxMultiplier  = 1.5
	offPeakDamping = 1.5
	primeBandBoost = 0.20
	primeDayBoost  = 0.15
	tuesdayAMBoost = 0.15
)

// Status labels the current scanning regime.
type Status string

const (
	StatusPrime   Status = "prime"
	StatusNormal  Status = "normal"
	StatusReduced Status = "reduced"
)

func inPrimeBand(hour int) bool {
	return (hour >= 9 && hour <= 11) || (hour >= 14 && hour <= 16)
}

func isPrimeDay(day time.Weekday) bool {
	return day == time.Tuesday || day == time.Wednesday
}

// IsOffPeak reports whether t falls in the night window 00:00-06:59.
func IsOffPeak(t time.Time) bool {
	return t.Hour() <= 6
}

// IsPrimeHour is true inside a prime band, or on Tuesday/Wednesday outside the night window.
func IsPrimeHour(t time.Time) bool {
	return inPrimeBand(t.Hour()) || (isPrimeDay(t.Weekday()) && !IsOffPeak(t))
}

// Multiplier returns the scan-frequency boost in [1.0, 1.5].
func Multiplier(t time.Time) float64 {
	if !IsPrimeHour(t) {
		return 1.0
	}

	hour, day := t.Hour(), t.Weekday()
	m := 1.0
	if inPrimeBand(hour) {
		m += primeBandBoost
	}
	if isPrimeDay(day) {
		m += primeDayBoost
	}
	if day == time.Tuesday && hour >= 9 && hour <= 11 {
		m += tuesdayAMBoost
	}
	if m > maxMultiplier {
		m = maxMultiplier
	}
	return m
}

// EffectiveInterval adapts a base interval (hours) to the time of day.
func EffectiveInterval(t time.Time, baseHours float64) float64 {
	if IsOffPeak(t) {
		return baseHours * offPeakDamping
	}
	if m := Multiplier(t); m > 1.0 {
		return baseHours / m
	}
	return baseHours
}

// EffectiveDuration is EffectiveInterval expressed as a time.Duration.
func EffectiveDuration(t time.Time, baseHours float64) time.Duration {
	return time.Duration(EffectiveInterval(t, baseHours) * float64(time.Hour))
}

// CurrentStatus summarises the regime at t.
func CurrentStatus(t time.Time) Status {
	switch {
	case IsPrimeHour(t):
		return StatusPrime
	case IsOffPeak(t):
		return StatusReduced
	default:
		return StatusNormal
	}
}
