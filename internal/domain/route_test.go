package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidFrequency(t *testing.T) {
	assert.True(t, ValidFrequency(1))
	assert.True(t, ValidFrequency(12.5))
	assert.False(t, ValidFrequency(0.5))
	assert.False(t, ValidFrequency(math.NaN()))
	assert.False(t, ValidFrequency(math.Inf(1)))
	assert.False(t, ValidFrequency(math.Inf(-1)))
}

func TestScheduleChangeValidate(t *testing.T) {
	require.NoError(t, ScheduleChange{RouteID: 1, Tier: Tier2, FrequencyHours: 6}.Validate())
	require.Error(t, ScheduleChange{RouteID: 1, Tier: 4, FrequencyHours: 6}.Validate())
	require.Error(t, ScheduleChange{RouteID: 1, Tier: Tier1, FrequencyHours: math.NaN()}.Validate())
	require.Error(t, ScheduleChange{RouteID: 1, Tier: Tier1, FrequencyHours: math.Inf(1)}.Validate())
}

func TestRouteValidateRejectsNonFiniteFrequency(t *testing.T) {
	r := Route{Origin: "CDG", Destination: "JFK", Tier: Tier1, BaseScanFrequencyHours: 3, EstimatedCallsPerScan: 1}
	require.NoError(t, r.Validate())

	r.BaseScanFrequencyHours = math.Inf(1)
	require.Error(t, r.Validate())
}
