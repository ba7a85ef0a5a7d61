package ampeco

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToKilowatts(t *testing.T) {
	tests := []struct {
		value    float64
		unit     string
		expected float64
	}{
		{7400, "", 7.4},
		{7400, "W", 7.4},
		{7.4, "kW", 7.4},
		{11, "KW", 11},
		{0, "", 0},
	}
	for _, tt := range tests {
		got, err := ToKilowatts(tt.value, tt.unit)
		require.NoError(t, err)
		assert.InDelta(t, tt.expected, got, 1e-9, "%v %s", tt.value, tt.unit)
	}

	_, err := ToKilowatts(1, "MW")
	assert.Error(t, err)
}

func TestToKilowattHours(t *testing.T) {
	got, err := ToKilowattHours(15000, "")
	require.NoError(t, err)
	assert.InDelta(t, 15.0, got, 1e-9)

	got, err = ToKilowattHours(15000, "Wh")
	require.NoError(t, err)
	assert.InDelta(t, 15.0, got, 1e-9)

	got, err = ToKilowattHours(10.5, "kWh")
	require.NoError(t, err)
	assert.InDelta(t, 10.5, got, 1e-9)

	_, err = ToKilowattHours(1, "J")
	assert.Error(t, err)
}

func TestToMinutes(t *testing.T) {
	tests := []struct {
		value    float64
		unit     string
		expected int
	}{
		{5430, "", 91},
		{5430, "s", 91},
		{5400, "seconds", 90},
		{29, "", 0},
		{30, "", 1},
		{91, "min", 91},
	}
	for _, tt := range tests {
		got, err := ToMinutes(tt.value, tt.unit)
		require.NoError(t, err)
		assert.Equal(t, tt.expected, got, "%v %s", tt.value, tt.unit)
	}

	_, err := ToMinutes(1, "h")
	assert.Error(t, err)
}
