package ampeco

import (
	"fmt"
	"math"
	"strings"
)

// Conversions only divide when the declared unit is the smaller one, so a
// value that is already in kW, kWh or minutes passes through unchanged. An
// empty unit means the backend default (W, Wh, s).

func ToKilowatts(value float64, unit string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "w", "watt", "watts":
		return value / 1000, nil
	case "kw", "kilowatt", "kilowatts":
		return value, nil
	}
	return 0, fmt.Errorf("unsupported power unit %q", unit)
}

func ToKilowattHours(value float64, unit string) (float64, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "wh":
		return value / 1000, nil
	case "kwh":
		return value, nil
	}
	return 0, fmt.Errorf("unsupported energy unit %q", unit)
}

// ToMinutes rounds half away from zero: 5430s is 91 minutes.
func ToMinutes(value float64, unit string) (int, error) {
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "", "s", "sec", "second", "seconds":
		return int(math.Round(value / 60)), nil
	case "min", "minute", "minutes":
		return int(math.Round(value)), nil
	}
	return 0, fmt.Errorf("unsupported duration unit %q", unit)
}
