package lockin

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Sensitivities are the full-scale sensitivities in volts, by SENS index.
var Sensitivities = []float64{
	2e-9, 5e-9, 10e-9, 20e-9, 50e-9, 100e-9, 200e-9, 500e-9,
	1e-6, 2e-6, 5e-6, 10e-6, 20e-6, 50e-6, 100e-6, 200e-6, 500e-6,
	1e-3, 2e-3, 5e-3, 10e-3, 20e-3, 50e-3, 100e-3, 200e-3, 500e-3,
	1,
}

// TimeConstants are the output filter time constants, by OFLT index.
var TimeConstants = []time.Duration{
	10 * time.Microsecond, 30 * time.Microsecond,
	100 * time.Microsecond, 300 * time.Microsecond,
	time.Millisecond, 3 * time.Millisecond,
	10 * time.Millisecond, 30 * time.Millisecond,
	100 * time.Millisecond, 300 * time.Millisecond,
	time.Second, 3 * time.Second,
	10 * time.Second, 30 * time.Second,
	100 * time.Second, 300 * time.Second,
	1000 * time.Second, 3000 * time.Second,
	10000 * time.Second, 30000 * time.Second,
}

// Slopes are the filter roll-offs in dB/octave, by OFSL index.
var Slopes = []int{6, 12, 18, 24}

// SensitivityValue returns the full-scale sensitivity in volts for idx.
func SensitivityValue(idx int) (float64, error) {
	if idx < 0 || idx >= len(Sensitivities) {
		return 0, fmt.Errorf("sensitivity index %d outside 0-%d", idx, len(Sensitivities)-1)
	}
	return Sensitivities[idx], nil
}

// TimeConstantValue returns the time constant for idx.
func TimeConstantValue(idx int) (time.Duration, error) {
	if idx < 0 || idx >= len(TimeConstants) {
		return 0, fmt.Errorf("time constant index %d outside 0-%d", idx, len(TimeConstants)-1)
	}
	return TimeConstants[idx], nil
}

// SlopeIndex returns the OFSL index of a roll-off in dB/octave.
func SlopeIndex(dbPerOct int) (int, error) {
	for i, s := range Slopes {
		if s == dbPerOct {
			return i, nil
		}
	}
	return 0, fmt.Errorf("invalid slope %d dB/oct (want 6, 12, 18 or 24)", dbPerOct)
}

// SettleFactor is the number of time constants the output needs to settle
// within 1% after a step, for a given roll-off.
func SettleFactor(dbPerOct int) float64 {
	switch dbPerOct {
	case 6:
		return 5
	case 12:
		return 7
	case 18:
		return 9
	default:
		return 10
	}
}

// FormatSensitivity renders idx as "10 mV".
func FormatSensitivity(idx int) string {
	v, err := SensitivityValue(idx)
	if err != nil {
		return "?"
	}
	switch {
	case v < 1e-6:
		return fmt.Sprintf("%g nV", math.Round(v*1e9))
	case v < 1e-3:
		return fmt.Sprintf("%g µV", math.Round(v*1e6))
	case v < 1:
		return fmt.Sprintf("%g mV", math.Round(v*1e3))
	}
	return fmt.Sprintf("%g V", v)
}

// ParseSensitivity accepts either a table index ("20") or a value with unit
// ("10mV", "500 uV", "1V") and returns the table index.
func ParseSensitivity(s string) (int, error) {
	s = strings.TrimSpace(s)
	if idx, err := strconv.Atoi(s); err == nil {
		if _, err := SensitivityValue(idx); err != nil {
			return 0, err
		}
		return idx, nil
	}
	v, err := parseVolts(s)
	if err != nil {
		return 0, err
	}
	for i, sv := range Sensitivities {
		if math.Abs(sv-v) <= sv*1e-6 {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no sensitivity of %s", s)
}

func parseVolts(s string) (float64, error) {
	s = strings.ReplaceAll(s, " ", "")
	units := []struct {
		suffix string
		scale  float64
	}{{"nV", 1e-9}, {"uV", 1e-6}, {"µV", 1e-6}, {"mV", 1e-3}, {"V", 1}}
	for _, u := range units {
		if strings.HasSuffix(s, u.suffix) {
			f, err := strconv.ParseFloat(strings.TrimSuffix(s, u.suffix), 64)
			if err != nil {
				return 0, fmt.Errorf("invalid voltage %q", s)
			}
			return f * u.scale, nil
		}
	}
	return 0, fmt.Errorf("invalid voltage %q", s)
}

// ParseTimeConstant accepts either a table index ("6") or a duration
// ("10ms", "3s") and returns the table index.
func ParseTimeConstant(s string) (int, error) {
	s = strings.TrimSpace(s)
	if idx, err := strconv.Atoi(s); err == nil {
		if _, err := TimeConstantValue(idx); err != nil {
			return 0, err
		}
		return idx, nil
	}
	d, err := time.ParseDuration(strings.ReplaceAll(s, " ", ""))
	if err != nil {
		return 0, fmt.Errorf("invalid time constant %q", s)
	}
	for i, tc := range TimeConstants {
		if tc == d {
			return i, nil
		}
	}
	return 0, fmt.Errorf("no time constant of %s", d)
}
