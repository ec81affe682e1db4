package synth

import (
	"github.com/pkg/errors"
)

// Band is a VDI multiplier chain. The synthesizer output is multiplied by
// Multiplier to reach the probe frequency.
type Band struct {
	Index      int
	Name       string
	Multiplier int
	MinMHz     float64 // probe frequency coverage
	MaxMHz     float64
}

// Bands lists the multiplier chains known to the spectrometer, by index.
var Bands = []Band{
	{0, "Direct", 1, 250, 40000},
	{1, "WR15 (x4)", 4, 50000, 75000},
	{2, "WR10 (x6)", 6, 75000, 110000},
	{3, "WR6.5 (x9)", 9, 110000, 170000},
	{4, "WR4.3 (x12)", 12, 170000, 260000},
	{5, "WR2.8 (x18)", 18, 260000, 400000},
	{6, "WR2.2 (x27)", 27, 325000, 500000},
	{7, "WR1.5 (x36)", 36, 500000, 750000},
}

// LookupBand returns the band with the given index.
func LookupBand(index int) (Band, error) {
	if index < 0 || index >= len(Bands) {
		return Band{}, errors.Errorf("unknown VDI band %d", index)
	}
	return Bands[index], nil
}

// BandFor returns the first band covering probeMHz.
func BandFor(probeMHz float64) (Band, error) {
	for _, b := range Bands {
		if b.Contains(probeMHz) {
			return b, nil
		}
	}
	return Band{}, errors.Errorf("no VDI band covers %g MHz", probeMHz)
}

// Contains reports whether probeMHz lies inside the band.
func (b Band) Contains(probeMHz float64) bool {
	return probeMHz >= b.MinMHz && probeMHz <= b.MaxMHz
}

// SynthFreq converts a probe frequency to the synthesizer frequency.
func (b Band) SynthFreq(probeMHz float64) (float64, error) {
	if !b.Contains(probeMHz) {
		return 0, errors.Errorf("%g MHz outside band %s (%g-%g MHz)", probeMHz, b.Name, b.MinMHz, b.MaxMHz)
	}
	return probeMHz / float64(b.Multiplier), nil
}

// ProbeFreq converts a synthesizer frequency to the probe frequency.
func (b Band) ProbeFreq(synthMHz float64) float64 {
	return synthMHz * float64(b.Multiplier)
}

// SynthDeviation converts an FM deviation at the probe into the deviation to
// program on the synthesizer. Both are in kHz.
func (b Band) SynthDeviation(probeKHz float64) float64 {
	return probeKHz / float64(b.Multiplier)
}

// ProbeDeviation is the inverse of SynthDeviation.
func (b Band) ProbeDeviation(synthKHz float64) float64 {
	return synthKHz * float64(b.Multiplier)
}
