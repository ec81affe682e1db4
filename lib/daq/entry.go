// Package daq sequences absorption scans: batches of frequency sweeps whose
// lock-in readings are averaged over alternating up and down sweeps.
package daq

import (
	"math"
	"time"

	"github.com/gotmc/mmwave/lib/lockin"
	"github.com/gotmc/mmwave/lib/synth"
	"github.com/pkg/errors"
)

// ErrWaitTooShort is returned when the dwell time per point is shorter than
// the lock-in needs to settle.
var ErrWaitTooShort = errors.New("wait time shorter than lock-in settling time")

// Entry is one scan of a batch. Frequencies are at the probe, after the
// multiplier chain.
type Entry struct {
	StartMHz     float64
	StopMHz      float64
	StepMHz      float64
	Sweeps       int
	Sensitivity  int // lock-in table index
	TimeConstant int // lock-in table index
	Harmonic     int
	Phase        float64 // degrees
	Wait         time.Duration
	Reads        int // lock-in reads averaged per point
	PowerDBm     float64
	// Modulation as seen at the probe: for FM, Depth is the probe
	// deviation in kHz and is divided by the band multiplier when
	// programmed.
	Modulation synth.Modulation
	Comment    string
}

// MaxPoints is the largest grid an entry may have; it is the width of the
// points column of an .lwa header.
const MaxPoints = 999999

// Points returns the frequency grid start, start+step, ... up to stop.
func (e Entry) Points() ([]float64, error) {
	if e.StepMHz <= 0 {
		return nil, errors.Errorf("step %g MHz must be positive", e.StepMHz)
	}
	if e.StopMHz < e.StartMHz {
		return nil, errors.Errorf("stop %g MHz below start %g MHz", e.StopMHz, e.StartMHz)
	}
	nf := math.Round((e.StopMHz-e.StartMHz)/e.StepMHz) + 1
	if !(nf <= MaxPoints) {
		return nil, errors.Errorf("%.0f points from %g to %g MHz step %g MHz, at most %d allowed", nf, e.StartMHz, e.StopMHz, e.StepMHz, MaxPoints)
	}
	n := int(nf)
	pts := make([]float64, n)
	for i := range pts {
		pts[i] = e.StartMHz + float64(i)*e.StepMHz
	}
	return pts, nil
}

// Validate checks the entry against the multiplier band and the lock-in
// roll-off it will run with.
func (e Entry) Validate(band synth.Band, slope int) error {
	pts, err := e.Points()
	if err != nil {
		return err
	}
	for _, f := range []float64{pts[0], pts[len(pts)-1]} {
		sf, err := band.SynthFreq(f)
		if err != nil {
			return err
		}
		if sf < synth.MinFreqMHz || sf > synth.MaxFreqMHz {
			return errors.Errorf("synthesizer frequency %g MHz out of range", sf)
		}
	}
	if e.Sweeps < 1 {
		return errors.Errorf("sweeps %d must be at least 1", e.Sweeps)
	}
	if e.Reads < 1 {
		return errors.Errorf("reads per point %d must be at least 1", e.Reads)
	}
	if _, err := lockin.SensitivityValue(e.Sensitivity); err != nil {
		return err
	}
	if e.Harmonic < 1 || e.Harmonic > 19999 {
		return errors.Errorf("harmonic %d outside 1-19999", e.Harmonic)
	}
	if _, err := lockin.SlopeIndex(slope); err != nil {
		return err
	}
	settle, err := lockin.Settle(e.TimeConstant, slope)
	if err != nil {
		return err
	}
	if e.Wait < settle {
		return errors.Wrapf(ErrWaitTooShort, "wait %s, need at least %s", e.Wait, settle)
	}
	return errors.Wrap(e.synthModulation(band).Validate(), "modulation")
}

// synthModulation converts the probe modulation to the synthesizer output.
func (e Entry) synthModulation(band synth.Band) synth.Modulation {
	m := e.Modulation
	if m.Mode == synth.ModFM {
		m.Depth = band.SynthDeviation(m.Depth)
	}
	return m
}

// Duration estimates how long the entry takes to run.
func (e Entry) Duration(slope int) time.Duration {
	pts, err := e.Points()
	if err != nil {
		return 0
	}
	settle, _ := lockin.Settle(e.TimeConstant, slope)
	return settle + time.Duration(len(pts)*e.Sweeps)*e.Wait
}

// Batch is an ordered list of scans sharing one multiplier band and lock-in
// roll-off.
type Batch struct {
	Band    synth.Band
	Slope   int // dB/octave
	Entries []Entry
}

// Validate checks every entry.
func (b Batch) Validate() error {
	if len(b.Entries) == 0 {
		return errors.New("empty batch")
	}
	for i, e := range b.Entries {
		if err := e.Validate(b.Band, b.Slope); err != nil {
			return errors.Wrapf(err, "entry %d", i)
		}
	}
	return nil
}

// Estimate returns the expected run time of the whole batch.
func (b Batch) Estimate() time.Duration {
	var d time.Duration
	for _, e := range b.Entries {
		d += e.Duration(b.Slope)
	}
	return d
}
