package daq

import (
	"context"
	"sync"
	"time"

	"github.com/gotmc/mmwave/lib/lockin"
	"github.com/gotmc/mmwave/lib/log"
	"github.com/gotmc/mmwave/lib/synth"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Source is the swept synthesizer. *synth.Synth satisfies it.
type Source interface {
	SetModulation(m synth.Modulation) error
	SetPower(dbm float64) error
	SetOutput(on bool) error
	SetFrequency(mhz float64) error
}

// Detector is the lock-in amplifier. *lockin.Lockin satisfies it.
type Detector interface {
	SetSensitivity(idx int) error
	SetTimeConstant(idx int) error
	SetSlope(dbPerOct int) error
	SetHarmonic(n int) error
	SetPhase(deg float64) error
	X() (float64, error)
}

// Result is the averaged spectrum of one entry.
type Result struct {
	Entry     Entry
	Band      synth.Band
	FreqMHz   []float64 // probe frequency grid
	Intensity []float64 // average over completed sweeps, volts
	Sweeps    int       // sweeps completed
	Started   time.Time
	Finished  time.Time
	Aborted   bool // the batch was cancelled during this entry
	Skipped   bool // the entry was cut short by Skip
}

// Sink receives each finished spectrum.
type Sink interface {
	Write(r Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(r Result) error

func (f SinkFunc) Write(r Result) error { return f(r) }

// Tee hands every result to each of sinks. Their errors are combined.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(r Result) error {
		var err error
		for _, s := range sinks {
			err = multierr.Append(err, s.Write(r))
		}
		return err
	})
}

// Progress reports one measured point.
type Progress struct {
	Entry   int // index into the batch
	Entries int
	Sweep   int // zero based
	Sweeps  int
	Point   int // grid index
	Points  int
	FreqMHz float64
	Value   float64
	Paused  bool
}

// Controller runs batches on one source and one detector.
type Controller struct {
	src      Source
	det      Detector
	sleep    func(ctx context.Context, d time.Duration) error
	observer func(Progress)

	mu     sync.Mutex
	paused bool
	resume chan struct{}
	skip   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithSleep replaces the dwell timer, mostly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Controller) { c.sleep = fn }
}

// WithObserver installs a callback invoked after every point.
func WithObserver(fn func(Progress)) Option {
	return func(c *Controller) { c.observer = fn }
}

// New returns a controller driving src and det.
func New(src Source, det Detector, opts ...Option) *Controller {
	c := Controller{src: src, det: det, sleep: sleepCtx}
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Pause holds the scan before the next point.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		c.paused = true
		c.resume = make(chan struct{})
	}
}

// Resume releases a paused scan.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		c.paused = false
		close(c.resume)
	}
}

// TogglePause pauses a running scan or resumes a paused one and reports
// whether the scan is now paused.
func (c *Controller) TogglePause() bool {
	c.mu.Lock()
	paused := c.paused
	c.mu.Unlock()
	if paused {
		c.Resume()
	} else {
		c.Pause()
	}
	return !paused
}

// Paused reports whether the scan is paused.
func (c *Controller) Paused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.paused
}

// Skip ends the current entry after the point being measured. Completed
// sweeps are kept and the batch continues with the next entry.
func (c *Controller) Skip() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skip = true
}

func (c *Controller) takeSkip() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.skip
	c.skip = false
	return s
}

func (c *Controller) waitPaused(ctx context.Context) error {
	c.mu.Lock()
	if !c.paused {
		c.mu.Unlock()
		return nil
	}
	ch := c.resume
	c.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-ch:
		return nil
	}
}

// Run validates the batch and runs its entries in order, handing every
// spectrum to sink. When ctx is cancelled the sweep in progress is dropped,
// the average of the completed sweeps is still written with Aborted set, and
// ctx.Err() is returned.
func (c *Controller) Run(ctx context.Context, b Batch, sink Sink) error {
	if err := b.Validate(); err != nil {
		return err
	}
	c.takeSkip()
	for i, e := range b.Entries {
		log.Printf("entry %d/%d: %.4f-%.4f MHz step %g MHz, %d sweeps", i+1, len(b.Entries), e.StartMHz, e.StopMHz, e.StepMHz, e.Sweeps)
		res, err := c.runEntry(ctx, b, i)
		if res.Sweeps > 0 {
			if werr := sink.Write(res); werr != nil {
				return errors.Wrapf(werr, "entry %d: write result", i)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (c *Controller) commit(b Batch, e Entry) error {
	steps := []struct {
		what string
		fn   func() error
	}{
		{"sensitivity", func() error { return c.det.SetSensitivity(e.Sensitivity) }},
		{"time constant", func() error { return c.det.SetTimeConstant(e.TimeConstant) }},
		{"slope", func() error { return c.det.SetSlope(b.Slope) }},
		{"harmonic", func() error { return c.det.SetHarmonic(e.Harmonic) }},
		{"phase", func() error { return c.det.SetPhase(e.Phase) }},
		{"modulation", func() error { return c.src.SetModulation(e.synthModulation(b.Band)) }},
		{"power", func() error { return c.src.SetPower(e.PowerDBm) }},
		{"output", func() error { return c.src.SetOutput(true) }},
	}
	for _, s := range steps {
		if err := s.fn(); err != nil {
			return errors.Wrapf(err, "set %s", s.what)
		}
	}
	return nil
}

func (c *Controller) runEntry(ctx context.Context, b Batch, idx int) (Result, error) {
	e := b.Entries[idx]
	pts, _ := e.Points() // validated
	res := Result{Entry: e, Band: b.Band, FreqMHz: pts, Started: time.Now()}
	sum := make([]float64, len(pts))
	sweep := make([]float64, len(pts))

	finish := func(err error) (Result, error) {
		res.Finished = time.Now()
		if res.Sweeps > 0 {
			res.Intensity = make([]float64, len(sum))
			for i, v := range sum {
				res.Intensity[i] = v / float64(res.Sweeps)
			}
		}
		if err != nil && ctx.Err() != nil {
			res.Aborted = true
			return res, ctx.Err()
		}
		return res, err
	}

	if err := c.commit(b, e); err != nil {
		return finish(errors.Wrapf(err, "entry %d", idx))
	}
	settle, _ := lockin.Settle(e.TimeConstant, b.Slope)
	if err := c.sleep(ctx, settle); err != nil {
		return finish(err)
	}

	for k := 0; k < e.Sweeps; k++ {
		for j := range pts {
			i := j
			if k%2 == 1 {
				i = len(pts) - 1 - j
			}
			if err := c.waitPaused(ctx); err != nil {
				return finish(err)
			}
			if err := ctx.Err(); err != nil {
				return finish(err)
			}
			v, err := c.measure(ctx, b.Band, e, pts[i])
			if err != nil {
				if ctx.Err() == nil {
					err = errors.Wrapf(err, "entry %d sweep %d point %d (%.4f MHz)", idx, k, i, pts[i])
				}
				return finish(err)
			}
			sweep[i] = v
			if c.observer != nil {
				c.observer(Progress{
					Entry: idx, Entries: len(b.Entries),
					Sweep: k, Sweeps: e.Sweeps,
					Point: i, Points: len(pts),
					FreqMHz: pts[i], Value: v,
					Paused: c.Paused(),
				})
			}
			if j == len(pts)-1 {
				for i, v := range sweep {
					sum[i] += v
				}
				res.Sweeps++
			}
			if c.takeSkip() {
				log.Printf("entry %d skipped after %d complete sweeps", idx+1, res.Sweeps)
				res.Skipped = true
				return finish(nil)
			}
		}
	}
	return finish(nil)
}

// measure tunes to probeMHz, waits, and averages the lock-in X output.
func (c *Controller) measure(ctx context.Context, band synth.Band, e Entry, probeMHz float64) (float64, error) {
	f, err := band.SynthFreq(probeMHz)
	if err != nil {
		return 0, err
	}
	if err := c.src.SetFrequency(f); err != nil {
		return 0, err
	}
	if err := c.sleep(ctx, e.Wait); err != nil {
		return 0, err
	}
	var sum float64
	for n := 0; n < e.Reads; n++ {
		x, err := c.det.X()
		if err != nil {
			return 0, err
		}
		sum += x
	}
	return sum / float64(e.Reads), nil
}
