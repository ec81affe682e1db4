package daq

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gotmc/mmwave/lib/insttest"
	"github.com/gotmc/mmwave/lib/lockin"
	"github.com/gotmc/mmwave/lib/synth"
)

// bench is a synthesizer and lock-in sharing one fake handle, so the order
// of commands across both instruments is visible. The lock-in X output is
// the synthesizer frequency plus ten times the sweep index.
type bench struct {
	f      *insttest.Fake
	points int

	mu    sync.Mutex
	cur   float64
	tunes int
}

func newBench(points int) *bench {
	b := bench{f: insttest.New(), points: points}
	b.f.Handle(func(cmd string) (string, bool) {
		b.mu.Lock()
		defer b.mu.Unlock()
		switch {
		case strings.HasPrefix(cmd, "FREQ:CW "):
			s := strings.TrimSuffix(strings.TrimPrefix(cmd, "FREQ:CW "), "MHZ")
			b.cur, _ = strconv.ParseFloat(s, 64)
			b.tunes++
			return "", false
		case cmd == "OUTP? 1":
			sweep := (b.tunes - 1) / b.points
			return fmt.Sprintf("%g", b.cur+10*float64(sweep)), true
		}
		return "", false
	})
	return &b
}

func (b *bench) controller(opts ...Option) *Controller {
	return New(synth.New(b.f), lockin.New(b.f), opts...)
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func testEntry() Entry {
	return Entry{
		StartMHz:     90000,
		StopMHz:      90024,
		StepMHz:      6,
		Sweeps:       3,
		Sensitivity:  20,
		TimeConstant: 6, // 10 ms
		Harmonic:     2,
		Phase:        10,
		Wait:         100 * time.Millisecond,
		Reads:        2,
		PowerDBm:     5,
		Modulation:   synth.Modulation{Mode: synth.ModFM, RateKHz: 10, Depth: 600},
		Comment:      "OCS J=1-0",
	}
}

func testBatch(entries ...Entry) Batch {
	return Batch{Band: synth.Bands[2], Slope: 12, Entries: entries}
}

func TestPoints(t *testing.T) {
	tests := []struct {
		start, stop, step float64
		n                 int
		err               bool
	}{
		{100, 101, 0.25, 5, false},
		{100, 100, 0.1, 1, false},
		{100, 100.999, 0.1, 11, false},
		{100, 99, 0.1, 0, true},
		{100, 101, 0, 0, true},
		{100, 101, -1, 0, true},
		{90000, 90024, 1e-9, 0, true},
		{0, 999998, 1, MaxPoints, false},
		{0, 999999, 1, 0, true},
	}
	for _, tc := range tests {
		pts, err := Entry{StartMHz: tc.start, StopMHz: tc.stop, StepMHz: tc.step}.Points()
		if (err != nil) != tc.err {
			t.Errorf("Points(%g, %g, %g) error = %v", tc.start, tc.stop, tc.step, err)
			continue
		}
		if len(pts) != tc.n {
			t.Errorf("Points(%g, %g, %g) = %d points, want %d", tc.start, tc.stop, tc.step, len(pts), tc.n)
		}
		if tc.n > 0 && pts[0] != tc.start {
			t.Errorf("first point %g, want %g", pts[0], tc.start)
		}
	}
}

func TestValidate(t *testing.T) {
	band := synth.Bands[2]
	if err := testEntry().Validate(band, 12); err != nil {
		t.Fatal(err)
	}

	short := testEntry()
	short.Wait = 60 * time.Millisecond // 7 x 10 ms needed at 12 dB/oct
	if err := short.Validate(band, 12); !errors.Is(err, ErrWaitTooShort) {
		t.Errorf("error = %v, want ErrWaitTooShort", err)
	}
	if err := short.Validate(band, 6); err != nil {
		t.Errorf("60 ms at 6 dB/oct: %v", err)
	}

	tests := []struct {
		name   string
		modify func(*Entry)
	}{
		{"outside band", func(e *Entry) { e.StartMHz = 70000 }},
		{"too many points", func(e *Entry) { e.StepMHz = 1e-9 }},
		{"no sweeps", func(e *Entry) { e.Sweeps = 0 }},
		{"no reads", func(e *Entry) { e.Reads = 0 }},
		{"sensitivity", func(e *Entry) { e.Sensitivity = 27 }},
		{"time constant", func(e *Entry) { e.TimeConstant = 20 }},
		{"harmonic", func(e *Entry) { e.Harmonic = 0 }},
		{"modulation", func(e *Entry) { e.Modulation.RateKHz = 0 }},
	}
	for _, tc := range tests {
		e := testEntry()
		tc.modify(&e)
		if err := e.Validate(band, 12); err == nil {
			t.Errorf("%s: invalid entry accepted", tc.name)
		}
	}
	if err := testEntry().Validate(band, 9); err == nil {
		t.Error("slope 9 dB/oct accepted")
	}
}

func TestEstimate(t *testing.T) {
	b := testBatch(testEntry(), testEntry())
	// (70 ms settle + 5 points x 3 sweeps x 100 ms) per entry
	want := 2 * (70*time.Millisecond + 1500*time.Millisecond)
	if got := b.Estimate(); got != want {
		t.Errorf("Estimate = %s, want %s", got, want)
	}
}

func TestRun(t *testing.T) {
	bn := newBench(5)
	var waits []time.Duration
	sleep := func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}
	var events []Progress
	c := bn.controller(WithSleep(sleep), WithObserver(func(p Progress) { events = append(events, p) }))

	var results []Result
	err := c.Run(context.Background(), testBatch(testEntry()), SinkFunc(func(r Result) error {
		results = append(results, r)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("%d results, want 1", len(results))
	}
	r := results[0]
	if r.Sweeps != 3 || r.Aborted || r.Skipped {
		t.Errorf("result sweeps=%d aborted=%t skipped=%t", r.Sweeps, r.Aborted, r.Skipped)
	}
	for i, v := range r.Intensity {
		// sweeps 0, 1, 2 add 0, 10, 20
		if want := 15000 + float64(i) + 10; v != want {
			t.Errorf("intensity[%d] = %g, want %g", i, v, want)
		}
		if want := 90000 + 6*float64(i); r.FreqMHz[i] != want {
			t.Errorf("freq[%d] = %g, want %g", i, r.FreqMHz[i], want)
		}
	}

	sent := bn.f.Sent()
	commit := []string{
		"SENS 20", "OFLT 6", "OFSL 1", "HARM 2", "PHAS 10.00",
		"AM1:STAT OFF", "FM1:SOUR INT", "FM1:INT:FREQ 10KHZ", "FM1 100KHZ", "FM1:STAT ON", "OUTP:MOD ON",
		"POW:AMPL 5DBM", "OUTP ON",
	}
	if got := strings.Join(sent[:len(commit)], "|"); got != strings.Join(commit, "|") {
		t.Errorf("commit sequence %q, want %q", sent[:len(commit)], commit)
	}

	var tunes []string
	for _, s := range bn.f.SentWithPrefix("FREQ:CW ") {
		tunes = append(tunes, strings.TrimSuffix(strings.TrimPrefix(s, "FREQ:CW "), "MHZ"))
	}
	wantTunes := "15000 15001 15002 15003 15004 15004 15003 15002 15001 15000 15000 15001 15002 15003 15004"
	if got := strings.Join(tunes, " "); got != wantTunes {
		t.Errorf("tuning order %s, want %s", got, wantTunes)
	}
	if n := len(bn.f.SentWithPrefix("OUTP? 1")); n != 30 {
		t.Errorf("%d lock-in reads, want 30", n)
	}

	if len(waits) != 16 || waits[0] != 70*time.Millisecond || waits[1] != 100*time.Millisecond {
		t.Errorf("waits = %v", waits)
	}
	if len(events) != 15 {
		t.Fatalf("%d progress events, want 15", len(events))
	}
	if e := events[5]; e.Sweep != 1 || e.Point != 4 || e.FreqMHz != 90024 || e.Value != 15014 {
		t.Errorf("first event of sweep 1 = %+v", e)
	}
}

func TestRunAbort(t *testing.T) {
	bn := newBench(5)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := bn.controller(WithSleep(noSleep), WithObserver(func(p Progress) {
		if p.Sweep == 1 && p.Point == 2 {
			cancel()
		}
	}))
	var results []Result
	err := c.Run(ctx, testBatch(testEntry(), testEntry()), SinkFunc(func(r Result) error {
		results = append(results, r)
		return nil
	}))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if len(results) != 1 {
		t.Fatalf("%d results, want 1", len(results))
	}
	r := results[0]
	if !r.Aborted || r.Sweeps != 1 {
		t.Errorf("aborted=%t sweeps=%d", r.Aborted, r.Sweeps)
	}
	// the partial second sweep is dropped
	for i, v := range r.Intensity {
		if want := 15000 + float64(i); v != want {
			t.Errorf("intensity[%d] = %g, want %g", i, v, want)
		}
	}
}

func TestRunAbortBeforeFirstSweep(t *testing.T) {
	bn := newBench(5)
	ctx, cancel := context.WithCancel(context.Background())
	c := bn.controller(WithSleep(noSleep), WithObserver(func(Progress) { cancel() }))
	written := false
	err := c.Run(ctx, testBatch(testEntry()), SinkFunc(func(Result) error {
		written = true
		return nil
	}))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if written {
		t.Error("result written without a complete sweep")
	}
}

func TestRunSkip(t *testing.T) {
	bn := newBench(5)
	var c *Controller
	c = bn.controller(WithSleep(noSleep), WithObserver(func(p Progress) {
		if p.Entry == 0 && p.Sweep == 1 && p.Point == 4 {
			c.Skip()
		}
	}))
	var results []Result
	err := c.Run(context.Background(), testBatch(testEntry(), testEntry()), SinkFunc(func(r Result) error {
		results = append(results, r)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("%d results, want 2", len(results))
	}
	if !results[0].Skipped || results[0].Sweeps != 1 {
		t.Errorf("first entry skipped=%t sweeps=%d", results[0].Skipped, results[0].Sweeps)
	}
	if results[1].Skipped || results[1].Sweeps != 3 {
		t.Errorf("second entry skipped=%t sweeps=%d", results[1].Skipped, results[1].Sweeps)
	}
}

func TestRunSkipAtSweepEnd(t *testing.T) {
	bn := newBench(5)
	var c *Controller
	c = bn.controller(WithSleep(noSleep), WithObserver(func(p Progress) {
		if p.Entry == 0 && p.Sweep == 0 && p.Point == 4 {
			c.Skip()
		}
	}))
	var results []Result
	err := c.Run(context.Background(), testBatch(testEntry()), SinkFunc(func(r Result) error {
		results = append(results, r)
		return nil
	}))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("%d results, want the completed first sweep", len(results))
	}
	r := results[0]
	if !r.Skipped || r.Sweeps != 1 || len(r.Intensity) != 5 {
		t.Errorf("skipped=%t sweeps=%d points=%d", r.Skipped, r.Sweeps, len(r.Intensity))
	}
}

func TestRunPause(t *testing.T) {
	bn := newBench(5)
	var points atomic.Int32
	c := bn.controller(WithSleep(noSleep), WithObserver(func(Progress) { points.Add(1) }))
	c.Pause()
	if !c.Paused() {
		t.Fatal("not paused")
	}
	done := make(chan error, 1)
	go func() {
		done <- c.Run(context.Background(), testBatch(testEntry()), SinkFunc(func(Result) error { return nil }))
	}()
	time.Sleep(50 * time.Millisecond)
	if n := points.Load(); n != 0 {
		t.Fatalf("%d points measured while paused", n)
	}
	if c.TogglePause() {
		t.Error("TogglePause reported paused after resuming")
	}
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("scan did not resume")
	}
	if n := points.Load(); n != 15 {
		t.Errorf("%d points, want 15", n)
	}
}

func TestRunInstrumentError(t *testing.T) {
	f := insttest.New().On("OUTP? 1", "garbage")
	c := New(synth.New(f), lockin.New(f), WithSleep(noSleep))
	err := c.Run(context.Background(), testBatch(testEntry()), SinkFunc(func(Result) error { return nil }))
	if err == nil {
		t.Fatal("no error")
	}
	if !strings.Contains(err.Error(), "entry 0 sweep 0 point 0") {
		t.Errorf("error %q lacks point context", err)
	}
}

func TestRunInvalidBatch(t *testing.T) {
	bn := newBench(5)
	e := testEntry()
	e.Wait = time.Millisecond
	err := bn.controller().Run(context.Background(), testBatch(e), SinkFunc(func(Result) error { return nil }))
	if !errors.Is(err, ErrWaitTooShort) {
		t.Errorf("error = %v, want ErrWaitTooShort", err)
	}
	if len(bn.f.Sent()) != 0 {
		t.Errorf("commands sent for an invalid batch: %q", bn.f.Sent())
	}
}

type gaugeFunc func(ch int) (float64, error)

func (f gaugeFunc) Pressure(ch int) (float64, error) { return f(ch) }

type flowFunc func(ch int) (float64, error)

func (f flowFunc) Flow(ch int) (float64, error) { return f(ch) }

func TestMonitor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var readings []Reading
	m := Monitor{
		Gauge:        gaugeFunc(func(ch int) (float64, error) { return 1e-2 * float64(ch), nil }),
		GaugeChannel: 2,
		Flow:         flowFunc(func(int) (float64, error) { return 0, errors.New("flow offline") }),
		Interval:     time.Millisecond,
		OnReading: func(r Reading) {
			readings = append(readings, r)
			if len(readings) == 3 {
				cancel()
			}
		},
	}
	if err := m.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run error = %v", err)
	}
	if len(readings) != 3 {
		t.Fatalf("%d readings, want 3", len(readings))
	}
	r := readings[0]
	if r.Pressure != 2e-2 || r.Err == nil || !strings.Contains(r.Err.Error(), "flow offline") {
		t.Errorf("reading = %+v", r)
	}
}

func TestTee(t *testing.T) {
	var n int
	count := SinkFunc(func(Result) error { n++; return nil })
	fail := SinkFunc(func(Result) error { return errors.New("disk full") })
	err := Tee(count, fail, count).Write(Result{})
	if n != 2 {
		t.Errorf("%d sinks called, want 2", n)
	}
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error = %v", err)
	}
}
