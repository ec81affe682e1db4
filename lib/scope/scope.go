// Package scope drives a Keysight InfiniiVision-class oscilloscope and reads
// waveforms as 16-bit binary blocks.
package scope

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gotmc/mmwave"
	"github.com/gotmc/mmwave/lib/block"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Scope is an oscilloscope.
type Scope struct {
	h mmwave.Handle
}

// New returns a scope talking over h.
func New(h mmwave.Handle) *Scope {
	return &Scope{h: h}
}

// Handle returns the underlying connection.
func (s *Scope) Handle() mmwave.Handle { return s.h }

func (s *Scope) ID() (string, error) {
	return query.String(s.h, "*IDN?")
}

func (s *Scope) sendf(format string, a ...any) error {
	cmd := fmt.Sprintf(format, a...)
	return errors.Wrapf(s.h.Send(cmd), "scope: %s", cmd)
}

func (s *Scope) queryFloat(cmd string) (float64, error) {
	v, err := query.Float64(s.h, cmd)
	return v, errors.Wrapf(err, "scope: %s", cmd)
}

func checkChannel(ch int) error {
	if ch < 1 || ch > 4 {
		return errors.Errorf("scope: channel %d outside 1-4", ch)
	}
	return nil
}

// SetTimebase sets the full horizontal width in seconds.
func (s *Scope) SetTimebase(seconds float64) error {
	if seconds <= 0 {
		return errors.Errorf("scope: timebase %g s must be positive", seconds)
	}
	return s.sendf(":TIM:RANG %E", seconds)
}

// Timebase returns the full horizontal width in seconds.
func (s *Scope) Timebase() (float64, error) {
	return s.queryFloat(":TIM:RANG?")
}

// SetScale sets the vertical scale of a channel in volts per division.
func (s *Scope) SetScale(ch int, voltsPerDiv float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return s.sendf(":CHAN%d:SCAL %E", ch, voltsPerDiv)
}

// Scale returns the vertical scale of a channel in volts per division.
func (s *Scope) Scale(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return s.queryFloat(fmt.Sprintf(":CHAN%d:SCAL?", ch))
}

// SetOffset sets the vertical offset of a channel in volts.
func (s *Scope) SetOffset(ch int, volts float64) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return s.sendf(":CHAN%d:OFFS %E", ch, volts)
}

// Offset returns the vertical offset of a channel in volts.
func (s *Scope) Offset(ch int) (float64, error) {
	if err := checkChannel(ch); err != nil {
		return 0, err
	}
	return s.queryFloat(fmt.Sprintf(":CHAN%d:OFFS?", ch))
}

// Digitize acquires one record on the channel and stops. The scope does
// not answer further commands until the acquisition is complete.
func (s *Scope) Digitize(ch int) error {
	if err := checkChannel(ch); err != nil {
		return err
	}
	return s.sendf(":DIG CHAN%d", ch)
}

// Preamble describes a waveform record as reported by :WAV:PRE?.
type Preamble struct {
	Format     int // 0 BYTE, 1 WORD, 4 ASCII
	Type       int // 0 normal, 1 peak, 2 average
	Points     int
	Count      int
	XIncrement float64
	XOrigin    float64
	XReference float64
	YIncrement float64
	YOrigin    float64
	YReference float64
}

// ParsePreamble parses the ten comma separated preamble fields.
func ParsePreamble(s string) (Preamble, error) {
	var p Preamble
	f := strings.Split(strings.TrimSpace(s), ",")
	if len(f) != 10 {
		return p, errors.Errorf("scope: preamble has %d fields, want 10", len(f))
	}
	ints := []*int{&p.Format, &p.Type, &p.Points, &p.Count}
	for i, dst := range ints {
		v, err := strconv.Atoi(strings.TrimSpace(f[i]))
		if err != nil {
			// some firmware reports integers in exponent form
			x, ferr := strconv.ParseFloat(strings.TrimSpace(f[i]), 64)
			if ferr != nil {
				return p, errors.Wrapf(err, "scope: preamble field %d", i)
			}
			v = int(x)
		}
		*dst = v
	}
	floats := []*float64{&p.XIncrement, &p.XOrigin, &p.XReference, &p.YIncrement, &p.YOrigin, &p.YReference}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(strings.TrimSpace(f[4+i]), 64)
		if err != nil {
			return p, errors.Wrapf(err, "scope: preamble field %d", 4+i)
		}
		*dst = v
	}
	return p, nil
}

// Time returns the time of sample i.
func (p Preamble) Time(i int) float64 {
	return (float64(i)-p.XReference)*p.XIncrement + p.XOrigin
}

// Volts scales a raw sample.
func (p Preamble) Volts(raw int16) float64 {
	return (float64(raw)-p.YReference)*p.YIncrement + p.YOrigin
}

// Waveform is a scaled record.
type Waveform struct {
	Preamble Preamble
	Time     []float64 // seconds
	Volts    []float64
}

// Waveform transfers the last acquired record of a channel.
func (s *Scope) Waveform(ch int) (Waveform, error) {
	var w Waveform
	if err := checkChannel(ch); err != nil {
		return w, err
	}
	for _, cmd := range []string{
		fmt.Sprintf(":WAV:SOUR CHAN%d", ch),
		":WAV:FORM WORD",
		":WAV:BYT MSBF",
		":WAV:UNS OFF",
	} {
		if err := s.sendf("%s", cmd); err != nil {
			return w, err
		}
	}
	pre, err := query.String(s.h, ":WAV:PRE?")
	if err != nil {
		return w, errors.Wrap(err, "scope: :WAV:PRE?")
	}
	if w.Preamble, err = ParsePreamble(pre); err != nil {
		return w, err
	}

	if err := s.sendf(":WAV:DATA?"); err != nil {
		return w, err
	}
	raw, err := s.recvBlock()
	if err != nil {
		return w, errors.Wrap(err, "scope: :WAV:DATA?")
	}
	data, err := block.Definite(raw)
	if err != nil {
		return w, errors.Wrap(err, "scope")
	}
	samples, err := block.Words(data)
	if err != nil {
		return w, errors.Wrap(err, "scope")
	}
	w.Time = make([]float64, len(samples))
	w.Volts = make([]float64, len(samples))
	for i, v := range samples {
		w.Time[i] = w.Preamble.Time(i)
		w.Volts[i] = w.Preamble.Volts(v)
	}
	return w, nil
}

func (s *Scope) recvBlock() ([]byte, error) {
	if br, ok := s.h.(mmwave.BlockReader); ok {
		return br.RecvBlock()
	}
	r, err := s.h.Recv()
	return []byte(r), err
}

// Average digitizes the channel and returns the mean voltage of the record.
func (s *Scope) Average(ch int) (float64, error) {
	if err := s.Digitize(ch); err != nil {
		return 0, err
	}
	w, err := s.Waveform(ch)
	if err != nil {
		return 0, err
	}
	return w.Mean()
}

// Mean returns the mean voltage of the record.
func (w Waveform) Mean() (float64, error) {
	if len(w.Volts) == 0 {
		return 0, errors.New("scope: empty waveform")
	}
	var sum float64
	for _, v := range w.Volts {
		sum += v
	}
	return sum / float64(len(w.Volts)), nil
}
