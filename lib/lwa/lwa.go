// Package lwa reads and writes .lwa spectrum files.
//
// A file holds one or more spectra. Each spectrum is a date line carrying a
// free comment, a fixed-column header line, and the intensities ten per line:
//
//	2026-10-19 14:03:22 OCS J=1-0
//	  90000.0000  6.000000     5   3 20  6    100 F   10.000  600.000  2   6
//	  1.5010e+04  1.5011e+04  1.5012e+04  1.5013e+04  1.5014e+04
package lwa

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/mmwave/lib/daq"
	"github.com/gotmc/mmwave/lib/synth"
	"github.com/pkg/errors"
)

const (
	dateLayout   = "2006-01-02 15:04:05"
	headerFormat = "%12.4f%10.6f%6d%4d%3d%3d%7d %1s%9.3f%9.3f%3d%4d"
	headerWidth  = 72
	perLine      = 10
)

// column bounds of the header fields
var columns = [...]struct{ from, to int }{
	{0, 12},  // start MHz
	{12, 22}, // step MHz
	{22, 28}, // points
	{28, 32}, // sweeps
	{32, 35}, // sensitivity index
	{35, 38}, // time constant index
	{38, 45}, // wait ms
	{46, 47}, // modulation letter
	{47, 56}, // modulation rate kHz
	{56, 65}, // modulation depth
	{65, 68}, // harmonic
	{68, 72}, // multiplier
}

// Header is the metadata of one spectrum.
type Header struct {
	Date         time.Time
	Comment      string
	StartMHz     float64
	StepMHz      float64
	Points       int
	Sweeps       int
	Sensitivity  int
	TimeConstant int
	Wait         time.Duration // stored in ms
	Mod          synth.ModMode
	ModRateKHz   float64
	ModDepth     float64 // percent for AM, probe deviation kHz for FM
	Harmonic     int
	Multiplier   int
}

// Spectrum is a header with its intensities.
type Spectrum struct {
	Header
	Intensity []float64
}

// FreqMHz returns the probe frequency grid.
func (s Spectrum) FreqMHz() []float64 {
	f := make([]float64, s.Points)
	for i := range f {
		f[i] = s.StartMHz + float64(i)*s.StepMHz
	}
	return f
}

// FromResult converts a finished scan into a spectrum.
func FromResult(r daq.Result) Spectrum {
	e := r.Entry
	date := r.Finished
	if date.IsZero() {
		date = time.Now()
	}
	return Spectrum{
		Header: Header{
			Date:         date,
			Comment:      e.Comment,
			StartMHz:     e.StartMHz,
			StepMHz:      e.StepMHz,
			Points:       len(r.Intensity),
			Sweeps:       r.Sweeps,
			Sensitivity:  e.Sensitivity,
			TimeConstant: e.TimeConstant,
			Wait:         e.Wait,
			Mod:          e.Modulation.Mode,
			ModRateKHz:   e.Modulation.RateKHz,
			ModDepth:     e.Modulation.Depth,
			Harmonic:     e.Harmonic,
			Multiplier:   r.Band.Multiplier,
		},
		Intensity: r.Intensity,
	}
}

// Writer appends spectra to an output stream.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a writer on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write writes one spectrum and flushes it.
func (w *Writer) Write(s Spectrum) error {
	if len(s.Intensity) != s.Points {
		return errors.Errorf("lwa: %d intensities for %d points", len(s.Intensity), s.Points)
	}
	comment := strings.Join(strings.Fields(s.Comment), " ")
	if _, err := fmt.Fprintf(w.w, "%s %s\n", s.Date.Format(dateLayout), comment); err != nil {
		return err
	}
	hdr := fmt.Sprintf(headerFormat,
		s.StartMHz, s.StepMHz, s.Points, s.Sweeps, s.Sensitivity, s.TimeConstant,
		s.Wait.Milliseconds(), s.Mod.Letter(), s.ModRateKHz, s.ModDepth,
		s.Harmonic, s.Multiplier)
	if len(hdr) != headerWidth {
		return errors.Errorf("lwa: header field overflow in %q", hdr)
	}
	if _, err := fmt.Fprintln(w.w, hdr); err != nil {
		return err
	}
	for i, v := range s.Intensity {
		if _, err := fmt.Fprintf(w.w, "%12.4e", v); err != nil {
			return err
		}
		if (i+1)%perLine == 0 || i == len(s.Intensity)-1 {
			if err := w.w.WriteByte('\n'); err != nil {
				return err
			}
		}
	}
	return w.w.Flush()
}

// Sink adapts the writer to the scan controller.
func (w *Writer) Sink() daq.Sink {
	return daq.SinkFunc(func(r daq.Result) error {
		return w.Write(FromResult(r))
	})
}

// Reader reads spectra one at a time.
type Reader struct {
	s    *bufio.Scanner
	line int
}

// NewReader returns a reader on r.
func NewReader(r io.Reader) *Reader {
	return &Reader{s: bufio.NewScanner(r)}
}

func (r *Reader) next() (string, bool) {
	for r.s.Scan() {
		r.line++
		l := strings.TrimRight(r.s.Text(), " \t\r")
		if strings.TrimSpace(l) != "" {
			return l, true
		}
	}
	return "", false
}

func (r *Reader) errorf(format string, a ...any) error {
	return errors.Errorf("lwa: line %d: %s", r.line, fmt.Sprintf(format, a...))
}

// Next returns the next spectrum, or io.EOF after the last one. Blank lines
// between spectra are skipped.
func (r *Reader) Next() (Spectrum, error) {
	var s Spectrum
	l, ok := r.next()
	if !ok {
		if err := r.s.Err(); err != nil {
			return s, err
		}
		return s, io.EOF
	}
	if len(l) < len(dateLayout) {
		return s, r.errorf("short date line")
	}
	d, err := time.ParseInLocation(dateLayout, l[:len(dateLayout)], time.Local)
	if err != nil {
		return s, r.errorf("%v", err)
	}
	s.Date = d
	s.Comment = strings.TrimSpace(l[len(dateLayout):])

	l, ok = r.next()
	if !ok {
		return s, r.errorf("missing header")
	}
	if err := s.Header.parse(l); err != nil {
		return s, r.errorf("%v", err)
	}

	s.Intensity = make([]float64, 0, s.Points)
	for len(s.Intensity) < s.Points {
		l, ok = r.next()
		if !ok {
			return s, r.errorf("%d of %d intensities", len(s.Intensity), s.Points)
		}
		for _, f := range strings.Fields(l) {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return s, r.errorf("%v", err)
			}
			s.Intensity = append(s.Intensity, v)
		}
	}
	if len(s.Intensity) != s.Points {
		return s, r.errorf("%d intensities for %d points", len(s.Intensity), s.Points)
	}
	return s, nil
}

func (h *Header) parse(l string) error {
	if len(l) < headerWidth {
		return errors.Errorf("header is %d columns, want %d", len(l), headerWidth)
	}
	field := func(i int) string {
		return strings.TrimSpace(l[columns[i].from:columns[i].to])
	}
	floats := map[int]*float64{0: &h.StartMHz, 1: &h.StepMHz, 8: &h.ModRateKHz, 9: &h.ModDepth}
	var waitMS int
	ints := map[int]*int{2: &h.Points, 3: &h.Sweeps, 4: &h.Sensitivity, 5: &h.TimeConstant, 6: &waitMS, 10: &h.Harmonic, 11: &h.Multiplier}
	for i, dst := range floats {
		v, err := strconv.ParseFloat(field(i), 64)
		if err != nil {
			return errors.Wrapf(err, "header column %d", columns[i].from+1)
		}
		*dst = v
	}
	for i, dst := range ints {
		v, err := strconv.Atoi(field(i))
		if err != nil {
			return errors.Wrapf(err, "header column %d", columns[i].from+1)
		}
		*dst = v
	}
	m, err := synth.ParseModMode(field(7))
	if err != nil {
		return err
	}
	h.Mod = m
	h.Wait = time.Duration(waitMS) * time.Millisecond
	if h.Points < 0 {
		return errors.Errorf("negative point count %d", h.Points)
	}
	return nil
}

// ReadAll reads every spectrum in r.
func ReadAll(r io.Reader) ([]Spectrum, error) {
	lr := NewReader(r)
	var out []Spectrum
	for {
		s, err := lr.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
}
