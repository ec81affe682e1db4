// Package plotpng renders finished spectra as PNG images.
package plotpng

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/gotmc/mmwave/lib/daq"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

const (
	width  = 14 * vg.Inch
	height = 8 * vg.Inch
)

// Spectrum builds a plot of intensity against probe frequency.
func Spectrum(r daq.Result) (*plot.Plot, error) {
	if len(r.Intensity) == 0 || len(r.Intensity) != len(r.FreqMHz) {
		return nil, errors.Errorf("plot: %d intensities for %d frequencies", len(r.Intensity), len(r.FreqMHz))
	}
	pts := make(plotter.XYs, len(r.Intensity))
	for i := range pts {
		pts[i].X = r.FreqMHz[i]
		pts[i].Y = r.Intensity[i]
	}

	p := plot.New()
	p.Title.Text = r.Entry.Comment
	if p.Title.Text == "" {
		p.Title.Text = fmt.Sprintf("%.4f-%.4f MHz", r.FreqMHz[0], r.FreqMHz[len(r.FreqMHz)-1])
	}
	p.X.Label.Text = "Frequency (MHz)"
	p.Y.Label.Text = "Intensity (V)"
	p.Legend.Top = true
	p.Add(plotter.NewGrid())

	label := fmt.Sprintf("%d sweeps", r.Sweeps)
	if r.Aborted {
		label += " (aborted)"
	}
	if err := plotutil.AddLines(p, label, pts); err != nil {
		return nil, errors.Wrap(err, "plot")
	}
	return p, nil
}

// WritePNG renders r to w.
func WritePNG(w io.Writer, r daq.Result) error {
	p, err := Spectrum(r)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return errors.Wrap(err, "plot")
	}
	_, err = wt.WriteTo(w)
	return err
}

// Save renders r to a PNG file.
func Save(path string, r daq.Result) error {
	p, err := Spectrum(r)
	if err != nil {
		return err
	}
	return errors.Wrapf(p.Save(width, height, path), "plot %s", path)
}

// Sink saves every result to dir, named after its start time.
func Sink(dir string) daq.Sink {
	return daq.SinkFunc(func(r daq.Result) error {
		name := r.Started.Format("20060102-150405.000") + ".png"
		return Save(filepath.Join(dir, name), r)
	})
}
