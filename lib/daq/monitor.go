package daq

import (
	"context"
	"time"

	"github.com/gotmc/mmwave/lib/log"
	"go.uber.org/multierr"
)

// PressureReader is a gauge. *gauge.Gauge satisfies it.
type PressureReader interface {
	Pressure(ch int) (float64, error)
}

// FlowReader is a flow controller. *flow.Controller satisfies it.
type FlowReader interface {
	Flow(ch int) (float64, error)
}

// Reading is one sample of the cell conditions.
type Reading struct {
	Time     time.Time
	Pressure float64 // gauge unit
	Flow     float64 // sccm
	Err      error
}

// Monitor polls the cell pressure and gas flow at a fixed interval. Either
// instrument may be nil.
type Monitor struct {
	Gauge        PressureReader
	GaugeChannel int
	Flow         FlowReader
	FlowChannel  int
	Interval     time.Duration
	// OnReading is called with every sample. When nil, samples are logged.
	OnReading func(Reading)
}

// Sample reads both instruments once. Errors of the two reads are combined.
func (m *Monitor) Sample() Reading {
	r := Reading{Time: time.Now()}
	var err error
	if m.Gauge != nil {
		p, gerr := m.Gauge.Pressure(m.GaugeChannel)
		r.Pressure = p
		err = multierr.Append(err, gerr)
	}
	if m.Flow != nil {
		f, ferr := m.Flow.Flow(m.FlowChannel)
		r.Flow = f
		err = multierr.Append(err, ferr)
	}
	r.Err = err
	return r
}

// Run samples until ctx is done. Read errors are reported through the
// reading and do not stop the loop.
func (m *Monitor) Run(ctx context.Context) error {
	interval := m.Interval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		m.report(m.Sample())
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) report(r Reading) {
	if m.OnReading != nil {
		m.OnReading(r)
		return
	}
	if r.Err != nil {
		log.Warnf("monitor: %v", r.Err)
		return
	}
	log.Printf("pressure %.3g flow %.3g sccm", r.Pressure, r.Flow)
}
