package config

import (
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// Instrument locates one instrument.
type Instrument struct {
	Resource string // VISA-style resource string, empty when absent
	Baud     int    // serial instruments only
	Channel  int    // gauge or flow channel
	Address  int    // flow controller RS-485 address
}

// Prologix describes the GPIB adapter.
type Prologix struct {
	Adapter     string // serial device or host[:port], empty to auto-detect
	Board       int
	AR488       bool
	ReadTimeout time.Duration
	WriteDelay  time.Duration
}

// Prefs are the station preferences: where every instrument is and what the
// scan defaults are.
type Prefs struct {
	Prologix Prologix
	Synth    Instrument
	Lockin   Instrument
	Scope    Instrument
	Gauge    Instrument
	Flow     Instrument

	Band       int    // default VDI band index
	Slope      int    // lock-in roll-off, dB/octave
	Output     string // .lwa file scans are appended to
	Monitor    string // listen address of the progress websocket, empty for none
	GaugeEvery time.Duration
}

// DefaultPrefs is the configuration of a bench with every GPIB instrument
// at its factory address.
var DefaultPrefs = Prefs{
	Prologix: Prologix{ReadTimeout: 500 * time.Millisecond},
	Synth:    Instrument{Resource: "GPIB0::19::INSTR"},
	Lockin:   Instrument{Resource: "GPIB0::8::INSTR"},
	Gauge:    Instrument{Baud: 9600, Channel: 1},
	Flow:     Instrument{Baud: 9600, Channel: 1, Address: 253},
	Slope:    12,
	Output:   "scan.lwa",

	GaugeEvery: 10 * time.Second,
}

var instrumentSections = []string{"synth", "lockin", "scope", "gauge", "flow"}

func (p *Prefs) instrument(name string) *Instrument {
	switch name {
	case "synth":
		return &p.Synth
	case "lockin":
		return &p.Lockin
	case "scope":
		return &p.Scope
	case "gauge":
		return &p.Gauge
	case "flow":
		return &p.Flow
	}
	return nil
}

// LoadPrefs reads a preferences file over DefaultPrefs. A missing file
// yields the defaults.
func LoadPrefs(path string) (Prefs, error) {
	p := DefaultPrefs
	cfg, err := ini.LooseLoad(path)
	if err != nil {
		return p, errors.Wrapf(err, "load %s", path)
	}

	pro := cfg.Section("prologix")
	p.Prologix.Adapter = pro.Key("adapter").MustString(p.Prologix.Adapter)
	p.Prologix.Board = pro.Key("board").MustInt(p.Prologix.Board)
	p.Prologix.AR488 = pro.Key("ar488").MustBool(p.Prologix.AR488)
	if p.Prologix.ReadTimeout, err = duration(pro, "read timeout", p.Prologix.ReadTimeout); err != nil {
		return p, err
	}
	if p.Prologix.WriteDelay, err = duration(pro, "write delay", p.Prologix.WriteDelay); err != nil {
		return p, err
	}

	for _, name := range instrumentSections {
		sec := cfg.Section(name)
		in := p.instrument(name)
		in.Resource = sec.Key("resource").MustString(in.Resource)
		in.Baud = sec.Key("baud").MustInt(in.Baud)
		in.Channel = sec.Key("channel").MustInt(in.Channel)
		in.Address = sec.Key("address").MustInt(in.Address)
	}

	scan := cfg.Section("scan")
	p.Band = scan.Key("band").MustInt(p.Band)
	p.Slope = scan.Key("slope").MustInt(p.Slope)
	p.Output = scan.Key("output").MustString(p.Output)
	p.Monitor = scan.Key("monitor").MustString(p.Monitor)
	if p.GaugeEvery, err = duration(scan, "gauge interval", p.GaugeEvery); err != nil {
		return p, err
	}
	return p, nil
}

func duration(sec *ini.Section, key string, def time.Duration) (time.Duration, error) {
	if !sec.HasKey(key) {
		return def, nil
	}
	d, err := time.ParseDuration(sec.Key(key).String())
	return d, errors.Wrapf(err, "[%s] %s", sec.Name(), key)
}

// Save writes the preferences to path.
func (p Prefs) Save(path string) error {
	cfg := ini.Empty()
	set := func(sec *ini.Section, key, value string) {
		sec.Key(key).SetValue(value)
	}

	pro := cfg.Section("prologix")
	set(pro, "adapter", p.Prologix.Adapter)
	set(pro, "board", strconv.Itoa(p.Prologix.Board))
	set(pro, "ar488", strconv.FormatBool(p.Prologix.AR488))
	set(pro, "read timeout", p.Prologix.ReadTimeout.String())
	set(pro, "write delay", p.Prologix.WriteDelay.String())

	for _, name := range instrumentSections {
		sec := cfg.Section(name)
		in := p.instrument(name)
		set(sec, "resource", in.Resource)
		if in.Baud != 0 {
			set(sec, "baud", strconv.Itoa(in.Baud))
		}
		if in.Channel != 0 {
			set(sec, "channel", strconv.Itoa(in.Channel))
		}
		if in.Address != 0 {
			set(sec, "address", strconv.Itoa(in.Address))
		}
	}

	scan := cfg.Section("scan")
	set(scan, "band", strconv.Itoa(p.Band))
	set(scan, "slope", strconv.Itoa(p.Slope))
	set(scan, "output", p.Output)
	set(scan, "monitor", p.Monitor)
	set(scan, "gauge interval", p.GaugeEvery.String())
	return errors.Wrapf(cfg.SaveTo(path), "save %s", path)
}
