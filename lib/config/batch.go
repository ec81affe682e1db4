// Package config loads instrument preferences and batch-scan files. Both are
// INI files.
//
// A batch file has one [entry] section per scan. Keys missing from an entry
// are taken from the default (unnamed) section:
//
//	band = 2
//	slope = 12
//	sensitivity = 10mV
//	time constant = 10ms
//	wait = 100ms
//
//	[entry]
//	range = 90000, 90024, 6
//	sweeps = 4
//	comment = OCS J=1-0
//
//	[entry]
//	range = 97000, 97300, 0.5
//	modulation = FM
//	mod rate = 10
//	mod depth = 600
package config

import (
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/mmwave/lib/daq"
	"github.com/gotmc/mmwave/lib/lockin"
	"github.com/gotmc/mmwave/lib/synth"
	"github.com/pkg/errors"
	"gopkg.in/ini.v1"
)

// entry defaults when neither the entry nor the default section sets a key
var entryDefaults = map[string]string{
	"sweeps":        "1",
	"reads":         "1",
	"harmonic":      "1",
	"phase":         "0",
	"power":         "0",
	"modulation":    "none",
	"mod rate":      "0",
	"mod depth":     "0",
	"comment":       "",
	"sensitivity":   "20",
	"time constant": "8",
}

type lookup struct {
	sec, def *ini.Section
}

func (l lookup) get(name string) (string, bool) {
	if l.sec.HasKey(name) {
		return strings.TrimSpace(l.sec.Key(name).String()), true
	}
	if l.def.HasKey(name) {
		return strings.TrimSpace(l.def.Key(name).String()), true
	}
	v, ok := entryDefaults[name]
	return v, ok
}

func (l lookup) required(name string) (string, error) {
	v, ok := l.get(name)
	if !ok || v == "" {
		return "", errors.Errorf("missing %q", name)
	}
	return v, nil
}

func (l lookup) float(name string) (float64, error) {
	v, err := l.required(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	return f, errors.Wrapf(err, "%s", name)
}

func (l lookup) int(name string) (int, error) {
	v, err := l.required(name)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(v)
	return n, errors.Wrapf(err, "%s", name)
}

// ParseWait accepts a Go duration ("150ms", "1.5s") or a bare number of
// milliseconds.
func ParseWait(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(s)
	return d, errors.Wrapf(err, "wait %q", s)
}

// LoadBatch reads a batch file. The batch is not validated.
func LoadBatch(path string) (daq.Batch, error) {
	return DefaultPrefs.LoadBatch(path)
}

// LoadBatch reads a batch file, taking the band and slope from p when the
// file does not set them.
func (p Prefs) LoadBatch(path string) (daq.Batch, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, path)
	if err != nil {
		return daq.Batch{}, err
	}
	return parseBatch(cfg, p.Band, p.Slope)
}

// ParseBatch reads a batch from INI text.
func ParseBatch(data []byte) (daq.Batch, error) {
	cfg, err := ini.LoadSources(ini.LoadOptions{AllowNonUniqueSections: true}, data)
	if err != nil {
		return daq.Batch{}, err
	}
	return parseBatch(cfg, DefaultPrefs.Band, DefaultPrefs.Slope)
}

func parseBatch(cfg *ini.File, band, slope int) (daq.Batch, error) {
	var b daq.Batch
	cfg.BlockMode = false
	def := cfg.Section(ini.DefaultSection)

	var err error
	if b.Band, err = synth.LookupBand(def.Key("band").MustInt(band)); err != nil {
		return b, err
	}
	b.Slope = def.Key("slope").MustInt(slope)

	sections, err := cfg.SectionsByName("entry")
	if err != nil || len(sections) == 0 {
		return b, errors.New("no [entry] sections")
	}
	for i, sec := range sections {
		e, err := parseEntry(lookup{sec: sec, def: def})
		if err != nil {
			return b, errors.Wrapf(err, "entry %d", i)
		}
		b.Entries = append(b.Entries, e)
	}
	return b, nil
}

func parseEntry(l lookup) (daq.Entry, error) {
	var e daq.Entry
	rng, err := l.required("range")
	if err != nil {
		return e, err
	}
	var vals []float64
	for _, f := range strings.Split(rng, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return e, errors.Wrap(err, "range")
		}
		vals = append(vals, v)
	}
	if len(vals) != 3 {
		return e, errors.New("range setting must have exactly three values")
	}
	e.StartMHz, e.StopMHz, e.StepMHz = vals[0], vals[1], vals[2]

	if e.Sweeps, err = l.int("sweeps"); err != nil {
		return e, err
	}
	if e.Reads, err = l.int("reads"); err != nil {
		return e, err
	}
	if e.Harmonic, err = l.int("harmonic"); err != nil {
		return e, err
	}
	if e.Phase, err = l.float("phase"); err != nil {
		return e, err
	}
	if e.PowerDBm, err = l.float("power"); err != nil {
		return e, err
	}

	sens, _ := l.get("sensitivity")
	if e.Sensitivity, err = lockin.ParseSensitivity(sens); err != nil {
		return e, err
	}
	tau, _ := l.get("time constant")
	if e.TimeConstant, err = lockin.ParseTimeConstant(tau); err != nil {
		return e, err
	}

	w, err := l.required("wait")
	if err != nil {
		return e, err
	}
	if e.Wait, err = ParseWait(w); err != nil {
		return e, err
	}

	mode, _ := l.get("modulation")
	if e.Modulation.Mode, err = synth.ParseModMode(mode); err != nil {
		return e, err
	}
	if e.Modulation.RateKHz, err = l.float("mod rate"); err != nil {
		return e, err
	}
	if e.Modulation.Depth, err = l.float("mod depth"); err != nil {
		return e, err
	}
	e.Comment, _ = l.get("comment")
	return e, nil
}
