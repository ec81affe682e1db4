// Package connutil opens the bench described by a preferences file, with the
// command line flags every mmwave tool shares.
package connutil

import (
	"context"
	"flag"
	"strings"

	"github.com/gotmc/mmwave"
	"github.com/gotmc/mmwave/lib/cmdlog"
	"github.com/gotmc/mmwave/lib/config"
	"github.com/gotmc/mmwave/lib/find"
	"github.com/gotmc/mmwave/lib/flow"
	"github.com/gotmc/mmwave/lib/gauge"
	"github.com/gotmc/mmwave/lib/lockin"
	"github.com/gotmc/mmwave/lib/log"
	"github.com/gotmc/mmwave/lib/scope"
	"github.com/gotmc/mmwave/lib/synth"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Instrument names, as used for preference sections and Setup.
const (
	Synth  = "synth"
	Lockin = "lockin"
	Scope  = "scope"
	Gauge  = "gauge"
	Flow   = "flow"
)

var all = []string{Synth, Lockin, Scope, Gauge, Flow}

type Conn struct {
	PrefsPath string
	Adapter   string
	Debug     bool // log every exchange with an instrument
	Verbose   bool

	// find locates the Prologix adapter when neither the flag nor the
	// preferences name one.
	find func() (string, error)
}

// AddFlags is to be called before [flag.Parse].
func (c *Conn) AddFlags(fs *flag.FlagSet) {
	if fs == nil {
		fs = flag.CommandLine
	}
	if c.PrefsPath == "" {
		c.PrefsPath = "mmwave.ini"
	}
	fs.StringVar(&c.PrefsPath, "prefs", c.PrefsPath, "station preferences file")
	fs.StringVar(&c.Adapter, "adapter", c.Adapter, "Prologix serial port or host[:port], overrides the preferences")
	fs.BoolVar(&c.Debug, "debug", c.Debug, "log instrument traffic")
	fs.BoolVar(&c.Verbose, "v", c.Verbose, "verbose logging")
}

// Bench holds the open instruments. Instruments without a resource in the
// preferences are nil.
type Bench struct {
	Prefs  config.Prefs
	RM     *mmwave.ResourceManager
	Synth  *synth.Synth
	Lockin *lockin.Lockin
	Scope  *scope.Scope
	Gauge  *gauge.Gauge
	Flow   *flow.Controller

	handles []mmwave.Handle
}

// Close closes every instrument and then the adapters.
func (b *Bench) Close() error {
	var err error
	for i := len(b.handles) - 1; i >= 0; i-- {
		err = multierr.Append(err, b.handles[i].Close())
	}
	b.handles = nil
	return multierr.Append(err, b.RM.Close())
}

// Setup is to be called after [flag.Parse]. It loads the preferences and
// opens the named instruments, or every configured one when names is empty.
// A named instrument missing from the preferences is an error.
func (c *Conn) Setup(ctx context.Context, names ...string) (bench *Bench, cleanup func(), err error) {
	nocleanup := func() {}

	prefs, err := config.LoadPrefs(c.PrefsPath)
	if err != nil {
		return nil, nocleanup, err
	}
	explicit := len(names) > 0
	if !explicit {
		names = all
	}

	rm, err := c.resourceManager(prefs, names)
	if err != nil {
		return nil, nocleanup, err
	}
	bench = &Bench{Prefs: prefs, RM: rm}
	cleanup = func() {
		if err := bench.Close(); err != nil {
			log.Errorf("closing instruments: %s", err)
		}
	}

	for _, name := range names {
		in, ok := instrument(prefs, name)
		if !ok {
			cleanup()
			return nil, nocleanup, errors.Errorf("unknown instrument %q", name)
		}
		if in.Resource == "" {
			if explicit {
				cleanup()
				return nil, nocleanup, errors.Errorf("no resource configured for %s in %s", name, c.PrefsPath)
			}
			continue
		}
		h, err := rm.Open(ctx, in.Resource, openOptions(name, in)...)
		if err != nil {
			cleanup()
			return nil, nocleanup, errors.Wrapf(err, "open %s at %s", name, in.Resource)
		}
		if c.Debug {
			h = cmdlog.Wrap(name, h)
		}
		bench.handles = append(bench.handles, h)
		log.Debugf("%s on %s", name, in.Resource)

		if err := bench.attach(name, h, in); err != nil {
			cleanup()
			return nil, nocleanup, err
		}
	}
	return bench, cleanup, nil
}

func (b *Bench) attach(name string, h mmwave.Handle, in config.Instrument) error {
	switch name {
	case Synth:
		b.Synth = synth.New(h)
	case Lockin:
		b.Lockin = lockin.New(h)
	case Scope:
		b.Scope = scope.New(h)
	case Gauge:
		b.Gauge = gauge.New(h)
	case Flow:
		fc := flow.New(h)
		if in.Address != 0 {
			var err error
			if fc, err = fc.WithAddress(in.Address); err != nil {
				return err
			}
		}
		b.Flow = fc
	}
	return nil
}

func instrument(p config.Prefs, name string) (config.Instrument, bool) {
	switch name {
	case Synth:
		return p.Synth, true
	case Lockin:
		return p.Lockin, true
	case Scope:
		return p.Scope, true
	case Gauge:
		return p.Gauge, true
	case Flow:
		return p.Flow, true
	}
	return config.Instrument{}, false
}

func openOptions(name string, in config.Instrument) []mmwave.OpenOption {
	if !strings.HasPrefix(strings.ToUpper(in.Resource), "ASRL") {
		return nil
	}
	cfg := mmwave.DefaultSerialConfig
	if in.Baud != 0 {
		cfg.Baud = in.Baud
	}
	if name == Flow {
		// frames carry their own ;FF terminator
		cfg.TxTerm = ""
		cfg.RxTerm = ";FF"
	}
	return []mmwave.OpenOption{mmwave.SerialSettings(cfg)}
}

// resourceManager configures board 0 with the Prologix adapter when any of
// the named instruments sits on GPIB.
func (c *Conn) resourceManager(p config.Prefs, names []string) (*mmwave.ResourceManager, error) {
	gpib := false
	for _, name := range names {
		in, _ := instrument(p, name)
		if strings.HasPrefix(strings.ToUpper(in.Resource), "GPIB") {
			gpib = true
		}
	}
	if !gpib {
		return mmwave.NewResourceManager(), nil
	}

	adapter := c.Adapter
	if adapter == "" {
		adapter = p.Prologix.Adapter
	}
	if adapter == "" {
		fn := c.find
		if fn == nil {
			fn = find.Adapter
		}
		var err error
		if adapter, err = fn(); err != nil {
			log.Printf("locating Prologix adapter failed, guessing /dev/ttyACM0: %s", err)
			adapter = "/dev/ttyACM0"
		}
	}
	log.Printf("Prologix adapter = %s", adapter)

	var opts []mmwave.BusOption
	if p.Prologix.AR488 {
		opts = append(opts, mmwave.WithAR488())
	}
	if p.Prologix.ReadTimeout > 0 {
		opts = append(opts, mmwave.WithReadTimeout(p.Prologix.ReadTimeout))
	}
	if p.Prologix.WriteDelay > 0 {
		opts = append(opts, mmwave.WithWriteDelay(p.Prologix.WriteDelay))
	}
	if c.Debug {
		opts = append(opts, mmwave.WithDebug())
	}
	return mmwave.NewResourceManager(mmwave.WithPrologix(p.Prologix.Board, adapter, opts...)), nil
}
