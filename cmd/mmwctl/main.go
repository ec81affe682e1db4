// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// mmwctl talks to the spectrometer's instruments one command at a time.
//
//	mmwctl [flags] list
//	mmwctl [flags] idn [instrument...]
//	mmwctl [flags] query instrument command
//	mmwctl [flags] pressure
//	mmwctl [flags] flow
//	mmwctl [flags] mod
//	mmwctl [flags] scope [channel]
//	mmwctl [flags] estimate batch.ini
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/gotmc/mmwave"
	"github.com/gotmc/mmwave/lib/config"
	"github.com/gotmc/mmwave/lib/connutil"
	"github.com/gotmc/mmwave/lib/log"
	"github.com/gotmc/mmwave/lib/synth"
	"github.com/pkg/errors"
)

var conn connutil.Conn

func init() {
	conn.AddFlags(nil)
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] list|idn|query|pressure|flow|mod|scope|estimate [args]\n", os.Args[0])
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	log.Init(conn.Verbose)
	defer func() { _ = log.Sync() }()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var err error
	switch cmd {
	case "list":
		err = list()
	case "idn":
		err = idn(ctx, args)
	case "query":
		err = query(ctx, args)
	case "pressure":
		err = pressure(ctx)
	case "flow":
		err = flowRate(ctx)
	case "mod":
		err = modulation(ctx)
	case "scope":
		err = scopeAverage(ctx, args)
	case "estimate":
		err = estimate(args)
	default:
		flag.Usage()
		os.Exit(2)
	}
	if err != nil {
		color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "%s: %s\n", cmd, err)
		os.Exit(1)
	}
}

func list() error {
	rm := mmwave.NewResourceManager()
	defer rm.Close()
	res, err := rm.ListResources()
	if err != nil {
		return err
	}
	for _, r := range res {
		fmt.Println(r)
	}
	return nil
}

type identifier interface {
	ID() (string, error)
}

func idn(ctx context.Context, names []string) error {
	if len(names) == 0 {
		names = []string{connutil.Synth, connutil.Lockin, connutil.Scope}
	}
	bench, cleanup, err := conn.Setup(ctx, names...)
	if err != nil {
		return err
	}
	defer cleanup()
	for _, name := range names {
		var dev identifier
		switch name {
		case connutil.Synth:
			dev = bench.Synth
		case connutil.Lockin:
			dev = bench.Lockin
		case connutil.Scope:
			dev = bench.Scope
		default:
			return errors.Errorf("%s does not answer *IDN?", name)
		}
		id, err := dev.ID()
		if err != nil {
			return errors.Wrap(err, name)
		}
		fmt.Printf("%-7s %s\n", name, id)
	}
	return nil
}

func query(ctx context.Context, args []string) error {
	if len(args) < 2 {
		return errors.New("want instrument and command")
	}
	name, cmd := args[0], strings.Join(args[1:], " ")
	bench, cleanup, err := conn.Setup(ctx, name)
	if err != nil {
		return err
	}
	defer cleanup()

	var h mmwave.Handle
	switch name {
	case connutil.Synth:
		h = bench.Synth.Handle()
	case connutil.Lockin:
		h = bench.Lockin.Handle()
	case connutil.Scope:
		h = bench.Scope.Handle()
	case connutil.Gauge:
		h = bench.Gauge.Handle()
	case connutil.Flow:
		h = bench.Flow.Handle()
	}
	if !strings.HasSuffix(cmd, "?") {
		return h.Send(cmd)
	}
	r, err := h.Query(cmd)
	if err != nil {
		return err
	}
	fmt.Println(r)
	return nil
}

func pressure(ctx context.Context) error {
	bench, cleanup, err := conn.Setup(ctx, connutil.Gauge)
	if err != nil {
		return err
	}
	defer cleanup()
	u, err := bench.Gauge.Unit()
	if err != nil {
		return err
	}
	p, err := bench.Gauge.Pressure(bench.Prefs.Gauge.Channel)
	if err != nil {
		return err
	}
	fmt.Printf("%.3e %s\n", p, u)
	return nil
}

func flowRate(ctx context.Context) error {
	bench, cleanup, err := conn.Setup(ctx, connutil.Flow)
	if err != nil {
		return err
	}
	defer cleanup()
	ch := bench.Prefs.Flow.Channel
	f, err := bench.Flow.Flow(ch)
	if err != nil {
		return err
	}
	sp, err := bench.Flow.Setpoint(ch)
	if err != nil {
		return err
	}
	fmt.Printf("%.2f sccm (setpoint %.2f)\n", f, sp)
	return nil
}

// modulation prints the synthesizer modulation, with the FM deviation also
// referred to the probe through the preferred band's multiplier.
func modulation(ctx context.Context) error {
	bench, cleanup, err := conn.Setup(ctx, connutil.Synth)
	if err != nil {
		return err
	}
	defer cleanup()
	m, err := bench.Synth.Modulation()
	if err != nil {
		return err
	}
	switch m.Mode {
	case synth.ModFM:
		band, err := synth.LookupBand(bench.Prefs.Band)
		if err != nil {
			return err
		}
		fmt.Printf("FM %g kHz, deviation %g kHz (%g kHz at the probe on %s)\n",
			m.RateKHz, m.Depth, band.ProbeDeviation(m.Depth), band.Name)
	case synth.ModAM:
		fmt.Printf("AM %g kHz, depth %g%%\n", m.RateKHz, m.Depth)
	default:
		fmt.Println("modulation off")
	}
	return nil
}

func scopeAverage(ctx context.Context, args []string) error {
	ch := 1
	if len(args) > 0 {
		var err error
		if ch, err = strconv.Atoi(args[0]); err != nil {
			return errors.Wrap(err, "channel")
		}
	}
	bench, cleanup, err := conn.Setup(ctx, connutil.Scope)
	if err != nil {
		return err
	}
	defer cleanup()
	v, err := bench.Scope.Average(ch)
	if err != nil {
		return err
	}
	fmt.Printf("%.6g V\n", v)
	return nil
}

func estimate(args []string) error {
	if len(args) != 1 {
		return errors.New("want a batch file")
	}
	prefs, err := config.LoadPrefs(conn.PrefsPath)
	if err != nil {
		return err
	}
	b, err := prefs.LoadBatch(args[0])
	if err != nil {
		return err
	}
	if err := b.Validate(); err != nil {
		return err
	}
	for i, e := range b.Entries {
		n, _ := e.Points()
		fmt.Printf("%3d  %12.4f-%12.4f MHz  %5d points x %3d  %s  %s\n",
			i+1, e.StartMHz, e.StopMHz, len(n), e.Sweeps, e.Duration(b.Slope).Round(time.Second), e.Comment)
	}
	fmt.Printf("total %s on %s\n", b.Estimate().Round(time.Second), b.Band.Name)
	return nil
}
