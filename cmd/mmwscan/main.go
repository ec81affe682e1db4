// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// mmwscan runs a batch of absorption scans and appends the spectra to an
// .lwa file.
//
// Keys while scanning: space pauses and resumes, n skips to the next entry,
// q or Ctrl-C aborts after saving the sweeps already completed.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eiannone/keyboard"
	"github.com/fatih/color"
	"github.com/gotmc/mmwave/lib/config"
	"github.com/gotmc/mmwave/lib/connutil"
	"github.com/gotmc/mmwave/lib/daq"
	"github.com/gotmc/mmwave/lib/log"
	"github.com/gotmc/mmwave/lib/lwa"
	"github.com/gotmc/mmwave/lib/monitor"
	"github.com/gotmc/mmwave/lib/plotpng"
	"github.com/mattn/go-isatty"
	"go.uber.org/multierr"
)

var (
	conn      connutil.Conn
	batchPath string
	output    string
	pngDir    string
	wsAddr    string
	dryRun    bool
)

func init() {
	conn.AddFlags(nil)
	flag.StringVar(&batchPath, "batch", "batch.ini", "batch scan file")
	flag.StringVar(&output, "o", "", "output .lwa file, default from preferences")
	flag.StringVar(&pngDir, "png", "", "directory for a PNG plot of every spectrum")
	flag.StringVar(&wsAddr, "monitor", "", "listen address of the progress websocket, default from preferences")
	flag.BoolVar(&dryRun, "n", false, "check the batch and print its duration without scanning")
}

func main() {
	flag.Parse()
	log.Init(conn.Verbose)
	defer func() { _ = log.Sync() }()

	if err := run(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal(err)
	}
}

func run() error {
	prefs, err := config.LoadPrefs(conn.PrefsPath)
	if err != nil {
		return err
	}
	batch, err := prefs.LoadBatch(batchPath)
	if err != nil {
		return err
	}
	if err := batch.Validate(); err != nil {
		return err
	}
	info := color.New(color.FgBlue, color.Bold)
	info.Printf("%d entries on %s, estimated %s\n", len(batch.Entries), batch.Band.Name, batch.Estimate().Round(time.Second))
	if dryRun {
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	names := []string{connutil.Synth, connutil.Lockin}
	if prefs.Gauge.Resource != "" {
		names = append(names, connutil.Gauge)
	}
	if prefs.Flow.Resource != "" {
		names = append(names, connutil.Flow)
	}
	bench, cleanup, err := conn.Setup(ctx, names...)
	if err != nil {
		return err
	}
	defer cleanup()
	if err := bench.Lockin.SetSlope(batch.Slope); err != nil {
		return err
	}

	if output == "" {
		output = prefs.Output
	}
	f, err := os.OpenFile(output, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	sinks := []daq.Sink{lwa.NewWriter(f).Sink()}
	if pngDir != "" {
		if err := os.MkdirAll(pngDir, 0o755); err != nil {
			return err
		}
		sinks = append(sinks, plotpng.Sink(pngDir))
	}

	var hub *monitor.Hub
	if wsAddr == "" {
		wsAddr = prefs.Monitor
	}
	if wsAddr != "" {
		hub = monitor.NewHub()
		go func() {
			if err := hub.ListenAndServe(ctx, wsAddr); err != nil {
				log.Errorf("progress feed: %s", err)
			}
		}()
		sinks = append(sinks, daq.SinkFunc(func(r daq.Result) error {
			hub.Result(r)
			return nil
		}))
	}

	opts := []daq.Option{daq.WithObserver(progressPrinter(hub))}
	ctl := daq.New(bench.Synth, bench.Lockin, opts...)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if done, err := keys(ctx, ctl, cancel); err != nil {
		log.Warnf("no keyboard control: %s", err)
	} else {
		// restore the terminal before returning
		defer func() {
			cancel()
			<-done
		}()
	}
	go watchCell(ctx, bench, hub)

	start := time.Now()
	err = ctl.Run(ctx, batch, daq.Tee(sinks...))
	switch {
	case errors.Is(err, context.Canceled):
		color.New(color.FgYellow).Printf("\nscan aborted after %s, completed sweeps saved to %s\n", time.Since(start).Round(time.Second), output)
		err = nil
	case err == nil:
		info.Printf("\nbatch done in %s, spectra in %s\n", time.Since(start).Round(time.Second), output)
	}
	return multierr.Append(err, bench.Synth.SetOutput(false))
}

// keys starts the keyboard loop. The returned channel is closed once the
// loop has ended and the terminal is restored. It returns an error when
// stdin is not a terminal.
func keys(ctx context.Context, ctl *daq.Controller, abort func()) (<-chan struct{}, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return nil, errors.New("stdin is not a terminal")
	}
	events, err := keyboard.GetKeys(8)
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() { _ = keyboard.Close() }()
		keyLoop(ctx, events, ctl, abort)
	}()
	return done, nil
}

// keyLoop handles key events until ctx ends, the user aborts or the
// keyboard fails.
func keyLoop(ctx context.Context, events <-chan keyboard.KeyEvent, ctl *daq.Controller, abort func()) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-events:
			if ev.Err != nil {
				log.Errorf("keyboard: %s", ev.Err)
				return
			}
			switch {
			case ev.Key == keyboard.KeyCtrlC || ev.Rune == 'q' || ev.Rune == 'Q':
				abort()
				return
			case ev.Key == keyboard.KeySpace:
				if ctl.TogglePause() {
					color.New(color.FgYellow).Println("\npaused, space to resume")
				} else {
					log.Print("resumed")
				}
			case ev.Rune == 'n' || ev.Rune == 'N':
				log.Print("skipping to next entry")
				ctl.Skip()
			}
		}
	}
}

// progressPrinter redraws one status line per point when stdout is a
// terminal and forwards every point to hub.
func progressPrinter(hub *monitor.Hub) func(daq.Progress) {
	tty := isatty.IsTerminal(os.Stdout.Fd())
	c := color.New(color.FgCyan)
	return func(p daq.Progress) {
		if hub != nil {
			hub.Progress(p)
		}
		line := fmt.Sprintf("entry %d/%d  sweep %d/%d  point %4d/%d  %12.4f MHz  %12.4e V",
			p.Entry+1, p.Entries, p.Sweep+1, p.Sweeps, p.Point+1, p.Points, p.FreqMHz, p.Value)
		if tty {
			c.Printf("\r%s", line)
			return
		}
		// one line per sweep; odd sweeps run downwards
		if last := (p.Sweep%2 == 0 && p.Point == p.Points-1) || (p.Sweep%2 == 1 && p.Point == 0); last {
			fmt.Println(line)
		}
	}
}

// watchCell polls the pressure gauge and flow controller while the scan
// runs, if either is configured.
func watchCell(ctx context.Context, bench *connutil.Bench, hub *monitor.Hub) {
	if bench.Gauge == nil && bench.Flow == nil {
		return
	}
	prefs := bench.Prefs
	m := daq.Monitor{
		GaugeChannel: prefs.Gauge.Channel,
		FlowChannel:  prefs.Flow.Channel,
		Interval:     prefs.GaugeEvery,
		OnReading: func(r daq.Reading) {
			if hub != nil {
				hub.Reading(r)
			}
			if r.Err != nil {
				log.Warnf("cell: %s", r.Err)
				return
			}
			log.Debugf("cell: %.3e, %.2f sccm", r.Pressure, r.Flow)
		},
	}
	if bench.Gauge != nil {
		m.Gauge = bench.Gauge
	}
	if bench.Flow != nil {
		m.Flow = bench.Flow
	}
	if err := m.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorf("cell monitor: %s", err)
	}
}
