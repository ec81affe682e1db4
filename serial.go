// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package mmwave

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/mmwave/lib/block"
	"github.com/gotmc/mmwave/lib/log"
	"go.bug.st/serial"
	"go.uber.org/multierr"
)

// SerialConfig describes a COM port and its framing.
type SerialConfig struct {
	Baud        int
	DataBits    int
	Parity      serial.Parity
	StopBits    serial.StopBits
	ReadTimeout time.Duration
	TxTerm      string // appended to every command
	RxTerm      string // ends every reply
}

// DefaultSerialConfig is 9600 8N1 with CR+LF terminators, the factory setting
// of most gauges and flow controllers.
var DefaultSerialConfig = SerialConfig{
	Baud:        9600,
	DataBits:    8,
	Parity:      serial.NoParity,
	StopBits:    serial.OneStopBit,
	ReadTimeout: time.Second,
	TxTerm:      "\r\n",
	RxTerm:      "\r\n",
}

// OpenPort opens a serial port whose reads report ErrTimeout instead of
// returning zero bytes when the read timeout expires.
func OpenPort(name string, cfg SerialConfig) (io.ReadWriteCloser, error) {
	port, err := serial.Open(name, &serial.Mode{
		BaudRate: cfg.Baud,
		DataBits: cfg.DataBits,
		Parity:   cfg.Parity,
		StopBits: cfg.StopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	if cfg.ReadTimeout > 0 {
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			return nil, multierr.Append(err, port.Close())
		}
	}
	return &timeoutPort{Port: port}, nil
}

// timeoutPort adapts go.bug.st/serial, which signals a read timeout with
// (0, nil).
type timeoutPort struct {
	serial.Port
}

func (p *timeoutPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if n == 0 && err == nil {
		return 0, ErrTimeout
	}
	return n, err
}

func (p *timeoutPort) Close() error {
	return multierr.Combine(p.Port.ResetInputBuffer(), p.Port.Close())
}

// Serial is a handle to an instrument on its own serial port.
type Serial struct {
	mu     sync.Mutex
	name   string
	rw     io.ReadWriter
	r      *bufio.Reader
	cfg    SerialConfig
	closed bool
}

// OpenSerial opens the named port with cfg.
func OpenSerial(name string, cfg SerialConfig) (*Serial, error) {
	port, err := OpenPort(name, cfg)
	if err != nil {
		return nil, err
	}
	return NewSerial(name, port, cfg), nil
}

// NewSerial wraps an already open port.
func NewSerial(name string, rw io.ReadWriter, cfg SerialConfig) *Serial {
	if cfg.RxTerm == "" {
		cfg.RxTerm = "\n"
	}
	return &Serial{name: name, rw: rw, r: bufio.NewReader(rw), cfg: cfg}
}

func (s *Serial) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(cmd)
}

func (s *Serial) send(cmd string) error {
	if s.closed {
		return ErrClosed
	}
	cmd = strings.TrimSpace(cmd) + s.cfg.TxTerm
	log.Debugf("%s <- %q", s.name, cmd)
	_, err := s.rw.Write([]byte(cmd))
	return err
}

// Write sends p as is, without terminator. Some serial protocols use bare
// control characters such as ENQ.
func (s *Serial) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	log.Debugf("%s <- %q", s.name, p)
	return s.rw.Write(p)
}

func (s *Serial) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recv()
}

func (s *Serial) recv() (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	line, err := readTerm(s.r, s.cfg.RxTerm)
	if err != nil {
		return "", err
	}
	log.Debugf("%s -> %q", s.name, line)
	return trimReply(line, s.cfg.RxTerm), nil
}

func (s *Serial) RecvBlock() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	b, err := block.ReadDefinite(s.r)
	if err != nil {
		return nil, timeoutErr(err)
	}
	log.Debugf("%s -> %d byte block", s.name, len(b))
	return b, nil
}

func (s *Serial) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(cmd); err != nil {
		return "", err
	}
	return s.recv()
}

func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if cl, ok := s.rw.(io.Closer); ok {
		return cl.Close()
	}
	return nil
}

// SerialPorts lists the serial ports present on the system.
func SerialPorts() ([]string, error) {
	return serial.GetPortsList()
}
