// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package mmwave

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gotmc/mmwave/lib/block"
	"github.com/gotmc/mmwave/lib/log"
)

// Socket is a handle to an instrument speaking SCPI over a raw TCP socket,
// typically on port 5025.
type Socket struct {
	mu      sync.Mutex
	conn    net.Conn
	r       *bufio.Reader
	term    string
	timeout time.Duration
	closed  bool
}

// SocketOption applies an option to a socket handle.
type SocketOption func(*Socket)

// WithTerminator sets the line terminator used in both directions.
func WithTerminator(term string) SocketOption {
	return func(s *Socket) { s.term = term }
}

// WithTimeout sets the deadline applied to every read.
func WithTimeout(d time.Duration) SocketOption {
	return func(s *Socket) { s.timeout = d }
}

// DialSocket connects to addr ("host:port").
func DialSocket(ctx context.Context, addr string, opts ...SocketOption) (*Socket, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewSocket(conn, opts...), nil
}

// NewSocket wraps an established connection.
func NewSocket(conn net.Conn, opts ...SocketOption) *Socket {
	s := Socket{
		conn:    conn,
		r:       bufio.NewReader(conn),
		term:    "\n",
		timeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &s
}

func (s *Socket) Send(cmd string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.send(cmd)
}

func (s *Socket) send(cmd string) error {
	if s.closed {
		return ErrClosed
	}
	cmd = strings.TrimSpace(cmd) + s.term
	log.Debugf("%s <- %q", s.conn.RemoteAddr(), cmd)
	if s.timeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
	}
	_, err := s.conn.Write([]byte(cmd))
	return timeoutErr(err)
}

func (s *Socket) Recv() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recv()
}

func (s *Socket) recv() (string, error) {
	if s.closed {
		return "", ErrClosed
	}
	if s.timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	}
	line, err := readTerm(s.r, s.term)
	if err != nil {
		return "", err
	}
	log.Debugf("%s -> %q", s.conn.RemoteAddr(), line)
	return trimReply(line, s.term), nil
}

func (s *Socket) RecvBlock() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if s.timeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.timeout))
	}
	b, err := block.ReadDefinite(s.r)
	if err != nil {
		return nil, timeoutErr(err)
	}
	log.Debugf("%s -> %d byte block", s.conn.RemoteAddr(), len(b))
	return b, nil
}

func (s *Socket) Query(cmd string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.send(cmd); err != nil {
		return "", err
	}
	return s.recv()
}

func (s *Socket) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}
