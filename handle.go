// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

// Package mmwave provides connection handles to the instruments of a
// millimeter-wave absorption spectrometer. A handle is reached through a GPIB
// bus behind a Prologix adapter, a raw TCP socket, or a serial port, and every
// handle speaks the instrument's own line-oriented text command set.
package mmwave

import (
	"bufio"
	"errors"
	"os"
	"strings"
)

// Handle is a connection to one instrument.
type Handle interface {
	// Send writes a command, appending the handle's terminator.
	Send(cmd string) error
	// Recv reads one reply with the terminator and surrounding whitespace
	// removed.
	Recv() (string, error)
	// Query sends cmd and reads its reply as a single transaction.
	Query(cmd string) (string, error)
	// Close releases the instrument.
	Close() error
}

// BlockReader is implemented by handles that can receive IEEE-488.2 definite
// length binary blocks, whose payload may contain the line terminator.
type BlockReader interface {
	// RecvBlock returns the raw block, header included.
	RecvBlock() ([]byte, error)
}

var (
	// ErrTimeout is returned when an instrument does not reply in time.
	ErrTimeout = errors.New("mmwave: read timeout")
	// ErrInvalidResource is returned for malformed resource strings.
	ErrInvalidResource = errors.New("mmwave: invalid resource")
	// ErrClosed is returned when a closed handle is used.
	ErrClosed = errors.New("mmwave: handle closed")
)

// readTerm reads from r until term has been seen. Bytes past the terminator
// stay buffered in r for the next call.
func readTerm(r *bufio.Reader, term string) (string, error) {
	if term == "" {
		term = "\n"
	}
	last := term[len(term)-1]
	var sb strings.Builder
	for {
		s, err := r.ReadString(last)
		sb.WriteString(s)
		if err != nil {
			return sb.String(), timeoutErr(err)
		}
		if strings.HasSuffix(sb.String(), term) {
			return sb.String(), nil
		}
	}
}

// timeoutErr maps deadline errors of the underlying transport onto
// ErrTimeout.
func timeoutErr(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrTimeout
	}
	return err
}

func trimReply(s, term string) string {
	return strings.TrimSpace(strings.TrimSuffix(s, term))
}
