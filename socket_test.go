// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package mmwave

import (
	"bufio"
	"context"
	"errors"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"
)

// echoInstrument answers "*IDN?" and stays silent on everything else.
func echoInstrument(t *testing.T, conn net.Conn) {
	t.Helper()
	go func() {
		defer conn.Close()
		r := bufio.NewReader(conn)
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if strings.TrimSpace(line) == "*IDN?" {
				conn.Write([]byte("KEYSIGHT,E8257D,MY123,C.06\n"))
			}
		}
	}()
}

func TestSocketQuery(t *testing.T) {
	client, server := net.Pipe()
	echoInstrument(t, server)
	s := NewSocket(client, WithTimeout(time.Second))
	defer s.Close()

	got, err := s.Query("*IDN?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "KEYSIGHT,E8257D,MY123,C.06" {
		t.Errorf("Query = %q", got)
	}
}

func TestSocketTimeout(t *testing.T) {
	client, server := net.Pipe()
	echoInstrument(t, server)
	s := NewSocket(client, WithTimeout(20*time.Millisecond))
	defer s.Close()

	if err := s.Send("OUTP ON"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Recv(); !errors.Is(err, ErrTimeout) {
		t.Errorf("Recv error = %v, want ErrTimeout", err)
	}
}

func TestSocketClosed(t *testing.T) {
	client, server := net.Pipe()
	echoInstrument(t, server)
	s := NewSocket(client)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Send("*RST"); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
}

func TestDialSocket(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		echoInstrument(t, conn)
	}()

	rm := NewResourceManager(WithSocketOptions(WithTimeout(time.Second)))
	defer rm.Close()
	addr := ln.Addr().(*net.TCPAddr)
	h, err := rm.Open(context.Background(), "TCPIP0::127.0.0.1::"+strconv.Itoa(addr.Port)+"::SOCKET")
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()
	if got, err := h.Query("*IDN?"); err != nil || !strings.HasPrefix(got, "KEYSIGHT") {
		t.Errorf("Query = %q, %v", got, err)
	}
}
