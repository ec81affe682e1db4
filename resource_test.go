// Copyright (c) 2024–2026 The mmwave developers. All rights reserved.
// Project site: https://github.com/gotmc/mmwave
// Use of this source code is governed by a MIT-style license that
// can be found in the LICENSE.txt file for the project.

package mmwave

import (
	"context"
	"errors"
	"testing"
)

func TestParseResource(t *testing.T) {
	tests := []struct {
		in        string
		want      Resource
		canonical string
	}{
		{"GPIB0::19::INSTR", Resource{Interface: GPIB, Primary: 19}, "GPIB0::19::INSTR"},
		{"gpib1::8", Resource{Interface: GPIB, Board: 1, Primary: 8}, "GPIB1::8::INSTR"},
		{"GPIB::5::96::INSTR", Resource{Interface: GPIB, Primary: 5, Secondary: 96}, "GPIB0::5::96::INSTR"},
		{"TCPIP0::192.168.1.20::5025::SOCKET", Resource{Interface: TCPIP, Host: "192.168.1.20", Port: 5025}, "TCPIP0::192.168.1.20::5025::SOCKET"},
		{"ASRL/dev/ttyUSB0::INSTR", Resource{Interface: ASRL, Device: "/dev/ttyUSB0"}, "ASRL/dev/ttyUSB0::INSTR"},
		{"ASRL3::INSTR", Resource{Interface: ASRL, Device: "COM3"}, "ASRLCOM3::INSTR"},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseResource(tc.in)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("ParseResource = %+v, want %+v", got, tc.want)
			}
			if s := got.String(); s != tc.canonical {
				t.Errorf("String = %q, want %q", s, tc.canonical)
			}
		})
	}
}

func TestParseResourceErrors(t *testing.T) {
	for _, in := range []string{
		"",
		"USB0::0x1234::0x5678::INSTR",
		"GPIB0::31::INSTR",
		"GPIB0::5::12::INSTR",
		"GPIBx::5::INSTR",
		"GPIB0::INSTR",
		"TCPIP0::host::5025::INSTR",
		"TCPIP0::::5025::SOCKET",
		"TCPIP0::host::0::SOCKET",
		"ASRL::INSTR",
		"ASRL/dev/ttyS0::SOCKET",
	} {
		if _, err := ParseResource(in); !errors.Is(err, ErrInvalidResource) {
			t.Errorf("ParseResource(%q) error = %v, want ErrInvalidResource", in, err)
		}
	}
}

func TestOpenGPIBWithoutAdapter(t *testing.T) {
	rm := NewResourceManager()
	defer rm.Close()
	if _, err := rm.Open(context.Background(), "GPIB0::19::INSTR"); err == nil {
		t.Error("opened GPIB resource without a Prologix adapter")
	}
}

func TestIsNetAddr(t *testing.T) {
	tests := []struct {
		addr string
		want bool
	}{
		{"/dev/ttyUSB0", false},
		{"COM4", false},
		{"192.168.1.50", true},
		{"prologix.lab:1234", true},
	}
	for _, tc := range tests {
		if got := isNetAddr(tc.addr); got != tc.want {
			t.Errorf("isNetAddr(%q) = %t, want %t", tc.addr, got, tc.want)
		}
	}
}
