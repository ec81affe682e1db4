package lockin

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/gotmc/mmwave/lib/insttest"
)

func TestTables(t *testing.T) {
	if len(Sensitivities) != 27 {
		t.Errorf("%d sensitivities, want 27", len(Sensitivities))
	}
	if len(TimeConstants) != 20 {
		t.Errorf("%d time constants, want 20", len(TimeConstants))
	}
	if v, _ := SensitivityValue(20); v != 10e-3 {
		t.Errorf("SENS 20 = %g V, want 10 mV", v)
	}
	if tc, _ := TimeConstantValue(6); tc != 10*time.Millisecond {
		t.Errorf("OFLT 6 = %s, want 10ms", tc)
	}
	if _, err := SensitivityValue(27); err == nil {
		t.Error("index 27 accepted")
	}
}

func TestParseSensitivity(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"20", 20},
		{"10mV", 20},
		{"500 uV", 16},
		{"2nV", 0},
		{"1V", 26},
		{"200µV", 15},
	}
	for _, tc := range tests {
		got, err := ParseSensitivity(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseSensitivity(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
	for _, in := range []string{"3mV", "27", "ten"} {
		if _, err := ParseSensitivity(in); err == nil {
			t.Errorf("ParseSensitivity(%q) accepted", in)
		}
	}
}

func TestParseTimeConstant(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"6", 6},
		{"10ms", 6},
		{"3s", 11},
		{"300µs", 3},
	}
	for _, tc := range tests {
		got, err := ParseTimeConstant(tc.in)
		if err != nil || got != tc.want {
			t.Errorf("ParseTimeConstant(%q) = %d, %v; want %d", tc.in, got, err, tc.want)
		}
	}
	if _, err := ParseTimeConstant("20ms"); err == nil {
		t.Error("20ms accepted")
	}
}

func TestFormatSensitivity(t *testing.T) {
	for idx, want := range map[int]string{0: "2 nV", 16: "500 µV", 20: "10 mV", 26: "1 V"} {
		if got := FormatSensitivity(idx); got != want {
			t.Errorf("FormatSensitivity(%d) = %q, want %q", idx, got, want)
		}
	}
}

func TestSettings(t *testing.T) {
	f := insttest.New()
	l := New(f)
	steps := []func() error{
		func() error { return l.SetSensitivity(20) },
		func() error { return l.SetTimeConstant(6) },
		func() error { return l.SetSlope(12) },
		func() error { return l.SetHarmonic(2) },
		func() error { return l.SetPhase(370) },
		func() error { return l.SetCoupling(AC) },
		func() error { return l.SetReserve(LowNoise) },
		func() error { return l.AutoPhase() },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"SENS 20", "OFLT 6", "OFSL 1", "HARM 2", "PHAS 10.00", "ICPL 0", "RMOD 2", "APHS"}
	if got := f.Sent(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sent %q, want %q", got, want)
	}
}

func TestSettingsRejected(t *testing.T) {
	f := insttest.New()
	l := New(f)
	for _, err := range []error{
		l.SetSensitivity(-1),
		l.SetTimeConstant(20),
		l.SetSlope(9),
		l.SetHarmonic(0),
		l.SetCoupling(Coupling(5)),
		l.SetReserve(Reserve(3)),
	} {
		if err == nil {
			t.Error("invalid setting accepted")
		}
	}
	if len(f.Sent()) != 0 {
		t.Errorf("sent %q for rejected settings", f.Sent())
	}
}

func TestReadings(t *testing.T) {
	f := insttest.New().
		On("OUTP? 1", "1.2345e-03").
		On("SNAP? 1,2", "1.0e-3,-2.5e-4").
		On("SENS?", "17").
		On("OFSL?", "3")
	l := New(f)
	x, err := l.X()
	if err != nil || x != 1.2345e-3 {
		t.Errorf("X = %g, %v", x, err)
	}
	x, y, err := l.XY()
	if err != nil || x != 1e-3 || y != -2.5e-4 {
		t.Errorf("XY = %g, %g, %v", x, y, err)
	}
	if s, err := l.Sensitivity(); err != nil || s != 17 {
		t.Errorf("Sensitivity = %d, %v", s, err)
	}
	if s, err := l.Slope(); err != nil || s != 24 {
		t.Errorf("Slope = %d, %v", s, err)
	}
}

func TestOverloaded(t *testing.T) {
	f := insttest.New().On("LIAS?", "0", "5")
	l := New(f)
	if err := l.Overloaded(); err != nil {
		t.Errorf("Overloaded = %v, want nil", err)
	}
	err := l.Overloaded()
	var o Overload
	if !errors.As(err, &o) {
		t.Fatalf("Overloaded = %v, want Overload", err)
	}
	if o != InputOverload|OutputOverload {
		t.Errorf("overload bits = %b", o)
	}
	if !strings.Contains(err.Error(), "input, output") {
		t.Errorf("Error() = %q", err.Error())
	}
}

func TestWrapPhase(t *testing.T) {
	for in, want := range map[float64]float64{0: 0, 370: 10, -190: 170, 180: -180, 725: 5} {
		if got := WrapPhase(in); got != want {
			t.Errorf("WrapPhase(%g) = %g, want %g", in, got, want)
		}
	}
}

func TestSetPhaseWraps(t *testing.T) {
	f := insttest.New()
	l := New(f)
	if err := l.SetPhase(270); err != nil {
		t.Fatal(err)
	}
	if got := f.Sent(); len(got) != 1 || got[0] != "PHAS -90.00" {
		t.Errorf("sent %q", got)
	}
}

func TestSettle(t *testing.T) {
	d, err := Settle(6, 12)
	if err != nil {
		t.Fatal(err)
	}
	if d != 70*time.Millisecond {
		t.Errorf("Settle = %s, want 70ms", d)
	}
}
