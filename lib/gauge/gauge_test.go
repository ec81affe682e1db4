package gauge

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/gotmc/mmwave/lib/insttest"
)

func TestPressure(t *testing.T) {
	f := insttest.New().On("PR1", ACK).On(ENQ, "0,8.0000E-03")
	p, err := New(f).Pressure(1)
	if err != nil {
		t.Fatal(err)
	}
	if p != 8e-3 {
		t.Errorf("Pressure = %g, want 8e-3", p)
	}
	if got := strings.Join(f.Sent(), "|"); got != "PR1|"+ENQ {
		t.Errorf("sent %q", got)
	}
}

func TestPressureStatus(t *testing.T) {
	f := insttest.New().On("PR2", ACK).On(ENQ, "2,1.0000E+03")
	_, err := New(f).Pressure(2)
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("error = %v, want StatusError", err)
	}
	if se.Status != StatusOverrange || se.Channel != 2 || se.Value != 1000 {
		t.Errorf("StatusError = %+v", se)
	}
	if se.Error() != "gauge: channel 2: overrange" {
		t.Errorf("Error() = %q", se.Error())
	}
}

func TestPressureNAK(t *testing.T) {
	f := insttest.New().On("PR1", NAK)
	if _, err := New(f).Pressure(1); !errors.Is(err, ErrNAK) {
		t.Errorf("error = %v, want ErrNAK", err)
	}
}

func TestPressureMalformed(t *testing.T) {
	for _, reply := range []string{"8.0E-03", "x,1.0", "0,abc"} {
		f := insttest.New().On("PR1", ACK).On(ENQ, reply)
		if _, err := New(f).Pressure(1); err == nil {
			t.Errorf("reply %q accepted", reply)
		}
	}
	if _, err := New(insttest.New()).Pressure(7); err == nil {
		t.Error("channel 7 accepted")
	}
}

func TestUnit(t *testing.T) {
	f := insttest.New().On("UNI", ACK).On("UNI,2", ACK).On(ENQ, "1", "2", "0,1.0000E+00")
	g := New(f)
	u, err := g.Unit()
	if err != nil || u != Torr {
		t.Errorf("Unit = %v, %v", u, err)
	}
	if err := g.SetUnit(Pascal); err != nil {
		t.Fatal(err)
	}
	if err := g.SetUnit(Unit(3)); err == nil {
		t.Error("unit 3 accepted")
	}
}

func TestPressureIn(t *testing.T) {
	f := insttest.New().On("UNI", ACK).On("PR1", ACK).On(ENQ, "0", "0,1.0000E+00")
	p, err := New(f).PressureIn(1, Torr)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p-0.750062) > 1e-6 {
		t.Errorf("1 mbar = %g Torr", p)
	}
}

func TestConvert(t *testing.T) {
	tests := []struct {
		p        float64
		from, to Unit
		want     float64
	}{
		{760, Torr, Pascal, 101325},
		{1013.25, Mbar, Torr, 760},
		{100, Pascal, Mbar, 1},
		{5, Torr, Torr, 5},
	}
	for _, tc := range tests {
		if got := Convert(tc.p, tc.from, tc.to); math.Abs(got-tc.want) > 1e-9*math.Max(1, tc.want) {
			t.Errorf("Convert(%g, %s, %s) = %g, want %g", tc.p, tc.from, tc.to, got, tc.want)
		}
	}
	for in, want := range map[string]Unit{"mbar": Mbar, "Torr": Torr, "PA": Pascal} {
		if u, err := ParseUnit(in); err != nil || u != want {
			t.Errorf("ParseUnit(%q) = %v, %v", in, u, err)
		}
	}
}
