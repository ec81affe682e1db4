package flow

import (
	"errors"
	"strings"
	"testing"

	"github.com/gotmc/mmwave/lib/insttest"
)

func TestFlow(t *testing.T) {
	f := insttest.New().On("@253FR1?;FF", "@253ACK1.25E+01;FF")
	v, err := New(f).Flow(1)
	if err != nil {
		t.Fatal(err)
	}
	if v != 12.5 {
		t.Errorf("Flow = %g, want 12.5", v)
	}
}

func TestSetSetpointAndValve(t *testing.T) {
	f := insttest.New().
		On("@253QSP2!1.50E+00;FF", "@253ACK1.50E+00").
		On("@253QMD2!SETPOINT;FF", "@253ACKSETPOINT").
		On("@253QMD2?;FF", "@253ACKSETPOINT")
	c := New(f)
	if err := c.SetSetpoint(2, 1.5); err != nil {
		t.Fatal(err)
	}
	if err := c.SetValve(2, ValveSetpoint); err != nil {
		t.Fatal(err)
	}
	m, err := c.Valve(2)
	if err != nil || m != ValveSetpoint {
		t.Errorf("Valve = %q, %v", m, err)
	}
	if err := c.SetValve(2, ValveMode("HALF")); err == nil {
		t.Error("mode HALF accepted")
	}
	if got := len(f.Sent()); got != 3 {
		t.Errorf("sent %d frames, want 3", got)
	}
}

func TestNAK(t *testing.T) {
	f := insttest.New().On("@253QSP1!9.99E+03;FF", "@253NAK172;FF")
	err := New(f).SetSetpoint(1, 9990)
	var nak *NAKError
	if !errors.As(err, &nak) {
		t.Fatalf("error = %v, want NAKError", err)
	}
	if nak.Code != 172 || !strings.Contains(nak.Error(), "out of range") {
		t.Errorf("NAK = %+v (%s)", nak, nak)
	}
}

func TestAddress(t *testing.T) {
	f := insttest.New().On("@001FR3?;FF", "@001ACK0.00E+00")
	c, err := New(f).WithAddress(1)
	if err != nil {
		t.Fatal(err)
	}
	if v, err := c.Flow(3); err != nil || v != 0 {
		t.Errorf("Flow = %g, %v", v, err)
	}
	if _, err := c.WithAddress(254); err == nil {
		t.Error("address 254 accepted")
	}
}

func TestMalformed(t *testing.T) {
	for _, reply := range []string{"@001ACK1.0", "@253XYZ", "@253NAKxx", "@253ACKabc"} {
		f := insttest.New().On("@253FR1?;FF", reply)
		if _, err := New(f).Flow(1); err == nil {
			t.Errorf("reply %q accepted", reply)
		}
	}
	if _, err := New(insttest.New()).Flow(0); err == nil {
		t.Error("channel 0 accepted")
	}
}
