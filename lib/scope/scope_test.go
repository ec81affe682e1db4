package scope

import (
	"math"
	"strings"
	"testing"

	"github.com/gotmc/mmwave/lib/insttest"
)

const preamble = "+1,+0,+4,+1,+1.00000E-06,-2.00000E-06,+0,+1.00000E-03,+5.00000E-01,+0"

// samples 0, 100, -100, 1000
var record = "#18" + string([]byte{0x00, 0x00, 0x00, 0x64, 0xff, 0x9c, 0x03, 0xe8})

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParsePreamble(t *testing.T) {
	p, err := ParsePreamble(preamble)
	if err != nil {
		t.Fatal(err)
	}
	if p.Format != 1 || p.Points != 4 || p.YIncrement != 1e-3 || p.YOrigin != 0.5 {
		t.Errorf("preamble = %+v", p)
	}
	if _, err := ParsePreamble("1,2,3"); err == nil {
		t.Error("short preamble accepted")
	}
	if _, err := ParsePreamble(strings.Replace(preamble, "+1.00000E-06", "x", 1)); err == nil {
		t.Error("bad x increment accepted")
	}
}

func TestWaveform(t *testing.T) {
	f := insttest.New().On(":WAV:PRE?", preamble).On(":WAV:DATA?", record)
	s := New(f)
	w, err := s.Waveform(2)
	if err != nil {
		t.Fatal(err)
	}
	wantV := []float64{0.5, 0.6, 0.4, 1.5}
	wantT := []float64{-2e-6, -1e-6, 0, 1e-6}
	if len(w.Volts) != len(wantV) {
		t.Fatalf("%d samples, want %d", len(w.Volts), len(wantV))
	}
	for i := range wantV {
		if !near(w.Volts[i], wantV[i]) || !near(w.Time[i], wantT[i]) {
			t.Errorf("sample %d = (%g s, %g V), want (%g s, %g V)", i, w.Time[i], w.Volts[i], wantT[i], wantV[i])
		}
	}
	sent := f.Sent()
	want := []string{":WAV:SOUR CHAN2", ":WAV:FORM WORD", ":WAV:BYT MSBF", ":WAV:UNS OFF", ":WAV:PRE?", ":WAV:DATA?"}
	if strings.Join(sent, "|") != strings.Join(want, "|") {
		t.Errorf("sent %q, want %q", sent, want)
	}
}

func TestAverage(t *testing.T) {
	f := insttest.New().On(":WAV:PRE?", preamble).On(":WAV:DATA?", record)
	avg, err := New(f).Average(1)
	if err != nil {
		t.Fatal(err)
	}
	if !near(avg, 0.75) {
		t.Errorf("average = %g, want 0.75", avg)
	}
	if got := f.SentWithPrefix(":DIG"); len(got) != 1 || got[0] != ":DIG CHAN1" {
		t.Errorf("digitize commands %q", got)
	}
}

func TestChannelRange(t *testing.T) {
	s := New(insttest.New())
	if err := s.SetScale(5, 0.1); err == nil {
		t.Error("channel 5 accepted")
	}
	if _, err := s.Waveform(0); err == nil {
		t.Error("channel 0 accepted")
	}
	if err := s.SetTimebase(0); err == nil {
		t.Error("zero timebase accepted")
	}
}

func TestSetters(t *testing.T) {
	f := insttest.New()
	s := New(f)
	if err := s.SetTimebase(1e-3); err != nil {
		t.Fatal(err)
	}
	if err := s.SetOffset(3, -0.25); err != nil {
		t.Fatal(err)
	}
	want := []string{":TIM:RANG 1.000000E-03", ":CHAN3:OFFS -2.500000E-01"}
	if got := f.Sent(); strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("sent %q, want %q", got, want)
	}
}
