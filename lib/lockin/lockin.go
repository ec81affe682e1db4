// Package lockin drives a Stanford Research SR830-class lock-in amplifier.
package lockin

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gotmc/mmwave"
	"github.com/gotmc/query"
	"github.com/pkg/errors"
)

// Lockin is a lock-in amplifier.
type Lockin struct {
	h mmwave.Handle
}

// New returns a lock-in talking over h.
func New(h mmwave.Handle) *Lockin {
	return &Lockin{h: h}
}

// Handle returns the underlying connection.
func (l *Lockin) Handle() mmwave.Handle { return l.h }

func (l *Lockin) ID() (string, error) {
	return query.String(l.h, "*IDN?")
}

func (l *Lockin) sendf(format string, a ...any) error {
	cmd := fmt.Sprintf(format, a...)
	return errors.Wrapf(l.h.Send(cmd), "lockin: %s", cmd)
}

func (l *Lockin) queryInt(cmd string) (int, error) {
	v, err := query.Int(l.h, cmd)
	return v, errors.Wrapf(err, "lockin: %s", cmd)
}

func (l *Lockin) queryFloat(cmd string) (float64, error) {
	v, err := query.Float64(l.h, cmd)
	return v, errors.Wrapf(err, "lockin: %s", cmd)
}

// SetSensitivity selects the full-scale sensitivity by table index.
func (l *Lockin) SetSensitivity(idx int) error {
	if _, err := SensitivityValue(idx); err != nil {
		return errors.Wrap(err, "lockin")
	}
	return l.sendf("SENS %d", idx)
}

// Sensitivity returns the current sensitivity index.
func (l *Lockin) Sensitivity() (int, error) {
	return l.queryInt("SENS?")
}

// SetTimeConstant selects the output time constant by table index.
func (l *Lockin) SetTimeConstant(idx int) error {
	if _, err := TimeConstantValue(idx); err != nil {
		return errors.Wrap(err, "lockin")
	}
	return l.sendf("OFLT %d", idx)
}

// TimeConstant returns the current time constant index.
func (l *Lockin) TimeConstant() (int, error) {
	return l.queryInt("OFLT?")
}

// SetSlope sets the filter roll-off in dB/octave.
func (l *Lockin) SetSlope(dbPerOct int) error {
	idx, err := SlopeIndex(dbPerOct)
	if err != nil {
		return errors.Wrap(err, "lockin")
	}
	return l.sendf("OFSL %d", idx)
}

// Slope returns the filter roll-off in dB/octave.
func (l *Lockin) Slope() (int, error) {
	idx, err := l.queryInt("OFSL?")
	if err != nil {
		return 0, err
	}
	if idx < 0 || idx >= len(Slopes) {
		return 0, errors.Errorf("lockin: invalid slope index %d", idx)
	}
	return Slopes[idx], nil
}

// SetHarmonic sets the detection harmonic (1-19999).
func (l *Lockin) SetHarmonic(n int) error {
	if n < 1 || n > 19999 {
		return errors.Errorf("lockin: harmonic %d outside 1-19999", n)
	}
	return l.sendf("HARM %d", n)
}

// Harmonic returns the detection harmonic.
func (l *Lockin) Harmonic() (int, error) {
	return l.queryInt("HARM?")
}

// SetPhase sets the reference phase shift in degrees, folded into
// [-180, 180) by WrapPhase.
func (l *Lockin) SetPhase(deg float64) error {
	deg = WrapPhase(deg)
	return l.sendf("PHAS %s", strconv.FormatFloat(deg, 'f', 2, 64))
}

// Phase returns the reference phase shift in degrees.
func (l *Lockin) Phase() (float64, error) {
	return l.queryFloat("PHAS?")
}

// WrapPhase folds deg into [-180, 180), which is within the SR830 range.
func WrapPhase(deg float64) float64 {
	deg = math.Mod(deg+180, 360)
	if deg < 0 {
		deg += 360
	}
	return deg - 180
}

// Coupling is the input coupling.
type Coupling int

const (
	AC Coupling = iota
	DC
)

// SetCoupling selects AC or DC input coupling.
func (l *Lockin) SetCoupling(c Coupling) error {
	if c != AC && c != DC {
		return errors.Errorf("lockin: invalid coupling %d", int(c))
	}
	return l.sendf("ICPL %d", int(c))
}

// Reserve is the dynamic reserve mode.
type Reserve int

const (
	HighReserve Reserve = iota
	NormalReserve
	LowNoise
)

// SetReserve selects the dynamic reserve mode.
func (l *Lockin) SetReserve(r Reserve) error {
	if r < HighReserve || r > LowNoise {
		return errors.Errorf("lockin: invalid reserve %d", int(r))
	}
	return l.sendf("RMOD %d", int(r))
}

// X returns the in-phase output in volts.
func (l *Lockin) X() (float64, error) { return l.queryFloat("OUTP? 1") }

// Y returns the quadrature output in volts.
func (l *Lockin) Y() (float64, error) { return l.queryFloat("OUTP? 2") }

// R returns the magnitude in volts.
func (l *Lockin) R() (float64, error) { return l.queryFloat("OUTP? 3") }

// Theta returns the phase in degrees.
func (l *Lockin) Theta() (float64, error) { return l.queryFloat("OUTP? 4") }

// XY reads X and Y at the same instant.
func (l *Lockin) XY() (x, y float64, err error) {
	r, err := l.h.Query("SNAP? 1,2")
	if err != nil {
		return 0, 0, errors.Wrap(err, "lockin: SNAP?")
	}
	parts := strings.Split(r, ",")
	if len(parts) != 2 {
		return 0, 0, errors.Errorf("lockin: malformed SNAP? reply %q", r)
	}
	if x, err = strconv.ParseFloat(strings.TrimSpace(parts[0]), 64); err != nil {
		return 0, 0, errors.Wrap(err, "lockin: SNAP? X")
	}
	if y, err = strconv.ParseFloat(strings.TrimSpace(parts[1]), 64); err != nil {
		return 0, 0, errors.Wrap(err, "lockin: SNAP? Y")
	}
	return x, y, nil
}

// AutoGain starts the auto gain function.
func (l *Lockin) AutoGain() error { return l.sendf("AGAN") }

// AutoPhase starts the auto phase function.
func (l *Lockin) AutoPhase() error { return l.sendf("APHS") }

// Overload flags from the LIA status byte.
type Overload int

const (
	InputOverload  Overload = 1 << 0
	FilterOverload Overload = 1 << 1
	OutputOverload Overload = 1 << 2
)

func (o Overload) Error() string {
	var parts []string
	if o&InputOverload != 0 {
		parts = append(parts, "input")
	}
	if o&FilterOverload != 0 {
		parts = append(parts, "filter")
	}
	if o&OutputOverload != 0 {
		parts = append(parts, "output")
	}
	return "lockin: overload (" + strings.Join(parts, ", ") + ")"
}

// Overloaded returns an Overload error when any overload bit is set and nil
// otherwise. The status bits are cleared by reading them.
func (l *Lockin) Overloaded() error {
	st, err := l.queryInt("LIAS?")
	if err != nil {
		return err
	}
	if o := Overload(st) & (InputOverload | FilterOverload | OutputOverload); o != 0 {
		return o
	}
	return nil
}

// Settle returns how long the output needs after a step for the current
// time constant and slope.
func Settle(tauIdx, dbPerOct int) (time.Duration, error) {
	tau, err := TimeConstantValue(tauIdx)
	if err != nil {
		return 0, err
	}
	return time.Duration(float64(tau) * SettleFactor(dbPerOct)), nil
}
