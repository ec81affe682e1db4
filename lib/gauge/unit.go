package gauge

import (
	"fmt"
	"strings"
)

// Unit is a pressure unit, numbered as the UNI command numbers them.
type Unit int

const (
	Mbar Unit = iota
	Torr
	Pascal
)

func (u Unit) String() string {
	switch u {
	case Mbar:
		return "mbar"
	case Torr:
		return "Torr"
	case Pascal:
		return "Pa"
	}
	return fmt.Sprintf("Unit(%d)", int(u))
}

// ParseUnit accepts "mbar", "torr" or "pa" in any case.
func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mbar":
		return Mbar, nil
	case "torr":
		return Torr, nil
	case "pa":
		return Pascal, nil
	}
	return 0, fmt.Errorf("invalid pressure unit %q", s)
}

// pascals per unit
var toPascal = map[Unit]float64{
	Mbar:   100,
	Torr:   101325.0 / 760,
	Pascal: 1,
}

// Convert converts p from one unit to another.
func Convert(p float64, from, to Unit) float64 {
	if from == to {
		return p
	}
	return p * toPascal[from] / toPascal[to]
}
