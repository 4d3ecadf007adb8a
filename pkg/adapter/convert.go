package adapter

import (
	"math"
	"unicode/utf16"

	"github.com/mpapenbr/simcoach/pkg/model"
)

const (
	standardGravity = 9.80665
	kPaPerPsi       = 6.894757
	absoluteZero    = 273.15
)

// SessionTable maps simulator specific session codes to display names.
type SessionTable map[int32]string

// Lookup returns the name for code or model.SessionUnknown.
func (t SessionTable) Lookup(code int32) string {
	if name, ok := t[code]; ok {
		return name
	}
	return model.SessionUnknown
}

func MillisToSeconds(ms int32) float64 {
	return float64(ms) / 1000
}

func MpsToKmh(v float64) float64 {
	return v * 3.6
}

func MpsSqToG(v float64) float64 {
	return v / standardGravity
}

func KelvinToCelsius(k float64) float64 {
	return k - absoluteZero
}

func KPaToPsi(kpa float64) float64 {
	return kpa / kPaPerPsi
}

// FuelLevel returns amount/capacity clamped to [0,1]; 0 for a non positive
// capacity.
func FuelLevel(amount, capacity float64) float64 {
	if capacity <= 0 {
		return 0
	}
	return Clamp(amount/capacity, 0, 1)
}

// FuelLaps estimates the remaining laps. 0 if no consumption figure is known.
func FuelLaps(amount, perLap float64) int {
	if perLap <= 0 || amount <= 0 {
		return 0
	}
	return int(math.Floor(amount / perLap))
}

func Clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

// Unit clamps to the normalized pedal range.
func Unit(v float64) float64 {
	return Clamp(v, 0, 1)
}

// Magnitude returns the length of a 3d vector.
func Magnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

// CString returns the content of a zero terminated byte buffer.
func CString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// UTF16String decodes a zero terminated UTF-16 buffer as used by the ACC
// shared memory.
func UTF16String(b []uint16) string {
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(utf16.Decode(b))
}
