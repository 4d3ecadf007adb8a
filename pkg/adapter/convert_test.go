package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/simcoach/pkg/model"
)

func TestFuelLevel(t *testing.T) {
	tests := []struct {
		name     string
		amount   float64
		capacity float64
		want     float64
	}{
		{"half", 60, 120, 0.5},
		{"zero capacity", 60, 0, 0},
		{"negative capacity", 60, -1, 0},
		{"overfilled", 130, 120, 1},
		{"empty", 0, 120, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, FuelLevel(tt.amount, tt.capacity), 1e-9)
		})
	}
}

func TestFuelLaps(t *testing.T) {
	assert.Equal(t, 21, FuelLaps(60, 2.8))
	assert.Equal(t, 0, FuelLaps(60, 0))
	assert.Equal(t, 0, FuelLaps(0, 2.8))
}

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, 1.5, MillisToSeconds(1500), 1e-9)
	assert.InDelta(t, 180, MpsToKmh(50), 1e-9)
	assert.InDelta(t, 1, MpsSqToG(9.80665), 1e-9)
	assert.InDelta(t, 26.85, KelvinToCelsius(300), 1e-9)
	assert.InDelta(t, 27.5, KPaToPsi(189.6058), 1e-3)
	assert.InDelta(t, 5, Magnitude(3, 4, 0), 1e-9)
}

func TestSessionTableLookup(t *testing.T) {
	table := SessionTable{0: "Practice", 2: "Race"}
	assert.Equal(t, "Race", table.Lookup(2))
	assert.Equal(t, model.SessionUnknown, table.Lookup(42))
	assert.Equal(t, model.SessionUnknown, table.Lookup(-1))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "spa", CString([]byte{'s', 'p', 'a', 0, 'x'}))
	assert.Equal(t, "monza", CString([]byte("monza")))
	assert.Equal(t, "Spa", UTF16String([]uint16{'S', 'p', 'a', 0, 'x'}))
}

func TestResultConstructors(t *testing.T) {
	f := &model.Frame{}
	assert.Equal(t, StatusFrame, FrameResult(f).Status)
	assert.Same(t, f, FrameResult(f).Frame)
	assert.Equal(t, StatusNoData, NoData().Status)
	r := ErrorResult(ErrMalformedData)
	assert.Equal(t, StatusError, r.Status)
	assert.ErrorIs(t, r.Err, ErrMalformedData)
	assert.Equal(t, "no-data", StatusNoData.String())
}
