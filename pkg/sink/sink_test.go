package sink

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"gotest.tools/v3/assert"

	"github.com/mpapenbr/simcoach/pkg/model"
)

func TestFromFrame(t *testing.T) {
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	f := &model.Frame{
		Timestamp:          ts,
		Game:               model.GameACC,
		SessionType:        "Race",
		TrackName:          "monza",
		Speed:              212.5,
		RPM:                7400,
		Gear:               -1,
		Throttle:           0.8,
		TireTempFL:         85,
		TirePressureRR:     27.5,
		BrakeTempRL:        410,
		GForceLateral:      1.2,
		GForceLongitudinal: -0.4,
		FuelLevel:          0.5,
		LapTime:            61.2,
		LapDistance:        0.4,
	}
	p := FromFrame(f)
	assert.Equal(t, Measurement, p.Measurement)
	assert.Equal(t, ts, p.Time)
	assert.DeepEqual(t, map[string]string{
		"game": string(model.GameACC), "session_type": "Race", "track": "monza", "car": "unknown",
	}, p.Tags)
	assert.Equal(t, len(FieldKeys), len(p.Fields))
	for _, k := range FieldKeys {
		_, ok := p.Fields[k]
		assert.Assert(t, ok, "missing field %s", k)
	}
	assert.Equal(t, 212.5, p.Fields["speed"])
	assert.Equal(t, -1.0, p.Fields["gear"])
	assert.Equal(t, 27.5, p.Fields["tire_pressure_rr"])
	assert.Equal(t, -0.4, p.Fields["g_longitudinal"])

	fields := p.InfluxFields()
	assert.Equal(t, int64(7400), fields["rpm"])
	assert.Equal(t, int64(-1), fields["gear"])
	assert.Equal(t, 0.8, fields["throttle"])
}

func TestFromFrameTagsDefault(t *testing.T) {
	p := FromFrame(&model.Frame{})
	if diff := cmp.Diff(map[string]string{
		"game": "unknown", "session_type": "unknown", "track": "unknown", "car": "unknown",
	}, p.Tags); diff != "" {
		t.Errorf("tags mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, len(TagKeys), len(p.Tags))
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"", KindNone, false},
		{"none", KindNone, false},
		{"Influx", KindInflux, false},
		{" postgres ", KindPostgres, false},
		{"nats", KindNATS, false},
		{"kafka", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKind(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnknownKind)
				return
			}
			assert.NilError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
