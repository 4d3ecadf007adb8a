// Package sink defines the persistence contract for telemetry points.
package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mpapenbr/simcoach/pkg/model"
)

const Measurement = "telemetry"

const unknownTag = "unknown"

type Kind string

const (
	KindNone     Kind = "none"
	KindInflux   Kind = "influx"
	KindPostgres Kind = "postgres"
	KindNATS     Kind = "nats"
)

var ErrUnknownKind = errors.New("unknown sink kind")

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case KindNone, KindInflux, KindPostgres, KindNATS:
		return k, nil
	case "":
		return KindNone, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Sink receives one point per published frame.
type Sink interface {
	Write(ctx context.Context, p Point) error
	Close() error
}

// Point is the persistable projection of a frame.
type Point struct {
	Measurement string             `json:"measurement"`
	Tags        map[string]string  `json:"tags"`
	Fields      map[string]float64 `json:"fields"`
	Time        time.Time          `json:"time"`
}

// FieldKeys lists the point fields in a stable order.
var FieldKeys = []string{
	"speed", "rpm", "gear", "throttle", "brake", "steering",
	"tire_temp_fl", "tire_temp_fr", "tire_temp_rl", "tire_temp_rr",
	"tire_pressure_fl", "tire_pressure_fr", "tire_pressure_rl", "tire_pressure_rr",
	"brake_temp_fl", "brake_temp_fr", "brake_temp_rl", "brake_temp_rr",
	"g_lateral", "g_longitudinal",
	"fuel_level", "lap_time", "lap_distance",
}

// TagKeys lists the point tags in a stable order.
var TagKeys = []string{"game", "session_type", "track", "car"}

func tag(v string) string {
	if v == "" {
		return unknownTag
	}
	return v
}

func FromFrame(f *model.Frame) Point {
	return Point{
		Measurement: Measurement,
		Tags: map[string]string{
			"game":         tag(string(f.Game)),
			"session_type": tag(f.SessionType),
			"track":        tag(f.TrackName),
			"car":          tag(f.CarName),
		},
		Fields: map[string]float64{
			"speed":            f.Speed,
			"rpm":              float64(f.RPM),
			"gear":             float64(f.Gear),
			"throttle":         f.Throttle,
			"brake":            f.Brake,
			"steering":         f.Steering,
			"tire_temp_fl":     f.TireTempFL,
			"tire_temp_fr":     f.TireTempFR,
			"tire_temp_rl":     f.TireTempRL,
			"tire_temp_rr":     f.TireTempRR,
			"tire_pressure_fl": f.TirePressureFL,
			"tire_pressure_fr": f.TirePressureFR,
			"tire_pressure_rl": f.TirePressureRL,
			"tire_pressure_rr": f.TirePressureRR,
			"brake_temp_fl":    f.BrakeTempFL,
			"brake_temp_fr":    f.BrakeTempFR,
			"brake_temp_rl":    f.BrakeTempRL,
			"brake_temp_rr":    f.BrakeTempRR,
			"g_lateral":        f.GForceLateral,
			"g_longitudinal":   f.GForceLongitudinal,
			"fuel_level":       f.FuelLevel,
			"lap_time":         f.LapTime,
			"lap_distance":     f.LapDistance,
		},
		Time: f.Timestamp,
	}
}

// InfluxFields returns the fields with rpm and gear as integers.
func (p Point) InfluxFields() map[string]any {
	ret := make(map[string]any, len(p.Fields))
	for k, v := range p.Fields {
		switch k {
		case "rpm", "gear":
			ret[k] = int64(v)
		default:
			ret[k] = v
		}
	}
	return ret
}

// Discard drops every point.
type Discard struct{}

func (Discard) Write(context.Context, Point) error { return nil }
func (Discard) Close() error                       { return nil }
