// Package influx writes telemetry points to InfluxDB 2.
package influx

import (
	"context"
	"errors"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/mpapenbr/simcoach/pkg/sink"
)

var ErrMissingBucket = errors.New("influx bucket not configured")

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type Sink struct {
	client influxdb2.Client
	write  api.WriteAPIBlocking
}

var _ sink.Sink = (*Sink)(nil)

func New(cfg Config) (*Sink, error) {
	if cfg.Bucket == "" {
		return nil, ErrMissingBucket
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPRequestTimeout(5))
	return &Sink{
		client: client,
		write:  client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
	}, nil
}

// Ping reports whether the server is reachable.
func (s *Sink) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("influx server not ready")
	}
	return nil
}

func (s *Sink) Write(ctx context.Context, p sink.Point) error {
	return s.write.WritePoint(ctx,
		influxdb2.NewPoint(p.Measurement, p.Tags, p.InfluxFields(), p.Time))
}

func (s *Sink) Close() error {
	s.client.Close()
	return nil
}
