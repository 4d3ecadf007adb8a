// Package pgsink stores telemetry points in postgres.
package pgsink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stephenafamo/bob"
	"github.com/stephenafamo/bob/dialect/psql"
	"github.com/stephenafamo/bob/dialect/psql/im"

	"github.com/mpapenbr/simcoach/pkg/sink"
)

const Table = "telemetry_point"

var columns = []string{
	"run_id", "ts", "measurement", "game", "session_type", "track", "car", "fields",
}

// Sink writes one row per point. All rows of a process run share a run id.
type Sink struct {
	pool     *pgxpool.Pool
	sqlDB    *sql.DB
	db       bob.DB
	runID    uuid.UUID
	ownsPool bool
}

var _ sink.Sink = (*Sink)(nil)

type Option func(*Sink)

// WithOwnedPool closes the pool when the sink is closed.
func WithOwnedPool() Option {
	return func(s *Sink) {
		s.ownsPool = true
	}
}

func WithRunID(id uuid.UUID) Option {
	return func(s *Sink) {
		s.runID = id
	}
}

func New(pool *pgxpool.Pool, opts ...Option) (*Sink, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	ret := &Sink{pool: pool, sqlDB: sqlDB, db: bob.NewDB(sqlDB)}
	for _, opt := range opts {
		opt(ret)
	}
	if ret.runID.IsNil() {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("cannot create run id: %w", err)
		}
		ret.runID = id
	}
	return ret, nil
}

func (s *Sink) RunID() uuid.UUID {
	return s.runID
}

func (s *Sink) Write(ctx context.Context, p sink.Point) error {
	_, err := psql.Insert(
		im.Into(Table, columns...),
		im.Values(psql.Arg(
			s.runID,
			p.Time,
			p.Measurement,
			p.Tags["game"],
			p.Tags["session_type"],
			p.Tags["track"],
			p.Tags["car"],
			p.Fields,
		)),
	).Exec(ctx, s.db)
	return err
}

func (s *Sink) Close() error {
	err := s.sqlDB.Close()
	if s.ownsPool {
		s.pool.Close()
	}
	return err
}
