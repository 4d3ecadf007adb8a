// Package adapter defines the contract between simulator specific telemetry
// readers and the supervisor.
package adapter

import (
	"context"
	"errors"

	"github.com/mpapenbr/simcoach/pkg/model"
)

var (
	// ErrTransportUnavailable is returned by Connect when the simulator is not
	// running or its transport cannot be opened. It is a normal condition.
	ErrTransportUnavailable = errors.New("transport unavailable")
	// ErrMalformedData marks undersized or unparsable input for a single read.
	ErrMalformedData = errors.New("malformed data")
	ErrNotConnected  = errors.New("adapter not connected")
)

// Adapter turns simulator specific transport data into frames.
//
// Connect is idempotent, Disconnect may be called multiple times.
// Poll must not block longer than one tick.
type Adapter interface {
	Name() string
	Game() model.Game
	Connect(ctx context.Context) error
	Poll(ctx context.Context) Result
	Disconnect() error
}

type Status int

const (
	StatusFrame Status = iota
	StatusNoData
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusFrame:
		return "frame"
	case StatusNoData:
		return "no-data"
	case StatusError:
		return "error"
	}
	return "unknown"
}

// Result is the outcome of a single poll.
type Result struct {
	Status Status
	Frame  *model.Frame
	Err    error
}

func FrameResult(f *model.Frame) Result {
	return Result{Status: StatusFrame, Frame: f}
}

func NoData() Result {
	return Result{Status: StatusNoData}
}

func ErrorResult(err error) Result {
	return Result{Status: StatusError, Err: err}
}
