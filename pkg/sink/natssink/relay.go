package natssink

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
)

var errRelayClosed = errors.New("relay closed")

// Relay is a hub subscriber forwarding serialized frames to one subject.
type Relay struct {
	id      string
	pub     Publisher
	subject string
	closed  atomic.Bool
}

func NewRelay(pub Publisher, subject string) *Relay {
	return &Relay{id: "nats-" + uuid.NewString(), pub: pub, subject: subject}
}

func (r *Relay) ID() string { return r.id }

func (r *Relay) Send(_ context.Context, data []byte) error {
	if r.closed.Load() {
		return errRelayClosed
	}
	return r.pub.Publish(r.subject, data)
}

// Close stops forwarding. The connection stays open.
func (r *Relay) Close() error {
	r.closed.Store(true)
	return nil
}
