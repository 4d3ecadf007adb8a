package hub

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// ChanSubscriber delivers frames to an in-process channel.
type ChanSubscriber struct {
	id     string
	ch     chan []byte
	mu     sync.Mutex
	closed bool
}

// NewChanSubscriber creates a subscriber with a random id. buffer is the
// channel capacity.
func NewChanSubscriber(buffer int) *ChanSubscriber {
	return &ChanSubscriber{
		id: uuid.NewString(),
		ch: make(chan []byte, buffer),
	}
}

func (s *ChanSubscriber) ID() string { return s.id }

// C is closed when the hub drops the subscriber.
func (s *ChanSubscriber) C() <-chan []byte { return s.ch }

func (s *ChanSubscriber) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	select {
	case s.ch <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *ChanSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}
