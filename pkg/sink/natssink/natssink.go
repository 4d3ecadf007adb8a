// Package natssink publishes telemetry points and live frames on NATS.
package natssink

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/nats-io/nats.go"

	"github.com/mpapenbr/simcoach/log"
	"github.com/mpapenbr/simcoach/pkg/sink"
)

// Publisher is the part of *nats.Conn used here.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// Sink publishes each point as JSON on <prefix>.<game>.
type Sink struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
}

var _ sink.Sink = (*Sink)(nil)

// Connect opens a connection to url. The connection is closed with the sink.
func Connect(url, prefix string, l *log.Logger) (*Sink, error) {
	conn, err := nats.Connect(url,
		nats.Name("simcoach"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("nats disconnected", log.ErrorField(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info("nats reconnected", log.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to nats at %s: %w", url, err)
	}
	ret := New(conn, prefix)
	ret.conn = conn
	return ret, nil
}

func New(pub Publisher, prefix string) *Sink {
	return &Sink{pub: pub, prefix: prefix}
}

// Conn returns the underlying connection if the sink created it.
func (s *Sink) Conn() *nats.Conn {
	return s.conn
}

func (s *Sink) Subject(game string) string {
	return s.prefix + "." + SubjectToken(game)
}

func (s *Sink) Write(_ context.Context, p sink.Point) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return s.pub.Publish(s.Subject(p.Tags["game"]), data)
}

func (s *Sink) Close() error {
	if s.conn != nil {
		return s.conn.Drain()
	}
	return nil
}

// SubjectToken turns v into a single lower case subject token.
func SubjectToken(v string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(strings.TrimSpace(v)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			b.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && b.Len() > 0 {
			b.WriteByte('_')
			underscore = true
		}
	}
	ret := strings.TrimSuffix(b.String(), "_")
	if ret == "" {
		return "unknown"
	}
	return ret
}
