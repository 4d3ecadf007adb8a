package log

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(buf, InfoLevel).Named("hub")
	l.Debug("hidden")
	l.Info("published", String("game", "Demo Mode"), Int("subscribers", 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 1)
	var rec map[string]any
	assert.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "published", rec["msg"])
	assert.Equal(t, "hub", rec["logger"])
	assert.Equal(t, "Demo Mode", rec["game"])
	assert.InDelta(t, 2, rec["subscribers"], 0)
}

func TestSetLevelAffectsDerived(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(buf, InfoLevel)
	child := l.Named("supervisor")
	child.Debug("first")
	l.SetLevel(DebugLevel)
	child.Debug("second")
	assert.NotContains(t, buf.String(), "first")
	assert.Contains(t, buf.String(), "second")
}

func TestWithFilter(t *testing.T) {
	buf := &bytes.Buffer{}
	base := New(buf, DebugLevel)
	l, err := base.WithFilter("info+:* debug+:supervisor")
	assert.NoError(t, err)
	l.Named("hub").Debug("hub-debug")
	l.Named("supervisor").Debug("supervisor-debug")
	assert.NotContains(t, buf.String(), "hub-debug")
	assert.Contains(t, buf.String(), "supervisor-debug")
}

func TestGetFromContext(t *testing.T) {
	l := New(&bytes.Buffer{}, InfoLevel)
	ctx := AddToContext(t.Context(), l)
	assert.Same(t, l, GetFromContext(ctx))
	assert.Same(t, Default(), GetFromContext(t.Context()))
}

func TestSampled(t *testing.T) {
	buf := &bytes.Buffer{}
	l := New(buf, InfoLevel).Sampled(time.Hour, 2)
	for range 5 {
		l.Warn("sink write failed")
	}
	l.Warn("other")
	assert.Equal(t, 2, strings.Count(buf.String(), "sink write failed"))
	assert.Contains(t, buf.String(), "other")
}
