package utils

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFromDBURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"postgresql://user:pw@db:5433/simcoach", "db:5433"},
		{"postgresql://user:pw@db/simcoach", "db:5432"},
		{"postgres://db:6000/simcoach?sslmode=disable", "db:6000"},
		{"postgresql://user@localhost", "localhost:5432"},
		{"mysql://db:3306/x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFromDBURL(tt.url))
		})
	}
}

func TestExtractFromNatsURL(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"nats://localhost:4223", "localhost:4223"},
		{"nats://nats", "nats:4222"},
		{"tls://user:pw@broker:4443", "broker:4443"},
		{"nats://a:4222,nats://b:4222", "a:4222"},
		{"http://nats:4222", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, ExtractFromNatsURL(tt.url))
		})
	}
}

func TestWaitForTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	assert.NoError(t, WaitForTCP(context.Background(), l.Addr().String(), time.Second))

	addr := l.Addr().String()
	l.Close()
	assert.Error(t, WaitForTCP(context.Background(), addr, 300*time.Millisecond))
}

func TestWaitForHTTPResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	assert.NoError(t, WaitForHTTPResponse(context.Background(), srv.URL, time.Second))
	url := srv.URL
	srv.Close()
	assert.Error(t, WaitForHTTPResponse(context.Background(), url, 300*time.Millisecond))
}
