package certs

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReloaderPicksUpNewPair(t *testing.T) {
	dir := t.TempDir()
	src := Source{
		CertFile: filepath.Join(dir, "tls.crt"),
		KeyFile:  filepath.Join(dir, "tls.key"),
	}
	certPEM, keyPEM := selfSigned(t)
	require.NoError(t, os.WriteFile(src.CertFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(src.KeyFile, keyPEM, 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r, err := NewReloader(ctx, src)
	require.NoError(t, err)
	first := r.Certificate().Certificate[0]

	cfg := r.TLSConfig()
	got, err := cfg.GetCertificate(nil)
	require.NoError(t, err)
	assert.Equal(t, first, got.Certificate[0])

	certPEM, keyPEM = selfSigned(t)
	require.NoError(t, os.WriteFile(src.CertFile, certPEM, 0o600))
	require.NoError(t, os.WriteFile(src.KeyFile, keyPEM, 0o600))

	assert.Eventually(t, func() bool {
		return !bytes.Equal(first, r.Certificate().Certificate[0])
	}, 2*time.Second, 10*time.Millisecond)
}

func TestReloaderNeedsValidSource(t *testing.T) {
	_, err := NewReloader(context.Background(), Source{})
	assert.Error(t, err)

	_, err = NewReloader(context.Background(), Source{
		CertFile: filepath.Join(t.TempDir(), "missing.crt"),
		KeyFile:  filepath.Join(t.TempDir(), "missing.key"),
	})
	assert.Error(t, err)
}
