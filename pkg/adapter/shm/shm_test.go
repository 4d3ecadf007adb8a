package shm

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mpapenbr/simcoach/pkg/adapter"
)

func TestMemoryRegion(t *testing.T) {
	m := NewMemory()
	_, err := m.Open("acpmf_physics", 4)
	assert.ErrorIs(t, err, adapter.ErrTransportUnavailable)

	m.Write("acpmf_physics", []byte{1, 2, 3, 4})
	_, err = m.Open("acpmf_physics", 8)
	assert.ErrorIs(t, err, adapter.ErrTransportUnavailable, "region too small")

	r, err := m.Open("acpmf_physics", 4)
	assert.NoError(t, err)
	buf := make([]byte, 2)
	assert.NoError(t, ReadFull(r, buf, 2))
	assert.Equal(t, []byte{3, 4}, buf)

	m.Write("acpmf_physics", []byte{9, 9})
	assert.NoError(t, ReadFull(r, buf, 0))
	assert.Equal(t, []byte{9, 9}, buf, "view follows updates")

	err = ReadFull(r, make([]byte, 4), 2)
	assert.ErrorIs(t, err, adapter.ErrMalformedData)

	assert.NoError(t, r.Close())
	assert.NoError(t, r.Close())
	_, err = r.ReadAt(buf, 0)
	assert.Error(t, err)
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "acpmf_static", fileName(`Local\acpmf_static`))
	assert.Equal(t, "$R3E", fileName(`Global\$R3E`))
	assert.Equal(t, "$rFactor2SMMP_Telemetry$", fileName("$rFactor2SMMP_Telemetry$"))
}

func TestFileOpener(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file mappings are opened by name on windows")
	}
	dir := t.TempDir()
	o := NewOpener(dir)
	_, err := o.Open(`Local\acpmf_graphics`, 16)
	assert.ErrorIs(t, err, adapter.ErrTransportUnavailable)

	content := []byte("0123456789abcdef")
	assert.NoError(t, os.WriteFile(filepath.Join(dir, "acpmf_graphics"), content, 0o600))
	_, err = o.Open(`Local\acpmf_graphics`, 32)
	assert.ErrorIs(t, err, adapter.ErrTransportUnavailable)

	r, err := o.Open(`Local\acpmf_graphics`, 16)
	assert.NoError(t, err)
	defer r.Close()
	buf := make([]byte, 6)
	assert.NoError(t, ReadFull(r, buf, 10))
	assert.Equal(t, []byte("abcdef"), buf)
	assert.Equal(t, 16, r.Size())
}
