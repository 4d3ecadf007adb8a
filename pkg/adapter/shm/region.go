// Package shm gives read access to named shared memory regions published by
// simulators.
package shm

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/mpapenbr/simcoach/pkg/adapter"
)

var errClosed = errors.New("region closed")

// Region is a read only view on a named shared memory region.
type Region interface {
	io.ReaderAt
	Size() int
	Close() error
}

// Opener opens the region name with at least size bytes.
// A missing region is reported as adapter.ErrTransportUnavailable.
type Opener interface {
	Open(name string, size int) (Region, error)
}

type OpenerFunc func(name string, size int) (Region, error)

func (f OpenerFunc) Open(name string, size int) (Region, error) {
	return f(name, size)
}

// ReadFull reads len(p) bytes at off. A short read is a malformed snapshot.
func ReadFull(r Region, p []byte, off int64) error {
	n, err := r.ReadAt(p, off)
	if n == len(p) {
		return nil
	}
	if err == nil {
		err = io.ErrUnexpectedEOF
	}
	return fmt.Errorf("%w: read %d of %d bytes at %d: %w",
		adapter.ErrMalformedData, n, len(p), off, err)
}

// byteRegion serves reads from a byte slice.
type byteRegion struct {
	mu     sync.RWMutex
	data   []byte
	closed bool
	unmap  func() error
}

func (r *byteRegion) ReadAt(p []byte, off int64) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return 0, errClosed
	}
	if off < 0 || off >= int64(len(r.data)) {
		return 0, io.EOF
	}
	n := copy(p, r.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *byteRegion) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.data)
}

func (r *byteRegion) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if r.unmap != nil {
		return r.unmap()
	}
	return nil
}

// fileName maps a Windows mapping name like Local\acpmf_physics to the file
// name used by shared memory bridges on other platforms.
func fileName(name string) string {
	for _, prefix := range []string{`Local\`, `Global\`} {
		name = strings.TrimPrefix(name, prefix)
	}
	return name
}
