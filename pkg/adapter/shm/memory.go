package shm

import (
	"fmt"
	"sync"

	"github.com/mpapenbr/simcoach/pkg/adapter"
)

// Memory is an in-process set of regions. Simulator bridges and tests
// publish snapshots into it with Write.
type Memory struct {
	mu      sync.Mutex
	regions map[string]*byteRegion
}

func NewMemory() *Memory {
	return &Memory{regions: map[string]*byteRegion{}}
}

// Write replaces the content of region name starting at offset 0.
// The region grows as needed.
func (m *Memory) Write(name string, data []byte) {
	m.mu.Lock()
	r, ok := m.regions[name]
	if !ok {
		r = &byteRegion{}
		m.regions[name] = r
	}
	m.mu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.data) < len(data) {
		grown := make([]byte, len(data))
		copy(grown, r.data)
		r.data = grown
	}
	copy(r.data, data)
}

// Remove drops region name, simulating a simulator shutdown.
func (m *Memory) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.regions, name)
}

func (m *Memory) Open(name string, size int) (Region, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.regions[name]
	if !ok {
		return nil, fmt.Errorf("%w: region %s not found", adapter.ErrTransportUnavailable, name)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.data) < size {
		return nil, fmt.Errorf("%w: region %s has %d bytes, need %d",
			adapter.ErrTransportUnavailable, name, len(r.data), size)
	}
	// views share the backing region but are closed independently
	return &memView{r: r}, nil
}

type memView struct {
	once   sync.Once
	closed bool
	mu     sync.RWMutex
	r      *byteRegion
}

func (v *memView) ReadAt(p []byte, off int64) (int, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return 0, errClosed
	}
	return v.r.ReadAt(p, off)
}

func (v *memView) Size() int {
	return v.r.Size()
}

func (v *memView) Close() error {
	v.once.Do(func() {
		v.mu.Lock()
		v.closed = true
		v.mu.Unlock()
	})
	return nil
}
