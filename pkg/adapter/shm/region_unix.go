//go:build unix

package shm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/mpapenbr/simcoach/pkg/adapter"
)

// NewOpener returns an opener mapping files below dir (usually /dev/shm),
// where Wine/Proton bridges expose the simulator's mappings.
func NewOpener(dir string) Opener {
	return fileOpener{dir: dir}
}

type fileOpener struct {
	dir string
}

func (o fileOpener) Open(name string, size int) (Region, error) {
	path := filepath.Join(o.dir, fileName(name))
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s not found", adapter.ErrTransportUnavailable, path)
		}
		return nil, fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", adapter.ErrTransportUnavailable, err)
	}
	if st.Size() < int64(size) {
		return nil, fmt.Errorf("%w: %s has %d bytes, need %d",
			adapter.ErrTransportUnavailable, path, st.Size(), size)
	}
	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("%w: mmap %s: %w", adapter.ErrTransportUnavailable, path, err)
	}
	return &byteRegion{data: data, unmap: func() error { return unix.Munmap(data) }}, nil
}
