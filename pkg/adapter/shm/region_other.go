//go:build !unix && !windows

package shm

import (
	"fmt"

	"github.com/mpapenbr/simcoach/pkg/adapter"
)

func NewOpener(_ string) Opener {
	return OpenerFunc(func(name string, _ int) (Region, error) {
		return nil, fmt.Errorf("%w: shared memory not supported on this platform",
			adapter.ErrTransportUnavailable)
	})
}
