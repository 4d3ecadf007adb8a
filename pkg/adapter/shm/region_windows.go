//go:build windows

package shm

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/mpapenbr/simcoach/pkg/adapter"
)

var (
	kernel32             = windows.NewLazySystemDLL("kernel32.dll")
	procOpenFileMappingW = kernel32.NewProc("OpenFileMappingW")
)

// NewOpener returns an opener for named file mappings. dir is ignored.
func NewOpener(_ string) Opener {
	return mappingOpener{}
}

type mappingOpener struct{}

func (mappingOpener) Open(name string, size int) (Region, error) {
	namePtr, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, err
	}
	h, _, callErr := procOpenFileMappingW.Call(
		uintptr(windows.FILE_MAP_READ), 0, uintptr(unsafe.Pointer(namePtr)))
	if h == 0 {
		return nil, fmt.Errorf("%w: %s: %w", adapter.ErrTransportUnavailable, name, callErr)
	}
	handle := windows.Handle(h)
	addr, err := windows.MapViewOfFile(handle, windows.FILE_MAP_READ, 0, 0, uintptr(size))
	if err != nil {
		_ = windows.CloseHandle(handle)
		return nil, fmt.Errorf("%w: map %s: %w", adapter.ErrTransportUnavailable, name, err)
	}
	//nolint:govet // address returned by MapViewOfFile
	data := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	return &byteRegion{data: data, unmap: func() error {
		return errors.Join(windows.UnmapViewOfFile(addr), windows.CloseHandle(handle))
	}}, nil
}
