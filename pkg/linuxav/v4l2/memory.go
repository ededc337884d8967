//go:build linux

package v4l2

import (
	"fmt"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// MemoryStrategy decides how the backing memory of a buffer is obtained,
// handed to the driver and given back. A pool uses one strategy for its
// whole lifetime.
type MemoryStrategy interface {
	// Memory is the kernel memory type sent with every buffer request.
	Memory() Memory
	// Init returns the memory region for a freshly queried buffer.
	Init(desc *Buffer, fd int) ([]byte, error)
	// Release frees a region returned by Init. It is called once per buffer.
	Release(desc *Buffer, region []byte) error
	// Attach updates desc to point at region before it is queued.
	Attach(desc *Buffer, region []byte)
}

// MmapMemory maps driver-allocated buffers into the process.
type MmapMemory struct{}

// UserPtrMemory hands page-aligned process memory to the driver by address.
type UserPtrMemory struct{}

// Memory strategies.
var (
	Mmap    MemoryStrategy = MmapMemory{}
	UserPtr MemoryStrategy = UserPtrMemory{}
)

// ParseMemory returns the strategy for "mmap" or "userptr".
func ParseMemory(name string) (MemoryStrategy, error) {
	switch strings.ToLower(name) {
	case "mmap", "":
		return Mmap, nil
	case "userptr":
		return UserPtr, nil
	}
	return nil, fmt.Errorf("unknown memory type %q (expected mmap or userptr)", name)
}

func (MmapMemory) Memory() Memory { return MemoryMmap }

func (MmapMemory) Init(desc *Buffer, fd int) ([]byte, error) {
	if desc.Length == 0 {
		return nil, fmt.Errorf("mmap buffer %d: driver reported zero length", desc.Index)
	}
	region, err := unix.Mmap(fd, int64(desc.Offset), int(desc.Length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap buffer %d (offset %#x, length %d): %w",
			desc.Index, desc.Offset, desc.Length, err)
	}
	return region, nil
}

func (MmapMemory) Release(desc *Buffer, region []byte) error {
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("munmap buffer %d: %w", desc.Index, err)
	}
	return nil
}

func (MmapMemory) Attach(*Buffer, []byte) {}

func (UserPtrMemory) Memory() Memory { return MemoryUserPtr }

func (UserPtrMemory) Init(desc *Buffer, _ int) ([]byte, error) {
	if desc.Length == 0 {
		return nil, fmt.Errorf("userptr buffer %d: driver reported zero length", desc.Index)
	}
	region, err := unix.Mmap(-1, 0, int(desc.Length),
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("allocate userptr buffer %d (length %d): %w", desc.Index, desc.Length, err)
	}
	return region, nil
}

func (UserPtrMemory) Release(desc *Buffer, region []byte) error {
	if err := unix.Munmap(region); err != nil {
		return fmt.Errorf("free userptr buffer %d: %w", desc.Index, err)
	}
	return nil
}

func (UserPtrMemory) Attach(desc *Buffer, region []byte) {
	desc.UserPtr = uintptr(unsafe.Pointer(&region[0]))
	desc.Length = uint32(len(region))
}
