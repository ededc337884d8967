//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// fakeDriver emulates the streaming requests of a vb2 driver. Buffers are
// completed in the order they were queued.
type fakeDriver struct {
	file   int
	grant  uint32 // buffers allocated per request; 0 echoes the request
	length uint32

	ops       []string
	queue     []Buffer
	streaming bool
	sequence  uint32

	failQuery   int // index whose query fails; -1 for none
	stall       int // number of dequeues answered with EAGAIN
	bogusIndex  *uint32
	captureUsed uint32
}

func newFakeDriver(length uint32) *fakeDriver {
	return &fakeDriver{file: -1, length: length, failQuery: -1, captureUsed: length / 2}
}

func (d *fakeDriver) record(format string, args ...any) {
	d.ops = append(d.ops, fmt.Sprintf(format, args...))
}

func (d *fakeDriver) count(op string) int {
	n := 0
	for _, o := range d.ops {
		if o == op {
			n++
		}
	}
	return n
}

func (d *fakeDriver) opsSince(mark int) []string {
	return append([]string(nil), d.ops[mark:]...)
}

func (d *fakeDriver) fd() int { return d.file }

func (d *fakeDriver) requestBuffers(_ BufferType, _ Memory, count uint32) (uint32, error) {
	d.record("reqbufs %d", count)
	if count == 0 {
		d.queue = nil
		return 0, nil
	}
	if d.grant != 0 {
		return d.grant, nil
	}
	return count, nil
}

func (d *fakeDriver) queryBuffer(typ BufferType, mem Memory, index uint32) (Buffer, error) {
	d.record("querybuf %d", index)
	if int(index) == d.failQuery {
		return Buffer{}, &IoctlError{Op: "VIDIOC_QUERYBUF", Errno: unix.EINVAL}
	}
	b := Buffer{Index: index, Type: typ, Memory: mem, Length: d.length}
	if mem == MemoryMmap {
		b.Offset = index * d.length
	}
	return b, nil
}

func (d *fakeDriver) queueBuffer(buf *Buffer) error {
	d.record("qbuf %d", buf.Index)
	for _, q := range d.queue {
		if q.Index == buf.Index {
			return &IoctlError{Op: "VIDIOC_QBUF", Errno: unix.EINVAL}
		}
	}
	buf.Flags |= BufFlagQueued
	d.queue = append(d.queue, *buf)
	return nil
}

func (d *fakeDriver) dequeueBuffer(typ BufferType, mem Memory) (Buffer, error) {
	d.record("dqbuf")
	if d.stall > 0 {
		d.stall--
		return Buffer{}, &IoctlError{Op: "VIDIOC_DQBUF", Errno: unix.EAGAIN}
	}
	if d.bogusIndex != nil {
		return Buffer{Index: *d.bogusIndex, Type: typ, Memory: mem, Length: d.length}, nil
	}
	if !d.streaming || len(d.queue) == 0 {
		return Buffer{}, &IoctlError{Op: "VIDIOC_DQBUF", Errno: unix.EAGAIN}
	}
	b := d.queue[0]
	d.queue = d.queue[1:]
	b.Flags = (b.Flags &^ BufFlagQueued) | BufFlagDone
	b.Sequence = d.sequence
	d.sequence++
	if !typ.IsOutput() {
		b.BytesUsed = d.captureUsed
	}
	return b, nil
}

func (d *fakeDriver) streamOn(BufferType) error {
	d.record("streamon")
	d.streaming = true
	return nil
}

func (d *fakeDriver) streamOff(BufferType) error {
	d.record("streamoff")
	d.streaming = false
	d.queue = nil
	return nil
}

// fakeMemory backs buffers with heap memory and records its calls.
type fakeMemory struct {
	mem      Memory
	failAt   int
	inits    []uint32
	releases []uint32
}

func newFakeMemory(mem Memory) *fakeMemory {
	return &fakeMemory{mem: mem, failAt: -1}
}

func (m *fakeMemory) Memory() Memory { return m.mem }

func (m *fakeMemory) Init(desc *Buffer, _ int) ([]byte, error) {
	if int(desc.Index) == m.failAt {
		return nil, errors.New("out of memory")
	}
	m.inits = append(m.inits, desc.Index)
	return make([]byte, desc.Length), nil
}

func (m *fakeMemory) Release(desc *Buffer, _ []byte) error {
	m.releases = append(m.releases, desc.Index)
	return nil
}

func (m *fakeMemory) Attach(desc *Buffer, region []byte) {
	if m.mem == MemoryUserPtr {
		desc.UserPtr = uintptr(unsafe.Pointer(&region[0]))
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func joinOps(ops []string) string {
	return strings.Join(ops, ", ")
}
