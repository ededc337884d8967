//go:build linux

package v4l2

import "unsafe"

// driver is the streaming I/O request surface of one open descriptor.
// The buffer pool talks only to this interface.
type driver interface {
	fd() int
	requestBuffers(typ BufferType, mem Memory, count uint32) (uint32, error)
	queryBuffer(typ BufferType, mem Memory, index uint32) (Buffer, error)
	queueBuffer(buf *Buffer) error
	dequeueBuffer(typ BufferType, mem Memory) (Buffer, error)
	streamOn(typ BufferType) error
	streamOff(typ BufferType) error
}

// fdDriver issues the requests on a real V4L2 descriptor.
type fdDriver struct {
	dev int
}

func (d fdDriver) fd() int { return d.dev }

func (d fdDriver) requestBuffers(typ BufferType, mem Memory, count uint32) (uint32, error) {
	req := v4l2Requestbuffers{
		count:  count,
		typ:    uint32(typ),
		memory: uint32(mem),
	}
	if err := xioctl(d.dev, "VIDIOC_REQBUFS", vidiocReqbufs, unsafe.Pointer(&req)); err != nil {
		return 0, err
	}
	return req.count, nil
}

func (d fdDriver) queryBuffer(typ BufferType, mem Memory, index uint32) (Buffer, error) {
	raw := v4l2Buffer{
		index:  index,
		typ:    uint32(typ),
		memory: uint32(mem),
	}
	if err := xioctl(d.dev, "VIDIOC_QUERYBUF", vidiocQuerybuf, unsafe.Pointer(&raw)); err != nil {
		return Buffer{}, err
	}
	return decodeBuffer(&raw), nil
}

func (d fdDriver) queueBuffer(buf *Buffer) error {
	raw := buf.encode()
	if err := xioctl(d.dev, "VIDIOC_QBUF", vidiocQbuf, unsafe.Pointer(&raw)); err != nil {
		return err
	}
	buf.Flags = BufferFlag(raw.flags)
	return nil
}

func (d fdDriver) dequeueBuffer(typ BufferType, mem Memory) (Buffer, error) {
	raw := v4l2Buffer{
		typ:    uint32(typ),
		memory: uint32(mem),
	}
	if err := xioctl(d.dev, "VIDIOC_DQBUF", vidiocDqbuf, unsafe.Pointer(&raw)); err != nil {
		return Buffer{}, err
	}
	return decodeBuffer(&raw), nil
}

func (d fdDriver) streamOn(typ BufferType) error {
	t := int32(typ)
	return xioctl(d.dev, "VIDIOC_STREAMON", vidiocStreamon, unsafe.Pointer(&t))
}

func (d fdDriver) streamOff(typ BufferType) error {
	t := int32(typ)
	return xioctl(d.dev, "VIDIOC_STREAMOFF", vidiocStreamoff, unsafe.Pointer(&t))
}
