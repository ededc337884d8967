//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format queries, and streaming I/O.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Streaming
//
// A Stream owns a pool of kernel buffers for one buffer type and cycles them
// between the application and the driver:
//
//	dev, _ := v4l2.OpenDevice("/dev/video0", false)
//	defer dev.Close()
//
//	stream, err := dev.Stream(v4l2.ContentVideo, 4, v4l2.Capture, v4l2.Mmap)
//	if err != nil {
//	    return err
//	}
//	defer stream.Close()
//
//	for {
//	    buf, err := stream.Next()
//	    if err != nil {
//	        return err
//	    }
//	    process(buf.Bytes())
//	    buf.Release()
//	}
//
// Capture streams start as soon as they are created. Output streams hand out
// unused buffers first and start the hardware once every buffer has been
// filled at least once.
//
// Each BufferHandle is an exclusive lease on one buffer's memory. The buffer
// is not given back to the driver until Release is called, and buffers are
// resubmitted in the order they were handed out.
//
// On a descriptor opened with nonblock set, Next returns an error matching
// ErrWouldBlock when no buffer is ready. NextContext waits for readiness with
// poll(2) and retries.
package v4l2
