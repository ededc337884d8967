// Package nats mirrors the event bus onto NATS subjects and accepts
// control commands, optionally running an embedded NATS server.
//
// # Subject Hierarchy
//
//	v4l2queue.streams.{device}.state     # StreamStateChangedEvent
//	v4l2queue.streams.{device}.metrics   # StreamMetricsEvent
//	v4l2queue.streams.{device}.errors    # StreamErrorEvent
//	v4l2queue.devices                    # DeviceChangedEvent
//	v4l2queue.control.{device}.restart   # ControlMessage (inbound)
//
// {device} is the node path without /dev/ and with dots replaced, so
// /dev/video0 becomes video0 and /dev/v4l/by-id/usb-cam becomes
// v4l_by-id_usb-cam.
//
// Payloads are the JSON encoding of the bus events. Messaging is core NATS
// without JetStream; publishing is skipped while disconnected.
//
// # Debugging with nats CLI
//
// Follow every stream:
//
//	nats sub "v4l2queue.streams.>"
//
// Restart the capture on /dev/video0:
//
//	nats pub "v4l2queue.control.video0.restart" '{"action":"restart","reason":"manual"}'
package nats
