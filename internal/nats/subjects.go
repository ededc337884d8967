package nats

import (
	"encoding/json"
	"strings"
)

// Subject prefixes.
const (
	SubjectStreamsPrefix = "v4l2queue.streams"
	SubjectControlPrefix = "v4l2queue.control"
	SubjectDevices       = "v4l2queue.devices"
)

// ActionRestart asks the stream on a device to stop and start again.
const ActionRestart = "restart"

var tokenReplacer = strings.NewReplacer(".", "_", "/", "_", " ", "_", "*", "_", ">", "_")

// DeviceToken turns a device path into a single subject token.
func DeviceToken(device string) string {
	token := tokenReplacer.Replace(strings.TrimPrefix(device, "/dev/"))
	if token == "" {
		return "_"
	}
	return token
}

// SubjectStreamState returns the subject for stream state changes.
func SubjectStreamState(device string) string {
	return SubjectStreamsPrefix + "." + DeviceToken(device) + ".state"
}

// SubjectStreamMetrics returns the subject for periodic queue metrics.
func SubjectStreamMetrics(device string) string {
	return SubjectStreamsPrefix + "." + DeviceToken(device) + ".metrics"
}

// SubjectStreamErrors returns the subject for stream failures.
func SubjectStreamErrors(device string) string {
	return SubjectStreamsPrefix + "." + DeviceToken(device) + ".errors"
}

// SubjectControlRestart returns the subject restart commands arrive on.
func SubjectControlRestart(device string) string {
	return SubjectControlPrefix + "." + DeviceToken(device) + ".restart"
}

// ControlMessage is an inbound command.
type ControlMessage struct {
	Action    string `json:"action"`
	Timestamp string `json:"timestamp,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// Marshal serializes the message to JSON.
func (m ControlMessage) Marshal() ([]byte, error) {
	return json.Marshal(m)
}

// UnmarshalControl deserializes a ControlMessage from JSON.
func UnmarshalControl(data []byte) (ControlMessage, error) {
	var m ControlMessage
	err := json.Unmarshal(data, &m)
	return m, err
}
