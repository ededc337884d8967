// Package models holds the request and response bodies of the HTTP API.
package models

// HealthData is the body of the health check.
type HealthData struct {
	Status  string `json:"status" example:"ok" doc:"Service status"`
	Message string `json:"message" example:"API is healthy" doc:"Status message"`
}

type HealthResponse struct {
	Body HealthData
}

// Version models
type VersionData struct {
	Version   string `json:"version" example:"dev" doc:"Application version"`
	GitCommit string `json:"git_commit" example:"abc1234" doc:"Git commit SHA"`
	BuildDate string `json:"build_date" example:"2024-12-15 14:30" doc:"Build timestamp"`
	Modified  bool   `json:"modified" example:"false" doc:"Built from a dirty working tree"`
	GoVersion string `json:"go_version" example:"go1.24.11" doc:"Go compiler version"`
	Platform  string `json:"platform" example:"linux/arm64" doc:"Platform"`
}

type VersionResponse struct {
	Body VersionData
}

// StreamStatus reports the buffer queue of the running capture or output.
type StreamStatus struct {
	Device       string `json:"device" example:"/dev/video0" doc:"Device node"`
	Direction    string `json:"direction" example:"capture" enum:"capture,output" doc:"Stream direction"`
	Running      bool   `json:"running" doc:"Whether frames are being moved"`
	Streaming    bool   `json:"streaming" doc:"Whether the driver queue is on"`
	Frames       uint64 `json:"frames" example:"1500" doc:"Frames moved since start"`
	Bytes        uint64 `json:"bytes" example:"921600000" doc:"Payload bytes moved since start"`
	Corrupted    uint64 `json:"corrupted" example:"0" doc:"Frames the driver flagged as corrupted"`
	LastSequence uint32 `json:"last_sequence" example:"1499" doc:"Driver sequence number of the last frame"`
	Buffers      int    `json:"buffers" example:"4" doc:"Buffers granted by the driver"`
	Queued       int    `json:"queued" example:"3" doc:"Buffers owned by the driver"`
	Held         int    `json:"held" example:"1" doc:"Buffers held by the application"`
	Pending      int    `json:"pending" example:"0" doc:"Buffers waiting to be queued"`
	Submitted    uint64 `json:"submitted" example:"1503" doc:"Successful queue requests"`
	Completed    uint64 `json:"completed" example:"1500" doc:"Successful dequeue requests"`
}

type StreamStatusResponse struct {
	Body StreamStatus
}
