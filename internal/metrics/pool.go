//go:build linux

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/smazurov/v4l2queue/pkg/linuxav/v4l2"
)

var poolBuffers = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: namespace,
	Subsystem: "pool",
	Name:      "buffers",
	Help:      "Buffers of a pool by state: queued, held or pending",
}, []string{"device", "state"})

var poolStates = []string{"queued", "held", "pending"}

// SetPoolStats publishes a pool snapshot.
func SetPoolStats(device string, st v4l2.PoolStats) {
	poolBuffers.WithLabelValues(device, "queued").Set(float64(st.Queued))
	poolBuffers.WithLabelValues(device, "held").Set(float64(st.Held))
	poolBuffers.WithLabelValues(device, "pending").Set(float64(st.Pending))
	updateCache(device, func(m *StreamMetrics) { m.Pool = st })
}

func deletePoolMetrics(device string) {
	for _, state := range poolStates {
		poolBuffers.DeleteLabelValues(device, state)
	}
}
