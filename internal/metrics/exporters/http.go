// Package exporters publishes the metrics package over HTTP and the event bus.
package exporters

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler serves every promauto-registered series in the Prometheus
// text format.
func HTTPHandler() http.Handler {
	return promhttp.Handler()
}
