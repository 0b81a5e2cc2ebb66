package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler serves the default Prometheus registry at /metrics.
func metricsHandler() http.Handler {
	return promhttp.Handler()
}
