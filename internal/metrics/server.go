package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns the prometheus exposition handler mounted on the API router
func Handler() http.Handler {
	return promhttp.Handler()
}
