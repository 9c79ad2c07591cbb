package api

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
)

var requestCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "attendance",
	Subsystem: "devserver",
	Name:      "requests_total",
	Help:      "HTTP requests served, labeled by route template and status code.",
}, []string{"route", "code"})

func init() {
	prometheus.MustRegister(requestCounter)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := "unmatched"
		if current := mux.CurrentRoute(r); current != nil {
			if tpl, err := current.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		requestCounter.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
	})
}
