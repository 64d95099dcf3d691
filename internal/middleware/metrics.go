package middleware

import (
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"
)

// Metrics stores in-process application metrics
type Metrics struct {
	RequestsTotal      uint64
	RequestsInProgress uint64
	RequestsSuccess    uint64
	RequestsFailed     uint64
	ScansTotal         uint64
	StartTime          time.Time
}

var globalMetrics = &Metrics{
	StartTime: time.Now(),
}

// IncrementScans counts one triggered scan.
func IncrementScans() {
	atomic.AddUint64(&globalMetrics.ScansTotal, 1)
}

func incrementRequests()   { atomic.AddUint64(&globalMetrics.RequestsTotal, 1) }
func incrementInProgress() { atomic.AddUint64(&globalMetrics.RequestsInProgress, 1) }
func decrementInProgress() { atomic.AddUint64(&globalMetrics.RequestsInProgress, ^uint64(0)) }
func incrementSuccess()    { atomic.AddUint64(&globalMetrics.RequestsSuccess, 1) }
func incrementFailed()     { atomic.AddUint64(&globalMetrics.RequestsFailed, 1) }

// snapshot returns current metrics plus runtime stats.
func snapshot() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return map[string]interface{}{
		"requests_total":       atomic.LoadUint64(&globalMetrics.RequestsTotal),
		"requests_in_progress": atomic.LoadUint64(&globalMetrics.RequestsInProgress),
		"requests_success":     atomic.LoadUint64(&globalMetrics.RequestsSuccess),
		"requests_failed":      atomic.LoadUint64(&globalMetrics.RequestsFailed),
		"scans_total":          atomic.LoadUint64(&globalMetrics.ScansTotal),
		"uptime_seconds":       time.Since(globalMetrics.StartTime).Seconds(),
		"memory": map[string]interface{}{
			"alloc_bytes":       m.Alloc,
			"total_alloc_bytes": m.TotalAlloc,
			"sys_bytes":         m.Sys,
			"num_gc":            m.NumGC,
		},
		"goroutines": runtime.NumGoroutine(),
	}
}

// MetricsMiddleware tracks request metrics
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		incrementRequests()
		incrementInProgress()
		defer decrementInProgress()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		next.ServeHTTP(wrapped, r)

		if wrapped.statusCode >= 200 && wrapped.statusCode < 400 {
			incrementSuccess()
		} else {
			incrementFailed()
		}
	})
}

// MetricsHandler returns metrics as JSON. activeScans reports the current
// in-flight worker count (the registry owns that number, not this package).
func MetricsHandler(activeScans func() int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := snapshot()
		if activeScans != nil {
			out["scans_active"] = activeScans()
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(out)
	}
}
