package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"
)

// requestLabels is a per-request mutable label holder. The middleware
// installs it in the request context so inner handlers can attach the
// model name once they have parsed the request body.
type requestLabels struct {
	model string
}

type labelsKey struct{}

// SetModel records the model name for the current request's metrics.
// No-op if the metrics middleware is not installed.
func SetModel(ctx context.Context, model string) {
	if l, ok := ctx.Value(labelsKey{}).(*requestLabels); ok && model != "" {
		l.model = model
	}
}

// MetricsMiddleware wraps an HTTP handler to record request metrics.
//
// It captures:
//   - vermittler_requests_total (counter): per request with method, status class, and model labels
//   - vermittler_request_duration_seconds (histogram): request duration with method and model labels
//   - vermittler_streaming_connections_active (gauge): incremented while an SSE streaming response is in flight
//   - vermittler_auth_rejections_total (counter): incremented on 401 responses
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Detect SSE streaming from the Accept header.
		isStreaming := r.Header.Get("Accept") == "text/event-stream"

		if isStreaming {
			StreamingConnections.Inc()
			defer StreamingConnections.Dec()
		}

		labels := &requestLabels{model: "unknown"}
		ctx := context.WithValue(r.Context(), labelsKey{}, labels)

		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		duration := time.Since(start).Seconds()

		// Build a status class label like "2xx", "4xx", "5xx".
		statusStr := strconv.Itoa(sw.status/100) + "xx"

		if sw.status == http.StatusUnauthorized {
			AuthRejectionsTotal.Inc()
		}

		RequestsTotal.WithLabelValues(r.Method, statusStr, labels.model).Inc()
		RequestDuration.WithLabelValues(r.Method, labels.model).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

// WriteHeader captures the status code and delegates to the underlying writer.
func (w *statusWriter) WriteHeader(status int) {
	if !w.written {
		w.status = status
		w.written = true
	}
	w.ResponseWriter.WriteHeader(status)
}

// Write delegates to the underlying writer and marks the status as written.
func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}

// Flush delegates to the underlying writer if it implements http.Flusher.
// This is essential for SSE streaming support.
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap returns the underlying ResponseWriter, enabling http.ResponseController
// and similar utilities to access the original writer.
func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
