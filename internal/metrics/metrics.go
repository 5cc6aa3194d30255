package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srec_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"path", "method", "code"},
	)

	httpDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "srec_http_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"path", "method"},
	)

	passSearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srec_pass_searches_total",
			Help: "Pass searches by outcome (found, none, unresolved, error).",
		},
		[]string{"outcome"},
	)

	passSearchDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "srec_pass_search_duration_seconds",
			Help:    "Wall time of a pass search.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
	)

	oracleEvaluationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "srec_oracle_evaluations_total",
			Help: "Elevation oracle calls made by pass searches.",
		},
	)

	propagationGapsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "srec_propagation_gaps_total",
			Help: "Coarse samples the orbital model could not resolve.",
		},
	)

	groundTrackDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "srec_ground_track_duration_seconds",
			Help:    "Wall time of a ground track computation.",
			Buckets: prometheus.DefBuckets,
		},
	)

	groundTrackPointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srec_ground_track_points_total",
			Help: "Ground track samples by result.",
		},
		[]string{"result"},
	)

	tleAgeSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srec_tle_age_seconds",
			Help: "Seconds since the loaded element set's epoch.",
		},
	)

	trackerLatDeg = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srec_tracker_latitude_degrees",
			Help: "Latest sub-satellite latitude.",
		},
	)

	trackerLonDeg = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srec_tracker_longitude_degrees",
			Help: "Latest sub-satellite longitude.",
		},
	)

	trackerErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "srec_tracker_errors_total",
			Help: "Live position refreshes that failed.",
		},
	)

	streamConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srec_stream_connections_total",
			Help: "SSE connection events (connect, disconnect).",
		},
		[]string{"event"},
	)

	streamsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "srec_streams_active",
			Help: "Currently open SSE streams.",
		},
	)

	streamMessagesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "srec_stream_messages_total",
			Help: "SSE data messages sent.",
		},
	)

	streamBytesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "srec_stream_bytes_total",
			Help: "Bytes written to SSE streams.",
		},
	)

	streamErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "srec_stream_errors_total",
			Help: "SSE errors by reason.",
		},
		[]string{"reason"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpDurationSeconds,
		passSearchesTotal,
		passSearchDurationSeconds,
		oracleEvaluationsTotal,
		propagationGapsTotal,
		groundTrackDurationSeconds,
		groundTrackPointsTotal,
		tleAgeSeconds,
		trackerLatDeg,
		trackerLonDeg,
		trackerErrorsTotal,
		streamConnectionsTotal,
		streamsActive,
		streamMessagesTotal,
		streamBytesTotal,
		streamErrorsTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordSearch records one pass search.
func RecordSearch(d time.Duration, outcome string, evaluations, gaps int) {
	passSearchesTotal.WithLabelValues(outcome).Inc()
	passSearchDurationSeconds.Observe(d.Seconds())
	oracleEvaluationsTotal.Add(float64(evaluations))
	propagationGapsTotal.Add(float64(gaps))
}

// RecordGroundTrack records one ground track computation.
func RecordGroundTrack(d time.Duration, points, unresolved int) {
	groundTrackDurationSeconds.Observe(d.Seconds())
	groundTrackPointsTotal.WithLabelValues("ok").Add(float64(points))
	groundTrackPointsTotal.WithLabelValues("unresolved").Add(float64(unresolved))
}

// SetTLEAge sets the element set age gauge.
func SetTLEAge(seconds float64) { tleAgeSeconds.Set(seconds) }

// SetTrackerPosition publishes the latest live position.
func SetTrackerPosition(lat, lon float64) {
	trackerLatDeg.Set(lat)
	trackerLonDeg.Set(lon)
}

// IncTrackerErrors counts a failed live refresh.
func IncTrackerErrors() { trackerErrorsTotal.Inc() }

// IncStreamConnections counts an SSE connect/disconnect event.
func IncStreamConnections(event string) { streamConnectionsTotal.WithLabelValues(event).Inc() }

// IncStreamsActive increments the open stream gauge.
func IncStreamsActive() { streamsActive.Inc() }

// DecStreamsActive decrements the open stream gauge.
func DecStreamsActive() { streamsActive.Dec() }

// IncStreamMessages counts an SSE data message.
func IncStreamMessages() { streamMessagesTotal.Inc() }

// AddStreamBytes adds to the SSE byte counter.
func AddStreamBytes(n int64) { streamBytesTotal.Add(float64(n)) }

// IncStreamErrors counts an SSE error.
func IncStreamErrors(reason string) { streamErrorsTotal.WithLabelValues(reason).Inc() }

// knownRoutes are the paths served by the API; anything else is labelled "other"
// to keep label cardinality bounded.
var knownRoutes = map[string]bool{
	"/":                       true,
	"/healthz":                true,
	"/readyz":                 true,
	"/metrics":                true,
	"/api/v1/tle":             true,
	"/api/v1/tle/reload":      true,
	"/api/v1/position":        true,
	"/api/v1/groundtrack":     true,
	"/api/v1/passes":          true,
	"/api/v1/stream/position": true,
}

func normalizeRoute(path string) string {
	if knownRoutes[path] {
		return path
	}
	return "other"
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer (SSE flushes).
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Flush forwards to the underlying writer when it supports flushing.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware records request count and duration for each request.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		code := strconv.Itoa(rw.statusCode)
		path := normalizeRoute(r.URL.Path)

		httpRequestsTotal.WithLabelValues(path, r.Method, code).Inc()
		httpDurationSeconds.WithLabelValues(path, r.Method).Observe(duration)
	})
}
