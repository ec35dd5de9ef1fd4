package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/danmuck/escposd/internal/protocol/escpos"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escposd",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "escposd",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "escposd",
			Subsystem: "session",
			Name:      "accepted_total",
			Help:      "Printer connections accepted.",
		},
	)
	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "escposd",
			Subsystem: "session",
			Name:      "active",
			Help:      "Printer connections currently open.",
		},
	)
	sessionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "escposd",
			Subsystem: "session",
			Name:      "duration_seconds",
			Help:      "Printer connection lifetime in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 10),
		},
	)
	bytesReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "escposd",
			Subsystem: "stream",
			Name:      "bytes_received_total",
			Help:      "Command stream bytes received.",
		},
	)
	commandsDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escposd",
			Subsystem: "decoder",
			Name:      "commands_total",
			Help:      "Commands decoded by kind and opcode.",
		},
		[]string{"kind", "opcode"},
	)
	imagesDecoded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "escposd",
			Subsystem: "decoder",
			Name:      "images_total",
			Help:      "Raster images by outcome.",
		},
		[]string{"outcome"},
	)
	rasterBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "escposd",
			Subsystem: "decoder",
			Name:      "raster_bytes_total",
			Help:      "Packed raster bytes consumed.",
		},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			httpDuration,
			sessionsTotal,
			sessionsActive,
			sessionDuration,
			bytesReceived,
			commandsDecoded,
			imagesDecoded,
			rasterBytes,
		)
	})
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}

func RecordSessionOpened() {
	RegisterMetrics()
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func RecordSessionClosed(duration time.Duration) {
	RegisterMetrics()
	sessionsActive.Dec()
	sessionDuration.Observe(duration.Seconds())
}

func RecordBytesReceived(n int) {
	RegisterMetrics()
	bytesReceived.Add(float64(n))
}

// MetricsSink counts decoded commands.
type MetricsSink struct{}

func (MetricsSink) Emit(ev escpos.Event) {
	RegisterMetrics()
	opcode := ev.Opcode.String()
	if ev.Kind == escpos.KindBuzzer {
		opcode = "1e"
	}
	commandsDecoded.WithLabelValues(string(ev.Kind), opcode).Inc()
	if img := ev.Image; img != nil {
		imagesDecoded.WithLabelValues(imageOutcome(img)).Inc()
		rasterBytes.Add(float64(img.Bytes))
	}
}

func imageOutcome(img *escpos.ImageInfo) string {
	switch {
	case img.Err != nil:
		return "error"
	case img.Empty:
		return "empty"
	case img.Dropped:
		return "dropped"
	case img.Path == "":
		return "unsaved"
	default:
		return "saved"
	}
}
