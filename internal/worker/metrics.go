package worker

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "camlink",
		Subsystem: "worker",
		Name:      "frames_sent_total",
		Help:      "Frames sent to the client",
	}, []string{"serial"})

	frameIndex = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camlink",
		Subsystem: "worker",
		Name:      "frame_index",
		Help:      "Index of the last frame sent",
	}, []string{"serial"})

	queuedDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "camlink",
		Subsystem: "worker",
		Name:      "hardware_queue_depth",
		Help:      "Frames still queued on the camera at last poll",
	}, []string{"serial"})

	bytesWritten = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "camlink",
		Subsystem: "worker",
		Name:      "bytes_written_total",
		Help:      "Bytes written to the client connection",
	})

	clientConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "camlink",
		Subsystem: "worker",
		Name:      "client_connected",
		Help:      "Whether a client is connected (0 or 1)",
	})
)

// recordFrame updates the per-frame metrics.
func recordFrame(serial string, index uint64, queued int) {
	framesSent.WithLabelValues(serial).Inc()
	frameIndex.WithLabelValues(serial).Set(float64(index))
	queuedDepth.WithLabelValues(serial).Set(float64(queued))
}

// dropFrameMetrics removes the per-serial series when a session ends.
func dropFrameMetrics(serial string) {
	framesSent.DeleteLabelValues(serial)
	frameIndex.DeleteLabelValues(serial)
	queuedDepth.DeleteLabelValues(serial)
}

// ServeMetrics exposes the Prometheus endpoint on addr. It blocks, so run
// it on its own goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return server.ListenAndServe()
}
