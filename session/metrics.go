package session

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	ggrs "github.com/gschup/ggrs-sub000"
)

// Metrics exposes a P2P session's link quality and rollback behavior as
// Prometheus collectors, registered on whatever registry the embedding
// program chooses (cmd/boxgame registers a fresh one behind a /metrics
// handler). A session with no Metrics attached behaves exactly as if the
// dependency didn't exist; every call site on the hot path is a nil check.
type Metrics struct {
	ping           *prometheus.GaugeVec
	localFrames    *prometheus.GaugeVec
	remoteFrames   *prometheus.GaugeVec
	sendQueueLen   *prometheus.GaugeVec
	rollbackFrames prometheus.Histogram
	disconnects    *prometheus.CounterVec
}

// NewMetrics constructs and registers a Metrics instance on reg. Panics if
// any collector name collides with one already registered, the same
// fail-fast behavior prometheus.MustRegister gives every other caller in
// the ecosystem.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ping: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ggrs",
			Name:      "ping_milliseconds",
			Help:      "Last measured round-trip time to a peer.",
		}, []string{"handle"}),
		localFrames: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ggrs",
			Name:      "local_frames_behind",
			Help:      "Estimated frames the local simulation is behind a peer; negative means ahead.",
		}, []string{"handle"}),
		remoteFrames: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ggrs",
			Name:      "remote_frames_behind",
			Help:      "Frames a peer reports itself behind, as of its last quality report.",
		}, []string{"handle"}),
		sendQueueLen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ggrs",
			Name:      "send_queue_length",
			Help:      "Outgoing packets queued to a peer but not yet acknowledged.",
		}, []string{"handle"}),
		rollbackFrames: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ggrs",
			Name:      "rollback_depth_frames",
			Help:      "Number of frames resimulated per rollback.",
			Buckets:   []float64{1, 2, 4, ggrs.MaxPrediction},
		}),
		disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ggrs",
			Name:      "disconnects_total",
			Help:      "Number of times a player or spectator has disconnected.",
		}, []string{"handle"}),
	}

	reg.MustRegister(m.ping, m.localFrames, m.remoteFrames, m.sendQueueLen, m.rollbackFrames, m.disconnects)
	return m
}

func (m *Metrics) observeNetworkStats(handle ggrs.PlayerHandle, stats ggrs.NetworkStats) {
	if m == nil {
		return
	}
	label := strconv.Itoa(int(handle))
	m.ping.WithLabelValues(label).Set(float64(stats.Ping))
	m.localFrames.WithLabelValues(label).Set(float64(stats.LocalFramesBehind))
	m.remoteFrames.WithLabelValues(label).Set(float64(stats.RemoteFramesBehind))
	m.sendQueueLen.WithLabelValues(label).Set(float64(stats.SendQueueLen))
}

func (m *Metrics) observeRollback(frames ggrs.Frame) {
	if m == nil || frames <= 0 {
		return
	}
	m.rollbackFrames.Observe(float64(frames))
}

func (m *Metrics) observeDisconnect(handle ggrs.PlayerHandle) {
	if m == nil {
		return
	}
	m.disconnects.WithLabelValues(strconv.Itoa(int(handle))).Inc()
}
