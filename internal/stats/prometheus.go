package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments exported by the pipeline.
type Metrics struct {
	FramesEncoded *prometheus.CounterVec
	FramesDropped prometheus.Counter
	FramesSent    prometheus.Counter
	BytesEncoded  prometheus.Counter
	BytesSent     prometheus.Counter
	Fallbacks     prometheus.Counter
	BitrateKbps   prometheus.Gauge
	FrameRate     prometheus.Gauge
	SenderErrors  *prometheus.CounterVec
}

// NewMetrics creates and registers the instruments on the default registry.
// Call once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		FramesEncoded: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplink_frames_encoded_total",
				Help: "Compressed frames produced, by frame type",
			},
			[]string{"type"}, // key or delta
		),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uplink_frames_dropped_total",
			Help: "Raw frames rejected before compression",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uplink_frames_sent_total",
			Help: "Network frames handed to the sender",
		}),
		BytesEncoded: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uplink_bytes_encoded_total",
			Help: "Compressed payload bytes produced",
		}),
		BytesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uplink_bytes_sent_total",
			Help: "Payload bytes handed to the sender",
		}),
		Fallbacks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "uplink_reformat_fallbacks_total",
			Help: "Samples emitted via the verbatim-copy fallback",
		}),
		BitrateKbps: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "uplink_bitrate_kbps",
			Help: "Compressed bitrate over the sliding window",
		}),
		FrameRate: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "uplink_frame_rate",
			Help: "Compressed frame rate over the sliding window",
		}),
		SenderErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "uplink_sender_errors_total",
				Help: "Frames dropped by the sender, by transport",
			},
			[]string{"transport"},
		),
	}
}

// Observe refreshes the gauges and delta counters from a snapshot. Called
// by the periodic reporter; counters are advanced by the deltas between
// successive snapshots.
func (m *Metrics) Observe(prev, cur Snapshot) {
	m.BitrateKbps.Set(cur.BitrateKbps)
	m.FrameRate.Set(cur.FrameRate)

	if d := cur.KeyFrames - prev.KeyFrames; d > 0 {
		m.FramesEncoded.WithLabelValues("key").Add(float64(d))
	}
	if d := cur.DeltaFrames - prev.DeltaFrames; d > 0 {
		m.FramesEncoded.WithLabelValues("delta").Add(float64(d))
	}
	if d := cur.Dropped - prev.Dropped; d > 0 {
		m.FramesDropped.Add(float64(d))
	}
	if d := cur.Fallbacks - prev.Fallbacks; d > 0 {
		m.Fallbacks.Add(float64(d))
	}
	if d := cur.TotalBytes - prev.TotalBytes; d > 0 {
		m.BytesEncoded.Add(float64(d))
	}
	if d := cur.Delivered - prev.Delivered; d > 0 {
		m.FramesSent.Add(float64(d))
	}
	if d := cur.DeliveredBytes - prev.DeliveredBytes; d > 0 {
		m.BytesSent.Add(float64(d))
	}
}
