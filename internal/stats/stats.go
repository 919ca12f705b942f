// Package stats accumulates pipeline telemetry with atomic counters and
// produces point-in-time snapshots for the log reporter and the metrics
// endpoint.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// windowDuration is the span of the sliding windows behind the bitrate and
// frame-rate gauges.
const windowDuration = 2 * time.Second

// Snapshot is a JSON-serializable point-in-time view of the pipeline.
type Snapshot struct {
	Timestamp   int64   `json:"ts"`
	UptimeMs    int64   `json:"uptimeMs"`
	Codec       string  `json:"codec"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	TotalFrames int64   `json:"totalFrames"`
	KeyFrames   int64   `json:"keyFrames"`
	DeltaFrames int64   `json:"deltaFrames"`
	GOPLen      int     `json:"gopLen"`
	BitrateKbps float64 `json:"bitrateKbps"`
	FrameRate   float64 `json:"frameRate"`
	TotalBytes  int64   `json:"totalBytes"`
	PTSErrors   int64   `json:"ptsErrors"`
	Dropped     int64   `json:"dropped"`
	Fallbacks   int64   `json:"fallbacks"`
	Delivered   int64   `json:"delivered"`

	// DeliveredBytes counts payload bytes of delivered frames; the wire
	// header overhead is not included.
	DeliveredBytes int64 `json:"deliveredBytes"`
}

type bitrateEntry struct {
	ts    time.Time
	bytes int64
}

// EncodeStats accumulates compressed-frame telemetry. Record methods are
// safe to call concurrently; in practice they arrive from the compressor's
// single emission goroutine while snapshots are read elsewhere.
type EncodeStats struct {
	frames         atomic.Int64
	keyframes      atomic.Int64
	delta          atomic.Int64
	bytes          atomic.Int64
	gopLen         atomic.Int32
	lastPTS        atomic.Int64
	ptsErrors      atomic.Int64
	dropped        atomic.Int64
	fallbacks      atomic.Int64
	delivered      atomic.Int64
	deliveredBytes atomic.Int64
	width          atomic.Int32
	height         atomic.Int32
	startedAt      time.Time

	// codecMu guards codecLabel
	codecMu    sync.RWMutex
	codecLabel string

	// bitrateMu guards bitrateWindow
	bitrateMu     sync.Mutex
	bitrateWindow []bitrateEntry

	// fpsMu guards fpsWindow
	fpsMu     sync.Mutex
	fpsWindow []time.Time
}

// NewEncodeStats creates an EncodeStats anchored at the current time.
func NewEncodeStats() *EncodeStats {
	return &EncodeStats{startedAt: time.Now()}
}

// RecordFrame records one compressed frame's size, type, and PTS, updating
// the counters, GOP length, PTS continuity, and both sliding windows.
func (es *EncodeStats) RecordFrame(bytes int64, isKeyframe bool, pts int64) {
	es.frames.Add(1)
	es.bytes.Add(bytes)

	if isKeyframe {
		es.keyframes.Add(1)
		es.gopLen.Store(1)
	} else {
		es.delta.Add(1)
		es.gopLen.Add(1)
	}

	// PTS must be strictly increasing; the compressor is configured with no
	// reordering.
	last := es.lastPTS.Swap(pts)
	if last > 0 && pts <= last {
		es.ptsErrors.Add(1)
	}

	now := time.Now()
	cutoff := now.Add(-windowDuration)

	es.fpsMu.Lock()
	es.fpsWindow = append(es.fpsWindow, now)
	j := 0
	for j < len(es.fpsWindow) && es.fpsWindow[j].Before(cutoff) {
		j++
	}
	es.fpsWindow = es.fpsWindow[j:]
	es.fpsMu.Unlock()

	es.bitrateMu.Lock()
	es.bitrateWindow = append(es.bitrateWindow, bitrateEntry{ts: now, bytes: bytes})
	i := 0
	for i < len(es.bitrateWindow) && es.bitrateWindow[i].ts.Before(cutoff) {
		i++
	}
	es.bitrateWindow = es.bitrateWindow[i:]
	es.bitrateMu.Unlock()
}

// RecordDropped counts a frame rejected before compression.
func (es *EncodeStats) RecordDropped() { es.dropped.Add(1) }

// RecordFallback counts a sample emitted via the verbatim-copy path.
func (es *EncodeStats) RecordFallback() { es.fallbacks.Add(1) }

// RecordDelivered counts a frame handed to the network consumer and its
// payload size.
func (es *EncodeStats) RecordDelivered(bytes int64) {
	es.delivered.Add(1)
	es.deliveredBytes.Add(bytes)
}

// RecordFormat stores the negotiated codec label and geometry.
func (es *EncodeStats) RecordFormat(codec string, width, height int) {
	es.codecMu.Lock()
	es.codecLabel = codec
	es.codecMu.Unlock()
	es.width.Store(int32(width))
	es.height.Store(int32(height))
}

// FrameRate computes the current frame rate from the sliding window.
func (es *EncodeStats) FrameRate() float64 {
	es.fpsMu.Lock()
	defer es.fpsMu.Unlock()

	if len(es.fpsWindow) < 2 {
		return 0
	}
	dur := es.fpsWindow[len(es.fpsWindow)-1].Sub(es.fpsWindow[0]).Seconds()
	if dur <= 0 {
		return 0
	}
	return float64(len(es.fpsWindow)-1) / dur
}

// BitrateKbps computes the current bitrate from the sliding window of
// frame sizes.
func (es *EncodeStats) BitrateKbps() float64 {
	es.bitrateMu.Lock()
	defer es.bitrateMu.Unlock()

	if len(es.bitrateWindow) < 2 {
		return 0
	}
	first := es.bitrateWindow[0].ts
	last := es.bitrateWindow[len(es.bitrateWindow)-1].ts
	dur := last.Sub(first).Seconds()
	if dur <= 0 {
		return 0
	}
	var total int64
	for _, e := range es.bitrateWindow {
		total += e.bytes
	}
	return float64(total) * 8 / dur / 1000
}

// Snapshot produces a consistent point-in-time view of the pipeline.
func (es *EncodeStats) Snapshot() Snapshot {
	es.codecMu.RLock()
	codecLabel := es.codecLabel
	es.codecMu.RUnlock()

	now := time.Now()
	return Snapshot{
		Timestamp:      now.UnixMilli(),
		UptimeMs:       now.Sub(es.startedAt).Milliseconds(),
		Codec:          codecLabel,
		Width:          int(es.width.Load()),
		Height:         int(es.height.Load()),
		TotalFrames:    es.frames.Load(),
		KeyFrames:      es.keyframes.Load(),
		DeltaFrames:    es.delta.Load(),
		GOPLen:         int(es.gopLen.Load()),
		BitrateKbps:    es.BitrateKbps(),
		FrameRate:      es.FrameRate(),
		TotalBytes:     es.bytes.Load(),
		PTSErrors:      es.ptsErrors.Load(),
		Dropped:        es.dropped.Load(),
		Fallbacks:      es.fallbacks.Load(),
		Delivered:      es.delivered.Load(),
		DeliveredBytes: es.deliveredBytes.Load(),
	}
}
