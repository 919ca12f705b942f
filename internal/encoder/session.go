// Package encoder wraps a real-time, low-latency video compressor behind a
// prepare/encode/flush/teardown session. The compressor is configured for
// no frame reordering, so emitted samples arrive in submission order with
// strictly increasing presentation timestamps.
package encoder

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/media"
)

// FormatHint describes the geometry and pixel layout of incoming frames,
// supplied by the capture collaborator at prepare time.
type FormatHint struct {
	Width       int
	Height      int
	PixelFormat string // e.g. "nv12"
}

// Options configures optional session collaborators. Zero values select the
// defaults: slog.Default(), DefaultProbe, and the synthetic backend.
type Options struct {
	Logger     *slog.Logger
	Probe      CapabilityProbe
	NewBackend BackendFactory
}

// Session owns the compression context. It accepts raw frames in capture
// order and delivers compressed samples through a single registered
// handler on a dedicated goroutine, serialized and in PTS order.
//
// A session that failed to prepare is not broken, just disabled: Encode
// becomes a no-op until the next successful Prepare. That keeps a device
// hiccup from terminating a live stream.
type Session struct {
	log        *slog.Logger
	cfg        Config
	probe      CapabilityProbe
	newBackend BackendFactory

	mu       sync.Mutex
	backend  Backend
	desc     *codec.FormatDescriptor
	onSample SampleHandler

	emitMu  sync.Mutex
	dropped atomic.Int64
}

// NewSession creates a session with the given tuning. No compressor exists
// until Prepare is called.
func NewSession(cfg Config, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	probe := opts.Probe
	if probe == nil {
		probe = DefaultProbe
	}
	factory := opts.NewBackend
	if factory == nil {
		factory = NewSyntheticBackend
	}
	return &Session{
		log:        log.With("component", "encoder-session"),
		cfg:        cfg.withDefaults(),
		probe:      probe,
		newBackend: factory,
	}
}

// OnSample registers the single consumer for compressed samples. Must be
// called before Prepare; emissions are serialized, so the handler never
// runs concurrently with itself.
func (s *Session) OnSample(h SampleHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onSample = h
}

// Prepare (re)creates the compression context for the given input format.
// Calling it while already prepared tears down and recreates. Codec
// selection happens here: the primary codec when the capability probe
// reports hardware support, the fallback otherwise, frozen until the next
// Prepare. Creation failure is logged, not returned: the session degrades
// to a no-op until Prepare succeeds.
func (s *Session) Prepare(hint FormatHint) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.backend != nil {
		s.backend.Close()
		s.backend = nil
		s.desc = nil
	}

	variant := codec.VariantH264
	if s.probe().HardwareHEVC {
		variant = codec.VariantH265
	}

	cfg := s.cfg
	cfg.Width = hint.Width
	cfg.Height = hint.Height
	cfg.Variant = variant

	backend, err := s.newBackend(cfg, s.deliver)
	if err != nil {
		s.log.Error("compressor creation failed, encoding disabled",
			"codec", variant, "width", hint.Width, "height", hint.Height, "error", err)
		return
	}

	s.backend = backend
	s.desc = codec.NewFormatDescriptor(variant, hint.Width, hint.Height,
		cfg.NALULengthSize, backend.ParameterSets())

	s.log.Info("compressor prepared",
		"codec", variant,
		"width", hint.Width, "height", hint.Height,
		"fps", cfg.FPS,
		"target_bps", cfg.TargetBitrate,
		"max_bps", cfg.MaxBitrate,
		"keyframe_interval", cfg.KeyframeInterval,
		"parameter_sets", s.desc.ParameterSetCount())
}

// Format returns the descriptor negotiated by the last successful Prepare,
// or nil when the session is unprepared. The descriptor is immutable; a
// new one is built on every Prepare.
func (s *Session) Format() *codec.FormatDescriptor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.desc
}

// Encode submits one frame for compression. Non-blocking: the result
// arrives later through the OnSample handler. The frame is borrowed only
// for the duration of this call. A no-op when the session is unprepared or
// torn down; a backend rejection drops the frame and the pipeline
// continues.
func (s *Session) Encode(frame media.RawFrame) {
	s.mu.Lock()
	backend := s.backend
	s.mu.Unlock()

	if backend == nil {
		s.dropped.Add(1)
		return
	}
	if err := backend.Encode(frame); err != nil {
		s.dropped.Add(1)
		s.log.Debug("frame dropped", "pts", frame.PTS, "error", err)
	}
}

// Flush blocks until all in-flight samples have been emitted. Call before
// stopping a stream so no compressed data is lost.
func (s *Session) Flush() {
	s.mu.Lock()
	backend := s.backend
	s.mu.Unlock()

	if backend == nil {
		return
	}
	if err := backend.Flush(); err != nil {
		s.log.Warn("flush incomplete", "error", err)
	}
}

// Teardown flushes and releases the compression context. Safe to call when
// already torn down; frames submitted afterwards are no-ops.
func (s *Session) Teardown() {
	s.mu.Lock()
	backend := s.backend
	s.backend = nil
	s.desc = nil
	s.mu.Unlock()

	if backend == nil {
		return
	}
	if err := backend.Flush(); err != nil {
		s.log.Warn("flush during teardown incomplete", "error", err)
	}
	backend.Close()
	s.log.Info("compressor released", "dropped_frames", s.dropped.Load())
}

// DroppedFrames reports frames rejected at submission, including every
// Encode call made while the session was disabled.
func (s *Session) DroppedFrames() int64 {
	return s.dropped.Load()
}

// deliver hands one completed sample to the registered handler. The mutex
// guarantees no two emissions run concurrently even if a backend uses more
// than one completion goroutine.
func (s *Session) deliver(sample media.CompressedSample) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()

	s.mu.Lock()
	h := s.onSample
	s.mu.Unlock()

	if h != nil {
		h(sample)
	}
}
