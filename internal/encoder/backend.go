package encoder

import (
	"time"

	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/media"
)

// Config carries the compressor tuning the session applies at prepare time.
type Config struct {
	Width  int
	Height int
	FPS    int

	// KeyframeInterval is the maximum number of frames between keyframes;
	// KeyframeMaxGap is the maximum wall-time between them. Whichever
	// triggers first forces a keyframe.
	KeyframeInterval int
	KeyframeMaxGap   time.Duration

	// TargetBitrate is the steady-state rate in bits per second.
	// MaxBitrate is a hard ceiling enforced over a 1-second window;
	// it defaults to twice the target.
	TargetBitrate int
	MaxBitrate    int

	Variant        codec.Variant
	NALULengthSize int

	// EmitJitter, when nonzero, adds random per-sample completion delay.
	// Only honored by the synthetic backend; used to exercise ordering
	// guarantees under variable compression latency.
	EmitJitter time.Duration

	// Seed makes the synthetic backend deterministic when nonzero.
	Seed int64
}

// withDefaults fills unset tuning fields with the nominal live profile.
func (c Config) withDefaults() Config {
	if c.FPS == 0 {
		c.FPS = 30
	}
	if c.KeyframeInterval == 0 {
		c.KeyframeInterval = 60
	}
	if c.KeyframeMaxGap == 0 {
		c.KeyframeMaxGap = 2 * time.Second
	}
	if c.TargetBitrate == 0 {
		c.TargetBitrate = 4_000_000
	}
	if c.MaxBitrate == 0 {
		c.MaxBitrate = 2 * c.TargetBitrate
	}
	if c.NALULengthSize == 0 {
		c.NALULengthSize = 4
	}
	return c
}

// SampleHandler receives completed compressed samples. Invocations are
// serialized by the session; no two calls run concurrently.
type SampleHandler func(sample media.CompressedSample)

// Backend is one concrete compressor implementation behind the session.
// Encode must not retain the frame's plane buffers past the call; completed
// samples are delivered through the emit callback passed to the factory,
// from a single backend-owned goroutine, in submission order.
type Backend interface {
	// Encode submits one frame for asynchronous compression.
	Encode(frame media.RawFrame) error

	// Flush blocks until every in-flight sample has been emitted.
	Flush() error

	// ParameterSets returns the codec parameter sets negotiated when the
	// backend was created, in the order a decoder expects them in-band.
	ParameterSets() []codec.ParameterSet

	// Close releases the compressor. Pending samples may be discarded;
	// callers that care must Flush first.
	Close()
}

// BackendFactory creates a Backend for the given configuration. The factory
// owns codec-specific setup; a creation error leaves the session in its
// degraded no-op state.
type BackendFactory func(cfg Config, emit SampleHandler) (Backend, error)

// Capabilities reports what the platform compressor supports.
type Capabilities struct {
	HardwareHEVC bool
}

// CapabilityProbe answers the one question asked at prepare time: is the
// primary codec hardware-accelerated here. Deployments wire a platform
// probe; the default conservatively selects the fallback codec.
type CapabilityProbe func() Capabilities

// DefaultProbe reports no hardware HEVC support, selecting the H.264
// fallback everywhere a platform-specific probe is not installed.
func DefaultProbe() Capabilities {
	return Capabilities{}
}
