// Package media defines the core frame types that flow through the uplink
// pipeline, from capture through compression to network delivery.
package media

// SampleBufferSize is the channel buffer between frame submission and the
// compressor's encode goroutine, sized to absorb ~2 seconds of video at the
// nominal 30 fps without excessive memory.
const SampleBufferSize = 60

// Codec tags carried on NetworkFrames. These identify the elementary-stream
// flavor so the receiving end can route the bytes to the right decoder.
const (
	CodecH264 = "h264"
	CodecH265 = "h265"
)

// RawFrame is a borrowed reference to one captured picture. The capture
// source owns the plane buffers; the compressor session may read them only
// for the duration of the Encode call and must not retain them afterwards.
type RawFrame struct {
	Planes  [][]byte
	Strides []int
	Width   int
	Height  int

	// PTS is the presentation timestamp in microseconds on the capture
	// clock. Strictly monotonic across frames of one session.
	PTS int64
}

// CompressedSample is one compressed access unit as emitted by the
// compressor: a backing buffer holding one or more length-prefixed NAL
// units, plus the metadata the reformatter needs to rewrite it.
type CompressedSample struct {
	// Data holds {length-prefix, payload} records back to back, with
	// big-endian length prefixes of NALULengthSize bytes each.
	Data []byte

	// PTS equals the PTS of the RawFrame that produced this sample; the
	// compressor is configured with no reordering, so samples arrive in
	// strictly increasing PTS order.
	PTS int64

	IsKeyframe bool

	// NALULengthSize is the length-prefix width in bytes (1, 2, or 4),
	// determined by the codec configuration.
	NALULengthSize int
}

// NetworkFrame is the reformatter's output: a single contiguous buffer
// delimited exclusively by 4-byte start codes, ready for network delivery.
// A NetworkFrame is created once per CompressedSample, handed to the sink,
// and never mutated or cached afterwards. Its byte layout is the bit-exact
// contract any downstream protocol layer must preserve unchanged.
type NetworkFrame struct {
	Data       []byte
	PTS        int64
	Codec      string // CodecH264 or CodecH265
	IsKeyframe bool
}
