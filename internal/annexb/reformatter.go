// Package annexb rewrites length-prefixed compressed samples into
// start-code-delimited elementary stream form, inserting parameter sets on
// keyframes. This is the byte layout required for network delivery and
// accepted by virtually every decoder.
package annexb

import (
	"log/slog"
	"sync/atomic"

	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/media"
)

// startCode is the 4-byte Annex B delimiter written before every NAL unit.
var startCode = []byte{0x00, 0x00, 0x00, 0x01}

// defaultPrefixSize is assumed when neither the descriptor nor the sample
// reports a length-prefix width.
const defaultPrefixSize = 4

// Reformatter converts CompressedSamples into NetworkFrames. It carries no
// cross-sample state besides the cached FormatDescriptor, so it needs no
// locking beyond the serialization already provided by the compressor's
// emission goroutine; the descriptor itself is swapped atomically.
type Reformatter struct {
	log       *slog.Logger
	desc      atomic.Pointer[codec.FormatDescriptor]
	fallbacks atomic.Int64
}

// NewReformatter creates a Reformatter. If log is nil, slog.Default() is used.
func NewReformatter(log *slog.Logger) *Reformatter {
	if log == nil {
		log = slog.Default()
	}
	return &Reformatter{log: log.With("component", "reformatter")}
}

// SetFormat atomically installs the descriptor used for subsequent samples.
// Callers must swap in a new descriptor before submitting any frame encoded
// under a changed resolution or codec.
func (r *Reformatter) SetFormat(desc *codec.FormatDescriptor) {
	r.desc.Store(desc)
}

// Format returns the currently installed descriptor, or nil.
func (r *Reformatter) Format() *codec.FormatDescriptor {
	return r.desc.Load()
}

// FallbackCount reports how many samples were emitted via the verbatim-copy
// fallback. A nonzero value in production means the compressor produced an
// encapsulation this reformatter did not recognize.
func (r *Reformatter) FallbackCount() int64 {
	return r.fallbacks.Load()
}

// Reformat rewrites one compressed sample into a start-code-delimited
// NetworkFrame carrying the same presentation timestamp. On keyframes every
// parameter set from the descriptor is prepended first, each behind its own
// start code, in ascending index order. A malformed length-prefix truncates
// the walk rather than reading out of bounds; if the walk yields nothing at
// all the sample's backing buffer is copied verbatim, since one odd frame
// on the wire beats a hole in a live stream.
func (r *Reformatter) Reformat(sample media.CompressedSample) *media.NetworkFrame {
	desc := r.desc.Load()

	codecTag := media.CodecH264
	if desc != nil && desc.Variant() == codec.VariantH265 {
		codecTag = media.CodecH265
	}

	body, units := convert(sample.Data, r.prefixSize(desc, sample))
	if units == 0 && len(sample.Data) > 0 {
		r.fallbacks.Add(1)
		r.log.Warn("unrecognized sample encapsulation, copying verbatim",
			"pts", sample.PTS, "bytes", len(sample.Data))
		body = make([]byte, len(sample.Data))
		copy(body, sample.Data)
		return &media.NetworkFrame{
			Data:       body,
			PTS:        sample.PTS,
			Codec:      codecTag,
			IsKeyframe: sample.IsKeyframe,
		}
	}

	var out []byte
	if sample.IsKeyframe && desc != nil {
		for i := 0; ; i++ {
			ps, ok := desc.ParameterSet(i)
			if !ok {
				break
			}
			out = append(out, startCode...)
			out = append(out, ps.Data...)
		}
	}
	out = append(out, body...)

	return &media.NetworkFrame{
		Data:       out,
		PTS:        sample.PTS,
		Codec:      codecTag,
		IsKeyframe: sample.IsKeyframe,
	}
}

// prefixSize resolves the length-prefix width for a sample: descriptor
// first, then the sample's own width, defaulting to 4 when inconclusive and
// clamped to at least 1.
func (r *Reformatter) prefixSize(desc *codec.FormatDescriptor, sample media.CompressedSample) int {
	size := 0
	if desc != nil {
		size = desc.NALULengthSize()
	}
	if size == 0 {
		size = sample.NALULengthSize
	}
	if size == 0 {
		size = defaultPrefixSize
	}
	if size < 1 {
		size = 1
	}
	if size > 4 {
		size = 4
	}
	return size
}

// convert walks data as {big-endian length prefix, payload} records and
// rewrites each as a start-code-delimited NAL unit. It returns the output
// and the number of records converted. A zero length or a record running
// past the end of the buffer stops the walk.
func convert(data []byte, prefixSize int) ([]byte, int) {
	out := make([]byte, 0, len(data)+4)
	units := 0
	offset := 0

	for offset+prefixSize <= len(data) {
		var length uint64
		for i := 0; i < prefixSize; i++ {
			length = length<<8 | uint64(data[offset+i])
		}
		if length == 0 || uint64(offset+prefixSize)+length > uint64(len(data)) {
			break
		}
		offset += prefixSize

		out = append(out, startCode...)
		out = append(out, data[offset:offset+int(length)]...)
		offset += int(length)
		units++
	}

	return out, units
}
