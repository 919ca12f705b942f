// Package codec models the negotiated codec identity and the immutable
// format description shared between the compressor session and the
// bitstream reformatter.
package codec

// Variant identifies the negotiated codec. The session resolves it once at
// prepare time based on a platform capability probe and carries it
// immutably through the FormatDescriptor until the next prepare.
type Variant int

const (
	// VariantH264 is the fallback codec, available everywhere.
	VariantH264 Variant = iota
	// VariantH265 is the primary codec, preferred when the platform
	// reports hardware support.
	VariantH265
)

// String returns the codec tag used on NetworkFrames.
func (v Variant) String() string {
	if v == VariantH265 {
		return "h265"
	}
	return "h264"
}

// VariantFromTag maps a codec tag back to its Variant. Unknown tags map to
// the H.264 fallback.
func VariantFromTag(tag string) Variant {
	if tag == VariantH265.String() {
		return VariantH265
	}
	return VariantH264
}

// ParameterSetType is the logical type of a codec parameter set.
type ParameterSetType int

// Parameter set types in the order a decoder expects them in-band.
const (
	ParamVPS ParameterSetType = iota // H.265 only
	ParamSPS
	ParamPPS
)

func (t ParameterSetType) String() string {
	switch t {
	case ParamVPS:
		return "VPS"
	case ParamSPS:
		return "SPS"
	default:
		return "PPS"
	}
}

// ParameterSet is one opaque codec configuration blob plus its logical type.
// Data includes the NAL header byte(s) but no start code or length prefix.
type ParameterSet struct {
	Type ParameterSetType
	Data []byte
}

// FormatDescriptor carries the negotiated geometry, codec variant, and
// parameter sets for one configuration of the compressor. It is immutable
// once constructed: any resolution or codec change requires building a new
// descriptor and swapping it atomically before samples referencing it are
// in flight.
type FormatDescriptor struct {
	width          int
	height         int
	variant        Variant
	naluLengthSize int
	paramSets      []ParameterSet
}

// NewFormatDescriptor builds a descriptor, copying the parameter set blobs
// so later mutation of the inputs cannot violate immutability.
func NewFormatDescriptor(variant Variant, width, height, naluLengthSize int, sets []ParameterSet) *FormatDescriptor {
	copied := make([]ParameterSet, len(sets))
	for i, ps := range sets {
		data := make([]byte, len(ps.Data))
		copy(data, ps.Data)
		copied[i] = ParameterSet{Type: ps.Type, Data: data}
	}
	return &FormatDescriptor{
		width:          width,
		height:         height,
		variant:        variant,
		naluLengthSize: naluLengthSize,
		paramSets:      copied,
	}
}

// Width returns the coded frame width in pixels.
func (d *FormatDescriptor) Width() int { return d.width }

// Height returns the coded frame height in pixels.
func (d *FormatDescriptor) Height() int { return d.height }

// Variant returns the negotiated codec.
func (d *FormatDescriptor) Variant() Variant { return d.variant }

// NALULengthSize returns the length-prefix width in bytes for samples
// produced under this descriptor, or 0 when the configuration did not
// report one.
func (d *FormatDescriptor) NALULengthSize() int { return d.naluLengthSize }

// ParameterSet returns the parameter set at index i, or false once i runs
// past the end. Callers enumerate by repeated query rather than assuming a
// fixed count.
func (d *FormatDescriptor) ParameterSet(i int) (ParameterSet, bool) {
	if i < 0 || i >= len(d.paramSets) {
		return ParameterSet{}, false
	}
	return d.paramSets[i], true
}

// ParameterSetCount returns the number of parameter sets.
func (d *FormatDescriptor) ParameterSetCount() int { return len(d.paramSets) }

// DecoderConfig serializes the descriptor's parameter sets into the
// ISO 14496-15 configuration record for its variant, or nil when required
// sets are missing.
func DecoderConfig(d *FormatDescriptor) []byte {
	if d.Variant() == VariantH265 {
		return BuildHEVCDecoderConfig(d)
	}
	return BuildAVCDecoderConfig(d)
}

// ParseDecoderConfig parses a configuration record of the given variant.
func ParseDecoderConfig(variant Variant, data []byte) (*FormatDescriptor, error) {
	if variant == VariantH265 {
		return ParseHEVCDecoderConfig(data)
	}
	return ParseAVCDecoderConfig(data)
}

// CodecString returns the RFC 6381 codec parameter string for the
// descriptor's variant, or "" when no SPS is present.
func CodecString(d *FormatDescriptor) string {
	if d.Variant() == VariantH265 {
		return HEVCCodecString(d)
	}
	return AVCCodecString(d)
}
