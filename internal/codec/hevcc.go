package codec

import "fmt"

// HEVC parameter set NAL unit types (ITU-T H.265 Table 7-1).
const (
	hevcNALVPS = 32
	hevcNALSPS = 33
	hevcNALPPS = 34
)

// hevcPTL is the profile_tier_level block an HEVCDecoderConfigurationRecord
// repeats from the SPS.
type hevcPTL struct {
	profileSpace    byte
	tierFlag        byte
	profileIDC      byte
	compatFlags     [4]byte
	constraintFlags [6]byte
	levelIDC        byte
}

// parseHEVCPTL reads the profile_tier_level block from an SPS NAL unit
// (including its 2-byte NAL header). The block sits at a fixed bit offset,
// so plain byte indexing suffices once emulation prevention bytes are
// removed.
func parseHEVCPTL(sps []byte) (hevcPTL, error) {
	if len(sps) < 2 {
		return hevcPTL{}, fmt.Errorf("HEVC SPS too short: %d bytes", len(sps))
	}
	rbsp := removeEmulationPrevention(sps[2:])
	// rbsp[0]: sps_video_parameter_set_id(4) | max_sub_layers(3) | nesting(1)
	// rbsp[1..12]: profile_tier_level for the base layer
	if len(rbsp) < 13 {
		return hevcPTL{}, fmt.Errorf("HEVC SPS missing profile_tier_level")
	}
	ptl := hevcPTL{
		profileSpace: rbsp[1] >> 6,
		tierFlag:     (rbsp[1] >> 5) & 0x01,
		profileIDC:   rbsp[1] & 0x1F,
		levelIDC:     rbsp[12],
	}
	copy(ptl.compatFlags[:], rbsp[2:6])
	copy(ptl.constraintFlags[:], rbsp[6:12])
	return ptl, nil
}

// removeEmulationPrevention strips 00 00 03 emulation prevention sequences
// from a NAL unit, yielding the raw bitstream payload.
func removeEmulationPrevention(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for i := 0; i < len(data); i++ {
		if i+2 < len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 3 &&
			(i+3 >= len(data) || data[i+3] <= 3) {
			out = append(out, 0, 0)
			i += 2
		} else {
			out = append(out, data[i])
		}
	}
	return out
}

// BuildHEVCDecoderConfig serializes a descriptor's VPS/SPS/PPS sets into an
// HEVCDecoderConfigurationRecord (ISO 14496-15 §8.3.3.1.2). Returns nil
// when any of the three parameter sets is missing or the SPS is malformed.
func BuildHEVCDecoderConfig(d *FormatDescriptor) []byte {
	var vpsList, spsList, ppsList [][]byte
	for i := 0; ; i++ {
		ps, ok := d.ParameterSet(i)
		if !ok {
			break
		}
		switch ps.Type {
		case ParamVPS:
			vpsList = append(vpsList, ps.Data)
		case ParamSPS:
			spsList = append(spsList, ps.Data)
		case ParamPPS:
			ppsList = append(ppsList, ps.Data)
		}
	}
	if len(vpsList) == 0 || len(spsList) == 0 || len(ppsList) == 0 {
		return nil
	}
	ptl, err := parseHEVCPTL(spsList[0])
	if err != nil {
		return nil
	}

	lengthSize := d.NALULengthSize()
	if lengthSize < 1 || lengthSize > 4 {
		lengthSize = 4
	}

	buf := make([]byte, 0, 23)
	buf = append(buf, 1) // configurationVersion
	buf = append(buf, ptl.profileSpace<<6|ptl.tierFlag<<5|ptl.profileIDC)
	buf = append(buf, ptl.compatFlags[:]...)
	buf = append(buf, ptl.constraintFlags[:]...)
	buf = append(buf, ptl.levelIDC)
	buf = append(buf, 0xF0, 0x00) // min_spatial_segmentation_idc + reserved
	buf = append(buf, 0xFC)       // parallelismType + reserved
	buf = append(buf, 0xFC)       // chromaFormat + reserved
	buf = append(buf, 0xF8)       // bitDepthLumaMinus8 + reserved
	buf = append(buf, 0xF8)       // bitDepthChromaMinus8 + reserved
	buf = append(buf, 0x00, 0x00) // avgFrameRate
	// constantFrameRate(2) | numTemporalLayers(3) | temporalIdNested(1) | lengthSizeMinusOne(2)
	buf = append(buf, 0x0C|byte(lengthSize-1))
	buf = append(buf, 3) // numOfArrays: VPS, SPS, PPS

	appendArray := func(nalType byte, list [][]byte) {
		buf = append(buf, nalType&0x3F)
		buf = append(buf, byte(len(list)>>8), byte(len(list)))
		for _, nalu := range list {
			buf = append(buf, byte(len(nalu)>>8), byte(len(nalu)))
			buf = append(buf, nalu...)
		}
	}
	appendArray(hevcNALVPS, vpsList)
	appendArray(hevcNALSPS, spsList)
	appendArray(hevcNALPPS, ppsList)
	return buf
}

// ParseHEVCDecoderConfig parses an HEVCDecoderConfigurationRecord into a
// FormatDescriptor. Array and NAL counts come from the record itself;
// geometry is left to the caller's format hint since the record does not
// carry coded dimensions.
func ParseHEVCDecoderConfig(data []byte) (*FormatDescriptor, error) {
	if len(data) < 23 {
		return nil, fmt.Errorf("HEVC config record too short: %d bytes", len(data))
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("unsupported HEVC config version %d", data[0])
	}

	lengthSize := int(data[21]&0x03) + 1
	numArrays := int(data[22])
	offset := 23

	var sets []ParameterSet
	for a := 0; a < numArrays; a++ {
		if offset+3 > len(data) {
			return nil, fmt.Errorf("truncated array header at offset %d", offset)
		}
		nalType := data[offset] & 0x3F
		numNALUs := int(data[offset+1])<<8 | int(data[offset+2])
		offset += 3

		var t ParameterSetType
		switch nalType {
		case hevcNALVPS:
			t = ParamVPS
		case hevcNALSPS:
			t = ParamSPS
		case hevcNALPPS:
			t = ParamPPS
		default:
			// Skip SEI or other arrays without recording them.
			t = -1
		}

		for n := 0; n < numNALUs; n++ {
			if offset+2 > len(data) {
				return nil, fmt.Errorf("truncated NAL length at offset %d", offset)
			}
			length := int(data[offset])<<8 | int(data[offset+1])
			offset += 2
			if offset+length > len(data) {
				return nil, fmt.Errorf("truncated NAL data at offset %d", offset)
			}
			if t >= 0 {
				sets = append(sets, ParameterSet{Type: t, Data: data[offset : offset+length]})
			}
			offset += length
		}
	}

	return NewFormatDescriptor(VariantH265, 0, 0, lengthSize, sets), nil
}

// HEVCCodecString returns a short RFC 6381 style codec string
// (e.g. "hvc1.1.6.L93") from the descriptor's first SPS, or "" when absent.
func HEVCCodecString(d *FormatDescriptor) string {
	for i := 0; ; i++ {
		ps, ok := d.ParameterSet(i)
		if !ok {
			return ""
		}
		if ps.Type != ParamSPS {
			continue
		}
		ptl, err := parseHEVCPTL(ps.Data)
		if err != nil {
			return ""
		}
		tier := "L"
		if ptl.tierFlag == 1 {
			tier = "H"
		}
		return fmt.Sprintf("hvc1.%d.%X.%s%d", ptl.profileIDC, ptl.compatFlags[0], tier, ptl.levelIDC)
	}
}
