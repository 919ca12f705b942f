package codec

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
)

// ParseAVCDecoderConfig parses an AVCDecoderConfigurationRecord
// (ISO 14496-15 §5.2.4.1.1) into a FormatDescriptor. The number of SPS and
// PPS entries and their lengths are discovered from the record, never
// assumed. Geometry is derived from the first SPS.
func ParseAVCDecoderConfig(data []byte) (*FormatDescriptor, error) {
	if len(data) < 7 {
		return nil, fmt.Errorf("AVC config record too short: %d bytes", len(data))
	}
	if data[0] != 1 {
		return nil, fmt.Errorf("unsupported AVC config version %d", data[0])
	}

	lengthSize := int(data[4]&0x03) + 1
	numSPS := int(data[5] & 0x1F)
	offset := 6

	var sets []ParameterSet
	readSet := func(t ParameterSetType) error {
		if offset+2 > len(data) {
			return fmt.Errorf("truncated %s length at offset %d", t, offset)
		}
		n := int(data[offset])<<8 | int(data[offset+1])
		offset += 2
		if offset+n > len(data) {
			return fmt.Errorf("truncated %s data at offset %d", t, offset)
		}
		sets = append(sets, ParameterSet{Type: t, Data: data[offset : offset+n]})
		offset += n
		return nil
	}

	for i := 0; i < numSPS; i++ {
		if err := readSet(ParamSPS); err != nil {
			return nil, err
		}
	}
	if offset >= len(data) {
		return nil, fmt.Errorf("missing PPS count")
	}
	numPPS := int(data[offset])
	offset++
	for i := 0; i < numPPS; i++ {
		if err := readSet(ParamPPS); err != nil {
			return nil, err
		}
	}

	width, height := 0, 0
	for _, ps := range sets {
		if ps.Type != ParamSPS {
			continue
		}
		sps, err := avc.ParseSPSNALUnit(ps.Data, false)
		if err == nil {
			width, height = int(sps.Width), int(sps.Height)
		}
		break
	}

	return NewFormatDescriptor(VariantH264, width, height, lengthSize, sets), nil
}

// BuildAVCDecoderConfig serializes a descriptor's SPS/PPS sets into an
// AVCDecoderConfigurationRecord. Profile, compatibility, and level bytes
// are taken from the first SPS. Returns nil when the descriptor lacks an
// SPS or PPS.
func BuildAVCDecoderConfig(d *FormatDescriptor) []byte {
	var spsList, ppsList [][]byte
	for i := 0; ; i++ {
		ps, ok := d.ParameterSet(i)
		if !ok {
			break
		}
		switch ps.Type {
		case ParamSPS:
			spsList = append(spsList, ps.Data)
		case ParamPPS:
			ppsList = append(ppsList, ps.Data)
		}
	}
	if len(spsList) == 0 || len(ppsList) == 0 || len(spsList[0]) < 4 {
		return nil
	}

	sps0 := spsList[0]
	lengthSize := d.NALULengthSize()
	if lengthSize < 1 || lengthSize > 4 {
		lengthSize = 4
	}

	buf := make([]byte, 0, 11+len(sps0))
	buf = append(buf, 1)       // configurationVersion
	buf = append(buf, sps0[1]) // AVCProfileIndication
	buf = append(buf, sps0[2]) // profile_compatibility
	buf = append(buf, sps0[3]) // AVCLevelIndication
	buf = append(buf, 0xFC|byte(lengthSize-1))
	buf = append(buf, 0xE0|byte(len(spsList)))

	for _, sps := range spsList {
		buf = append(buf, byte(len(sps)>>8), byte(len(sps)))
		buf = append(buf, sps...)
	}
	buf = append(buf, byte(len(ppsList)))
	for _, pps := range ppsList {
		buf = append(buf, byte(len(pps)>>8), byte(len(pps)))
		buf = append(buf, pps...)
	}
	return buf
}

// AVCCodecString returns the RFC 6381 codec parameter string
// (e.g. "avc1.64001F") from the descriptor's first SPS, or "" when absent.
func AVCCodecString(d *FormatDescriptor) string {
	for i := 0; ; i++ {
		ps, ok := d.ParameterSet(i)
		if !ok {
			return ""
		}
		if ps.Type == ParamSPS && len(ps.Data) >= 4 {
			return fmt.Sprintf("avc1.%02X%02X%02X", ps.Data[1], ps.Data[2], ps.Data[3])
		}
	}
}
