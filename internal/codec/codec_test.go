package codec

import (
	"bytes"
	"testing"
)

// Real parameter sets from a 1280x720 high-profile H.264 encode and a
// level 3.1 main-profile H.265 encode.
var (
	testH264SPS = []byte{
		0x67, 0x64, 0x00, 0x1F, 0xAC, 0xD9, 0x40, 0x50, 0x05, 0xBB, 0x01, 0x10,
		0x00, 0x00, 0x03, 0x00, 0x10, 0x00, 0x00, 0x03, 0x03, 0xC0, 0xF1, 0x83,
		0x19, 0x60,
	}
	testH264PPS = []byte{0x68, 0xEB, 0xEC, 0xB2, 0x2C}

	testH265VPS = []byte{
		0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00,
		0x90, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x5D, 0x95, 0x98, 0x09,
	}
	testH265SPS = []byte{
		0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0x90, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x03, 0x00, 0x5D, 0xA0, 0x02, 0x80, 0x80, 0x2D, 0x16,
		0x59, 0x59, 0xA4, 0x93, 0x2B, 0xC0, 0x40, 0x40, 0x00, 0x00, 0x03, 0x00,
		0x40, 0x00, 0x00, 0x07, 0x82,
	}
	testH265PPS = []byte{0x44, 0x01, 0xC1, 0x72, 0xB4, 0x62, 0x40}
)

func h264Descriptor(t *testing.T) *FormatDescriptor {
	t.Helper()
	return NewFormatDescriptor(VariantH264, 1280, 720, 4, []ParameterSet{
		{Type: ParamSPS, Data: testH264SPS},
		{Type: ParamPPS, Data: testH264PPS},
	})
}

func h265Descriptor(t *testing.T) *FormatDescriptor {
	t.Helper()
	return NewFormatDescriptor(VariantH265, 1280, 720, 4, []ParameterSet{
		{Type: ParamVPS, Data: testH265VPS},
		{Type: ParamSPS, Data: testH265SPS},
		{Type: ParamPPS, Data: testH265PPS},
	})
}

func TestFormatDescriptor_Immutable(t *testing.T) {
	sps := append([]byte(nil), testH264SPS...)
	d := NewFormatDescriptor(VariantH264, 1280, 720, 4, []ParameterSet{
		{Type: ParamSPS, Data: sps},
	})

	sps[0] = 0xFF
	got, ok := d.ParameterSet(0)
	if !ok {
		t.Fatal("missing parameter set")
	}
	if got.Data[0] != 0x67 {
		t.Error("descriptor shares backing storage with its input")
	}

	if _, ok := d.ParameterSet(1); ok {
		t.Error("enumeration must stop past the end")
	}
	if _, ok := d.ParameterSet(-1); ok {
		t.Error("negative index must report absent")
	}
}

func TestAVCConfig_RoundTrip(t *testing.T) {
	record := BuildAVCDecoderConfig(h264Descriptor(t))
	if record == nil {
		t.Fatal("build returned nil")
	}

	d, err := ParseAVCDecoderConfig(record)
	if err != nil {
		t.Fatal(err)
	}
	if d.NALULengthSize() != 4 {
		t.Errorf("length size = %d, want 4", d.NALULengthSize())
	}
	if d.Variant() != VariantH264 {
		t.Errorf("variant = %v, want H.264", d.Variant())
	}
	if d.ParameterSetCount() != 2 {
		t.Fatalf("got %d parameter sets, want 2", d.ParameterSetCount())
	}

	sps, _ := d.ParameterSet(0)
	if sps.Type != ParamSPS || !bytes.Equal(sps.Data, testH264SPS) {
		t.Error("SPS did not survive the round trip")
	}
	pps, _ := d.ParameterSet(1)
	if pps.Type != ParamPPS || !bytes.Equal(pps.Data, testH264PPS) {
		t.Error("PPS did not survive the round trip")
	}

	if d.Width() != 1280 || d.Height() != 720 {
		t.Errorf("geometry = %dx%d, want 1280x720", d.Width(), d.Height())
	}
}

func TestAVCConfig_HeaderBytes(t *testing.T) {
	record := BuildAVCDecoderConfig(h264Descriptor(t))
	if record[0] != 1 {
		t.Errorf("version = %d, want 1", record[0])
	}
	// Profile/compat/level mirror SPS bytes 1..3.
	if record[1] != 0x64 || record[2] != 0x00 || record[3] != 0x1F {
		t.Errorf("profile bytes = %02X %02X %02X, want 64 00 1F", record[1], record[2], record[3])
	}
	if record[4]&0x03 != 3 {
		t.Errorf("lengthSizeMinusOne = %d, want 3", record[4]&0x03)
	}
	if record[5]&0x1F != 1 {
		t.Errorf("numSPS = %d, want 1", record[5]&0x1F)
	}
}

func TestAVCConfig_ParseErrors(t *testing.T) {
	if _, err := ParseAVCDecoderConfig([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for short record")
	}
	if _, err := ParseAVCDecoderConfig([]byte{9, 0x64, 0x00, 0x1F, 0xFF, 0xE1, 0x00}); err == nil {
		t.Error("expected error for bad version")
	}

	record := BuildAVCDecoderConfig(h264Descriptor(t))
	if _, err := ParseAVCDecoderConfig(record[:len(record)-2]); err == nil {
		t.Error("expected error for truncated record")
	}
}

func TestAVCConfig_MissingSets(t *testing.T) {
	d := NewFormatDescriptor(VariantH264, 0, 0, 4, []ParameterSet{
		{Type: ParamSPS, Data: testH264SPS},
	})
	if BuildAVCDecoderConfig(d) != nil {
		t.Error("build must fail without a PPS")
	}
}

func TestAVCCodecString(t *testing.T) {
	if got := AVCCodecString(h264Descriptor(t)); got != "avc1.64001F" {
		t.Errorf("codec string = %q, want avc1.64001F", got)
	}
	empty := NewFormatDescriptor(VariantH264, 0, 0, 4, nil)
	if got := AVCCodecString(empty); got != "" {
		t.Errorf("codec string for empty descriptor = %q, want empty", got)
	}
}

func TestHEVCConfig_RoundTrip(t *testing.T) {
	record := BuildHEVCDecoderConfig(h265Descriptor(t))
	if record == nil {
		t.Fatal("build returned nil")
	}

	d, err := ParseHEVCDecoderConfig(record)
	if err != nil {
		t.Fatal(err)
	}
	if d.Variant() != VariantH265 {
		t.Errorf("variant = %v, want H.265", d.Variant())
	}
	if d.NALULengthSize() != 4 {
		t.Errorf("length size = %d, want 4", d.NALULengthSize())
	}
	if d.ParameterSetCount() != 3 {
		t.Fatalf("got %d parameter sets, want 3", d.ParameterSetCount())
	}

	wantTypes := []ParameterSetType{ParamVPS, ParamSPS, ParamPPS}
	wantData := [][]byte{testH265VPS, testH265SPS, testH265PPS}
	for i := range wantTypes {
		ps, _ := d.ParameterSet(i)
		if ps.Type != wantTypes[i] {
			t.Errorf("set %d type = %v, want %v", i, ps.Type, wantTypes[i])
		}
		if !bytes.Equal(ps.Data, wantData[i]) {
			t.Errorf("set %d did not survive the round trip", i)
		}
	}
}

func TestHEVCConfig_HeaderBytes(t *testing.T) {
	record := BuildHEVCDecoderConfig(h265Descriptor(t))
	if record[0] != 1 {
		t.Errorf("version = %d, want 1", record[0])
	}
	if record[1]&0x1F != 1 {
		t.Errorf("general_profile_idc = %d, want 1", record[1]&0x1F)
	}
	if record[12] != 0x5D {
		t.Errorf("general_level_idc = %#x, want 0x5D", record[12])
	}
	if record[21]&0x03 != 3 {
		t.Errorf("lengthSizeMinusOne = %d, want 3", record[21]&0x03)
	}
	if record[22] != 3 {
		t.Errorf("numOfArrays = %d, want 3", record[22])
	}
}

func TestHEVCConfig_MissingSets(t *testing.T) {
	d := NewFormatDescriptor(VariantH265, 0, 0, 4, []ParameterSet{
		{Type: ParamSPS, Data: testH265SPS},
		{Type: ParamPPS, Data: testH265PPS},
	})
	if BuildHEVCDecoderConfig(d) != nil {
		t.Error("build must fail without a VPS")
	}
}

func TestHEVCCodecString(t *testing.T) {
	if got := HEVCCodecString(h265Descriptor(t)); got != "hvc1.1.60.L93" {
		t.Errorf("codec string = %q, want hvc1.1.60.L93", got)
	}
}

func TestRemoveEmulationPrevention(t *testing.T) {
	in := []byte{0x60, 0x00, 0x00, 0x03, 0x00, 0x90}
	want := []byte{0x60, 0x00, 0x00, 0x00, 0x90}
	if got := removeEmulationPrevention(in); !bytes.Equal(got, want) {
		t.Errorf("got %x, want %x", got, want)
	}

	// 00 00 03 followed by a byte above 3 is not an emulation sequence.
	in = []byte{0x00, 0x00, 0x03, 0x04}
	if got := removeEmulationPrevention(in); !bytes.Equal(got, in) {
		t.Errorf("got %x, want unchanged %x", got, in)
	}
}

func TestVariantString(t *testing.T) {
	if VariantH264.String() != "h264" || VariantH265.String() != "h265" {
		t.Error("variant tags changed")
	}
	if VariantFromTag("h265") != VariantH265 || VariantFromTag("h264") != VariantH264 {
		t.Error("tag mapping changed")
	}
	if VariantFromTag("av1") != VariantH264 {
		t.Error("unknown tags must map to the fallback")
	}
}

func TestDecoderConfig_Dispatch(t *testing.T) {
	for _, tc := range []struct {
		desc     *FormatDescriptor
		sets     int
		codecOut string
	}{
		{h264Descriptor(t), 2, "avc1.64001F"},
		{h265Descriptor(t), 3, "hvc1.1.60.L93"},
	} {
		record := DecoderConfig(tc.desc)
		if record == nil {
			t.Fatalf("%v: build returned nil", tc.desc.Variant())
		}
		parsed, err := ParseDecoderConfig(VariantFromTag(tc.desc.Variant().String()), record)
		if err != nil {
			t.Fatalf("%v: %v", tc.desc.Variant(), err)
		}
		if parsed.Variant() != tc.desc.Variant() {
			t.Errorf("variant = %v, want %v", parsed.Variant(), tc.desc.Variant())
		}
		if parsed.ParameterSetCount() != tc.sets {
			t.Errorf("%v: got %d parameter sets, want %d", tc.desc.Variant(), parsed.ParameterSetCount(), tc.sets)
		}
		if got := CodecString(parsed); got != tc.codecOut {
			t.Errorf("%v: codec string = %q, want %q", tc.desc.Variant(), got, tc.codecOut)
		}
	}
}
