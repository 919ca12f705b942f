package encoder

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/media"
)

func testFrame(pts int64) media.RawFrame {
	return media.RawFrame{
		Planes:  [][]byte{make([]byte, 16)},
		Strides: []int{16},
		Width:   1280,
		Height:  720,
		PTS:     pts,
	}
}

// collector records emitted samples and detects concurrent handler entry.
type collector struct {
	mu       sync.Mutex
	samples  []media.CompressedSample
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (c *collector) handle(s media.CompressedSample) {
	if c.inFlight.Add(1) > 1 {
		c.overlap.Store(true)
	}
	time.Sleep(100 * time.Microsecond)
	c.inFlight.Add(-1)

	c.mu.Lock()
	c.samples = append(c.samples, s)
	c.mu.Unlock()
}

func (c *collector) all() []media.CompressedSample {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]media.CompressedSample, len(c.samples))
	copy(out, c.samples)
	return out
}

func newTestSession(t *testing.T, cfg Config, opts Options) (*Session, *collector) {
	t.Helper()
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	c := &collector{}
	s := NewSession(cfg, opts)
	s.OnSample(c.handle)
	return s, c
}

func TestSession_OrderingUnderJitter(t *testing.T) {
	s, c := newTestSession(t, Config{EmitJitter: 2 * time.Millisecond}, Options{})
	s.Prepare(FormatHint{Width: 1280, Height: 720})
	defer s.Teardown()

	const frames = 40
	pts := int64(0)
	for i := 0; i < frames; i++ {
		s.Encode(testFrame(pts))
		pts += 33_333
		// Pace submissions so the bounded queue never rejects.
		time.Sleep(500 * time.Microsecond)
	}
	s.Flush()

	got := c.all()
	if len(got)+int(s.DroppedFrames()) != frames {
		t.Fatalf("emitted %d + dropped %d, want %d total", len(got), s.DroppedFrames(), frames)
	}
	for i := 1; i < len(got); i++ {
		if got[i].PTS <= got[i-1].PTS {
			t.Fatalf("sample %d PTS %d not after %d", i, got[i].PTS, got[i-1].PTS)
		}
	}
	if c.overlap.Load() {
		t.Error("sample handler entered concurrently")
	}
}

func TestSession_FlushDeliversEverything(t *testing.T) {
	s, c := newTestSession(t, Config{}, Options{})
	s.Prepare(FormatHint{Width: 640, Height: 360})
	defer s.Teardown()

	for i := int64(0); i < 10; i++ {
		s.Encode(testFrame(i * 33_333))
	}
	s.Flush()

	if got := len(c.all()); got != 10 {
		t.Errorf("got %d samples after flush, want 10", got)
	}
}

func TestSession_KeyframeCadenceByCount(t *testing.T) {
	s, c := newTestSession(t, Config{KeyframeInterval: 5, KeyframeMaxGap: time.Hour}, Options{})
	s.Prepare(FormatHint{Width: 640, Height: 360})
	defer s.Teardown()

	for i := int64(0); i < 12; i++ {
		s.Encode(testFrame(i * 33_333))
	}
	s.Flush()

	got := c.all()
	if len(got) != 12 {
		t.Fatalf("got %d samples, want 12", len(got))
	}
	for i, smp := range got {
		wantKey := i%5 == 0
		if smp.IsKeyframe != wantKey {
			t.Errorf("sample %d keyframe = %v, want %v", i, smp.IsKeyframe, wantKey)
		}
	}
}

func TestSession_KeyframeCadenceByGap(t *testing.T) {
	s, c := newTestSession(t, Config{KeyframeInterval: 1000, KeyframeMaxGap: 2 * time.Second}, Options{})
	s.Prepare(FormatHint{Width: 640, Height: 360})
	defer s.Teardown()

	// 1 fps input: every other frame crosses the 2s wall-time gap.
	for i := int64(0); i < 6; i++ {
		s.Encode(testFrame(i * time.Second.Microseconds()))
	}
	s.Flush()

	got := c.all()
	if len(got) != 6 {
		t.Fatalf("got %d samples, want 6", len(got))
	}
	if !got[0].IsKeyframe {
		t.Error("first sample must be a keyframe")
	}
	if !got[2].IsKeyframe {
		t.Error("sample at +2s should trigger the wall-time keyframe")
	}
	if got[1].IsKeyframe || got[3].IsKeyframe {
		t.Error("samples inside the gap should be delta frames")
	}
}

func TestSession_BitrateCeiling(t *testing.T) {
	const maxBitrate = 400_000
	s, c := newTestSession(t, Config{
		TargetBitrate: 4_000_000,
		MaxBitrate:    maxBitrate,
	}, Options{})
	s.Prepare(FormatHint{Width: 1280, Height: 720})
	defer s.Teardown()

	for i := int64(0); i < 90; i++ {
		s.Encode(testFrame(i * 33_333))
		time.Sleep(200 * time.Microsecond)
	}
	s.Flush()

	got := c.all()
	if len(got) == 0 {
		t.Fatal("no samples emitted")
	}
	// Sum bytes over each trailing 1s PTS window; allow one minimum-size
	// sample of slack since the floor can push a window slightly over.
	const slack = minSampleBytes
	for i := range got {
		total := 0
		for j := i; j >= 0 && got[i].PTS-got[j].PTS < time.Second.Microseconds(); j-- {
			total += len(got[j].Data)
		}
		if total > maxBitrate/8+slack {
			t.Fatalf("window ending at sample %d carries %d bytes, ceiling %d", i, total, maxBitrate/8)
		}
	}
}

func TestSession_PrepareIdempotent(t *testing.T) {
	s, c := newTestSession(t, Config{}, Options{})
	s.Prepare(FormatHint{Width: 640, Height: 360})
	first := s.Format()
	s.Prepare(FormatHint{Width: 1280, Height: 720})
	defer s.Teardown()

	second := s.Format()
	if second == nil {
		t.Fatal("no descriptor after re-prepare")
	}
	if first == second {
		t.Error("re-prepare must build a fresh descriptor")
	}
	if second.Width() != 1280 || second.Height() != 720 {
		t.Errorf("descriptor geometry = %dx%d, want 1280x720", second.Width(), second.Height())
	}

	s.Encode(testFrame(0))
	s.Flush()
	if len(c.all()) != 1 {
		t.Error("session should encode normally after re-prepare")
	}
}

func TestSession_DegradedWhenBackendFails(t *testing.T) {
	failing := func(Config, SampleHandler) (Backend, error) {
		return nil, errors.New("no compressor available")
	}
	s, c := newTestSession(t, Config{}, Options{NewBackend: failing})

	s.Prepare(FormatHint{Width: 1280, Height: 720})
	if s.Format() != nil {
		t.Error("failed prepare must leave no descriptor")
	}

	s.Encode(testFrame(0))
	s.Flush()
	s.Teardown()

	if len(c.all()) != 0 {
		t.Error("degraded session must not emit samples")
	}
	if s.DroppedFrames() != 1 {
		t.Errorf("dropped = %d, want 1", s.DroppedFrames())
	}
}

func TestSession_TeardownRepeatable(t *testing.T) {
	s, c := newTestSession(t, Config{}, Options{})
	s.Prepare(FormatHint{Width: 640, Height: 360})

	s.Teardown()
	s.Teardown()

	s.Encode(testFrame(0))
	s.Flush()
	if len(c.all()) != 0 {
		t.Error("encode after teardown must be a no-op")
	}
}

func TestSession_CodecSelection(t *testing.T) {
	hevcProbe := func() Capabilities { return Capabilities{HardwareHEVC: true} }

	s, _ := newTestSession(t, Config{}, Options{Probe: hevcProbe})
	s.Prepare(FormatHint{Width: 1920, Height: 1080})
	defer s.Teardown()

	desc := s.Format()
	if desc == nil {
		t.Fatal("no descriptor")
	}
	if desc.Variant() != codec.VariantH265 {
		t.Errorf("variant = %v, want H.265 with hardware support", desc.Variant())
	}
	if desc.ParameterSetCount() != 3 {
		t.Errorf("H.265 descriptor has %d parameter sets, want 3", desc.ParameterSetCount())
	}

	s2, _ := newTestSession(t, Config{}, Options{})
	s2.Prepare(FormatHint{Width: 1920, Height: 1080})
	defer s2.Teardown()
	if s2.Format().Variant() != codec.VariantH264 {
		t.Error("default probe must select the H.264 fallback")
	}
}

func TestSyntheticBackend_QueueFull(t *testing.T) {
	emit := func(media.CompressedSample) {
		time.Sleep(50 * time.Millisecond)
	}
	b, err := NewSyntheticBackend(Config{Seed: 1}.withDefaults(), emit)
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	var sawFull bool
	for i := int64(0); i < int64(media.SampleBufferSize)*2+2; i++ {
		if err := b.Encode(testFrame(i)); errors.Is(err, ErrQueueFull) {
			sawFull = true
			break
		}
	}
	if !sawFull {
		t.Error("expected ErrQueueFull once the bounded queue filled")
	}
}

func TestSyntheticBackend_EncodeAfterClose(t *testing.T) {
	b, err := NewSyntheticBackend(Config{Seed: 1}.withDefaults(), func(media.CompressedSample) {})
	if err != nil {
		t.Fatal(err)
	}
	b.Close()
	if err := b.Encode(testFrame(0)); !errors.Is(err, ErrEncoderStopped) {
		t.Errorf("got %v, want ErrEncoderStopped", err)
	}
	if err := b.Flush(); !errors.Is(err, ErrEncoderStopped) {
		t.Errorf("flush after close: got %v, want ErrEncoderStopped", err)
	}
}
