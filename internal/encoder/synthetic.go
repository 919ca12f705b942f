package encoder

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/media"
)

// ErrEncoderStopped is returned by Encode after the backend closed.
var ErrEncoderStopped = errors.New("encoder stopped")

// ErrQueueFull is returned when the submission queue cannot accept another
// frame without blocking; the caller drops the frame and moves on.
var ErrQueueFull = errors.New("encode queue full")

// laplaceScale shapes the deviation of per-frame sizes from the target, the
// same distribution used to model real encoder output statistically.
const laplaceScale = 0.15

// keyframeSizeFactor approximates how much larger an intra frame is than a
// predicted frame at the same quality.
const keyframeSizeFactor = 6

// minSampleBytes keeps degenerate configurations from emitting empty NALs.
const minSampleBytes = 64

// Canned parameter sets handed out by the synthetic backend so the rest of
// the pipeline (descriptor construction, keyframe injection, config
// records) exercises real blobs. The H.264 pair decodes as 1280x720 high
// profile; the H.265 triple carries a minimal valid profile_tier_level.
var (
	syntheticH264SPS = []byte{
		0x67, 0x64, 0x00, 0x1F, 0xAC, 0xD9, 0x40, 0x50, 0x05, 0xBB, 0x01, 0x10,
		0x00, 0x00, 0x03, 0x00, 0x10, 0x00, 0x00, 0x03, 0x03, 0xC0, 0xF1, 0x83,
		0x19, 0x60,
	}
	syntheticH264PPS = []byte{0x68, 0xEB, 0xEC, 0xB2, 0x2C}

	syntheticH265VPS = []byte{
		0x40, 0x01, 0x0C, 0x01, 0xFF, 0xFF, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00,
		0x90, 0x00, 0x00, 0x03, 0x00, 0x00, 0x03, 0x00, 0x5D, 0x95, 0x98, 0x09,
	}
	syntheticH265SPS = []byte{
		0x42, 0x01, 0x01, 0x01, 0x60, 0x00, 0x00, 0x03, 0x00, 0x90, 0x00, 0x00,
		0x03, 0x00, 0x00, 0x03, 0x00, 0x5D, 0xA0, 0x02, 0x80, 0x80, 0x2D, 0x16,
		0x59, 0x59, 0xA4, 0x93, 0x2B, 0xC0, 0x40, 0x40, 0x00, 0x00, 0x03, 0x00,
		0x40, 0x00, 0x00, 0x07, 0x82,
	}
	syntheticH265PPS = []byte{0x44, 0x01, 0xC1, 0x72, 0xB4, 0x62, 0x40}
)

type syntheticJob struct {
	pts   int64
	flush chan struct{}
}

type windowEntry struct {
	pts   int64
	bytes int
}

// SyntheticBackend fabricates compressed samples whose sizes and keyframe
// cadence follow the configured rate control, without running a real codec.
// It drives the CLI demo end to end and gives tests a deterministic
// compressor with genuine asynchronous delivery.
type SyntheticBackend struct {
	cfg       Config
	emit      SampleHandler
	paramSets []codec.ParameterSet

	jobs chan syntheticJob
	done chan struct{}
	stop sync.Once
	wg   sync.WaitGroup

	// Worker-owned state, touched only by the run goroutine.
	rnd            *rand.Rand
	framesSinceKey int
	lastKeyPTS     int64
	sawKeyframe    bool
	window         []windowEntry
}

// NewSyntheticBackend creates a synthetic compressor. It satisfies
// BackendFactory.
func NewSyntheticBackend(cfg Config, emit SampleHandler) (Backend, error) {
	if emit == nil {
		return nil, errors.New("nil sample handler")
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	var sets []codec.ParameterSet
	if cfg.Variant == codec.VariantH265 {
		sets = []codec.ParameterSet{
			{Type: codec.ParamVPS, Data: syntheticH265VPS},
			{Type: codec.ParamSPS, Data: syntheticH265SPS},
			{Type: codec.ParamPPS, Data: syntheticH265PPS},
		}
	} else {
		sets = []codec.ParameterSet{
			{Type: codec.ParamSPS, Data: syntheticH264SPS},
			{Type: codec.ParamPPS, Data: syntheticH264PPS},
		}
	}

	b := &SyntheticBackend{
		cfg:       cfg,
		emit:      emit,
		paramSets: sets,
		jobs:      make(chan syntheticJob, media.SampleBufferSize),
		done:      make(chan struct{}),
		rnd:       rand.New(rand.NewSource(seed)),
	}
	b.wg.Add(1)
	go b.run()
	return b, nil
}

// ParameterSets returns the canned parameter sets for the configured codec.
func (b *SyntheticBackend) ParameterSets() []codec.ParameterSet {
	return b.paramSets
}

// Encode queues one frame. Only the PTS crosses the asynchronous boundary,
// so the borrowed plane buffers are never retained.
func (b *SyntheticBackend) Encode(frame media.RawFrame) error {
	select {
	case <-b.done:
		return ErrEncoderStopped
	default:
	}
	select {
	case b.jobs <- syntheticJob{pts: frame.PTS}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Flush blocks until every queued job has been emitted.
func (b *SyntheticBackend) Flush() error {
	select {
	case <-b.done:
		return ErrEncoderStopped
	default:
	}
	ack := make(chan struct{})
	select {
	case b.jobs <- syntheticJob{flush: ack}:
	case <-b.done:
		return ErrEncoderStopped
	}
	select {
	case <-ack:
		return nil
	case <-b.done:
		return ErrEncoderStopped
	}
}

// Close stops the worker. Queued samples that were not flushed are dropped.
func (b *SyntheticBackend) Close() {
	b.stop.Do(func() { close(b.done) })
	b.wg.Wait()
}

func (b *SyntheticBackend) run() {
	defer b.wg.Done()
	for {
		select {
		case <-b.done:
			return
		case job := <-b.jobs:
			if job.flush != nil {
				close(job.flush)
				continue
			}
			if b.cfg.EmitJitter > 0 {
				time.Sleep(time.Duration(b.rnd.Int63n(int64(b.cfg.EmitJitter))))
			}
			b.emit(b.synthesize(job.pts))
		}
	}
}

// synthesize builds one compressed sample for the given PTS, applying the
// keyframe cadence and the 1-second bitrate ceiling.
func (b *SyntheticBackend) synthesize(pts int64) media.CompressedSample {
	keyframe := !b.sawKeyframe ||
		b.framesSinceKey >= b.cfg.KeyframeInterval ||
		pts-b.lastKeyPTS >= b.cfg.KeyframeMaxGap.Microseconds()

	if keyframe {
		b.framesSinceKey = 0
		b.lastKeyPTS = pts
		b.sawKeyframe = true
	}
	b.framesSinceKey++

	size := b.frameSize(keyframe)
	size = b.applyCeiling(pts, size)

	prefix := b.cfg.NALULengthSize
	if prefix < 1 || prefix > 4 {
		prefix = 4
	}
	if prefix < 4 {
		if maxNAL := 1<<(8*prefix) - 1; size > maxNAL {
			size = maxNAL
		}
	}

	payload := make([]byte, size)
	b.rnd.Read(payload)
	b.stampNALHeader(payload, keyframe)

	data := make([]byte, 0, prefix+size)
	for i := prefix - 1; i >= 0; i-- {
		data = append(data, byte(size>>(8*i)))
	}
	data = append(data, payload...)

	return media.CompressedSample{
		Data:           data,
		PTS:            pts,
		IsKeyframe:     keyframe,
		NALULengthSize: prefix,
	}
}

// frameSize draws a Laplace-noised size around the per-frame budget.
func (b *SyntheticBackend) frameSize(keyframe bool) int {
	budget := float64(b.cfg.TargetBitrate) / (8 * float64(b.cfg.FPS))
	if keyframe {
		budget *= keyframeSizeFactor
	}
	e1 := -laplaceScale * math.Log(b.rnd.Float64())
	e2 := -laplaceScale * math.Log(b.rnd.Float64())
	size := int(budget * (1 - (e1 - e2)))
	if size < minSampleBytes {
		size = minSampleBytes
	}
	return size
}

// applyCeiling trims the sample so bytes within the trailing 1 second of
// PTS never exceed the hard MaxBitrate ceiling.
func (b *SyntheticBackend) applyCeiling(pts int64, size int) int {
	cutoff := pts - time.Second.Microseconds()
	i := 0
	for i < len(b.window) && b.window[i].pts <= cutoff {
		i++
	}
	b.window = b.window[i:]

	total := 0
	for _, e := range b.window {
		total += e.bytes
	}
	ceiling := b.cfg.MaxBitrate / 8
	if total+size > ceiling {
		size = ceiling - total
		if size < minSampleBytes {
			size = minSampleBytes
		}
	}
	b.window = append(b.window, windowEntry{pts: pts, bytes: size})
	return size
}

// stampNALHeader overwrites the payload's leading bytes with a valid NAL
// header for the configured codec so downstream parsers see a plausible
// unit type.
func (b *SyntheticBackend) stampNALHeader(payload []byte, keyframe bool) {
	if len(payload) == 0 {
		return
	}
	if b.cfg.Variant == codec.VariantH265 {
		if keyframe {
			payload[0] = 0x26 // IDR_W_RADL
		} else {
			payload[0] = 0x02 // TRAIL_R
		}
		if len(payload) > 1 {
			payload[1] = 0x01
		}
		return
	}
	if keyframe {
		payload[0] = 0x65 // IDR slice
	} else {
		payload[0] = 0x41 // non-IDR slice
	}
}
