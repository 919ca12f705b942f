// Package pipeline orchestrates the capture-to-network data flow for a
// single outgoing stream: raw frames enter the compressor session, emitted
// samples are rewritten to Annex B form, and the resulting network frames
// are handed to the sink, all while telemetry accumulates.
package pipeline

import (
	"log/slog"

	"github.com/fieldlens/uplink/internal/annexb"
	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/internal/encoder"
	"github.com/fieldlens/uplink/internal/sink"
	"github.com/fieldlens/uplink/internal/stats"
	"github.com/fieldlens/uplink/media"
)

// Pipeline bridges the compressor session, the bitstream reformatter, and
// the frame sink. Samples flow through on the compressor's emission
// goroutine; Encode is called from the capture goroutine.
type Pipeline struct {
	log         *slog.Logger
	session     *encoder.Session
	reformatter *annexb.Reformatter
	sink        *sink.Sink
	stats       *stats.EncodeStats
}

// New creates a pipeline around a fresh session with the given compressor
// tuning. The sink starts with no consumer; attach one via Sink().
func New(cfg encoder.Config, opts encoder.Options, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	if opts.Logger == nil {
		opts.Logger = log
	}

	p := &Pipeline{
		log:         log.With("component", "pipeline"),
		reformatter: annexb.NewReformatter(log),
		sink:        sink.New(),
		stats:       stats.NewEncodeStats(),
	}
	p.session = encoder.NewSession(cfg, opts)
	p.session.OnSample(p.onSample)
	return p
}

// Sink exposes the delivery endpoint so callers can attach a consumer.
func (p *Pipeline) Sink() *sink.Sink { return p.sink }

// Stats exposes the telemetry accumulator.
func (p *Pipeline) Stats() *stats.EncodeStats { return p.stats }

// Format returns the descriptor negotiated by the last Prepare, or nil
// when the session is unprepared or degraded.
func (p *Pipeline) Format() *codec.FormatDescriptor { return p.session.Format() }

// Prepare sets up the compressor for the given input geometry and installs
// the negotiated format on the reformatter. Safe to call again on a
// geometry change.
func (p *Pipeline) Prepare(width, height int) {
	p.session.Prepare(encoder.FormatHint{Width: width, Height: height, PixelFormat: "nv12"})

	desc := p.session.Format()
	p.reformatter.SetFormat(desc)
	if desc == nil {
		return
	}

	label := media.CodecH264
	if desc.Variant() == codec.VariantH265 {
		label = media.CodecH265
	}
	p.stats.RecordFormat(label, desc.Width(), desc.Height())
}

// Encode submits one raw frame. Non-blocking; the frame's buffers are
// borrowed only for the duration of the call.
func (p *Pipeline) Encode(frame media.RawFrame) {
	before := p.session.DroppedFrames()
	p.session.Encode(frame)
	if p.session.DroppedFrames() > before {
		p.stats.RecordDropped()
	}
}

// Flush drains the compressor so every submitted frame reaches the sink.
func (p *Pipeline) Flush() {
	p.session.Flush()
}

// Close flushes and releases the compressor. The sink's consumer is
// detached afterwards so late frames cannot reach a closed sender.
func (p *Pipeline) Close() {
	p.session.Teardown()
	p.sink.SetConsumer(nil)
	p.log.Info("pipeline closed",
		"delivered", p.sink.Delivered(),
		"dropped", p.session.DroppedFrames(),
		"fallbacks", p.reformatter.FallbackCount())
}

// Snapshot returns a point-in-time view of pipeline health, suitable for
// JSON serialization.
func (p *Pipeline) Snapshot() stats.Snapshot {
	return p.stats.Snapshot()
}

// onSample runs on the compressor's emission goroutine, in PTS order.
func (p *Pipeline) onSample(sample media.CompressedSample) {
	before := p.reformatter.FallbackCount()
	frame := p.reformatter.Reformat(sample)
	if p.reformatter.FallbackCount() > before {
		p.stats.RecordFallback()
	}

	p.stats.RecordFrame(int64(len(frame.Data)), frame.IsKeyframe, frame.PTS)

	delivered := p.sink.Delivered()
	p.sink.Publish(frame)
	if p.sink.Delivered() > delivered {
		p.stats.RecordDelivered(int64(len(frame.Data)))
	}
}
