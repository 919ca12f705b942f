// Package capture produces raw video frames for the pipeline. The only
// implementation here is a synthetic generator; on a device build the same
// interface fronts the camera callback.
package capture

import (
	"context"
	"time"

	"github.com/fieldlens/uplink/media"
)

// FrameFunc receives each captured frame. The frame's plane buffers are
// borrowed for the duration of the call only; the generator reuses them.
type FrameFunc func(frame media.RawFrame)

// Source generates NV12 frames at a fixed rate with a monotonic
// microsecond timestamp. Plane buffers are allocated once and reused, so a
// consumer that needs to retain pixels must copy them, the same contract a
// camera capture buffer imposes.
type Source struct {
	width  int
	height int
	fps    int

	luma   []byte
	chroma []byte
}

// NewSource creates a generator for the given geometry and rate.
func NewSource(width, height, fps int) *Source {
	if fps <= 0 {
		fps = 30
	}
	return &Source{
		width:  width,
		height: height,
		fps:    fps,
		luma:   make([]byte, width*height),
		chroma: make([]byte, width*height/2),
	}
}

// Width returns the frame width.
func (s *Source) Width() int { return s.width }

// Height returns the frame height.
func (s *Source) Height() int { return s.height }

// Run generates frames until the context is cancelled, invoking fn once
// per frame from this goroutine.
func (s *Source) Run(ctx context.Context, fn FrameFunc) error {
	interval := time.Second / time.Duration(s.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	start := time.Now()
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		s.paint(n)
		fn(media.RawFrame{
			Planes:  [][]byte{s.luma, s.chroma},
			Strides: []int{s.width, s.width},
			Width:   s.width,
			Height:  s.height,
			PTS:     time.Since(start).Microseconds(),
		})
		n++
	}
}

// paint fills the luma plane with a moving gradient so successive frames
// differ, which matters only when pixels are ever inspected downstream.
func (s *Source) paint(n int) {
	for y := 0; y < s.height; y++ {
		row := s.luma[y*s.width : (y+1)*s.width]
		for x := range row {
			row[x] = byte(x + y + n)
		}
	}
}
