package sender

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	srtgo "github.com/zsiec/srtgo"

	"github.com/fieldlens/uplink/media"
)

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// srtPayloadSize caps each socket write at the SRT live-mode payload size
// so a large keyframe never exceeds one message.
const srtPayloadSize = 1316

const srtDialTimeout = 10 * time.Second

// SRTConfig configures an SRTSender.
type SRTConfig struct {
	// Addr is the remote SRT listener, host:port.
	Addr string

	// StreamKey identifies this publisher; it is carried to the listener
	// as stream ID "live/<key>".
	StreamKey string
}

// SRTSender pushes framed packets over a single SRT connection. Like the
// QUIC sender it connects lazily, drops frames on failure, and redials on
// the next frame.
type SRTSender struct {
	log *slog.Logger
	cfg SRTConfig

	mu        sync.Mutex
	conn      *srtgo.Conn
	closed    bool
	formatTag string
	formatCfg []byte

	errors int64
}

var _ Sender = (*SRTSender)(nil)

// NewSRTSender creates a sender for the given SRT listener. No connection
// is made until the first frame arrives.
func NewSRTSender(cfg SRTConfig, log *slog.Logger) *SRTSender {
	if log == nil {
		log = slog.Default()
	}
	return &SRTSender{
		log: log.With("component", "srt-sender", "addr", cfg.Addr),
		cfg: cfg,
	}
}

// OnNetworkFrame implements sink.Consumer.
func (s *SRTSender) OnNetworkFrame(frame *media.NetworkFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if err := s.ensureConn(); err != nil {
		s.errors++
		s.log.Warn("connect failed, frame dropped", "pts", frame.PTS, "error", err)
		return
	}
	if err := WritePacket(chunkWriter{s.conn}, frame); err != nil {
		s.errors++
		s.log.Warn("send failed, frame dropped", "pts", frame.PTS, "error", err)
		s.conn.Close()
		s.conn = nil
	}
}

// chunkWriter splits writes into srtPayloadSize messages.
type chunkWriter struct {
	w io.Writer
}

func (cw chunkWriter) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		n := len(p)
		if n > srtPayloadSize {
			n = srtPayloadSize
		}
		if _, err := cw.w.Write(p[:n]); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// SetFormat implements Sender. The record is copied; later calls replace it
// and re-announce on a live connection.
func (s *SRTSender) SetFormat(codecTag string, config []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.formatTag = codecTag
	s.formatCfg = append([]byte(nil), config...)
	if s.closed || s.conn == nil {
		return
	}
	if err := WriteFormatPacket(chunkWriter{s.conn}, s.formatTag, s.formatCfg); err != nil {
		s.errors++
		s.log.Warn("format announce failed", "error", err)
		s.conn.Close()
		s.conn = nil
	}
}

// Errors reports frames lost to connect or send failures.
func (s *SRTSender) Errors() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Close tears the connection down. Subsequent frames are ignored.
func (s *SRTSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	return nil
}

// ensureConn dials the listener if not already connected. The dial runs in
// a goroutine so a hung handshake cannot wedge the pipeline past the
// timeout. Caller holds s.mu.
func (s *SRTSender) ensureConn() error {
	if s.conn != nil {
		return nil
	}

	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs
	cfg.StreamID = "live/" + s.cfg.StreamKey

	type dialResult struct {
		conn *srtgo.Conn
		err  error
	}
	ch := make(chan dialResult, 1)
	go func() {
		conn, err := srtgo.Dial(s.cfg.Addr, cfg)
		ch <- dialResult{conn, err}
	}()

	timer := time.NewTimer(srtDialTimeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return fmt.Errorf("SRT dial: %w", res.err)
		}
		s.conn = res.conn
		if len(s.formatCfg) > 0 {
			if err := WriteFormatPacket(chunkWriter{s.conn}, s.formatTag, s.formatCfg); err != nil {
				s.conn.Close()
				s.conn = nil
				return fmt.Errorf("announcing format: %w", err)
			}
		}
		s.log.Info("connected", "stream_id", cfg.StreamID)
		return nil
	case <-timer.C:
		// Drain the dial result in the background and close any leaked connection.
		go func() {
			if res := <-ch; res.conn != nil {
				res.conn.Close()
			}
		}()
		return fmt.Errorf("SRT dial timed out after %s", srtDialTimeout)
	}
}
