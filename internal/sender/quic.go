package sender

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fieldlens/uplink/media"
)

// alpnProtocol is negotiated on every uplink QUIC connection.
const alpnProtocol = "uplink"

const quicMaxIdleTimeout = 30 * time.Second

// QUICConfig configures a QUICSender.
type QUICConfig struct {
	// Addr is the remote ingest endpoint, host:port.
	Addr string

	// CertFingerprint, when set, is the hex SHA-256 of the server's leaf
	// certificate; the connection is pinned to it instead of the system
	// roots. Self-signed deployments use this.
	CertFingerprint string

	// Insecure skips certificate verification entirely. Test use only.
	Insecure bool
}

// QUICSender delivers network frames over a QUIC connection, one
// unidirectional stream per session. Send errors drop the frame and tear
// the connection down; the next Send redials. A live stream would rather
// lose frames than block the pipeline behind a dead transport.
type QUICSender struct {
	log *slog.Logger
	cfg QUICConfig

	mu        sync.Mutex
	conn      quic.Connection
	stream    quic.SendStream
	closed    bool
	formatTag string
	formatCfg []byte

	errors int64
}

var _ Sender = (*QUICSender)(nil)

// NewQUICSender creates a sender for the given endpoint. No connection is
// made until the first frame arrives.
func NewQUICSender(cfg QUICConfig, log *slog.Logger) *QUICSender {
	if log == nil {
		log = slog.Default()
	}
	return &QUICSender{
		log: log.With("component", "quic-sender", "addr", cfg.Addr),
		cfg: cfg,
	}
}

// OnNetworkFrame implements sink.Consumer. Called from the pipeline's
// delivery goroutine; a transport error is logged, counted, and absorbed.
func (s *QUICSender) OnNetworkFrame(frame *media.NetworkFrame) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	if err := s.ensureStream(); err != nil {
		s.errors++
		s.log.Warn("connect failed, frame dropped", "pts", frame.PTS, "error", err)
		return
	}
	if err := WritePacket(s.stream, frame); err != nil {
		s.errors++
		s.log.Warn("send failed, frame dropped", "pts", frame.PTS, "error", err)
		s.teardownLocked()
	}
}

// SetFormat implements Sender. The record is copied; later calls replace it
// and re-announce on a live stream, covering a mid-stream format change.
func (s *QUICSender) SetFormat(codecTag string, config []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.formatTag = codecTag
	s.formatCfg = append([]byte(nil), config...)
	if s.closed || s.stream == nil {
		return
	}
	if err := WriteFormatPacket(s.stream, s.formatTag, s.formatCfg); err != nil {
		s.errors++
		s.log.Warn("format announce failed", "error", err)
		s.teardownLocked()
	}
}

// Errors reports frames lost to connect or send failures.
func (s *QUICSender) Errors() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errors
}

// Close shuts the stream down cleanly so the receiver sees a FIN rather
// than a reset, then closes the connection.
func (s *QUICSender) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var err error
	if s.stream != nil {
		err = s.stream.Close()
		s.stream = nil
	}
	if s.conn != nil {
		s.conn.CloseWithError(0, "done")
		s.conn = nil
	}
	return err
}

// ensureStream dials and opens the frame stream if not already connected.
// Caller holds s.mu.
func (s *QUICSender) ensureStream() error {
	if s.stream != nil {
		return nil
	}

	tlsConf := &tls.Config{
		NextProtos: []string{alpnProtocol},
	}
	switch {
	case s.cfg.Insecure:
		tlsConf.InsecureSkipVerify = true
	case s.cfg.CertFingerprint != "":
		tlsConf.InsecureSkipVerify = true
		tlsConf.VerifyPeerCertificate = pinVerifier(s.cfg.CertFingerprint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := quic.DialAddr(ctx, s.cfg.Addr, tlsConf, &quic.Config{
		MaxIdleTimeout: quicMaxIdleTimeout,
	})
	if err != nil {
		return fmt.Errorf("QUIC dial: %w", err)
	}

	stream, err := conn.OpenUniStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "stream open failed")
		return fmt.Errorf("opening frame stream: %w", err)
	}

	s.conn = conn
	s.stream = stream

	if len(s.formatCfg) > 0 {
		if err := WriteFormatPacket(stream, s.formatTag, s.formatCfg); err != nil {
			s.teardownLocked()
			return fmt.Errorf("announcing format: %w", err)
		}
	}
	s.log.Info("connected")
	return nil
}

// teardownLocked drops the broken connection so the next frame redials.
// Caller holds s.mu.
func (s *QUICSender) teardownLocked() {
	if s.stream != nil {
		s.stream.CancelWrite(0)
		s.stream = nil
	}
	if s.conn != nil {
		s.conn.CloseWithError(0, "send failure")
		s.conn = nil
	}
}

// pinVerifier builds a VerifyPeerCertificate callback that accepts exactly
// the certificate with the given hex SHA-256 fingerprint.
func pinVerifier(fingerprint string) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("no peer certificate")
		}
		sum := sha256.Sum256(rawCerts[0])
		got := hex.EncodeToString(sum[:])
		if got != fingerprint {
			return fmt.Errorf("certificate fingerprint mismatch: %s", got)
		}
		return nil
	}
}
