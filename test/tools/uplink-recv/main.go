// uplink-recv is a development QUIC ingest endpoint for exercising the
// uplink sender end to end. It accepts one connection at a time, reads
// framed packets from unidirectional streams, re-parses the Annex B
// payloads, and prints per-second stream statistics.
//
// Usage:
//
//	uplink-recv --addr :4443
//
// The printed certificate fingerprint goes into the sender's
// UPLINK_CERT_FINGERPRINT.
package main

import (
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/quic-go/quic-go"

	"github.com/fieldlens/uplink/certs"
	"github.com/fieldlens/uplink/internal/annexb"
	"github.com/fieldlens/uplink/internal/codec"
	"github.com/fieldlens/uplink/internal/sender"
)

func main() {
	addrFlag := flag.String("addr", ":4443", "listen address")
	flag.Parse()

	cert, err := certs.Generate(14 * 24 * time.Hour)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate cert: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("listening on %s\n", *addrFlag)
	fmt.Printf("cert fingerprint: %s\n", cert.FingerprintHex())

	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert.TLSCert},
		NextProtos:   []string{"uplink"},
	}
	listener, err := quic.ListenAddr(*addrFlag, tlsConf, &quic.Config{
		MaxIdleTimeout: 30 * time.Second,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "listen: %v\n", err)
		os.Exit(1)
	}
	defer listener.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	for {
		conn, err := listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			fmt.Fprintf(os.Stderr, "accept: %v\n", err)
			continue
		}
		fmt.Printf("connection from %s\n", conn.RemoteAddr())
		serve(ctx, conn)
	}
}

func serve(ctx context.Context, conn quic.Connection) {
	var frames, keyframes, bytes, units atomic.Int64

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			stream, err := conn.AcceptUniStream(ctx)
			if err != nil {
				return
			}
			readFrames(stream, &frames, &keyframes, &bytes, &units)
		}
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	var lastFrames, lastBytes int64
	for {
		select {
		case <-done:
			fmt.Printf("connection closed: %d frames (%d key), %d NAL units, %d bytes\n",
				frames.Load(), keyframes.Load(), units.Load(), bytes.Load())
			return
		case <-ctx.Done():
			conn.CloseWithError(0, "shutting down")
			<-done
			return
		case <-ticker.C:
			f, b := frames.Load(), bytes.Load()
			fmt.Printf("%d fps, %d kbps, %d keyframes total\n",
				f-lastFrames, (b-lastBytes)*8/1000, keyframes.Load())
			lastFrames, lastBytes = f, b
		}
	}
}

// printFormat parses a decoder configuration record announced ahead of the
// video packets.
func printFormat(pkt *sender.Packet) {
	desc, err := codec.ParseDecoderConfig(codec.VariantFromTag(pkt.CodecTag()), pkt.Payload)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bad format packet: %v\n", err)
		return
	}
	fmt.Printf("format: %s, %d parameter sets, %d-byte NAL length prefixes\n",
		codec.CodecString(desc), desc.ParameterSetCount(), desc.NALULengthSize())
}

func readFrames(r io.Reader, frames, keyframes, bytes, units *atomic.Int64) {
	for {
		pkt, err := sender.ReadPacket(r)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				fmt.Fprintf(os.Stderr, "read: %v\n", err)
			}
			return
		}
		if pkt.Type == sender.PacketFormat {
			printFormat(pkt)
			continue
		}
		frames.Add(1)
		bytes.Add(int64(len(pkt.Payload)))
		if pkt.IsKeyframe {
			keyframes.Add(1)
		}
		nals := annexb.Split(pkt.Payload)
		units.Add(int64(len(nals)))
		if len(nals) == 0 {
			fmt.Fprintf(os.Stderr, "frame pts=%d carries no start-code units\n", pkt.PTS)
		}
	}
}
