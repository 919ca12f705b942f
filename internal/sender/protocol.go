// Package sender ships network frames upstream. The wire format is a fixed
// 20-byte packet header followed by the Annex B payload, one packet per
// frame, carried over QUIC unidirectional streams or an SRT connection.
package sender

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fieldlens/uplink/media"
)

// Packet header layout, all integers big-endian:
//
//	offset 0  [4] magic "UPLK"
//	offset 4  [1] version
//	offset 5  [1] packet type
//	offset 6  [1] codec
//	offset 7  [1] flags (bit 0: keyframe)
//	offset 8  [8] PTS, microseconds
//	offset 16 [4] payload length
const (
	headerSize      = 20
	protocolVersion = 1
)

var magic = [4]byte{'U', 'P', 'L', 'K'}

// Packet types.
const (
	PacketVideo  byte = 1
	PacketFormat byte = 2
)

// Codec identifiers carried in the header.
const (
	WireCodecH264 byte = 1
	WireCodecH265 byte = 2
)

const flagKeyframe = 0x01

// maxPayloadSize bounds a single packet; anything larger is a corrupt
// header, not a real frame.
const maxPayloadSize = 16 << 20

// Packet is one framed unit on the wire.
type Packet struct {
	Type       byte
	Codec      byte
	PTS        int64
	IsKeyframe bool
	Payload    []byte
}

// wireCodec maps a frame's codec tag to its header identifier.
func wireCodec(tag string) byte {
	if tag == media.CodecH265 {
		return WireCodecH265
	}
	return WireCodecH264
}

// codecTag is the inverse of wireCodec, for receivers.
func codecTag(c byte) string {
	if c == WireCodecH265 {
		return media.CodecH265
	}
	return media.CodecH264
}

// WritePacket frames one network frame onto w.
func WritePacket(w io.Writer, frame *media.NetworkFrame) error {
	var flags byte
	if frame.IsKeyframe {
		flags |= flagKeyframe
	}
	return writeFrame(w, PacketVideo, wireCodec(frame.Codec), flags, frame.PTS, frame.Data)
}

// WriteFormatPacket frames a decoder configuration record onto w. Sent
// ahead of the first video packet and again after every reconnect so the
// receiver can configure a decoder before any frame data arrives.
func WriteFormatPacket(w io.Writer, codecTag string, config []byte) error {
	return writeFrame(w, PacketFormat, wireCodec(codecTag), 0, 0, config)
}

func writeFrame(w io.Writer, typ, codecID, flags byte, pts int64, payload []byte) error {
	var hdr [headerSize]byte
	copy(hdr[0:4], magic[:])
	hdr[4] = protocolVersion
	hdr[5] = typ
	hdr[6] = codecID
	hdr[7] = flags
	binary.BigEndian.PutUint64(hdr[8:16], uint64(pts))
	binary.BigEndian.PutUint32(hdr[16:20], uint32(len(payload)))

	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("writing packet header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("writing packet payload: %w", err)
	}
	return nil
}

// ReadPacket reads one framed packet from r. It returns io.EOF cleanly when
// the stream ends on a packet boundary.
func ReadPacket(r io.Reader) (*Packet, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("reading packet header: %w", err)
	}
	if [4]byte(hdr[0:4]) != magic {
		return nil, fmt.Errorf("bad packet magic %x", hdr[0:4])
	}
	if hdr[4] != protocolVersion {
		return nil, fmt.Errorf("unsupported protocol version %d", hdr[4])
	}
	length := binary.BigEndian.Uint32(hdr[16:20])
	if length > maxPayloadSize {
		return nil, fmt.Errorf("payload length %d exceeds limit", length)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("reading packet payload: %w", err)
	}

	return &Packet{
		Type:       hdr[5],
		Codec:      hdr[6],
		PTS:        int64(binary.BigEndian.Uint64(hdr[8:16])),
		IsKeyframe: hdr[7]&flagKeyframe != 0,
		Payload:    payload,
	}, nil
}

// CodecTag returns the string codec tag for the packet's codec byte.
func (p *Packet) CodecTag() string {
	return codecTag(p.Codec)
}
