package sender

import "github.com/fieldlens/uplink/internal/sink"

// Sender is the common surface of the transport implementations: frame
// delivery behind the sink, the out-of-band format announcement, and
// lifecycle.
type Sender interface {
	sink.Consumer

	// SetFormat stores the decoder configuration record announced at
	// stream start. A connected sender sends it immediately; it is re-sent
	// after every reconnect.
	SetFormat(codecTag string, config []byte)

	// Errors reports frames lost to connect or send failures.
	Errors() int64

	Close() error
}
