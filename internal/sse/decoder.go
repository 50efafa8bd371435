// Package sse decodes the event/data framing used by the page-processing
// stream. It is transport-free: bytes go in through Write, complete events
// come out through Next.
package sse

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/spherical/takeoff/internal/domain"
	"github.com/spherical/takeoff/internal/observability"
)

// DefaultMaxBufferSize bounds the bytes held for one incomplete frame.
const DefaultMaxBufferSize = 8 << 20

var frameDelimiter = []byte("\n\n")

// Reserved event types of the processing stream
const (
	EventProgress = "progress"
	EventResult   = "result"
	EventError    = "error"
	EventDone     = "done"
)

// Event is one decoded frame
type Event struct {
	Type string
	Data json.RawMessage
}

// Decoder buffers raw chunks and yields complete events. Frames are
// delimited by a blank line; a trailing partial frame stays buffered until
// more bytes arrive.
type Decoder struct {
	buf     []byte
	max     int
	dropped int
	logger  *observability.Logger
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithMaxBufferSize overrides DefaultMaxBufferSize. Values <= 0 are ignored.
func WithMaxBufferSize(n int) DecoderOption {
	return func(d *Decoder) {
		if n > 0 {
			d.max = n
		}
	}
}

// WithLogger sets the logger used to report dropped frames.
func WithLogger(logger *observability.Logger) DecoderOption {
	return func(d *Decoder) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// NewDecoder creates an empty decoder.
func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{
		max:    DefaultMaxBufferSize,
		logger: observability.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Write appends a chunk. It fails only when the unconsumed bytes would
// exceed the buffer limit, in which case the chunk is not retained.
func (d *Decoder) Write(p []byte) (int, error) {
	if len(d.buf)+len(p) > d.max {
		// Complete frames may still be waiting; only the tail counts.
		if tail := d.tailLen(p); tail > d.max {
			return 0, domain.ProtocolError("frame exceeds buffer limit", domain.ErrBufferOverflow)
		}
	}
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// tailLen is the length of the partial frame that would remain after p is
// appended and every complete frame is consumed.
func (d *Decoder) tailLen(p []byte) int {
	joined := make([]byte, 0, len(d.buf)+len(p))
	joined = append(joined, d.buf...)
	joined = append(joined, p...)
	if i := bytes.LastIndex(joined, frameDelimiter); i >= 0 {
		return len(joined) - i - len(frameDelimiter)
	}
	return len(joined)
}

// Next returns the next complete event. ok is false when more bytes are
// needed. Frames without both an event line and a data line, and frames
// whose data is not valid JSON, are skipped.
func (d *Decoder) Next() (evt Event, ok bool) {
	for {
		i := bytes.Index(d.buf, frameDelimiter)
		if i < 0 {
			return Event{}, false
		}
		frame := string(d.buf[:i])
		d.buf = d.buf[i+len(frameDelimiter):]

		if strings.TrimSpace(frame) == "" {
			continue
		}
		evt, ok := parseFrame(frame)
		if !ok {
			d.dropped++
			d.logger.Debug().Str("frame", truncate(frame, 120)).Msg("dropping frame without event or data line")
			continue
		}
		if !json.Valid(evt.Data) {
			d.dropped++
			d.logger.Warn().Str("event", evt.Type).Str("data", truncate(string(evt.Data), 120)).Msg("dropping frame with malformed payload")
			continue
		}
		return evt, true
	}
}

// Buffered reports how many bytes of an incomplete frame are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Dropped reports how many frames were discarded as malformed.
func (d *Decoder) Dropped() int {
	return d.dropped
}

// Reset discards any buffered bytes.
func (d *Decoder) Reset() {
	d.buf = nil
}

// parseFrame extracts the event type from a leading "event: <token>" line
// and the payload from the first "data: <rest>" line.
func parseFrame(frame string) (Event, bool) {
	lines := strings.Split(frame, "\n")

	eventType, ok := parseEventLine(lines[0])
	if !ok || len(lines) < 2 {
		return Event{}, false
	}

	for _, line := range lines[1:] {
		if data, found := strings.CutPrefix(line, "data: "); found && data != "" {
			return Event{Type: eventType, Data: json.RawMessage(data)}, true
		}
	}
	return Event{}, false
}

func parseEventLine(line string) (string, bool) {
	token, found := strings.CutPrefix(line, "event: ")
	if !found || token == "" {
		return "", false
	}
	for _, r := range token {
		if !isWordRune(r) {
			return "", false
		}
	}
	return token, true
}

func isWordRune(r rune) bool {
	return r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
