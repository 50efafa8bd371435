package sse

import (
	"errors"
	"io"
)

const defaultChunkSize = 4096

// StreamParser pulls chunks from a reader and feeds them to a Decoder.
type StreamParser struct {
	r       io.Reader
	dec     *Decoder
	chunk   []byte
	onChunk func(n int)
	err     error
	residue int
}

// NewStreamParser creates a new stream parser.
func NewStreamParser(r io.Reader, opts ...DecoderOption) *StreamParser {
	return &StreamParser{
		r:     r,
		dec:   NewDecoder(opts...),
		chunk: make([]byte, defaultChunkSize),
	}
}

// OnChunk registers a hook invoked with the size of every chunk read.
func (p *StreamParser) OnChunk(fn func(n int)) {
	p.onChunk = fn
}

// Next reads until one complete event is available. At end of input it
// returns io.EOF; any partial frame left in the buffer is discarded.
func (p *StreamParser) Next() (Event, error) {
	for {
		if evt, ok := p.dec.Next(); ok {
			return evt, nil
		}
		if p.err != nil {
			if errors.Is(p.err, io.EOF) && p.dec.Buffered() > 0 {
				p.residue = p.dec.Buffered()
				p.dec.Reset()
			}
			return Event{}, p.err
		}

		n, err := p.r.Read(p.chunk)
		if n > 0 {
			if p.onChunk != nil {
				p.onChunk(n)
			}
			if _, werr := p.dec.Write(p.chunk[:n]); werr != nil {
				p.err = werr
				return Event{}, werr
			}
		}
		if err != nil {
			// Frames completed by the final chunk are still returned first.
			p.err = err
		}
	}
}

// Residual reports the bytes of the incomplete frame discarded at end of
// input.
func (p *StreamParser) Residual() int {
	return p.residue
}

// Dropped reports how many frames were discarded as malformed.
func (p *StreamParser) Dropped() int {
	return p.dec.Dropped()
}
