package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spherical/takeoff/internal/domain"
)

const sampleStream = "event: progress\ndata: {\"percent\":10,\"status\":\"queued\",\"message\":\"queued\"}\n\n" +
	"event: progress\ndata: {\"percent\":50,\"status\":\"running\",\"message\":\"halfway été\"}\n\n" +
	"event: noise\n\n" +
	"event: progress\ndata: {not json}\n\n" +
	"event: result\ndata: {\"file_id\":\"f1\",\"page_number\":1}\n\n" +
	"event: done\ndata: {}\n\n"

type pair struct {
	Type string
	Data string
}

func decodeChunks(t *testing.T, chunks ...[]byte) []pair {
	t.Helper()
	dec := NewDecoder()
	var out []pair
	for _, c := range chunks {
		_, err := dec.Write(c)
		require.NoError(t, err)
		for {
			evt, ok := dec.Next()
			if !ok {
				break
			}
			out = append(out, pair{evt.Type, string(evt.Data)})
		}
	}
	return out
}

func TestDecoder_WholeStream(t *testing.T) {
	got := decodeChunks(t, []byte(sampleStream))

	want := []pair{
		{"progress", `{"percent":10,"status":"queued","message":"queued"}`},
		{"progress", "{\"percent\":50,\"status\":\"running\",\"message\":\"halfway été\"}"},
		{"result", `{"file_id":"f1","page_number":1}`},
		{"done", `{}`},
	}
	assert.Equal(t, want, got)
}

func TestDecoder_ChunkingInvariance(t *testing.T) {
	data := []byte(sampleStream)
	want := decodeChunks(t, data)

	t.Run("every two-way split", func(t *testing.T) {
		for i := 0; i <= len(data); i++ {
			got := decodeChunks(t, data[:i], data[i:])
			require.Equal(t, want, got, "split at %d", i)
		}
	})

	t.Run("every three-way split", func(t *testing.T) {
		for i := 0; i <= len(data); i += 3 {
			for j := i; j <= len(data); j += 7 {
				got := decodeChunks(t, data[:i], data[i:j], data[j:])
				require.Equal(t, want, got, "split at %d/%d", i, j)
			}
		}
	})

	t.Run("byte by byte", func(t *testing.T) {
		chunks := make([][]byte, len(data))
		for i := range data {
			chunks[i] = data[i : i+1]
		}
		assert.Equal(t, want, decodeChunks(t, chunks...))
	})
}

func TestDecoder_IncompleteFrames(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"event without data", "event: progress\n\n"},
		{"data without event", "data: {\"percent\":1}\n\n"},
		{"event line not first", "data: {}\nevent: progress\n\n"},
		{"event token with spaces", "event: progress now\ndata: {}\n\n"},
		{"empty data", "event: progress\ndata: \n\n"},
		{"malformed json", "event: result\ndata: {\"file_id\":\n\n"},
		{"blank frames only", "\n\n\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Empty(t, decodeChunks(t, []byte(tt.input)))
		})
	}
}

func TestDecoder_CountsDroppedFrames(t *testing.T) {
	dec := NewDecoder()
	_, err := dec.Write([]byte("event: progress\n\nevent: result\ndata: nope\n\nevent: done\ndata: {}\n\n"))
	require.NoError(t, err)

	evt, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, EventDone, evt.Type)
	assert.Equal(t, 2, dec.Dropped())
}

func TestDecoder_KeepsPartialFrame(t *testing.T) {
	dec := NewDecoder()
	_, err := dec.Write([]byte("event: progress\ndata: {\"percent\":5}\n\nevent: res"))
	require.NoError(t, err)

	_, ok := dec.Next()
	require.True(t, ok)
	_, ok = dec.Next()
	assert.False(t, ok)
	assert.Equal(t, len("event: res"), dec.Buffered())

	_, err = dec.Write([]byte("ult\ndata: {\"status\":\"ok\"}\n\n"))
	require.NoError(t, err)
	evt, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, EventResult, evt.Type)
	assert.Zero(t, dec.Buffered())
}

func TestDecoder_BufferLimit(t *testing.T) {
	dec := NewDecoder(WithMaxBufferSize(32))

	_, err := dec.Write([]byte("event: done\ndata: {}\n\n"))
	require.NoError(t, err)

	_, err = dec.Write([]byte("event: result\ndata: \"" + strings.Repeat("x", 64)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrBufferOverflow))
	assert.True(t, domain.IsType(err, domain.ErrorTypeProtocol))

	// The complete frame written before the overflow is still available.
	evt, ok := dec.Next()
	require.True(t, ok)
	assert.Equal(t, EventDone, evt.Type)
}

func TestStreamParser_DiscardsResidualAtEOF(t *testing.T) {
	input := "event: progress\ndata: {\"percent\":20}\n\nevent: result\ndata: {\"file_id\":\"f1\"}"
	p := NewStreamParser(iotest.OneByteReader(strings.NewReader(input)))

	evt, err := p.Next()
	require.NoError(t, err)
	assert.Equal(t, EventProgress, evt.Type)

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
	assert.Equal(t, len("event: result\ndata: {\"file_id\":\"f1\"}"), p.Residual())

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamParser_DrainsFinalChunk(t *testing.T) {
	input := "event: progress\ndata: {}\n\nevent: done\ndata: {}\n\n"
	p := NewStreamParser(iotest.DataErrReader(strings.NewReader(input)))

	var types []string
	var chunks int
	p.OnChunk(func(int) { chunks++ })
	for {
		evt, err := p.Next()
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			break
		}
		types = append(types, evt.Type)
	}
	assert.Equal(t, []string{EventProgress, EventDone}, types)
	assert.Equal(t, 1, chunks)
	assert.Zero(t, p.Residual())
}

func TestStreamParser_PropagatesReadError(t *testing.T) {
	boom := errors.New("connection reset")
	p := NewStreamParser(iotest.ErrReader(boom))

	_, err := p.Next()
	assert.ErrorIs(t, err, boom)
}
