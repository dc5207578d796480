package protocol

import (
	"bytes"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/IvanOplesnin/TCPLocalChat/errors"
)

func TestFrameDecoder_SplitsCompleteEnvelopes(t *testing.T) {
	req := require.New(t)
	stream := strings.NewReader(`{"a":1}<END>` + "\n" + `{"b":2}<END>` + "\n")

	decoder := NewFrameDecoder(stream)

	first, err := decoder.Next()
	req.NoError(err)
	req.Equal(`{"a":1}`, string(first))

	second, err := decoder.Next()
	req.NoError(err)
	req.Equal(`{"b":2}`, string(second))

	_, err = decoder.Next()
	req.ErrorIs(err, io.EOF)
}

// The marker may arrive split across reads; the decoder must buffer until
// the full sentinel is seen.
func TestFrameDecoder_MarkerAcrossReads(t *testing.T) {
	req := require.New(t)
	payload := `{"command":"SEND"}`
	frame := payload + "<END>\n"

	decoder := NewFrameDecoder(iotestOneByte{strings.NewReader(frame)})
	got, err := decoder.Next()
	req.NoError(err)
	req.Equal(payload, string(got))
}

func TestFrameDecoder_UnterminatedStream(t *testing.T) {
	req := require.New(t)
	decoder := NewFrameDecoder(strings.NewReader(`{"half":`))

	_, err := decoder.Next()
	req.ErrorIs(err, apperrors.ErrUnterminatedFrame)
}

func TestFrameDecoder_CleanEOF(t *testing.T) {
	req := require.New(t)
	decoder := NewFrameDecoder(strings.NewReader(""))

	_, err := decoder.Next()
	req.ErrorIs(err, io.EOF)
}

// The sentinel must be unproducible from payload content: a chat message
// containing the literal marker text is escaped by the JSON serializer.
func TestFrameWriter_EscapesMarkerInContent(t *testing.T) {
	req := require.New(t)
	var buf bytes.Buffer
	writer := NewFrameWriter(&buf)

	msg := ChatMessage{Type: TypeMessage, Content: "evil <END>\n payload"}
	req.NoError(writer.WriteEnvelope(msg))
	req.Equal(1, bytes.Count(buf.Bytes(), EndMarker))

	decoder := NewFrameDecoder(&buf)
	payload, err := decoder.Next()
	req.NoError(err)

	decoded, err := DecodeMessage(payload)
	req.NoError(err)
	req.Equal(&msg, decoded)
}

func TestFrameWriter_SerializesConcurrentWrites(t *testing.T) {
	req := require.New(t)
	var buf lockedBuffer
	writer := NewFrameWriter(&buf)

	const writers, frames = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < frames; j++ {
				msg := ChatMessage{Type: TypeMessage, Content: strings.Repeat("x", 64), From: int64(id)}
				require.NoError(t, writer.WriteEnvelope(msg))
			}
		}(i)
	}
	wg.Wait()

	decoder := NewFrameDecoder(bytes.NewReader(buf.Bytes()))
	count := 0
	for {
		payload, err := decoder.Next()
		if err == io.EOF {
			break
		}
		req.NoError(err)
		decoded, err := DecodeMessage(payload)
		req.NoError(err)
		req.IsType(&ChatMessage{}, decoded)
		count++
	}
	req.Equal(writers*frames, count)
}

// iotestOneByte yields one byte per Read to exercise partial delivery.
type iotestOneByte struct {
	r io.Reader
}

func (o iotestOneByte) Read(p []byte) (int, error) {
	if len(p) > 1 {
		p = p[:1]
	}
	return o.r.Read(p)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Bytes()
}
