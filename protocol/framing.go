// Package protocol implements the wire format of the chat service:
// UTF-8 JSON envelopes, each terminated by the EndMarker sentinel.
// Inbound actions are discriminated by their "command" field, outbound
// messages by their "type" field.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"sync"

	"github.com/IvanOplesnin/TCPLocalChat/errors"
)

// EndMarker terminates every envelope on the wire. encoding/json escapes
// '<' and '>' inside string values, so the marker can never occur inside
// a serialized payload.
var EndMarker = []byte("<END>\n")

const maxFrameSize = 1 << 20

// FrameDecoder splits an inbound byte stream into complete envelope
// payloads. Bytes are buffered until EndMarker is observed; a partial
// envelope is never emitted. A stream that ends mid-frame yields
// errors.ErrUnterminatedFrame, distinct from a clean io.EOF.
type FrameDecoder struct {
	scanner *bufio.Scanner
}

func NewFrameDecoder(r io.Reader) *FrameDecoder {
	s := bufio.NewScanner(r)
	s.Buffer(make([]byte, 4096), maxFrameSize)
	s.Split(splitFrames)
	return &FrameDecoder{scanner: s}
}

// Next returns the payload of the next complete envelope, without the
// marker. io.EOF signals a clean end of stream. The returned slice is
// only valid until the next call.
func (d *FrameDecoder) Next() ([]byte, error) {
	if d.scanner.Scan() {
		return d.scanner.Bytes(), nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func splitFrames(data []byte, atEOF bool) (int, []byte, error) {
	if i := bytes.Index(data, EndMarker); i >= 0 {
		return i + len(EndMarker), data[:i], nil
	}
	if atEOF && len(data) > 0 {
		return 0, nil, errors.ErrUnterminatedFrame
	}
	return 0, nil, nil
}

// FrameWriter serializes envelopes onto a shared writer. The mutex keeps
// concurrent producers from interleaving frames on the same connection;
// each envelope goes out as a single Write call.
type FrameWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{w: w}
}

func (fw *FrameWriter) WriteEnvelope(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	frame := make([]byte, 0, len(payload)+len(EndMarker))
	frame = append(frame, payload...)
	frame = append(frame, EndMarker...)

	fw.mu.Lock()
	defer fw.mu.Unlock()
	_, err = fw.w.Write(frame)
	return err
}
