package codec

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"sync"

	"pkt.systems/termbridge/schema"
)

// Stream reads newline-delimited envelopes.
type Stream struct {
	reader *bufio.Reader
}

// NewStream wraps r as an envelope stream.
func NewStream(r io.Reader) *Stream {
	return &Stream{reader: bufio.NewReader(r)}
}

// Next returns the next envelope. A malformed line yields a
// *schema.ProtocolError and the stream stays usable; io.EOF ends the stream.
func (s *Stream) Next(ctx context.Context) (schema.Event, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		line, err := s.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return nil, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return nil, err
			}
			continue
		}
		return Decode(line)
	}
}

// Writer appends envelopes as newline-delimited JSON.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w as an envelope writer.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Write encodes the event and writes it as one line.
func (w *Writer) Write(ev schema.Event) error {
	data, err := Encode(ev)
	if err != nil {
		return err
	}
	return w.WriteRaw(string(data))
}

// WriteRaw writes an already encoded envelope as one line.
func (w *Writer) WriteRaw(envelope string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := io.WriteString(w.w, envelope); err != nil {
		return err
	}
	_, err := io.WriteString(w.w, "\n")
	return err
}
