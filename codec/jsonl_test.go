package codec

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"pkt.systems/termbridge/schema"
)

func TestStreamReadsEnvelopes(t *testing.T) {
	data := []byte("\n" +
		`{"type":"DATA","data":"l","currentInput":"l"}` + "\n" +
		`not json` + "\n" +
		`{"type":"ENTERKEY","currentInput":"l"}` + "\n")
	stream := NewStream(bytes.NewReader(data))
	ctx := context.Background()

	ev, err := stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got, ok := ev.(schema.DataEvent); !ok || got.CurrentInput != "l" {
		t.Fatalf("unexpected first event: %+v", ev)
	}

	if _, err := stream.Next(ctx); !errors.Is(err, schema.ErrProtocol) {
		t.Fatalf("expected protocol error for malformed line, got %v", err)
	}

	ev, err = stream.Next(ctx)
	if err != nil {
		t.Fatalf("Next(3): %v", err)
	}
	if ev.Tag() != schema.TagEnterKey {
		t.Fatalf("unexpected third event: %+v", ev)
	}

	if _, err := stream.Next(ctx); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestWriterRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	if err := w.Write(schema.ResizeEvent{Cols: 80, Rows: 24}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := w.WriteRaw(`{"type":"BELL"}`); err != nil {
		t.Fatalf("write raw: %v", err)
	}
	stream := NewStream(&buf)
	ev, err := stream.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if ev != (schema.ResizeEvent{Cols: 80, Rows: 24}) {
		t.Fatalf("unexpected event %+v", ev)
	}
	ev, err = stream.Next(context.Background())
	if err != nil || ev.Tag() != schema.TagBell {
		t.Fatalf("expected bell, got %+v %v", ev, err)
	}
}

func TestStreamHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stream := NewStream(bytes.NewReader([]byte(`{"type":"BELL"}` + "\n")))
	if _, err := stream.Next(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
