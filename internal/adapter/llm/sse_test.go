package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"nimbus/internal/domain"
)

// failingBody serves its data, then fails every subsequent read.
type failingBody struct {
	data []byte
	err  error
	off  int
}

func (b *failingBody) Read(p []byte) (int, error) {
	if b.off < len(b.data) {
		n := copy(p, b.data[b.off:])
		b.off += n
		return n, nil
	}
	if b.err != nil {
		return 0, b.err
	}
	return 0, io.EOF
}

func (b *failingBody) Close() error { return nil }

func parseContentLine(data []byte) (*domain.StreamDelta, error) {
	var payload struct {
		Content string `json:"content"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, err
	}
	return &domain.StreamDelta{Content: payload.Content}, nil
}

func TestParseSSEStreamMidStreamReadError(t *testing.T) {
	readErr := errors.New("connection reset by peer")
	body := &failingBody{
		data: []byte("data: {\"content\":\"par\"}\n\ndata: {\"content\":\"tial\"}\n\n"),
		err:  readErr,
	}

	ch := parseSSEStream(context.Background(), body, parseContentLine)

	var deltas []domain.StreamDelta
	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case delta, ok := <-ch:
			if !ok {
				open = false
				break
			}
			deltas = append(deltas, delta)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}

	if len(deltas) != 3 {
		t.Fatalf("deltas = %+v, want content x2 + error", deltas)
	}
	if deltas[0].Content != "par" || deltas[1].Content != "tial" {
		t.Errorf("content deltas = %+v", deltas[:2])
	}
	last := deltas[2]
	if last.Err == nil || !errors.Is(last.Err, readErr) {
		t.Errorf("final delta err = %v, want wrapped read error", last.Err)
	}
	if last.Done {
		t.Error("read failure must not masquerade as a completed stream")
	}
}

func TestParseSSEStreamDoneSignal(t *testing.T) {
	body := &failingBody{
		data: []byte("data: {\"content\":\"hi\"}\n\ndata: [DONE]\n\n"),
	}

	ch := parseSSEStream(context.Background(), body, parseContentLine)

	var last domain.StreamDelta
	timeout := time.After(5 * time.Second)
	for open := true; open; {
		select {
		case delta, ok := <-ch:
			if !ok {
				open = false
				break
			}
			last = delta
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}

	if !last.Done || last.Err != nil {
		t.Errorf("final delta = %+v, want clean Done", last)
	}
}
