package llm

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"

	"nimbus/internal/domain"
)

var (
	ssePrefix = []byte("data: ")
	sseDone   = []byte("[DONE]")
)

// parseSSEStream turns an SSE response body into a channel of deltas.
// parseLine maps one data payload to a delta; lines it cannot parse are
// skipped. The channel closes when the stream ends, ctx is cancelled, or
// the body fails mid-read. A read failure is surfaced as a final delta
// with Err set so consumers do not mistake a truncated stream for a
// completed one.
func parseSSEStream(ctx context.Context, body io.ReadCloser, parseLine func(data []byte) (*domain.StreamDelta, error)) <-chan domain.StreamDelta {
	ch := make(chan domain.StreamDelta, 16)

	emit := func(delta domain.StreamDelta) bool {
		select {
		case ch <- delta:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(ch)
		defer body.Close()

		scanner := bufio.NewScanner(body)
		for scanner.Scan() {
			if ctx.Err() != nil {
				return
			}

			line := scanner.Bytes()
			if !bytes.HasPrefix(line, ssePrefix) {
				// Empty keep-alives, comments, event/id fields.
				continue
			}
			data := bytes.TrimPrefix(line, ssePrefix)

			if bytes.Equal(data, sseDone) {
				emit(domain.StreamDelta{Done: true})
				return
			}

			delta, err := parseLine(data)
			if err != nil || delta == nil {
				continue
			}
			if !emit(*delta) {
				return
			}
			if delta.Done {
				return
			}
		}

		if err := scanner.Err(); err != nil {
			emit(domain.StreamDelta{Err: fmt.Errorf("stream read: %w", err)})
		}
	}()
	return ch
}
