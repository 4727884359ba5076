package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/dyluth/agora/pkg/blackboard"
)

// SetHeaders prepares an HTTP response for Server-Sent Events.
func SetHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering
}

// Encoder writes events as SSE frames:
//
//	id: <seq>
//	data: <json>
//
// Sequence numbers start at 1 per encoder. If the writer is an http.Flusher
// every frame is flushed.
type Encoder struct {
	w       io.Writer
	flusher http.Flusher
	seq     int64
}

// NewEncoder creates an encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	f, _ := w.(http.Flusher)
	return &Encoder{w: w, flusher: f}
}

// Encode writes a single frame.
func (e *Encoder) Encode(ev blackboard.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	e.seq++
	if _, err := fmt.Fprintf(e.w, "id: %d\ndata: %s\n\n", e.seq, payload); err != nil {
		return fmt.Errorf("failed to write event: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Emit implements Emitter.
func (e *Encoder) Emit(_ context.Context, ev blackboard.Event) error {
	return e.Encode(ev)
}
