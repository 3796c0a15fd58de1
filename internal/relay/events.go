package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// ErrStreamClosed is returned by writes after the event stream was closed
var ErrStreamClosed = errors.New("event stream closed")

// EventSink receives the outbound frames of a turn
type EventSink interface {
	Send(v any) error
	SendError(message string) error
	SendDone() error
	KeepAlive() error
	Close()
}

// EventWriter writes server-sent events to an HTTP response. It is safe for
// concurrent use; once closed, or after a failed write, every write is dropped.
type EventWriter struct {
	mu      sync.Mutex
	w       io.Writer
	flusher http.Flusher
	closed  bool
}

// NewEventWriter sets the event-stream headers and commits the response
func NewEventWriter(w http.ResponseWriter) (*EventWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	return &EventWriter{w: w, flusher: flusher}, nil
}

// Send writes v as a JSON data frame
func (e *EventWriter) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return e.write("data: " + string(data) + "\n\n")
}

// SendError writes a terminal error event
func (e *EventWriter) SendError(message string) error {
	data, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return e.write("event: error\ndata: " + string(data) + "\n\n")
}

// SendDone writes the completion marker
func (e *EventWriter) SendDone() error {
	return e.write("data: [DONE]\n\n")
}

// KeepAlive writes a comment frame that clients ignore
func (e *EventWriter) KeepAlive() error {
	return e.write(": keep-alive\n\n")
}

// Close makes every later write a no-op
func (e *EventWriter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *EventWriter) write(frame string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrStreamClosed
	}
	if _, err := io.WriteString(e.w, frame); err != nil {
		e.closed = true
		return fmt.Errorf("failed to write event: %w", err)
	}
	e.flusher.Flush()
	return nil
}
