package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hyperjump/guidechat/internal/chat"
)

var errStreamingUnsupported = errors.New("streaming unsupported by response writer")

// setSSEHeaders sets the headers of an event stream response.
func setSSEHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
}

// sseWriter writes Server-Sent Events and flushes after each one.
type sseWriter struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	return &sseWriter{w: w, flusher: flusher}, nil
}

// open sends the headers and status so the client sees the stream start.
func (s *sseWriter) open() {
	s.mu.Lock()
	defer s.mu.Unlock()
	setSSEHeaders(s.w.Header())
	s.w.WriteHeader(http.StatusOK)
	s.flusher.Flush()
}

func (s *sseWriter) writeEvent(name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", name, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// ping writes a comment line that keeps idle proxies from closing the connection.
func (s *sseWriter) ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// pump copies events to the client until the stream closes. It reports whether a terminal
// event was written. A write failure stops the copy; the caller's context then ends the request.
func (s *sseWriter) pump(ctx context.Context, events <-chan chat.Event, keepalive time.Duration) (bool, error) {
	var tick <-chan time.Time
	if keepalive > 0 {
		ticker := time.NewTicker(keepalive)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return false, nil
			}
			if err := s.writeEvent(string(ev.Type), ev.Data()); err != nil {
				return false, err
			}
			if ev.Terminal() {
				return true, nil
			}
		case <-tick:
			if err := s.ping(); err != nil {
				return false, err
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
}
