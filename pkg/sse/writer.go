// Package sse implements the streaming protocol's wire layer: server-side
// event framing with keepalive, and client-side reassembly tolerant of
// partial lines, coalesced frames, and legacy terminators.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// KeepaliveInterval is how long a stream may sit idle before a keepalive
// comment frame is emitted in place of data.
const KeepaliveInterval = 5 * time.Second

// Writer frames events onto an HTTP response as Server-Sent Events. A
// failed write marks the stream permanently inactive; later writes are
// silently skipped. Client disconnects are expected, not errors.
type Writer struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	inactive  bool
	keepalive time.Duration
}

// NewWriter prepares an SSE response on w: sets the event-stream headers
// and flushes them so the client sees a live connection immediately.
// Fails if the underlying writer cannot flush.
func NewWriter(w http.ResponseWriter) (*Writer, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	return &Writer{w: w, flusher: flusher, keepalive: KeepaliveInterval}, nil
}

// Active reports whether the stream can still accept writes.
func (sw *Writer) Active() bool {
	return !sw.inactive
}

// WriteKeepalive emits a no-op comment frame. Returns false once the
// stream has gone inactive.
func (sw *Writer) WriteKeepalive() bool {
	return sw.writeFrame([]byte(": keepalive\n\n"))
}

// WriteEvent serializes v as one data frame.
func (sw *Writer) WriteEvent(v any) bool {
	data, err := json.Marshal(v)
	if err != nil {
		return sw.Active()
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, "\n\n"...)
	return sw.writeFrame(frame)
}

func (sw *Writer) writeFrame(frame []byte) bool {
	if sw.inactive {
		return false
	}
	if _, err := sw.w.Write(frame); err != nil {
		sw.inactive = true
		return false
	}
	sw.flusher.Flush()
	return true
}

// Pump drives a full stream: an immediate keepalive, then every event from
// the channel as a data frame, with keepalives whenever KeepaliveInterval
// passes without a write. Returns when the channel closes, the context is
// cancelled, or the peer goes away. Cancellation and disconnects are
// normal termination, not errors.
func (sw *Writer) Pump(ctx context.Context, events <-chan any) {
	sw.WriteKeepalive()

	timer := time.NewTimer(sw.keepalive)
	defer timer.Stop()

	for sw.Active() {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !sw.WriteEvent(ev) {
				return
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(sw.keepalive)
		case <-timer.C:
			if !sw.WriteKeepalive() {
				return
			}
			timer.Reset(sw.keepalive)
		}
	}
}
