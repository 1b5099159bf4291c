package sse

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"
)

// InitialWait bounds how long the decoder tolerates a slow-starting stream
// before giving up with no events.
const InitialWait = 5 * time.Second

// Event is one reconstructed unit of the stream: a result payload, a
// protocol error, or a decode failure for a single malformed segment.
type Event struct {
	Result map[string]any
	Err    *EventError
	// DecodeErr is set when a data segment carried malformed JSON. The
	// decode loop continues past it.
	DecodeErr error
}

// EventError is the error payload of a stream event.
type EventError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *EventError) Error() string {
	return e.Message
}

// IsStreamComplete reports whether the event is the primary protocol's
// terminal marker.
func (e *Event) IsStreamComplete() bool {
	if e.Result == nil {
		return false
	}
	t, _ := e.Result["type"].(string)
	return t == "stream_complete"
}

// envelope is the wire shape of one data segment.
type envelope struct {
	Result map[string]any `json:"result"`
	Error  *EventError    `json:"error"`
}

// Decoder reassembles structured events from an SSE response body. It
// skips blank lines and keepalive comments, splits coalesced data frames,
// honors the legacy [DONE] sentinel, and merges concatenated JSON
// segments delivered in a single read.
type Decoder struct {
	lines       chan string
	readErr     chan error
	pending     []Event
	started     bool
	done        bool
	initialWait time.Duration
}

// NewDecoder builds a decoder over an HTTP response. When the response
// declares a JSON content type instead of an event stream, the whole body
// is decoded as the sole event, the synchronous-error path.
func NewDecoder(resp *http.Response) *Decoder {
	d := &Decoder{
		lines:       make(chan string, 16),
		readErr:     make(chan error, 1),
		initialWait: InitialWait,
	}

	if isJSONResponse(resp) {
		d.decodeJSONBody(resp.Body)
		return d
	}

	go d.readLines(resp.Body)
	return d
}

func isJSONResponse(resp *http.Response) bool {
	ct, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return ct == "application/json"
}

func (d *Decoder) decodeJSONBody(body io.Reader) {
	d.done = true
	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		d.pending = append(d.pending, Event{DecodeErr: fmt.Errorf("invalid JSON response: %w", err)})
		return
	}
	d.pending = append(d.pending, Event{Result: env.Result, Err: env.Error})
}

func (d *Decoder) readLines(body io.Reader) {
	defer close(d.lines)
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		d.lines <- scanner.Text()
	}
	if err := scanner.Err(); err != nil {
		d.readErr <- err
	}
}

// Next returns the next reconstructed event. io.EOF signals the end of the
// sequence: stream closure, the terminal stream_complete event already
// delivered, a [DONE] sentinel, or the initial wait expiring with no data.
func (d *Decoder) Next() (Event, error) {
	for {
		if len(d.pending) > 0 {
			ev := d.pending[0]
			d.pending = d.pending[1:]
			if ev.IsStreamComplete() {
				d.done = true
			}
			return ev, nil
		}
		if d.done {
			return Event{}, io.EOF
		}

		line, ok, err := d.nextLine()
		if err != nil {
			return Event{}, err
		}
		if !ok {
			d.done = true
			select {
			case readErr := <-d.readErr:
				return Event{}, fmt.Errorf("stream read: %w", readErr)
			default:
				return Event{}, io.EOF
			}
		}

		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ":") {
			// Blank separator or keepalive comment.
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		events, terminated := parseDataLine(strings.TrimSpace(line[len("data:"):]))
		d.pending = append(d.pending, events...)
		if terminated {
			d.done = true
		}
	}
}

// nextLine reads one line, bounding only the very first read by the
// initial wait. After the stream has produced anything, reads block until
// data or closure.
func (d *Decoder) nextLine() (string, bool, error) {
	if d.started {
		line, ok := <-d.lines
		return line, ok, nil
	}
	select {
	case line, ok := <-d.lines:
		d.started = true
		return line, ok, nil
	case <-time.After(d.initialWait):
		return "", false, io.EOF
	}
}

// parseDataLine decodes the payload of one data frame. Coalesced frames
// ("data: {...}data: {...}") are split and parsed independently; valid
// segments merge into one event with later result keys winning and a
// later error overriding any earlier result. A [DONE] segment terminates
// immediately, discarding nothing already parsed.
func parseDataLine(payload string) (events []Event, terminated bool) {
	var merged *Event
	flush := func() {
		if merged != nil {
			events = append(events, *merged)
			merged = nil
		}
	}

	for _, segment := range strings.Split(payload, "data:") {
		segment = strings.TrimSpace(segment)
		if segment == "" {
			continue
		}
		if segment == "[DONE]" {
			flush()
			return events, true
		}

		var env envelope
		if err := json.Unmarshal([]byte(segment), &env); err != nil {
			events = append(events, Event{
				DecodeErr: fmt.Errorf("invalid stream event data %q: %w", segment, err),
			})
			continue
		}

		if merged == nil {
			merged = &Event{Result: env.Result, Err: env.Error}
			continue
		}
		if env.Result != nil {
			if merged.Result == nil {
				merged.Result = make(map[string]any)
			}
			for k, v := range env.Result {
				merged.Result[k] = v
			}
		}
		if env.Error != nil {
			merged.Err = env.Error
		}
	}
	flush()
	return events, false
}
