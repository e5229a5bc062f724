// Package sse decodes Server-Sent-Event streams as framed by the agent
// backend: events separated by a blank line, `event:` lines naming the
// event and `data:` lines carrying the payload.
package sse

import (
	"bytes"
	"io"
	"strings"
)

// DefaultEventName is used when an event block carries no `event:` line.
const DefaultEventName = "message"

// Event is one decoded server-sent event.
type Event struct {
	Name string
	Data string
}

// Decoder reads events from an underlying byte stream. It buffers
// partial blocks internally, so the stream may arrive split at
// arbitrary boundaries. Create a fresh Decoder per response body.
type Decoder struct {
	r   io.Reader
	buf []byte
	eof bool
}

// NewDecoder creates a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: r}
}

// Next returns the next complete event. It returns io.EOF when the
// underlying stream ends; a trailing block without its blank-line
// terminator is discarded, matching the backend's framing contract.
func (d *Decoder) Next() (Event, error) {
	for {
		if ev, ok := d.takeBlock(); ok {
			return ev, nil
		}
		if d.eof {
			return Event{}, io.EOF
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf = append(d.buf, chunk[:n]...)
		}
		if err == io.EOF {
			d.eof = true
		} else if err != nil {
			return Event{}, err
		}
	}
}

// takeBlock removes the first fully-terminated block from the buffer
// and parses it. Returns ok=false when no complete block is buffered.
func (d *Decoder) takeBlock() (Event, bool) {
	idx := bytes.Index(d.buf, []byte("\n\n"))
	if idx < 0 {
		return Event{}, false
	}
	raw := string(d.buf[:idx])
	d.buf = d.buf[idx+2:]
	return parseBlock(raw), true
}

func parseBlock(raw string) Event {
	ev := Event{Name: DefaultEventName}
	var data strings.Builder
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			ev.Name = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			data.WriteString(strings.TrimSpace(line[len("data:"):]))
		}
	}
	ev.Data = data.String()
	return ev
}
