package sse

import (
	"bufio"
	"bytes"
	"io"

	"github.com/effective-security/mcpbot/mcp/transport"
)

// Event is a single server-sent event.
type Event struct {
	// ID is the last event ID, if provided
	ID string
	// Event is the event name, empty for default "message" events
	Event string
	// Data is the payload, multiple data lines are joined with "\n"
	Data []byte
}

// Name returns the event name, defaults to "message"
func (e *Event) Name() string {
	if e.Event == "" {
		return "message"
	}
	return e.Event
}

// Decoder reads server-sent events from a stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder returns a decoder reading from r
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), transport.MaxFrameSize)
	return &Decoder{scanner: scanner}
}

// Next returns the next dispatched event.
// It returns io.EOF when the stream ends.
func (d *Decoder) Next() (*Event, error) {
	ev := new(Event)
	var data bytes.Buffer
	hasData := false
	hasField := false

	for d.scanner.Scan() {
		line := bytes.TrimSuffix(d.scanner.Bytes(), []byte("\r"))
		if len(line) == 0 {
			if !hasField {
				// blank lines between events
				continue
			}
			if !hasData {
				// events without data are not dispatched
				ev = new(Event)
				hasField = false
				continue
			}
			ev.Data = data.Bytes()
			return ev, nil
		}
		if line[0] == ':' {
			// comment, used as keep-alive
			continue
		}

		field, value := line, []byte(nil)
		if idx := bytes.IndexByte(line, ':'); idx >= 0 {
			field = line[:idx]
			value = bytes.TrimPrefix(line[idx+1:], []byte(" "))
		}
		hasField = true

		switch string(field) {
		case "event":
			ev.Event = string(value)
		case "data":
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
		case "id":
			ev.ID = string(value)
		}
	}

	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	if hasData {
		ev.Data = data.Bytes()
		return ev, nil
	}
	return nil, io.EOF
}
