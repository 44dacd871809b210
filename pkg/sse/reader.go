// Package sse reads and writes text/event-stream data as used by the chat stream and by
// OpenAI-compatible upstream providers.
package sse

import (
	"bufio"
	"bytes"
	"errors"
	"io"
)

// MaxEventSize caps a single event's data (1MB).
const MaxEventSize = 1 << 20

// ErrEventTooLarge is returned when an event exceeds MaxEventSize.
var ErrEventTooLarge = errors.New("sse: event exceeds maximum size")

// Event is one dispatched server-sent event.
type Event struct {
	Type string
	Data []byte
}

// Reader parses server-sent events from a stream.
type Reader struct {
	reader *bufio.Reader
}

// NewReader creates a new SSE reader from an io.Reader.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Next reads the next event that carries data.
// Comments, id: and retry: fields are ignored. Returns io.EOF when the stream ends.
func (s *Reader) Next() (Event, error) {
	var ev Event
	var dataLines [][]byte
	size := 0

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil && !(err == io.EOF && len(line) > 0) {
			if err == io.EOF && len(dataLines) > 0 {
				ev.Data = bytes.Join(dataLines, []byte("\n"))
				return ev, nil
			}
			return Event{}, err
		}

		line = bytes.TrimRight(line, "\r\n")

		// Empty line dispatches the event
		if len(line) == 0 {
			if len(dataLines) > 0 {
				ev.Data = bytes.Join(dataLines, []byte("\n"))
				return ev, nil
			}
			ev = Event{}
			continue
		}

		field, value := splitField(line)
		switch field {
		case "event":
			ev.Type = string(value)
		case "data":
			size += len(value)
			if size > MaxEventSize {
				return Event{}, ErrEventTooLarge
			}
			dataLines = append(dataLines, value)
		}
	}
}

// splitField splits "field: value", dropping a single leading space from the value.
func splitField(line []byte) (string, []byte) {
	if line[0] == ':' {
		return "", nil
	}
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}
