// Package sse reads and writes text/event-stream frames.
package sse

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// ContentType is the media type of an event stream.
const ContentType = "text/event-stream"

// Event represents a parsed SSE event.
type Event struct {
	ID    string
	Event string
	Data  string
}

// Handler is called for each complete event.
type Handler func(event Event) error

const maxLineSize = 1 << 20

// Parse reads an SSE stream and calls handler for each event terminated by
// a blank line. Comment lines (keepalives) are skipped. A handler error
// stops parsing and is returned as-is.
func Parse(reader io.Reader, handler Handler) error {
	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	var event Event
	var hasData bool

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || hasData {
				if err := handler(event); err != nil {
					return err
				}
			}
			event = Event{}
			hasData = false
			continue
		}

		switch {
		case strings.HasPrefix(line, ":"):
			// comment
		case strings.HasPrefix(line, "event:"):
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "id:"):
			event.ID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " ")
			if hasData {
				event.Data += "\n" + data
			} else {
				event.Data = data
				hasData = true
			}
		}
	}

	// A frame without its terminating blank line was cut off and is dropped.
	return scanner.Err()
}

// Write encodes one event frame. Multi-line data is split across data lines.
func Write(w io.Writer, event Event) error {
	var b strings.Builder
	if event.ID != "" {
		fmt.Fprintf(&b, "id: %s\n", event.ID)
	}
	if event.Event != "" {
		fmt.Fprintf(&b, "event: %s\n", event.Event)
	}
	for _, line := range strings.Split(event.Data, "\n") {
		fmt.Fprintf(&b, "data: %s\n", line)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// WriteComment writes a comment frame, used as a keepalive.
func WriteComment(w io.Writer, text string) error {
	_, err := fmt.Fprintf(w, ": %s\n\n", text)
	return err
}
