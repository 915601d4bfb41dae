package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is one server-sent event
type sseEvent struct {
	Event string
	Data  string
}

// sseReader splits a text/event-stream body into events
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(body io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReaderSize(body, 64*1024)}
}

// Next returns the next event, or io.EOF when the body ends
func (s *sseReader) Next() (sseEvent, error) {
	var ev sseEvent
	var data []string
	for {
		line, err := s.r.ReadString('\n')
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "" && (len(data) > 0 || ev.Event != ""):
			ev.Data = strings.Join(data, "\n")
			return ev, nil
		case strings.HasPrefix(line, "event:"):
			ev.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}

		if err != nil {
			if len(data) > 0 {
				ev.Data = strings.Join(data, "\n")
				return ev, nil
			}
			return sseEvent{}, err
		}
	}
}
