package cli

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one decoded Server-Sent Event.
type SSEEvent struct {
	Event string
	Data  string
}

// ReadSSE decodes events from r and calls fn for each one until r ends or fn returns an error.
// Comment lines (keep-alive pings) are skipped. Multi-line data fields are joined with "\n".
func ReadSSE(r io.Reader, fn func(SSEEvent) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var (
		ev      SSEEvent
		data    []string
		hasData bool
	)
	dispatch := func() error {
		if !hasData && ev.Event == "" {
			return nil
		}
		ev.Data = strings.Join(data, "\n")
		if ev.Event == "" {
			ev.Event = "message"
		}
		err := fn(ev)
		ev, data, hasData = SSEEvent{}, nil, false
		return err
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if err := dispatch(); err != nil {
				return err
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return dispatch()
}
