// internal/overlay/sse.go
package overlay

import (
	"bufio"
	"io"
	"strings"
)

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// Scanner reads events off a live text/event-stream body. Events end at a blank
// line; comment lines and unknown fields are skipped.
type Scanner struct {
	r   *bufio.Reader
	cur Event
	err error
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next advances to the next event. It returns false at end of stream or on a
// read error; Err tells them apart.
func (s *Scanner) Next() bool {
	if s.err != nil {
		return false
	}
	s.cur = Event{}
	var (
		name string
		data []string
		saw  bool
	)
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && line == "" {
			s.err = err
			if err == io.EOF && saw {
				s.cur = Event{Name: name, Data: strings.Join(data, "\n")}
				return true
			}
			return false
		}
		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if saw || name != "" {
				s.cur = Event{Name: name, Data: strings.Join(data, "\n")}
				return true
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, ok := strings.Cut(line, ":")
		if ok {
			value = strings.TrimPrefix(value, " ")
		}
		switch field {
		case "event":
			name = value
		case "data":
			data = append(data, value)
			saw = true
		}
	}
}

func (s *Scanner) Event() Event { return s.cur }

// Err returns the read error that stopped the scanner, nil on a clean EOF.
func (s *Scanner) Err() error {
	if s.err == io.EOF {
		return nil
	}
	return s.err
}
