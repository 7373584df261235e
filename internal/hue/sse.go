package hue

import (
	"bufio"
	"io"
	"strings"
)

// SSEEvent is one Server-Sent Event.
type SSEEvent struct {
	ID   string
	Type string
	Data string
}

// SSEScanner reads Server-Sent Events from an io.Reader. Events are
// delimited by blank lines; "data:" lines are joined with newlines and
// comment lines (":") are ignored.
type SSEScanner struct {
	reader  *bufio.Reader
	current SSEEvent
	err     error
}

func NewSSEScanner(reader io.Reader) *SSEScanner {
	return &SSEScanner{reader: bufio.NewReaderSize(reader, 64*1024)}
}

// Next advances to the next event. After it returns false, Err
// distinguishes a clean end of stream from a read error.
func (scanner *SSEScanner) Next() bool {
	if scanner.err != nil {
		return false
	}
	scanner.current = SSEEvent{}

	var (
		dataLines []string
		eventType string
		eventID   string
		hasData   bool
	)
	for {
		line, err := scanner.reader.ReadString('\n')
		if err != nil && line == "" {
			scanner.err = err
			if err == io.EOF && hasData {
				scanner.current = SSEEvent{ID: eventID, Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			return false
		}

		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if hasData {
				scanner.current = SSEEvent{ID: eventID, Type: eventType, Data: strings.Join(dataLines, "\n")}
				return true
			}
			eventType = ""
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, hasColon := strings.Cut(line, ":")
		if !hasColon {
			field = line
			value = ""
		} else {
			value = strings.TrimPrefix(value, " ")
		}

		switch field {
		case "data":
			dataLines = append(dataLines, value)
			hasData = true
		case "event":
			eventType = value
		case "id":
			eventID = value
		}
	}
}

func (scanner *SSEScanner) Event() SSEEvent {
	return scanner.current
}

// Err returns the read error that stopped the scanner, or nil on clean EOF.
func (scanner *SSEScanner) Err() error {
	if scanner.err == io.EOF {
		return nil
	}
	return scanner.err
}
