/*
Asciicast v2 file format (https://github.com/asciinema/asciinema/blob/develop/doc/asciicast-v2.md)
A recording is line-oriented UTF-8 text: one JSON header object on the
first line, then one JSON event array per line:

	[elapsed_seconds, event_code, data]

Our header carries agent_name/agent_id/user/session_id on top of the
minimal schema. Asciicast readers are required to ignore fields they
don't know, so the files stay playable by stock tooling.
*/
package message

import (
	"encoding/json"
	"fmt"
)

// Header schema version. recast only ever writes v2
const Version = 2

type EventType string

const (
	// write to stdout
	EOut EventType = "o"
	// read from stdin
	EIn EventType = "i"
	// terminal resize, data is "<width>x<height>"
	EResize EventType = "r"
)

// Header is the first line of a .cast file
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Env       map[string]string `json:"env"`
	Title     string            `json:"title"`
	AgentName string            `json:"agent_name"`
	AgentID   string            `json:"agent_id"`
	User      string            `json:"user"`
	SessionID string            `json:"session_id"`
}

// Event is one timestamped record of session traffic.
// Time is in seconds since the header timestamp, sub-millisecond
// resolution, non-decreasing across a file
type Event struct {
	Time float64
	Type EventType
	Data string
}

// Marshal encodes the event as a compact single-line JSON array
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal([]interface{}{e.Time, e.Type, e.Data})
}

// ParseEvent decodes one event line back into an Event
func ParseEvent(line []byte) (Event, error) {
	var fields []interface{}
	if err := json.Unmarshal(line, &fields); err != nil {
		return Event{}, err
	}
	if len(fields) != 3 {
		return Event{}, fmt.Errorf("event line has %d fields, want 3", len(fields))
	}
	elapsed, ok := fields[0].(float64)
	if !ok {
		return Event{}, fmt.Errorf("event time is not a number: %v", fields[0])
	}
	code, ok := fields[1].(string)
	if !ok {
		return Event{}, fmt.Errorf("event code is not a string: %v", fields[1])
	}
	data, ok := fields[2].(string)
	if !ok {
		return Event{}, fmt.Errorf("event data is not a string: %v", fields[2])
	}
	return Event{Time: elapsed, Type: EventType(code), Data: data}, nil
}

// ResizeData formats terminal dimensions for an EResize event
func ResizeData(cols, rows int) string {
	return fmt.Sprintf("%dx%d", cols, rows)
}
