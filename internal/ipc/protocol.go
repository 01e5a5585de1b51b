package ipc

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
)

// Commands understood by the listening owner.
const (
	CommandStatus  = "status"
	CommandTrigger = "trigger"
)

// maxLineBytes caps one protocol line in either direction.
const maxLineBytes = 64 << 10

var errLineTooLong = errors.New("protocol line exceeds limit")

// Request is one newline-delimited command sent to the listening owner.
type Request struct {
	Command string `json:"command"`
	// Wait asks a trigger to reply only after the cycle reaches a terminal state.
	Wait bool `json:"wait,omitempty"`
}

// Response reports the owner's view of the session after handling a request.
type Response struct {
	OK             bool   `json:"ok"`
	State          string `json:"state,omitempty"`
	Message        string `json:"message,omitempty"`
	Error          string `json:"error,omitempty"`
	ControlEnabled bool   `json:"control_enabled"`
	Capability     string `json:"capability,omitempty"`
}

// writeLine encodes v as a single JSON line.
func writeLine(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// readFrame reads one newline-terminated line from r without the newline.
func readFrame(r *bufio.Reader) ([]byte, error) {
	var line []byte
	for {
		chunk, isPrefix, err := r.ReadLine()
		if err != nil {
			return nil, err
		}
		line = append(line, chunk...)
		if len(line) > maxLineBytes {
			return nil, errLineTooLong
		}
		if !isPrefix {
			return line, nil
		}
	}
}
