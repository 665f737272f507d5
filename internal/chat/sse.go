package chat

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// ErrEncode marks an event that could not be serialized. Nothing was
// written, so the connection is still usable.
var ErrEncode = errors.New("encode event")

type flusher interface {
	Flush() error
}

// SSEEncoder writes events as server-sent events, one "data:" frame per
// event, flushing after each so deltas reach the client immediately.
type SSEEncoder struct {
	w io.Writer
}

func NewSSEEncoder(w io.Writer) *SSEEncoder {
	return &SSEEncoder{w: w}
}

func (e *SSEEncoder) Send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("%w %s: %v", ErrEncode, ev.Type, err)
	}
	if _, err := fmt.Fprintf(e.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	if f, ok := e.w.(flusher); ok {
		return f.Flush()
	}
	return nil
}
