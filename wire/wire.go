// Package wire defines the JSON text frames shared by both remote-debugging
// protocols: outbound commands, inbound replies/events, and the correlation-id
// scheme that keeps one combined id space readable across protocol modes.
package wire

import (
	"encoding/json"
	"fmt"
	"sync"
)

// ProbeMethod marks the synthetic message a channel hands back when its
// watchdog window expires with no inbound frame. Probes unblock wait loops
// and are never filed into the event log.
const ProbeMethod = "channel.probe"

// MalformedID is the sentinel correlation id assigned to frames whose payload
// could not be parsed. It can never collide with a real command id, so
// correlation matching is unaffected by diagnostic entries.
const MalformedID = -1

// Category groups CDP methods by domain. Each category carries a fixed id
// offset; a CDP command reuses its logical id plus the offset, which keeps
// CDP ids and the small sequential BiDi ids apart in a shared log.
type Category int

const (
	CategoryTarget Category = iota
	CategoryPage
	CategoryDOM
	CategoryInput
	CategoryRuntime
)

// Offset returns the id offset for the category.
func (c Category) Offset() int {
	switch c {
	case CategoryTarget:
		return 9000
	case CategoryPage:
		return 9100
	case CategoryDOM:
		return 9200
	case CategoryInput:
		return 9300
	case CategoryRuntime:
		return 9400
	default:
		return 9900
	}
}

// Message is an outbound command.
type Message struct {
	ID        int                    `json:"id"`
	Method    string                 `json:"method"`
	Params    map[string]interface{} `json:"params"`
	SessionID string                 `json:"sessionId,omitempty"`
}

// Encode renders the command as a JSON text frame. A nil Params map is
// encoded as an empty object; both protocols reject a missing params field
// on some methods, an empty object is always accepted.
func (m *Message) Encode() ([]byte, error) {
	if m.Params == nil {
		m.Params = map[string]interface{}{}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s (id %d): %w", m.Method, m.ID, err)
	}
	return data, nil
}

// FrameError carries the error detail of an error-tagged reply. CDP nests an
// object under "error"; BiDi flattens "error"/"message" beside "type".
type FrameError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Frame is one inbound logical message: a reply (has id), an event (no id),
// or a synthetic probe/diagnostic.
type Frame struct {
	ID     int
	HasID  bool
	Method string
	Type   string
	Result json.RawMessage
	Params json.RawMessage
	Err    *FrameError
	Raw    json.RawMessage
}

type frameEnvelope struct {
	ID     *int            `json:"id"`
	Method string          `json:"method"`
	Type   string          `json:"type"`
	Result json.RawMessage `json:"result"`
	Params json.RawMessage `json:"params"`
	Error  json.RawMessage `json:"error"`
	// BiDi puts the human-readable text in "message" next to type:"error".
	Message string `json:"message"`
}

// DecodeFrame parses one inbound payload. It never fails: an unparseable
// payload becomes a diagnostic frame with the MalformedID sentinel so the
// drain loop can file it and keep going.
func DecodeFrame(data []byte) *Frame {
	var env frameEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return &Frame{
			ID:     MalformedID,
			HasID:  true,
			Type:   "malformed",
			Raw:    append(json.RawMessage(nil), data...),
			Err:    &FrameError{Message: fmt.Sprintf("unparseable payload: %v", err)},
			Method: "",
		}
	}

	f := &Frame{
		Method: env.Method,
		Type:   env.Type,
		Result: env.Result,
		Params: env.Params,
		Raw:    append(json.RawMessage(nil), data...),
	}
	if env.ID != nil {
		f.ID = *env.ID
		f.HasID = true
	}
	if len(env.Error) > 0 {
		fe := &FrameError{}
		// CDP ships {"code","message"}, BiDi ships a bare error string.
		if err := json.Unmarshal(env.Error, fe); err != nil {
			var s string
			if json.Unmarshal(env.Error, &s) == nil {
				fe.Message = s
			}
		}
		if fe.Message == "" && env.Message != "" {
			fe.Message = env.Message
		}
		f.Err = fe
	}
	if f.Err == nil && env.Type == "error" {
		f.Err = &FrameError{Message: env.Message}
	}
	return f
}

// IsEvent reports whether the frame is an id-less notification.
func (f *Frame) IsEvent() bool { return !f.HasID && f.Method != "" }

// IsProbe reports whether the frame is the channel's watchdog self-message.
func (f *Frame) IsProbe() bool { return f.Method == ProbeMethod }

// IsError reports whether the frame is error-tagged under either protocol.
func (f *Frame) IsError() bool {
	return f.Type == "error" || (f.Err != nil && f.Type != "malformed")
}

// IsMalformed reports whether the frame is a synthetic diagnostic entry.
func (f *Frame) IsMalformed() bool { return f.Type == "malformed" }

// ErrorText returns the error detail of an error-tagged frame.
func (f *Frame) ErrorText() string {
	if f.Err == nil {
		return ""
	}
	if f.Err.Code != 0 {
		return fmt.Sprintf("%d: %s", f.Err.Code, f.Err.Message)
	}
	return f.Err.Message
}

// Allocator hands out the small sequential logical ids. One allocator per
// Session generation; ids are never reused within a generation.
type Allocator struct {
	mu   sync.Mutex
	next int
}

// NewAllocator returns an allocator starting at 1.
func NewAllocator() *Allocator { return &Allocator{next: 1} }

// Next returns the next logical id.
func (a *Allocator) Next() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.next
	a.next++
	return id
}
