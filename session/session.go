// Package session implements the browser-automation session engine: the
// transport channel, the command/reply router, the session state store, and
// the two protocol adapters (CDP and WebDriver BiDi) behind one set of
// logical operations.
package session

import (
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"

	"github.com/gliderlab/webpilot/pkg/config"
	"github.com/gliderlab/webpilot/wire"
)

// Mode is the wire protocol a session speaks. It is derived from the
// connection endpoint once, at connect time, and never changes afterward.
type Mode int

const (
	// ModeCDP is the Chrome DevTools Protocol: category-prefixed methods,
	// many targets multiplexed over one socket via per-target session ids.
	ModeCDP Mode = iota
	// ModeBiDi is WebDriver BiDi: named-method JSON-RPC style commands,
	// one browsing context per logical session.
	ModeBiDi
)

func (m Mode) String() string {
	if m == ModeCDP {
		return "cdp"
	}
	return "bidi"
}

// DetectMode derives the protocol mode from a websocket endpoint. DevTools
// endpoints carry /devtools/ in their path; BiDi servers expose /session.
func DetectMode(endpoint string) Mode {
	u, err := url.Parse(endpoint)
	if err == nil && strings.Contains(u.Path, "/devtools/") {
		return ModeCDP
	}
	if err != nil && strings.Contains(endpoint, "/devtools/") {
		return ModeCDP
	}
	return ModeBiDi
}

// FrameSink receives a copy of every frame the router observes, outbound
// and inbound, with print payloads already scrubbed. Sinks must not block.
type FrameSink interface {
	RecordFrame(sessionKey, direction, method string, id int, payload string)
}

// Session is the live handle grouping one channel, its fixed protocol mode,
// and all derived state. All operations funnel through one mutex, so at
// most one command is ever outstanding.
type Session struct {
	mu sync.Mutex

	key  string
	ch   Transport
	mode Mode
	cfg  *config.SessionConfig

	ids     *wire.Allocator
	adapter adapter
	state   State
	pending map[int]commandKind

	// CDP target session ids, cached per target so re-activation reuses
	// the existing attachment instead of minting a new one.
	targetSessions map[string]string

	sink   FrameSink
	closed bool
}

// Connect dials the endpoint, selects the protocol adapter for it, and
// performs the protocol's session handshake.
func Connect(endpoint string, cfg *config.SessionConfig) (*Session, error) {
	if cfg == nil {
		cfg = config.DefaultSessionConfig()
	}
	ch, err := Dial(endpoint, cfg)
	if err != nil {
		return nil, err
	}
	s := newSession(ch, DetectMode(endpoint), cfg)
	if err := s.adapter.NewSession(s); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("handshake: %w", err)
	}
	log.Printf("[Session] Established: mode=%s key=%s", s.mode, s.key)
	return s, nil
}

func newSession(ch Transport, mode Mode, cfg *config.SessionConfig) *Session {
	s := &Session{
		key:            fmt.Sprintf("%s-%p", mode, ch),
		ch:             ch,
		mode:           mode,
		cfg:            cfg,
		ids:            wire.NewAllocator(),
		pending:        make(map[int]commandKind),
		targetSessions: make(map[string]string),
	}
	switch mode {
	case ModeCDP:
		s.adapter = cdpAdapter{}
	default:
		s.adapter = bidiAdapter{}
	}
	return s
}

// Key identifies the session in recorder/inspector output.
func (s *Session) Key() string { return s.key }

// Mode returns the fixed protocol mode.
func (s *Session) Mode() Mode { return s.mode }

// SetSink attaches a frame sink (e.g. the flight recorder).
func (s *Session) SetSink(sink FrameSink) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sink = sink
}

// SessionID returns the current protocol session identifier, if any.
func (s *Session) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.SessionID
}

// Tabs returns a copy of the current tab collection.
func (s *Session) Tabs() []Tab {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Tab, len(s.state.Tabs))
	copy(out, s.state.Tabs)
	return out
}

// Elements returns a copy of the most recent location query's handles.
func (s *Session) Elements() []ElementRef {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ElementRef, len(s.state.Elements))
	copy(out, s.state.Elements)
	return out
}

// Events returns the event log collected so far.
func (s *Session) Events() []*wire.Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*wire.Frame, len(s.state.Events))
	copy(out, s.state.Events)
	return out
}

// DequeuePrintData pops the oldest print payload (base64), FIFO. Dequeuing
// with nothing enqueued fails with ErrEmptyQueue.
func (s *Session) DequeuePrintData() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.state.dequeuePrint()
	if !ok {
		return "", ErrEmptyQueue
	}
	return data, nil
}

// Closed reports whether the session has been torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close ends the protocol session (best effort) and tears the channel down.
// With ReleaseOnExit set, the browser itself is asked to exit first.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	if s.cfg.ReleaseOnExit {
		if err := s.adapter.CloseBrowser(s); err != nil {
			log.Printf("[Session] Close-browser failed: %v", err)
		}
	} else if err := s.adapter.EndSession(s); err != nil {
		log.Printf("[Session] End-session failed: %v", err)
	}
	s.teardown()
	return nil
}

// resetTargetScope drops state that only holds within one target: located
// elements and the active frame. Callers must hold s.mu.
func (s *Session) resetTargetScope() {
	s.state.Elements = nil
	s.state.ActiveFrame = FrameRef{}
}

// teardown clears the session identifier and closes the channel. No resume
// path exists afterward; the remote engine abandons the socket shortly
// after any error reply, so teardown is proactive, never a retry candidate.
// Callers must hold s.mu.
func (s *Session) teardown() {
	if s.closed {
		return
	}
	s.closed = true
	s.state.SessionID = ""
	s.pending = make(map[int]commandKind)
	_ = s.ch.Close()
	log.Printf("[Session] Torn down: key=%s", s.key)
}
