package session

import (
	"fmt"
	"log"
	"time"

	"github.com/gliderlab/webpilot/wire"
)

// exchange sends one command and drains inbound messages until the frame
// whose correlation id matches. Every observed frame, matching or not, is
// classified first, so derived state never goes stale even from discarded
// intermediate frames. Callers hold s.mu, which is what guarantees at most
// one unacknowledged outbound command per session.
func (s *Session) exchange(msg *wire.Message, kind commandKind) (*wire.Frame, error) {
	if s.closed {
		return nil, fmt.Errorf("%w: session is torn down", ErrConnection)
	}

	data, err := msg.Encode()
	if err != nil {
		return nil, err
	}
	s.record("out", msg.Method, msg.ID, string(data))
	if err := s.ch.Send(data); err != nil {
		s.teardown()
		return nil, err
	}
	s.pending[msg.ID] = kind

	deadline := time.Now().Add(s.cfg.CommandTimeout)
	for {
		raw, err := s.ch.Receive()
		if err != nil {
			// Channel failed mid-wait: no result, session is broken.
			s.teardown()
			return nil, err
		}
		f := wire.DecodeFrame(raw)
		if f.IsProbe() {
			if time.Now().After(deadline) {
				s.teardown()
				return nil, fmt.Errorf("%w: %s (id %d) after %s", ErrTimeout, msg.Method, msg.ID, s.cfg.CommandTimeout)
			}
			continue
		}
		s.classify(f)
		if f.IsError() {
			// The remote engine abandons the socket shortly after any
			// error reply; tear down now rather than discover it later.
			s.teardown()
			return nil, fmt.Errorf("%w: %s: %s", ErrProtocol, msg.Method, f.ErrorText())
		}
		if f.HasID && f.ID == msg.ID {
			return f, nil
		}
	}
}

// waitForEvent blocks until an event with the given method arrives or the
// deadline passes. A timeout is an expected "no event yet" condition, not
// an error. Frames observed along the way are classified as usual.
func (s *Session) waitForEvent(method string, timeout time.Duration) (bool, error) {
	if s.closed {
		return false, fmt.Errorf("%w: session is torn down", ErrConnection)
	}
	deadline := time.Now().Add(timeout)
	for {
		raw, err := s.ch.Receive()
		if err != nil {
			s.teardown()
			return false, err
		}
		f := wire.DecodeFrame(raw)
		if f.IsProbe() {
			if time.Now().After(deadline) {
				log.Printf("[Session] No %s event within %s", method, timeout)
				return false, nil
			}
			continue
		}
		s.classify(f)
		if f.IsError() {
			s.teardown()
			return false, fmt.Errorf("%w: while waiting for %s: %s", ErrProtocol, method, f.ErrorText())
		}
		if f.IsEvent() && f.Method == method {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
	}
}

// classify hands one observed frame to the state-transition function and
// mirrors it to the sink. Malformed frames become diagnostic log entries;
// processing continues.
func (s *Session) classify(f *wire.Frame) {
	if f.IsMalformed() {
		s.state.Responses = append(s.state.Responses, LoggedFrame{ID: wire.MalformedID, Payload: string(f.Raw)})
		s.record("in", "", wire.MalformedID, string(f.Raw))
		log.Printf("[Session] Malformed frame recorded: %s", f.ErrorText())
		return
	}

	kind := kindGeneric
	if f.HasID {
		if k, ok := s.pending[f.ID]; ok {
			kind = k
			delete(s.pending, f.ID)
		}
	}
	s.state.apply(f, kind, s.mode)

	payload := string(f.Raw)
	if kind == kindPrint {
		payload = printPlaceholder
	}
	s.record("in", f.Method, f.ID, payload)
}

func (s *Session) record(direction, method string, id int, payload string) {
	if s.sink == nil {
		return
	}
	s.sink.RecordFrame(s.key, direction, method, id, payload)
}
