package session

import (
	"encoding/json"
	"fmt"
)

// Navigate loads a URL in the active browsing context and blocks until
// the requested readiness is reached. readiness is one of ReadyNone,
// ReadyInteractive, or ReadyComplete; empty defaults to ReadyComplete.
func (s *Session) Navigate(url, readiness string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	if readiness == "" {
		readiness = ReadyComplete
	}
	return s.adapter.Navigate(s, url, readiness)
}

// Evaluate runs a script expression in the active context and returns the
// raw result payload.
func (s *Session) Evaluate(expr string, await bool) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", ErrConnection)
	}
	return s.adapter.Evaluate(s, expr, await)
}

// LocateElements resolves a CSS selector in the active context, replacing
// any previously located set, and returns how many elements matched.
func (s *Session) LocateElements(selector string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, fmt.Errorf("%w: session closed", ErrConnection)
	}
	if selector == "" {
		return 0, fmt.Errorf("%w: empty selector", ErrPrecondition)
	}
	if err := s.adapter.LocateElements(s, selector); err != nil {
		return 0, err
	}
	return len(s.state.Elements), nil
}

// Click presses the primary button on the first located element the given
// number of times. Locating must have succeeded first.
func (s *Session) Click(clicks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	el, ok := s.state.CurrentElement()
	if !ok {
		return fmt.Errorf("%w: no element located", ErrPrecondition)
	}
	if clicks < 1 {
		clicks = 1
	}
	return s.adapter.Click(s, el, clicks)
}

// SendKeys types text into the focused element. Codepoints at or above the
// control threshold are dispatched as special keys rather than characters.
func (s *Session) SendKeys(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	return s.adapter.SendKeys(s, text)
}

// Print renders the active context to PDF. The base64 document lands in
// the print queue; fetch it with DequeuePrintData.
func (s *Session) Print() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	return s.adapter.Print(s)
}

// ListTargets refreshes the tab list from the browser and returns it.
// Known tabs keep their position; new ones are appended.
func (s *Session) ListTargets() ([]Tab, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, fmt.Errorf("%w: session closed", ErrConnection)
	}
	if err := s.adapter.ListTargets(s); err != nil {
		return nil, err
	}
	tabs := make([]Tab, len(s.state.Tabs))
	copy(tabs, s.state.Tabs)
	return tabs, nil
}

// SetActiveTarget switches command routing to the given tab. The target
// must appear in the current tab list.
func (s *Session) SetActiveTarget(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	found := false
	for _, t := range s.state.Tabs {
		if t.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: unknown target %s", ErrPrecondition, id)
	}
	return s.adapter.SetActiveTarget(s, id)
}

// SetActiveFrame scopes subsequent commands to the Nth iframe of the
// active tab; index 0 restores the main document.
func (s *Session) SetActiveFrame(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	return s.adapter.SetActiveFrame(s, index)
}

// CloseBrowser asks the browser process to exit, then tears the session
// down regardless of the reply.
func (s *Session) CloseBrowser() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("%w: session closed", ErrConnection)
	}
	err := s.adapter.CloseBrowser(s)
	s.teardown()
	return err
}
