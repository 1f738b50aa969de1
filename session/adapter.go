package session

import "encoding/json"

// Readiness values for Navigate.
const (
	ReadyNone        = "none"
	ReadyInteractive = "interactive"
	ReadyComplete    = "complete"
)

// adapter renders one logical operation per browser action into the wire
// messages of its protocol. Exactly one implementation is selected at
// connect time and injected into every higher-level operation; protocol
// mode is never re-tested per call. Methods run with s.mu held and drive
// the router through s.exchange / s.waitForEvent.
type adapter interface {
	NewSession(s *Session) error
	EndSession(s *Session) error
	CloseBrowser(s *Session) error
	ListTargets(s *Session) error
	SetActiveTarget(s *Session, id string) error
	SetActiveFrame(s *Session, index int) error
	Navigate(s *Session, url, readiness string) error
	Evaluate(s *Session, expr string, await bool) (json.RawMessage, error)
	LocateElements(s *Session, selector string) error
	SendKeys(s *Session, text string) error
	Click(s *Session, el ElementRef, clicks int) error
	Print(s *Session) error
}
