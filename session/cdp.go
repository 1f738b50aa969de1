package session

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/gliderlab/webpilot/keymap"
	"github.com/gliderlab/webpilot/wire"
)

// cdpAdapter speaks the Chrome DevTools Protocol. Targets are multiplexed
// over one socket: after attaching to a target, every target-scoped command
// carries that target's session id. Command ids are the session's logical
// ids plus the category offset, keeping the combined id space readable.
type cdpAdapter struct{}

// command builds a CDP message. Browser-level categories (Target) never
// carry a session id; everything else is target-scoped once attached.
func (cdpAdapter) command(s *Session, cat wire.Category, method string, params map[string]interface{}) *wire.Message {
	msg := &wire.Message{
		ID:     s.ids.Next() + cat.Offset(),
		Method: method,
		Params: params,
	}
	if cat != wire.CategoryTarget {
		msg.SessionID = s.state.SessionID
	}
	return msg
}

// NewSession lists targets and attaches to the first page. CDP has no
// session handshake of its own; the attachment's session id plays that role.
func (a cdpAdapter) NewSession(s *Session) error {
	if err := a.ListTargets(s); err != nil {
		return err
	}
	if len(s.state.Tabs) == 0 {
		return fmt.Errorf("%w: no page targets available", ErrPrecondition)
	}
	return a.SetActiveTarget(s, s.state.Tabs[0].ID)
}

func (a cdpAdapter) EndSession(s *Session) error {
	if s.state.SessionID == "" {
		return nil
	}
	msg := a.command(s, wire.CategoryTarget, "Target.detachFromTarget",
		map[string]interface{}{"sessionId": s.state.SessionID})
	_, err := s.exchange(msg, kindGeneric)
	return err
}

func (a cdpAdapter) CloseBrowser(s *Session) error {
	msg := a.command(s, wire.CategoryTarget, "Browser.close", nil)
	_, err := s.exchange(msg, kindGeneric)
	return err
}

func (a cdpAdapter) ListTargets(s *Session) error {
	msg := a.command(s, wire.CategoryTarget, "Target.getTargets", nil)
	_, err := s.exchange(msg, kindListTargets)
	return err
}

// SetActiveTarget attaches to the target, or reuses the cached session id
// from an earlier attachment. Switching targets invalidates located
// elements and any cached iframe document.
func (a cdpAdapter) SetActiveTarget(s *Session, id string) error {
	if cached, ok := s.targetSessions[id]; ok {
		s.state.SessionID = cached
		s.state.ActiveTarget = id
		s.resetTargetScope()
		return nil
	}
	msg := a.command(s, wire.CategoryTarget, "Target.attachToTarget",
		map[string]interface{}{"targetId": id, "flatten": true})
	if _, err := s.exchange(msg, kindTargetAttach); err != nil {
		return err
	}
	if s.state.SessionID == "" {
		return fmt.Errorf("%w: attach to %s returned no session id", ErrProtocol, id)
	}
	s.targetSessions[id] = s.state.SessionID
	s.state.ActiveTarget = id
	s.resetTargetScope()
	return nil
}

// SetActiveFrame addresses iframes through the DOM tree: the pierced
// document tree is flattened into an ordered list of document nodes, and
// the Nth entry selects the Nth iframe. Index 0 restores the main document.
func (a cdpAdapter) SetActiveFrame(s *Session, index int) error {
	if index == 0 {
		s.state.ActiveFrame = FrameRef{}
		s.state.Elements = nil
		return nil
	}
	msg := a.command(s, wire.CategoryDOM, "DOM.getDocument",
		map[string]interface{}{"depth": -1, "pierce": true})
	f, err := s.exchange(msg, kindGeneric)
	if err != nil {
		return err
	}
	docs := documentNodes(f.Result)
	if index < 0 || index >= len(docs) {
		return fmt.Errorf("%w: frame index %d out of range (%d documents)", ErrPrecondition, index, len(docs))
	}
	s.state.ActiveFrame = FrameRef{DocNodeID: docs[index]}
	s.state.Elements = nil
	return nil
}

type domNode struct {
	NodeID          int       `json:"nodeId"`
	NodeName        string    `json:"nodeName"`
	Children        []domNode `json:"children"`
	ContentDocument *domNode  `json:"contentDocument"`
}

// documentNodes flattens the tree into the ordered "#document" list,
// descending into each node's children and nested content document.
func documentNodes(result json.RawMessage) []int {
	var res struct {
		Root domNode `json:"root"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return nil
	}
	var docs []int
	var walk func(n *domNode)
	walk = func(n *domNode) {
		if n.NodeName == "#document" {
			docs = append(docs, n.NodeID)
		}
		for i := range n.Children {
			walk(&n.Children[i])
		}
		if n.ContentDocument != nil {
			walk(n.ContentDocument)
		}
	}
	walk(&res.Root)
	return docs
}

// Navigate enables lifecycle events, navigates twice (a second navigate is
// required because unfocused windows ignore the first one's input focus),
// blocks for the frame-stopped-loading event, then disables lifecycle
// events again. The readiness flag is implicit: the event wait covers it.
func (a cdpAdapter) Navigate(s *Session, url, readiness string) error {
	enable := a.command(s, wire.CategoryPage, "Page.enable", nil)
	if _, err := s.exchange(enable, kindGeneric); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		nav := a.command(s, wire.CategoryPage, "Page.navigate", map[string]interface{}{"url": url})
		if _, err := s.exchange(nav, kindGeneric); err != nil {
			return err
		}
	}
	if readiness != ReadyNone {
		if _, err := s.waitForEvent("Page.frameStoppedLoading", s.cfg.NavigateTimeout); err != nil {
			return err
		}
	}
	disable := a.command(s, wire.CategoryPage, "Page.disable", nil)
	_, err := s.exchange(disable, kindGeneric)
	return err
}

func (a cdpAdapter) Evaluate(s *Session, expr string, await bool) (json.RawMessage, error) {
	msg := a.command(s, wire.CategoryRuntime, "Runtime.evaluate", map[string]interface{}{
		"expression":    expr,
		"returnByValue": true,
		"awaitPromise":  await,
	})
	f, err := s.exchange(msg, kindGeneric)
	if err != nil {
		return nil, err
	}
	return f.Result, nil
}

// LocateElements scopes the selector query to the cached iframe document
// when one is active; otherwise it fetches the root document node first.
func (a cdpAdapter) LocateElements(s *Session, selector string) error {
	nodeID := s.state.ActiveFrame.DocNodeID
	if nodeID == 0 {
		msg := a.command(s, wire.CategoryDOM, "DOM.getDocument", nil)
		f, err := s.exchange(msg, kindGeneric)
		if err != nil {
			return err
		}
		var res struct {
			Root struct {
				NodeID int `json:"nodeId"`
			} `json:"root"`
		}
		if err := json.Unmarshal(f.Result, &res); err != nil || res.Root.NodeID == 0 {
			return fmt.Errorf("%w: document root unavailable", ErrProtocol)
		}
		nodeID = res.Root.NodeID
	}
	msg := a.command(s, wire.CategoryDOM, "DOM.querySelectorAll", map[string]interface{}{
		"nodeId":   nodeID,
		"selector": selector,
	})
	_, err := s.exchange(msg, kindLocate)
	return err
}

// SendKeys dispatches one down+up pair per character: a "char" event for
// printables, a raw key event from the lookup table for sentinel control
// codepoints.
func (a cdpAdapter) SendKeys(s *Session, text string) error {
	for _, r := range text {
		if keymap.IsControl(r) {
			key, ok := keymap.Lookup(r)
			if !ok {
				log.Printf("[Session] No key code for U+%04X, skipped", r)
				continue
			}
			down := a.command(s, wire.CategoryInput, "Input.dispatchKeyEvent", map[string]interface{}{
				"type":                  "rawKeyDown",
				"key":                   key.Name,
				"windowsVirtualKeyCode": key.Code,
			})
			if _, err := s.exchange(down, kindGeneric); err != nil {
				return err
			}
			up := a.command(s, wire.CategoryInput, "Input.dispatchKeyEvent", map[string]interface{}{
				"type":                  "keyUp",
				"key":                   key.Name,
				"windowsVirtualKeyCode": key.Code,
			})
			if _, err := s.exchange(up, kindGeneric); err != nil {
				return err
			}
			continue
		}
		down := a.command(s, wire.CategoryInput, "Input.dispatchKeyEvent", map[string]interface{}{
			"type": "char",
			"text": string(r),
		})
		if _, err := s.exchange(down, kindGeneric); err != nil {
			return err
		}
		up := a.command(s, wire.CategoryInput, "Input.dispatchKeyEvent", map[string]interface{}{
			"type": "keyUp",
			"key":  string(r),
		})
		if _, err := s.exchange(up, kindGeneric); err != nil {
			return err
		}
	}
	return nil
}

// Click fetches the element's box-model content quad, computes its center,
// and issues raw down/up mouse events there. A missing quad is a soft
// failure: the click is skipped with a warning.
func (a cdpAdapter) Click(s *Session, el ElementRef, clicks int) error {
	msg := a.command(s, wire.CategoryDOM, "DOM.getBoxModel",
		map[string]interface{}{"nodeId": el.NodeID})
	f, err := s.exchange(msg, kindGeneric)
	if err != nil {
		return err
	}
	x, y, ok := contentCenter(f.Result)
	if !ok {
		log.Printf("[Session] Element geometry unavailable, click skipped")
		return nil
	}
	for i := 0; i < clicks; i++ {
		press := a.command(s, wire.CategoryInput, "Input.dispatchMouseEvent", map[string]interface{}{
			"type": "mousePressed", "x": x, "y": y, "button": "left", "clickCount": i + 1,
		})
		if _, err := s.exchange(press, kindGeneric); err != nil {
			return err
		}
		release := a.command(s, wire.CategoryInput, "Input.dispatchMouseEvent", map[string]interface{}{
			"type": "mouseReleased", "x": x, "y": y, "button": "left", "clickCount": i + 1,
		})
		if _, err := s.exchange(release, kindGeneric); err != nil {
			return err
		}
	}
	return nil
}

// contentCenter averages the content quad corners into one representative
// point.
func contentCenter(result json.RawMessage) (float64, float64, bool) {
	var res struct {
		Model struct {
			Content []float64 `json:"content"`
		} `json:"model"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return 0, 0, false
	}
	q := res.Model.Content
	if len(q) < 8 {
		return 0, 0, false
	}
	var x, y float64
	for i := 0; i < 8; i += 2 {
		x += q[i]
		y += q[i+1]
	}
	return x / 4, y / 4, true
}

func (a cdpAdapter) Print(s *Session) error {
	msg := a.command(s, wire.CategoryPage, "Page.printToPDF",
		map[string]interface{}{"printBackground": true})
	_, err := s.exchange(msg, kindPrint)
	return err
}
