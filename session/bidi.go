package session

import (
	"encoding/json"
	"fmt"

	"github.com/gliderlab/webpilot/wire"
)

// bidiAdapter speaks WebDriver BiDi. Unlike CDP there is a real session
// handshake, navigation readiness is a first-class command parameter, and
// key input goes out as one atomic action list instead of per-key events.
type bidiAdapter struct{}

func (bidiAdapter) command(s *Session, method string, params map[string]interface{}) *wire.Message {
	return &wire.Message{
		ID:     s.ids.Next(),
		Method: method,
		Params: params,
	}
}

// context resolves the browsing context commands should address: the
// active iframe when one is selected, the active tab otherwise.
func (bidiAdapter) context(s *Session) string {
	if s.state.ActiveFrame.Context != "" {
		return s.state.ActiveFrame.Context
	}
	return s.state.ActiveTarget
}

func (a bidiAdapter) NewSession(s *Session) error {
	msg := a.command(s, "session.new", map[string]interface{}{
		"capabilities": map[string]interface{}{},
	})
	if _, err := s.exchange(msg, kindNewSession); err != nil {
		return err
	}
	if err := a.ListTargets(s); err != nil {
		return err
	}
	if len(s.state.Tabs) == 0 {
		return fmt.Errorf("%w: no browsing contexts available", ErrPrecondition)
	}
	s.state.ActiveTarget = s.state.Tabs[0].ID
	return nil
}

func (a bidiAdapter) EndSession(s *Session) error {
	if s.state.SessionID == "" {
		return nil
	}
	msg := a.command(s, "session.end", nil)
	_, err := s.exchange(msg, kindGeneric)
	return err
}

func (a bidiAdapter) CloseBrowser(s *Session) error {
	msg := a.command(s, "browser.close", nil)
	_, err := s.exchange(msg, kindGeneric)
	return err
}

func (a bidiAdapter) ListTargets(s *Session) error {
	msg := a.command(s, "browsingContext.getTree", nil)
	_, err := s.exchange(msg, kindListTargets)
	return err
}

func (a bidiAdapter) SetActiveTarget(s *Session, id string) error {
	msg := a.command(s, "browsingContext.activate",
		map[string]interface{}{"context": id})
	if _, err := s.exchange(msg, kindGeneric); err != nil {
		return err
	}
	s.state.ActiveTarget = id
	s.resetTargetScope()
	return nil
}

// SetActiveFrame selects a child context of the active tab by position.
// Index 0 restores the tab's own context.
func (a bidiAdapter) SetActiveFrame(s *Session, index int) error {
	if index == 0 {
		s.state.ActiveFrame = FrameRef{}
		s.state.Elements = nil
		return nil
	}
	msg := a.command(s, "browsingContext.getTree", nil)
	f, err := s.exchange(msg, kindListTargets)
	if err != nil {
		return err
	}
	children := childContexts(f.Result, s.state.ActiveTarget)
	if index < 1 || index > len(children) {
		return fmt.Errorf("%w: frame index %d out of range (%d frames)", ErrPrecondition, index, len(children))
	}
	s.state.ActiveFrame = FrameRef{Context: children[index-1]}
	s.state.Elements = nil
	return nil
}

// childContexts returns the pre-order context ids nested under the given
// tab, excluding the tab itself.
func childContexts(result json.RawMessage, target string) []string {
	var res struct {
		Contexts []bidiContext `json:"contexts"`
	}
	if err := json.Unmarshal(result, &res); err != nil {
		return nil
	}
	var frames []string
	var collect func(c *bidiContext)
	collect = func(c *bidiContext) {
		frames = append(frames, c.Context)
		for i := range c.Children {
			collect(&c.Children[i])
		}
	}
	var find func(cs []bidiContext) *bidiContext
	find = func(cs []bidiContext) *bidiContext {
		for i := range cs {
			if cs[i].Context == target {
				return &cs[i]
			}
			if hit := find(cs[i].Children); hit != nil {
				return hit
			}
		}
		return nil
	}
	tab := find(res.Contexts)
	if tab == nil {
		return nil
	}
	for i := range tab.Children {
		collect(&tab.Children[i])
	}
	return frames
}

// Navigate is a single command; the wait parameter folds readiness into
// the reply, so no event subscription is needed.
func (a bidiAdapter) Navigate(s *Session, url, readiness string) error {
	msg := a.command(s, "browsingContext.navigate", map[string]interface{}{
		"context": a.context(s),
		"url":     url,
		"wait":    readiness,
	})
	_, err := s.exchange(msg, kindGeneric)
	return err
}

func (a bidiAdapter) Evaluate(s *Session, expr string, await bool) (json.RawMessage, error) {
	msg := a.command(s, "script.evaluate", map[string]interface{}{
		"expression":   expr,
		"target":       map[string]interface{}{"context": a.context(s)},
		"awaitPromise": await,
	})
	f, err := s.exchange(msg, kindGeneric)
	if err != nil {
		return nil, err
	}
	return f.Result, nil
}

func (a bidiAdapter) LocateElements(s *Session, selector string) error {
	msg := a.command(s, "browsingContext.locateNodes", map[string]interface{}{
		"context": a.context(s),
		"locator": map[string]interface{}{"type": "css", "value": selector},
	})
	_, err := s.exchange(msg, kindLocate)
	return err
}

// SendKeys builds one key-source action list covering the whole text and
// releases the input source afterward so no key stays latched.
func (a bidiAdapter) SendKeys(s *Session, text string) error {
	var actions []map[string]interface{}
	for _, r := range text {
		actions = append(actions,
			map[string]interface{}{"type": "keyDown", "value": string(r)},
			map[string]interface{}{"type": "keyUp", "value": string(r)},
		)
	}
	msg := a.command(s, "input.performActions", map[string]interface{}{
		"context": a.context(s),
		"actions": []map[string]interface{}{{
			"type":    "key",
			"id":      "keyboard",
			"actions": actions,
		}},
	})
	if _, err := s.exchange(msg, kindGeneric); err != nil {
		return err
	}
	return a.releaseActions(s)
}

// Click moves a pointer to the element origin and presses the primary
// button the requested number of times.
func (a bidiAdapter) Click(s *Session, el ElementRef, clicks int) error {
	actions := []map[string]interface{}{{
		"type": "pointerMove",
		"x":    0,
		"y":    0,
		"origin": map[string]interface{}{
			"type":    "element",
			"element": map[string]interface{}{"sharedId": el.SharedID},
		},
	}}
	for i := 0; i < clicks; i++ {
		actions = append(actions,
			map[string]interface{}{"type": "pointerDown", "button": 0},
			map[string]interface{}{"type": "pointerUp", "button": 0},
		)
	}
	msg := a.command(s, "input.performActions", map[string]interface{}{
		"context": a.context(s),
		"actions": []map[string]interface{}{{
			"type":    "pointer",
			"id":      "mouse",
			"actions": actions,
		}},
	})
	if _, err := s.exchange(msg, kindGeneric); err != nil {
		return err
	}
	return a.releaseActions(s)
}

func (a bidiAdapter) releaseActions(s *Session) error {
	msg := a.command(s, "input.releaseActions", map[string]interface{}{
		"context": a.context(s),
	})
	_, err := s.exchange(msg, kindGeneric)
	return err
}

func (a bidiAdapter) Print(s *Session) error {
	msg := a.command(s, "browsingContext.print", map[string]interface{}{
		"context": a.context(s),
	})
	_, err := s.exchange(msg, kindPrint)
	return err
}
