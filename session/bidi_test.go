package session

import (
	"testing"
)

func bidiResponder(ft *fakeTransport) {
	ft.respond = func(cmd sentCmd) [][]byte {
		switch cmd.Method {
		case "session.new":
			return [][]byte{[]byte(reply(cmd.ID, `{"sessionId":"bidi-1","capabilities":{}}`))}
		case "browsingContext.getTree":
			return [][]byte{[]byte(reply(cmd.ID, `{"contexts":[
				{"context":"top","url":"https://a","children":[
					{"context":"frame1","url":"https://a/f1","children":[]},
					{"context":"frame2","url":"https://a/f2","children":[]}
				]}
			]}`))}
		case "browsingContext.locateNodes":
			return [][]byte{[]byte(reply(cmd.ID, `{"nodes":[{"sharedId":"el-1"},{"sharedId":"el-2"}]}`))}
		default:
			return [][]byte{[]byte(reply(cmd.ID, `{}`))}
		}
	}
}

func TestBiDiNewSession(t *testing.T) {
	s, ft := testSession(t, ModeBiDi)
	bidiResponder(ft)

	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if s.state.SessionID != "bidi-1" {
		t.Errorf("Expected session id bidi-1, got %q", s.state.SessionID)
	}
	if s.state.ActiveTarget != "top" {
		t.Errorf("Expected active context top, got %q", s.state.ActiveTarget)
	}

	// BiDi uses the raw logical ids, no category offset.
	if ft.sent[0].ID != 1 || ft.sent[1].ID != 2 {
		t.Errorf("Expected sequential ids 1, 2, got %d, %d", ft.sent[0].ID, ft.sent[1].ID)
	}
}

func TestBiDiNavigateSingleCommand(t *testing.T) {
	s, ft := testSession(t, ModeBiDi)
	bidiResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	ft.sent = nil

	if err := s.adapter.Navigate(s, "https://example.com", ReadyInteractive); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}

	if len(ft.sent) != 1 {
		t.Fatalf("Expected a single navigate command, got %v", ft.methods())
	}
	cmd := ft.sent[0]
	if cmd.Method != "browsingContext.navigate" {
		t.Errorf("Expected browsingContext.navigate, got %s", cmd.Method)
	}
	if wait, _ := cmd.Params["wait"].(string); wait != "interactive" {
		t.Errorf("Expected wait=interactive, got %v", cmd.Params["wait"])
	}
	if ctx, _ := cmd.Params["context"].(string); ctx != "top" {
		t.Errorf("Expected context=top, got %v", cmd.Params["context"])
	}
}

func TestBiDiSendKeysAtomicActionList(t *testing.T) {
	s, ft := testSession(t, ModeBiDi)
	bidiResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	ft.sent = nil

	if err := s.adapter.SendKeys(s, "hi"); err != nil {
		t.Fatalf("SendKeys failed: %v", err)
	}

	got := ft.methods()
	if len(got) != 2 || got[0] != "input.performActions" || got[1] != "input.releaseActions" {
		t.Fatalf("Expected one action list then a release, got %v", got)
	}

	sources, _ := ft.sent[0].Params["actions"].([]interface{})
	if len(sources) != 1 {
		t.Fatalf("Expected one key source, got %d", len(sources))
	}
	src, _ := sources[0].(map[string]interface{})
	actions, _ := src["actions"].([]interface{})
	if len(actions) != 4 {
		t.Errorf("Expected down+up per character (4 actions), got %d", len(actions))
	}
}

func TestBiDiClickViaPointerActions(t *testing.T) {
	s, ft := testSession(t, ModeBiDi)
	bidiResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	ft.sent = nil

	if err := s.adapter.Click(s, ElementRef{SharedID: "el-1"}, 2); err != nil {
		t.Fatalf("Click failed: %v", err)
	}

	got := ft.methods()
	if len(got) != 2 || got[0] != "input.performActions" || got[1] != "input.releaseActions" {
		t.Fatalf("Expected pointer actions then release, got %v", got)
	}

	sources, _ := ft.sent[0].Params["actions"].([]interface{})
	src, _ := sources[0].(map[string]interface{})
	actions, _ := src["actions"].([]interface{})
	// pointerMove plus two down/up pairs
	if len(actions) != 5 {
		t.Errorf("Expected 5 pointer actions, got %d", len(actions))
	}
	move, _ := actions[0].(map[string]interface{})
	if ty, _ := move["type"].(string); ty != "pointerMove" {
		t.Errorf("Expected pointerMove first, got %v", ty)
	}
}

func TestBiDiLocateNodes(t *testing.T) {
	s, ft := testSession(t, ModeBiDi)
	bidiResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.adapter.LocateElements(s, "div.item"); err != nil {
		t.Fatalf("LocateElements failed: %v", err)
	}
	if len(s.state.Elements) != 2 || s.state.Elements[0].SharedID != "el-1" {
		t.Errorf("Expected shared ids from locateNodes, got %+v", s.state.Elements)
	}

	last := ft.sent[len(ft.sent)-1]
	locator, _ := last.Params["locator"].(map[string]interface{})
	if ty, _ := locator["type"].(string); ty != "css" {
		t.Errorf("Expected css locator, got %v", locator)
	}
}

func TestBiDiSetActiveFrame(t *testing.T) {
	s, ft := testSession(t, ModeBiDi)
	bidiResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	if err := s.adapter.SetActiveFrame(s, 2); err != nil {
		t.Fatalf("SetActiveFrame failed: %v", err)
	}
	if s.state.ActiveFrame.Context != "frame2" {
		t.Errorf("Expected frame2 active, got %q", s.state.ActiveFrame.Context)
	}

	// Commands now address the frame's context.
	ft.sent = nil
	if err := s.adapter.Navigate(s, "https://b", ReadyComplete); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}
	if ctx, _ := ft.sent[0].Params["context"].(string); ctx != "frame2" {
		t.Errorf("Expected navigate scoped to frame2, got %v", ft.sent[0].Params["context"])
	}

	if err := s.adapter.SetActiveFrame(s, 0); err != nil {
		t.Fatalf("SetActiveFrame(0) failed: %v", err)
	}
	if !s.state.ActiveFrame.IsMain() {
		t.Error("Expected main context restored")
	}

	if err := s.adapter.SetActiveFrame(s, 5); err == nil {
		t.Error("Expected out-of-range frame index to fail")
	}
}
