package session

import (
	"fmt"
	"strings"
	"testing"
)

// cdpResponder answers the handshake and common commands the way a
// DevTools endpoint would.
func cdpResponder(ft *fakeTransport) {
	ft.respond = func(cmd sentCmd) [][]byte {
		switch cmd.Method {
		case "Target.getTargets":
			return [][]byte{[]byte(reply(cmd.ID, `{"targetInfos":[
				{"targetId":"t1","type":"page","url":"https://a"},
				{"targetId":"t2","type":"page","url":"https://b"}
			]}`))}
		case "Target.attachToTarget":
			target, _ := cmd.Params["targetId"].(string)
			return [][]byte{[]byte(reply(cmd.ID, fmt.Sprintf(`{"sessionId":"sess-%s"}`, target)))}
		case "Page.navigate":
			return [][]byte{
				[]byte(reply(cmd.ID, `{"frameId":"f1"}`)),
				[]byte(`{"method":"Page.frameStoppedLoading","params":{"frameId":"f1"}}`),
			}
		default:
			return [][]byte{[]byte(reply(cmd.ID, `{}`))}
		}
	}
}

func TestCDPNewSessionAttachesFirstPage(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)

	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if s.state.SessionID != "sess-t1" {
		t.Errorf("Expected sess-t1, got %q", s.state.SessionID)
	}
	if s.state.ActiveTarget != "t1" {
		t.Errorf("Expected active target t1, got %q", s.state.ActiveTarget)
	}
	if got := s.targetSessions["t1"]; got != "sess-t1" {
		t.Errorf("Expected cached attachment for t1, got %q", got)
	}
}

func TestCDPSetActiveTargetReusesAttachment(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)

	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	if err := s.adapter.SetActiveTarget(s, "t2"); err != nil {
		t.Fatalf("SetActiveTarget t2 failed: %v", err)
	}
	attaches := 0
	for _, c := range ft.sent {
		if c.Method == "Target.attachToTarget" {
			attaches++
		}
	}
	if attaches != 2 {
		t.Fatalf("Expected 2 attachments so far, got %d", attaches)
	}

	// Switching back must reuse the cached session id without a new attach.
	if err := s.adapter.SetActiveTarget(s, "t1"); err != nil {
		t.Fatalf("SetActiveTarget t1 failed: %v", err)
	}
	attaches = 0
	for _, c := range ft.sent {
		if c.Method == "Target.attachToTarget" {
			attaches++
		}
	}
	if attaches != 2 {
		t.Errorf("Expected no new attachment on cached switch, got %d", attaches)
	}
	if s.state.SessionID != "sess-t1" {
		t.Errorf("Expected restored sess-t1, got %q", s.state.SessionID)
	}
}

func TestCDPNavigateSequence(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	ft.sent = nil

	if err := s.adapter.Navigate(s, "https://example.com", ReadyComplete); err != nil {
		t.Fatalf("Navigate failed: %v", err)
	}

	want := []string{"Page.enable", "Page.navigate", "Page.navigate", "Page.disable"}
	got := ft.methods()
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, got)
		}
	}

	// Page-scoped commands carry the target's session id.
	for _, c := range ft.sent {
		if c.SessionID != "sess-t1" {
			t.Errorf("Expected session id on %s, got %q", c.Method, c.SessionID)
		}
	}
}

func TestCDPCommandIDOffsets(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)

	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	// First logical id went to Target.getTargets, second to the attach.
	if ft.sent[0].ID != 9001 {
		t.Errorf("Expected target-category id 9001, got %d", ft.sent[0].ID)
	}
	if ft.sent[1].ID != 9002 {
		t.Errorf("Expected target-category id 9002, got %d", ft.sent[1].ID)
	}

	ft.sent = nil
	if _, err := s.adapter.Evaluate(s, "1+1", false); err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if ft.sent[0].ID != 9403 {
		t.Errorf("Expected runtime-category id 9403, got %d", ft.sent[0].ID)
	}
}

func TestCDPSendKeysMix(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}
	ft.sent = nil

	// Two printables and one backspace sentinel.
	if err := s.adapter.SendKeys(s, "ab"); err != nil {
		t.Fatalf("SendKeys failed: %v", err)
	}

	var types []string
	for _, c := range ft.sent {
		if c.Method != "Input.dispatchKeyEvent" {
			t.Fatalf("Unexpected method %s", c.Method)
		}
		ty, _ := c.Params["type"].(string)
		types = append(types, ty)
	}
	want := []string{"char", "keyUp", "char", "keyUp", "rawKeyDown", "keyUp"}
	if len(types) != len(want) {
		t.Fatalf("Expected %v, got %v", want, types)
	}
	for i := range want {
		if types[i] != want[i] {
			t.Fatalf("Expected %v, got %v", want, types)
		}
	}

	// The sentinel carries the virtual key code, not text.
	raw := ft.sent[4]
	if code, _ := raw.Params["windowsVirtualKeyCode"].(float64); int(code) != 8 {
		t.Errorf("Expected backspace code 8, got %v", raw.Params["windowsVirtualKeyCode"])
	}
}

func TestCDPClickAtQuadCenter(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	ft.respond = func(cmd sentCmd) [][]byte {
		if cmd.Method == "DOM.getBoxModel" {
			return [][]byte{[]byte(reply(cmd.ID, `{"model":{"content":[10,20,110,20,110,70,10,70]}}`))}
		}
		return [][]byte{[]byte(reply(cmd.ID, `{}`))}
	}
	ft.sent = nil

	if err := s.adapter.Click(s, ElementRef{NodeID: 42}, 2); err != nil {
		t.Fatalf("Click failed: %v", err)
	}

	var mouse []sentCmd
	for _, c := range ft.sent {
		if c.Method == "Input.dispatchMouseEvent" {
			mouse = append(mouse, c)
		}
	}
	if len(mouse) != 4 {
		t.Fatalf("Expected 2 press/release pairs, got %d events", len(mouse))
	}
	if x, _ := mouse[0].Params["x"].(float64); x != 60 {
		t.Errorf("Expected x=60 (quad center), got %v", mouse[0].Params["x"])
	}
	if y, _ := mouse[0].Params["y"].(float64); y != 45 {
		t.Errorf("Expected y=45 (quad center), got %v", mouse[0].Params["y"])
	}
	if ty, _ := mouse[0].Params["type"].(string); ty != "mousePressed" {
		t.Errorf("Expected mousePressed first, got %v", ty)
	}
}

func TestCDPClickMissingGeometryIsSoft(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	ft.respond = func(cmd sentCmd) [][]byte {
		if cmd.Method == "DOM.getBoxModel" {
			return [][]byte{[]byte(reply(cmd.ID, `{"model":{"content":[1,2]}}`))}
		}
		return [][]byte{[]byte(reply(cmd.ID, `{}`))}
	}
	ft.sent = nil

	if err := s.adapter.Click(s, ElementRef{NodeID: 42}, 1); err != nil {
		t.Fatalf("Expected short quad to be a soft skip, got %v", err)
	}
	for _, c := range ft.sent {
		if c.Method == "Input.dispatchMouseEvent" {
			t.Error("Expected no mouse events without usable geometry")
		}
	}
	if s.closed {
		t.Error("Soft geometry failure must not tear the session down")
	}
}

func TestCDPLocateUsesCachedFrameDoc(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	ft.respond = func(cmd sentCmd) [][]byte {
		switch cmd.Method {
		case "DOM.getDocument":
			return [][]byte{[]byte(reply(cmd.ID, `{"root":{"nodeId":1,"nodeName":"#document"}}`))}
		case "DOM.querySelectorAll":
			return [][]byte{[]byte(reply(cmd.ID, `{"nodeIds":[5]}`))}
		default:
			return [][]byte{[]byte(reply(cmd.ID, `{}`))}
		}
	}

	// Main document: a root fetch precedes the query.
	ft.sent = nil
	if err := s.adapter.LocateElements(s, "a.link"); err != nil {
		t.Fatalf("LocateElements failed: %v", err)
	}
	if got := ft.methods(); len(got) != 2 || got[0] != "DOM.getDocument" || got[1] != "DOM.querySelectorAll" {
		t.Fatalf("Expected document fetch then query, got %v", got)
	}

	// With a cached iframe document the root fetch is skipped.
	s.state.ActiveFrame = FrameRef{DocNodeID: 77}
	ft.sent = nil
	if err := s.adapter.LocateElements(s, "a.link"); err != nil {
		t.Fatalf("LocateElements failed: %v", err)
	}
	if got := ft.methods(); len(got) != 1 || got[0] != "DOM.querySelectorAll" {
		t.Fatalf("Expected direct query against cached doc, got %v", got)
	}
	if nodeID, _ := ft.sent[0].Params["nodeId"].(float64); int(nodeID) != 77 {
		t.Errorf("Expected cached doc node 77, got %v", ft.sent[0].Params["nodeId"])
	}
}

func TestCDPSetActiveFrameFlattensDocuments(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	// Main document with two iframes, one of them nested.
	tree := `{"root":{"nodeId":1,"nodeName":"#document","children":[
		{"nodeId":2,"nodeName":"IFRAME","contentDocument":
			{"nodeId":3,"nodeName":"#document","children":[
				{"nodeId":4,"nodeName":"IFRAME","contentDocument":{"nodeId":5,"nodeName":"#document"}}
			]}
		}
	]}}`
	ft.respond = func(cmd sentCmd) [][]byte {
		if cmd.Method == "DOM.getDocument" {
			return [][]byte{[]byte(reply(cmd.ID, tree))}
		}
		return [][]byte{[]byte(reply(cmd.ID, `{}`))}
	}

	if err := s.adapter.SetActiveFrame(s, 2); err != nil {
		t.Fatalf("SetActiveFrame failed: %v", err)
	}
	if s.state.ActiveFrame.DocNodeID != 5 {
		t.Errorf("Expected second document node 5, got %d", s.state.ActiveFrame.DocNodeID)
	}

	if err := s.adapter.SetActiveFrame(s, 9); err == nil {
		t.Error("Expected out-of-range frame index to fail")
	}

	// Index 0 restores the main document without touching the wire.
	ft.sent = nil
	if err := s.adapter.SetActiveFrame(s, 0); err != nil {
		t.Fatalf("SetActiveFrame(0) failed: %v", err)
	}
	if !s.state.ActiveFrame.IsMain() {
		t.Error("Expected main document restored")
	}
	if len(ft.sent) != 0 {
		t.Errorf("Expected no commands for index 0, got %v", ft.methods())
	}
}

func TestCDPPrintQueuesDocument(t *testing.T) {
	s, ft := testSession(t, ModeCDP)
	cdpResponder(ft)
	sink := &recordingSink{}
	s.SetSink(sink)
	if err := s.adapter.NewSession(s); err != nil {
		t.Fatalf("NewSession failed: %v", err)
	}

	ft.respond = func(cmd sentCmd) [][]byte {
		if cmd.Method == "Page.printToPDF" {
			return [][]byte{[]byte(reply(cmd.ID, `{"data":"JVBERi0xLjQ="}`))}
		}
		return [][]byte{[]byte(reply(cmd.ID, `{}`))}
	}

	if err := s.adapter.Print(s); err != nil {
		t.Fatalf("Print failed: %v", err)
	}
	if len(s.state.PrintQueue) != 1 || s.state.PrintQueue[0] != "JVBERi0xLjQ=" {
		t.Errorf("Expected queued document, got %v", s.state.PrintQueue)
	}

	// Neither the response log nor the sink saw the payload.
	for _, r := range s.state.Responses {
		if strings.Contains(r.Payload, "JVBERi0xLjQ=") {
			t.Errorf("Print payload leaked to response log: %s", r.Payload)
		}
	}
	for _, e := range sink.entries {
		if strings.Contains(e, "JVBERi0xLjQ=") {
			t.Errorf("Print payload leaked to sink: %s", e)
		}
	}
}
