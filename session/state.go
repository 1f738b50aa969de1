package session

import (
	"encoding/json"
	"log"

	"github.com/gliderlab/webpilot/wire"
)

// printPlaceholder replaces print payloads in the response log. The real
// payload lives only in the print queue until its single consumer drains it.
const printPlaceholder = "<print data moved to output queue>"

// commandKind tags an outbound command so the classifier knows which derived
// fields its reply updates. Everything else is stored verbatim.
type commandKind int

const (
	kindGeneric commandKind = iota
	kindNewSession
	kindTargetAttach
	kindListTargets
	kindLocate
	kindPrint
)

// Tab is one addressable target: a page, window, or frame. Iframes hang off
// their parent's id, forming a tree.
type Tab struct {
	ID     string
	URL    string
	Parent string
}

// ElementRef is a located element handle. CDP addresses nodes by numeric
// node id, BiDi by shared id; exactly one side is set.
type ElementRef struct {
	NodeID   int
	SharedID string
}

// FrameRef is the active iframe document. Zero value means the main
// document.
type FrameRef struct {
	DocNodeID int    // CDP: cached document node id
	Context   string // BiDi: nested browsing context id
}

// IsMain reports whether the main document is active.
func (f FrameRef) IsMain() bool { return f.DocNodeID == 0 && f.Context == "" }

// LoggedFrame is one response-log entry. Payload is the frame's raw text,
// scrubbed for print replies.
type LoggedFrame struct {
	ID      int
	Payload string
}

// State is the session's mutable record. It is written only by the
// classifier, only while a Receive is being processed; with at most one
// exchange outstanding there is never a concurrent writer.
type State struct {
	SessionID    string
	ActiveTarget string
	ActiveFrame  FrameRef
	Tabs         []Tab
	Elements     []ElementRef
	Responses    []LoggedFrame
	Events       []*wire.Frame
	PrintQueue   []string
}

// CurrentElement returns the designated current element: the first handle
// of the most recent location query.
func (st *State) CurrentElement() (ElementRef, bool) {
	if len(st.Elements) == 0 {
		return ElementRef{}, false
	}
	return st.Elements[0], true
}

// apply is the state-transition function: given one observed frame and the
// kind registered for its id, it updates derived fields and files the frame
// into the proper log. Probe frames are dropped; id-less frames go to the
// event log; recognized reply kinds update derived state.
func (st *State) apply(f *wire.Frame, kind commandKind, mode Mode) {
	if f.IsProbe() {
		return
	}
	if f.IsEvent() {
		st.Events = append(st.Events, f)
		return
	}

	switch kind {
	case kindNewSession:
		st.applySessionID(f)
	case kindTargetAttach:
		st.applySessionID(f)
	case kindListTargets:
		st.applyTargets(f, mode)
	case kindLocate:
		st.applyElements(f, mode)
	case kindPrint:
		st.applyPrint(f)
		return
	}
	st.Responses = append(st.Responses, LoggedFrame{ID: f.ID, Payload: string(f.Raw)})
}

func (st *State) applySessionID(f *wire.Frame) {
	var res struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(f.Result, &res); err != nil || res.SessionID == "" {
		return
	}
	st.SessionID = res.SessionID
}

func (st *State) applyTargets(f *wire.Frame, mode Mode) {
	var incoming []Tab
	switch mode {
	case ModeCDP:
		var res struct {
			TargetInfos []struct {
				TargetID string `json:"targetId"`
				Type     string `json:"type"`
				URL      string `json:"url"`
				OpenerID string `json:"openerId"`
			} `json:"targetInfos"`
		}
		if err := json.Unmarshal(f.Result, &res); err != nil {
			log.Printf("[Session] Target list unreadable: %v", err)
			return
		}
		for _, ti := range res.TargetInfos {
			if ti.Type != "page" && ti.Type != "iframe" {
				continue
			}
			incoming = append(incoming, Tab{ID: ti.TargetID, URL: ti.URL, Parent: ti.OpenerID})
		}
	case ModeBiDi:
		var res struct {
			Contexts []bidiContext `json:"contexts"`
		}
		if err := json.Unmarshal(f.Result, &res); err != nil {
			log.Printf("[Session] Context tree unreadable: %v", err)
			return
		}
		incoming = flattenContexts(res.Contexts, "")
	}

	st.Tabs = reconcileTabs(st.Tabs, incoming)

	// The active target must reference a member of the reconciled set.
	if st.ActiveTarget != "" && !containsTab(st.Tabs, st.ActiveTarget) {
		st.ActiveTarget = ""
	}
	if st.ActiveTarget == "" && len(st.Tabs) > 0 {
		st.ActiveTarget = st.Tabs[0].ID
	}
}

type bidiContext struct {
	Context  string        `json:"context"`
	URL      string        `json:"url"`
	Children []bidiContext `json:"children"`
}

func flattenContexts(ctxs []bidiContext, parent string) []Tab {
	var out []Tab
	for _, c := range ctxs {
		out = append(out, Tab{ID: c.Context, URL: c.URL, Parent: parent})
		out = append(out, flattenContexts(c.Children, c.Context)...)
	}
	return out
}

// reconcileTabs merges an incoming snapshot into the previous collection as
// sets keyed by id: removals first, then additions. Retained entries keep
// their relative order; new entries are appended, never re-sorted. An id is
// removed at most once and never duplicated.
func reconcileTabs(prev, incoming []Tab) []Tab {
	inSet := make(map[string]Tab, len(incoming))
	for _, t := range incoming {
		inSet[t.ID] = t
	}

	out := make([]Tab, 0, len(incoming))
	seen := make(map[string]bool, len(incoming))
	for _, t := range prev {
		nt, ok := inSet[t.ID]
		if !ok || seen[t.ID] {
			continue
		}
		out = append(out, nt)
		seen[t.ID] = true
	}
	for _, t := range incoming {
		if seen[t.ID] {
			continue
		}
		out = append(out, t)
		seen[t.ID] = true
	}
	return out
}

func containsTab(tabs []Tab, id string) bool {
	for _, t := range tabs {
		if t.ID == id {
			return true
		}
	}
	return false
}

// applyElements replaces the element sequence wholesale; the first handle
// becomes the current element. Results are never merged with a prior query.
func (st *State) applyElements(f *wire.Frame, mode Mode) {
	var els []ElementRef
	switch mode {
	case ModeCDP:
		var res struct {
			NodeIDs []int `json:"nodeIds"`
		}
		if err := json.Unmarshal(f.Result, &res); err != nil {
			log.Printf("[Session] Locate result unreadable: %v", err)
			return
		}
		for _, id := range res.NodeIDs {
			els = append(els, ElementRef{NodeID: id})
		}
	case ModeBiDi:
		var res struct {
			Nodes []struct {
				SharedID string `json:"sharedId"`
			} `json:"nodes"`
		}
		if err := json.Unmarshal(f.Result, &res); err != nil {
			log.Printf("[Session] Locate result unreadable: %v", err)
			return
		}
		for _, n := range res.Nodes {
			els = append(els, ElementRef{SharedID: n.SharedID})
		}
	}
	st.Elements = els
}

// applyPrint drains the base64 payload to the output queue and stores only
// a placeholder in the response log.
func (st *State) applyPrint(f *wire.Frame) {
	var res struct {
		Data string `json:"data"`
	}
	if err := json.Unmarshal(f.Result, &res); err != nil || res.Data == "" {
		log.Printf("[Session] Print reply carried no data")
		st.Responses = append(st.Responses, LoggedFrame{ID: f.ID, Payload: string(f.Raw)})
		return
	}
	st.PrintQueue = append(st.PrintQueue, res.Data)
	st.Responses = append(st.Responses, LoggedFrame{ID: f.ID, Payload: printPlaceholder})
}

// dequeuePrint pops the oldest print payload, FIFO. Empty queue is a
// distinct error; stale data is never returned.
func (st *State) dequeuePrint() (string, bool) {
	if len(st.PrintQueue) == 0 {
		return "", false
	}
	data := st.PrintQueue[0]
	st.PrintQueue = st.PrintQueue[1:]
	return data, true
}
