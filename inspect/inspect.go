// Package inspect serves a live websocket feed of recorded protocol
// frames, so a browser devtools-style client can watch a session's
// traffic as it happens.
package inspect

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/gliderlab/webpilot/pkg/config"
	"github.com/gliderlab/webpilot/recorder"
)

// Feed message types
const (
	MsgTypeFrame = "frame"
	MsgTypePing  = "ping"
	MsgTypePong  = "pong"
)

// FeedMessage is one message on the inspector feed.
type FeedMessage struct {
	Type    string          `json:"type"`
	Content json.RawMessage `json:"content,omitempty"`
}

// Server streams recorder frames to websocket subscribers.
type Server struct {
	cfg *config.InspectConfig
	rec *recorder.Recorder

	httpSrv   *http.Server
	connCount int32
}

func NewServer(cfg *config.InspectConfig, rec *recorder.Recorder) *Server {
	if cfg == nil {
		cfg = config.DefaultInspectConfig()
	}
	return &Server{cfg: cfg, rec: rec}
}

// Start begins serving on the configured address. It returns once the
// listener is installed; connection handling runs in the background.
func (s *Server) Start() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/inspect", s.handleWebSocket)

	s.httpSrv = &http.Server{Addr: s.cfg.ListenAddr, Handler: mux}
	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[Inspect] Serve error: %v", err)
		}
	}()
	log.Printf("[Inspect] Listening: ws://%s/inspect", s.cfg.ListenAddr)
	return nil
}

// Stop shuts the listener down and drops live connections.
func (s *Server) Stop() error {
	if s.httpSrv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) validateToken(r *http.Request) bool {
	if s.cfg.AuthToken == "" {
		return true
	}
	if r.URL.Query().Get("token") == s.cfg.AuthToken {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+s.cfg.AuthToken
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.validateToken(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if atomic.AddInt32(&s.connCount, 1) > s.cfg.MaxConns {
		atomic.AddInt32(&s.connCount, -1)
		http.Error(w, "too many inspector connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		log.Printf("[Inspect] Accept error: %v", err)
		atomic.AddInt32(&s.connCount, -1)
		return
	}
	conn.SetReadLimit(1024 * 1024)

	go s.streamFrames(conn)
}

// streamFrames pushes every recorded frame to the client until the client
// goes away. The inspector feed is one-directional: the read side exists
// only so close and ping frames are processed.
func (s *Server) streamFrames(conn *websocket.Conn) {
	defer func() {
		conn.Close(websocket.StatusNormalClosure, "")
		atomic.AddInt32(&s.connCount, -1)
	}()

	sub := s.rec.Subscribe()
	defer s.rec.Unsubscribe(sub)

	// coder/websocket is not write-safe across goroutines
	var writeMu sync.Mutex

	ctx := conn.CloseRead(context.Background())

	pingTicker := time.NewTicker(s.cfg.PingInterval)
	defer pingTicker.Stop()

	write := func(msg FeedMessage) bool {
		data, err := json.Marshal(msg)
		if err != nil {
			log.Printf("[Inspect] Marshal error: %v", err)
			return true
		}
		writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
		writeMu.Lock()
		err = conn.Write(writeCtx, websocket.MessageText, data)
		writeMu.Unlock()
		cancel()
		if err != nil {
			log.Printf("[Inspect] Write failed, dropping client: %v", err)
			return false
		}
		return true
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			if !write(FeedMessage{Type: MsgTypePing}) {
				return
			}
		case frame, ok := <-sub:
			if !ok {
				return
			}
			content, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			if !write(FeedMessage{Type: MsgTypeFrame, Content: content}) {
				return
			}
		}
	}
}
