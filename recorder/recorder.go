// Recorder module - SQLite frame flight recorder

package recorder

import (
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gliderlab/webpilot/pkg/config"
	_ "github.com/mattn/go-sqlite3"
)

// Frame is one recorded protocol frame, outbound or inbound. Print
// payloads arrive already scrubbed by the session router.
type Frame struct {
	ID         int64     `json:"id"`
	SessionKey string    `json:"session_key"`
	Direction  string    `json:"direction"` // out, in
	Method     string    `json:"method"`
	CommandID  int       `json:"command_id"`
	Payload    string    `json:"payload"`
	CreatedAt  time.Time `json:"created_at"`
}

type Recorder struct {
	db  *sql.DB
	cfg config.RecorderConfig

	// Prepared statements for the hot write/read paths
	stmtAddFrame  *sql.Stmt
	stmtGetFrames *sql.Stmt
	stmtPrune     *sql.Stmt

	subMu sync.Mutex
	subs  map[chan Frame]struct{}
}

func New(dbPath string) (*Recorder, error) {
	cfg := config.DefaultRecorderConfig()
	cfg.DBPath = dbPath
	return NewWithConfig(*cfg)
}

// NewWithConfig creates a recorder with injected configuration
func NewWithConfig(cfg config.RecorderConfig) (*Recorder, error) {
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("db path required")
	}
	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database connection failed: %v", err)
	}

	r := &Recorder{db: db, cfg: cfg, subs: make(map[chan Frame]struct{})}

	if cfg.WalMode {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return nil, fmt.Errorf("failed to set WAL: %v", err)
		}
	}

	syncMode := cfg.SyncMode
	if syncMode == "" {
		syncMode = "NORMAL"
	}
	if _, err := db.Exec("PRAGMA synchronous=" + syncMode + ";"); err != nil {
		return nil, fmt.Errorf("failed to set synchronous: %v", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %v", err)
	}

	if err := r.initPreparedStmts(); err != nil {
		return nil, fmt.Errorf("failed to prepare statements: %v", err)
	}

	log.Printf("[OK] Recorder: database %s", cfg.DBPath)
	return r, nil
}

func (r *Recorder) initSchema() error {
	_, err := r.db.Exec(`
		CREATE TABLE IF NOT EXISTS frames (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_key TEXT NOT NULL,
			direction TEXT NOT NULL,
			method TEXT,
			command_id INTEGER DEFAULT 0,
			payload TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_frames_session ON frames(session_key, id)`)
	return err
}

func (r *Recorder) initPreparedStmts() error {
	var err error

	if r.stmtAddFrame, err = r.db.Prepare("INSERT INTO frames (session_key, direction, method, command_id, payload) VALUES (?, ?, ?, ?, ?)"); err != nil {
		return fmt.Errorf("AddFrame: %v", err)
	}
	if r.stmtGetFrames, err = r.db.Prepare("SELECT id, session_key, direction, method, command_id, payload, created_at FROM frames WHERE session_key = ? ORDER BY id ASC LIMIT ?"); err != nil {
		return fmt.Errorf("GetFrames: %v", err)
	}
	if r.stmtPrune, err = r.db.Prepare("DELETE FROM frames WHERE id <= (SELECT COALESCE(MAX(id), 0) - ? FROM frames)"); err != nil {
		return fmt.Errorf("Prune: %v", err)
	}

	return nil
}

// RecordFrame implements the session frame sink. Recording failures are
// logged and swallowed; the command pipeline never blocks on the recorder.
func (r *Recorder) RecordFrame(sessionKey, direction, method string, id int, payload string) {
	if _, err := r.stmtAddFrame.Exec(sessionKey, direction, method, id, payload); err != nil {
		log.Printf("[Recorder] Write failed: %v", err)
		return
	}
	r.publish(Frame{
		SessionKey: sessionKey,
		Direction:  direction,
		Method:     method,
		CommandID:  id,
		Payload:    payload,
		CreatedAt:  time.Now(),
	})
}

// Frames returns up to limit recorded frames for a session, oldest first.
func (r *Recorder) Frames(sessionKey string, limit int) ([]Frame, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.stmtGetFrames.Query(sessionKey, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var frames []Frame
	for rows.Next() {
		var f Frame
		if err := rows.Scan(&f.ID, &f.SessionKey, &f.Direction, &f.Method, &f.CommandID, &f.Payload, &f.CreatedAt); err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, rows.Err()
}

// Prune drops everything but the newest max frames.
func (r *Recorder) Prune(max int) error {
	if max <= 0 {
		max = r.cfg.MaxFrames
	}
	res, err := r.stmtPrune.Exec(max)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		log.Printf("[Recorder] Pruned %d frames", n)
	}
	return nil
}

// Subscribe returns a channel fed a copy of every frame recorded from now
// on. Slow subscribers drop frames rather than stall the writer.
func (r *Recorder) Subscribe() chan Frame {
	ch := make(chan Frame, 64)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscription channel.
func (r *Recorder) Unsubscribe(ch chan Frame) {
	r.subMu.Lock()
	if _, ok := r.subs[ch]; ok {
		delete(r.subs, ch)
		close(ch)
	}
	r.subMu.Unlock()
}

func (r *Recorder) publish(f Frame) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- f:
		default:
		}
	}
}

func (r *Recorder) Close() error {
	r.subMu.Lock()
	for ch := range r.subs {
		delete(r.subs, ch)
		close(ch)
	}
	r.subMu.Unlock()

	for _, stmt := range []*sql.Stmt{r.stmtAddFrame, r.stmtGetFrames, r.stmtPrune} {
		if stmt != nil {
			stmt.Close()
		}
	}
	return r.db.Close()
}
