package session

import (
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gliderlab/webpilot/pkg/config"
	"github.com/gliderlab/webpilot/wire"
)

// Transport is the channel the router drains. Receive returns one fully
// reassembled logical message, or the synthetic watchdog probe when the
// read window expires with nothing inbound.
type Transport interface {
	Send(data []byte) error
	Receive() ([]byte, error)
	Close() error
	Open() bool
}

var probePayload = []byte(`{"method":"` + wire.ProbeMethod + `","params":{}}`)

// Channel owns one websocket to a remote-debugging endpoint. A single pump
// goroutine reads and reassembles frames into an inbox; Receive selects on
// the inbox with the watchdog window, so a blocked wait always makes
// progress even when no terminating reply is guaranteed.
type Channel struct {
	conn *websocket.Conn

	readBuf    int
	maxPayload int64
	watchdog   time.Duration

	inbox chan []byte
	done  chan struct{}

	sendMu sync.Mutex

	mu      sync.Mutex
	open    bool
	closed  bool
	readErr error
}

// Dial connects to the endpoint and completes the websocket handshake.
func Dial(endpoint string, cfg *config.SessionConfig) (*Channel, error) {
	if cfg == nil {
		cfg = config.DefaultSessionConfig()
	}
	dialer := &websocket.Dialer{HandshakeTimeout: cfg.HandshakeTimeout}
	conn, _, err := dialer.Dial(endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrConnection, endpoint, err)
	}

	ch := &Channel{
		conn:       conn,
		readBuf:    cfg.ReadBufSize,
		maxPayload: cfg.MaxPayload,
		watchdog:   cfg.WatchdogWindow,
		inbox:      make(chan []byte, 16),
		done:       make(chan struct{}),
		open:       true,
	}
	if ch.readBuf <= 0 {
		ch.readBuf = config.SocketReadBufSize
	}
	go ch.pump()
	log.Printf("[Channel] Connected: %s", endpoint)
	return ch, nil
}

// pump reads frames off the socket, concatenating pieces until each logical
// message is complete, and hands them to the inbox. One pump per channel;
// it exits on the first read failure.
func (c *Channel) pump() {
	defer close(c.inbox)
	buf := make([]byte, c.readBuf)
	for {
		_, r, err := c.conn.NextReader()
		if err != nil {
			c.fail(err)
			return
		}
		var msg []byte
		for {
			n, err := r.Read(buf)
			if n > 0 {
				if c.maxPayload > 0 && int64(len(msg)+n) > c.maxPayload {
					c.fail(fmt.Errorf("message exceeds %d bytes", c.maxPayload))
					return
				}
				msg = append(msg, buf[:n]...)
			}
			if err == io.EOF {
				break
			}
			if err != nil {
				c.fail(err)
				return
			}
		}
		select {
		case c.inbox <- msg:
		case <-c.done:
			return
		}
	}
}

// Open reports whether the channel is usable.
func (c *Channel) Open() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

// Send writes one text frame. Physical send may overlap the pump's read.
func (c *Channel) Send(data []byte) error {
	if !c.Open() {
		return fmt.Errorf("%w: send on closed channel", ErrConnection)
	}
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.fail(err)
		return fmt.Errorf("%w: send: %v", ErrConnection, err)
	}
	return nil
}

// Receive returns the next reassembled logical message. When the watchdog
// window passes with nothing inbound it hands back the probe message
// instead of blocking forever.
func (c *Channel) Receive() ([]byte, error) {
	if !c.Open() {
		return nil, c.receiveErr()
	}
	if c.watchdog <= 0 {
		msg, ok := <-c.inbox
		if !ok {
			return nil, c.receiveErr()
		}
		return msg, nil
	}

	timer := time.NewTimer(c.watchdog)
	defer timer.Stop()
	select {
	case msg, ok := <-c.inbox:
		if !ok {
			return nil, c.receiveErr()
		}
		return msg, nil
	case <-timer.C:
		return probePayload, nil
	}
}

// Close shuts the socket. All pending and future operations fail afterward;
// this is the only cancellation primitive the engine has. A pump failure
// marks the channel unusable without releasing the socket, so Close must
// still run the teardown in that case.
func (c *Channel) Close() error {
	c.mu.Lock()
	c.open = false
	wasClosed := c.closed
	c.closed = true
	c.mu.Unlock()
	if wasClosed {
		return nil
	}
	close(c.done)
	log.Printf("[Channel] Closed")
	return c.conn.Close()
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	if c.readErr == nil {
		c.readErr = err
	}
	c.open = false
	c.mu.Unlock()
}

func (c *Channel) receiveErr() error {
	c.mu.Lock()
	err := c.readErr
	c.mu.Unlock()
	if err == nil {
		err = io.ErrClosedPipe
	}
	return fmt.Errorf("%w: receive: %v", ErrConnection, err)
}
