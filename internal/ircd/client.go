package ircd

import (
	"net"
	"time"

	"github.com/horgh/ircd/internal/irc"
)

// readTimeout bounds a single Read call so the read loop can periodically
// notice that its session was disconnected (e.g. by a liveness timeout)
// even on an idle, otherwise-silent connection. Liveness itself is driven by the server's shared ticker, not
// by this deadline.
const readTimeout = 15 * time.Second

// Client owns one accepted connection end to end: it wires a net.Conn (TLS
// or plain — both satisfy the same interface) to a Session, running the
// read loop and the write loop as a pair of goroutines, matching the
// teacher's per-connection goroutine-pair idiom.
type Client struct {
	conn    net.Conn
	session *Session
	outbox  Outbox

	throttle *messageThrottler

	done chan struct{}
}

// NewClient wires conn to a freshly created Session registered against
// state, and returns the Client ready to Serve.
func NewClient(conn net.Conn, state *ServerState, messagesPerSecondLimit int) *Client {
	outbox := NewOutbox()
	session := NewSession(state, outbox, time.Now())

	c := &Client{
		conn:    conn,
		session: session,
		outbox:  outbox,
		done:    make(chan struct{}),
	}
	if messagesPerSecondLimit > 0 {
		c.throttle = newMessageThrottler(messagesPerSecondLimit)
	}
	return c
}

// Session exposes the underlying session, e.g. so Server can drive its
// liveness Tick.
func (c *Client) Session() *Session { return c.session }

// Serve runs the client until the connection closes, blocking the caller.
// It starts the write loop in its own goroutine and runs the read loop on
// the calling goroutine, then waits for the write loop to finish draining.
func (c *Client) Serve() {
	writerDone := make(chan struct{})
	go func() {
		c.writeLoop()
		close(writerDone)
	}()
	c.readLoop()
	close(c.done)
	// Bound the final drain so a peer that stopped reading cannot keep the
	// connection open.
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	<-writerDone
}

func (c *Client) readLoop() {
	parser := irc.NewStreamParser()
	buf := make([]byte, 4096)

	for {
		if err := c.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
			break
		}
		n, err := c.conn.Read(buf)
		if n > 0 {
			for _, res := range parser.Feed(buf[:n]) {
				c.session.HandleLine(res.Message, res.Err)
				if c.session.Phase() == PhaseDisconnected {
					return
				}
			}
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				if c.session.Phase() == PhaseDisconnected {
					return
				}
				continue
			}
			c.session.HandleSuddenDisconnect()
			return
		}
	}
}

func (c *Client) writeLoop() {
	for {
		select {
		case line, ok := <-c.outbox:
			if !ok {
				return
			}
			if c.throttle != nil {
				c.throttle.maybeSlowDown()
			}
			if _, err := c.conn.Write(line); err != nil {
				return
			}
		case <-c.done:
			c.drainOutbox()
			return
		}
	}
}

// drainOutbox writes whatever is still queued after the read loop ended,
// best-effort, so a voluntary QUIT's closing ERROR (and anything enqueued
// just before it) reaches the wire before the connection is torn down.
func (c *Client) drainOutbox() {
	for {
		select {
		case line := <-c.outbox:
			if _, err := c.conn.Write(line); err != nil {
				return
			}
		default:
			return
		}
	}
}
