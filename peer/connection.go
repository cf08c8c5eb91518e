package peer

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-cnote/cnoted/protocol"
)

// maxWriteBufferSize is P2P_CONNECTION_MAX_WRITE_BUFFER_SIZE: once a
// connection's queued-but-unsent bytes exceed this, the connection is
// interrupted rather than let the queue grow without bound.
const maxWriteBufferSize = 64 * 1024 * 1024

// invokeTimeout is P2P_DEFAULT_INVOKE_TIMEOUT: the longest a single
// socket write may block before the connection is considered stuck and
// interrupted. It is enforced the idiomatic Go way, via the net.Conn's
// own write deadline, rather than a second goroutine racing a timer
// against the write the way the reference implementation's
// writeDuration/timeoutLoop pair does.
const invokeTimeout = 120 * time.Second

type outboundFrame struct {
	cmd        protocol.CommandID
	flags      protocol.MessageFlags
	returnCode int32
	payload    []byte
}

// Connection is a live peer socket: a single writer goroutine drains a
// bounded, byte-size-accounted queue (pushMessage/popBuffer in the
// reference implementation), and a single reader goroutine feeds decoded
// frames to a protocol.Context. It implements protocol.Connection.
type Connection struct {
	conn       net.Conn
	remoteAddr string
	remoteIP   [4]byte
	isOutbound bool

	queueMu    sync.Mutex
	queueCond  *sync.Cond
	queue      []outboundFrame
	queueBytes int
	stopped    bool

	stopChan  chan struct{}
	closeOnce sync.Once
	closed    uint32
}

func newConnection(conn net.Conn, remoteIP [4]byte, isOutbound bool) *Connection {
	c := &Connection{
		conn:       conn,
		remoteAddr: conn.RemoteAddr().String(),
		remoteIP:   remoteIP,
		isOutbound: isOutbound,
		stopChan:   make(chan struct{}),
	}
	c.queueCond = sync.NewCond(&c.queueMu)
	return c
}

// Send enqueues a frame for the writer goroutine. It never blocks on
// socket I/O itself; it only blocks briefly to take the queue lock.
func (c *Connection) Send(cmd protocol.CommandID, flags protocol.MessageFlags, payload []byte) error {
	c.queueMu.Lock()
	if c.stopped {
		c.queueMu.Unlock()
		return errInterrupted
	}
	c.queue = append(c.queue, outboundFrame{cmd, flags, 0, payload})
	c.queueBytes += len(payload)
	overflow := c.queueBytes > maxWriteBufferSize
	c.queueCond.Signal()
	c.queueMu.Unlock()

	if overflow {
		log.Debugf("peer %s write queue overflowed %d bytes, interrupting", c.remoteAddr, maxWriteBufferSize)
		c.Disconnect()
		return errInterrupted
	}
	return nil
}

// popQueue blocks until the queue is non-empty or the connection has
// stopped, then drains and returns everything queued so far, mirroring
// popBuffer's std::move-the-whole-queue behavior.
func (c *Connection) popQueue() ([]outboundFrame, bool) {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	for len(c.queue) == 0 && !c.stopped {
		c.queueCond.Wait()
	}
	if c.stopped && len(c.queue) == 0 {
		return nil, false
	}
	batch := c.queue
	c.queue = nil
	c.queueBytes = 0
	return batch, true
}

// writerLoop is the connection's single writer task: it owns the only
// call site that writes to conn, so frames from concurrent Send callers
// are never interleaved.
func (c *Connection) writerLoop() {
	for {
		batch, ok := c.popQueue()
		if !ok {
			return
		}
		if err := c.conn.SetWriteDeadline(time.Now().Add(invokeTimeout)); err != nil {
			c.Disconnect()
			return
		}
		for _, f := range batch {
			if err := writeFrame(c.conn, f.cmd, f.flags, f.returnCode, f.payload); err != nil {
				log.Debugf("peer %s write failed: %v", c.remoteAddr, err)
				c.Disconnect()
				return
			}
		}
	}
}

// readerLoop is the connection's single reader task: it decodes frames
// one at a time and hands each to dispatch in arrival order, so a
// request and its reply are naturally serialized through this
// connection's own queue.
func (c *Connection) readerLoop(dispatch func(*frame) error) {
	r := bufio.NewReader(c.conn)
	for {
		f, err := readFrame(r)
		if err != nil {
			log.Debugf("peer %s read failed: %v", c.remoteAddr, err)
			c.Disconnect()
			return
		}
		if err := dispatch(f); err != nil {
			log.Warnf("peer %s dispatch failed: %v", c.remoteAddr, err)
			c.Disconnect()
			return
		}
	}
}

// RemoteAddr is part of the protocol.Connection interface.
func (c *Connection) RemoteAddr() string {
	return c.remoteAddr
}

// RemoteIP is part of the protocol.Connection interface.
func (c *Connection) RemoteIP() [4]byte {
	return c.remoteIP
}

// Disconnect is idempotent: calling it a second time, from any
// goroutine, does nothing beyond the first call's effect. It is the
// interrupt() of §9's cooperative I/O model -- it cancels any in-flight
// write, wakes the writer out of popQueue, and causes the reader's next
// socket read to fail.
func (c *Connection) Disconnect() {
	c.closeOnce.Do(func() {
		atomic.StoreUint32(&c.closed, 1)
		c.queueMu.Lock()
		c.stopped = true
		c.queueCond.Broadcast()
		c.queueMu.Unlock()
		close(c.stopChan)
		c.conn.Close()
	})
}

// IsConnected reports whether Disconnect has not yet been called.
func (c *Connection) IsConnected() bool {
	return atomic.LoadUint32(&c.closed) == 0
}
