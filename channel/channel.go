// Package channel implements one OpenFlow session: transport I/O
// handle, XID allocation, protocol negotiation, role and async-mask
// state, multipart reassembly and pbuf pooling.
package channel

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/role"
)

// writeQueueSize bounds the number of outbound requests a Channel
// will buffer before EnqueueSend starts rejecting with
// ErrWriteQueueFull.
const writeQueueSize = 256

// Transport names the kind of socket backing a Channel.
type Transport int

const (
	TCP Transport = iota
	TCP6
	TLS
	TLS6
)

func (t Transport) String() string {
	switch t {
	case TCP6:
		return "tcp6"
	case TLS:
		return "tls"
	case TLS6:
		return "tls6"
	default:
		return "tcp"
	}
}

// Channel is a single OpenFlow session, either a main connection or
// an auxiliary one. An auxiliary channel shares its main connection's
// generation-id through their common channel list; its role is held
// and changed separately.
type Channel struct {
	id        uint64
	conn      of.Conn
	transport Transport
	addr      net.Addr
	localAddr net.Addr

	dpid    uint64
	auxID   uint8
	isAux   bool

	mu            sync.Mutex
	version       uint8
	helloReceived bool

	nextXID uint32 // accessed atomically

	role      role.Role
	asyncMask role.AsyncMask

	pbufs     *pbufPool
	multipart *multipartTable

	alive     bool
	cancelled bool
	refs      int32

	lastAlive time.Time

	writeQueue chan *of.Request
	writeDone  chan struct{}
	closeOnce  sync.Once
}

// New allocates a Channel for a freshly accepted connection. It
// starts in the Equal role with the default async mask (deliver
// every event), disabled until the caller calls Enable.
func New(id uint64, conn of.Conn, transport Transport, auxID uint8) *Channel {
	c := &Channel{
		id:         id,
		conn:       conn,
		transport:  transport,
		addr:       conn.RemoteAddr(),
		localAddr:  conn.LocalAddr(),
		auxID:      auxID,
		isAux:      auxID != 0,
		role:       role.Equal,
		asyncMask:  role.DefaultAsyncMask(),
		pbufs:      newPbufPool(pbufPoolCap),
		multipart:  newMultipartTable(),
		lastAlive:  time.Now(),
		writeQueue: make(chan *of.Request, writeQueueSize),
		writeDone:  make(chan struct{}),
	}

	go c.drainWrites()
	return c
}

// ID returns the channel's monotonic identifier, unique within its
// channel-list.
func (c *Channel) ID() uint64 { return c.id }

// DatapathID returns the datapath this channel is attached to.
func (c *Channel) DatapathID() uint64 { return c.dpid }

// SetDatapathID records the datapath this channel has been
// associated with, typically once FEATURES_REQUEST has been served.
func (c *Channel) SetDatapathID(dpid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dpid = dpid
}

// AuxID returns the auxiliary connection identifier; zero for the
// main connection.
func (c *Channel) AuxID() uint8 { return c.auxID }

// IsAux reports whether this is an auxiliary connection.
func (c *Channel) IsAux() bool { return c.isAux }

// Addr returns the remote controller address.
func (c *Channel) Addr() net.Addr { return c.addr }

// LocalAddr returns the local bind address.
func (c *Channel) LocalAddr() net.Addr { return c.localAddr }

// Transport returns the transport kind backing this channel.
func (c *Channel) Transport() Transport { return c.transport }

// XID returns the next transaction id to use for a channel-initiated
// message, atomically post-incremented and wrapping at 2^32.
func (c *Channel) XID() uint32 {
	return atomic.AddUint32(&c.nextXID, 1) - 1
}

// Version returns the negotiated protocol version, valid only once
// HelloReceived is true.
func (c *Channel) Version() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.version
}

// SetVersion records the protocol version negotiated during HELLO.
func (c *Channel) SetVersion(v uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.version = v
}

// HelloReceived reports whether this channel has completed the HELLO
// handshake.
func (c *Channel) HelloReceived() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.helloReceived
}

// SetHelloReceived marks the HELLO handshake as complete.
func (c *Channel) SetHelloReceived(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.helloReceived = v
}

// Role returns the channel's current role. Implements role.Member.
func (c *Channel) Role() role.Role {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role
}

// SetRole sets the channel's current role. Implements role.Member.
func (c *Channel) SetRole(r role.Role) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = r
}

// AsyncMask returns a pointer to the channel's async-event bitmap set
// so a caller may inspect or mutate it under its own synchronization
// (SET_ASYNC handling serializes through the dispatch loop already).
func (c *Channel) AsyncMask() *role.AsyncMask {
	return &c.asyncMask
}

// Enable marks the channel ready to participate in dispatch.
func (c *Channel) Enable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = true
}

// Disable marks the channel as no longer eligible for dispatch or
// fan-out; it does not by itself close the transport.
func (c *Channel) Disable() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alive = false
}

// Alive reports whether the channel is enabled and has not been
// cancelled.
func (c *Channel) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive && !c.cancelled
}

// Cancel marks the channel for teardown; Alive returns false from
// this point on regardless of Enable/Disable calls.
func (c *Channel) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled = true
}

// Touch records that the channel has recently proven liveness
// (an ECHO round-trip completed).
func (c *Channel) Touch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastAlive = time.Now()
}

// LivenessExpired reports whether no liveness proof has been seen
// within the given threshold.
func (c *Channel) LivenessExpired(threshold time.Duration) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastAlive) > threshold
}

// Ref increments the reference count and returns its new value. A
// channel with refcount > 0 must not be freed.
func (c *Channel) Ref() int32 { return atomic.AddInt32(&c.refs, 1) }

// Unref decrements the reference count and returns its new value.
func (c *Channel) Unref() int32 { return atomic.AddInt32(&c.refs, -1) }

// Refs returns the current reference count.
func (c *Channel) Refs() int32 { return atomic.LoadInt32(&c.refs) }

// Send writes a request to the underlying connection and flushes it
// immediately, holding the channel's write lock across the whole
// operation so no fragment of a concurrent reply interleaves. It
// blocks on transport I/O; callers on the dispatch loop's critical
// section must use EnqueueSend instead so a slow controller cannot
// stall the loop.
func (c *Channel) Send(req *of.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conn.Send(req); err != nil {
		return err
	}

	return c.conn.Flush()
}

// SendList writes a list of requests atomically with respect to this
// channel's write lock, then flushes once. Like Send, it blocks on
// transport I/O.
func (c *Channel) SendList(reqs []*of.Request) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, req := range reqs {
		if err := c.conn.Send(req); err != nil {
			return err
		}
	}

	return c.conn.Flush()
}

// EnqueueSend places req on the channel's bounded outbound write
// queue and returns without waiting for it to reach the wire. A
// background goroutine drains the queue through Send. Returns
// ErrChannelClosed once the channel has been closed, or
// ErrWriteQueueFull if the queue is at capacity — the caller should
// treat both as a dropped send, not retry inline.
func (c *Channel) EnqueueSend(req *of.Request) error {
	select {
	case <-c.writeDone:
		return ErrChannelClosed
	default:
	}

	select {
	case c.writeQueue <- req:
		return nil
	case <-c.writeDone:
		return ErrChannelClosed
	default:
		return ErrWriteQueueFull
	}
}

// drainWrites is the background goroutine that serializes enqueued
// sends onto the connection; it exits once Close has been called and
// the queue has been drained.
func (c *Channel) drainWrites() {
	for {
		select {
		case req := <-c.writeQueue:
			c.Send(req)
		case <-c.writeDone:
			c.drainPending()
			return
		}
	}
}

// drainPending flushes whatever is left in the write queue without
// blocking, once Close has signalled teardown.
func (c *Channel) drainPending() {
	for {
		select {
		case req := <-c.writeQueue:
			c.Send(req)
		default:
			return
		}
	}
}

// Receive reads the next request off the underlying connection.
func (c *Channel) Receive() (*of.Request, error) {
	return c.conn.Receive()
}

// Close stops the write-queue drain goroutine and tears down the
// underlying transport. Safe to call more than once.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		close(c.writeDone)
	})
	return c.conn.Close()
}

// PbufGet borrows a buffer of at least size bytes from the channel's
// pool.
func (c *Channel) PbufGet(size int) *Pbuf {
	return c.pbufs.get(size)
}

// PbufUnget returns a buffer to the channel's pool.
func (c *Channel) PbufUnget(p *Pbuf) {
	c.pbufs.unget(p)
}

// MultipartPut appends a reassembly fragment; see multipartTable.put.
func (c *Channel) MultipartPut(xid uint32, mtype uint16, body []byte, more bool) error {
	return c.multipart.put(xid, mtype, body, more)
}

// MultipartGet retrieves and removes a terminal reassembly entry.
func (c *Channel) MultipartGet(xid uint32, mtype uint16) ([]byte, bool) {
	return c.multipart.get(xid, mtype)
}
