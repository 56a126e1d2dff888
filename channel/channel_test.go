package channel

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/role"
)

// loopConn's write side is drained by the Channel's own write-queue
// goroutine, concurrently with a test goroutine inspecting it, so
// access to w goes through mu.
type loopConn struct {
	r bytes.Buffer

	mu sync.Mutex
	w  bytes.Buffer
}

func (c *loopConn) Read(b []byte) (int, error) { return c.r.Read(b) }

func (c *loopConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Write(b)
}

func (c *loopConn) wlen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.w.Len()
}

func (c *loopConn) Close() error                     { return nil }
func (c *loopConn) LocalAddr() net.Addr              { return dummyAddr("local") }
func (c *loopConn) RemoteAddr() net.Addr             { return dummyAddr("remote") }
func (c *loopConn) SetDeadline(time.Time) error      { return nil }
func (c *loopConn) SetReadDeadline(time.Time) error  { return nil }
func (c *loopConn) SetWriteDeadline(time.Time) error { return nil }

type dummyAddr string

func (a dummyAddr) Network() string { return string(a) }
func (a dummyAddr) String() string  { return string(a) }

func newTestChannel(t *testing.T) *Channel {
	t.Helper()
	conn := of.NewConn(&loopConn{})
	return New(1, conn, TCP, 0)
}

func newTestChannelConn(t *testing.T) (*Channel, *loopConn) {
	t.Helper()
	lc := &loopConn{}
	return New(1, of.NewConn(lc), TCP, 0), lc
}

func TestXIDMonotonic(t *testing.T) {
	c := newTestChannel(t)

	first := c.XID()
	second := c.XID()
	third := c.XID()

	assert.Equal(t, first+1, second)
	assert.Equal(t, second+1, third)
}

func TestRoleDefaultsToEqual(t *testing.T) {
	c := newTestChannel(t)
	assert.Equal(t, role.Equal, c.Role())

	c.SetRole(role.Master)
	assert.Equal(t, role.Master, c.Role())
}

func TestRefcounting(t *testing.T) {
	c := newTestChannel(t)

	assert.EqualValues(t, 1, c.Ref())
	assert.EqualValues(t, 2, c.Ref())
	assert.EqualValues(t, 1, c.Unref())
}

func TestMultipartReassembly(t *testing.T) {
	c := newTestChannel(t)
	require := require.New(t)

	err := c.MultipartPut(1, 0, []byte("hello "), true)
	require.NoError(err)

	_, ok := c.MultipartGet(1, 0)
	require.False(ok, "entry should not be terminal yet")

	err = c.MultipartPut(1, 0, []byte("world"), false)
	require.NoError(err)

	body, ok := c.MultipartGet(1, 0)
	require.True(ok)
	require.Equal("hello world", string(body))

	_, ok = c.MultipartGet(1, 0)
	require.False(ok, "entry should have been removed after get")
}

func TestMultipartReassemblyBounded(t *testing.T) {
	c := newTestChannel(t)

	for i := 0; i < multipartMax; i++ {
		err := c.MultipartPut(uint32(i), 0, []byte{1}, true)
		require.NoError(t, err)
	}

	err := c.MultipartPut(multipartMax, 0, []byte{1}, true)
	assert.Equal(t, ErrNoMemory, err)
}

func TestPbufPoolRecyclesBuffer(t *testing.T) {
	c := newTestChannel(t)

	buf := c.PbufGet(16)
	buf.Write([]byte("abc"))
	c.PbufUnget(buf)

	buf2 := c.PbufGet(8)
	assert.Equal(t, 0, len(buf2.Bytes()), "recycled buffer should be reset")
}

func TestEnqueueSendReachesWireAsynchronously(t *testing.T) {
	c, conn := newTestChannelConn(t)
	defer c.Close()

	req, err := of.NewRequest(of.TypeEchoRequest, &struct{}{})
	require.NoError(t, err)

	require.NoError(t, c.EnqueueSend(req))

	assert.Eventually(t, func() bool { return conn.wlen() > 0 }, time.Second, time.Millisecond)
}

func TestEnqueueSendRejectsAfterClose(t *testing.T) {
	c, _ := newTestChannelConn(t)
	require.NoError(t, c.Close())

	req, err := of.NewRequest(of.TypeEchoRequest, &struct{}{})
	require.NoError(t, err)

	assert.Equal(t, ErrChannelClosed, c.EnqueueSend(req))
}

// stuckConn blocks every Write until closed, wedging a Channel's
// drain goroutine so its write queue backs up.
type stuckConn struct {
	loopConn
	blocked chan struct{}
}

func newStuckConn() *stuckConn {
	return &stuckConn{blocked: make(chan struct{})}
}

func (c *stuckConn) Write(b []byte) (int, error) {
	<-c.blocked
	return len(b), nil
}

func TestEnqueueSendRejectsWhenQueueFull(t *testing.T) {
	sc := newStuckConn()
	defer close(sc.blocked)

	c := New(1, of.NewConn(sc), TCP, 0)
	defer c.Close()

	req, err := of.NewRequest(of.TypeEchoRequest, &struct{}{})
	require.NoError(t, err)

	// The drain goroutine picks up the first request and blocks
	// inside conn.Write; every slot in the queue can now fill up.
	require.NoError(t, c.EnqueueSend(req))

	require.Eventually(t, func() bool {
		return c.EnqueueSend(req) == ErrWriteQueueFull
	}, time.Second, time.Millisecond, "queue should report full once the drain goroutine is stuck")
}
