package dispatch

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/bridgequeue"
	"github.com/netrack/ofagent/channel"
	"github.com/netrack/ofagent/channelmgr"
	"github.com/netrack/ofagent/datapath"
	"github.com/netrack/ofagent/handler"
	"github.com/netrack/ofagent/metrics"
	"github.com/netrack/ofagent/ofp"
	"github.com/netrack/ofagent/ofperror"
	"github.com/netrack/ofagent/role"
)

// loopConn's write side is drained by a Channel's background write
// queue, concurrently with the test goroutine inspecting it, so
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

// fakeSwitch is a minimal in-memory datapath.Switch, just enough to
// exercise the dispatch loop's routing without a real forwarding
// plane.
type fakeSwitch struct {
	features ofp.SwitchFeatures
	barriers int
	err      *ofperror.Error
}

func (f *fakeSwitch) GetConfig(ctx context.Context) (*ofp.SwitchConfig, *ofperror.Error) {
	return &ofp.SwitchConfig{}, f.err
}
func (f *fakeSwitch) SetConfig(ctx context.Context, cfg *ofp.SwitchConfig) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) Features(ctx context.Context) (*ofp.SwitchFeatures, *ofperror.Error) {
	feats := f.features
	return &feats, f.err
}
func (f *fakeSwitch) FlowAdd(ctx context.Context, mod *ofp.FlowMod) *ofperror.Error { return f.err }
func (f *fakeSwitch) FlowModify(ctx context.Context, mod *ofp.FlowMod, strict bool) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) FlowDelete(ctx context.Context, mod *ofp.FlowMod, strict bool) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) GroupAdd(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error  { return f.err }
func (f *fakeSwitch) GroupModify(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) GroupDelete(ctx context.Context, mod *ofp.GroupMod) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) MeterAdd(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error  { return f.err }
func (f *fakeSwitch) MeterModify(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) MeterDelete(ctx context.Context, mod *ofp.MeterMod) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) PortModify(ctx context.Context, mod *ofp.PortMod) *ofperror.Error { return f.err }
func (f *fakeSwitch) PortDescribe(ctx context.Context) ([]ofp.Port, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) TableModify(ctx context.Context, mod *ofp.TableMod) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) Description(ctx context.Context) (*ofp.Description, *ofperror.Error) {
	return &ofp.Description{}, f.err
}
func (f *fakeSwitch) FlowStats(ctx context.Context, req *ofp.FlowStatsRequest) ([]ofp.FlowStats, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) AggregateStats(ctx context.Context, req *ofp.AggregateStatsRequest) (*ofp.AggregateStats, *ofperror.Error) {
	return &ofp.AggregateStats{}, f.err
}
func (f *fakeSwitch) TableStats(ctx context.Context) ([]ofp.TableStats, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) TableFeatures(ctx context.Context) ([]ofp.TableFeatures, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) PortStats(ctx context.Context, req *ofp.PortStatsRequest) ([]ofp.PortStats, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) QueueStats(ctx context.Context, req *ofp.QueueStatsRequest) ([]ofp.QueueStats, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) QueueConfig(ctx context.Context, req *ofp.QueueGetConfigRequest) (*ofp.QueueGetConfigReply, *ofperror.Error) {
	return &ofp.QueueGetConfigReply{Port: req.Port}, f.err
}
func (f *fakeSwitch) GroupStats(ctx context.Context, req *ofp.GroupStatsRequest) ([]ofp.GroupStats, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) GroupDesc(ctx context.Context) ([]ofp.GroupDescStats, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) GroupFeatures(ctx context.Context) (*ofp.GroupFeatures, *ofperror.Error) {
	return &ofp.GroupFeatures{}, f.err
}
func (f *fakeSwitch) MeterStats(ctx context.Context, req *ofp.MeterStatsRequest) ([]ofp.MeterStats, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) MeterConfig(ctx context.Context, req *ofp.MeterConfigRequest) ([]ofp.MeterConfig, *ofperror.Error) {
	return nil, f.err
}
func (f *fakeSwitch) MeterFeatures(ctx context.Context) (*ofp.MeterFeatures, *ofperror.Error) {
	return &ofp.MeterFeatures{}, f.err
}
func (f *fakeSwitch) PacketOut(ctx context.Context, msg *ofp.PacketOut, payload []byte) *ofperror.Error {
	return f.err
}
func (f *fakeSwitch) Barrier(ctx context.Context) *ofperror.Error {
	f.barriers++
	return f.err
}

var _ datapath.Switch = (*fakeSwitch)(nil)

type fakeSwitches map[uint64]datapath.Switch

func (f fakeSwitches) Switch(dpid uint64) (datapath.Switch, bool) {
	sw, ok := f[dpid]
	return sw, ok
}

func newTestLoop(t *testing.T) (*Loop, *fakeSwitch, *bridgequeue.Registry, *channelmgr.Manager) {
	t.Helper()

	queue := NewChannelQueue(8)
	bridges := bridgequeue.New()
	channels := channelmgr.New()
	sw := &fakeSwitch{}
	switches := fakeSwitches{1: sw}

	loop := New(queue, bridges, channels, switches, nil)
	return loop, sw, bridges, channels
}

func newTestChannel(t *testing.T, channels *channelmgr.Manager, dpid uint64) (*channel.Channel, *loopConn) {
	t.Helper()

	conn := &loopConn{}
	c := channel.New(1, of.NewConn(conn), channel.TCP, 0)
	channels.Attach(dpid, c)
	return c, conn
}

func encodeBody(t *testing.T, typ of.Type, body interface{}) *of.Request {
	t.Helper()

	req, err := of.NewRequest(typ, body)
	require.NoError(t, err)
	return req
}

// readReply waits for the channel's write-queue goroutine to flush a
// reply to conn, then parses it. Replies reach conn asynchronously
// now that channel.Channel sends through EnqueueSend.
func readReply(t *testing.T, conn *loopConn) *of.Request {
	t.Helper()

	require.Eventually(t, func() bool { return conn.wlen() > 0 }, time.Second, time.Millisecond)

	conn.mu.Lock()
	defer conn.mu.Unlock()

	var reply of.Request
	_, err := reply.ReadFrom(&conn.w)
	require.NoError(t, err)
	return &reply
}

func readWireError(t *testing.T, req *of.Request) *ofp.Error {
	t.Helper()

	var werr ofp.Error
	_, err := werr.ReadFrom(req.Body)
	require.NoError(t, err)
	return &werr
}

func TestRunShutdownRightNowStopsImmediately(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	loop.Shutdown(false)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on shutdown-right-now")
	}

	assert.Equal(t, ShutdownRightNow, loop.Status())
}

func TestRunContextCancelStopsLoop(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		loop.Run(ctx)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop did not stop on context cancellation")
	}

	assert.Equal(t, ShutdownRightNow, loop.Status())
}

func TestRunGracefulShutdownDrainsToShutdowned(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	loop.Shutdown(true)

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not reach shutdowned with empty queues")
	}

	assert.Equal(t, Shutdowned, loop.Status())
}

func TestLockDispatchRejectsPreHelloNonHello(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	req := encodeBody(t, of.TypeEchoRequest, &ofp.EchoRequest{})

	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	reply := readReply(t, conn)
	assert.Equal(t, of.TypeError, reply.Header.Type)
	assert.Equal(t, req.Header.XID, reply.Header.XID)

	werr := readWireError(t, reply)
	assert.Equal(t, ofp.ErrTypeBadRequest, werr.Type)
	assert.Equal(t, ofp.ErrCodeBadRequestBadVersion, werr.Code)
}

func TestLockDispatchAllowsHelloPreHandshake(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	req := encodeBody(t, of.TypeHello, &ofp.Hello{})

	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	reply := readReply(t, conn)
	assert.Equal(t, of.TypeHello, reply.Header.Type)
	assert.True(t, c.HelloReceived())
}

func TestLockDispatchRejectsSlaveMutatingMessage(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	c.SetHelloReceived(true)
	c.SetRole(role.Slave)

	req := encodeBody(t, of.TypeFlowMod, &ofp.FlowMod{})
	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	reply := readReply(t, conn)
	assert.Equal(t, of.TypeError, reply.Header.Type)

	werr := readWireError(t, reply)
	assert.Equal(t, ofp.ErrTypeBadRequest, werr.Type)
	assert.Equal(t, ofp.ErrCodeBadRequestIsSlave, werr.Code)
}

func TestLockDispatchNoSwitchLogsAndDrops(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(2, bridgequeue.Info{Name: "br1"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 2)
	c.SetHelloReceived(true)

	req := encodeBody(t, of.TypeEchoRequest, &ofp.EchoRequest{})
	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	assert.Zero(t, conn.wlen(), "no reply should be sent when no datapath is registered")
}

func TestLockDispatchNoBridgeLogsAndDrops(t *testing.T) {
	loop, _, _, channels := newTestLoop(t)

	c, conn := newTestChannel(t, channels, 1)
	c.SetHelloReceived(true)

	req := encodeBody(t, of.TypeEchoRequest, &ofp.EchoRequest{})
	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	assert.Zero(t, conn.wlen(), "no reply should be sent when no bridge queue is registered")
}

func TestLockDispatchEchoRepliesWithSameXID(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	c.SetHelloReceived(true)

	req := encodeBody(t, of.TypeEchoRequest, &ofp.EchoRequest{Data: []byte("ping")})
	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	reply := readReply(t, conn)
	assert.Equal(t, of.TypeEchoReply, reply.Header.Type)
	assert.Equal(t, req.Header.XID, reply.Header.XID)
}

func TestLockDispatchBarrierInvokesSwitch(t *testing.T) {
	loop, sw, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	c.SetHelloReceived(true)

	req := encodeBody(t, of.TypeBarrierRequest, nil)
	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	assert.Equal(t, 1, sw.barriers)

	reply := readReply(t, conn)
	assert.Equal(t, of.TypeBarrierReply, reply.Header.Type)
	assert.Equal(t, req.Header.XID, reply.Header.XID)
}

// fakeMultiReply implements handler.MultiReply directly, standing in
// for a multipart reply that has already been split into fragments,
// so sendReply's fan-out can be exercised without constructing a real
// oversized multipart body.
type fakeMultiReply struct {
	fragments []io.WriterTo
}

func (f *fakeMultiReply) WriteTo(w io.Writer) (int64, error) {
	return f.fragments[0].WriteTo(w)
}

func (f *fakeMultiReply) Fragments() ([]io.WriterTo, error) {
	return f.fragments, nil
}

type fakeFragment byte

func (f fakeFragment) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write([]byte{byte(f)})
	return int64(n), err
}

func TestSendReplySendsEveryFragmentWithRequestXID(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	req := encodeBody(t, of.TypeMultipartRequest, nil)

	result := &handler.Result{
		ReplyType: of.TypeMultipartReply,
		Reply:     &fakeMultiReply{fragments: []io.WriterTo{fakeFragment(1), fakeFragment(2), fakeFragment(3)}},
	}

	require.NoError(t, loop.sendReply(c, req, result))

	for i := 0; i < 3; i++ {
		reply := readReply(t, conn)
		assert.Equal(t, of.TypeMultipartReply, reply.Header.Type)
		assert.Equal(t, req.Header.XID, reply.Header.XID)
	}
}

func TestReplyErrorSkipsNonWireKinds(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	_, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	req := encodeBody(t, of.TypeHello, &ofp.Hello{})

	loop.replyError(c, req, ofperror.New(ofperror.NotFound, "no such dpid"))
	assert.Zero(t, conn.wlen())
}

func TestDrainBridgeRoutesPacketInToChannel(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	bridge, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	c.SetHelloReceived(true)

	ev := datapath.Event{
		Kind: datapath.EventPacketIn,
		Dpid: 1,
		PacketIn: &ofp.PacketIn{
			Buffer: 7,
			Reason: ofp.PacketInReasonNoMatch,
		},
	}
	require.NoError(t, bridge.PutEvent(context.Background(), ev))

	idle := loop.drainBridge(context.Background(), bridge)
	assert.False(t, idle)

	reply := readReply(t, conn)
	assert.Equal(t, of.TypePacketIn, reply.Header.Type)
}

func TestDrainBridgeSkipsSuppressedAsyncMask(t *testing.T) {
	loop, _, bridges, channels := newTestLoop(t)
	bridge, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	c, conn := newTestChannel(t, channels, 1)
	c.SetHelloReceived(true)
	c.AsyncMask().Set(role.AsyncPacketIn, [2]uint32{0, 0})

	ev := datapath.Event{
		Kind:     datapath.EventPacketIn,
		Dpid:     1,
		PacketIn: &ofp.PacketIn{Reason: ofp.PacketInReasonNoMatch},
	}
	require.NoError(t, bridge.PutEvent(context.Background(), ev))

	idle := loop.drainBridge(context.Background(), bridge)
	assert.False(t, idle, "draining still counts as activity even when fan-out is suppressed")
	assert.Zero(t, conn.wlen())
}

func TestDrainBridgeReportsIdleWhenEmpty(t *testing.T) {
	loop, _, bridges, _ := newTestLoop(t)
	bridge, err := bridges.Register(1, bridgequeue.Info{Name: "br0"})
	require.NoError(t, err)

	idle := loop.drainBridge(context.Background(), bridge)
	assert.True(t, idle)
}

func TestLockDispatchNoBridgeReportsDrop(t *testing.T) {
	loop, _, _, channels := newTestLoop(t)
	reg := metrics.New()
	loop.SetMetrics(reg)

	c, _ := newTestChannel(t, channels, 1)
	c.SetHelloReceived(true)

	req := encodeBody(t, of.TypeEchoRequest, &ofp.EchoRequest{})
	loop.lockDispatch(context.Background(), entry{channel: c, req: req})

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != "ofagent_dropped_events_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), total)
}

func TestRunIncrementsDispatchIterations(t *testing.T) {
	loop, _, _, _ := newTestLoop(t)
	reg := metrics.New()
	loop.SetMetrics(reg)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(150 * time.Millisecond)
		cancel()
	}()
	loop.Run(ctx)

	families, err := reg.Gatherer().Gather()
	require.NoError(t, err)

	var total float64
	for _, f := range families {
		if f.GetName() != "ofagent_dispatch_iterations_total" {
			continue
		}
		for _, m := range f.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	assert.GreaterOrEqual(t, total, float64(1))
}
