// Package dispatch implements the single cooperative handler loop
// (C7): one goroutine draining the channel queue and every bridge's
// event/data queues, invoking the handler registry and routing
// datapath-originated events back out to controllers.
package dispatch

import (
	"context"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

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

// Status is the loop's global state, transitioned under mu: RUNNING
// to either SHUTDOWN_GRACEFULLY or SHUTDOWN_RIGHT_NOW, and from
// SHUTDOWN_GRACEFULLY to SHUTDOWNED once queues have drained.
type Status int

const (
	Running Status = iota
	ShutdownGracefully
	ShutdownRightNow
	Shutdowned
)

func (s Status) String() string {
	switch s {
	case ShutdownGracefully:
		return "shutdown-gracefully"
	case ShutdownRightNow:
		return "shutdown-right-now"
	case Shutdowned:
		return "shutdowned"
	default:
		return "running"
	}
}

// muxerTimeout bounds how long one iteration waits for new work
// before re-checking status, matching spec.md's MUXER_TIMEOUT.
const muxerTimeout = 100 * time.Millisecond

const defaultChannelqMaxBatches = 64

// Switches resolves the datapath.Switch that backs a given dpid. The
// agent façade supplies this, typically backed by a static map or a
// registry of its own.
type Switches interface {
	Switch(dpid uint64) (datapath.Switch, bool)
}

// Loop is the dispatch core. It owns no transport; channels are
// pushed into it by channelmgr.Loop via the shared ChannelQueue, and
// it is the only goroutine permitted to invoke handler.Registry.
type Loop struct {
	log *logrus.Entry

	queue    *ChannelQueue
	bridges  *bridgequeue.Registry
	channels *channelmgr.Manager
	switches Switches
	registry handler.Registry

	channelqMaxBatches int

	mu     sync.Mutex
	status Status
	done   chan struct{}

	metrics *metrics.Registry
}

// SetMetrics wires m into the loop; subsequent Run iterations report
// into it. Nil-safe and idempotent.
func (l *Loop) SetMetrics(m *metrics.Registry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics = m
}

// reportIteration and reportDrop read l.metrics without taking l.mu:
// SetMetrics is expected to be called before Run starts, and
// reportDrop is invoked from within lockDispatch, which already holds
// l.mu.
func (l *Loop) reportIteration() {
	if l.metrics == nil {
		return
	}
	l.metrics.DispatchIterations.Inc()
}

func (l *Loop) reportDrop(dpid uint64, queue, reason string) {
	if l.metrics == nil {
		return
	}
	l.metrics.DroppedEvents.WithLabelValues(strconv.FormatUint(dpid, 10), queue, reason).Inc()
}

// New returns a dispatch loop wired to the given channel queue,
// bridge-queue registry, channel manager, and datapath resolver.
func New(queue *ChannelQueue, bridges *bridgequeue.Registry, channels *channelmgr.Manager, switches Switches, log *logrus.Entry) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Loop{
		log:                log,
		queue:              queue,
		bridges:            bridges,
		channels:           channels,
		switches:           switches,
		registry:           handler.NewRegistry(),
		channelqMaxBatches: defaultChannelqMaxBatches,
		status:             Running,
		done:               make(chan struct{}),
	}
}

// Status returns the loop's current status.
func (l *Loop) Status() Status {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *Loop) setStatus(s Status) {
	l.mu.Lock()
	l.status = s
	l.mu.Unlock()
}

// Shutdown requests a transition to SHUTDOWN_GRACEFULLY (existing
// queue entries are drained) or, if graceful is false, directly to
// SHUTDOWN_RIGHT_NOW (the next iteration aborts immediately).
func (l *Loop) Shutdown(graceful bool) {
	if graceful {
		l.setStatus(ShutdownGracefully)
		return
	}
	l.setStatus(ShutdownRightNow)
}

// Done is closed once the loop has fully stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Run executes the loop until ctx is cancelled or shutdown completes.
func (l *Loop) Run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(muxerTimeout)
	defer ticker.Stop()

	for {
		if l.Status() == ShutdownRightNow {
			l.log.Info("dispatch: shutdown-right-now observed, aborting loop")
			return
		}

		select {
		case <-ctx.Done():
			l.setStatus(ShutdownRightNow)
			return
		case <-ticker.C:
		}

		if l.Status() == ShutdownRightNow {
			return
		}

		snapshot := l.bridges.Snapshot()
		entries := l.queue.poll(l.channelqMaxBatches)

		for _, e := range entries {
			l.lockDispatch(ctx, e)
		}

		idle := len(entries) == 0
		for _, br := range snapshot {
			idle = l.drainBridge(ctx, br) && idle
		}

		bridgequeue.ReleaseSnapshot(snapshot)
		l.reportIteration()

		if l.Status() == ShutdownGracefully && idle {
			l.setStatus(Shutdowned)
			l.log.Info("dispatch: queues drained, loop shutdowned")
			return
		}
	}
}

// lockDispatch runs the chosen handler inside a critical section
// held over the status mutex, so a shutdown transition cannot race a
// handler mid-write. Replies go out through EnqueueSend, never the
// blocking Send, so a slow controller cannot stall this section (and
// with it Shutdown/Status, which take the same mutex).
func (l *Loop) lockDispatch(ctx context.Context, e entry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := e.channel
	req := e.req

	if req.Header.Type != of.TypeHello && !c.HelloReceived() {
		l.replyError(c, req, ofperror.OFP(ofp.ErrTypeBadRequest, ofp.ErrCodeBadRequestBadVersion, nil))
		return
	}

	if !role.Check(c.Role(), req.Header.Type) {
		l.replyError(c, req, role.ErrIsSlave(nil))
		return
	}

	sw, ok := l.switches.Switch(c.DatapathID())
	if !ok {
		l.log.WithField("dpid", c.DatapathID()).Warn("dispatch: no datapath registered for channel")
		l.reportDrop(c.DatapathID(), "channel", "no-datapath")
		return
	}

	bridge, err := l.bridges.Lookup(c.DatapathID())
	if err != nil {
		l.log.WithField("dpid", c.DatapathID()).Warn("dispatch: no bridge queue registered for channel")
		l.reportDrop(c.DatapathID(), "channel", "no-bridge")
		return
	}
	defer bridgequeue.ReleaseSnapshot([]*bridgequeue.Entry{bridge})

	hc := &handler.Context{
		Channel: c,
		List:    l.channels.List(c.DatapathID()),
		Switch:  sw,
		Bridge:  bridge,
	}

	result, ferr := l.registry.Dispatch(ctx, hc, req)
	if ferr != nil {
		l.replyError(c, req, ferr)
		return
	}
	if result == nil {
		return
	}

	if err := l.sendReply(c, req, result); err != nil {
		l.log.WithError(err).Warn("dispatch: failed to encode reply")
		l.reportDrop(c.DatapathID(), "channel", "encode")
	}
}

// sendReply encodes result's reply and enqueues it onto c, preserving
// req's xid. A handler.MultiReply (a multipart reply split across the
// 64 KiB pbuf boundary, with OFPMPF_REPLY_MORE set on all but the
// last) goes out as one enqueue per fragment instead of one message.
func (l *Loop) sendReply(c *channel.Channel, req *of.Request, result *handler.Result) error {
	bodies := []io.WriterTo{result.Reply}
	if mr, ok := result.Reply.(handler.MultiReply); ok {
		fragments, err := mr.Fragments()
		if err != nil {
			return err
		}
		bodies = fragments
	}

	for _, body := range bodies {
		reply, err := of.NewRequest(result.ReplyType, body)
		if err != nil {
			return err
		}
		reply.Header.XID = req.Header.XID

		if err := c.EnqueueSend(reply); err != nil {
			l.log.WithError(err).Warn("dispatch: failed to enqueue reply")
			l.reportDrop(c.DatapathID(), "channel", "send")
		}
	}
	return nil
}

// replyError encodes ferr as OFPT_ERROR on c, preserving req's xid,
// when ferr carries a wire-visible OpenFlow error. Other kinds are
// only logged, per spec.md's non-OFP error policy.
func (l *Loop) replyError(c *channel.Channel, req *of.Request, ferr *ofperror.Error) {
	if ferr == nil {
		return
	}

	if ferr.Kind != ofperror.OFPError || ferr.Err == nil {
		l.log.WithField("kind", ferr.Kind.String()).Warn("dispatch: handler failed")
		return
	}

	errReq, err := of.NewRequest(of.TypeError, ferr.Err)
	if err != nil {
		l.log.WithError(err).Warn("dispatch: failed to encode OFPT_ERROR")
		return
	}
	errReq.Header.XID = req.Header.XID

	if err := c.EnqueueSend(errReq); err != nil {
		l.log.WithError(err).Warn("dispatch: failed to enqueue OFPT_ERROR")
	}
}

// drainBridge routes the bridge's ready event and data items to
// controllers, returning true if nothing was drained (used by the
// idle check for graceful shutdown).
func (l *Loop) drainBridge(ctx context.Context, br *bridgequeue.Entry) bool {
	max := br.MaxBatches()

	events := br.PollEvent(max)
	for _, v := range events {
		l.routeEvent(ctx, br, v)
	}

	data := br.PollData(max)
	for _, v := range data {
		l.routeEvent(ctx, br, v)
	}

	return len(events) == 0 && len(data) == 0
}

// routeEvent fans a datapath.Event out to every channel on the
// event's dpid whose async-mask allows it for its current role.
func (l *Loop) routeEvent(ctx context.Context, br *bridgequeue.Entry, v interface{}) {
	ev, ok := v.(datapath.Event)
	if !ok {
		l.log.Warn("dispatch: bridge queue item is not a datapath.Event")
		l.reportDrop(br.Dpid, "event", "bad-type")
		return
	}

	list := l.channels.List(ev.Dpid)
	for _, c := range list.Channels() {
		typ, body, kind, reason, ok := eventMessage(&ev)
		if !ok {
			continue
		}

		if !c.AsyncMask().Allows(c.Role(), kind, uint32(reason)) {
			continue
		}

		req, err := of.NewRequest(typ, body)
		if err != nil {
			l.log.WithError(err).Warn("dispatch: failed to encode event")
			l.reportDrop(ev.Dpid, "event", "encode")
			continue
		}
		req.Header.XID = c.XID()

		if err := c.EnqueueSend(req); err != nil {
			l.log.WithError(err).Warn("dispatch: failed to enqueue event")
			l.reportDrop(ev.Dpid, "event", "send")
		}
	}
}
