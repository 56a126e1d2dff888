// Package agent composes the channel-manager I/O thread, the
// dispatch loop, and the accept loops for one or more listening
// transports into the switch-side agent façade (C9): the single
// object an embedder constructs, starts, shuts down, and stops.
package agent

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/bridgequeue"
	"github.com/netrack/ofagent/channel"
	"github.com/netrack/ofagent/channelmgr"
	"github.com/netrack/ofagent/datapath"
	"github.com/netrack/ofagent/dispatch"
	"github.com/netrack/ofagent/metrics"
)

// Default and legacy controller-facing listen ports.
const (
	DefaultPort = 6653
	LegacyPort  = 6633
)

const defaultChannelQueueSize = 256

// listenerSpec binds one accepted listener to the datapath id new
// channels on it are attached to.
type listenerSpec struct {
	dpid      uint64
	transport channel.Transport
	ln        net.Listener
}

// Agent is the switch-side OpenFlow agent core. It owns the
// channel-manager index, the bridge-queue registry, the channel
// queue between them, and the single dispatch loop, plus whatever
// listeners an embedder adds with Listen.
type Agent struct {
	log    *logrus.Entry
	bridge string

	channels *channelmgr.Manager
	bridges  *bridgequeue.Registry
	queue    *dispatch.ChannelQueue
	ioLoop   *channelmgr.Loop
	dispatch *dispatch.Loop

	mu        sync.RWMutex
	switches  map[uint64]datapath.Switch
	listeners []listenerSpec

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// New allocates an agent identified by bridge (used to dedup accepted
// channels per listen address) with empty channel and bridge-queue
// registries. This is the façade's initialization step: queues and
// the dispatch loop are constructed here, not started.
func New(bridge string, log *logrus.Entry) *Agent {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	channels := channelmgr.New()
	bridges := bridgequeue.New()
	queue := dispatch.NewChannelQueue(defaultChannelQueueSize)

	a := &Agent{
		log:      log,
		bridge:   bridge,
		channels: channels,
		bridges:  bridges,
		queue:    queue,
		switches: make(map[uint64]datapath.Switch),
	}

	a.ioLoop = channelmgr.NewLoop(queue, log)
	a.dispatch = dispatch.New(queue, bridges, channels, a, log)
	return a
}

// SetMetrics wires m into every component that reports runtime
// observability: the channel manager's channel counts, the
// bridge-queue registry's depth/drop counters, and the dispatch
// loop's iteration counter.
func (a *Agent) SetMetrics(m *metrics.Registry) {
	a.channels.SetMetrics(m)
	a.bridges.SetMetrics(m)
	a.dispatch.SetMetrics(m)
}

// RegisterSwitch makes sw the datapath collaborator for dpid and
// allocates its bridge queues per info. Channels attached to dpid
// before this call queue requests that fail lookup until it runs.
func (a *Agent) RegisterSwitch(dpid uint64, sw datapath.Switch, info bridgequeue.Info) error {
	if _, err := a.bridges.Register(dpid, info); err != nil {
		return err
	}

	a.mu.Lock()
	a.switches[dpid] = sw
	a.mu.Unlock()
	return nil
}

// UnregisterSwitch removes dpid's datapath collaborator and its
// bridge queues. Channels still attached to dpid are left in place;
// the dispatch loop will log and drop their traffic until a switch is
// registered again.
func (a *Agent) UnregisterSwitch(dpid uint64) error {
	a.mu.Lock()
	delete(a.switches, dpid)
	a.mu.Unlock()

	return a.bridges.Unregister(dpid)
}

// Switch implements dispatch.Switches, resolving the datapath
// collaborator for dpid.
func (a *Agent) Switch(dpid uint64) (datapath.Switch, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sw, ok := a.switches[dpid]
	return sw, ok
}

// Listen adds a listener for transport at address, binding any
// channel accepted on it to dpid. TLS and TLS6 transports require a
// non-nil tlsConfig. Call before Start; listeners are not started
// until then.
func (a *Agent) Listen(dpid uint64, transport channel.Transport, address string, tlsConfig *tls.Config) error {
	network := "tcp"
	if transport == channel.TCP6 || transport == channel.TLS6 {
		network = "tcp6"
	}

	var (
		ln  net.Listener
		err error
	)

	switch transport {
	case channel.TLS, channel.TLS6:
		if tlsConfig == nil {
			return fmt.Errorf("agent: %s transport at %s requires a tls.Config", transport, address)
		}
		ln, err = tls.Listen(network, address, tlsConfig)
	default:
		ln, err = net.Listen(network, address)
	}
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.listeners = append(a.listeners, listenerSpec{dpid: dpid, transport: transport, ln: ln})
	a.mu.Unlock()
	return nil
}

// Addrs returns the bound address of every listener added with
// Listen, in the order they were added.
func (a *Agent) Addrs() []net.Addr {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]net.Addr, len(a.listeners))
	for i, spec := range a.listeners {
		out[i] = spec.ln.Addr()
	}
	return out
}

// Start launches the dispatch loop and an accept goroutine per
// listener, under an errgroup rooted in ctx. Start returns once every
// goroutine has been launched; it does not block until they exit (see
// Stop).
func (a *Agent) Start(ctx context.Context) error {
	a.ctx, a.cancel = context.WithCancel(ctx)

	group, gctx := errgroup.WithContext(a.ctx)
	a.group = group

	group.Go(func() error {
		a.dispatch.Run(gctx)
		return nil
	})

	a.mu.RLock()
	listeners := append([]listenerSpec(nil), a.listeners...)
	a.mu.RUnlock()

	for _, spec := range listeners {
		spec := spec
		group.Go(func() error {
			return a.acceptLoop(gctx, spec)
		})
	}

	return nil
}

func (a *Agent) acceptLoop(ctx context.Context, spec listenerSpec) error {
	for {
		conn, err := spec.ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			a.log.WithError(err).WithField("dpid", spec.dpid).Warn("agent: accept failed")
			return err
		}

		a.handleAccept(spec.dpid, spec.transport, conn)
	}
}

func (a *Agent) handleAccept(dpid uint64, transport channel.Transport, conn net.Conn) {
	list := a.channels.List(dpid)
	id := list.NextChannelID()

	c := channel.New(id, of.NewConn(conn), transport, 0)

	if err := a.channels.Create(a.bridge, c); err != nil {
		a.log.WithError(err).WithField("addr", conn.RemoteAddr()).Warn("agent: duplicate channel rejected")
		conn.Close()
		return
	}

	a.channels.Attach(dpid, c)
	a.ioLoop.Start(c)
}

// DispatchDone reports when the dispatch loop has reached its
// terminal status after a Shutdown call.
func (a *Agent) DispatchDone() <-chan struct{} {
	return a.dispatch.Done()
}

// Shutdown requests the dispatch loop transition to
// SHUTDOWN_GRACEFULLY (existing queue entries drain before Stop's
// teardown proceeds) or, if graceful is false, SHUTDOWN_RIGHT_NOW
// (the next iteration aborts immediately). It does not itself block;
// call Stop to wait for the transition to complete and tear
// everything down.
func (a *Agent) Shutdown(graceful bool) {
	a.dispatch.Shutdown(graceful)
}

// Stop waits for the dispatch loop to reach its terminal status, then
// cancels every accept loop and channel I/O goroutine and waits for
// them to exit. Stop returns the first error any goroutine reported,
// if any.
func (a *Agent) Stop() error {
	<-a.dispatch.Done()

	if a.cancel != nil {
		a.cancel()
	}

	a.mu.RLock()
	listeners := append([]listenerSpec(nil), a.listeners...)
	a.mu.RUnlock()

	for _, spec := range listeners {
		spec.ln.Close()
	}

	a.ioLoop.Shutdown()

	if a.group == nil {
		return nil
	}
	return a.group.Wait()
}

// Finalize releases the switches this agent still holds a reference
// to. Call once Stop has returned; the agent must not be reused
// afterward.
func (a *Agent) Finalize() {
	a.mu.Lock()
	a.switches = make(map[uint64]datapath.Switch)
	a.mu.Unlock()
}
