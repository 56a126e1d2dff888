// Package channelmgr indexes channels by bridge name and controller
// address, and by datapath id, maintaining per-dpid channel lists
// with their shared generation-id and role invariants.
package channelmgr

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/netrack/ofagent/channel"
	"github.com/netrack/ofagent/metrics"
	"github.com/netrack/ofagent/role"
)

// key identifies a channel by the bridge it was accepted on and the
// controller address it serves.
type key struct {
	bridge string
	addr   string
}

// List is the set of channels sharing one datapath id: an ordered
// sequence of channels plus the generation-id and channel-id
// allocator they share.
type List struct {
	mu       sync.Mutex
	dpid     uint64
	channels []*channel.Channel
	nextID   uint64
	gen      role.Generation
}

func newList(dpid uint64) *List {
	return &List{dpid: dpid}
}

// DatapathID returns the datapath id this list is keyed on.
func (l *List) DatapathID() uint64 { return l.dpid }

// Generation returns the channel-list's shared generation-id tracker,
// consulted and advanced by ROLE_REQUEST handling.
func (l *List) Generation() *role.Generation { return &l.gen }

// NextChannelID allocates the next monotonic channel-id for this
// list.
func (l *List) NextChannelID() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	return l.nextID
}

// Add appends a channel to the list.
func (l *List) Add(c *channel.Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels = append(l.channels, c)
}

// Remove drops a channel from the list by identity.
func (l *List) Remove(c *channel.Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i, ch := range l.channels {
		if ch == c {
			l.channels = append(l.channels[:i], l.channels[i+1:]...)
			return
		}
	}
}

// Channels returns a snapshot copy of the list's channels, safe to
// range over without holding the list's lock.
func (l *List) Channels() []*channel.Channel {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*channel.Channel, len(l.channels))
	copy(out, l.channels)
	return out
}

// Len reports the number of channels currently in the list.
func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.channels)
}

// Master returns the list's current master channel, if any.
func (l *List) Master() *channel.Channel {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, c := range l.channels {
		if c.Role() == role.Master {
			return c
		}
	}
	return nil
}

// Promote sets target as the list's MASTER, demoting any previously
// MASTER channel to SLAVE. target must already be a member of the
// list.
func (l *List) Promote(target *channel.Channel) {
	l.mu.Lock()
	members := make([]role.Member, len(l.channels))
	for i, c := range l.channels {
		members[i] = c
	}
	l.mu.Unlock()

	role.Promote(members, target)
}

// Manager indexes channels two ways: by (bridge, controller-address)
// for connection-accept dedup, and by dpid for role/generation/async
// fan-out, per spec.md's channel-manager responsibilities (C3).
type Manager struct {
	mu sync.RWMutex

	byAddr map[key]*channel.Channel
	byDpid map[uint64]*List

	nextChannelID uint64

	metrics *metrics.Registry
}

// New returns an empty channel manager.
func New() *Manager {
	return &Manager{
		byAddr: make(map[key]*channel.Channel),
		byDpid: make(map[uint64]*List),
	}
}

// SetMetrics wires m into the manager; subsequent Attach/Detach calls
// report channel counts against it. Nil-safe and idempotent.
func (m *Manager) SetMetrics(reg *metrics.Registry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = reg
}

func (m *Manager) reportChannelCount(dpid uint64, n int) {
	m.mu.RLock()
	reg := m.metrics
	m.mu.RUnlock()

	if reg == nil {
		return
	}
	reg.ChannelCount.WithLabelValues(strconv.FormatUint(dpid, 10)).Set(float64(n))
}

// Create registers a freshly accepted channel under (bridge, addr),
// returning an error if that pair is already occupied by a live
// channel.
func (m *Manager) Create(bridge string, c *channel.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{bridge: bridge, addr: c.Addr().String()}
	if existing, ok := m.byAddr[k]; ok && existing.Alive() {
		return fmt.Errorf("channelmgr: channel already registered for %s on bridge %q", k.addr, bridge)
	}

	m.byAddr[k] = c
	return nil
}

// Destroy unregisters a channel from the address index; it does not
// close the channel's transport, which is the caller's
// responsibility.
func (m *Manager) Destroy(bridge string, c *channel.Channel) {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := key{bridge: bridge, addr: c.Addr().String()}
	if existing, ok := m.byAddr[k]; ok && existing == c {
		delete(m.byAddr, k)
	}
}

// Lookup returns the channel registered for (bridge, addr), if any.
func (m *Manager) Lookup(bridge, addr string) (*channel.Channel, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.byAddr[key{bridge: bridge, addr: addr}]
	return c, ok
}

// List returns the channel list for dpid, creating an empty one if
// this is the first reference (channel-manager-owned lazy creation
// per spec.md's channel lifecycle).
func (m *Manager) List(dpid uint64) *List {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.byDpid[dpid]
	if !ok {
		l = newList(dpid)
		m.byDpid[dpid] = l
	}
	return l
}

// Attach binds c to dpid's channel list, allocating the list lazily,
// and records the dpid on the channel itself.
func (m *Manager) Attach(dpid uint64, c *channel.Channel) *List {
	l := m.List(dpid)
	c.SetDatapathID(dpid)
	l.Add(c)
	m.reportChannelCount(dpid, l.Len())
	return l
}

// Detach removes c from dpid's channel list. The list itself is kept
// (even if empty) so its generation-id survives channel churn.
func (m *Manager) Detach(dpid uint64, c *channel.Channel) {
	m.mu.RLock()
	l, ok := m.byDpid[dpid]
	m.mu.RUnlock()

	if ok {
		l.Remove(c)
		m.reportChannelCount(dpid, l.Len())
	}
}

// Dpids returns a snapshot of every datapath id with a registered
// channel list.
func (m *Manager) Dpids() []uint64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]uint64, 0, len(m.byDpid))
	for dpid := range m.byDpid {
		out = append(out, dpid)
	}
	return out
}

// Each invokes fn once per registered datapath id with its channel
// list. fn must not mutate the manager.
func (m *Manager) Each(fn func(dpid uint64, l *List)) {
	m.mu.RLock()
	snapshot := make(map[uint64]*List, len(m.byDpid))
	for dpid, l := range m.byDpid {
		snapshot[dpid] = l
	}
	m.mu.RUnlock()

	for dpid, l := range snapshot {
		fn(dpid, l)
	}
}
