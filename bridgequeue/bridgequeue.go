// Package bridgequeue is the dpid-keyed registry of per-bridge
// bounded blocking queues (data, event, event-data), refcounted and
// snapshotted for lock-free iteration by the dispatch loop.
package bridgequeue

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/netrack/ofagent/metrics"
)

// Sizing ceilings mirroring spec.md's MAX_BRIDGES/MAX_POLLS/MAX_DP_POLLS.
// Register enforces MaxBridges; the registry hands out no poll
// handles, so MaxPolls and MaxDPPolls are not checked anywhere.
const (
	MaxBridges = 256
	MaxPolls   = 1024
	MaxDPPolls = 1024
)

var (
	// ErrAlreadyExists is returned by Register when dpid is already
	// present in the registry.
	ErrAlreadyExists = errors.New("bridgequeue: dpid already registered")
	// ErrNotFound is returned by Lookup/Unregister for an unknown dpid.
	ErrNotFound = errors.New("bridgequeue: dpid not registered")
	// ErrOutOfRange names an overflow of MaxPolls or MaxDPPolls; no
	// function in this package returns it.
	ErrOutOfRange = errors.New("bridgequeue: poll count out of range")
	// ErrRegistryFull is returned by Register once MaxBridges bridges
	// are registered.
	ErrRegistryFull = errors.New("bridgequeue: registry at MaxBridges capacity")
)

// Info carries the bridge's static descriptor: dpid, human name, and
// the queue sizing/batching parameters used at registration.
type Info struct {
	Name           string
	DataQSize      int
	EventQSize     int
	EventDataQSize int
	MaxBatches     int
}

func (i Info) withDefaults() Info {
	if i.DataQSize <= 0 {
		i.DataQSize = 256
	}
	if i.EventQSize <= 0 {
		i.EventQSize = 256
	}
	if i.EventDataQSize <= 0 {
		i.EventDataQSize = 256
	}
	if i.MaxBatches <= 0 {
		i.MaxBatches = 32
	}
	return i
}

// Entry is one bridge's quadruple of queues plus its descriptor and
// refcount. Entry is safe for concurrent use; the data/event/eventData
// channels themselves provide the blocking-queue semantics.
type Entry struct {
	Dpid uint64
	Info Info

	data      chan interface{}
	event     chan interface{}
	eventData chan interface{}

	mu         sync.Mutex
	maxBatches int

	refs int32

	closeOnce sync.Once
	closed    chan struct{}

	metrics *metrics.Registry
}

func newEntry(dpid uint64, info Info, m *metrics.Registry) *Entry {
	info = info.withDefaults()

	return &Entry{
		Dpid:       dpid,
		Info:       info,
		data:       make(chan interface{}, info.DataQSize),
		event:      make(chan interface{}, info.EventQSize),
		eventData:  make(chan interface{}, info.EventDataQSize),
		maxBatches: info.MaxBatches,
		refs:       1,
		closed:     make(chan struct{}),
		metrics:    m,
	}
}

// Ref increments the entry's reference count and returns the new
// value.
func (e *Entry) Ref() int32 { return atomic.AddInt32(&e.refs, 1) }

// Unref decrements the entry's reference count and returns the new
// value. The registry frees the entry's queues once this reaches
// zero.
func (e *Entry) Unref() int32 { return atomic.AddInt32(&e.refs, -1) }

// Refs reports the current reference count.
func (e *Entry) Refs() int32 { return atomic.LoadInt32(&e.refs) }

// MaxBatches returns the current per-iteration batch cap for this
// bridge's queues.
func (e *Entry) MaxBatches() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.maxBatches
}

// SetMaxBatches updates the per-iteration batch cap.
func (e *Entry) SetMaxBatches(n int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.maxBatches = n
}

// PutData enqueues onto the bridge's data queue (PACKET_IN ingress
// path), blocking until ctx is done or space is available.
func (e *Entry) PutData(ctx context.Context, v interface{}) error {
	err := put(ctx, e.data, e.closed, v)
	e.reportPut("data", e.data, err)
	return err
}

// PutEvent enqueues onto the bridge's event queue (datapath → channel
// async fan-out).
func (e *Entry) PutEvent(ctx context.Context, v interface{}) error {
	err := put(ctx, e.event, e.closed, v)
	e.reportPut("event", e.event, err)
	return err
}

// PutEventData enqueues onto the bridge's event-data queue (dispatch
// loop → datapath downward events).
func (e *Entry) PutEventData(ctx context.Context, v interface{}) error {
	err := put(ctx, e.eventData, e.closed, v)
	e.reportPut("event-data", e.eventData, err)
	return err
}

// reportPut records the post-put queue depth, or a drop with its
// reason, against the metrics registry if one was wired in at
// registration time.
func (e *Entry) reportPut(queue string, ch chan interface{}, err error) {
	if e.metrics == nil {
		return
	}

	dpid := strconv.FormatUint(e.Dpid, 10)
	if err != nil {
		reason := "closed"
		if err == context.DeadlineExceeded || err == context.Canceled {
			reason = "timeout"
		}
		e.metrics.DroppedEvents.WithLabelValues(dpid, queue, reason).Inc()
		return
	}

	e.metrics.QueueDepth.WithLabelValues(dpid, queue).Set(float64(len(ch)))
}

// PollData drains up to max ready items from the data queue without
// blocking; used by the dispatch loop's per-bridge poll pass.
func (e *Entry) PollData(max int) []interface{} {
	return poll(e.data, max)
}

// PollEvent drains up to max ready items from the event queue.
func (e *Entry) PollEvent(max int) []interface{} {
	return poll(e.event, max)
}

// PollEventData drains up to max ready items from the event-data
// queue.
func (e *Entry) PollEventData(max int) []interface{} {
	return poll(e.eventData, max)
}

func put(ctx context.Context, ch chan interface{}, closed chan struct{}, v interface{}) error {
	select {
	case ch <- v:
		return nil
	case <-closed:
		return ErrNotFound
	case <-ctx.Done():
		return ctx.Err()
	}
}

func poll(ch chan interface{}, max int) []interface{} {
	out := make([]interface{}, 0, max)
	for len(out) < max {
		select {
		case v := <-ch:
			out = append(out, v)
		default:
			return out
		}
	}
	return out
}

func (e *Entry) shutdown() {
	e.closeOnce.Do(func() { close(e.closed) })
}

// Registry is the dpid-keyed bridge-queue manager (C4): register,
// unregister, lookup, and a lock-free snapshot for dispatch-loop
// iteration.
type Registry struct {
	mu       sync.Mutex
	entries  map[uint64]*Entry
	snapshot atomic.Value // []*Entry

	metrics *metrics.Registry
}

// New returns an empty bridge-queue registry.
func New() *Registry {
	r := &Registry{entries: make(map[uint64]*Entry)}
	r.snapshot.Store([]*Entry{})
	return r
}

// SetMetrics wires m into every entry registered from this point
// forward. Entries already registered keep reporting to whatever
// registry (if any) was wired in when they were created.
func (r *Registry) SetMetrics(m *metrics.Registry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.metrics = m
}

// Register creates and inserts a bridge-queue entry for dpid, sizing
// its queues per info. Fails with ErrAlreadyExists if dpid is already
// registered, or ErrRegistryFull at MaxBridges capacity.
func (r *Registry) Register(dpid uint64, info Info) (*Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[dpid]; ok {
		return nil, ErrAlreadyExists
	}
	if len(r.entries) >= MaxBridges {
		return nil, ErrRegistryFull
	}

	e := newEntry(dpid, info, r.metrics)
	r.entries[dpid] = e
	r.rebuildSnapshot()
	return e, nil
}

// Unregister removes dpid from the registry and decrements its
// refcount; the entry's queues are shut down and drained only once
// the refcount reaches zero.
func (r *Registry) Unregister(dpid uint64) error {
	r.mu.Lock()
	e, ok := r.entries[dpid]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	delete(r.entries, dpid)
	r.rebuildSnapshot()
	r.mu.Unlock()

	if e.Unref() <= 0 {
		e.shutdown()
	}
	return nil
}

// Lookup returns the entry for dpid with its refcount incremented;
// the caller must call Entry.Unref when done.
func (r *Registry) Lookup(dpid uint64) (*Entry, error) {
	r.mu.Lock()
	e, ok := r.entries[dpid]
	r.mu.Unlock()

	if !ok {
		return nil, ErrNotFound
	}

	e.Ref()
	return e, nil
}

// Snapshot returns the registry's current entries with each one's
// refcount incremented; the dispatch loop iterates this array without
// taking the registry lock. The caller must Unref every returned
// entry when done (see ReleaseSnapshot).
func (r *Registry) Snapshot() []*Entry {
	entries := r.snapshot.Load().([]*Entry)
	out := make([]*Entry, len(entries))
	for i, e := range entries {
		e.Ref()
		out[i] = e
	}
	return out
}

// ReleaseSnapshot releases the refcounts taken by Snapshot.
func ReleaseSnapshot(entries []*Entry) {
	for _, e := range entries {
		e.Unref()
	}
}

func (r *Registry) rebuildSnapshot() {
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.snapshot.Store(out)
}

// Len reports the number of registered bridges.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
