package dispatch

import (
	"context"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/channel"
)

// entry pairs a request with the channel it arrived on, the unit the
// channel-manager loop forwards into the channel queue.
type entry struct {
	channel *channel.Channel
	req     *of.Request
}

// ChannelQueue is the single bounded queue every channel-manager I/O
// goroutine forwards frames into and the dispatch loop drains in
// FIFO order, implementing channelmgr.ChannelQueue.
type ChannelQueue struct {
	ch chan entry
}

// NewChannelQueue returns a channel queue buffering up to size frames
// before Push blocks.
func NewChannelQueue(size int) *ChannelQueue {
	return &ChannelQueue{ch: make(chan entry, size)}
}

// Push enqueues req, blocking until space is available or ctx is
// done.
func (q *ChannelQueue) Push(ctx context.Context, c *channel.Channel, req *of.Request) error {
	select {
	case q.ch <- entry{channel: c, req: req}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll drains up to max ready entries without blocking, the dispatch
// loop's per-iteration batch over the channel queue.
func (q *ChannelQueue) poll(max int) []entry {
	out := make([]entry, 0, max)
	for len(out) < max {
		select {
		case e := <-q.ch:
			out = append(out, e)
		default:
			return out
		}
	}
	return out
}

// Len reports the number of frames currently buffered.
func (q *ChannelQueue) Len() int { return len(q.ch) }
