package channelmgr

import (
	"context"
	"io"
	"sync"

	"github.com/sirupsen/logrus"

	of "github.com/netrack/ofagent"
	"github.com/netrack/ofagent/channel"
)

// ChannelQueue receives whole frames read off a channel's transport,
// for the dispatch loop (C7) to consume. It is the hand-off point
// between the channel-manager's I/O thread and the handler loop.
type ChannelQueue interface {
	Push(ctx context.Context, c *channel.Channel, req *of.Request) error
}

// Loop is the channel-manager's I/O thread: for every channel started
// under it, it blocks on Receive and forwards whole frames to the
// channel queue until the channel is stopped or its transport fails.
type Loop struct {
	log    *logrus.Entry
	queue  ChannelQueue
	runner of.Runner

	mu      sync.Mutex
	cancels map[*channel.Channel]context.CancelFunc
	wg      sync.WaitGroup
}

// NewLoop constructs a channel-manager I/O loop delivering frames to
// queue. Each attached channel gets its own goroutine, started through
// an of.OnDemandRoutineRunner; call SetRunner before Start to bound
// that instead.
func NewLoop(queue ChannelQueue, log *logrus.Entry) *Loop {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &Loop{
		log:     log,
		queue:   queue,
		runner:  of.OnDemandRoutineRunner{},
		cancels: make(map[*channel.Channel]context.CancelFunc),
	}
}

// SetRunner overrides how per-channel read goroutines are launched.
func (l *Loop) SetRunner(r of.Runner) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.runner = r
}

// Start begins servicing c's reads on its own goroutine. Per
// spec.md's channel lifecycle, this transitions the channel from
// "enabled" to "connected".
func (l *Loop) Start(c *channel.Channel) {
	ctx, cancel := context.WithCancel(context.Background())

	l.mu.Lock()
	l.cancels[c] = cancel
	l.mu.Unlock()

	c.Enable()
	c.Ref()

	l.mu.Lock()
	runner := l.runner
	l.mu.Unlock()

	l.wg.Add(1)
	runner.Run(func() { l.run(ctx, c) })
}

// Stop cancels c's read goroutine, which exits before its next
// Receive; it does not wait for the goroutine and does not interrupt a
// Receive already in progress. Safe to call more than once or on a
// channel never started.
func (l *Loop) Stop(c *channel.Channel) {
	l.mu.Lock()
	cancel, ok := l.cancels[c]
	delete(l.cancels, c)
	l.mu.Unlock()

	if ok {
		cancel()
	}
}

// Shutdown cancels every running channel goroutine, closes its channel
// so a blocked Receive returns, and waits for them to finish, closing
// out the channel-manager's I/O thread.
func (l *Loop) Shutdown() {
	l.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(l.cancels))
	channels := make([]*channel.Channel, 0, len(l.cancels))
	for c, cancel := range l.cancels {
		cancels = append(cancels, cancel)
		channels = append(channels, c)
		delete(l.cancels, c)
	}
	l.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, c := range channels {
		c.Close()
	}

	l.wg.Wait()
}

func (l *Loop) run(ctx context.Context, c *channel.Channel) {
	defer l.wg.Done()
	defer c.Unref()
	defer c.Disable()

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		req, err := c.Receive()
		if err != nil {
			if err != io.EOF {
				l.log.WithError(err).WithField("addr", c.Addr()).Warn("channel read failed")
			}
			c.Cancel()
			return
		}

		c.Touch()

		if err := l.queue.Push(ctx, c, req); err != nil {
			l.log.WithError(err).WithField("addr", c.Addr()).Warn("channel queue push failed")
			return
		}
	}
}
