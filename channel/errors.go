package channel

import "errors"

// ErrNoMemory is returned when the multipart reassembly table is at
// its capacity and a new (xid, type) entry was requested.
var ErrNoMemory = errors.New("channel: multipart reassembly table is full")

// ErrWriteQueueFull is returned by EnqueueSend when the channel's
// outbound write queue is at capacity; the caller should treat the
// send as dropped rather than block.
var ErrWriteQueueFull = errors.New("channel: write queue is full")

// ErrChannelClosed is returned by EnqueueSend once Close has been
// called on the channel.
var ErrChannelClosed = errors.New("channel: closed")
