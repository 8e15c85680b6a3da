package protocol

import "sync"

// batchSize is the point at which Send eagerly frames and transmits
// the pending batch, matching BufferedPipe's magic 96 in train.py:
// per-message framing syscalls dominate otherwise.
const batchSize = 96

// Channel is one end of a buffered duplex connection: Send appends to
// a local batch and only actually transmits once the batch is full or
// Flush is called, and Recv reads one whole batch at a time.
type Channel struct {
	out chan<- []Message
	in  <-chan []Message

	mu      sync.Mutex
	pending []Message
}

// NewPipe creates a pair of Channels wired to each other, standing in
// for multiprocessing.Pipe(duplex=True). bufSize is the number of
// in-flight batches each direction can hold before Send/Flush block.
func NewPipe(bufSize int) (a, b *Channel) {
	ab := make(chan []Message, bufSize)
	ba := make(chan []Message, bufSize)
	a = &Channel{out: ab, in: ba}
	b = &Channel{out: ba, in: ab}
	return a, b
}

// Send appends m to the local batch, transmitting immediately once
// the batch reaches batchSize.
func (c *Channel) Send(m Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending = append(c.pending, m)
	if len(c.pending) >= batchSize {
		c.flushLocked()
	}
}

// Flush forces transmission of any partial batch.
func (c *Channel) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushLocked()
}

func (c *Channel) flushLocked() {
	if len(c.pending) == 0 {
		return
	}
	c.out <- c.pending
	c.pending = nil
}

// Recv blocks for the next whole batch sent by the peer.
func (c *Channel) Recv() []Message {
	return <-c.in
}

// In exposes the inbound channel for multiplexed waiting across many
// peers (the coordinator's 1-second poll over all workers uses this
// with reflect.Select, since the worker count is only known at
// runtime).
func (c *Channel) In() <-chan []Message {
	return c.in
}

// TryRecv returns the next batch if one is already available, or
// ok=false without blocking. The coordinator does not call it (its
// poll goes through In); the channel tests use it to check whether a
// batch has been transmitted.
func (c *Channel) TryRecv() (batch []Message, ok bool) {
	select {
	case b := <-c.in:
		return b, true
	default:
		return nil, false
	}
}
