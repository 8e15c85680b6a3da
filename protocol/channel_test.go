package protocol

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendBatchesUntilBatchSize(t *testing.T) {
	a, b := NewPipe(4)

	for i := 0; i < batchSize-1; i++ {
		a.Send(Message{Command: Evaluate})
	}
	_, ok := b.TryRecv()
	assert.False(t, ok, "a partial batch must not be transmitted until flushed or full")

	a.Send(Message{Command: Evaluate}) // reaches batchSize, triggers transmit
	batch, ok := b.TryRecv()
	require.True(t, ok)
	assert.Len(t, batch, batchSize)
}

func TestFlushForcesPartialBatch(t *testing.T) {
	a, b := NewPipe(4)
	a.Send(Message{Command: Result, Score: 1})
	a.Flush()

	batch, ok := b.TryRecv()
	require.True(t, ok)
	require.Len(t, batch, 1)
	assert.Equal(t, Result, batch[0].Command)
}

func TestFlushOnEmptyBatchIsNoop(t *testing.T) {
	a, b := NewPipe(4)
	a.Flush()
	_, ok := b.TryRecv()
	assert.False(t, ok)
}

func TestRecvBlocksUntilSend(t *testing.T) {
	a, b := NewPipe(4)

	done := make(chan []Message, 1)
	go func() { done <- b.Recv() }()

	time.Sleep(10 * time.Millisecond)
	a.Send(Message{Command: Terminate})
	a.Flush()

	select {
	case batch := <-done:
		require.Len(t, batch, 1)
		assert.Equal(t, Terminate, batch[0].Command)
	case <-time.After(time.Second):
		t.Fatal("Recv did not unblock after Send+Flush")
	}
}
