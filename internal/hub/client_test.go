package hub

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

// A client can be torn down while other goroutines (broadcasts, the
// executor sink) are still enqueueing frames for it. The enqueue path must
// never panic against a concurrent close.
func TestEnqueueConcurrentWithCloseSend(t *testing.T) {
	for i := 0; i < 500; i++ {
		c := NewClient("c1", nil, nil, nil)
		start := make(chan struct{})
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 50; j++ {
					c.enqueue([]byte("{}"))
				}
			}()
		}
		close(start)
		c.closeSend()
		wg.Wait()
	}
}

func TestCloseSendIdempotent(t *testing.T) {
	c := NewClient("c1", nil, nil, nil)
	c.closeSend()
	c.closeSend()

	// Frames after close are dropped silently.
	c.enqueue([]byte("{}"))

	_, ok := <-c.send
	assert.False(t, ok)
}

func TestEnqueueDropsWhenBufferFull(t *testing.T) {
	c := NewClient("c1", nil, nil, nil)
	for i := 0; i < sendBufferSize+10; i++ {
		c.enqueue([]byte("{}"))
	}
	assert.Len(t, c.send, sendBufferSize)
}
