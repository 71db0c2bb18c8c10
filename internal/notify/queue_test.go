package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := NewQueue[int]()

	_, ok := q.Poll()
	assert.False(t, ok, "empty queue polls nothing")

	for i := 0; i < 200; i++ {
		q.Publish(i)
	}
	assert.Equal(t, 200, q.Len())

	for i := 0; i < 150; i++ {
		v, ok := q.Poll()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	q.Publish(200)
	for i := 150; i <= 200; i++ {
		v, ok := q.Poll()
		require.True(t, ok)
		require.Equal(t, i, v)
	}

	assert.Equal(t, 0, q.Len())
	_, ok = q.Poll()
	assert.False(t, ok)
}
