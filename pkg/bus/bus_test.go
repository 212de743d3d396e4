package bus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryPushAppendAndPrepend(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Push(ctx, "q1", []byte("a"), false))
	require.NoError(t, m.Push(ctx, "q1", []byte("b"), false))
	require.NoError(t, m.Push(ctx, "q1", []byte("priority"), true))

	got := m.Drain("q1")
	require.Len(t, got, 3)
	assert.Equal(t, "priority", string(got[0]))
	assert.Equal(t, "a", string(got[1]))
	assert.Equal(t, "b", string(got[2]))
}

func TestMemoryPublishFanOut(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	ch1, cancel1, err := m.Subscribe(ctx, TopicWorkerBroadcast)
	require.NoError(t, err)
	defer cancel1()
	ch2, cancel2, err := m.Subscribe(ctx, TopicWorkerBroadcast)
	require.NoError(t, err)
	defer cancel2()

	require.NoError(t, m.Publish(ctx, TopicWorkerBroadcast, []byte("hello")))

	assert.Equal(t, "hello", string(<-ch1))
	assert.Equal(t, "hello", string(<-ch2))
}

func TestMemoryClosedRejectsWrites(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Close())
	assert.Error(t, m.Push(context.Background(), "q1", nil, false))
	assert.Error(t, m.Publish(context.Background(), "t1", nil))
}
