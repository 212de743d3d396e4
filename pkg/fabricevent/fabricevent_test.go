package fabricevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishDeliversToListener(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	l := b.Listen()
	defer b.Unlisten(l)

	b.Publish(&Event{Fabric: "fab1", Kind: KindRunning, Message: "bootstrap complete"})

	select {
	case ev := <-l:
		assert.Equal(t, KindRunning, ev.Kind)
		assert.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnlistenStopsDelivery(t *testing.T) {
	b := NewBroker()
	b.Start()
	defer b.Stop()

	l := b.Listen()
	b.Unlisten(l)
	require.Equal(t, 0, b.ListenerCount())
}
