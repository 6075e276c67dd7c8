package handler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comlink-service/internal/model"
)

func receive(t *testing.T, ch <-chan model.LinkEvent) model.LinkEvent {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(time.Second):
		require.FailNow(t, "no event received")
		return model.LinkEvent{}
	}
}

func TestEventBus_FanOutByType(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewEventBus(10, zap.NewNop())
	go bus.Run(ctx)

	all, cancelAll := bus.Subscribe()
	defer cancelAll()
	errorsOnly, cancelErrors := bus.Subscribe(model.EventLinkError)
	defer cancelErrors()

	bus.Publish(*model.NewLinkEvent(model.EventLinkConnected, "COM1", ""))
	bus.Publish(*model.NewLinkEvent(model.EventLinkError, "COM1", "boom"))

	assert.Equal(t, model.EventLinkConnected, receive(t, all).Type)
	assert.Equal(t, model.EventLinkError, receive(t, all).Type)
	assert.Equal(t, "boom", receive(t, errorsOnly).Message)

	select {
	case extra := <-errorsOnly:
		t.Fatalf("unexpected event %s", extra.Type)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEventBus_CancelClosesChannel(t *testing.T) {
	bus := NewEventBus(1, zap.NewNop())
	ch, cancel := bus.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)
}

func TestEventBus_PublishNeverBlocks(t *testing.T) {
	bus := NewEventBus(1, zap.NewNop())
	bus.Publish(*model.NewLinkEvent(model.EventDataReceived, "COM1", ""))
	bus.Publish(*model.NewLinkEvent(model.EventDataReceived, "COM1", ""))
}
