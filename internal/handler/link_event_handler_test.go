package handler

import (
	"context"
	"errors"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"comlink-service/internal/model"
	"comlink-service/internal/notify"
	"comlink-service/internal/repository"
)

type fakeSignals struct {
	connected    notify.Signal[string]
	disconnected notify.Signal[struct{}]
	data         notify.Signal[[]byte]
	errored      notify.Signal[error]
	added        notify.Signal[model.PortDescriptor]
	removed      notify.Signal[model.PortDescriptor]
}

func (s *fakeSignals) OnConnected(fn func(string)) func() { return s.connected.Connect(fn) }
func (s *fakeSignals) OnDisconnected(fn func()) func() {
	return s.disconnected.Connect(func(struct{}) { fn() })
}
func (s *fakeSignals) OnDataReceived(fn func([]byte)) func() { return s.data.Connect(fn) }
func (s *fakeSignals) OnError(fn func(error)) func()         { return s.errored.Connect(fn) }
func (s *fakeSignals) OnPortAdded(fn func(model.PortDescriptor)) func() {
	return s.added.Connect(fn)
}
func (s *fakeSignals) OnPortRemoved(fn func(model.PortDescriptor)) func() {
	return s.removed.Connect(fn)
}

func TestLinkEventHandler_BinaryDataIsStorableText(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewEventBus(16, zap.NewNop())
	go bus.Run(ctx)
	events, unsubscribe := bus.Subscribe(model.EventDataReceived)
	defer unsubscribe()

	signals := &fakeSignals{}
	bridge := NewLinkEventHandler(bus, zap.NewNop())
	bridge.Attach(signals, nil)

	signals.connected.Emit("COM3")
	signals.data.Emit([]byte{0x00, 0xff, 'o', 'k'})

	data := receive(t, events)
	assert.True(t, utf8.ValidString(data.Message))
	assert.NotContains(t, data.Message, "\x00")
	assert.Equal(t, "\uFFFDok", data.Message)
	assert.Equal(t, "AP9vaw==", data.Data["base64"])
	assert.Equal(t, 4, data.Data["size"])
}

func TestLinkEventHandler_PublishesLifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewEventBus(16, zap.NewNop())
	go bus.Run(ctx)
	events, unsubscribe := bus.Subscribe()
	defer unsubscribe()

	signals := &fakeSignals{}
	bridge := NewLinkEventHandler(bus, zap.NewNop())
	bridge.Attach(signals, signals)

	signals.added.Emit(model.PortDescriptor{Name: "COM3", IsUSB: true, VendorID: model.USBID(0x2341), ProductID: model.USBID(0x0043)})
	signals.connected.Emit("COM3")
	signals.data.Emit([]byte("hi"))
	signals.errored.Emit(errors.New("transport i/o error: gone"))
	signals.disconnected.Emit(struct{}{})

	added := receive(t, events)
	assert.Equal(t, model.EventPortAdded, added.Type)
	assert.Equal(t, "COM3", added.Port)
	assert.Equal(t, "2341:0043", added.Data["usb_id"])

	assert.Equal(t, model.EventLinkConnected, receive(t, events).Type)

	data := receive(t, events)
	assert.Equal(t, model.EventDataReceived, data.Type)
	assert.Equal(t, "hi", data.Message)
	assert.Equal(t, "aGk=", data.Data["base64"])
	assert.Equal(t, "COM3", data.Port)

	failure := receive(t, events)
	assert.Equal(t, model.EventLinkError, failure.Type)
	assert.Equal(t, "transport i/o error: gone", failure.Message)

	lost := receive(t, events)
	assert.Equal(t, model.EventLinkDisconnected, lost.Type)
	assert.Equal(t, "COM3", lost.Port)
}

func TestLinkEventHandler_Detach(t *testing.T) {
	signals := &fakeSignals{}
	bridge := NewLinkEventHandler(NewEventBus(4, zap.NewNop()), zap.NewNop())
	bridge.Attach(signals, nil)
	assert.Equal(t, 1, signals.connected.Len())
	assert.Equal(t, 0, signals.added.Len())

	bridge.Detach()
	assert.Equal(t, 0, signals.connected.Len())
	assert.Equal(t, 0, signals.errored.Len())
}

func TestEventRecorder_SavesEvents(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := NewEventBus(16, zap.NewNop())
	go bus.Run(ctx)

	repo := repository.NewMemoryEventRepository(10)
	recorder := NewEventRecorder(repo, zap.NewNop())
	done := make(chan struct{})
	go func() {
		recorder.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(*model.NewLinkEvent(model.EventLinkConnected, "COM7", ""))
		events, err := repo.List(ctx, model.EventFilter{})
		return err == nil && len(events) > 0
	}, time.Second, 10*time.Millisecond)

	events, err := repo.List(ctx, model.EventFilter{Port: "COM7"})
	require.NoError(t, err)
	assert.Equal(t, model.EventLinkConnected, events[0].Type)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("recorder did not stop")
	}
}
