package modules

import (
	"testing"

	"github.com/lexlapax/go-llmspell/internal/uv"
)

func TestEmitOrdersByPriorityThenFIFO(t *testing.T) {
	bus := NewBus()
	var order []string

	bus.Subscribe("tick", PriorityLow, func(uv.Value) error { order = append(order, "low"); return nil })
	bus.Subscribe("tick", PriorityNormal, func(uv.Value) error { order = append(order, "normal-1"); return nil })
	bus.Subscribe("tick", PriorityCritical, func(uv.Value) error { order = append(order, "critical"); return nil })
	bus.Subscribe("tick", PriorityNormal, func(uv.Value) error { order = append(order, "normal-2"); return nil })
	bus.Subscribe("tick", PriorityHigh, func(uv.Value) error { order = append(order, "high"); return nil })

	if err := bus.Emit("tick", uv.Nil()); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	want := []string{"critical", "high", "normal-1", "normal-2", "low"}
	if len(order) != len(want) {
		t.Fatalf("got %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("got %v, want %v", order, want)
		}
	}
}

func TestEmitNoSubscribersIsNoop(t *testing.T) {
	bus := NewBus()
	if err := bus.Emit("nothing-subscribed", uv.Int(1)); err != nil {
		t.Fatalf("Emit: %v", err)
	}
}

func TestEmitStopsAtFirstHandlerError(t *testing.T) {
	bus := NewBus()
	var ran []string
	bus.Subscribe("x", PriorityHigh, func(uv.Value) error {
		ran = append(ran, "first")
		return errTestSentinel
	})
	bus.Subscribe("x", PriorityLow, func(uv.Value) error {
		ran = append(ran, "second")
		return nil
	})

	err := bus.Emit("x", uv.Nil())
	if err == nil {
		t.Fatal("expected error from first handler to propagate")
	}
	if len(ran) != 1 || ran[0] != "first" {
		t.Fatalf("expected dispatch to stop after first handler, got %v", ran)
	}
}

func TestUnsubscribeRemovesHandler(t *testing.T) {
	bus := NewBus()
	called := false
	id := bus.Subscribe("y", PriorityNormal, func(uv.Value) error { called = true; return nil })
	bus.Unsubscribe("y", id)

	if err := bus.Emit("y", uv.Nil()); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if called {
		t.Fatal("expected unsubscribed handler not to run")
	}
}

func TestEventModuleEmitAndSubscribeWireThroughFabric(t *testing.T) {
	bus := NewBus()
	fabric := NewFabric()
	fabric.Install(NewEventModule(bus))

	ctx := newNoopContext(t)

	if _, err := fabric.Invoke(ctx, "event", "subscribe", []uv.Value{
		uv.StrFromString("greeting"),
		uv.Int(int64(PriorityNormal)),
		uv.StrFromString("on_greeting"),
	}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if _, err := fabric.Invoke(ctx, "event", "emit", []uv.Value{
		uv.StrFromString("greeting"),
		uv.StrFromString("hi"),
	}); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

var errTestSentinel = sentinelErr("boom")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
