package event

import (
	"context"
	"sync"
	"testing"

	"github.com/mustafaturan/bus/v3"
)

func TestEmitDelivers(t *testing.T) {
	b, err := New(1)
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var got []bus.Event
	b.Subscribe("test", "^fix\\.", func(ctx context.Context, e bus.Event) {
		mu.Lock()
		got = append(got, e)
		mu.Unlock()
	})
	b.Emit(context.Background(), FixDecoded, "payload")
	b.Emit(context.Background(), ConnectionOpened, Connection{CID: 1})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	if got[0].Topic != FixDecoded || got[0].Data.(string) != "payload" {
		t.Errorf("unexpected event %+v", got[0])
	}
	if got[0].ID == "" {
		t.Error("event id not generated")
	}
}

func TestUnsubscribe(t *testing.T) {
	b, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	n := 0
	b.Subscribe("k", ".*", func(ctx context.Context, e bus.Event) { n++ })
	b.Emit(context.Background(), ConnectionClosed, nil)
	b.Unsubscribe("k")
	b.Emit(context.Background(), ConnectionClosed, nil)
	if n != 1 {
		t.Errorf("handler called %d times, want 1", n)
	}
}

func TestNilBusEmit(t *testing.T) {
	var b *Bus
	b.Emit(context.Background(), FixDecoded, nil)
}
