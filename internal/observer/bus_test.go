package observer

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/sharplee/signalcore/internal/model"
)

func TestBus_FanOutToAllSubscribers(t *testing.T) {
	b := New(zerolog.Nop())
	var gotA, gotB []model.EventKind
	b.Subscribe(func(ctx context.Context, e model.Event) { gotA = append(gotA, e.Kind) })
	b.Subscribe(func(ctx context.Context, e model.Event) { gotB = append(gotB, e.Kind) })

	b.Publish(context.Background(), model.Event{Kind: model.EventSignalEmitted})
	b.Publish(context.Background(), model.Event{Kind: model.EventSignalClosed})

	want := []model.EventKind{model.EventSignalEmitted, model.EventSignalClosed}
	if len(gotA) != 2 || gotA[0] != want[0] || gotA[1] != want[1] {
		t.Errorf("subscriber A got %v, want %v", gotA, want)
	}
	if len(gotB) != 2 || gotB[0] != want[0] || gotB[1] != want[1] {
		t.Errorf("subscriber B got %v, want %v", gotB, want)
	}
}

func TestBus_PanicInOneSubscriberIsolatedFromOthers(t *testing.T) {
	b := New(zerolog.Nop())
	var secondCalled, thirdCalled bool
	b.Subscribe(func(ctx context.Context, e model.Event) { panic("boom") })
	b.Subscribe(func(ctx context.Context, e model.Event) { secondCalled = true })
	b.Subscribe(func(ctx context.Context, e model.Event) { thirdCalled = true })

	b.Publish(context.Background(), model.Event{Kind: model.EventSignalEmitted})

	if !secondCalled || !thirdCalled {
		t.Fatal("expected remaining subscribers to run despite a panicking one")
	}
}

func TestBus_PublishWithNoSubscribersIsNoop(t *testing.T) {
	b := New(zerolog.Nop())
	b.Publish(context.Background(), model.Event{Kind: model.EventSignalEmitted})
}

func TestBus_SubscribeDuringConcurrentPublishDoesNotRace(t *testing.T) {
	b := New(zerolog.Nop())
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			b.Publish(context.Background(), model.Event{Kind: model.EventSignalEmitted})
		}
		close(done)
	}()
	for i := 0; i < 100; i++ {
		b.Subscribe(func(ctx context.Context, e model.Event) {})
	}
	<-done
}
