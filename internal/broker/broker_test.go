package broker

import (
	"errors"
	"testing"
	"time"

	"riverflow/internal/hydro"
)

func update(stationID string, n int) Update {
	samples := make([]hydro.FlowSample, n)
	for i := range samples {
		samples[i] = hydro.FlowSample{
			Timestamp: time.Date(2025, 6, 1+i, 0, 0, 0, 0, time.UTC),
			Source:    hydro.SourceHistorical,
		}
	}
	return Update{
		StationID: stationID,
		Timeline:  hydro.Timeline{StationID: stationID, Samples: samples},
		At:        time.Now(),
	}
}

func TestLateSubscriberGetsCurrentSnapshot(t *testing.T) {
	b := New()
	b.Publish(update("08GA072", 3))

	sub := b.Subscribe("08GA072", 4)
	defer sub.Cancel()

	select {
	case got := <-sub.C:
		if got.Timeline.Len() != 3 {
			t.Fatalf("expected replayed snapshot with 3 samples, got %d", got.Timeline.Len())
		}
	case <-time.After(time.Second):
		t.Fatal("late subscriber did not receive current snapshot")
	}
}

func TestPublishFansOutToAllSubscribers(t *testing.T) {
	b := New()
	first := b.Subscribe("08GA072", 4)
	second := b.Subscribe("08GA072", 4)
	defer first.Cancel()
	defer second.Cancel()

	other := b.Subscribe("transalta_barrier", 4)
	defer other.Cancel()

	b.Publish(update("08GA072", 2))

	for i, sub := range []*Subscription{first, second} {
		select {
		case got := <-sub.C:
			if got.StationID != "08GA072" {
				t.Fatalf("subscriber %d got wrong station: %s", i, got.StationID)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d did not receive update", i)
		}
	}

	select {
	case got := <-other.C:
		t.Fatalf("unrelated station received update: %+v", got)
	default:
	}
}

func TestCancelledSubscriberReceivesNothing(t *testing.T) {
	b := New()
	sub := b.Subscribe("08GA072", 4)
	sub.Cancel()
	sub.Cancel() // idempotent

	b.Publish(update("08GA072", 1))

	if _, open := <-sub.C; open {
		t.Fatal("channel should be closed after cancel with no delivery")
	}
	if n := b.Subscribers("08GA072"); n != 0 {
		t.Fatalf("expected 0 subscribers, got %d", n)
	}
}

func TestPublishErrorState(t *testing.T) {
	b := New()
	sub := b.Subscribe("08GA072", 4)
	defer sub.Cancel()

	wantErr := errors.New("source unavailable")
	b.Publish(Update{StationID: "08GA072", Err: wantErr, At: time.Now()})

	select {
	case got := <-sub.C:
		if !errors.Is(got.Err, wantErr) {
			t.Fatalf("expected error update, got %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("error state was not delivered")
	}
}

func TestSlowSubscriberDropsOldestNotNewest(t *testing.T) {
	b := New()
	sub := b.Subscribe("08GA072", 1)
	defer sub.Cancel()

	b.Publish(update("08GA072", 1))
	b.Publish(update("08GA072", 2))
	b.Publish(update("08GA072", 3))

	select {
	case got := <-sub.C:
		if got.Timeline.Len() != 3 {
			t.Fatalf("expected most recent update to survive, got %d samples", got.Timeline.Len())
		}
	case <-time.After(time.Second):
		t.Fatal("no update delivered")
	}
}
