package pubsub

import (
	"sync"
	"testing"
	"time"

	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

func TestSubscribe(t *testing.T) {
	ps := New()

	sub := ps.Subscribe(TopicColorFrame, "", 10)
	if sub == nil {
		t.Fatal("Subscribe() returned nil")
	}
	if sub.ID == "" {
		t.Error("Expected subscriber ID to be set")
	}
	if sub.Topic != TopicColorFrame {
		t.Errorf("Expected topic %s, got %s", TopicColorFrame, sub.Topic)
	}
	if cap(sub.Channel) != 10 {
		t.Errorf("Expected channel buffer size 10, got %d", cap(sub.Channel))
	}
	if count := ps.SubscriberCount(TopicColorFrame); count != 1 {
		t.Errorf("Expected 1 subscriber, got %d", count)
	}
}

func TestSubscribe_UniqueIDs(t *testing.T) {
	ps := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		sub := ps.Subscribe(TopicColorFrame, "", 1)
		if seen[sub.ID] {
			t.Fatalf("Duplicate subscriber ID %q", sub.ID)
		}
		seen[sub.ID] = true
	}
}

func TestUnsubscribe(t *testing.T) {
	ps := New()

	first := ps.Subscribe(TopicColorFrame, "", 10)
	second := ps.Subscribe(TopicColorFrame, "", 10)
	ps.Unsubscribe(first)

	if count := ps.SubscriberCount(TopicColorFrame); count != 1 {
		t.Errorf("Expected 1 subscriber after unsubscribe, got %d", count)
	}

	select {
	case _, ok := <-first.Channel:
		if ok {
			t.Error("Channel should be closed after unsubscribe")
		}
	default:
		t.Error("Channel should be closed and readable")
	}

	ps.PublishFrame("entry-1", zone.ColorFrame{})
	select {
	case <-second.Channel:
	case <-time.After(100 * time.Millisecond):
		t.Error("Remaining subscriber should still receive messages")
	}
}

func TestUnsubscribe_NonExistent(t *testing.T) {
	ps := New()
	fakeSub := &Subscriber{ID: "fake-id", Topic: TopicColorFrame, Channel: make(chan interface{}, 1)}

	// Should not panic
	ps.Unsubscribe(fakeSub)
}

func TestPublishFrame_FiltersByEntry(t *testing.T) {
	ps := New()

	mine := ps.Subscribe(TopicColorFrame, "entry-1", 10)
	other := ps.Subscribe(TopicColorFrame, "entry-2", 10)
	all := ps.Subscribe(TopicColorFrame, "", 10)

	frame := zone.ColorFrame{zone.Left: {R: 255}}
	ps.PublishFrame("entry-1", frame)

	for name, sub := range map[string]*Subscriber{"filtered": mine, "unfiltered": all} {
		select {
		case msg := <-sub.Channel:
			ev, ok := msg.(FrameEvent)
			if !ok {
				t.Fatalf("%s: expected FrameEvent, got %T", name, msg)
			}
			if ev.EntryID != "entry-1" {
				t.Errorf("%s: expected entry-1, got %s", name, ev.EntryID)
			}
			if ev.Frame[zone.Left] != (zone.RGB{R: 255}) {
				t.Errorf("%s: unexpected frame %v", name, ev.Frame)
			}
			if ev.At.IsZero() {
				t.Errorf("%s: expected timestamp", name)
			}
		case <-time.After(100 * time.Millisecond):
			t.Errorf("%s subscriber should have received the frame", name)
		}
	}

	select {
	case <-other.Channel:
		t.Error("Subscriber for another entry should not receive the frame")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishStatus(t *testing.T) {
	ps := New()
	sub := ps.Subscribe(TopicEntryStatus, "", 1)
	frames := ps.Subscribe(TopicColorFrame, "", 1)

	ps.PublishStatus(StatusEvent{EntryID: "entry-1", Connected: true, Active: true})

	select {
	case msg := <-sub.Channel:
		ev := msg.(StatusEvent)
		if !ev.Connected || !ev.Active {
			t.Errorf("Unexpected status %+v", ev)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("Timed out waiting for status")
	}

	select {
	case <-frames.Channel:
		t.Error("Status events must not reach frame subscribers")
	default:
	}
}

func TestPublish_FullChannelDoesNotBlock(t *testing.T) {
	ps := New()
	sub := ps.Subscribe(TopicColorFrame, "", 1)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			ps.PublishFrame("entry-1", zone.ColorFrame{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full subscriber")
	}
	if len(sub.Channel) != 1 {
		t.Errorf("Expected 1 buffered message, got %d", len(sub.Channel))
	}
}

func TestPublish_NoSubscribers(t *testing.T) {
	ps := New()
	// Should not panic
	ps.PublishFrame("entry-1", zone.ColorFrame{})
}

func TestConcurrentPublishAndUnsubscribe(t *testing.T) {
	ps := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(2)
		sub := ps.Subscribe(TopicColorFrame, "", 1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				ps.PublishFrame("entry-1", zone.ColorFrame{})
			}
		}()
		go func(s *Subscriber) {
			defer wg.Done()
			ps.Unsubscribe(s)
		}(sub)
	}

	wg.Wait()
	if count := ps.SubscriberCount(TopicColorFrame); count != 0 {
		t.Errorf("Expected 0 subscribers, got %d", count)
	}
}
