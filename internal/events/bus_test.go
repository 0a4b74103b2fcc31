package events

import (
	"testing"
	"time"

	"github.com/vaultmind/vaultmind/internal/common"
	"github.com/vaultmind/vaultmind/internal/models"
)

func newTestBus(opts ...Option) *Bus {
	return NewBus(common.NewSilentLogger(), opts...)
}

func recv(t *testing.T, sub *Subscriber) models.Event {
	t.Helper()
	select {
	case e, ok := <-sub.Events():
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return models.Event{}
}

func TestPublishRoutesByTopic(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	global := b.Subscribe()
	collSub := b.Subscribe(models.TopicCollection("notes"))
	jobSub := b.Subscribe(models.TopicJob("j1"))
	otherSub := b.Subscribe(models.TopicCollection("other"))

	b.Publish(models.Event{
		Type:       models.EventStatusChange,
		Collection: "notes",
		JobID:      "j1",
	})

	if e := recv(t, global); e.Type != models.EventStatusChange {
		t.Errorf("global got %s", e.Type)
	}
	if e := recv(t, collSub); e.Collection != "notes" {
		t.Errorf("collection sub got %+v", e)
	}
	if e := recv(t, jobSub); e.JobID != "j1" {
		t.Errorf("job sub got %+v", e)
	}

	select {
	case e := <-otherSub.Events():
		t.Errorf("unrelated subscriber received %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishPreservesOrderPerTopic(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	sub := b.Subscribe(models.TopicCollection("notes"))
	for i := 0; i < 10; i++ {
		b.Publish(models.Event{
			Type:       models.EventProgressUpdate,
			Collection: "notes",
			Data:       map[string]interface{}{"seq": i},
		})
	}

	for i := 0; i < 10; i++ {
		e := recv(t, sub)
		if got := e.Data["seq"].(int); got != i {
			t.Fatalf("event %d out of order: seq %d", i, got)
		}
	}
}

func TestSlowSubscriberIsDisconnected(t *testing.T) {
	b := newTestBus(WithBufferSize(2))
	defer b.Stop()

	sub := b.Subscribe(models.TopicCollection("notes"))
	for i := 0; i < 5; i++ {
		b.Publish(models.Event{Type: models.EventProgressUpdate, Collection: "notes"})
	}

	// drain: two buffered events, then closed channel
	seen := 0
	for range sub.Events() {
		seen++
	}
	if seen != 2 {
		t.Errorf("drained %d events, want 2", seen)
	}
	if sub.CloseReason() != CloseReasonOverflow {
		t.Errorf("close reason = %q", sub.CloseReason())
	}

	// the bus keeps working for everyone else
	if b.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d", b.SubscriberCount())
	}
}

func TestSendTargetsOneSubscriber(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	a := b.Subscribe()
	c := b.Subscribe()

	b.Send(a, models.Event{Type: models.EventCommandResult})

	if e := recv(t, a); e.Type != models.EventCommandResult {
		t.Errorf("target got %s", e.Type)
	}
	select {
	case e := <-c.Events():
		t.Errorf("other subscriber received %+v", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestAddRemoveTopic(t *testing.T) {
	b := newTestBus()
	defer b.Stop()

	sub := b.Subscribe(models.TopicCollection("a"))
	b.AddTopic(sub, models.TopicCollection("b"))

	b.Publish(models.Event{Type: models.EventStatusChange, Collection: "b"})
	if e := recv(t, sub); e.Collection != "b" {
		t.Errorf("got %+v after AddTopic", e)
	}

	b.RemoveTopic(sub, models.TopicCollection("b"))
	b.Publish(models.Event{Type: models.EventStatusChange, Collection: "b"})
	select {
	case e := <-sub.Events():
		t.Errorf("received %+v after RemoveTopic", e)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	b := newTestBus()
	sub := b.Subscribe()
	b.Stop()

	if _, ok := <-sub.Events(); ok {
		t.Error("channel should be closed after Stop")
	}
	if sub.CloseReason() != CloseReasonShutdown {
		t.Errorf("close reason = %q", sub.CloseReason())
	}
}

func TestHeartbeatReachesAllSubscribers(t *testing.T) {
	b := newTestBus(WithHeartbeatInterval(20 * time.Millisecond))
	defer b.Stop()
	b.Start()

	sub := b.Subscribe(models.TopicCollection("anything"))
	e := recv(t, sub)
	if e.Type != models.EventHeartbeat {
		t.Errorf("got %s, want heartbeat", e.Type)
	}
}
