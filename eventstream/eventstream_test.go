package eventstream

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func drain(t *testing.T, ch <-chan Event, n int) []Event {
	t.Helper()
	var out []Event
	for i := 0; i < n; i++ {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-time.After(200 * time.Millisecond):
			return out
		}
	}
	return out
}

func TestStream_PublishAssignsSequence(t *testing.T) {
	s := New("sess-1", 10)
	s.Publish(KindStageStart, "analysis", "", nil)
	s.Publish(KindNodeCompleted, "analysis", "market", nil)

	ctx := context.Background()
	events := drain(t, s.Subscribe(ctx, 0), 2)
	assert.Len(t, events, 2)
	assert.Equal(t, int64(1), events[0].SequenceNo)
	assert.Equal(t, int64(2), events[1].SequenceNo)
}

func TestStream_Subscribe_ReplaysFromLastSequence(t *testing.T) {
	s := New("sess-1", 10)
	s.Publish(KindStageStart, "analysis", "", nil)
	s.Publish(KindNodeCompleted, "analysis", "market", nil)
	s.Publish(KindNodeCompleted, "analysis", "news", nil)

	events := drain(t, s.Subscribe(context.Background(), 1), 2)
	assert.Len(t, events, 2)
	assert.Equal(t, "market", events[0].Node)
	assert.Equal(t, "news", events[1].Node)
}

func TestStream_Close_EmitsTerminalOnce(t *testing.T) {
	s := New("sess-1", 10)
	s.Publish(KindStageStart, "analysis", "", nil)
	s.Close()
	s.Close() // idempotent

	events := drain(t, s.Subscribe(context.Background(), 0), 10)
	terminals := 0
	for _, ev := range events {
		if ev.Kind == KindTerminal {
			terminals++
		}
	}
	assert.Equal(t, 1, terminals)
}

func TestStream_Publish_IgnoredAfterClose(t *testing.T) {
	s := New("sess-1", 10)
	s.Close()
	s.Publish(KindError, "analysis", "", nil)

	events := drain(t, s.Subscribe(context.Background(), 0), 10)
	for _, ev := range events {
		assert.NotEqual(t, KindError, ev.Kind)
	}
}

func TestStream_Overflow_NeverEvictsResultOrTerminal(t *testing.T) {
	s := New("sess-1", 3)
	s.Publish(KindResult, "session", "", nil)
	for i := 0; i < 5; i++ {
		s.Publish(KindNodeCompleted, "analysis", "x", nil)
	}

	events := drain(t, s.Subscribe(context.Background(), 0), 20)
	foundResult := false
	for _, ev := range events {
		if ev.Kind == KindResult {
			foundResult = true
		}
	}
	assert.True(t, foundResult, "result event must never be evicted on overflow")
}

func TestStream_Overflow_InsertsOneDroppedMarker(t *testing.T) {
	s := New("sess-1", 2)
	for i := 0; i < 10; i++ {
		s.Publish(KindNodeCompleted, "analysis", "x", nil)
	}

	events := drain(t, s.Subscribe(context.Background(), 0), 20)
	dropped := 0
	for _, ev := range events {
		if ev.Kind == KindDropped {
			dropped++
		}
	}
	assert.Equal(t, 1, dropped, "only one dropped marker per overflow episode")
}

func TestStream_Subscribe_ContextCancel_StopsDelivery(t *testing.T) {
	s := New("sess-1", 10)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx, 0)
	cancel()
	s.Publish(KindStageStart, "analysis", "", nil)

	select {
	case ev, ok := <-ch:
		if ok {
			assert.Equal(t, KindStageStart, ev.Kind, "a race may still deliver the event before unsubscribe completes")
		}
	case <-time.After(100 * time.Millisecond):
		// no further delivery after cancellation; this is the expected steady state
	}
}
