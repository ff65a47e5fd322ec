// Package eventstream implements the per-session typed event stream (C8):
// a bounded ring buffer with replay, fan-out to subscribers, and a documented
// overflow drop policy. Grounded on graph/streaming.go's StreamingListener
// (event struct shape, non-blocking emitEvent, backpressure tracking),
// generalized from a single event channel to a multi-subscriber replay buffer
// since spec §4.8 requires late subscribers to receive a full backlog.
package eventstream

import (
	"context"
	"sync"
	"time"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/graph"
)

// Kind enumerates the Event.kind values of spec §3's Event data model.
type Kind string

const (
	KindStageStart     Kind = "stage_start"
	KindNodeUpdate     Kind = "node_update"
	KindNodeCompleted  Kind = "node_completed"
	KindNodeDegraded   Kind = "node_degraded"
	KindStageCompleted Kind = "stage_completed"
	KindResult         Kind = "result"
	KindError          Kind = "error"
	KindDropped        Kind = "dropped"
	KindTerminal       Kind = "terminal"
)

// Event is one record in a session's stream (spec §3).
type Event struct {
	SessionID  string         `json:"session_id"`
	SequenceNo int64          `json:"sequence_no"`
	Timestamp  time.Time      `json:"timestamp"`
	Kind       Kind           `json:"kind"`
	Stage      string         `json:"stage,omitempty"`
	Node       string         `json:"node,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// DefaultBufferSize bounds the ring buffer's retained non-terminal events
// (spec §4.8's "upper bound... on overflow, the oldest non-result/terminal
// events are dropped").
const DefaultBufferSize = 500

// Stream is one session's event stream: a single writer (the graph's
// callback handler), many readers (subscribers), a bounded replay buffer.
type Stream struct {
	mu          sync.Mutex
	sessionID   string
	bufferSize  int
	buffer      []Event
	nextSeq     int64
	subscribers map[int]chan Event
	nextSubID   int
	closed      bool
	droppedAny  bool
}

// New creates an empty Stream for sessionID with the given buffer size (0 uses
// DefaultBufferSize).
func New(sessionID string, bufferSize int) *Stream {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Stream{
		sessionID:   sessionID,
		bufferSize:  bufferSize,
		subscribers: make(map[int]chan Event),
	}
}

// Publish appends an event to the buffer and fans it out to every live
// subscriber. Non-blocking: a subscriber whose channel is full misses the
// event (it is still in the replay buffer for later reconnection via
// last_sequence_no). Events after terminal are ignored.
func (s *Stream) Publish(kind Kind, stage, node string, payload map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	s.nextSeq++
	ev := Event{
		SessionID:  s.sessionID,
		SequenceNo: s.nextSeq,
		Timestamp:  time.Now(),
		Kind:       kind,
		Stage:      stage,
		Node:       node,
		Payload:    payload,
	}

	s.appendLocked(ev)
	s.fanOutLocked(ev)

	if kind == KindTerminal {
		s.closed = true
		for _, ch := range s.subscribers {
			close(ch)
		}
		s.subscribers = make(map[int]chan Event)
	}
}

// appendLocked bounds the buffer: result/terminal events are never evicted;
// the oldest eligible event is dropped and a dropped marker is recorded once
// per overflow episode.
func (s *Stream) appendLocked(ev Event) {
	s.buffer = append(s.buffer, ev)
	if len(s.buffer) <= s.bufferSize {
		return
	}

	for i, candidate := range s.buffer {
		if candidate.Kind == KindResult || candidate.Kind == KindTerminal || candidate.Kind == KindDropped {
			continue
		}
		s.buffer = append(s.buffer[:i], s.buffer[i+1:]...)
		if !s.droppedAny {
			s.droppedAny = true
			s.buffer = append(s.buffer, Event{
				SessionID:  s.sessionID,
				SequenceNo: s.nextSeq,
				Timestamp:  time.Now(),
				Kind:       KindDropped,
				Payload:    map[string]any{"note": "buffer overflow, oldest events dropped"},
			})
		}
		return
	}
}

func (s *Stream) fanOutLocked(ev Event) {
	for _, ch := range s.subscribers {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close is idempotent; it publishes a synthetic terminal event if one has not
// already been sent (spec §4.8).
func (s *Stream) Close() {
	s.mu.Lock()
	alreadyClosed := s.closed
	s.mu.Unlock()
	if !alreadyClosed {
		s.Publish(KindTerminal, "", "", nil)
	}
}

// Subscribe returns a channel of events from lastSequenceNo onward: first a
// replay of buffered events, then live events as they arrive (§6's
// reconnection-by-sequence contract). The channel is closed once terminal has
// been delivered or ctx is done.
func (s *Stream) Subscribe(ctx context.Context, lastSequenceNo int64) <-chan Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(chan Event, s.bufferSize)

	var replay []Event
	for _, ev := range s.buffer {
		if ev.SequenceNo > lastSequenceNo {
			replay = append(replay, ev)
		}
	}

	if s.closed {
		go func() {
			defer close(out)
			for _, ev := range replay {
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}()
		return out
	}

	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = out

	go func() {
		defer func() {
			s.mu.Lock()
			if _, ok := s.subscribers[id]; ok {
				delete(s.subscribers, id)
				close(out)
			}
			s.mu.Unlock()
		}()
		for _, ev := range replay {
			select {
			case out <- ev:
			case <-ctx.Done():
				return
			}
		}
		<-ctx.Done()
	}()

	return out
}

// Listener adapts a Stream into a graph.CallbackHandler + graph.GraphCallbackHandler
// so it can be installed as a graph.Config.Callbacks entry for one session's
// invocation, translating generic chain/graph-step events into typed Events.
type Listener struct {
	Stream *Stream
	Stage  string
}

var _ graph.CallbackHandler = (*Listener)(nil)
var _ graph.GraphCallbackHandler = (*Listener)(nil)

func (l *Listener) OnChainStart(_ context.Context, _ map[string]any, _ map[string]any, _ string, _ *string, _ []string, _ map[string]any) {
	l.Stream.Publish(KindStageStart, l.Stage, "", nil)
}

func (l *Listener) OnChainEnd(_ context.Context, _ map[string]any, _ string) {
	l.Stream.Publish(KindStageCompleted, l.Stage, "", nil)
}

func (l *Listener) OnChainError(_ context.Context, err error, _ string) {
	l.Stream.Publish(KindError, l.Stage, "", map[string]any{"error": err.Error()})
}

func (l *Listener) OnLLMStart(context.Context, map[string]any, []string, string, *string, []string, map[string]any) {
}
func (l *Listener) OnLLMEnd(context.Context, any, string)   {}
func (l *Listener) OnLLMError(context.Context, error, string) {}

func (l *Listener) OnToolStart(_ context.Context, serialized map[string]any, _ string, _ string, _ *string, _ []string, _ map[string]any) {
	name, _ := serialized["name"].(string)
	l.Stream.Publish(KindNodeUpdate, l.Stage, name, nil)
}

func (l *Listener) OnToolEnd(_ context.Context, _ string, _ string) {}
func (l *Listener) OnToolError(_ context.Context, err error, _ string) {
	l.Stream.Publish(KindError, l.Stage, "", map[string]any{"error": err.Error()})
}

func (l *Listener) OnRetrieverStart(context.Context, map[string]any, string, string, *string, []string, map[string]any) {
}
func (l *Listener) OnRetrieverEnd(context.Context, []any, string)   {}
func (l *Listener) OnRetrieverError(context.Context, error, string) {}

// OnGraphStep reports one node-batch completion, inspecting the typed state
// for freshly degraded analysts so subscribers see node_degraded events.
func (l *Listener) OnGraphStep(_ context.Context, stepNode string, state any) {
	st, ok := state.(*analysis.State)
	if !ok {
		l.Stream.Publish(KindNodeCompleted, l.Stage, stepNode, nil)
		return
	}
	if _, degraded := st.AnalystErrors[analysis.AnalystKind(stepNode)]; degraded {
		l.Stream.Publish(KindNodeDegraded, l.Stage, stepNode, map[string]any{"error": st.AnalystErrors[analysis.AnalystKind(stepNode)]})
		return
	}
	l.Stream.Publish(KindNodeCompleted, l.Stage, stepNode, nil)
}
