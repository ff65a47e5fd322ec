// Package session implements the Session Runner (C7): accepts a start
// request, instantiates the main graph, drives execution while streaming
// progress, enforces at-most-one concurrent run per fingerprint, and
// persists the result. Grounded on the teacher's composition-root pattern
// (explicitly constructed collaborators, no module-level singletons) and
// store.CheckpointStore for persistence.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/eventstream"
	"github.com/LingXuanTech/tradeorch/graph"
	"github.com/LingXuanTech/tradeorch/log"
	"github.com/LingXuanTech/tradeorch/orcherr"
	"github.com/LingXuanTech/tradeorch/orchestrator"
	"github.com/LingXuanTech/tradeorch/store"
	"github.com/LingXuanTech/tradeorch/synthesize"
)

// Status is a Session Descriptor's lifecycle state (spec §3).
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCanceled  Status = "canceled"
)

// Request is the client-provided start request (spec §6).
type Request struct {
	Symbol           string
	TradeDate        string
	Market           analysis.Market
	SelectedAnalysts []analysis.AnalystKind
	ExcludeAnalysts  []analysis.AnalystKind
	AnalysisLevel    orchestrator.Profile // default L2
	UsePlanner       *bool                // default true
	MaxDebateRounds  int
	MaxRiskRounds    int
}

func (r Request) level() orchestrator.Profile {
	if r.AnalysisLevel == "" {
		return orchestrator.ProfileL2
	}
	return r.AnalysisLevel
}

func (r Request) usePlanner() bool {
	if r.UsePlanner == nil {
		return true
	}
	return *r.UsePlanner
}

// Fingerprint is a stable hash of the subset of request fields that
// determine run identity for deduplication (spec §3).
func (r Request) Fingerprint() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%v|%v|%s", r.Symbol, r.TradeDate, r.Market, r.SelectedAnalysts, r.ExcludeAnalysts, r.level())
	return hex.EncodeToString(h.Sum(nil))
}

// Descriptor is the Session Descriptor (spec §3).
type Descriptor struct {
	SessionID         string
	Symbol            string
	TradeDate         string
	Market            analysis.Market
	SelectedAnalysts  []analysis.AnalystKind
	Status            Status
	CreatedAt         time.Time
	ElapsedSeconds    float64
	TaskFingerprint   string
	Verdict           *synthesize.Verdict
	ErrorKind         orcherr.Kind
	ErrorMessage      string
}

// HistoricalReflectionSource seeds historical_reflection from a memory store
// if available (spec §3). Implementations may wrap memory/graph_based.go.
type HistoricalReflectionSource interface {
	Reflect(ctx context.Context, symbol, tradeDate string) (string, bool)
}

// ReflectionRecorder is an optional capability of a HistoricalReflectionSource:
// implementations that accumulate history (e.g. memory.GraphBasedReflectionMemory)
// learn from each completed run through it.
type ReflectionRecorder interface {
	RecordOutcome(ctx context.Context, symbol, tradeDate, signal, reasoning string) error
}

// Deps collects the Session Runner's collaborators.
type Deps struct {
	BuildGraph  func(analysis.Market, orchestrator.Profile, []analysis.AnalystKind, bool) (orchestrator.Options, error)
	Checkpoints store.CheckpointStore
	Synthesizer *synthesize.Synthesizer
	Predictions synthesize.PredictorLog
	History     HistoricalReflectionSource
	Logger      log.Logger
	BufferSize  int
}

// Runner is the Session Runner (C7).
type Runner struct {
	deps Deps

	mu          sync.Mutex
	fingerprint map[string]string // fingerprint -> session_id, while running
	sessions    map[string]*runningSession
}

type runningSession struct {
	descriptor Descriptor
	stream     *eventstream.Stream
	cancel     context.CancelFunc
}

// New constructs a Runner.
func New(deps Deps) *Runner {
	if deps.Logger == nil {
		deps.Logger = &log.NoOpLogger{}
	}
	return &Runner{
		deps:        deps,
		fingerprint: make(map[string]string),
		sessions:    make(map[string]*runningSession),
	}
}

func init() {
	// Registering Descriptor lets store.TypeRegistry round-trip persisted
	// checkpoints back into a typed value (CreateInstance/UnmarshalJSON)
	// instead of a bare map[string]any, the same contract graph checkpoint
	// resume relies on for its own state type.
	if err := store.RegisterTypeWithValue(Descriptor{}, "session.Descriptor"); err != nil {
		panic(fmt.Sprintf("session: register Descriptor type: %v", err))
	}
}

// Start assigns a session_id, persists a running descriptor, creates an
// event stream, and schedules graph execution in the background. Returns
// immediately per spec §4.7. A request whose fingerprint is already running
// returns the existing session_id instead (spec invariant I5).
func (r *Runner) Start(ctx context.Context, req Request) (string, *eventstream.Stream, error) {
	fingerprint := req.Fingerprint()

	r.mu.Lock()
	if existingID, ok := r.fingerprint[fingerprint]; ok {
		existing := r.sessions[existingID]
		r.mu.Unlock()
		return existingID, existing.stream, nil
	}

	sessionID := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())
	stream := eventstream.New(sessionID, r.deps.BufferSize)

	rs := &runningSession{
		descriptor: Descriptor{
			SessionID:       sessionID,
			Symbol:          req.Symbol,
			TradeDate:       req.TradeDate,
			Market:          req.Market,
			Status:          StatusRunning,
			CreatedAt:       time.Now(),
			TaskFingerprint: fingerprint,
		},
		stream: stream,
		cancel: cancel,
	}
	r.sessions[sessionID] = rs
	r.fingerprint[fingerprint] = sessionID
	r.mu.Unlock()

	r.persist(ctx, rs.descriptor)

	go r.run(runCtx, sessionID, req, rs)

	return sessionID, stream, nil
}

// Cancel transitions the descriptor to canceled and cancels the underlying
// execution unit (spec §4.7).
func (r *Runner) Cancel(ctx context.Context, sessionID string) (bool, error) {
	r.mu.Lock()
	rs, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	rs.cancel()

	r.mu.Lock()
	rs.descriptor.Status = StatusCanceled
	descriptor := rs.descriptor
	r.mu.Unlock()

	r.persist(ctx, descriptor)
	rs.stream.Close()
	return true, nil
}

// Get returns the current Descriptor for a session.
func (r *Runner) Get(sessionID string) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.sessions[sessionID]
	if !ok {
		return Descriptor{}, false
	}
	return rs.descriptor, true
}

// Stream returns the event stream for a session, for transports that expose
// it directly to clients (spec §6's event-stream endpoint).
func (r *Runner) Stream(sessionID string) (*eventstream.Stream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return rs.stream, true
}

func (r *Runner) run(ctx context.Context, sessionID string, req Request, rs *runningSession) {
	start := time.Now()

	defer func() {
		r.mu.Lock()
		delete(r.fingerprint, rs.descriptor.TaskFingerprint)
		r.mu.Unlock()
		rs.stream.Close()
	}()

	state := analysis.New(req.Symbol, req.TradeDate, req.Market)
	if r.deps.History != nil {
		if reflection, ok := r.deps.History.Reflect(ctx, req.Symbol, req.TradeDate); ok {
			merged, err := analysis.Merge(state, &analysis.Patch{SetHistoricalReflection: &reflection})
			if err == nil {
				state = merged
			}
		}
	}

	kinds := req.SelectedAnalysts
	if len(kinds) > 0 && len(req.ExcludeAnalysts) > 0 {
		kinds = excludeKinds(kinds, req.ExcludeAnalysts)
	}

	opts, err := r.deps.BuildGraph(req.Market, req.level(), kinds, req.usePlanner())
	if err != nil {
		r.fail(ctx, rs, orcherr.KindInvalidState, err)
		return
	}
	if req.MaxDebateRounds > 0 {
		opts.DebateDeps.MaxRounds = req.MaxDebateRounds
	}
	if req.MaxRiskRounds > 0 {
		opts.RiskDeps.MaxRounds = req.MaxRiskRounds
	}

	runnable, err := orchestrator.BuildGraph(opts)
	if err != nil {
		r.fail(ctx, rs, orcherr.KindInvalidState, err)
		return
	}

	listener := &eventstream.Listener{Stream: rs.stream, Stage: "analysis"}
	rs.stream.Publish(eventstream.KindStageStart, "session", "", map[string]any{"symbol": req.Symbol})

	finalState, err := runnable.InvokeWithConfig(ctx, state, &graph.Config{Callbacks: []graph.CallbackHandler{listener}})
	if err != nil {
		if ctx.Err() != nil {
			r.deps.Logger.Info("session %s canceled", sessionID)
			return // Cancel already transitioned status and closed the stream.
		}
		r.fail(ctx, rs, orcherr.KindInvalidState, err)
		return
	}

	var verdict *synthesize.Verdict
	if r.deps.Synthesizer != nil {
		verdict, err = r.deps.Synthesizer.Synthesize(ctx, finalState)
		if err != nil {
			r.fail(ctx, rs, orcherr.KindSynthesizerParseError, err)
			return
		}
	}

	r.mu.Lock()
	rs.descriptor.Status = StatusCompleted
	rs.descriptor.ElapsedSeconds = time.Since(start).Seconds()
	rs.descriptor.Verdict = verdict
	rs.descriptor.SelectedAnalysts = finalState.RecommendedAnalysts
	descriptor := rs.descriptor
	r.mu.Unlock()

	r.persist(ctx, descriptor)

	if verdict != nil {
		if recorder, ok := r.deps.History.(ReflectionRecorder); ok {
			if err := recorder.RecordOutcome(ctx, req.Symbol, req.TradeDate, string(verdict.Signal), verdict.Reasoning); err != nil {
				r.deps.Logger.Warn("session %s: record reflection: %v", sessionID, err)
			}
		}
	}

	if verdict != nil && r.deps.Predictions != nil {
		record := verdict.ToPredictionRecord(sessionID, finalState, string(opts.AnalystDeps.Role), time.Now())
		if err := r.deps.Predictions.Record(ctx, record); err != nil {
			r.deps.Logger.Warn("session %s: record prediction: %v", sessionID, err)
		}
	}

	payload := map[string]any{"status": string(StatusCompleted)}
	rs.stream.Publish(eventstream.KindResult, "session", "", payload)
	rs.stream.Publish(eventstream.KindTerminal, "session", "", nil)
}

func (r *Runner) fail(ctx context.Context, rs *runningSession, kind orcherr.Kind, err error) {
	r.mu.Lock()
	rs.descriptor.Status = StatusFailed
	rs.descriptor.ErrorKind = kind
	rs.descriptor.ErrorMessage = err.Error()
	descriptor := rs.descriptor
	r.mu.Unlock()

	r.persist(ctx, descriptor)
	rs.stream.Publish(eventstream.KindError, "session", "", map[string]any{"error": err.Error()})
	rs.stream.Publish(eventstream.KindTerminal, "session", "", nil)
}

func (r *Runner) persist(ctx context.Context, d Descriptor) {
	if r.deps.Checkpoints == nil {
		return
	}
	blob, err := store.GlobalTypeRegistry().MarshalJSON(d)
	if err != nil {
		r.deps.Logger.Warn("session %s: marshal descriptor: %v", d.SessionID, err)
		return
	}
	state, err := store.GlobalTypeRegistry().UnmarshalJSON(blob)
	if err != nil {
		r.deps.Logger.Warn("session %s: unmarshal descriptor for storage: %v", d.SessionID, err)
		return
	}

	err = r.deps.Checkpoints.Save(ctx, &store.Checkpoint{
		ID:       d.SessionID,
		NodeName: "session_descriptor",
		State:    state,
		Metadata: map[string]any{"session_id": d.SessionID, "symbol": d.Symbol, "status": string(d.Status)},
		Timestamp: time.Now(),
	})
	if err != nil {
		r.deps.Logger.Warn("session %s: persist descriptor: %v", d.SessionID, err)
	}
}

func excludeKinds(selected, excluded []analysis.AnalystKind) []analysis.AnalystKind {
	excludedSet := make(map[analysis.AnalystKind]bool, len(excluded))
	for _, k := range excluded {
		excludedSet[k] = true
	}
	var out []analysis.AnalystKind
	for _, k := range selected {
		if !excludedSet[k] {
			out = append(out, k)
		}
	}
	return out
}
