// Command tradeserver exposes the Session Runner over HTTP: start a session,
// stream its events as newline-delimited JSON, fetch its result, cancel it.
// Grounded on the teacher's composition-root main package shape (explicit
// wiring, no DI framework) and graph/streaming.go's event-record field names.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/LingXuanTech/tradeorch/agents"
	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/chatmodel"
	"github.com/LingXuanTech/tradeorch/config"
	"github.com/LingXuanTech/tradeorch/eventstream"
	"github.com/LingXuanTech/tradeorch/memory"
	"github.com/LingXuanTech/tradeorch/orchestrator"
	"github.com/LingXuanTech/tradeorch/resilient"
	"github.com/LingXuanTech/tradeorch/session"
	"github.com/LingXuanTech/tradeorch/store"
	"github.com/LingXuanTech/tradeorch/store/file"
	checkpointmem "github.com/LingXuanTech/tradeorch/store/memory"
	"github.com/LingXuanTech/tradeorch/store/postgres"
	"github.com/LingXuanTech/tradeorch/store/redis"
	"github.com/LingXuanTech/tradeorch/store/sqlite"
	"github.com/LingXuanTech/tradeorch/synthesize"
	"github.com/LingXuanTech/tradeorch/tool"
	"nhooyr.io/websocket"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	configPath := flag.String("config", "", "path to YAML provider config")
	storeKind := flag.String("store", "memory", "session descriptor backend: memory, file, sqlite, redis, postgres")
	storeDSN := flag.String("store-dsn", "", "connection string/path for the chosen -store (ignored for memory)")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	checkpoints, err := buildCheckpointStore(context.Background(), *storeKind, *storeDSN)
	if err != nil {
		logger.Error("build checkpoint store", "store", *storeKind, "err", err)
		os.Exit(1)
	}

	registry := chatmodel.New(nil, chatmodel.NewChannelAggregator(256))
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			logger.Error("load config", "err", err)
			os.Exit(1)
		}
		var secrets chatmodel.SecretBox
		if key := os.Getenv(config.EncryptionKeyEnv); key != "" {
			if decoded, err := chatmodel.DecodeKey(key); err == nil {
				secrets, _ = chatmodel.NewAESGCMSecretBox(decoded)
			}
		} else {
			logger.Warn("no encryption key set; refusing to persist new provider secrets", "env", config.EncryptionKeyEnv)
		}
		if err := cfg.ApplyTo(registry, secrets); err != nil {
			logger.Error("apply config", "err", err)
			os.Exit(1)
		}
	}

	srv := &server{
		logger: logger,
		runner: session.New(session.Deps{
			BuildGraph:  buildGraphOptions(registry),
			Checkpoints: checkpoints,
			Synthesizer: &synthesize.Synthesizer{Registry: registry, Role: chatmodel.RoleSynthesis},
			History:     memory.NewGraphBasedReflectionMemory(5),
			Logger:      nil,
		}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /sessions", srv.handleStart)
	mux.HandleFunc("GET /sessions/{id}/events", srv.handleEvents)
	mux.HandleFunc("GET /sessions/{id}/events/ws", srv.handleEventsWS)
	mux.HandleFunc("GET /sessions/{id}", srv.handleResult)
	mux.HandleFunc("POST /sessions/{id}/cancel", srv.handleCancel)

	logger.Info("tradeserver listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("serve", "err", err)
		os.Exit(1)
	}
}

// buildCheckpointStore selects the session-descriptor persistence backend
// (spec §6's persisted-state contracts): memory for tests/dev, file/sqlite
// for single-process durability, redis/postgres for shared deployments.
func buildCheckpointStore(ctx context.Context, kind, dsn string) (store.CheckpointStore, error) {
	switch kind {
	case "", "memory":
		return checkpointmem.NewMemoryCheckpointStore(), nil
	case "file":
		if dsn == "" {
			return nil, fmt.Errorf("-store-dsn is required for -store=file (a directory path)")
		}
		return file.NewFileCheckpointStore(dsn)
	case "sqlite":
		if dsn == "" {
			return nil, fmt.Errorf("-store-dsn is required for -store=sqlite (a database path)")
		}
		return sqlite.NewSqliteCheckpointStore(sqlite.SqliteOptions{Path: dsn})
	case "redis":
		if dsn == "" {
			return nil, fmt.Errorf("-store-dsn is required for -store=redis (host:port)")
		}
		return redis.NewRedisCheckpointStore(redis.RedisOptions{Addr: dsn, Prefix: "tradeorch:"}), nil
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("-store-dsn is required for -store=postgres (a connection string)")
		}
		pg, err := postgres.NewPostgresCheckpointStore(ctx, postgres.PostgresOptions{ConnString: dsn})
		if err != nil {
			return nil, err
		}
		if err := pg.InitSchema(ctx); err != nil {
			return nil, fmt.Errorf("init postgres schema: %w", err)
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown -store %q", kind)
	}
}

type server struct {
	logger *slog.Logger
	runner *session.Runner
}

// startRequest mirrors spec §6's start-session body.
type startRequest struct {
	Symbol           string   `json:"symbol"`
	TradeDate        string   `json:"trade_date"`
	Market           string   `json:"market"`
	SelectedAnalysts []string `json:"selected_analysts"`
	ExcludeAnalysts  []string `json:"exclude_analysts"`
	AnalysisLevel    string   `json:"analysis_level"`
	UsePlanner       *bool    `json:"use_planner"`
	MaxDebateRounds  int      `json:"max_debate_rounds"`
	MaxRiskRounds    int      `json:"max_risk_rounds"`
}

type startResponse struct {
	SessionID      string   `json:"session_id"`
	StreamEndpoint string   `json:"stream_endpoint"`
	Symbol         string   `json:"symbol"`
	Status         string   `json:"status"`
	Analysts       []string `json:"analysts"`
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body startRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "decode request: "+err.Error())
		return
	}
	if body.Symbol == "" || body.TradeDate == "" {
		writeError(w, http.StatusBadRequest, "symbol and trade_date are required")
		return
	}

	market := analysis.Market(body.Market)
	if market == "" {
		market = analysis.MarketUS
	}

	req := session.Request{
		Symbol:           body.Symbol,
		TradeDate:        body.TradeDate,
		Market:           market,
		SelectedAnalysts: toAnalystKinds(body.SelectedAnalysts),
		ExcludeAnalysts:  toAnalystKinds(body.ExcludeAnalysts),
		AnalysisLevel:    orchestrator.Profile(body.AnalysisLevel),
		UsePlanner:       body.UsePlanner,
		MaxDebateRounds:  body.MaxDebateRounds,
		MaxRiskRounds:    body.MaxRiskRounds,
	}

	sessionID, _, err := s.runner.Start(r.Context(), req)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	descriptor, _ := s.runner.Get(sessionID)
	resp := startResponse{
		SessionID:      sessionID,
		StreamEndpoint: fmt.Sprintf("/sessions/%s/events", sessionID),
		Symbol:         body.Symbol,
		Status:         "accepted",
		Analysts:       fromAnalystKinds(descriptor.SelectedAnalysts),
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// eventRecord is spec §6's newline-delimited stream record shape, distinct
// from eventstream.Event's internal field names.
type eventRecord struct {
	Type       string         `json:"type"`
	Stage      string         `json:"stage,omitempty"`
	Node       string         `json:"node,omitempty"`
	Status     string         `json:"status,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
	SequenceNo int64          `json:"sequence_no"`
}

func (s *server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	stream, ok := s.runner.Stream(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session_id")
		return
	}

	var lastSeq int64
	if v := r.URL.Query().Get("last_sequence_no"); v != "" {
		lastSeq, _ = strconv.ParseInt(v, 10, 64)
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, canFlush := w.(http.Flusher)

	for ev := range stream.Subscribe(r.Context(), lastSeq) {
		record := eventRecord{
			Type:       string(ev.Kind),
			Stage:      ev.Stage,
			Node:       ev.Node,
			Status:     statusFor(ev.Kind),
			Payload:    ev.Payload,
			SequenceNo: ev.SequenceNo,
		}
		line, err := json.Marshal(record)
		if err != nil {
			continue
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}
}

// handleEventsWS mirrors handleEvents but speaks WebSocket text frames
// instead of chunked ndjson, for admin/dashboard subscribers that want a
// persistent duplex connection rather than a one-shot HTTP stream.
func (s *server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	stream, ok := s.runner.Stream(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session_id")
		return
	}

	var lastSeq int64
	if v := r.URL.Query().Get("last_sequence_no"); v != "" {
		lastSeq, _ = strconv.ParseInt(v, 10, 64)
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket accept", "session_id", sessionID, "err", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	for ev := range stream.Subscribe(ctx, lastSeq) {
		record := eventRecord{
			Type:       string(ev.Kind),
			Stage:      ev.Stage,
			Node:       ev.Node,
			Status:     statusFor(ev.Kind),
			Payload:    ev.Payload,
			SequenceNo: ev.SequenceNo,
		}
		line, err := json.Marshal(record)
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, line); err != nil {
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "stream complete")
}

func statusFor(kind eventstream.Kind) string {
	switch kind {
	case eventstream.KindStageStart, eventstream.KindNodeUpdate:
		return "started"
	case eventstream.KindNodeCompleted, eventstream.KindStageCompleted, eventstream.KindResult:
		return "completed"
	case eventstream.KindNodeDegraded:
		return "degraded"
	default:
		return ""
	}
}

type resultResponse struct {
	SessionID       string              `json:"session_id"`
	Status          string              `json:"status"`
	Verdict         *synthesize.Verdict `json:"verdict,omitempty"`
	ElapsedSeconds  float64             `json:"elapsed_seconds"`
	AnalystsUsed    []string            `json:"analysts_used"`
	TaskFingerprint string              `json:"task_fingerprint"`
	ErrorKind       string              `json:"error_kind,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
}

func (s *server) handleResult(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	descriptor, ok := s.runner.Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session_id")
		return
	}

	resp := resultResponse{
		SessionID:       descriptor.SessionID,
		Status:          string(descriptor.Status),
		Verdict:         descriptor.Verdict,
		ElapsedSeconds:  descriptor.ElapsedSeconds,
		AnalystsUsed:    fromAnalystKinds(descriptor.SelectedAnalysts),
		TaskFingerprint: descriptor.TaskFingerprint,
		ErrorKind:       string(descriptor.ErrorKind),
		ErrorMessage:    descriptor.ErrorMessage,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	canceled, err := s.runner.Cancel(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func toAnalystKinds(in []string) []analysis.AnalystKind {
	if len(in) == 0 {
		return nil
	}
	out := make([]analysis.AnalystKind, len(in))
	for i, s := range in {
		out[i] = analysis.AnalystKind(strings.ToLower(s))
	}
	return out
}

func fromAnalystKinds(in []analysis.AnalystKind) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, len(in))
	for i, k := range in {
		out[i] = string(k)
	}
	return out
}

func buildGraphOptions(registry *chatmodel.Registry) func(analysis.Market, orchestrator.Profile, []analysis.AnalystKind, bool) (orchestrator.Options, error) {
	return func(market analysis.Market, profile orchestrator.Profile, kinds []analysis.AnalystKind, usePlanner bool) (orchestrator.Options, error) {
		tools := map[analysis.AnalystKind]agents.MarketDataProvider{
			analysis.AnalystSentiment: tool.NewHeadlineScraper(),
		}
		if brave, err := tool.NewBraveSearch(""); err == nil {
			tools[analysis.AnalystNews] = brave
		}

		return orchestrator.Options{
			Profile:          profile,
			Market:           market,
			SelectedAnalysts: kinds,
			UsePlanner:       usePlanner,
			PlannerRole:      chatmodel.RoleQuickThink,
			AnalystDeps: agents.AnalystDeps{
				Registry: registry,
				Role:     chatmodel.RoleQuickThink,
				Tools:    tools,
			},
			DebateDeps: agents.DebateDeps{
				Registry:    registry,
				BullRole:    chatmodel.RoleDeepThink,
				BearRole:    chatmodel.RoleDeepThink,
				ManagerRole: chatmodel.RoleDeepThink,
			},
			RiskDeps: agents.RiskDeps{
				Registry:    registry,
				RiskyRole:   chatmodel.RoleDeepThink,
				SafeRole:    chatmodel.RoleDeepThink,
				NeutralRole: chatmodel.RoleDeepThink,
				JudgeRole:   chatmodel.RoleDeepThink,
				Config:      resilient.DefaultConfig(analysis.AnalystMarket),
			},
		}, nil
	}
}
