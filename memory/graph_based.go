// Package memory implements the Historical Reflection seam (spec §3's
// historical_reflection field): a small store of past verdicts per symbol,
// linked by shared signal/keyword so a new run can be seeded with what was
// concluded about related situations before. Grounded on the teacher's
// graph-based conversation memory (topic-indexed nodes, BFS retrieval),
// retargeted from chat messages to trade verdicts.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Record is one past synthesis outcome for a symbol, the unit the
// reflection graph links and retrieves.
type Record struct {
	Symbol    string
	TradeDate string
	Signal    string // e.g. "Buy", "Hold", "Strong Sell"
	Reasoning string
	Timestamp time.Time
}

type reflectionNode struct {
	record      Record
	connections []string // record keys (symbol|trade_date) linked by shared topic
}

// tradingTopics are the keywords defaultTopicExtractor looks for in a
// record's reasoning text; they double as the graph's relation index.
var tradingTopics = []string{
	"bullish", "bearish", "overbought", "oversold", "momentum", "volatility",
	"breakout", "reversal", "support", "resistance", "earnings", "guidance",
	"valuation", "liquidity", "risk",
}

// GraphBasedReflectionMemory organizes past verdicts as a topic graph: two
// records sharing a topic (an extracted keyword, or failing that the
// signal itself) are connected, and Reflect does a breadth-first walk from
// the symbol's own history outward until topK prior records are gathered.
type GraphBasedReflectionMemory struct {
	mu        sync.RWMutex
	nodes     map[string]*reflectionNode // record key -> node
	bySymbol  map[string][]string        // symbol -> record keys, newest last
	relations map[string][]string        // topic -> record keys
	topK      int

	// TopicExtractor identifies the topics a record's reasoning touches on;
	// defaults to defaultTopicExtractor.
	TopicExtractor func(r Record) []string
}

// NewGraphBasedReflectionMemory creates an empty reflection graph. topK
// bounds how many past records Reflect folds into one summary.
func NewGraphBasedReflectionMemory(topK int) *GraphBasedReflectionMemory {
	if topK <= 0 {
		topK = 5
	}
	return &GraphBasedReflectionMemory{
		nodes:          make(map[string]*reflectionNode),
		bySymbol:       make(map[string][]string),
		relations:      make(map[string][]string),
		topK:           topK,
		TopicExtractor: defaultTopicExtractor,
	}
}

func recordKey(symbol, tradeDate string) string {
	return symbol + "|" + tradeDate
}

// Add records one past verdict and links it into the topic graph.
func (g *GraphBasedReflectionMemory) Add(_ context.Context, r Record) error {
	if r.Symbol == "" || r.TradeDate == "" {
		return fmt.Errorf("memory: record requires symbol and trade_date")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	key := recordKey(r.Symbol, r.TradeDate)
	node := &reflectionNode{record: r}
	g.nodes[key] = node
	g.bySymbol[r.Symbol] = append(g.bySymbol[r.Symbol], key)

	topics := g.TopicExtractor(r)
	for _, topic := range topics {
		for _, relatedKey := range g.relations[topic] {
			node.connections = append(node.connections, relatedKey)
			if related, ok := g.nodes[relatedKey]; ok {
				related.connections = append(related.connections, key)
			}
		}
		g.relations[topic] = append(g.relations[topic], key)
	}

	return nil
}

// Reflect implements session.HistoricalReflectionSource: it seeds a BFS from
// the symbol's own prior runs (most recent first) and walks topic-linked
// neighbors until topK records are collected, then renders them as one
// reflection paragraph. Returns false if nothing is known about the symbol.
func (g *GraphBasedReflectionMemory) Reflect(_ context.Context, symbol, tradeDate string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seeds := g.bySymbol[symbol]
	if len(seeds) == 0 {
		return "", false
	}

	visited := make(map[string]bool)
	queue := make([]string, len(seeds))
	for i := len(seeds) - 1; i >= 0; i-- { // most recent seed first
		queue[len(seeds)-1-i] = seeds[i]
	}

	var collected []Record
	for len(queue) > 0 && len(collected) < g.topK {
		key := queue[0]
		queue = queue[1:]
		if visited[key] {
			continue
		}
		visited[key] = true

		node, ok := g.nodes[key]
		if !ok {
			continue
		}
		if node.record.TradeDate == tradeDate && node.record.Symbol == symbol {
			continue // never reflect the run currently in progress
		}
		collected = append(collected, node.record)
		queue = append(queue, node.connections...)
	}

	if len(collected) == 0 {
		return "", false
	}
	return renderReflection(symbol, collected), true
}

func renderReflection(symbol string, records []Record) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Historical reflection for %s (%d prior outcome(s)):\n", symbol, len(records))
	for _, r := range records {
		fmt.Fprintf(&b, "- %s: signal=%s — %s\n", r.TradeDate, r.Signal, truncate(r.Reasoning, 200))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RecordOutcome implements session.ReflectionRecorder: it folds a completed
// run's verdict into the graph so later runs for the same or a topically
// related symbol can reflect on it.
func (g *GraphBasedReflectionMemory) RecordOutcome(ctx context.Context, symbol, tradeDate, signal, reasoning string) error {
	return g.Add(ctx, Record{Symbol: symbol, TradeDate: tradeDate, Signal: signal, Reasoning: reasoning})
}

// Clear removes every record from the graph.
func (g *GraphBasedReflectionMemory) Clear(_ context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes = make(map[string]*reflectionNode)
	g.bySymbol = make(map[string][]string)
	g.relations = make(map[string][]string)
	return nil
}

// defaultTopicExtractor looks for known trading keywords in the reasoning
// text, case-insensitively, falling back to the signal itself when none
// match.
func defaultTopicExtractor(r Record) []string {
	lower := strings.ToLower(r.Reasoning)
	var topics []string
	for _, topic := range tradingTopics {
		if strings.Contains(lower, topic) {
			topics = append(topics, topic)
		}
	}
	if len(topics) == 0 && r.Signal != "" {
		topics = append(topics, "signal:"+strings.ToLower(r.Signal))
	}
	return topics
}
