// Package langgraphgo is the root of a multi-agent trading-analysis
// orchestrator. Analyst, debate, risk and trader agents run as nodes of a
// typed state graph; their progress is streamed per session, and the final
// state is synthesized into a trading verdict.
//
// # Packages
//
//   - graph: the generic state-graph engine (StateGraph[S]) with static and
//     conditional edges, schema-driven merge of parallel node results,
//     subgraphs, interrupts, streaming, tracing and visualization.
//   - analysis: the shared analysis State, the Patch a node returns, and the
//     Schema that merges patches into the state.
//   - agents: the Analyst, Debate and Risk subgraphs and the routing
//     functions between them.
//   - orchestrator: BuildGraph, which assembles the main graph.
//   - resilient: a node wrapper with per-kind timeout, bounded retry and a
//     degradation stub.
//   - chatmodel: the ChatModel registry, Dial, and an AES-GCM SecretBox for
//     provider API keys.
//   - session: the Runner that starts, deduplicates, cancels and tracks
//     analysis sessions.
//   - eventstream: a per-session event buffer with replay by sequence number.
//   - synthesize: turns a final State into a Verdict and a PredictionRecord.
//   - memory: graph-based reflection memory of past predictions.
//   - store: the CheckpointStore interface with file, memory, sqlite,
//     postgres and redis implementations.
//   - tool: Brave web search and a headline scraper.
//   - config, orcherr, log: configuration loading, error kinds and the
//     leveled logger.
//
// cmd/tradectl runs one session in process and prints its events and
// verdict; cmd/tradeserver serves sessions and their event streams over
// HTTP.
package langgraphgo // import "github.com/LingXuanTech/tradeorch"
