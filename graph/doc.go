// Package graph provides the core graph construction and execution engine for LangGraph Go.
//
// This package implements the fundamental building blocks for creating stateful, multi-agent applications
// using directed graphs. It offers both untyped and typed interfaces for building workflows,
// with support for parallel execution, checkpointing, streaming, and comprehensive event handling.
//
// # Core Concepts
//
// ## StateGraph
// The primary component for building graphs is StateGraph, which maintains state as it flows
// through nodes. Each node can process and transform the state before passing it to the next node
// based on defined edges.
//
// ## Nodes and Edges
// Nodes represent processing units (functions, agents, tools) that transform state.
// Edges define the flow between nodes, supporting conditional routing based on state content.
//
// ## Typed Support
// For type safety, the package provides StateGraph[S] which uses Go generics to enforce
// state types at compile time, reducing runtime errors and improving code maintainability.
//
// # Key Features
//
//   - Parallel node execution with coordination
//   - Checkpointing for durable execution with resume capability
//   - Streaming for real-time event monitoring
//   - Comprehensive listener system for observability
//   - Built-in retry mechanisms with configurable policies
//   - Subgraph composition for modular design
//   - Graph visualization (Mermaid, DOT, ASCII)
//   - Interrupt support for human-in-the-loop workflows
//
// # Example Usage
//
// ## Basic State Graph
//
//	g := graph.NewStateGraph[map[string]any]()
//
//	// Add nodes
//	g.AddNode("process", "process the input", func(ctx context.Context, state map[string]any) (map[string]any, error) {
//		// Process the state
//		state["processed"] = true
//		return state, nil
//	})
//
//	g.AddNode("validate", "validate the processed state", func(ctx context.Context, state map[string]any) (map[string]any, error) {
//		// Validate the processed state
//		if state["processed"].(bool) {
//			state["valid"] = true
//		}
//		return state, nil
//	})
//
//	// Set entry point and edges
//	g.SetEntryPoint("process")
//	g.AddEdge("process", "validate")
//	g.AddEdge("validate", graph.END)
//
//	// Compile and run
//	runnable, err := g.Compile()
//	result, err := runnable.Invoke(context.Background(), map[string]any{
//		"data": "example",
//	})
//
// ## Typed State Graph
//
//	type WorkflowState struct {
//		Input    string `json:"input"`
//		Output   string `json:"output"`
//		Complete bool   `json:"complete"`
//	}
//
//	g := graph.NewStateGraph[WorkflowState]()
//
//	g.AddNode("process", "process input", func(ctx context.Context, state WorkflowState) (WorkflowState, error) {
//		state.Output = strings.ToUpper(state.Input)
//		state.Complete = true
//		return state, nil
//	})
//
//	// Conditional routing
//	g.AddConditionalEdge("process", func(ctx context.Context, state WorkflowState) string {
//		if state.Complete {
//			return "next"
//		}
//		return "retry"
//	})
//
// ## Parallel Execution
//
// Fan-out happens naturally: add more than one static edge from the same
// node and every target runs concurrently, with results merged back through
// the schema (or StateMerger) before the next step begins.
//
//	g.AddEdge("plan", "task1")
//	g.AddEdge("plan", "task2")
//	g.AddEdge("task1", "join")
//	g.AddEdge("task2", "join")
//
// ## Interrupt and Resume
//
//	config := &graph.Config{InterruptAfter: []string{"B"}}
//	_, err := runnable.InvokeWithConfig(context.Background(), initialState, config)
//
//	var interrupt *graph.GraphInterrupt
//	errors.As(err, &interrupt)
//
//	// Resume from where execution paused, with possibly-edited state
//	resumeConfig := &graph.Config{ResumeFrom: interrupt.NextNodes}
//	result, err := runnable.InvokeWithConfig(context.Background(), interrupt.State, resumeConfig)
//
// ## Streaming
//
//	streaming := graph.NewStreamingStateGraph()
//	streaming.SetStreamConfig(graph.StreamConfig{BufferSize: 100})
//
//	runnable, err := streaming.CompileStreaming()
//	result := runnable.Stream(context.Background(), initialState)
//
//	// Process events
//	for event := range result.Events {
//		fmt.Printf("Event: %v\n", event)
//	}
//
// # Listener System
//
// Attach a NodeListener to a ListenableNode to observe start/complete/error
// events for that node, or pass a CallbackHandler (optionally also
// implementing GraphCallbackHandler) through Config.Callbacks to observe
// chain- and step-level events for an entire run. StreamingListener
// implements both, translating them into a StreamEvent channel.
//
// # Error Handling
//
//   - Built-in retry policies with exponential backoff
//   - Custom error filtering for selective retries
//   - Interrupt handling for pausing execution
//   - Comprehensive error context in events
//
// # Visualization
//
// Export graphs for documentation and debugging:
//
//	exporter := graph.NewExporter(g)
//
//	// Mermaid diagram
//	mermaid := exporter.DrawMermaidWithOptions(graph.MermaidOptions{
//		Direction: "TD",
//	})
//
//	// Plain-text DOT / ASCII renderings
//	dot := exporter.DrawDOT()
//
// # Thread Safety
//
// All graph structures are thread-safe for read operations. Write operations (adding nodes,
// edges, or listeners) should be performed before compilation or protected by external synchronization.
//
// # Best Practices
//
//  1. Use typed graphs when possible for better type safety
//  2. Set appropriate buffer sizes for streaming to balance memory and performance
//  3. Implement proper error handling in node functions
//  4. Use checkpoints for long-running or critical workflows
//  5. Add listeners for debugging and monitoring
//  6. Keep node functions pure and stateless when possible
//  7. Use conditional edges for complex routing logic
//  8. Leverage parallel execution for independent tasks
package graph
