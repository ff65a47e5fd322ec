// Command tradectl runs one orchestration session from the command line,
// printing streamed progress and the final verdict. Grounded on
// dyike-CortexGo/internal/cli/ui.go's lipgloss panel styling.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/LingXuanTech/tradeorch/agents"
	"github.com/LingXuanTech/tradeorch/analysis"
	"github.com/LingXuanTech/tradeorch/chatmodel"
	"github.com/LingXuanTech/tradeorch/config"
	"github.com/LingXuanTech/tradeorch/eventstream"
	"github.com/LingXuanTech/tradeorch/memory"
	"github.com/LingXuanTech/tradeorch/orchestrator"
	"github.com/LingXuanTech/tradeorch/resilient"
	"github.com/LingXuanTech/tradeorch/session"
	checkpointmem "github.com/LingXuanTech/tradeorch/store/memory"
	"github.com/LingXuanTech/tradeorch/synthesize"
	"github.com/LingXuanTech/tradeorch/tool"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7C3AED")).
			Padding(0, 1)

	eventStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#3B82F6"))

	degradedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#F59E0B")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#EF4444")).
			Bold(true)

	verdictStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#10B981")).
			Bold(true).
			BorderStyle(lipgloss.RoundedBorder()).
			Padding(1, 2)
)

func main() {
	symbol := flag.String("symbol", "", "stock symbol to analyze")
	tradeDate := flag.String("date", time.Now().Format("2006-01-02"), "trade date (ISO 8601)")
	market := flag.String("market", "US", "market: US, HK, or CN")
	level := flag.String("level", "L2", "analysis level: L1 or L2")
	configPath := flag.String("config", "", "path to YAML config file")
	usePlanner := flag.Bool("planner", true, "use the Planner node")
	flag.Parse()

	if *symbol == "" {
		fmt.Fprintln(os.Stderr, "tradectl: -symbol is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := chatmodel.New(nil, chatmodel.NewChannelAggregator(256))
	if *configPath != "" {
		cfg, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render("load config: "+err.Error()))
			os.Exit(1)
		}
		var secrets chatmodel.SecretBox
		if key := os.Getenv(config.EncryptionKeyEnv); key != "" {
			decoded, err := chatmodel.DecodeKey(key)
			if err == nil {
				secrets, _ = chatmodel.NewAESGCMSecretBox(decoded)
			}
		}
		if err := cfg.ApplyTo(registry, secrets); err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render("apply config: "+err.Error()))
			os.Exit(1)
		}
	}

	runner := session.New(session.Deps{
		BuildGraph:  buildGraphOptions(registry),
		Checkpoints: checkpointmem.NewMemoryCheckpointStore(),
		Synthesizer: &synthesize.Synthesizer{Registry: registry, Role: chatmodel.RoleSynthesis},
		History:     memory.NewGraphBasedReflectionMemory(5),
	})

	req := session.Request{
		Symbol:        *symbol,
		TradeDate:     *tradeDate,
		Market:        analysis.Market(*market),
		AnalysisLevel: orchestrator.Profile(*level),
		UsePlanner:    usePlanner,
	}

	fmt.Println(titleStyle.Render("tradeorch session: " + *symbol + " @ " + *tradeDate))

	sessionID, stream, err := runner.Start(ctx, req)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
	fmt.Println(eventStyle.Render("session_id: " + sessionID))

	for ev := range stream.Subscribe(ctx, 0) {
		printEvent(ev)
		if ev.Kind == eventstream.KindTerminal {
			break
		}
	}

	descriptor, ok := runner.Get(sessionID)
	if !ok || descriptor.Verdict == nil {
		fmt.Println(errorStyle.Render("no verdict produced"))
		return
	}

	summary := fmt.Sprintf("Signal: %s\nConfidence: %d\n\n%s",
		descriptor.Verdict.Signal, descriptor.Verdict.Confidence, descriptor.Verdict.Reasoning)
	fmt.Println(verdictStyle.Render(summary))
}

func printEvent(ev eventstream.Event) {
	switch ev.Kind {
	case eventstream.KindNodeDegraded:
		fmt.Println(degradedStyle.Render(fmt.Sprintf("[%d] degraded: %s", ev.SequenceNo, ev.Node)))
	case eventstream.KindError:
		fmt.Println(errorStyle.Render(fmt.Sprintf("[%d] error: %v", ev.SequenceNo, ev.Payload["error"])))
	default:
		fmt.Println(eventStyle.Render(fmt.Sprintf("[%d] %s %s", ev.SequenceNo, ev.Kind, ev.Node)))
	}
}

// buildGraphOptions wires the deps every session needs to assemble its
// graph: chat model roles, tool providers, resilience config. News and
// sentiment analysts get live MarketDataProvider adapters; Brave Search
// falls back to disabled if BRAVE_API_KEY is unset rather than failing the
// whole graph build.
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
