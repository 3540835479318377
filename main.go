package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/procura-agent/server/internal/agent/conversations"
	"github.com/procura-agent/server/internal/agent/model"
	"github.com/procura-agent/server/internal/agent/observers"
	"github.com/procura-agent/server/internal/agent/orchestrator"
	"github.com/procura-agent/server/internal/agent/repo"
	"github.com/procura-agent/server/internal/agent/tools"
	"github.com/procura-agent/server/internal/background"
	"github.com/procura-agent/server/internal/catalog"
	"github.com/procura-agent/server/internal/config"
	"github.com/procura-agent/server/internal/llm"
	"github.com/procura-agent/server/internal/llm/accounting"
	"github.com/procura-agent/server/internal/llm/clients"
	"github.com/procura-agent/server/internal/llm/usage"
	"github.com/procura-agent/server/internal/observe"
	"github.com/procura-agent/server/internal/resilience"
	logx "github.com/procura-agent/server/pkg/logger"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logx.Init()

	cfg, err := config.Load(".env")
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to load configuration")
	}
	svc := cfg.Service()
	logx.Init(logx.LoggerOpts{Environment: svc.Environment, Service: svc.Name, Version: svc.Version})

	providerCfg, err := cfg.ResolveProvider()
	if err != nil {
		logx.Fatal().Err(err).Msg("no usable LLM provider")
	}

	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    svc.Name,
		ServiceVersion: svc.Version,
		Environment:    svc.Environment.String(),
	})
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to initialise telemetry")
	}
	metrics := observe.DefaultMetrics()
	callbacks.AppendGlobalHandlers(observers.NewAllCallbacks())

	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logx.Error().Err(err).Str("addr", cfg.MetricsAddr).Msg("metrics server stopped")
			}
		}()
		logx.Info().Str("addr", cfg.MetricsAddr).Msg("serving prometheus metrics")
	}

	runner := background.New(background.Config{})
	accountant := accounting.New(cfg.Accounting(), accounting.WithDegradedHook(func(model, reason string) {
		metrics.RecordAccountingDegraded(context.Background(), model, reason)
	}))

	// ====================================================
	// Storage: Postgres usage records and Redis conversations when configured
	var usageStore interface {
		usage.Store
		usage.Reporter
	} = usage.NewMemoryStore()
	if cfg.Postgres.Enabled() {
		pool, err := cfg.Postgres.New(ctx)
		if err != nil {
			logx.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()
		pg := usage.NewPGStore(pool)
		if err := pg.CreateSchema(ctx); err != nil {
			logx.Fatal().Err(err).Msg("failed to create usage schema")
		}
		usageStore = pg
	}

	var convRepo model.ConversationRepository = repo.NewMemoryConversationRepository()
	if cfg.Redis.Enabled() {
		rdb, err := cfg.Redis.New(ctx)
		if err != nil {
			logx.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer rdb.Close()
		convRepo = repo.NewRedisConversationRepository(rdb, cfg.Conversation.TTL)
	}

	// ====================================================
	// Provider adapter behind the reliability pipeline
	registry := resilience.NewRegistry(cfg.Reliability, resilience.WithMetrics(metrics))
	client, err := clients.New(ctx, providerCfg.Provider, cfg.ClientSettings())
	if err != nil {
		logx.Fatal().Err(err).Str("provider", providerCfg.Provider.String()).Msg("failed to create LLM client")
	}
	adapter := llm.NewAdapter(client, providerCfg, registry,
		llm.WithAccountant(accountant),
		llm.WithUsageStore(usageStore),
		llm.WithRunner(runner),
		llm.WithAdapterMetrics(metrics),
	)

	cat := catalog.NewDefault()
	toolRegistry, err := tools.NewRegistry(cat, catalog.NewCarts(cat))
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build tools")
	}
	mm := conversations.NewMessagesManager(convRepo, cfg.Conversation, accountant, metrics)
	orch, err := orchestrator.New(ctx, adapter, convRepo, mm, toolRegistry, providerCfg.Model,
		orchestrator.Config{MaxToolRounds: cfg.Conversation.ToolMaxCalls, Prompt: cfg.Prompt},
		orchestrator.WithMetrics(metrics),
	)
	if err != nil {
		logx.Fatal().Err(err).Msg("failed to build orchestrator")
	}

	logx.Info().
		Str("provider", providerCfg.Provider.String()).
		Str("model", providerCfg.Model).
		Bool("redis", cfg.Redis.Enabled()).
		Bool("postgres", cfg.Postgres.Enabled()).
		Msg("procurement agent ready")

	conversationID := runDemo(ctx, orch)

	// ====================================================
	// Shutdown: drain detached usage writes before reporting and flushing
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := runner.Shutdown(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("background tasks did not drain")
	}
	if conversationID != "" {
		if total, err := usageStore.TotalCostByConversation(shutdownCtx, conversationID); err == nil {
			fmt.Printf("Total LLM cost for %s: $%.6f\n", conversationID, total)
		}
	}
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		logx.Warn().Err(err).Msg("telemetry shutdown failed")
	}
}

// runDemo plays a short buying conversation and returns its id.
func runDemo(ctx context.Context, orch *orchestrator.Orchestrator) string {
	queries := []struct {
		description string
		query       string
	}{
		{description: "Product search", query: "Hi, I need USB-C cables for the office."},
		{description: "Proposal", query: "Please add 2 of the Anker 1m cables to my cart."},
		{description: "Confirmation", query: "Yes, go ahead."},
		{description: "Checkout", query: "Great, please check out."},
		{description: "Checkout confirmation", query: "Yes, place the order."},
	}

	conversationID := ""
	for i, q := range queries {
		if ctx.Err() != nil {
			break
		}
		fmt.Printf("\nTest %d: %s\n", i+1, q.description)
		fmt.Printf("Buyer: %s\n", q.query)

		res, err := orch.Chat(ctx, orchestrator.ChatRequest{UserMessage: q.query, ConversationID: conversationID})
		if err != nil {
			logx.Error().Err(err).Int("step", i+1).Msg("turn failed")
			return conversationID
		}
		conversationID = res.ConversationID

		for _, a := range res.ToolActionsTaken {
			fmt.Printf("  [%s] %s %s\n", a.Status, a.Tool, a.Arguments)
		}
		fmt.Printf("Agent: %s\n", res.AssistantText)
		fmt.Printf("  (%d provider calls, %d in / %d out tokens, $%.6f)\n",
			res.ProviderCalls, res.InputTokens, res.OutputTokens, res.CostUSD)

		if res.Status != model.StatusActive {
			fmt.Printf("Conversation %s is %s\n", conversationID, res.Status)
			break
		}
	}
	return conversationID
}
