// Command arena is a manual driver for the paper-trading core: wire
// every component from configuration, run one research+decision
// tick, and print the resulting portfolios. It exists for smoke
// testing the wiring end to end, not as the production entrypoint
// (that is the surrounding application's job per the configuration
// surface in config/config.go).
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/AlecAivazis/survey/v2"
	"github.com/charmbracelet/lipgloss"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/dax-arena/core/config"
	"github.com/dax-arena/core/internal/cache"
	"github.com/dax-arena/core/internal/decision"
	"github.com/dax-arena/core/internal/domain"
	"github.com/dax-arena/core/internal/engine"
	"github.com/dax-arena/core/internal/llm"
	"github.com/dax-arena/core/internal/market"
	"github.com/dax-arena/core/internal/news"
	"github.com/dax-arena/core/internal/orchestrator"
	"github.com/dax-arena/core/internal/qa"
	"github.com/dax-arena/core/internal/storage/sqlite"
	"github.com/dax-arena/core/internal/structured"
	"github.com/dax-arena/core/internal/synthesis"
	"github.com/dax-arena/core/internal/trading"
)

var headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42"))

// smokeUniverse is a minimal DAX-40 subset for manual driving; the
// production universe is configured by the surrounding application.
var smokeUniverse = []string{"SAP.DE", "SIE.DE", "ALV.DE", "DTE.DE", "BAS.DE"}

func main() {
	root := &cobra.Command{
		Use:   "arena",
		Short: "Manual driver for the DAX-40 paper-trading core",
	}
	root.AddCommand(tickCmd())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func tickCmd() *cobra.Command {
	var configPath string
	var watch bool
	cmd := &cobra.Command{
		Use:   "tick",
		Short: "Run one research + decision tick and print resulting portfolios",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTick(cmd.Context(), configPath, watch)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to a config JSON file or directory (defaults to the OS config dir; hot-reloadable via config.Manager)")
	cmd.Flags().BoolVar(&watch, "watch", false, "after the first tick, re-run on every config file change instead of exiting")
	return cmd
}

// runTick loads configuration through config.Initialize/config.Get so
// the running engine is backed by the same config.Manager that
// hot-reloads the file on disk (spec §2); --watch drives that reload
// loop explicitly rather than on a schedule.
func runTick(ctx context.Context, configPath string, watch bool) error {
	if err := config.Initialize(configPath); err != nil {
		return fmt.Errorf("initialize config: %w", err)
	}
	cfg := config.Get()

	if err := runOneTick(ctx, &cfg); err != nil {
		return err
	}
	if !watch {
		return nil
	}

	mgr := config.DefaultManager()
	if mgr == nil {
		return fmt.Errorf("config manager unavailable for --watch")
	}
	changed := make(chan config.Config, 1)
	if err := mgr.Watch(ctx, func(c config.Config) {
		select {
		case changed <- c:
		default:
		}
	}); err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	fmt.Println(headingStyle.Render("Watching config for changes (ctrl-c to exit)..."))
	for {
		select {
		case <-ctx.Done():
			return nil
		case newCfg := <-changed:
			fmt.Println(headingStyle.Render("Config changed on disk, re-running tick..."))
			if err := runOneTick(ctx, &newCfg); err != nil {
				fmt.Fprintf(os.Stderr, "tick: %v\n", err)
			}
		}
	}
}

func runOneTick(ctx context.Context, cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := startDebugServer(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "debug server: %v\n", err)
	}
	if len(cfg.ActiveModels) == 0 {
		confirmed := false
		_ = survey.AskOne(&survey.Confirm{
			Message: "No active models configured; run with a single smoke-test agent?",
			Default: true,
		}, &confirmed)
		if !confirmed {
			return fmt.Errorf("no active models configured")
		}
		cfg.ActiveModels = []config.ModelConfig{{
			ID: "smoke-agent", DisplayName: "Smoke Agent",
			APIIdentifier: "smoke", Vendor: "deepseek", ModelName: "deepseek-chat",
			ResearchModel: "smoke", StartingBalance: cfg.StartingCapital,
		}}
	}

	eng, tradingEngine, err := wireEngine(cfg)
	if err != nil {
		return err
	}

	for _, m := range cfg.ActiveModels {
		if _, err := tradingEngine.Initialize(ctx, m.ID, decimal.NewFromFloat(m.StartingBalance)); err != nil {
			fmt.Fprintf(os.Stderr, "initialize %s: %v\n", m.ID, err)
		}
	}

	fmt.Println(headingStyle.Render("Running research tick..."))
	report, err := eng.TickResearch(ctx)
	if err != nil {
		return fmt.Errorf("tick_research: %w", err)
	}
	fmt.Printf("briefings=%d rejections=%d\n", report.BriefingsGenerated, report.Rejections)

	for _, m := range cfg.ActiveModels {
		outcome, err := eng.RunAgentDecision(ctx, m.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "run_agent_decision %s: %v\n", m.ID, err)
			continue
		}
		fmt.Printf("%s -> %s %s (confidence=%s)\n", m.ID, outcome.Decision.Action, outcome.Decision.Symbol, outcome.Decision.Confidence)

		portfolio, err := eng.GetPortfolio(ctx, m.ID)
		if err == nil && portfolio != nil {
			fmt.Printf("  cash=%s total_value=%s\n", portfolio.CashBalance.String(), portfolio.TotalValue.String())
		}
	}

	return nil
}

func wireEngine(cfg *config.Config) (*engine.Engine, *trading.Engine, error) {
	store, err := sqlite.Open(cfg.DataDir + "/arena.db")
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		loc = time.UTC
	}
	calendar := &market.Calendar{
		Location: loc, OpenHour: cfg.MarketOpenHour,
		CloseHour: cfg.MarketCloseHour, CloseMinute: cfg.MarketCloseMin,
		Holidays: map[string]struct{}{},
	}
	universe := &market.Universe{Symbols: map[string]struct{}{}}
	for _, s := range smokeUniverse {
		universe.Symbols[s] = struct{}{}
	}
	marketProvider := market.NewProvider(universe, calendar, cfg.DataCacheDir+"/market", cfg.CacheEnabled)

	monitor := news.NewMonitor(
		[]news.Feed{{Name: "reuters", URL: "https://feeds.reuters.com/reuters/businessNews"}},
		cfg.DataCacheDir+"/news", cfg.RSSCacheTTL, cfg.CacheEnabled,
		func(item domain.NewsItem) []string { return nil },
	)

	finnhubBudget := structured.NewBudget(cfg.FinnhubBudget.PerMinute, cfg.FinnhubBudget.PerDay)
	finnhub := structured.NewFinnhubClient(os.Getenv("FINNHUB_API_KEY"), cfg.DataCacheDir+"/finnhub", cfg.CacheEnabled, finnhubBudget)
	alphaVantageBudget := structured.NewBudget(cfg.AlphaVantageBudget.PerMinute, cfg.AlphaVantageBudget.PerDay)
	alphaVantage := structured.NewAlphaVantageClient(os.Getenv("ALPHAVANTAGE_API_KEY"), cfg.DataCacheDir+"/alphavantage", cfg.CacheEnabled, alphaVantageBudget)
	aggregator := structured.NewAggregator(finnhub, alphaVantage)

	vendorConfigs := make([]llm.VendorConfig, 0, len(cfg.ActiveModels))
	for _, m := range cfg.ActiveModels {
		vendorConfigs = append(vendorConfigs, llm.VendorConfig{
			APIIdentifier: m.APIIdentifier, Vendor: m.Vendor, ModelName: m.ModelName,
			APIKey: apiKeyFor(cfg, m.Vendor),
		})
	}
	registry := llm.NewStaticRegistry(vendorConfigs)
	gateway := llm.NewEinoGateway(registry)

	allowList := &synthesis.AllowList{
		High:   map[string]struct{}{"reuters": {}, "bloomberg": {}},
		Medium: map[string]struct{}{"seekingalpha": {}},
	}
	synthesizer := synthesis.NewSynthesizer(gateway, allowList, "")

	reviewer := qa.NewReviewer(gateway, "")

	ttls := cache.TTLConfig{
		Complete: cfg.CacheTTLs.Complete, Technical: cfg.CacheTTLs.Technical,
		Financial: cfg.CacheTTLs.Financial, Web: cfg.CacheTTLs.Web,
	}
	researchCache := cache.NewResearchCache(cfg.DataCacheDir+"/research", ttls, 0.01)

	canonicalResearchModel := ""
	if len(cfg.ActiveModels) > 0 {
		canonicalResearchModel = cfg.ActiveModels[0].ResearchModel
	}
	orch := orchestrator.New(monitor, marketProvider, aggregator, synthesizer, reviewer, researchCache, canonicalResearchModel)

	tradingEngine := trading.New(store, marketProvider, calendar, decimal.NewFromFloat(cfg.TradingFee))
	decisionLoop := decision.New(gateway, tradingEngine, store)

	var agents []engine.Agent
	for _, m := range cfg.ActiveModels {
		agents = append(agents, engine.Agent{
			ModelID: m.ID, TradingModel: m.APIIdentifier, ResearchModel: m.ResearchModel,
			StartingBalance: decimal.NewFromFloat(m.StartingBalance),
		})
	}

	return engine.New(store, orch, tradingEngine, decisionLoop, monitor, agents), tradingEngine, nil
}

func apiKeyFor(cfg *config.Config, vendor string) string {
	switch vendor {
	case "deepseek":
		return cfg.DeepSeekAPIKey
	case "openai":
		return cfg.OpenAIAPIKey
	default:
		return ""
	}
}
