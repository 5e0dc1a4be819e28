package di

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/touchline/internal/clientdata"
	"github.com/aristath/touchline/internal/clients/polygon"
	"github.com/aristath/touchline/internal/clients/yahoo"
	"github.com/aristath/touchline/internal/config"
	"github.com/aristath/touchline/internal/engine"
	"github.com/aristath/touchline/internal/events"
	"github.com/aristath/touchline/internal/modules/contact"
	"github.com/aristath/touchline/internal/modules/diagnostics"
	"github.com/aristath/touchline/internal/modules/entry"
	"github.com/aristath/touchline/internal/modules/evolution"
	"github.com/aristath/touchline/internal/modules/exits"
	"github.com/aristath/touchline/internal/modules/levels"
	"github.com/aristath/touchline/internal/modules/memory"
	"github.com/aristath/touchline/internal/modules/portfolio"
	"github.com/aristath/touchline/internal/modules/prices"
	"github.com/aristath/touchline/internal/modules/recommendation"
	"github.com/aristath/touchline/internal/modules/scoring"
	"github.com/aristath/touchline/internal/modules/settings"
	"github.com/aristath/touchline/internal/modules/strategy"
	"github.com/rs/zerolog"
)

// streamMaxAge is how old a streamed trade may be before REST is asked instead.
const streamMaxAge = 5 * time.Second

// InitializeRepositories creates the repositories over the open databases.
func InitializeRepositories(c *Container, log zerolog.Logger) {
	c.SettingsRepo = settings.NewRepository(c.ConfigDB.Conn(), log)
	c.LevelsRepo = levels.NewRepository(c.ConfigDB.Conn(), log)
	c.ClientDataRepo = clientdata.NewRepository(c.CacheDB.Conn())
	c.ContactRepo = contact.NewRepository(c.MemoryDB.Conn(), log)
	c.MemoryStore = memory.NewStore(c.MemoryDB.Conn(), log)
}

// InitializeServices builds the market data feed, the pipeline modules and the engine.
func InitializeServices(ctx context.Context, c *Container, cfg *config.Config, log zerolog.Logger) error {
	t := cfg.Tuning

	c.EventManager = events.NewManager(log)
	c.Monitor = diagnostics.NewMonitor(c.EventManager, log)

	c.PriceFeed = buildFeed(c, cfg, log)

	c.Ledger = portfolio.NewLedger(c.LedgerDB.Conn(), cfg.StartingCash, c.Monitor, log)
	if err := c.Ledger.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize ledger: %w", err)
	}

	c.Tracker = evolution.NewTracker(c.MemoryDB.Conn(), evolution.Config{
		Margin:     t.BestDirectionMargin,
		MinWinRate: t.BestDirectionMinWinRate,
	}, log)
	c.Resilience = scoring.NewResilienceStore(c.MemoryDB.Conn(), t.ResilienceWindow, log)
	c.Recommender = recommendation.NewRecommender(c.Tracker, c.Monitor, log)

	var model *scoring.LinearModel
	if cfg.ModelPath != "" {
		m, err := scoring.LoadLinearModel(cfg.ModelPath)
		if err != nil {
			log.Warn().Err(err).Msg("Base score model not loaded, using heuristic confidence")
		} else {
			model = m
		}
	}

	evaluator := contact.NewEvaluator(contact.Config{
		ContactTolerance:     t.ContactTolerance,
		ReactionEpsilon:      t.ReactionEpsilon,
		ConfluenceBand:       t.ConfluenceBand,
		HighVolume:           t.HighVolume,
		MidVolume:            t.MidVolume,
		HighVolumeConfidence: t.HighVolumeConfidence,
		MidVolumeConfidence:  t.MidVolumeConfidence,
		BaseConfidence:       t.BaseConfidence,
		HesitationConfidence: t.HesitationConfidence,
		NoReactionConfidence: t.NoReactionConfidence,
	}, c.Monitor, log)

	adjuster := scoring.NewAdjuster(c.MemoryStore, scoring.AdjusterConfig{
		MinSeen:        t.MemoryMinSeen,
		WinRateWeight:  t.MemoryWinRateWeight,
		AvgConfWeight:  t.MemoryAvgConfWeight,
		RejectPenalty:  t.RejectPenalty,
		ReviewPenalty:  t.ReviewPenalty,
		FeedbackWindow: t.FeedbackWindow,
	}, log)

	c.Engine = engine.New(engine.Config{
		Symbol:       cfg.Symbol,
		PollInterval: cfg.PollInterval,
		PositionQty:  cfg.PositionQty,
		AllowNoEdge:  !cfg.Tuning.RequireEdge,
	}, engine.Deps{
		Prices:      c.PriceFeed,
		Levels:      c.LevelsRepo,
		Chains:      c.PriceFeed,
		VolumeNorm:  c.PriceFeed,
		Evaluator:   evaluator,
		Trend:       contact.NewTrendTracker(t.MacroEMAPeriod),
		Contacts:    c.ContactRepo,
		Scorer:      scoring.NewBaseScorer(model),
		Adjuster:    adjuster,
		Resilience:  c.Resilience,
		Memory:      c.MemoryStore,
		Tracker:     c.Tracker,
		Recommender: c.Recommender,
		Entry: entry.NewPlanner(entry.Config{
			TimingWindow: t.TimingWindow,
			MinVolume:    t.MinVolume,
			Slippage:     t.Slippage,
		}, c.Monitor, log),
		Strategy: strategy.NewPlanner(strategy.Config{
			TargetOffset: t.TargetOffset,
			StopFactor:   t.StopFactor,
		}, c.Monitor, log),
		Exits:  exits.NewStrategy(t.MaxLossPct, c.Monitor, log),
		Ledger: c.Ledger,
		Events: c.EventManager,
		Sink:   c.Monitor,
	}, log)

	c.Sweeper = diagnostics.NewSweeper(diagnostics.SweepConfig{Symbol: cfg.Symbol},
		c.LevelsRepo, c.PriceFeed, c.Ledger, c.Monitor, log)

	log.Info().
		Str("symbol", cfg.Symbol).
		Bool("model", model != nil).
		Bool("polygon", c.PolygonClient != nil).
		Bool("stream", c.PolygonStream != nil).
		Bool("yahoo_fallback", cfg.YahooFallback).
		Msg("Services initialized")
	return nil
}

func buildFeed(c *Container, cfg *config.Config, log zerolog.Logger) *prices.Feed {
	opts := []prices.Option{prices.WithCache(c.ClientDataRepo)}

	if cfg.PolygonAPIKey != "" {
		c.PolygonClient = polygon.NewClient(cfg.PolygonBaseURL, cfg.PolygonAPIKey, cfg.ProviderTimeout, log)
		opts = append(opts, prices.WithREST(c.PolygonClient))

		if cfg.StreamEnabled {
			c.PolygonStream = polygon.NewStream(cfg.PolygonStreamURL, cfg.PolygonAPIKey,
				[]string{strings.ToUpper(cfg.Symbol)}, log)
			opts = append(opts, prices.WithStream(c.PolygonStream))
		}
	} else {
		log.Warn().Msg("POLYGON_API_KEY not set, live prices come from the fallback only")
	}

	if cfg.YahooFallback {
		opts = append(opts, prices.WithFallback(yahoo.NewClient(cfg.ProviderTimeout, log)))
	}

	return prices.NewFeed(prices.Config{
		Timeout:       cfg.ProviderTimeout,
		StaleAfter:    cfg.PriceStaleAfter,
		StreamMaxAge:  streamMaxAge,
		VolumeRefresh: 30 * time.Second,
	}, c.Monitor, log, opts...)
}
