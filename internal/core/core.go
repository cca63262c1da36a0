// Package core is the composition root: it builds every subsystem from
// config, connects the platform adapter to the ingest loop, and owns the
// background schedules.
package core

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/adhocore/gronx"
	"github.com/go-redis/redis/v8"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/astra/internal/adaptation"
	"github.com/nextlevelbuilder/astra/internal/cache"
	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/convo"
	"github.com/nextlevelbuilder/astra/internal/imagegen"
	"github.com/nextlevelbuilder/astra/internal/ingest"
	"github.com/nextlevelbuilder/astra/internal/metrics"
	"github.com/nextlevelbuilder/astra/internal/personality"
	"github.com/nextlevelbuilder/astra/internal/pipeline"
	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/platform/discord"
	"github.com/nextlevelbuilder/astra/internal/providers"
	"github.com/nextlevelbuilder/astra/internal/safety"
	"github.com/nextlevelbuilder/astra/internal/store"
	"github.com/nextlevelbuilder/astra/internal/telemetry"
)

const (
	cacheSweepEvery = 5 * time.Minute
	adaptSweepEvery = time.Minute
	cronCheckEvery  = time.Minute
)

type options struct {
	source  platform.EventSource
	actions platform.Actions
	botID   platform.UserID
}

// Option customizes Start.
type Option func(*options)

// WithPlatform supplies an already-started event source and action sink in
// place of the bundled Discord adapter.
func WithPlatform(source platform.EventSource, actions platform.Actions, botID platform.UserID) Option {
	return func(o *options) {
		o.source = source
		o.actions = actions
		o.botID = botID
	}
}

// Core is the running system. Build with Start, tear down with Shutdown.
type Core struct {
	cfg *config.Config
	log *slog.Logger

	st       *store.Store
	rdb      *redis.Client
	cache    *cache.Cache
	met      *metrics.Metrics
	engine   *adaptation.Engine
	sessions *convo.Manager
	source   platform.EventSource

	telShutdown func(context.Context) error
	metricsSrv  *http.Server

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Start builds and launches every subsystem. ctx bounds startup only; the
// running system lives until Shutdown.
func Start(ctx context.Context, cfg *config.Config, log *slog.Logger, opts ...Option) (*Core, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(cfg.StorePath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var rdb *redis.Client
	if cfg.Cache.RedisURL != "" {
		ropt, perr := redis.ParseURL(cfg.Cache.RedisURL)
		if perr != nil {
			st.Close()
			return nil, fmt.Errorf("parse redis url: %w", perr)
		}
		rdb = redis.NewClient(ropt)
	}

	capacity := cfg.Cache.Capacity
	if capacity <= 0 {
		capacity = 1000
	}
	met, reg := metrics.New()
	cch := cache.New(capacity, rdb, log, met)

	telShutdown, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("telemetry setup: %w", err)
	}

	c := &Core{
		cfg:         cfg,
		log:         log,
		st:          st,
		rdb:         rdb,
		cache:       cch,
		met:         met,
		telShutdown: telShutdown,
	}
	fail := func(err error) (*Core, error) {
		if telShutdown != nil {
			telShutdown(context.Background())
		}
		if rdb != nil {
			rdb.Close()
		}
		st.Close()
		return nil, err
	}

	model := personality.NewModel(st)
	c.engine = adaptation.New(st, log,
		cfg.Adaptation.Cooldown.Or(5*time.Minute),
		cfg.Adaptation.EventTTL.Or(30*time.Minute))

	signal := func(guild platform.GuildID, sig string, payload map[string]any) {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		applied, aerr := c.engine.Adapt(sctx, guild, sig, payload, "signal:"+sig)
		if aerr != nil {
			log.Warn("adaptation signal failed", "guild", guild, "signal", sig, "error", aerr)
			return
		}
		if applied {
			met.AdaptationsApplied.WithLabelValues(sig).Inc()
		}
	}

	filter := safety.New(cfg.Safety, platform.UserID(cfg.Bot.OwnerID), st, log, met, signal)

	router, err := buildRouter(cfg, cch, log, met)
	if err != nil {
		return fail(err)
	}

	c.sessions = convo.NewManager(st, log)

	source, actions, botID := o.source, o.actions, o.botID
	if source == nil {
		if !cfg.Discord.Enabled {
			c.sessions.Close()
			return fail(fmt.Errorf("no platform configured: set ASTRA_DISCORD_TOKEN or use WithPlatform"))
		}
		adapter, derr := discord.New(cfg.Discord, log)
		if derr != nil {
			c.sessions.Close()
			return fail(derr)
		}
		if serr := adapter.Start(ctx); serr != nil {
			c.sessions.Close()
			return fail(serr)
		}
		source, actions, botID = adapter, adapter, adapter.BotID()
	}
	c.source = source

	pipe := pipeline.New(cfg, model, c.sessions, router, actions, st, log, met, botID)
	pipe.SetImageService(imagegen.New(cfg.Image, router, cch, st, log))
	ing := ingest.New(cfg, filter, pipe, actions, st, ingest.SignalFunc(signal), log, met)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	g, gctx := errgroup.WithContext(runCtx)
	c.group = g

	g.Go(func() error {
		ing.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return c.pump(gctx, ing)
	})
	g.Go(func() error {
		c.sweeps(gctx)
		return nil
	})

	if cfg.Metrics.Enabled {
		addr := cfg.Metrics.Addr
		if addr == "" {
			addr = ":9190"
		}
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(reg))
		srv := &http.Server{Addr: addr, Handler: mux}
		c.metricsSrv = srv
		g.Go(func() error {
			log.Info("metrics listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer scancel()
			srv.Shutdown(sctx)
			return nil
		})
	}

	log.Info("core started",
		"providers", len(cfg.AI.Providers),
		"store", cfg.StorePath(),
		"discord", cfg.Discord.Enabled)
	return c, nil
}

// buildRouter constructs providers in config preference order. Specs with
// no API key are skipped rather than fatal so a partially configured set
// still serves.
func buildRouter(cfg *config.Config, cch *cache.Cache, log *slog.Logger, met *metrics.Metrics) (*providers.Router, error) {
	var provs []providers.Provider
	var imageProv providers.ImageProvider
	ratePerMin := make(map[string]int)

	for _, spec := range cfg.AI.Providers {
		if spec.Name == "" {
			return nil, fmt.Errorf("provider with empty name in config")
		}
		if spec.APIKey == "" {
			log.Warn("provider has no API key, skipping", "provider", spec.Name)
			continue
		}
		var prov providers.Provider
		switch spec.Kind {
		case "anthropic":
			prov = providers.NewAnthropicProvider(spec.Name, spec.APIKey, spec.APIBase, spec.Model)
		case "", "openai":
			oai := providers.NewOpenAIProvider(spec.Name, spec.APIKey, spec.APIBase, spec.Model)
			if spec.Images && imageProv == nil {
				imageProv = oai
			}
			prov = oai
		default:
			return nil, fmt.Errorf("unknown provider kind %q for %s", spec.Kind, spec.Name)
		}
		provs = append(provs, prov)
		if spec.RatePerMin > 0 {
			ratePerMin[spec.Name] = spec.RatePerMin
		}
	}
	if len(provs) == 0 {
		return nil, fmt.Errorf("no usable AI providers configured")
	}
	return providers.NewRouter(provs, imageProv, cch, log, cfg.AI.DefaultModel, ratePerMin,
		cfg.AI.RequestTimeout.Or(providers.DefaultAttemptTimeout), met), nil
}

// pump moves platform events into ingest and handles the lifecycle events
// that never reach the queue.
func (c *Core) pump(ctx context.Context, ing *ingest.Ingest) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-c.source.Events():
			if !ok {
				return nil
			}
			switch ev.Type {
			case platform.EventGuildRemove:
				c.purgeGuild(ev.GuildID)
			case platform.EventConnected:
				c.log.Info("platform connected")
			case platform.EventDisconnected:
				c.log.Warn("platform disconnected")
			default:
				ing.Submit(ctx, ev)
			}
		}
	}
}

// purgeGuild drops a removed guild's personality and conversation state.
func (c *Core) purgeGuild(guild platform.GuildID) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.st.DeleteGuildPersonality(ctx, guild); err != nil {
		c.log.Warn("guild personality purge failed", "guild", guild, "error", err)
	}
	if err := c.sessions.DropGuild(ctx, guild); err != nil {
		c.log.Warn("guild session purge failed", "guild", guild, "error", err)
	}
	c.log.Info("guild data purged", "guild", guild)
}

// sweeps runs the periodic housekeeping: cache eviction, expired
// adaptation rollback, and the nightly store maintenance cron.
func (c *Core) sweeps(ctx context.Context) {
	cacheTick := time.NewTicker(cacheSweepEvery)
	defer cacheTick.Stop()
	adaptTick := time.NewTicker(adaptSweepEvery)
	defer adaptTick.Stop()
	cronTick := time.NewTicker(cronCheckEvery)
	defer cronTick.Stop()

	cron := gronx.New()
	schedule := c.cfg.Store.MaintenanceSchedule
	if schedule == "" {
		schedule = "0 4 * * *"
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-cacheTick.C:
			if evicted := c.cache.Sweep(now); evicted > 0 {
				c.log.Debug("cache sweep", "evicted", evicted)
			}
		case <-adaptTick.C:
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := c.engine.SweepExpired(sctx); err != nil {
				c.log.Warn("adaptation sweep failed", "error", err)
			}
			cancel()
		case now := <-cronTick.C:
			due, err := cron.IsDue(schedule, now)
			if err != nil {
				c.log.Warn("bad maintenance schedule", "schedule", schedule, "error", err)
				continue
			}
			if due {
				c.maintain(now)
			}
		}
	}
}

// maintain runs the retention purge and compaction.
func (c *Core) maintain(now time.Time) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	policy := store.RetentionPolicy{
		Conversations:    retentionDays(c.cfg.Store.ConversationRetention, 90),
		ResolvedRecords:  retentionDays(c.cfg.Store.AppealRetention, 30),
		ImageGenerations: retentionDays(c.cfg.Store.AppealRetention, 30),
	}
	if err := c.st.Maintain(ctx, now, policy); err != nil {
		c.log.Error("store maintenance failed", "error", err)
		return
	}
	c.log.Info("store maintenance complete")
}

func retentionDays(n, def int) time.Duration {
	if n <= 0 {
		n = def
	}
	return time.Duration(n) * 24 * time.Hour
}

// Shutdown stops the platform, drains the workers, flushes sessions, and
// closes the store. Safe to call once.
func (c *Core) Shutdown(ctx context.Context) error {
	c.cancel()
	if c.source != nil {
		if err := c.source.Stop(ctx); err != nil {
			c.log.Warn("platform stop failed", "error", err)
		}
	}
	err := c.group.Wait()
	c.sessions.Close()

	if c.telShutdown != nil {
		if terr := c.telShutdown(ctx); terr != nil {
			c.log.Warn("telemetry shutdown failed", "error", terr)
		}
	}
	if c.rdb != nil {
		c.rdb.Close()
	}
	if serr := c.st.Close(); serr != nil && err == nil {
		err = serr
	}
	c.log.Info("core stopped")
	return err
}
