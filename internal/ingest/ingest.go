// Package ingest is the top-level event loop: a bounded queue fanned out
// to workers, with the safety filter ahead of the response pipeline,
// per-guild rolling counters feeding adaptation signals, and a deferred
// welcome-DM queue.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/metrics"
	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/safety"
	"github.com/nextlevelbuilder/astra/internal/store"
)

// Analyzer is the safety filter's surface.
type Analyzer interface {
	Analyze(ctx context.Context, ev platform.Event) (*safety.Result, error)
}

// Responder is the response pipeline's surface.
type Responder interface {
	Process(ctx context.Context, ev platform.Event) error
}

// SignalFunc receives adaptation signals from the rolling counters.
type SignalFunc func(guild platform.GuildID, signal string, payload map[string]any)

// Ingest consumes platform events and drives everything downstream.
type Ingest struct {
	cfg       *config.Config
	filter    Analyzer
	responder Responder
	actions   platform.Actions
	st        *store.Store
	signal    SignalFunc
	log       *slog.Logger
	met       *metrics.Metrics

	queue   chan platform.Event
	welcome *welcomeQueue

	mu       sync.Mutex
	counters map[platform.GuildID]*guildCounters
	// inlineUsed tracks the overflow safety budget within the current second.
	inlineUsed  int
	inlineReset time.Time

	workers int
	wg      sync.WaitGroup
	now     func() time.Time
}

// New wires the ingest loop. signal may be nil; met may be nil in tests.
func New(cfg *config.Config, filter Analyzer, responder Responder, actions platform.Actions, st *store.Store, signal SignalFunc, log *slog.Logger, met *metrics.Metrics) *Ingest {
	queueSize := cfg.Ingest.QueueSize
	if queueSize <= 0 {
		queueSize = config.DefaultQueueSize
	}
	workers := cfg.Ingest.Workers
	if workers <= 0 {
		workers = config.DefaultWorkers
	}
	in := &Ingest{
		cfg:       cfg,
		filter:    filter,
		responder: responder,
		actions:   actions,
		st:        st,
		signal:    signal,
		log:       log,
		met:       met,
		queue:     make(chan platform.Event, queueSize),
		counters:  make(map[platform.GuildID]*guildCounters),
		workers:   workers,
		now:       time.Now,
	}
	in.welcome = newWelcomeQueue(cfg.WelcomeDM, actions, log, met)
	return in
}

// Run starts the workers, the welcome drainer, and the minute ticker for
// schedule-based signals. It blocks until ctx is cancelled and all workers
// have drained.
func (in *Ingest) Run(ctx context.Context) {
	for i := 0; i < in.workers; i++ {
		in.wg.Add(1)
		go func() {
			defer in.wg.Done()
			in.worker(ctx)
		}()
	}
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.welcome.run(ctx)
	}()
	in.wg.Add(1)
	go func() {
		defer in.wg.Done()
		in.tick(ctx)
	}()

	<-ctx.Done()
	in.wg.Wait()
}

// Submit accepts one platform event. Never blocks: on queue overflow the
// event is dropped, with safety evaluated inline within the budget so raid
// detection cannot be starved out.
func (in *Ingest) Submit(ctx context.Context, ev platform.Event) {
	if in.met != nil {
		in.met.EventsIngested.WithLabelValues(string(ev.Type)).Inc()
		in.met.QueueDepth.Set(float64(len(in.queue)))
	}
	in.observe(ev)

	switch ev.Type {
	case platform.EventMemberJoin:
		in.welcome.schedule(ev, in.now())
		return
	case platform.EventMessageCreate:
		// falls through to the queue
	default:
		return
	}

	select {
	case in.queue <- ev:
	default:
		if in.met != nil {
			in.met.EventsDropped.Inc()
		}
		if in.takeInlineBudget() {
			if res, err := in.filter.Analyze(ctx, ev); err == nil && res.Suppresses() {
				in.enforce(ctx, ev, res)
			}
		} else {
			in.log.Warn("event dropped, inline safety budget exhausted",
				"guild", ev.GuildID, "channel", ev.ChannelID)
		}
	}
}

// takeInlineBudget consumes one slot of the per-second inline safety budget.
func (in *Ingest) takeInlineBudget() bool {
	budget := in.cfg.Safety.InlineBudget
	if budget <= 0 {
		budget = 50
	}
	now := in.now()
	in.mu.Lock()
	defer in.mu.Unlock()
	if now.After(in.inlineReset) {
		in.inlineUsed = 0
		in.inlineReset = now.Add(time.Second)
	}
	if in.inlineUsed >= budget {
		return false
	}
	in.inlineUsed++
	return true
}

func (in *Ingest) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-in.queue:
			in.handle(ctx, ev)
		}
	}
}

// handle runs safety first, enforces any suppressing action, and hands
// the message to the pipeline otherwise.
func (in *Ingest) handle(ctx context.Context, ev platform.Event) {
	res, err := in.filter.Analyze(ctx, ev)
	if err != nil {
		// Detection failures never punish; the message still gets a reply.
		in.log.Warn("safety analysis failed", "user", ev.AuthorID, "error", err)
	}
	if res != nil && res.Recommended != nil {
		in.enforce(ctx, ev, res)
		if res.Suppresses() {
			return
		}
	}
	if err := in.responder.Process(ctx, ev); err != nil {
		in.log.Error("pipeline failed", "guild", ev.GuildID, "channel", ev.ChannelID, "error", err)
	}
}

// enforce carries out the recommended action. Actions on violations that
// failed the confidence gate are recorded but not applied.
func (in *Ingest) enforce(ctx context.Context, ev platform.Event, res *safety.Result) {
	act := res.Recommended
	enactable := len(res.Violations) > 0 && res.Violations[0].StaffReviewed

	var err error
	taken := "none"
	switch {
	case act.Kind == safety.ActionWarning:
		taken = "warning"
		err = in.actions.SendDM(ctx, res.TargetUser,
			"Heads up: one of your recent messages tripped this server's content rules. Please keep it within the guidelines.")
	case !enactable:
		// Queued for staff review; nothing applied automatically.
		taken = "pending_review"
	case act.Kind == safety.ActionMute || act.Kind == safety.ActionTimeout:
		taken = fmt.Sprintf("%s:%ds", act.Kind, int(act.Duration.Seconds()))
		err = in.actions.ApplyTimeout(ctx, res.TargetUser, ev.GuildID, act.Duration)
	case act.Kind == safety.ActionKick:
		taken = "kick"
		err = in.actions.ApplyKick(ctx, res.TargetUser, ev.GuildID, "automated safety action")
	case act.Kind == safety.ActionBan:
		taken = fmt.Sprintf("ban:%ds", int(act.Duration.Seconds()))
		err = in.actions.ApplyBan(ctx, res.TargetUser, ev.GuildID, act.Duration, "automated safety action")
	}
	if err != nil {
		in.log.Error("enforcement failed",
			"user", res.TargetUser, "guild", ev.GuildID, "action", act.Kind, "error", err)
		taken = "failed:" + taken
	}

	for i := range res.Violations {
		if res.Violations[i].ID == 0 {
			continue
		}
		if serr := in.st.SetViolationAction(ctx, res.Violations[i].ID, taken); serr != nil {
			in.log.Warn("violation action record failed", "violation", res.Violations[i].ID, "error", serr)
		}
	}
}
