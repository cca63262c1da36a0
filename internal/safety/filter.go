// Package safety analyzes every incoming message against a fixed
// violation catalog, records hits, and recommends enforcement actions
// from the punishment ladder. Detection is deterministic; errors on the
// detection path fail open and never auto-punish.
package safety

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/astra/internal/adaptation"
	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/metrics"
	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/store"
)

// Confidence gates around the ladder action.
const (
	warnBelow    = 0.55
	enactAtLeast = 0.95
)

// emaAlpha weights new message lengths into the profile EMA.
const emaAlpha = 0.2

// historyKeep bounds per-user recent message history used by the spam
// and repeated-content detectors.
const historyKeep = 10

// SignalFunc receives environment signals derived from violation spikes.
type SignalFunc func(guild platform.GuildID, signal string, payload map[string]any)

// Result is the filter's verdict for one message.
type Result struct {
	Violations  []store.Violation
	Recommended *Action
	TargetUser  platform.UserID
	Quarantined bool
}

// Suppresses reports whether the recommended action removes the author,
// in which case the message must not reach the response pipeline.
func (r *Result) Suppresses() bool {
	return r != nil && r.Recommended != nil && r.Recommended.Suppresses()
}

type historyEntry struct {
	content string
	at      time.Time
}

type userHistory struct {
	entries []historyEntry
}

type spikeCounters struct {
	spam  []time.Time
	links []time.Time
	abuse []time.Time
}

// Filter is safe for concurrent use.
type Filter struct {
	cfg     config.SafetyConfig
	owner   platform.UserID
	st      *store.Store
	log     *slog.Logger
	met     *metrics.Metrics
	signals SignalFunc

	mu      sync.Mutex
	history map[historyKey]*userHistory
	spikes  map[platform.GuildID]*spikeCounters

	now func() time.Time
}

// New builds a filter. met and signals may be nil.
func New(cfg config.SafetyConfig, owner platform.UserID, st *store.Store, log *slog.Logger, met *metrics.Metrics, signals SignalFunc) *Filter {
	return &Filter{
		cfg:     cfg,
		owner:   owner,
		st:      st,
		log:     log,
		met:     met,
		signals: signals,
		history: make(map[historyKey]*userHistory),
		spikes:  make(map[platform.GuildID]*spikeCounters),
		now:     time.Now,
	}
}

type historyKey struct {
	guild platform.GuildID
	user  platform.UserID
}

// recordHistory appends the message and returns (prior messages within the
// spam window, identical messages in recent history including this one).
// Spam counts priors only so that a burst is called out on the message
// after the threshold, not on every message of a normal exchange.
func (f *Filter) recordHistory(guild platform.GuildID, user platform.UserID, content string, at time.Time) (priorInWindow, identical int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := historyKey{guild: guild, user: user}
	h, ok := f.history[key]
	if !ok {
		h = &userHistory{}
		f.history[key] = h
	}

	cutoff := at.Add(-f.cfg.SpamWindow.Or(30 * time.Second))
	for _, e := range h.entries {
		if !e.at.Before(cutoff) {
			priorInWindow++
		}
	}

	h.entries = append(h.entries, historyEntry{content: content, at: at})
	if len(h.entries) > historyKeep {
		h.entries = h.entries[len(h.entries)-historyKeep:]
	}
	for _, e := range h.entries {
		if e.content == content {
			identical++
		}
	}
	return priorInWindow, identical
}

// Analyze runs every detector over one message, persists violations,
// updates the author's profile, and returns the verdict. A nil Result
// means no violation. Store failures degrade to detection-only.
func (f *Filter) Analyze(ctx context.Context, ev platform.Event) (*Result, error) {
	if ev.AuthorID == f.owner {
		return nil, nil
	}

	now := f.now().UTC()
	profile, err := f.st.UserProfile(ctx, ev.AuthorID, ev.GuildID)
	if err != nil {
		f.log.Warn("profile load failed, detection continues without history",
			"user", ev.AuthorID, "error", err)
		profile = store.NewUserProfile(ev.AuthorID, ev.GuildID)
	}

	priorInWindow, identical := f.recordHistory(ev.GuildID, ev.AuthorID, ev.Content, now)
	detections := f.detect(ev, profile, priorInWindow, identical)

	// Profile bookkeeping happens for every analyzed message.
	f.touchProfile(profile, ev.Content, detections, now)
	if err := f.st.PutUserProfile(ctx, profile); err != nil {
		f.log.Warn("profile save failed", "user", ev.AuthorID, "error", err)
	}

	if len(detections) == 0 {
		return nil, nil
	}

	res := &Result{TargetUser: ev.AuthorID, Quarantined: profile.Quarantined}
	for _, d := range detections {
		v := store.Violation{
			UserID:          ev.AuthorID,
			GuildID:         ev.GuildID,
			ChannelID:       ev.ChannelID,
			MessageID:       ev.MessageID,
			Type:            d.Type,
			Severity:        d.Severity,
			Timestamp:       now,
			HeuristicScore:  d.HeuristicScore,
			MLConfidence:    0,
			FinalConfidence: d.HeuristicScore,
			DetectionMethod: d.Method,
			MessageContent:  ev.Content,
			Evidence:        d.Evidence,
			StaffReviewed:   true,
		}
		res.Violations = append(res.Violations, v)
		if f.met != nil {
			f.met.ViolationsDetected.WithLabelValues(d.Type, d.Severity.String()).Inc()
		}
		f.countSpike(ev.GuildID, d.Type, now)
	}

	action, reviewed := f.recommend(ctx, res.Violations, now)
	res.Recommended = action
	for i := range res.Violations {
		res.Violations[i].StaffReviewed = reviewed
		if err := f.st.AppendViolation(ctx, &res.Violations[i]); err != nil {
			f.log.Warn("violation record failed", "user", ev.AuthorID, "type", res.Violations[i].Type, "error", err)
		}
	}
	worst := &res.Violations[0]
	for i := range res.Violations {
		if res.Violations[i].Severity > worst.Severity {
			worst = &res.Violations[i]
		}
	}

	f.log.Info("violation detected",
		"user", ev.AuthorID, "guild", ev.GuildID, "type", worst.Type,
		"severity", worst.Severity.String(), "confidence", worst.FinalConfidence,
		"action", res.Recommended.Kind)
	f.emitSpikes(ev.GuildID, now)
	return res, nil
}

func (f *Filter) detect(ev platform.Event, profile *store.UserProfile, priorInWindow, identical int) []detection {
	var out []detection

	if spamThreshold := orInt(f.cfg.SpamThreshold, 3); priorInWindow >= spamThreshold {
		score := 0.6 + 0.1*float64(priorInWindow-spamThreshold)
		if score > 1 {
			score = 1
		}
		out = append(out, detection{
			Type: TypeSpamMessages, Severity: store.SeverityMedium,
			HeuristicScore: score, Method: "message_rate",
			Evidence: map[string]any{"in_window": priorInWindow + 1},
		})
	}
	if limit := orInt(f.cfg.IdenticalLimit, 3); identical >= limit {
		score := 0.7 + 0.1*float64(identical-limit)
		if score > 1 {
			score = 1
		}
		out = append(out, detection{
			Type: TypeRepeatedContent, Severity: store.SeverityMedium,
			HeuristicScore: score, Method: "identical_repeat",
			Evidence: map[string]any{"repeats": identical},
		})
	}
	if d := detectMassMentions(len(ev.Mentions), ev.RoleMentions, orInt(f.cfg.MentionLimit, 5)); d != nil {
		out = append(out, *d)
	}
	if d := detectCapsAbuse(ev.Content, orFloat(f.cfg.CapsRatio, 0.8)); d != nil {
		out = append(out, *d)
	}
	if d := detectToxicity(ev.Content, orFloat(f.cfg.ToxicityThreshold, 0.7)); d != nil {
		out = append(out, *d)
	}
	if d := detectUnsafeLinks(ev.Content); d != nil {
		out = append(out, *d)
	}
	if d := detectScam(ev.Content); d != nil {
		out = append(out, *d)
	}
	if d := detectBotAbuse(ev.Content, profile.AvgMessageLength); d != nil {
		out = append(out, *d)
	}
	return out
}

// recommend picks the ladder action for the worst violation, applying the
// confidence gates. Returns the action and whether it counts as reviewed.
func (f *Filter) recommend(ctx context.Context, vs []store.Violation, now time.Time) (*Action, bool) {
	worst := vs[0]
	for _, v := range vs[1:] {
		if v.Severity > worst.Severity {
			worst = v
		}
	}

	if worst.FinalConfidence < warnBelow {
		return &Action{Kind: ActionWarning}, true
	}

	cutoff := now.Add(-f.cfg.RepeatWindow.Or(30 * 24 * time.Hour))
	priors, err := f.st.CountViolationsSince(ctx, worst.UserID, worst.GuildID, worst.Severity, cutoff)
	if err != nil {
		// Fail toward the lowest tier rather than over-punishing.
		f.log.Warn("tier lookup failed, using first tier", "user", worst.UserID, "error", err)
		priors = 0
	}
	action := LadderAction(worst.Severity, priors)
	if worst.FinalConfidence >= enactAtLeast {
		return &action, true
	}
	return &action, false
}

func (f *Filter) touchProfile(p *store.UserProfile, content string, detections []detection, now time.Time) {
	p.TotalInteractions++
	p.LastInteraction = now
	if p.AvgMessageLength == 0 {
		p.AvgMessageLength = float64(len(content))
	} else {
		p.AvgMessageLength = emaAlpha*float64(len(content)) + (1-emaAlpha)*p.AvgMessageLength
	}

	if len(detections) == 0 {
		p.TrustScore += 0.05
	} else {
		for _, d := range detections {
			p.TrustScore -= 5 * float64(d.Severity)
		}
		p.PunishmentLevel++
	}
	p.Clamp()
	if p.TrustScore <= orFloat(f.cfg.QuarantineThreshold, 10) {
		p.Quarantined = true
	}
}

func (f *Filter) countSpike(guild platform.GuildID, vtype string, now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sc, ok := f.spikes[guild]
	if !ok {
		sc = &spikeCounters{}
		f.spikes[guild] = sc
	}
	switch vtype {
	case TypeSpamMessages, TypeRepeatedContent:
		sc.spam = append(sc.spam, now)
	case TypeUnsafeLinks, TypeScamAttempt:
		sc.links = append(sc.links, now)
	case TypeBotAbuse:
		sc.abuse = append(sc.abuse, now)
	}
}

// emitSpikes fires adaptation signals when violation rates cross their
// per-minute thresholds, then resets the tripped counter.
func (f *Filter) emitSpikes(guild platform.GuildID, now time.Time) {
	if f.signals == nil {
		return
	}
	f.mu.Lock()
	sc := f.spikes[guild]
	if sc == nil {
		f.mu.Unlock()
		return
	}
	cutoff := now.Add(-time.Minute)
	sc.spam = trimTimes(sc.spam, cutoff)
	sc.links = trimTimes(sc.links, cutoff)
	sc.abuse = trimTimes(sc.abuse, cutoff)

	var fire []struct {
		signal string
		count  int
	}
	if len(sc.spam) >= 5 {
		fire = append(fire, struct {
			signal string
			count  int
		}{adaptation.SignalSpamSpike, len(sc.spam)})
		sc.spam = nil
	}
	if len(sc.links) >= 3 {
		fire = append(fire, struct {
			signal string
			count  int
		}{adaptation.SignalLinkSpike, len(sc.links)})
		sc.links = nil
	}
	if len(sc.abuse) >= 3 {
		fire = append(fire, struct {
			signal string
			count  int
		}{adaptation.SignalBotAnomaly, len(sc.abuse)})
		sc.abuse = nil
	}
	f.mu.Unlock()

	for _, s := range fire {
		f.signals(guild, s.signal, map[string]any{"violations_per_min": s.count})
	}
}

func trimTimes(ts []time.Time, cutoff time.Time) []time.Time {
	out := ts[:0]
	for _, t := range ts {
		if !t.Before(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func orInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func orFloat(v, def float64) float64 {
	if v > 0 {
		return v
	}
	return def
}
