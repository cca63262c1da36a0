// Package pipeline orchestrates one reply: admission, identity and fast
// shortcuts, the respond decision, context assembly, the provider call,
// style post-processing, and chunked delivery.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/convo"
	"github.com/nextlevelbuilder/astra/internal/identity"
	"github.com/nextlevelbuilder/astra/internal/imagegen"
	"github.com/nextlevelbuilder/astra/internal/metrics"
	"github.com/nextlevelbuilder/astra/internal/personality"
	"github.com/nextlevelbuilder/astra/internal/platform"
	"github.com/nextlevelbuilder/astra/internal/providers"
	"github.com/nextlevelbuilder/astra/internal/store"
	"github.com/nextlevelbuilder/astra/internal/telemetry"
)

// echoWindow suppresses back-to-back replies to the same user in the
// same channel.
const echoWindow = 5 * time.Second

type echoKey struct {
	channel platform.ChannelID
	user    platform.UserID
}

// ImageGenerator is the image subsystem's surface.
type ImageGenerator interface {
	Generate(ctx context.Context, req imagegen.Request) (*imagegen.Result, error)
}

// Pipeline is safe for concurrent use; one Process call per message.
type Pipeline struct {
	cfg      *config.Config
	model    *personality.Model
	sessions *convo.Manager
	router   *providers.Router
	actions  platform.Actions
	st       *store.Store
	log      *slog.Logger
	met      *metrics.Metrics
	botID    platform.UserID
	images   ImageGenerator

	mu         sync.Mutex
	lastReply  map[echoKey]time.Time
	nextEngage map[platform.ChannelID]time.Time

	now   func() time.Time
	randf func() float64
}

// New wires a pipeline. met may be nil in tests.
func New(cfg *config.Config, model *personality.Model, sessions *convo.Manager, router *providers.Router, actions platform.Actions, st *store.Store, log *slog.Logger, met *metrics.Metrics, botID platform.UserID) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		model:      model,
		sessions:   sessions,
		router:     router,
		actions:    actions,
		st:         st,
		log:        log,
		met:        met,
		botID:      botID,
		lastReply:  make(map[echoKey]time.Time),
		nextEngage: make(map[platform.ChannelID]time.Time),
		now:        time.Now,
		randf:      rand.Float64,
	}
}

// SetImageService attaches the image path. Optional; without it image
// commands are ignored.
func (p *Pipeline) SetImageService(g ImageGenerator) { p.images = g }

func (p *Pipeline) countResponse(path string) {
	if p.met != nil {
		p.met.ResponsesSent.WithLabelValues(path).Inc()
	}
}

// Process handles one admitted message event end to end.
func (p *Pipeline) Process(ctx context.Context, ev platform.Event) error {
	if ev.Type != platform.EventMessageCreate || ev.AuthorIsBot {
		return nil
	}
	if strings.TrimSpace(ev.Content) == "" {
		return nil
	}

	now := p.now()
	key := echoKey{channel: ev.ChannelID, user: ev.AuthorID}
	p.mu.Lock()
	last, echoed := p.lastReply[key]
	p.mu.Unlock()
	if echoed && now.Sub(last) < echoWindow {
		return nil
	}

	// Image commands branch off before any text machinery runs.
	if prompt, ok := p.imageCommand(ev.Content); ok {
		if p.images == nil {
			return nil
		}
		return p.handleImage(ctx, ev, prompt, key)
	}

	traits, err := p.model.Effective(ctx, ev.AuthorID, ev.GuildID)
	if err != nil {
		// Effective degrades to defaults on store trouble; keep going.
		p.log.Warn("personality resolve degraded", "guild", ev.GuildID, "error", err)
	}
	sessionKey := convo.SessionKey{Guild: ev.GuildID, Channel: ev.ChannelID, User: ev.AuthorID}
	snapshot, _ := json.Marshal(traits)

	// Identity shortcut: template reply, no provider.
	if category, ok := identity.Match(ev.Content); ok {
		reply := identity.Respond(category, traits, p.botName())
		p.recordExchange(ctx, sessionKey, snapshot, ev.Content, reply, ev.Timestamp)
		p.countResponse("identity")
		return p.deliver(ctx, ev.ChannelID, ev.MessageID, reply, key)
	}

	// Trivial inputs get a canned reply.
	if reply, ok := fastReply(ev.Content, traits); ok {
		p.recordExchange(ctx, sessionKey, snapshot, ev.Content, reply, ev.Timestamp)
		p.countResponse("fast")
		return p.deliver(ctx, ev.ChannelID, ev.MessageID, reply, key)
	}

	profile := p.loadProfile(ctx, ev)
	respond, proactive := p.shouldRespond(ev, profile, now)
	if !respond {
		// Keep the window warm so later replies have the context.
		p.sessions.Update(ctx, sessionKey, snapshot, func(w *convo.Window) {
			w.Append(convo.RoleUser, ev.Content, ev.Timestamp)
		})
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.AI.TextDeadline.Or(45*time.Second))
	defer cancel()

	reply, err := p.respond(reqCtx, ev, traits, profile, sessionKey, snapshot)
	if err != nil {
		// Shutdown cancellation sends nothing; anything else, the
		// request deadline included, gets a fallback so the user is
		// never left hanging.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		p.log.Warn("response failed, sending fallback",
			"guild", ev.GuildID, "channel", ev.ChannelID, "error", err)
		p.countResponse("fallback")
		return p.deliver(ctx, ev.ChannelID, ev.MessageID, fallbackFor(err), key)
	}

	if proactive {
		p.countResponse("proactive")
	} else {
		p.countResponse("provider")
	}
	return p.deliver(ctx, ev.ChannelID, ev.MessageID, reply, key)
}

// imageCommand matches "<prefix>draw <prompt>" and "<prefix>image <prompt>".
func (p *Pipeline) imageCommand(content string) (string, bool) {
	prefix := p.cfg.Bot.Prefix
	if prefix == "" {
		prefix = "!"
	}
	trimmed := strings.TrimSpace(content)
	lower := strings.ToLower(trimmed)
	for _, cmd := range []string{prefix + "draw", prefix + "image"} {
		if !strings.HasPrefix(lower, cmd) {
			continue
		}
		rest := trimmed[len(cmd):]
		if rest != "" && rest[0] != ' ' {
			// "!drawing ..." is not a command.
			continue
		}
		return strings.TrimSpace(rest), true
	}
	return "", false
}

// handleImage runs the image path under its own deadline. Denials carry a
// user-safe message; anything else gets the generic unavailable line.
func (p *Pipeline) handleImage(ctx context.Context, ev platform.Event, prompt string, key echoKey) error {
	tier := imagegen.TierUser
	if p.cfg.Bot.OwnerID != 0 && uint64(ev.AuthorID) == p.cfg.Bot.OwnerID {
		tier = imagegen.TierAdmin
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.cfg.AI.ImageDeadline.Or(90*time.Second))
	defer cancel()

	res, err := p.images.Generate(reqCtx, imagegen.Request{
		User:    ev.AuthorID,
		Guild:   ev.GuildID,
		Channel: ev.ChannelID,
		Prompt:  prompt,
		Tier:    tier,
	})
	if err != nil {
		msg := "The image service is unavailable right now. Try again later."
		var denial *imagegen.Denial
		if errors.As(err, &denial) {
			msg = denial.Message
		}
		p.countResponse("image_denied")
		return p.deliver(ctx, ev.ChannelID, ev.MessageID, msg, key)
	}
	p.countResponse("image")
	return p.deliver(ctx, ev.ChannelID, ev.MessageID, res.URL, key)
}

func (p *Pipeline) botName() string {
	if p.cfg.Bot.Name != "" {
		return p.cfg.Bot.Name
	}
	return "Astra"
}

func (p *Pipeline) loadProfile(ctx context.Context, ev platform.Event) *store.UserProfile {
	profile, err := p.st.UserProfile(ctx, ev.AuthorID, ev.GuildID)
	if err != nil {
		p.log.Warn("profile load failed, using defaults", "user", ev.AuthorID, "error", err)
		return store.NewUserProfile(ev.AuthorID, ev.GuildID)
	}
	return profile
}

// shouldRespond decides whether to reply at all, and whether the reply is
// proactive (scored) rather than addressed.
func (p *Pipeline) shouldRespond(ev platform.Event, profile *store.UserProfile, now time.Time) (respond, proactive bool) {
	if ev.IsDM() {
		return true, false
	}
	for _, m := range ev.Mentions {
		if m == p.botID {
			return true, false
		}
	}
	lower := strings.ToLower(ev.Content)
	for _, w := range p.cfg.Bot.WakeWords {
		if w != "" && strings.Contains(lower, strings.ToLower(w)) {
			return true, false
		}
	}

	threshold := p.cfg.Engagement.Threshold
	if threshold <= 0 {
		threshold = 0.4
	}
	score := engagementScore(ev.Content, profile, p.randf)
	if score < threshold {
		return false, false
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if next, ok := p.nextEngage[ev.ChannelID]; ok && now.Before(next) {
		return false, false
	}
	minCd := p.cfg.Engagement.CooldownMin.Or(time.Minute)
	maxCd := p.cfg.Engagement.CooldownMax.Or(5 * time.Minute)
	cooldown := minCd + time.Duration(p.randf()*float64(maxCd-minCd))
	p.nextEngage[ev.ChannelID] = now.Add(cooldown)
	return true, true
}

// respond runs the provider leg: context assembly, routing, post-process,
// and session bookkeeping.
func (p *Pipeline) respond(ctx context.Context, ev platform.Event, traits personality.Traits, profile *store.UserProfile, sessionKey convo.SessionKey, snapshot []byte) (reply string, err error) {
	ctx, span := telemetry.Span(ctx, "pipeline.respond",
		attribute.Int64("guild.id", int64(ev.GuildID)),
		attribute.Int64("channel.id", int64(ev.ChannelID)))
	defer func() { telemetry.End(span, err) }()

	topics := convo.ExtractTopics(ev.Content)

	p.sessions.Update(ctx, sessionKey, snapshot, func(w *convo.Window) {
		w.Append(convo.RoleUser, ev.Content, ev.Timestamp)
	})
	window := p.sessions.Snapshot(ctx, sessionKey)

	messages := []providers.Message{{Role: "system", Content: p.systemPrompt(traits, topics)}}
	for _, t := range window.PromptTurns(3, 8) {
		messages = append(messages, providers.Message{Role: string(t.Role), Content: t.Content})
	}

	resp, err := p.router.Route(ctx, providers.ChatRequest{
		Guild:       ev.GuildID,
		User:        ev.AuthorID,
		Messages:    messages,
		Model:       p.cfg.AI.DefaultModel,
		Temperature: p.cfg.AI.Temperature,
		MaxTokens:   p.cfg.AI.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	reply = postProcess(resp.Content, personality.StyleFor(traits), profile.UsesEmoji, topics, p.randf)

	p.sessions.Update(ctx, sessionKey, snapshot, func(w *convo.Window) {
		w.Append(convo.RoleAssistant, reply, p.now())
	})
	p.updateProfileInterests(ctx, profile, ev.Content, topics)
	return reply, nil
}

// systemPrompt renders the personality into provider instructions.
func (p *Pipeline) systemPrompt(traits personality.Traits, topics []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, a chat assistant in a community server.\n", p.botName())
	fmt.Fprintf(&b, "Personality (0-100): humor=%d honesty=%d formality=%d empathy=%d strictness=%d initiative=%d.\n",
		traits.Humor, traits.Honesty, traits.Formality, traits.Empathy, traits.Strictness, traits.Initiative)
	fmt.Fprintf(&b, "Operating mode: %s.\n", traits.Mode)

	switch {
	case traits.Formality < 30:
		b.WriteString("Keep the tone relaxed and conversational.\n")
	case traits.Formality > 70:
		b.WriteString("Keep the tone polished and precise.\n")
	}
	if traits.Strictness > 70 {
		b.WriteString("Be firm about server rules when they come up.\n")
	}
	if len(topics) > 0 {
		fmt.Fprintf(&b, "Active topics: %s.\n", strings.Join(topics, ", "))
	}
	b.WriteString("Reply in at most a few short paragraphs.")
	return b.String()
}

// updateProfileInterests folds the message's topics and emoji habit into
// the author's profile. Best-effort; the reply does not wait on it.
func (p *Pipeline) updateProfileInterests(ctx context.Context, profile *store.UserProfile, content string, topics []string) {
	changed := false
	if hasEmoji(content) && !profile.UsesEmoji {
		profile.UsesEmoji = true
		changed = true
	}
	if len(topics) > 0 {
		if profile.PreferredTopics == nil {
			profile.PreferredTopics = map[string]float64{}
		}
		for _, topic := range topics {
			w := profile.PreferredTopics[topic] + 0.1
			if w > 1 {
				w = 1
			}
			profile.PreferredTopics[topic] = w
		}
		changed = true
	}
	if !changed {
		return
	}
	if err := p.st.PutUserProfile(ctx, profile); err != nil {
		p.log.Warn("profile interest update failed", "user", profile.UserID, "error", err)
	}
}

// recordExchange appends both turns of a shortcut reply to the window.
func (p *Pipeline) recordExchange(ctx context.Context, key convo.SessionKey, snapshot []byte, userMsg, reply string, at time.Time) {
	p.sessions.Update(ctx, key, snapshot, func(w *convo.Window) {
		w.Append(convo.RoleUser, userMsg, at)
		w.Append(convo.RoleAssistant, reply, p.now())
	})
}

// deliver chunks and sends the reply, then arms the anti-echo window.
func (p *Pipeline) deliver(ctx context.Context, channel platform.ChannelID, replyTo platform.MessageID, content string, key echoKey) error {
	for i, chunk := range Chunk(content) {
		ref := replyTo
		if i > 0 {
			ref = 0
		}
		if err := p.actions.SendMessage(ctx, channel, chunk, ref); err != nil {
			return fmt.Errorf("send reply: %w", err)
		}
	}
	p.mu.Lock()
	p.lastReply[key] = p.now()
	p.mu.Unlock()
	return nil
}

// fallbackFor picks the user-visible phrase for a failed response.
func fallbackFor(err error) string {
	var pf *providers.ProviderFailure
	if errors.As(err, &pf) {
		if pf.Permanent {
			return "I'm having a configuration issue right now. The admins have been notified — try again later."
		}
		return pf.Fallback()
	}
	return "I couldn't put a good answer together just now. Try me again in a bit."
}
