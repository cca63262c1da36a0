// Package discord adapts the Discord gateway and REST API to the core's
// platform contracts: gateway events become platform.Events, and the
// Actions sink maps onto REST calls with the platform's rate limits.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/nextlevelbuilder/astra/internal/config"
	"github.com/nextlevelbuilder/astra/internal/platform"
)

// Discord caps DMs around 1/1.2s globally and channel sends at burst 5
// per 5s; staying under both avoids REST 429s in the common case.
const (
	dmInterval     = 1200 * time.Millisecond
	channelEvery   = time.Second
	channelBurst   = 5
	eventChanDepth = 1024
)

// Adapter is both the event source and the action sink for Discord.
type Adapter struct {
	session *discordgo.Session
	log     *slog.Logger
	botID   platform.UserID

	events chan platform.Event

	dmLimiter *rate.Limiter
	mu        sync.Mutex
	chLimits  map[platform.ChannelID]*rate.Limiter
}

// New builds the adapter. The token comes from config (env-sourced).
func New(cfg config.DiscordConfig, log *slog.Logger) (*Adapter, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildMessageReactions

	return &Adapter{
		session:   session,
		log:       log,
		events:    make(chan platform.Event, eventChanDepth),
		dmLimiter: rate.NewLimiter(rate.Every(dmInterval), 1),
		chLimits:  make(map[platform.ChannelID]*rate.Limiter),
	}, nil
}

// BotID returns the connected bot account's user ID. Zero before Start.
func (a *Adapter) BotID() platform.UserID { return a.botID }

// Start opens the gateway connection and begins translating events.
func (a *Adapter) Start(ctx context.Context) error {
	a.session.AddHandler(a.onMessageCreate)
	a.session.AddHandler(a.onMemberAdd)
	a.session.AddHandler(a.onReactionAdd)
	a.session.AddHandler(a.onGuildDelete)
	a.session.AddHandler(a.onConnect)
	a.session.AddHandler(a.onDisconnect)

	if err := a.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := a.session.User("@me")
	if err != nil {
		a.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	a.botID = platform.UserID(parseSnowflake(user.ID))
	a.log.Info("discord connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the gateway and the event channel.
func (a *Adapter) Stop(ctx context.Context) error {
	err := a.session.Close()
	close(a.events)
	return err
}

// Events is the translated platform event stream.
func (a *Adapter) Events() <-chan platform.Event { return a.events }

// push drops events rather than blocking the gateway goroutine; the ingest
// queue applies its own backpressure behind this channel.
func (a *Adapter) push(ev platform.Event) {
	select {
	case a.events <- ev:
	default:
		a.log.Warn("event channel full, dropping", "type", ev.Type)
	}
}

func (a *Adapter) onMessageCreate(_ *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	ev := platform.Event{
		Type:            platform.EventMessageCreate,
		Timestamp:       m.Timestamp,
		GuildID:         platform.GuildID(parseSnowflake(m.GuildID)),
		ChannelID:       platform.ChannelID(parseSnowflake(m.ChannelID)),
		MessageID:       platform.MessageID(parseSnowflake(m.ID)),
		AuthorID:        platform.UserID(parseSnowflake(m.Author.ID)),
		AuthorIsBot:     m.Author.Bot,
		Content:         m.Content,
		RoleMentions:    len(m.MentionRoles),
		AuthorCreatedAt: SnowflakeTime(parseSnowflake(m.Author.ID)),
	}
	for _, att := range m.Attachments {
		ev.Attachments = append(ev.Attachments, att.URL)
	}
	for _, u := range m.Mentions {
		ev.Mentions = append(ev.Mentions, platform.UserID(parseSnowflake(u.ID)))
	}

	// Addressed messages get a typing indicator while the reply is built.
	if ev.IsDM() || mentionsBot(ev.Mentions, a.botID) {
		if err := a.session.ChannelTyping(m.ChannelID); err != nil {
			a.log.Debug("typing indicator failed", "channel", m.ChannelID, "error", err)
		}
	}
	a.push(ev)
}

func mentionsBot(mentions []platform.UserID, bot platform.UserID) bool {
	for _, m := range mentions {
		if m == bot {
			return true
		}
	}
	return false
}

func (a *Adapter) onMemberAdd(_ *discordgo.Session, g *discordgo.GuildMemberAdd) {
	if g.User == nil {
		return
	}
	a.push(platform.Event{
		Type:            platform.EventMemberJoin,
		Timestamp:       g.JoinedAt,
		GuildID:         platform.GuildID(parseSnowflake(g.GuildID)),
		AuthorID:        platform.UserID(parseSnowflake(g.User.ID)),
		AuthorIsBot:     g.User.Bot,
		AuthorCreatedAt: SnowflakeTime(parseSnowflake(g.User.ID)),
	})
}

func (a *Adapter) onReactionAdd(_ *discordgo.Session, r *discordgo.MessageReactionAdd) {
	a.push(platform.Event{
		Type:      platform.EventReactionAdd,
		Timestamp: time.Now().UTC(),
		GuildID:   platform.GuildID(parseSnowflake(r.GuildID)),
		ChannelID: platform.ChannelID(parseSnowflake(r.ChannelID)),
		MessageID: platform.MessageID(parseSnowflake(r.MessageID)),
		AuthorID:  platform.UserID(parseSnowflake(r.UserID)),
		Content:   r.Emoji.Name,
	})
}

func (a *Adapter) onGuildDelete(_ *discordgo.Session, g *discordgo.GuildDelete) {
	// Unavailable means an outage, not a removal; only real removals purge.
	if g.Unavailable {
		return
	}
	a.push(platform.Event{
		Type:      platform.EventGuildRemove,
		Timestamp: time.Now().UTC(),
		GuildID:   platform.GuildID(parseSnowflake(g.ID)),
	})
}

func (a *Adapter) onConnect(_ *discordgo.Session, _ *discordgo.Connect) {
	a.push(platform.Event{Type: platform.EventConnected, Timestamp: time.Now().UTC()})
}

func (a *Adapter) onDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	a.push(platform.Event{Type: platform.EventDisconnected, Timestamp: time.Now().UTC()})
}

// channelLimiter returns the per-channel send bucket, creating on first use.
func (a *Adapter) channelLimiter(ch platform.ChannelID) *rate.Limiter {
	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.chLimits[ch]
	if !ok {
		l = rate.NewLimiter(rate.Every(channelEvery), channelBurst)
		a.chLimits[ch] = l
	}
	return l
}

// SendMessage posts to a channel, optionally as a reply.
func (a *Adapter) SendMessage(ctx context.Context, channel platform.ChannelID, content string, replyTo platform.MessageID) error {
	if err := a.channelLimiter(channel).Wait(ctx); err != nil {
		return wrapErr("sendMessage", err)
	}
	chID := formatSnowflake(uint64(channel))
	var err error
	if replyTo != 0 {
		_, err = a.session.ChannelMessageSendReply(chID, content, &discordgo.MessageReference{
			MessageID: formatSnowflake(uint64(replyTo)),
			ChannelID: chID,
		})
	} else {
		_, err = a.session.ChannelMessageSend(chID, content)
	}
	if err != nil {
		return wrapErr("sendMessage", err)
	}
	return nil
}

// SendDM opens (or reuses) the DM channel and sends, under the global DM
// bucket.
func (a *Adapter) SendDM(ctx context.Context, user platform.UserID, content string) error {
	if err := a.dmLimiter.Wait(ctx); err != nil {
		return wrapErr("sendDM", err)
	}
	ch, err := a.session.UserChannelCreate(formatSnowflake(uint64(user)))
	if err != nil {
		return wrapErr("sendDM", err)
	}
	if _, err := a.session.ChannelMessageSend(ch.ID, content); err != nil {
		return wrapErr("sendDM", err)
	}
	return nil
}

// ApplyTimeout sets the member's communication-disabled-until timestamp.
func (a *Adapter) ApplyTimeout(ctx context.Context, user platform.UserID, guild platform.GuildID, duration time.Duration) error {
	until := time.Now().UTC().Add(duration)
	err := a.session.GuildMemberTimeout(formatSnowflake(uint64(guild)), formatSnowflake(uint64(user)), &until)
	if err != nil {
		return wrapErr("applyTimeout", err)
	}
	return nil
}

// ApplyBan bans the member. Discord bans have no native expiry; a timed
// ban is recorded in the audit reason for moderators to lift.
func (a *Adapter) ApplyBan(ctx context.Context, user platform.UserID, guild platform.GuildID, duration time.Duration, reason string) error {
	if duration > 0 {
		reason = fmt.Sprintf("%s (until %s)", reason, time.Now().UTC().Add(duration).Format(time.RFC3339))
	}
	err := a.session.GuildBanCreateWithReason(formatSnowflake(uint64(guild)), formatSnowflake(uint64(user)), reason, 0)
	if err != nil {
		return wrapErr("applyBan", err)
	}
	return nil
}

// ApplyKick removes the member from the guild.
func (a *Adapter) ApplyKick(ctx context.Context, user platform.UserID, guild platform.GuildID, reason string) error {
	err := a.session.GuildMemberDeleteWithReason(formatSnowflake(uint64(guild)), formatSnowflake(uint64(user)), reason)
	if err != nil {
		return wrapErr("applyKick", err)
	}
	return nil
}

// AddRole grants a role to the member.
func (a *Adapter) AddRole(ctx context.Context, user platform.UserID, guild platform.GuildID, role uint64) error {
	err := a.session.GuildMemberRoleAdd(formatSnowflake(uint64(guild)), formatSnowflake(uint64(user)), formatSnowflake(role))
	if err != nil {
		return wrapErr("addRole", err)
	}
	return nil
}

// RemoveRole revokes a role from the member.
func (a *Adapter) RemoveRole(ctx context.Context, user platform.UserID, guild platform.GuildID, role uint64) error {
	err := a.session.GuildMemberRoleRemove(formatSnowflake(uint64(guild)), formatSnowflake(uint64(user)), formatSnowflake(role))
	if err != nil {
		return wrapErr("removeRole", err)
	}
	return nil
}

func parseSnowflake(s string) uint64 {
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0
	}
	return v
}

func formatSnowflake(v uint64) string {
	return strconv.FormatUint(v, 10)
}

// discordEpoch is the Discord snowflake epoch in Unix milliseconds.
const discordEpoch = 1420070400000

// SnowflakeTime extracts the creation time encoded in a snowflake ID.
func SnowflakeTime(id uint64) time.Time {
	if id == 0 {
		return time.Time{}
	}
	ms := int64(id>>22) + discordEpoch
	return time.UnixMilli(ms).UTC()
}
