// Package platform defines the contracts between the core and the messaging
// platform. The core consumes a stream of Events and emits Actions; it makes
// no assumption about the transport behind either side.
package platform

import (
	"context"
	"time"
)

// Opaque platform identifiers. Discord snowflakes fit in uint64; other
// platforms map their native IDs into this space.
type (
	UserID    uint64
	GuildID   uint64
	ChannelID uint64
	MessageID uint64
)

// EventType identifies the kind of platform event.
type EventType string

const (
	EventMessageCreate EventType = "messageCreate"
	EventMemberJoin    EventType = "memberJoin"
	EventReactionAdd   EventType = "messageReactionAdd"
	EventGuildRemove   EventType = "guildRemove"
	EventConnected     EventType = "connected"
	EventDisconnected  EventType = "disconnected"
)

// Event is a single record from the platform event stream.
// GuildID is zero for DMs.
type Event struct {
	Type        EventType
	Timestamp   time.Time
	GuildID     GuildID
	ChannelID   ChannelID
	MessageID   MessageID
	AuthorID    UserID
	AuthorIsBot bool
	Content     string
	Attachments []string
	Mentions    []UserID
	// RoleMentions counts @role mentions; user and role mentions together
	// feed the mass-mention detector.
	RoleMentions int
	// AuthorCreatedAt is the account creation time, when the platform
	// exposes it (Discord encodes it in the snowflake). Used for raid
	// detection on memberJoin.
	AuthorCreatedAt time.Time
}

// IsDM reports whether the event originated in a direct-message channel.
func (e Event) IsDM() bool { return e.GuildID == 0 }

// EventSource produces platform events. Implementations own the gateway
// connection lifecycle; the channel is closed on Stop.
type EventSource interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Events() <-chan Event
}

// Actions is the outbound sink for everything the core does on the platform.
// Every method returns an *ActionError on failure so callers can branch on
// the error kind.
type Actions interface {
	SendMessage(ctx context.Context, channel ChannelID, content string, replyTo MessageID) error
	SendDM(ctx context.Context, user UserID, content string) error
	ApplyTimeout(ctx context.Context, user UserID, guild GuildID, duration time.Duration) error
	ApplyBan(ctx context.Context, user UserID, guild GuildID, duration time.Duration, reason string) error
	ApplyKick(ctx context.Context, user UserID, guild GuildID, reason string) error
	AddRole(ctx context.Context, user UserID, guild GuildID, role uint64) error
	RemoveRole(ctx context.Context, user UserID, guild GuildID, role uint64) error
}
