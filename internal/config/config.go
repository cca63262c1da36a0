package config

import (
	"time"
)

// Config is the root configuration for the Astra core.
// Loaded once at start; runtime mutation of personalities, overrides and
// adaptation events goes through the state store, not this struct.
type Config struct {
	Bot        BotConfig        `json:"bot"`
	AI         AIConfig         `json:"ai"`
	Store      StoreConfig      `json:"store"`
	Cache      CacheConfig      `json:"cache"`
	Safety     SafetyConfig     `json:"safety"`
	Adaptation AdaptationConfig `json:"adaptation"`
	Engagement EngagementConfig `json:"engagement"`
	Ingest     IngestConfig     `json:"ingest,omitempty"`
	Image      ImageConfig      `json:"image"`
	WelcomeDM  WelcomeDMConfig  `json:"welcome_dm"`
	Discord    DiscordConfig    `json:"discord"`
	Telemetry  TelemetryConfig  `json:"telemetry,omitempty"`
	Metrics    MetricsConfig    `json:"metrics,omitempty"`
}

// BotConfig identifies the bot and its invocation triggers.
type BotConfig struct {
	OwnerID   uint64   `json:"owner_id"`
	WakeWords []string `json:"wake_words,omitempty"`
	Prefix    string   `json:"prefix,omitempty"`
	Name      string   `json:"name,omitempty"` // display name, default "Astra"
}

// ProviderSpec configures one AI provider in preference order.
type ProviderSpec struct {
	Name    string `json:"name"`              // "openai", "anthropic", "openrouter", ...
	Kind    string `json:"kind,omitempty"`    // wire protocol: "openai" (default) or "anthropic"
	APIKey  string `json:"-"`                 // from env ASTRA_<NAME>_API_KEY only
	APIBase string `json:"api_base,omitempty"`
	Model   string `json:"model,omitempty"`   // default model for this provider
	// RatePerMin bounds requests to this provider; 0 = default 30.
	RatePerMin int `json:"rate_per_min,omitempty"`
	// Images marks this provider as the image-generation backend.
	Images bool `json:"images,omitempty"`
}

// AIConfig holds the ordered provider list and request defaults.
type AIConfig struct {
	Providers      []ProviderSpec `json:"providers"`
	DefaultModel   string         `json:"default_model,omitempty"`
	Temperature    float64        `json:"temperature,omitempty"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	RequestTimeout Duration       `json:"request_timeout,omitempty"` // per provider attempt, default 30s
	TextDeadline   Duration       `json:"text_deadline,omitempty"`   // end-to-end, default 45s
	ImageDeadline  Duration       `json:"image_deadline,omitempty"`  // end-to-end, default 90s
}

// StoreConfig configures the embedded state store.
type StoreConfig struct {
	Path                  string `json:"path,omitempty"` // default ~/.astra/astra.db
	ConversationRetention int    `json:"conversation_retention_days,omitempty"` // default 90
	AppealRetention       int    `json:"appeal_retention_days,omitempty"`       // default 30
	// MaintenanceSchedule is a cron expression for the nightly purge+vacuum.
	MaintenanceSchedule string `json:"maintenance_schedule,omitempty"` // default "0 4 * * *"
}

// CacheConfig configures the two-tier cache.
type CacheConfig struct {
	Capacity int    `json:"capacity,omitempty"`  // tier-1 entries, default 1000
	RedisURL string `json:"redis_url,omitempty"` // tier 2; empty = tier 1 only
}

// SafetyConfig enumerates every detector threshold.
type SafetyConfig struct {
	SpamThreshold       int      `json:"spam_threshold,omitempty"`        // default 3 msgs
	SpamWindow          Duration `json:"spam_window,omitempty"`           // default 30s
	IdenticalLimit      int      `json:"identical_limit,omitempty"`       // default 3
	MentionLimit        int      `json:"mention_limit,omitempty"`         // default 5
	CapsRatio           float64  `json:"caps_ratio,omitempty"`            // default 0.8
	ToxicityThreshold   float64  `json:"toxicity_threshold,omitempty"`    // default 0.7
	RepeatWindow        Duration `json:"repeat_window,omitempty"`         // ladder tier lookback, default 30d
	QuarantineThreshold float64  `json:"quarantine_threshold,omitempty"`  // default 10
	// InlineBudget caps how many safety evaluations may bypass the ingest
	// queue per second when it overflows.
	InlineBudget int `json:"inline_budget,omitempty"` // default 50
}

// AdaptationConfig tunes the personality adaptation engine.
type AdaptationConfig struct {
	Cooldown Duration `json:"cooldown,omitempty"`  // per-guild, default 300s
	EventTTL Duration `json:"event_ttl,omitempty"` // default 30m
	// Signal-source thresholds.
	RaidJoinCount     int      `json:"raid_join_count,omitempty"`     // default 25 joins
	RaidJoinWindow    Duration `json:"raid_join_window,omitempty"`    // default 60s
	RaidMaxAccountAge Duration `json:"raid_max_account_age,omitempty"` // default 24h
	LinkSpikeRate     float64  `json:"link_spike_rate,omitempty"`     // links/min, default 10
	LowEngagementRate float64  `json:"low_engagement_rate,omitempty"` // msgs/min floor, default 0.5
	QuietHoursStart   string   `json:"quiet_hours_start,omitempty"`   // "HH:MM", default "22:00"
	QuietHoursEnd     string   `json:"quiet_hours_end,omitempty"`     // "HH:MM", default "06:00"
}

// EngagementConfig tunes proactive engagement.
type EngagementConfig struct {
	Threshold   float64  `json:"threshold,omitempty"`    // default 0.4
	CooldownMin Duration `json:"cooldown_min,omitempty"` // default 1m
	CooldownMax Duration `json:"cooldown_max,omitempty"` // default 5m
}

// ImageConfig configures the image-generation path.
type ImageConfig struct {
	DefaultChannel uint64   `json:"default_channel,omitempty"`
	UserHourly     int      `json:"user_hourly,omitempty"`      // default 5
	ModeratorHourly int     `json:"moderator_hourly,omitempty"` // default 20
	AdminHourly    int      `json:"admin_hourly,omitempty"`     // default 50
	PromptBlocklist []string `json:"prompt_blocklist,omitempty"`
}

// WelcomeDMConfig configures the member-join welcome queue.
type WelcomeDMConfig struct {
	Enabled bool `json:"enabled,omitempty"`
	// Interval between queue sends; platform DM limits demand >= 1.2s.
	SendInterval Duration `json:"send_interval,omitempty"` // default 1.2s
	Defer        Duration `json:"defer,omitempty"`         // default 3.5s after join
}

// DiscordConfig configures the bundled Discord adapter.
// Token comes from env ASTRA_DISCORD_TOKEN only, never from the file.
type DiscordConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Token   string `json:"-"`
}

// TelemetryConfig configures OTLP trace export, off by default.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool   `json:"insecure,omitempty"`
	ServiceName string `json:"service_name,omitempty"` // default "astra-core"
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Addr    string `json:"addr,omitempty"` // default ":9190"
}

// IngestConfig bounds the event loop.
type IngestConfig struct {
	QueueSize int `json:"queue_size,omitempty"` // default 10000
	Workers   int `json:"workers,omitempty"`    // default 8
}

const (
	DefaultQueueSize    = 10000
	DefaultWorkers      = 8
	DefaultEchoCooldown = 5 * time.Second
)
