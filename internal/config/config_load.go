package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/titanous/json5"
)

// Duration is a time.Duration that accepts "30s" strings or raw seconds in JSON.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Or returns the duration, or def when unset.
func (d Duration) Or(def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return time.Duration(d)
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}
	var secs float64
	if err := json.Unmarshal(data, &secs); err != nil {
		return err
	}
	*d = Duration(time.Duration(secs * float64(time.Second)))
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// Default returns a Config with every threshold at its documented default.
func Default() *Config {
	return &Config{
		Bot: BotConfig{
			Name:      "Astra",
			WakeWords: []string{"astra"},
			Prefix:    "!",
		},
		AI: AIConfig{
			Temperature:    0.7,
			MaxTokens:      1024,
			RequestTimeout: Duration(30 * time.Second),
			TextDeadline:   Duration(45 * time.Second),
			ImageDeadline:  Duration(90 * time.Second),
		},
		Store: StoreConfig{
			Path:                  "~/.astra/astra.db",
			ConversationRetention: 90,
			AppealRetention:       30,
			MaintenanceSchedule:   "0 4 * * *",
		},
		Cache: CacheConfig{
			Capacity: 1000,
		},
		Safety: SafetyConfig{
			SpamThreshold:       3,
			SpamWindow:          Duration(30 * time.Second),
			IdenticalLimit:      3,
			MentionLimit:        5,
			CapsRatio:           0.8,
			ToxicityThreshold:   0.7,
			RepeatWindow:        Duration(30 * 24 * time.Hour),
			QuarantineThreshold: 10,
			InlineBudget:        50,
		},
		Adaptation: AdaptationConfig{
			Cooldown:          Duration(300 * time.Second),
			EventTTL:          Duration(30 * time.Minute),
			RaidJoinCount:     25,
			RaidJoinWindow:    Duration(60 * time.Second),
			RaidMaxAccountAge: Duration(24 * time.Hour),
			LinkSpikeRate:     10,
			LowEngagementRate: 0.5,
			QuietHoursStart:   "22:00",
			QuietHoursEnd:     "06:00",
		},
		Engagement: EngagementConfig{
			Threshold:   0.4,
			CooldownMin: Duration(1 * time.Minute),
			CooldownMax: Duration(5 * time.Minute),
		},
		Ingest: IngestConfig{
			QueueSize: DefaultQueueSize,
			Workers:   DefaultWorkers,
		},
		Image: ImageConfig{
			UserHourly:      5,
			ModeratorHourly: 20,
			AdminHourly:     50,
		},
		WelcomeDM: WelcomeDMConfig{
			SendInterval: Duration(1200 * time.Millisecond),
			Defer:        Duration(3500 * time.Millisecond),
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "astra-core",
		},
		Metrics: MetricsConfig{
			Addr: ":9190",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file yields pure defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Secrets (API keys, tokens) come from env only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	for i := range c.AI.Providers {
		p := &c.AI.Providers[i]
		envStr("ASTRA_"+upperSnake(p.Name)+"_API_KEY", &p.APIKey)
	}

	envStr("ASTRA_DISCORD_TOKEN", &c.Discord.Token)
	if c.Discord.Token != "" {
		c.Discord.Enabled = true
	}

	envStr("ASTRA_STORE_PATH", &c.Store.Path)
	envStr("ASTRA_REDIS_URL", &c.Cache.RedisURL)
	envStr("ASTRA_MODEL", &c.AI.DefaultModel)

	if v := os.Getenv("ASTRA_OWNER_ID"); v != "" {
		if id, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.Bot.OwnerID = id
		}
	}

	envStr("ASTRA_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("ASTRA_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("ASTRA_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ASTRA_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
	if v := os.Getenv("ASTRA_METRICS_ADDR"); v != "" {
		c.Metrics.Addr = v
		c.Metrics.Enabled = true
	}
}

// StorePath returns the expanded store file path.
func (c *Config) StorePath() string {
	return ExpandHome(c.Store.Path)
}

func upperSnake(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch >= 'a' && ch <= 'z':
			out = append(out, ch-'a'+'A')
		case ch == '-' || ch == ' ' || ch == '.':
			out = append(out, '_')
		default:
			out = append(out, ch)
		}
	}
	return string(out)
}

// ExpandHome replaces a leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return filepath.Join(home, path[2:])
	}
	return home
}
