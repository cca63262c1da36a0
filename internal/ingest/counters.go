package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/astra/internal/adaptation"
	"github.com/nextlevelbuilder/astra/internal/platform"
)

// guildCounters hold the rolling per-guild rates the signal thresholds
// evaluate against.
type guildCounters struct {
	msgs       []time.Time
	links      []time.Time
	joins      []time.Time
	youngJoins []time.Time
	lastMsg    time.Time

	lastRaid  time.Time
	lastLink  time.Time
	lastQuiet time.Time
	lastLow   time.Time
}

func trimTimes(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

func (in *Ingest) guild(g platform.GuildID) *guildCounters {
	gc, ok := in.counters[g]
	if !ok {
		gc = &guildCounters{}
		in.counters[g] = gc
	}
	return gc
}

// observe updates the rolling counters for one event and fires any
// threshold-crossing signals.
func (in *Ingest) observe(ev platform.Event) {
	if ev.GuildID == 0 {
		return
	}
	now := in.now()

	in.mu.Lock()
	gc := in.guild(ev.GuildID)

	switch ev.Type {
	case platform.EventMessageCreate:
		gc.msgs = append(trimTimes(gc.msgs, now.Add(-time.Minute)), now)
		gc.lastMsg = now
		if strings.Contains(ev.Content, "http://") || strings.Contains(ev.Content, "https://") {
			gc.links = append(trimTimes(gc.links, now.Add(-time.Minute)), now)
		}
		linkRate := float64(len(gc.links))
		threshold := in.cfg.Adaptation.LinkSpikeRate
		if threshold <= 0 {
			threshold = 10
		}
		if linkRate >= threshold && now.Sub(gc.lastLink) > time.Minute {
			gc.lastLink = now
			in.mu.Unlock()
			in.emit(ev.GuildID, adaptation.SignalLinkSpike, map[string]any{"links_per_min": linkRate})
			return
		}

	case platform.EventMemberJoin:
		window := in.cfg.Adaptation.RaidJoinWindow.Or(60 * time.Second)
		maxAge := in.cfg.Adaptation.RaidMaxAccountAge.Or(24 * time.Hour)
		count := in.cfg.Adaptation.RaidJoinCount
		if count <= 0 {
			count = 25
		}

		gc.joins = append(trimTimes(gc.joins, now.Add(-window)), now)
		young := !ev.AuthorCreatedAt.IsZero() && ev.Timestamp.Sub(ev.AuthorCreatedAt) < maxAge
		if young {
			gc.youngJoins = append(trimTimes(gc.youngJoins, now.Add(-window)), now)
		}
		if len(gc.youngJoins) >= count && now.Sub(gc.lastRaid) > window {
			gc.lastRaid = now
			n := len(gc.youngJoins)
			in.mu.Unlock()
			in.emit(ev.GuildID, adaptation.SignalRaidDetected, map[string]any{"joins": n})
			return
		}
	}
	in.mu.Unlock()
}

// tick evaluates the schedule-based signals once a minute.
func (in *Ingest) tick(ctx context.Context) {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			in.evaluateSchedules()
		}
	}
}

// evaluateSchedules fires quiet_hours inside the configured window and
// low_engagement when a recently active guild's message rate falls under
// the floor. Signals re-fire at most once per adaptation validity window.
func (in *Ingest) evaluateSchedules() {
	now := in.now()
	quiet := inQuietHours(now,
		clockMinutes(in.cfg.Adaptation.QuietHoursStart, "22:00"),
		clockMinutes(in.cfg.Adaptation.QuietHoursEnd, "06:00"))
	floor := in.cfg.Adaptation.LowEngagementRate
	if floor <= 0 {
		floor = 0.5
	}
	resignal := in.cfg.Adaptation.EventTTL.Or(30 * time.Minute)

	type firing struct {
		guild   platform.GuildID
		signal  string
		payload map[string]any
	}
	var fire []firing

	in.mu.Lock()
	for g, gc := range in.counters {
		gc.msgs = trimTimes(gc.msgs, now.Add(-time.Minute))
		if quiet && now.Sub(gc.lastQuiet) > resignal {
			gc.lastQuiet = now
			fire = append(fire, firing{g, adaptation.SignalQuietHours, nil})
		}
		// A guild that was never active is just quiet, not disengaging:
		// low_engagement needs recent activity to mean anything.
		active := !gc.lastMsg.IsZero() && now.Sub(gc.lastMsg) < time.Hour
		if !quiet && active && float64(len(gc.msgs)) < floor && now.Sub(gc.lastLow) > resignal {
			gc.lastLow = now
			fire = append(fire, firing{g, adaptation.SignalLowEngagement,
				map[string]any{"msgs_per_min": len(gc.msgs)}})
		}
	}
	in.mu.Unlock()

	for _, f := range fire {
		in.emit(f.guild, f.signal, f.payload)
	}
}

func (in *Ingest) emit(guild platform.GuildID, signal string, payload map[string]any) {
	if in.signal == nil {
		return
	}
	in.log.Info("adaptation signal", "guild", guild, "signal", signal)
	in.signal(guild, signal, payload)
}

// clockMinutes parses "HH:MM" into minutes since midnight, falling back to
// def on any problem.
func clockMinutes(s, def string) int {
	parse := func(v string) (int, bool) {
		var hh, mm int
		if n, err := fmt.Sscanf(v, "%d:%d", &hh, &mm); err != nil || n != 2 ||
			hh < 0 || hh > 23 || mm < 0 || mm > 59 {
			return 0, false
		}
		return hh*60 + mm, true
	}
	if m, ok := parse(s); ok {
		return m
	}
	m, _ := parse(def)
	return m
}

// inQuietHours reports whether now falls in the [start, end) wall-clock
// window, handling windows that cross midnight.
func inQuietHours(now time.Time, start, end int) bool {
	cur := now.Hour()*60 + now.Minute()
	if start == end {
		return false
	}
	if start < end {
		return cur >= start && cur < end
	}
	return cur >= start || cur < end
}
