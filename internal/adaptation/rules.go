// Package adaptation turns environment signals (raids, spam spikes, quiet
// hours) into bounded, expiring personality shifts.
package adaptation

import (
	"github.com/nextlevelbuilder/astra/internal/personality"
)

// Signal names accepted by the engine.
const (
	SignalSpamSpike        = "spam_spike"
	SignalEventStart       = "event_start"
	SignalQuietHours       = "quiet_hours"
	SignalConflictDetected = "conflict_detected"
	SignalLowEngagement    = "low_engagement"
	SignalRaidDetected     = "raid_detected"
	SignalLinkSpike        = "link_spike"
	SignalBotAnomaly       = "bot_anomaly"
)

func modePtr(m personality.Mode) *personality.Mode { return &m }

// rules is the fixed signal→delta table. Deltas apply once per event and
// expire with the event's validity window.
var rules = map[string]personality.Delta{
	SignalSpamSpike:        {Humor: -30, Strictness: 25, Initiative: 10, Mode: modePtr(personality.ModeSecurity)},
	SignalEventStart:       {Humor: 20, Empathy: 15, Initiative: 25, Mode: modePtr(personality.ModeSocial)},
	SignalQuietHours:       {Humor: -20, Formality: 15, Empathy: 10},
	SignalConflictDetected: {Formality: 15, Empathy: 30, Strictness: 20, Mode: modePtr(personality.ModeEmpathy)},
	SignalLowEngagement:    {Humor: 25, Empathy: 15, Initiative: 30},
	SignalRaidDetected:     {Humor: -40, Formality: 20, Strictness: 40, Mode: modePtr(personality.ModeSecurity)},
	SignalLinkSpike:        {Honesty: 10, Strictness: 15},
	SignalBotAnomaly:       {Formality: 15, Strictness: 20},
}

// DeltaFor returns the rule delta for a signal, if the signal is known.
func DeltaFor(signal string) (personality.Delta, bool) {
	d, ok := rules[signal]
	return d, ok
}

// KnownSignals lists every signal the engine accepts.
func KnownSignals() []string {
	out := make([]string, 0, len(rules))
	for s := range rules {
		out = append(out, s)
	}
	return out
}
