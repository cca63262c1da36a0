package safety

import (
	"time"

	"github.com/nextlevelbuilder/astra/internal/store"
)

// ActionKind is an enforcement verb the platform layer can carry out.
type ActionKind string

const (
	ActionWarning ActionKind = "warning"
	ActionMute    ActionKind = "mute"
	ActionTimeout ActionKind = "timeout"
	ActionKick    ActionKind = "kick"
	ActionBan     ActionKind = "ban"
)

// Action is a ladder rung: what to do and for how long. Zero duration on
// a ban means permanent.
type Action struct {
	Kind     ActionKind
	Duration time.Duration
}

// Suppresses reports whether the action removes the user from the
// conversation, in which case the response pipeline is skipped.
func (a Action) Suppresses() bool {
	switch a.Kind {
	case ActionMute, ActionTimeout, ActionKick, ActionBan:
		return true
	}
	return false
}

// ladder maps severity to the four escalation tiers
// (first, second, third, permanent).
var ladder = map[store.Severity][4]Action{
	store.SeverityLow: {
		{Kind: ActionWarning},
		{Kind: ActionMute, Duration: 900 * time.Second},
		{Kind: ActionMute, Duration: 3600 * time.Second},
		{Kind: ActionKick},
	},
	store.SeverityMedium: {
		{Kind: ActionMute, Duration: 3600 * time.Second},
		{Kind: ActionMute, Duration: 21600 * time.Second},
		{Kind: ActionTimeout, Duration: 86400 * time.Second},
		{Kind: ActionKick},
	},
	store.SeverityHigh: {
		{Kind: ActionMute, Duration: 21600 * time.Second},
		{Kind: ActionTimeout, Duration: 86400 * time.Second},
		{Kind: ActionBan, Duration: 604800 * time.Second},
		{Kind: ActionBan},
	},
	store.SeveritySevere: {
		{Kind: ActionBan, Duration: 604800 * time.Second},
		{Kind: ActionBan, Duration: 2592000 * time.Second},
		{Kind: ActionBan},
		{Kind: ActionBan},
	},
}

// LadderAction returns the action for a severity given the count of prior
// same-or-higher-severity violations inside the repeat window.
func LadderAction(sev store.Severity, priors int) Action {
	rungs, ok := ladder[sev]
	if !ok {
		return Action{Kind: ActionWarning}
	}
	tier := priors
	if tier > 3 {
		tier = 3
	}
	return rungs[tier]
}
