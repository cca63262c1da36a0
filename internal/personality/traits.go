// Package personality holds the typed trait model: guild defaults, per-user
// overrides, adaptation deltas, and the resolution that produces the
// effective profile for a single request. Pure computation plus a thin
// store-backed model type.
package personality

import "fmt"

// Mode selects the assistant's behavioural register.
type Mode string

const (
	ModeSocial         Mode = "social"
	ModeSecurity       Mode = "security"
	ModeMissionControl Mode = "mission_control"
	ModeDeveloper      Mode = "developer"
	ModeEmpathy        Mode = "empathy"
	ModeAdaptive       Mode = "adaptive"
)

// ValidMode reports whether m is a known mode.
func ValidMode(m Mode) bool {
	switch m {
	case ModeSocial, ModeSecurity, ModeMissionControl, ModeDeveloper, ModeEmpathy, ModeAdaptive:
		return true
	}
	return false
}

// Traits is the six-scalar personality vector. Every scalar is clamped to
// 0..100 after any mutation; Version increases by 1 on every persisted change.
type Traits struct {
	Humor      int   `json:"humor"`
	Honesty    int   `json:"honesty"`
	Formality  int   `json:"formality"`
	Empathy    int   `json:"empathy"`
	Strictness int   `json:"strictness"`
	Initiative int   `json:"initiative"`
	Mode       Mode  `json:"mode"`
	Version    int64 `json:"version"`
}

// Defaults returns the canonical personality defaults.
func Defaults() Traits {
	return Traits{
		Humor:      50,
		Honesty:    85,
		Formality:  40,
		Empathy:    75,
		Strictness: 45,
		Initiative: 65,
		Mode:       ModeSocial,
		Version:    1,
	}
}

// Partial is a trait write where absent fields are left untouched.
type Partial struct {
	Humor      *int  `json:"humor,omitempty"`
	Honesty    *int  `json:"honesty,omitempty"`
	Formality  *int  `json:"formality,omitempty"`
	Empathy    *int  `json:"empathy,omitempty"`
	Strictness *int  `json:"strictness,omitempty"`
	Initiative *int  `json:"initiative,omitempty"`
	Mode       *Mode `json:"mode,omitempty"`
}

// Validate rejects out-of-range scalars and unknown modes.
func (p Partial) Validate() error {
	check := func(name string, v *int) error {
		if v != nil && (*v < 0 || *v > 100) {
			return fmt.Errorf("trait %s out of range: %d", name, *v)
		}
		return nil
	}
	for _, f := range []struct {
		name string
		v    *int
	}{
		{"humor", p.Humor}, {"honesty", p.Honesty}, {"formality", p.Formality},
		{"empathy", p.Empathy}, {"strictness", p.Strictness}, {"initiative", p.Initiative},
	} {
		if err := check(f.name, f.v); err != nil {
			return err
		}
	}
	if p.Mode != nil && !ValidMode(*p.Mode) {
		return fmt.Errorf("unknown mode %q", *p.Mode)
	}
	return nil
}

// Merge applies the present fields of p onto t and clamps.
func (t Traits) Merge(p Partial) Traits {
	if p.Humor != nil {
		t.Humor = *p.Humor
	}
	if p.Honesty != nil {
		t.Honesty = *p.Honesty
	}
	if p.Formality != nil {
		t.Formality = *p.Formality
	}
	if p.Empathy != nil {
		t.Empathy = *p.Empathy
	}
	if p.Strictness != nil {
		t.Strictness = *p.Strictness
	}
	if p.Initiative != nil {
		t.Initiative = *p.Initiative
	}
	if p.Mode != nil {
		t.Mode = *p.Mode
	}
	return t.Clamped()
}

// Override is a per-(user, guild) trait overlay; nil fields inherit the
// guild value. Same shape as Partial but kept distinct: an Override is a
// persisted record, a Partial is a write request.
type Override struct {
	Humor      *int `json:"humor,omitempty"`
	Honesty    *int `json:"honesty,omitempty"`
	Formality  *int `json:"formality,omitempty"`
	Empathy    *int `json:"empathy,omitempty"`
	Strictness *int `json:"strictness,omitempty"`
	Initiative *int `json:"initiative,omitempty"`
}

// Delta is a signed trait shift carried by an adaptation event, with an
// optional mode override applied last-write-wins.
type Delta struct {
	Humor      int   `json:"humor,omitempty"`
	Honesty    int   `json:"honesty,omitempty"`
	Formality  int   `json:"formality,omitempty"`
	Empathy    int   `json:"empathy,omitempty"`
	Strictness int   `json:"strictness,omitempty"`
	Initiative int   `json:"initiative,omitempty"`
	Mode       *Mode `json:"mode,omitempty"`
}

func clamp(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Clamped returns t with every scalar clamped to 0..100.
func (t Traits) Clamped() Traits {
	t.Humor = clamp(t.Humor)
	t.Honesty = clamp(t.Honesty)
	t.Formality = clamp(t.Formality)
	t.Empathy = clamp(t.Empathy)
	t.Strictness = clamp(t.Strictness)
	t.Initiative = clamp(t.Initiative)
	return t
}

// Shift adds a delta to t and clamps. The mode override, if present, wins.
func (t Traits) Shift(d Delta) Traits {
	t.Humor += d.Humor
	t.Honesty += d.Honesty
	t.Formality += d.Formality
	t.Empathy += d.Empathy
	t.Strictness += d.Strictness
	t.Initiative += d.Initiative
	if d.Mode != nil {
		t.Mode = *d.Mode
	}
	return t.Clamped()
}

// Resolve computes the effective profile: guild base (or defaults), then the
// non-nil override fields, then each active adaptation delta in ascending
// priority order. The result is never persisted.
func Resolve(base Traits, ov *Override, deltas []Delta) Traits {
	t := base.Clamped()
	if ov != nil {
		if ov.Humor != nil {
			t.Humor = clamp(*ov.Humor)
		}
		if ov.Honesty != nil {
			t.Honesty = clamp(*ov.Honesty)
		}
		if ov.Formality != nil {
			t.Formality = clamp(*ov.Formality)
		}
		if ov.Empathy != nil {
			t.Empathy = clamp(*ov.Empathy)
		}
		if ov.Strictness != nil {
			t.Strictness = clamp(*ov.Strictness)
		}
		if ov.Initiative != nil {
			t.Initiative = clamp(*ov.Initiative)
		}
	}
	for _, d := range deltas {
		t = t.Shift(d)
	}
	return t
}
