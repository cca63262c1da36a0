package identity

import (
	"strings"
	"testing"

	"github.com/nextlevelbuilder/astra/internal/personality"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		content string
		want    Category
		ok      bool
	}{
		{"hey astra, who are you?", WhoAreYou, true},
		{"WHO ARE YOU", WhoAreYou, true},
		{"what's your name", WhoAreYou, true},
		{"quién eres", WhoAreYou, true},
		{"wer bist du?", WhoAreYou, true},
		{"what can you do", WhatCanYouDo, true},
		{"how can you help me", WhatCanYouDo, true},
		{"who made you?", WhoCreatedYou, true},
		{"who is your creator", WhoCreatedYou, true},
		{"what is your purpose here", YourPurpose, true},
		{"why do you exist", YourPurpose, true},
		{"what's the weather like", "", false},
		{"who are the moderators", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.content, func(t *testing.T) {
			got, ok := Match(tt.content)
			if ok != tt.ok || got != tt.want {
				t.Errorf("Match(%q) = %q, %v; want %q, %v", tt.content, got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestRespond_StyleSelection(t *testing.T) {
	// formality 20, humor 75: the playful bucket
	playful := personality.Traits{Humor: 75, Formality: 20, Empathy: 60}
	got := Respond(WhoAreYou, playful, "Astra")
	if !strings.Contains(got, "Astra") {
		t.Errorf("response %q should name the bot", got)
	}
	if got != Respond(WhoAreYou, playful, "Astra") {
		t.Error("responses must be deterministic for equal traits")
	}

	formal := personality.Traits{Humor: 10, Formality: 85, Empathy: 40}
	if Respond(WhoAreYou, formal, "Astra") == got {
		t.Error("academic and playful styles should differ")
	}
}

func TestRespond_AllCategoriesAllStyles(t *testing.T) {
	styles := []personality.Traits{
		{Humor: 80, Formality: 20},               // playful
		{Formality: 10},                          // casual
		{Formality: 60},                          // professional
		{Formality: 80},                          // academic
		{Empathy: 85},                            // supportive
		{Formality: 40, Humor: 30, Empathy: 50},  // analytical
	}
	for _, cat := range []Category{WhoAreYou, WhatCanYouDo, WhoCreatedYou, YourPurpose} {
		for _, tr := range styles {
			if got := Respond(cat, tr, "Astra"); got == "" || strings.Contains(got, "%!") {
				t.Errorf("Respond(%s, %+v) = %q", cat, tr, got)
			}
		}
	}
}
