package discord

import (
	"net/http"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

func TestSnowflakeTime(t *testing.T) {
	// Snowflake 175928847299117063 decodes to 2016-04-30 11:18:25.796 UTC
	// per the Discord API documentation example.
	got := SnowflakeTime(175928847299117063)
	want := time.Date(2016, 4, 30, 11, 18, 25, 796_000_000, time.UTC)
	if !got.Equal(want) {
		t.Errorf("SnowflakeTime = %v, want %v", got, want)
	}

	if !SnowflakeTime(0).IsZero() {
		t.Error("zero snowflake must decode to zero time")
	}
}

func TestParseSnowflake(t *testing.T) {
	if got := parseSnowflake("175928847299117063"); got != 175928847299117063 {
		t.Errorf("parseSnowflake = %d", got)
	}
	if got := parseSnowflake(""); got != 0 {
		t.Errorf("empty snowflake = %d, want 0", got)
	}
	if got := parseSnowflake("not-a-number"); got != 0 {
		t.Errorf("bad snowflake = %d, want 0", got)
	}
	if formatSnowflake(175928847299117063) != "175928847299117063" {
		t.Error("formatSnowflake round-trip failed")
	}
}

func TestClassify(t *testing.T) {
	rest := func(status int) error {
		return &discordgo.RESTError{Response: &http.Response{StatusCode: status}}
	}
	cases := []struct {
		name string
		err  error
		want platform.ErrorKind
	}{
		{"forbidden", rest(http.StatusForbidden), platform.ErrForbidden},
		{"not found", rest(http.StatusNotFound), platform.ErrNotFound},
		{"rate limited", rest(http.StatusTooManyRequests), platform.ErrRateLimited},
		{"server error", rest(http.StatusBadGateway), platform.ErrNetwork},
		{"bad request", rest(http.StatusBadRequest), platform.ErrOther},
		{"gateway rate limit", &discordgo.RateLimitError{}, platform.ErrRateLimited},
	}
	for _, tc := range cases {
		if got := classify(tc.err); got != tc.want {
			t.Errorf("%s: classify = %v, want %v", tc.name, got, tc.want)
		}
	}

	err := wrapErr("sendDM", rest(http.StatusForbidden))
	if platform.KindOf(err) != platform.ErrForbidden {
		t.Error("wrapErr must preserve the kind through KindOf")
	}
}
