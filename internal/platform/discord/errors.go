package discord

import (
	"errors"
	"net"
	"net/http"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

// wrapErr classifies a discordgo error into the platform error kinds the
// core branches on.
func wrapErr(op string, err error) error {
	return &platform.ActionError{Kind: classify(err), Op: op, Err: err}
}

func classify(err error) platform.ErrorKind {
	var restErr *discordgo.RESTError
	if errors.As(err, &restErr) && restErr.Response != nil {
		switch {
		case restErr.Response.StatusCode == http.StatusForbidden:
			return platform.ErrForbidden
		case restErr.Response.StatusCode == http.StatusNotFound:
			return platform.ErrNotFound
		case restErr.Response.StatusCode == http.StatusTooManyRequests:
			return platform.ErrRateLimited
		case restErr.Response.StatusCode >= 500:
			return platform.ErrNetwork
		}
		return platform.ErrOther
	}
	var rlErr *discordgo.RateLimitError
	if errors.As(err, &rlErr) {
		return platform.ErrRateLimited
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return platform.ErrNetwork
	}
	return platform.ErrOther
}
