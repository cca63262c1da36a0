// Package providers holds the AI provider clients and the router that
// dispatches chat and image requests across them with caching, per-provider
// rate limits, and ordered fallback.
package providers

import (
	"context"

	"github.com/nextlevelbuilder/astra/internal/platform"
)

// Provider is one configured AI backend.
type Provider interface {
	// Name returns the provider identifier (e.g. "anthropic", "openai").
	Name() string

	// DefaultModel returns the provider's default model name.
	DefaultModel() string

	// SupportsStreaming reports whether the wire protocol can stream.
	SupportsStreaming() bool

	// Available reports whether the provider is configured well enough
	// to attempt a call (an API key is present).
	Available() bool

	// ChatCompletion sends messages and returns the completed response.
	ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// ImageProvider is implemented by providers that can generate images.
type ImageProvider interface {
	Provider
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error)
}

// Message is one prompt message on the wire.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// ChatRequest is the input for a ChatCompletion call.
type ChatRequest struct {
	Guild       platform.GuildID
	User        platform.UserID
	Messages    []Message
	Model       string // canonical vendor/model-id, may be empty
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the result of a completed chat call.
type ChatResponse struct {
	Content      string `json:"content"`
	FinishReason string `json:"finish_reason,omitempty"`
	TokensUsed   int    `json:"tokens_used,omitempty"`

	// Provider and AttemptedProviders are filled by the router.
	Provider           string   `json:"provider,omitempty"`
	AttemptedProviders []string `json:"attempted_providers,omitempty"`
	Cached             bool     `json:"cached,omitempty"`
}

// ImageRequest asks for one generated image.
type ImageRequest struct {
	Prompt string
	Size   string // e.g. "1024x1024", provider default when empty
}

// ImageResponse carries the generated image location.
type ImageResponse struct {
	URL      string `json:"url"`
	Provider string `json:"provider,omitempty"`
}
