package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIProvider speaks the OpenAI-compatible chat API
// (OpenAI, Groq, OpenRouter, DeepSeek, local VLLM, etc.)
type OpenAIProvider struct {
	name         string
	apiKey       string
	apiBase      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

func NewOpenAIProvider(name, apiKey, apiBase, defaultModel string) *OpenAIProvider {
	if apiBase == "" {
		apiBase = "https://api.openai.com/v1"
	}
	apiBase = strings.TrimRight(apiBase, "/")
	if defaultModel == "" {
		defaultModel = "gpt-4o-mini"
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      apiBase,
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: 120 * time.Second},
		retryConfig:  DefaultRetryConfig(),
	}
}

func (p *OpenAIProvider) Name() string            { return p.name }
func (p *OpenAIProvider) DefaultModel() string    { return p.defaultModel }
func (p *OpenAIProvider) SupportsStreaming() bool { return true }
func (p *OpenAIProvider) Available() bool         { return p.apiKey != "" }

// resolveModel strips the vendor prefix from a canonical vendor/model-id.
// OpenRouter keeps the full prefixed form; other backends take the bare id.
func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	if p.name == "openrouter" {
		return model
	}
	if _, id, ok := strings.Cut(model, "/"); ok {
		return id
	}
	return model
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		TotalTokens int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := map[string]any{
		"model":    p.resolveModel(req.Model),
		"messages": req.Messages,
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		body["max_tokens"] = req.MaxTokens
	}

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		respBody, err := p.doRequest(ctx, "/chat/completions", body)
		if err != nil {
			return nil, err
		}
		defer respBody.Close()

		var oaiResp openAIResponse
		if err := json.NewDecoder(respBody).Decode(&oaiResp); err != nil {
			return nil, fmt.Errorf("%s: decode response: %w", p.name, err)
		}
		if len(oaiResp.Choices) == 0 {
			return nil, fmt.Errorf("%s: empty choices", p.name)
		}

		out := &ChatResponse{
			Content:      oaiResp.Choices[0].Message.Content,
			FinishReason: oaiResp.Choices[0].FinishReason,
		}
		if oaiResp.Usage != nil {
			out.TokensUsed = oaiResp.Usage.TotalTokens
		}
		return out, nil
	})
}

type openAIImageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// GenerateImage calls the images endpoint. Retry policy here is owned by
// the image subsystem, not this client.
func (p *OpenAIProvider) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResponse, error) {
	size := req.Size
	if size == "" {
		size = "1024x1024"
	}
	body := map[string]any{
		"model":  "dall-e-3",
		"prompt": req.Prompt,
		"n":      1,
		"size":   size,
	}

	respBody, err := p.doRequest(ctx, "/images/generations", body)
	if err != nil {
		return nil, err
	}
	defer respBody.Close()

	var imgResp openAIImageResponse
	if err := json.NewDecoder(respBody).Decode(&imgResp); err != nil {
		return nil, fmt.Errorf("%s: decode image response: %w", p.name, err)
	}
	if len(imgResp.Data) == 0 {
		return nil, fmt.Errorf("%s: empty image data", p.name)
	}
	return &ImageResponse{URL: imgResp.Data[0].URL, Provider: p.name}, nil
}

func (p *OpenAIProvider) doRequest(ctx context.Context, path string, body any) (io.ReadCloser, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", p.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.apiBase+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", p.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: request failed: %w", p.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &HTTPError{
			Status:     resp.StatusCode,
			Body:       fmt.Sprintf("%s: %s", p.name, string(respBody)),
			RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	return resp.Body, nil
}
