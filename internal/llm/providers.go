package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string    `json:"model"`
	System      string    `json:"system,omitempty"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// provider describes one vendor's chat endpoint.
type provider struct {
	name         string
	baseURL      string
	path         string
	defaultModel string
	headers      func(apiKey string) map[string]string
	// build places the system prompt where the vendor expects it.
	build  func(req *chatRequest, system, prompt string)
	decode func(body []byte) (string, error)
}

var openAI = provider{
	name:         "OpenAI",
	baseURL:      "https://api.openai.com",
	path:         "/v1/chat/completions",
	defaultModel: "gpt-4o-mini",
	headers: func(key string) map[string]string {
		return map[string]string{"Authorization": "Bearer " + key}
	},
	build: func(req *chatRequest, system, prompt string) {
		req.Messages = []message{{Role: "system", Content: system}, {Role: "user", Content: prompt}}
	},
	decode: func(body []byte) (string, error) {
		var resp struct {
			Choices []struct {
				Message message `json:"message"`
			} `json:"choices"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("no completion choices returned")
		}
		return resp.Choices[0].Message.Content, nil
	},
}

var anthropic = provider{
	name:         "Anthropic",
	baseURL:      "https://api.anthropic.com",
	path:         "/v1/messages",
	defaultModel: "claude-3-5-haiku-latest",
	headers: func(key string) map[string]string {
		return map[string]string{"x-api-key": key, "anthropic-version": "2023-06-01"}
	},
	build: func(req *chatRequest, system, prompt string) {
		req.System = system
		req.Messages = []message{{Role: "user", Content: prompt}}
	},
	decode: func(body []byte) (string, error) {
		var resp struct {
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("failed to parse response: %w", err)
		}
		for _, block := range resp.Content {
			if block.Type == "" || block.Type == "text" {
				return block.Text, nil
			}
		}
		return "", errors.New("no content in response")
	},
}

// apiClient is a Client backed by one provider's HTTP API.
type apiClient struct {
	provider    provider
	httpClient  *http.Client
	apiKey      string
	model       string
	endpoint    string
	temperature float64
	maxTokens   int
}

func newAPIClient(p provider, cfg Config) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s API key is required", p.name)
	}
	c := &apiClient{
		provider:    p,
		httpClient:  newHTTPClient(cfg.Timeout),
		apiKey:      cfg.APIKey,
		model:       orDefault(cfg.Model, p.defaultModel),
		endpoint:    strings.TrimSuffix(orDefault(cfg.BaseURL, p.baseURL), "/") + p.path,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = 50
	}
	return c, nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func (c *apiClient) Complete(ctx context.Context, system, prompt string) (string, error) {
	req := chatRequest{Model: c.model, Temperature: c.temperature, MaxTokens: c.maxTokens}
	c.provider.build(&req, system, prompt)

	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := post(ctx, c.httpClient, c.endpoint, c.provider.headers(c.apiKey), payload, c.provider.name)
	if err != nil {
		return "", err
	}
	return c.provider.decode(body)
}
