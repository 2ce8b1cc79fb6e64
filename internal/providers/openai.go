package providers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

const (
	defaultOpenAIBase = "https://api.openai.com/v1"
	openAIChatPath    = "/chat/completions"
)

// OpenAIProvider implements Provider for OpenAI-compatible chat completion
// APIs. The same client serves OpenRouter, which takes "vendor/model" ids
// and its own web search plugin. On OpenAI itself, a request with
// OptWebSearch goes to the Responses API (see responses.go): Chat
// Completions only searches with *-search-preview models, and those cannot
// call functions.
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
		apiBase = defaultOpenAIBase
	}
	return &OpenAIProvider{
		name:         name,
		apiKey:       apiKey,
		apiBase:      strings.TrimRight(apiBase, "/"),
		defaultModel: defaultModel,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
		retryConfig:  DefaultRetryConfig(),
	}
}

// WithRetryConfig overrides the retry policy.
func (p *OpenAIProvider) WithRetryConfig(cfg RetryConfig) *OpenAIProvider {
	p.retryConfig = cfg
	return p
}

func (p *OpenAIProvider) Name() string         { return p.name }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) isOpenRouter() bool { return p.name == "openrouter" }

// resolveModel falls back to the default for an empty model, and on
// OpenRouter for a model without a vendor prefix.
func (p *OpenAIProvider) resolveModel(model string) string {
	if model == "" || (p.isOpenRouter() && !strings.Contains(model, "/")) {
		return p.defaultModel
	}
	return model
}

// usesResponsesAPI reports whether req must go to /responses.
func (p *OpenAIProvider) usesResponsesAPI(req ChatRequest) bool {
	on, _ := req.Options[OptWebSearch].(bool)
	return on && !p.isOpenRouter()
}

func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.apiKey)

	if p.usesResponsesAPI(req) {
		body := p.newResponsesRequest(req)
		return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
			var resp responsesResponse
			if err := postJSON(ctx, p.client, p.name, p.apiBase+responsesPath, header, body, &resp); err != nil {
				return nil, err
			}
			return resp.toChatResponse(p.name)
		})
	}

	body := p.newRequest(req)
	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		var resp openAIResponse
		if err := postJSON(ctx, p.client, p.name, p.apiBase+openAIChatPath, header, body, &resp); err != nil {
			return nil, err
		}
		return resp.toChatResponse(p.name)
	})
}

func (p *OpenAIProvider) newRequest(req ChatRequest) openAIRequest {
	out := openAIRequest{
		Model:    p.resolveModel(req.Model),
		Messages: req.Messages,
	}
	if len(req.Tools) > 0 {
		no := false
		out.Tools = req.Tools
		out.ToolChoice = "auto"
		out.ParallelToolCalls = &no
	}
	if v, ok := req.Options[OptMaxTokens].(int); ok && v > 0 {
		out.MaxTokens = v
	}
	if v, ok := req.Options[OptTemperature].(float64); ok {
		out.Temperature = &v
	}
	if on, _ := req.Options[OptWebSearch].(bool); on && p.isOpenRouter() {
		out.Plugins = []openRouterPlugin{{ID: "web"}}
	}
	return out
}

type openAIRequest struct {
	Model             string             `json:"model"`
	Messages          []Message          `json:"messages"`
	Tools             []ToolDefinition   `json:"tools,omitempty"`
	ToolChoice        string             `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool              `json:"parallel_tool_calls,omitempty"`
	MaxTokens         int                `json:"max_tokens,omitempty"`
	Temperature       *float64           `json:"temperature,omitempty"`
	Plugins           []openRouterPlugin `json:"plugins,omitempty"`
}

type openRouterPlugin struct {
	ID string `json:"id"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content   string           `json:"content"`
			ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

func (r *openAIResponse) toChatResponse(name string) (*ChatResponse, error) {
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("%w: %s: no choices", ErrMalformedResponse, name)
	}
	out := &ChatResponse{FinishReason: "stop", Usage: r.Usage}

	choice := r.Choices[0]
	out.Content = choice.Message.Content
	if choice.FinishReason != "" {
		out.FinishReason = choice.FinishReason
	}
	for _, tc := range choice.Message.ToolCalls {
		raw := []byte(tc.Function.Arguments)
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:           tc.ID,
			Name:         strings.TrimSpace(tc.Function.Name),
			Arguments:    decodeArgs(raw),
			RawArguments: raw,
		})
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}
