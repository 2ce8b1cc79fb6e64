package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	defaultClaudeModel  = "claude-sonnet-4-5-20250929"
	anthropicAPIBase    = "https://api.anthropic.com/v1"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 4096
	webSearchMaxUses    = 3
)

// AnthropicProvider talks to the Claude Messages API. With OptWebSearch set
// it adds Anthropic's hosted web search tool so the oracle can look up
// outcomes before resolving a bet.
type AnthropicProvider struct {
	apiKey       string
	baseURL      string
	defaultModel string
	client       *http.Client
	retryConfig  RetryConfig
}

// AnthropicOption customizes an AnthropicProvider.
type AnthropicOption func(*AnthropicProvider)

// NewAnthropicProvider creates a new Anthropic provider.
func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		apiKey:       apiKey,
		baseURL:      anthropicAPIBase,
		defaultModel: defaultClaudeModel,
		client:       &http.Client{Timeout: defaultHTTPTimeout},
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithAnthropicBaseURL(baseURL string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if baseURL != "" {
			p.baseURL = strings.TrimRight(baseURL, "/")
		}
	}
}

func WithAnthropicRetryConfig(cfg RetryConfig) AnthropicOption {
	return func(p *AnthropicProvider) { p.retryConfig = cfg }
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	body := p.newRequest(req)
	header := http.Header{}
	header.Set("x-api-key", p.apiKey)
	header.Set("anthropic-version", anthropicAPIVersion)

	return RetryDo(ctx, p.retryConfig, func() (*ChatResponse, error) {
		var resp anthropicResponse
		if err := postJSON(ctx, p.client, "anthropic", p.baseURL+"/messages", header, body, &resp); err != nil {
			return nil, err
		}
		return resp.toChatResponse(), nil
	})
}

// newRequest maps a ChatRequest onto the Messages API: system turns move to
// the top-level system field and function tools lose their OpenAI wrapper.
func (p *AnthropicProvider) newRequest(req ChatRequest) anthropicRequest {
	out := anthropicRequest{
		Model:     req.Model,
		MaxTokens: anthropicMaxTokens,
	}
	if out.Model == "" {
		out.Model = p.defaultModel
	}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			out.System = append(out.System, anthropicText{Type: "text", Text: m.Content})
		case "user", "assistant":
			out.Messages = append(out.Messages, Message{Role: m.Role, Content: m.Content})
		}
	}

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: t.Function.Parameters,
		})
	}
	if on, _ := req.Options[OptWebSearch].(bool); on {
		out.Tools = append(out.Tools, anthropicTool{
			Type:    "web_search_20250305",
			Name:    "web_search",
			MaxUses: webSearchMaxUses,
		})
	}
	if len(out.Tools) > 0 {
		out.ToolChoice = &anthropicToolChoice{Type: "auto", DisableParallelToolUse: true}
	}

	if v, ok := req.Options[OptMaxTokens].(int); ok && v > 0 {
		out.MaxTokens = v
	}
	if v, ok := req.Options[OptTemperature].(float64); ok {
		out.Temperature = &v
	}
	return out
}

type anthropicRequest struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	System      []anthropicText      `json:"system,omitempty"`
	Messages    []Message            `json:"messages"`
	Tools       []anthropicTool      `json:"tools,omitempty"`
	ToolChoice  *anthropicToolChoice `json:"tool_choice,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type anthropicText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// anthropicTool is either a client tool (name, description, input_schema)
// or a server tool identified by Type.
type anthropicTool struct {
	Type        string                 `json:"type,omitempty"`
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	InputSchema map[string]interface{} `json:"input_schema,omitempty"`
	MaxUses     int                    `json:"max_uses,omitempty"`
}

type anthropicToolChoice struct {
	Type                   string `json:"type"`
	DisableParallelToolUse bool   `json:"disable_parallel_tool_use,omitempty"`
}

type anthropicResponse struct {
	Content    []anthropicContentBlock `json:"content"`
	StopReason string                  `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicContentBlock struct {
	Type  string          `json:"type"`
	Text  string          `json:"text,omitempty"`
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
}

func (r *anthropicResponse) toChatResponse() *ChatResponse {
	out := &ChatResponse{
		FinishReason: "stop",
		Usage: &Usage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.InputTokens + r.Usage.OutputTokens,
		},
	}

	var text strings.Builder
	for _, block := range r.Content {
		switch block.Type {
		case "text":
			text.WriteString(block.Text)
		case "tool_use":
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:           block.ID,
				Name:         block.Name,
				Arguments:    decodeArgs(block.Input),
				RawArguments: block.Input,
			})
		}
		// server_tool_use and web_search_tool_result stay with the model.
	}
	out.Content = text.String()

	switch r.StopReason {
	case "tool_use":
		out.FinishReason = "tool_calls"
	case "max_tokens":
		out.FinishReason = "length"
	}
	return out
}
