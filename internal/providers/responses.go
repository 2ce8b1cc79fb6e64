package providers

import (
	"fmt"
	"strings"
)

const (
	responsesPath           = "/responses"
	webSearchContextSize    = "low"
	responsesIncompleteSize = "max_output_tokens"
)

// newResponsesRequest maps a ChatRequest onto the Responses API. System
// turns become instructions, function tools are flattened and the hosted
// web_search_preview tool sits next to them.
func (p *OpenAIProvider) newResponsesRequest(req ChatRequest) responsesRequest {
	out := responsesRequest{
		Model: p.resolveModel(req.Model),
		Tools: []responsesTool{{Type: "web_search_preview", SearchContextSize: webSearchContextSize}},
	}

	var instructions []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			instructions = append(instructions, m.Content)
			continue
		}
		out.Input = append(out.Input, m)
	}
	out.Instructions = strings.Join(instructions, "\n\n")

	for _, t := range req.Tools {
		out.Tools = append(out.Tools, responsesTool{
			Type:        "function",
			Name:        t.Function.Name,
			Description: t.Function.Description,
			Parameters:  t.Function.Parameters,
		})
	}
	if len(req.Tools) > 0 {
		no := false
		out.ToolChoice = "auto"
		out.ParallelToolCalls = &no
	}

	if v, ok := req.Options[OptMaxTokens].(int); ok && v > 0 {
		out.MaxOutputTokens = v
	}
	if v, ok := req.Options[OptTemperature].(float64); ok {
		out.Temperature = &v
	}
	return out
}

type responsesRequest struct {
	Model             string          `json:"model"`
	Instructions      string          `json:"instructions,omitempty"`
	Input             []Message       `json:"input"`
	Tools             []responsesTool `json:"tools,omitempty"`
	ToolChoice        string          `json:"tool_choice,omitempty"`
	ParallelToolCalls *bool           `json:"parallel_tool_calls,omitempty"`
	MaxOutputTokens   int             `json:"max_output_tokens,omitempty"`
	Temperature       *float64        `json:"temperature,omitempty"`
}

// responsesTool is a function tool or a hosted tool such as web search.
type responsesTool struct {
	Type              string                 `json:"type"`
	Name              string                 `json:"name,omitempty"`
	Description       string                 `json:"description,omitempty"`
	Parameters        map[string]interface{} `json:"parameters,omitempty"`
	SearchContextSize string                 `json:"search_context_size,omitempty"`
}

type responsesResponse struct {
	IncompleteDetails *struct {
		Reason string `json:"reason"`
	} `json:"incomplete_details,omitempty"`
	Output []responsesOutputItem `json:"output"`
	Usage  *struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type responsesOutputItem struct {
	Type      string `json:"type"`
	CallID    string `json:"call_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Content   []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
}

func (r *responsesResponse) toChatResponse(name string) (*ChatResponse, error) {
	out := &ChatResponse{FinishReason: "stop"}
	answered := false

	var text strings.Builder
	for _, item := range r.Output {
		switch item.Type {
		case "message":
			answered = true
			for _, c := range item.Content {
				if c.Type == "output_text" {
					text.WriteString(c.Text)
				}
			}
		case "function_call":
			answered = true
			raw := []byte(item.Arguments)
			out.ToolCalls = append(out.ToolCalls, ToolCall{
				ID:           item.CallID,
				Name:         strings.TrimSpace(item.Name),
				Arguments:    decodeArgs(raw),
				RawArguments: raw,
			})
		}
		// web_search_call items stay with the model.
	}
	if !answered {
		return nil, fmt.Errorf("%w: %s: no message or function call in output", ErrMalformedResponse, name)
	}
	out.Content = text.String()

	switch {
	case len(out.ToolCalls) > 0:
		out.FinishReason = "tool_calls"
	case r.IncompleteDetails != nil && r.IncompleteDetails.Reason == responsesIncompleteSize:
		out.FinishReason = "length"
	}
	if r.Usage != nil {
		out.Usage = &Usage{
			PromptTokens:     r.Usage.InputTokens,
			CompletionTokens: r.Usage.OutputTokens,
			TotalTokens:      r.Usage.TotalTokens,
		}
	}
	return out, nil
}
