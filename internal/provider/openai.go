package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/failure"
)

const (
	openAIDefaultBaseURL  = "https://api.openai.com/v1"
	openAICompletionsPath = "/chat/completions"
)

// OpenAIProvider implements the Provider interface for any
// OpenAI-compatible chat completions API (OpenAI, Azure, Ollama, vLLM,
// Groq, etc.).
type OpenAIProvider struct {
	id      string
	baseURL string
	apiKey  string
	models  []ModelInfo
	client  *http.Client
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithOpenAIHTTPClient sets a custom HTTP client.
func WithOpenAIHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

// NewOpenAIProvider creates a provider for any OpenAI-compatible endpoint.
func NewOpenAIProvider(id, baseURL, apiKey string, models []ModelInfo, opts ...OpenAIOption) *OpenAIProvider {
	if baseURL == "" {
		baseURL = openAIDefaultBaseURL
	}
	baseURL = strings.TrimRight(baseURL, "/")

	p := &OpenAIProvider{
		id:      id,
		baseURL: baseURL,
		apiKey:  apiKey,
		models:  models,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OpenAIProvider) ID() string { return p.id }

func (p *OpenAIProvider) Models() []ModelInfo { return p.models }

// -- OpenAI wire types --

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	Tools       []oaiTool    `json:"tools,omitempty"`
	ToolChoice  string       `json:"tool_choice,omitempty"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    *string       `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type oaiToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiFunctionCall `json:"function"`
}

type oaiFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type oaiTool struct {
	Type     string         `json:"type"`
	Function oaiFunctionDef `json:"function"`
}

type oaiFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type oaiResponse struct {
	ID      string      `json:"id"`
	Model   string      `json:"model"`
	Choices []oaiChoice `json:"choices"`
	Usage   oaiUsage    `json:"usage"`
	Error   *oaiError   `json:"error,omitempty"`
}

type oaiChoice struct {
	Index        int             `json:"index"`
	Message      *oaiRespMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
}

// oaiRespMessage differs from oaiMessage in that arguments may arrive as a
// JSON string (the documented form) or as a bare object from some
// compatible servers. FunctionCall is the legacy single-function form.
type oaiRespMessage struct {
	Role         string            `json:"role"`
	Content      *string           `json:"content"`
	ToolCalls    []oaiRespToolCall `json:"tool_calls"`
	FunctionCall *oaiRespFunction  `json:"function_call"`
}

type oaiRespToolCall struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Function oaiRespFunction `json:"function"`
}

type oaiRespFunction struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

type oaiUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type oaiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Complete sends one non-streaming chat completion request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, failure.Internal("invalid completion request", err)
	}

	respBody, err := postJSON(ctx, p.client, p.baseURL+openAICompletionsPath, p.toOAIRequest(req), p.setHeaders)
	if err != nil {
		return nil, err
	}

	var oaiResp oaiResponse
	if err := json.Unmarshal(respBody, &oaiResp); err != nil {
		return nil, failure.UpstreamProtocol("unmarshal response", err)
	}
	if oaiResp.Error != nil {
		return nil, failure.UpstreamProtocol("openai error ["+oaiResp.Error.Type+"]: "+oaiResp.Error.Message, nil)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, failure.UpstreamProtocol("no choices in response", nil)
	}
	msg := oaiResp.Choices[0].Message
	if msg == nil {
		return nil, failure.UpstreamProtocol("no message from model", nil)
	}

	resp := &CompletionResponse{
		ID:    oaiResp.ID,
		Model: oaiResp.Model,
		Kind:  TurnText,
		Usage: Usage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
		},
	}
	if msg.Content != nil {
		resp.Content = *msg.Content
	}

	for _, tc := range msg.ToolCalls {
		resp.Invocations = append(resp.Invocations, ToolInvocation{
			CallID:       tc.ID,
			Name:         tc.Function.Name,
			RawArguments: rawArguments(tc.Function.Arguments),
		})
	}
	if len(resp.Invocations) == 0 && msg.FunctionCall != nil && msg.FunctionCall.Name != "" {
		resp.Invocations = append(resp.Invocations, ToolInvocation{
			Name:         msg.FunctionCall.Name,
			RawArguments: rawArguments(msg.FunctionCall.Arguments),
		})
	}
	for i := range resp.Invocations {
		if resp.Invocations[i].CallID == "" {
			resp.Invocations[i].CallID = newCallID()
		}
	}
	if len(resp.Invocations) > 0 {
		resp.Kind = TurnToolCalls
	}
	return resp, nil
}

// rawArguments returns the argument text as the model produced it. The
// documented encoding is a JSON string holding JSON; anything else is kept
// verbatim for the normalizer to judge.
func rawArguments(raw json.RawMessage) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(trimmed, &s); err == nil {
		return s
	}
	return string(trimmed)
}

func (p *OpenAIProvider) toOAIRequest(req *CompletionRequest) oaiRequest {
	msgs := make([]oaiMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = toOAIMessage(m)
	}
	out := oaiRequest{
		Model:       req.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if len(req.Tools) > 0 {
		out.Tools = make([]oaiTool, len(req.Tools))
		for i, t := range req.Tools {
			out.Tools[i] = oaiTool{
				Type: "function",
				Function: oaiFunctionDef{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			}
		}
		out.ToolChoice = string(ToolChoiceAuto)
		if req.ToolChoice != "" {
			out.ToolChoice = string(req.ToolChoice)
		}
	}
	return out
}

func toOAIMessage(m Message) oaiMessage {
	content := m.Content
	msg := oaiMessage{Role: string(m.Role), Content: &content}
	switch m.Role {
	case RoleAssistant:
		if len(m.ToolCalls) > 0 {
			if m.Content == "" {
				msg.Content = nil
			}
			msg.ToolCalls = make([]oaiToolCall, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				msg.ToolCalls[i] = oaiToolCall{
					ID:   tc.CallID,
					Type: "function",
					Function: oaiFunctionCall{
						Name:      tc.Name,
						Arguments: tc.RawArguments,
					},
				}
			}
		}
	case RoleTool:
		msg.ToolCallID = m.ToolCallID
		msg.Name = m.Name
	}
	return msg
}

func (p *OpenAIProvider) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
}
