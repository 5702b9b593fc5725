package provider

import (
	"context"
	"fmt"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant, RoleTool:
		return true
	}
	return false
}

// ToolInvocation is one model-issued request to call a declared tool.
// RawArguments is passed through untouched; it may not be valid JSON.
type ToolInvocation struct {
	CallID       string `json:"call_id"`
	Name         string `json:"name"`
	RawArguments string `json:"raw_arguments"`
}

// Message is one conversation entry. ToolCalls is only meaningful for
// assistant messages, ToolCallID and Name only for tool messages.
type Message struct {
	Role       Role             `json:"role"`
	Content    string           `json:"content"`
	ToolCalls  []ToolInvocation `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
	Name       string           `json:"name,omitempty"`
}

// ToolSpec declares one callable tool. Parameters is a JSON Schema object.
type ToolSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolChoice controls whether the model may call the declared tools.
// Empty means ToolChoiceAuto.
type ToolChoice string

const (
	ToolChoiceAuto ToolChoice = "auto"
	ToolChoiceNone ToolChoice = "none"
)

// CompletionRequest is one conversation turn. Tools stay declared whenever
// the history carries tool calls, since some services reject tool blocks
// without them; ToolChoiceNone then keeps the model from calling again.
type CompletionRequest struct {
	Model       string     `json:"model"`
	Messages    []Message  `json:"messages"`
	Tools       []ToolSpec `json:"tools,omitempty"`
	ToolChoice  ToolChoice `json:"tool_choice,omitempty"`
	MaxTokens   int        `json:"max_tokens,omitempty"`
	Temperature *float64   `json:"temperature,omitempty"`
}

// Validate checks the request before it leaves the process.
func (r *CompletionRequest) Validate() error {
	if len(r.Messages) == 0 {
		return fmt.Errorf("completion request has no messages")
	}
	for i, m := range r.Messages {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
	}
	switch r.ToolChoice {
	case "", ToolChoiceAuto, ToolChoiceNone:
	default:
		return fmt.Errorf("invalid tool choice %q", r.ToolChoice)
	}
	return nil
}

type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TurnKind tags a CompletionResponse: either plain text or tool calls.
type TurnKind string

const (
	TurnText      TurnKind = "text"
	TurnToolCalls TurnKind = "tool_calls"
)

// CompletionResponse is the normalized result of one conversation turn.
// When Kind is TurnToolCalls, Invocations is non-empty and Content holds any
// text the model sent alongside the calls.
type CompletionResponse struct {
	ID          string           `json:"id"`
	Model       string           `json:"model"`
	Kind        TurnKind         `json:"kind"`
	Content     string           `json:"content"`
	Invocations []ToolInvocation `json:"invocations,omitempty"`
	Usage       Usage            `json:"usage"`
}

func (r *CompletionResponse) HasToolCalls() bool {
	return r.Kind == TurnToolCalls && len(r.Invocations) > 0
}

type Provider interface {
	ID() string
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
	Models() []ModelInfo
}
