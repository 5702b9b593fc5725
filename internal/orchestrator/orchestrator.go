package orchestrator

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/failure"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/requestid"
)

// Pass names used in logs and metrics.
const (
	PassFirst  = "first"
	PassSecond = "second"
)

type LLMClient interface {
	Complete(ctx context.Context, req *provider.CompletionRequest) (*provider.CompletionResponse, error)
}

// Prepared is what a Preparer decided about the incoming text. When
// SendToLLM is false, Reply is returned to the caller as-is.
type Prepared struct {
	Text      string
	SendToLLM bool
	Reply     string
}

// Preparer runs before the first completion call and may rewrite the text
// or answer directly.
type Preparer interface {
	Prepare(ctx context.Context, text string) (Prepared, error)
}

// Observer receives per-pass and per-action events. Implementations must be
// safe for concurrent use.
type Observer interface {
	ObserveCompletion(pass, result string, elapsed time.Duration)
	ObserveAction(actionType string)
}

type nopObserver struct{}

func (nopObserver) ObserveCompletion(string, string, time.Duration) {}
func (nopObserver) ObserveAction(string)                            {}

// Config carries the completion parameters shared by both passes.
type Config struct {
	Model        string
	MaxTokens    int
	Temperature  *float64
	SystemPrompt string
	Rules        []string
}

type Option func(*Orchestrator)

func WithPreparer(p Preparer) Option {
	return func(o *Orchestrator) { o.preparer = p }
}

func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

func WithGuard(g *Guard) Option {
	return func(o *Orchestrator) {
		if g != nil {
			o.guard = g
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// Orchestrator runs the two-pass tool-call exchange for one chat message.
// It holds no per-request state and is safe for concurrent use.
type Orchestrator struct {
	llm          LLMClient
	registry     *ActionRegistry
	normalizer   *Normalizer
	guard        *Guard
	preparer     Preparer
	observer     Observer
	log          *slog.Logger
	cfg          Config
	systemPrompt string
	tools        []provider.ToolSpec
}

func New(llm LLMClient, registry *ActionRegistry, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		llm:      llm,
		registry: registry,
		guard:    NewGuard(),
		observer: nopObserver{},
		log:      slog.Default(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.normalizer = NewNormalizer(registry, o.guard)
	o.systemPrompt = BuildSystemPrompt(cfg.SystemPrompt, cfg.Rules)
	o.tools = registry.ToolSpecs()
	return o
}

func (o *Orchestrator) Registry() *ActionRegistry { return o.registry }

func (o *Orchestrator) SystemPrompt() string { return o.systemPrompt }

// Chat handles one user message. It makes at most two completion calls:
// the first with every action declared as a tool, and a second one, with
// tool calling switched off, only when the first returned tool calls. Any
// completion error aborts the exchange.
func (o *Orchestrator) Chat(ctx context.Context, text string) (*ChatReply, error) {
	if strings.TrimSpace(text) == "" {
		return nil, failure.Validation("text required")
	}

	if o.preparer != nil {
		prep, err := o.guard.PrepareWithTimeout(ctx, o.preparer, text)
		if err != nil {
			o.log.Error("orchestrator: prepare failed", "request_id", requestid.From(ctx), "err", err)
			return nil, err
		}
		if !prep.SendToLLM {
			return &ChatReply{Reply: prep.Reply, Actions: []Action{}}, nil
		}
		if strings.TrimSpace(prep.Text) == "" {
			return nil, failure.Validation("text required")
		}
		text = prep.Text
	}

	user := provider.Message{Role: provider.RoleUser, Content: text}

	first, err := o.complete(ctx, PassFirst, &provider.CompletionRequest{
		Model: o.cfg.Model,
		Messages: []provider.Message{
			{Role: provider.RoleSystem, Content: o.systemPrompt},
			user,
		},
		Tools:       o.tools,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	if !first.HasToolCalls() {
		return &ChatReply{Reply: first.Content, Actions: []Action{}}, nil
	}

	actions := o.normalizer.Normalize(first.Invocations)
	for _, a := range actions {
		o.observer.ObserveAction(a.Type)
	}

	messages := make([]provider.Message, 0, len(first.Invocations)+2)
	messages = append(messages, user, provider.Message{
		Role:      provider.RoleAssistant,
		Content:   first.Content,
		ToolCalls: first.Invocations,
	})
	for i, inv := range first.Invocations {
		content, err := json.Marshal(actions[i])
		if err != nil {
			return nil, failure.Internal("encode tool result", err)
		}
		messages = append(messages, provider.Message{
			Role:       provider.RoleTool,
			Content:    string(content),
			ToolCallID: inv.CallID,
			Name:       inv.Name,
		})
	}

	second, err := o.complete(ctx, PassSecond, &provider.CompletionRequest{
		Model:       o.cfg.Model,
		Messages:    messages,
		Tools:       o.tools,
		ToolChoice:  provider.ToolChoiceNone,
		MaxTokens:   o.cfg.MaxTokens,
		Temperature: o.cfg.Temperature,
	})
	if err != nil {
		return nil, err
	}

	reply := second.Content
	if second.HasToolCalls() {
		// Only two round trips are allowed; further tool calls are dropped.
		o.log.Warn("orchestrator: second pass requested tools, ignoring", "calls", len(second.Invocations))
		reply = ""
	}
	return &ChatReply{Reply: reply, Actions: actions}, nil
}

func (o *Orchestrator) complete(ctx context.Context, pass string, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	start := time.Now()
	resp, err := o.guard.CompleteWithTimeout(ctx, o.llm, req)
	elapsed := time.Since(start)

	result := "ok"
	if err != nil {
		result = string(failure.KindOf(err))
	}
	o.observer.ObserveCompletion(pass, result, elapsed)

	if err != nil {
		o.log.Error("orchestrator: completion failed", "request_id", requestid.From(ctx), "pass", pass, "err", err)
		return nil, err
	}
	o.log.Debug("orchestrator: completion done", "request_id", requestid.From(ctx), "pass", pass, "kind", resp.Kind,
		"tool_calls", len(resp.Invocations), "elapsed", elapsed)
	return resp, nil
}
