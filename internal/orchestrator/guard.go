package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/failure"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
)

const (
	DefaultMaxRawTextBytes = 4 * 1024
	DefaultTimeout         = 30 * time.Second
)

// Raw argument text is model output that is sent back to the model in the
// second pass, so tool-call markup in it is masked.
var defaultForbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\[tool_call\]`),
	regexp.MustCompile(`\[tool_use\]`),
	regexp.MustCompile(`<tool_call>`),
	regexp.MustCompile(`<function_call>`),
	regexp.MustCompile(`"tool_calls"\s*:\s*\[`),
}

// Guard bounds every completion call in time and every echoed raw text in
// size.
type Guard struct {
	MaxRawTextBytes   int
	Timeout           time.Duration
	ForbiddenPatterns []*regexp.Regexp
}

func NewGuard() *Guard {
	return &Guard{
		MaxRawTextBytes:   DefaultMaxRawTextBytes,
		Timeout:           DefaultTimeout,
		ForbiddenPatterns: defaultForbiddenPatterns,
	}
}

// SanitizeRaw truncates and masks raw argument text kept in malformed
// actions.
func (g *Guard) SanitizeRaw(s string) string {
	if s == "" {
		return s
	}

	if g.MaxRawTextBytes > 0 && len(s) > g.MaxRawTextBytes {
		cut := g.MaxRawTextBytes
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "[truncated]"
	}

	for _, pat := range g.ForbiddenPatterns {
		s = pat.ReplaceAllStringFunc(s, func(match string) string {
			return strings.Repeat("*", len(match))
		})
	}
	return s
}

// CompleteWithTimeout runs one completion call bounded by g.Timeout. The
// call is abandoned when the deadline passes even if the client ignores its
// context.
func (g *Guard) CompleteWithTimeout(ctx context.Context, llm LLMClient, req *provider.CompletionRequest) (*provider.CompletionResponse, error) {
	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	type result struct {
		resp *provider.CompletionResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := llm.Complete(callCtx, req)
		done <- result{resp, err}
	}()

	select {
	case r := <-done:
		if r.err != nil && failure.KindOf(r.err) == failure.KindInternal && errors.Is(r.err, context.DeadlineExceeded) {
			return nil, failure.UpstreamTimeout(r.err)
		}
		if r.err == nil && r.resp == nil {
			return nil, failure.UpstreamProtocol("empty completion result", nil)
		}
		return r.resp, r.err
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return nil, failure.UpstreamTimeout(fmt.Errorf("completion call exceeded %s", g.Timeout))
		}
		return nil, failure.Internal("completion call cancelled", callCtx.Err())
	}
}

// PrepareWithTimeout runs p.Prepare bounded by g.Timeout, like
// CompleteWithTimeout. Expiry is reported as an internal failure since the
// preparer runs in-process.
func (g *Guard) PrepareWithTimeout(ctx context.Context, p Preparer, text string) (Prepared, error) {
	callCtx := ctx
	if g.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	type result struct {
		prep Prepared
		err  error
	}
	done := make(chan result, 1)
	go func() {
		prep, err := p.Prepare(callCtx, text)
		done <- result{prep, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
				return Prepared{}, failure.Internal(fmt.Sprintf("prepare message exceeded %s", g.Timeout), r.err)
			}
			return Prepared{}, failure.Internal("prepare message", r.err)
		}
		return r.prep, nil
	case <-callCtx.Done():
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Prepared{}, failure.Internal(fmt.Sprintf("prepare message exceeded %s", g.Timeout), callCtx.Err())
		}
		return Prepared{}, failure.Internal("prepare message cancelled", callCtx.Err())
	}
}
