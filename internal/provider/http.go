package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/google/uuid"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/failure"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/requestid"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/version"
)

// maxResponseBytes caps how much of an upstream body is read.
const maxResponseBytes = 4 << 20

// postJSON sends one POST and returns the body of a 2xx response. Every
// failure is returned as a *failure.Error.
func postJSON(ctx context.Context, client *http.Client, url string, payload any, setHeaders func(*http.Request)) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, failure.Internal("marshal request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, failure.Internal("create request", err)
	}
	httpReq.Header.Set("User-Agent", version.UserAgent())
	if id := requestid.From(ctx); id != "" {
		httpReq.Header.Set(requestid.Header, id)
	}
	setHeaders(httpReq)

	httpResp, err := client.Do(httpReq)
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, failure.UpstreamTimeout(err)
		}
		return nil, failure.Upstream(0, "", fmt.Errorf("http request: %w", err))
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(ctx, err) {
			return nil, failure.UpstreamTimeout(err)
		}
		return nil, failure.UpstreamProtocol("read response", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, failure.Upstream(httpResp.StatusCode, string(respBody), nil)
	}
	return respBody, nil
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// newCallID fills in tool call ids that the upstream left empty.
func newCallID() string {
	return "call_" + uuid.NewString()
}
