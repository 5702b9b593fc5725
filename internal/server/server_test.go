package server

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/config"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/metrics"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/provider"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/relay"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/requestid"
)

type cannedResponse struct {
	status int
	body   string
}

// fakeUpstream plays back canned chat completion responses in order and
// keeps every request body it received.
type fakeUpstream struct {
	mu        sync.Mutex
	responses []cannedResponse
	requests  []map[string]any
}

func (f *fakeUpstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.requests = append(f.requests, body)
	if len(f.responses) == 0 {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	resp := f.responses[0]
	f.responses = f.responses[1:]
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.status)
	_, _ = io.WriteString(w, resp.body)
}

func (f *fakeUpstream) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func textCompletion(s string) cannedResponse {
	b, _ := json.Marshal(s)
	return cannedResponse{http.StatusOK, `{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":` + string(b) + `},"finish_reason":"stop"}]}`}
}

func toolCompletion(name, args string) cannedResponse {
	a, _ := json.Marshal(args)
	return cannedResponse{http.StatusOK, `{"id":"c","model":"gpt-4o-mini","choices":[{"index":0,"message":{"role":"assistant","content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"` + name + `","arguments":` + string(a) + `}}]},"finish_reason":"tool_calls"}]}`}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestServer(t *testing.T, upstream *fakeUpstream, cfg config.ServerConfig, opts ...Option) *Server {
	t.Helper()
	ts := httptest.NewServer(upstream)
	t.Cleanup(ts.Close)

	llm := provider.NewOpenAIProvider("openai", ts.URL, "test-key", nil)
	registry := orchestrator.NewDefaultActionRegistry()
	orch := orchestrator.New(llm, registry, orchestrator.Config{Model: "gpt-4o-mini", MaxTokens: 300},
		orchestrator.WithLogger(discardLogger()))
	r := relay.New(orch, relay.WithLogger(discardLogger()))
	return New(r, registry, cfg, append([]Option{WithLogger(discardLogger())}, opts...)...)
}

func postChat(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return m
}

func TestChatEmptyText(t *testing.T) {
	up := &fakeUpstream{}
	s := newTestServer(t, up, config.ServerConfig{})

	for _, body := range []string{`{"text":""}`, `{"text":"   "}`, `{}`, ``} {
		rec := postChat(t, s.Handler(), "/chat", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d", body, rec.Code)
			continue
		}
		if got := decodeMap(t, rec)["error"]; got != "text required" {
			t.Errorf("body %q: error = %v", body, got)
		}
	}
	if up.calls() != 0 {
		t.Errorf("upstream calls = %d", up.calls())
	}
}

func TestChatInvalidBody(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{}, config.ServerConfig{})
	rec := postChat(t, s.Handler(), "/chat", `{"text":`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := decodeMap(t, rec)["error"]; got != "invalid request body" {
		t.Errorf("error = %v", got)
	}
}

func TestChatPlainText(t *testing.T) {
	up := &fakeUpstream{responses: []cannedResponse{textCompletion("Hello")}}
	s := newTestServer(t, up, config.ServerConfig{})

	rec := postChat(t, s.Handler(), "/chat", `{"text":"hi"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("content type = %q", got)
	}
	if !strings.Contains(rec.Body.String(), `"actions":[]`) {
		t.Errorf("actions should be an empty list: %s", rec.Body.String())
	}
	m := decodeMap(t, rec)
	if m["reply"] != "Hello" || m["text"] != "Hello" {
		t.Errorf("body = %v", m)
	}
	if up.calls() != 1 {
		t.Errorf("upstream calls = %d, want 1", up.calls())
	}
}

func TestChatToolCallTwoPasses(t *testing.T) {
	up := &fakeUpstream{responses: []cannedResponse{
		toolCompletion("export_timelapse", `{"yearA":2015,"yearB":2021}`),
		textCompletion("Exporting 2015 to 2021."),
	}}
	s := newTestServer(t, up, config.ServerConfig{})

	rec := postChat(t, s.Handler(), "/chat", `{"text":"export a timelapse from 2015 to 2021"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"actions":[{"type":"export_timelapse","yearA":2015,"yearB":2021}]`) {
		t.Errorf("body = %s", rec.Body.String())
	}
	if got := decodeMap(t, rec)["reply"]; got != "Exporting 2015 to 2021." {
		t.Errorf("reply = %v", got)
	}

	if up.calls() != 2 {
		t.Fatalf("upstream calls = %d, want 2", up.calls())
	}
	msgs, _ := up.requests[1]["messages"].([]any)
	var toolContent string
	for _, raw := range msgs {
		m, _ := raw.(map[string]any)
		if m["role"] == "tool" {
			toolContent, _ = m["content"].(string)
			if m["tool_call_id"] != "call_1" {
				t.Errorf("tool_call_id = %v", m["tool_call_id"])
			}
		}
	}
	if toolContent != `{"type":"export_timelapse","yearA":2015,"yearB":2021}` {
		t.Errorf("tool result = %q", toolContent)
	}
	if _, ok := up.requests[1]["tools"]; !ok {
		t.Error("second pass should keep the tools declared")
	}
	if up.requests[1]["tool_choice"] != "none" {
		t.Errorf("second pass tool_choice = %v, want none", up.requests[1]["tool_choice"])
	}
}

func TestChatUnknownTool(t *testing.T) {
	up := &fakeUpstream{responses: []cannedResponse{
		toolCompletion("delete_everything", `{}`),
		textCompletion("I can't do that."),
	}}
	s := newTestServer(t, up, config.ServerConfig{})

	rec := postChat(t, s.Handler(), "/api/chat", `{"message":"delete everything"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `{"type":"unknown","originalName":"delete_everything"}`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestChatUpstreamUnauthorized(t *testing.T) {
	upstreamBody := `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`
	up := &fakeUpstream{responses: []cannedResponse{{http.StatusUnauthorized, upstreamBody}}}
	s := newTestServer(t, up, config.ServerConfig{})

	rec := postChat(t, s.Handler(), "/chat", `{"text":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	m := decodeMap(t, rec)
	if m["details"] != upstreamBody {
		t.Errorf("details = %v", m["details"])
	}
	if m["error"] == "" {
		t.Error("missing error")
	}
	if up.calls() != 1 {
		t.Errorf("upstream calls = %d, want 1", up.calls())
	}
}

func TestChatProtocolErrorHasNoDetails(t *testing.T) {
	up := &fakeUpstream{responses: []cannedResponse{{http.StatusOK, `{"choices":[]}`}}}
	s := newTestServer(t, up, config.ServerConfig{})

	rec := postChat(t, s.Handler(), "/chat", `{"text":"hi"}`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, ok := decodeMap(t, rec)["details"]; ok {
		t.Error("protocol errors should not carry details")
	}
}

func TestIndex(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{}, config.ServerConfig{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "AI backend is running" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}

func TestActionsList(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{}, config.ServerConfig{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/actions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var schemas []orchestrator.ActionSchema
	if err := json.Unmarshal(rec.Body.Bytes(), &schemas); err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, s := range schemas {
		names = append(names, s.Name)
	}
	if strings.Join(names, ",") != "set_years,export_timelapse,showNDVI" {
		t.Errorf("names = %v", names)
	}
}

func TestCORS(t *testing.T) {
	tests := []struct {
		name    string
		origins []string
		origin  string
		want    string
	}{
		{"wildcard", []string{"*"}, "https://code.earthengine.google.com", "*"},
		{"listed", []string{"https://code.earthengine.google.com"}, "https://code.earthengine.google.com", "https://code.earthengine.google.com"},
		{"not listed", []string{"https://code.earthengine.google.com"}, "https://evil.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &fakeUpstream{}, config.ServerConfig{CORSOrigins: tt.origins})
			req := httptest.NewRequest(http.MethodOptions, "/chat", nil)
			req.Header.Set("Origin", tt.origin)
			req.Header.Set("Access-Control-Request-Method", "POST")
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			if rec.Code != http.StatusNoContent {
				t.Errorf("status = %d", rec.Code)
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.want {
				t.Errorf("allow origin = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRequestIDHeader(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{}, config.ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestid.Header, "abc-123")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(requestid.Header); got != "abc-123" {
		t.Errorf("echoed id = %q", got)
	}

	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if got := rec.Header().Get(requestid.Header); len(got) != 36 {
		t.Errorf("generated id = %q", got)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	up := &fakeUpstream{responses: []cannedResponse{textCompletion("Hello")}}
	m := metrics.New()
	s := newTestServer(t, up, config.ServerConfig{}, WithMetrics(m))

	// The relay built by newTestServer has no metrics; count one request
	// directly so the family is present.
	m.ObserveChat("http", "ok")

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `geechat_chat_requests_total{outcome="ok",transport="http"} 1`) {
		t.Errorf("exposition missing counter:\n%s", rec.Body.String())
	}
}

func TestMetricsRouteAbsentWithoutMetrics(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{}, config.ServerConfig{})
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestWebSocketChat(t *testing.T) {
	up := &fakeUpstream{responses: []cannedResponse{
		textCompletion("Hello"),
		toolCompletion("set_years", `{"yearA":2010,"yearB":2020}`),
		textCompletion("Years set."),
	}}
	s := newTestServer(t, up, config.ServerConfig{CORSOrigins: []string{"*"}})
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/ws", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = conn.CloseNow() }()

	exchange := func(req any) map[string]any {
		t.Helper()
		if err := wsjson.Write(ctx, conn, req); err != nil {
			t.Fatal(err)
		}
		var resp map[string]any
		if err := wsjson.Read(ctx, conn, &resp); err != nil {
			t.Fatal(err)
		}
		return resp
	}

	if got := exchange(map[string]string{"text": "hi"}); got["reply"] != "Hello" {
		t.Errorf("first frame = %v", got)
	}

	// An invalid request is answered in-band and the socket stays open.
	if got := exchange(map[string]string{"text": ""}); got["error"] != "text required" {
		t.Errorf("empty frame = %v", got)
	}

	got := exchange(map[string]string{"message": "show 2010 to 2020"})
	actions, _ := got["actions"].([]any)
	if got["reply"] != "Years set." || len(actions) != 1 {
		t.Fatalf("tool frame = %v", got)
	}
	a, _ := actions[0].(map[string]any)
	if a["type"] != "set_years" || a["yearA"] != float64(2010) || a["yearB"] != float64(2020) {
		t.Errorf("action = %v", a)
	}

	if err := conn.Close(websocket.StatusNormalClosure, ""); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestServeShutsDownOnCancel(t *testing.T) {
	s := newTestServer(t, &fakeUpstream{}, config.ServerConfig{ShutdownTimeout: time.Second})
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/")
	if err != nil {
		t.Fatal(err)
	}
	_ = resp.Body.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
