package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/failure"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/orchestrator"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/relay"
)

// chatRequest accepts both the "text" and the "message" field names.
type chatRequest struct {
	Text    string `json:"text"`
	Message string `json:"message"`
}

func (c chatRequest) content() string {
	for _, s := range []string{c.Text, c.Message} {
		if strings.TrimSpace(s) != "" {
			return s
		}
	}
	return ""
}

// chatResponse carries the reply twice: "text" is the field older clients
// read.
type chatResponse struct {
	Reply   string                `json:"reply"`
	Text    string                `json:"text"`
	Actions []orchestrator.Action `json:"actions"`
}

func newChatResponse(r *orchestrator.ChatReply) chatResponse {
	actions := r.Actions
	if actions == nil {
		actions = []orchestrator.Action{}
	}
	return chatResponse{Reply: r.Reply, Text: r.Reply, Actions: actions}
}

type errorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

var errInvalidBody = failure.Validation("invalid request body")

// errorFor maps an error onto the status and body sent to clients.
func errorFor(err error) (int, errorResponse) {
	fe, ok := failure.As(err)
	if !ok {
		return http.StatusInternalServerError, errorResponse{Error: "internal error"}
	}
	switch fe.Kind {
	case failure.KindValidation:
		return http.StatusBadRequest, errorResponse{Error: fe.Message}
	case failure.KindUpstream:
		return http.StatusInternalServerError, errorResponse{Error: fe.Message, Details: fe.Body}
	default:
		return http.StatusInternalServerError, errorResponse{Error: fe.Message}
	}
}

// decodeChatRequest reads one chat body. An empty body is an empty request.
func decodeChatRequest(r io.Reader) (string, error) {
	var req chatRequest
	if err := json.NewDecoder(r).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return "", errInvalidBody
	}
	return req.content(), nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "AI backend is running")
}

func (s *Server) handleActions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.ListSchemas())
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	text, err := decodeChatRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		status, body := errorFor(err)
		writeJSON(w, status, body)
		return
	}

	reply, err := s.relay.Handle(r.Context(), relay.TransportHTTP, text)
	if err != nil {
		status, body := errorFor(err)
		writeJSON(w, status, body)
		return
	}
	writeJSON(w, http.StatusOK, newChatResponse(reply))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
