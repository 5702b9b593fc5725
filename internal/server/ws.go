package server

import (
	"bytes"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Sumaya3011/gee-openai-chatbot/internal/relay"
	"github.com/Sumaya3011/gee-openai-chatbot/internal/requestid"
)

// handleWebSocket serves /ws. Each text frame is one chat request and gets
// exactly one JSON frame back. Failures are reported in-band and keep the
// socket open.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// The server's read and write timeouts are meant for single requests.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.log.Warn("ws: accept failed", "request_id", requestid.From(r.Context()), "err", err)
		return
	}
	defer func() { _ = conn.CloseNow() }()
	conn.SetReadLimit(maxBodyBytes)

	ctx := r.Context()
	connID := requestid.From(ctx)
	for n := 1; ; n++ {
		_, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
			default:
				s.log.Debug("ws: read ended", "request_id", connID, "err", err)
			}
			return
		}

		frameCtx := requestid.With(ctx, connID+"-"+strconv.Itoa(n))
		var out any
		text, err := decodeChatRequest(bytes.NewReader(data))
		if err == nil {
			reply, chatErr := s.relay.Handle(frameCtx, relay.TransportWebSocket, text)
			if chatErr == nil {
				out = newChatResponse(reply)
			}
			err = chatErr
		}
		if err != nil {
			_, body := errorFor(err)
			out = body
		}

		if err := wsjson.Write(ctx, conn, out); err != nil {
			s.log.Debug("ws: write failed", "request_id", connID, "err", err)
			return
		}
	}
}

// acceptOptions derives the allowed WebSocket origins from the CORS list.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	opts := &websocket.AcceptOptions{}
	if len(s.cfg.CORSOrigins) == 0 {
		opts.InsecureSkipVerify = true
		return opts
	}
	for _, o := range s.cfg.CORSOrigins {
		if o == "*" {
			opts.InsecureSkipVerify = true
			return opts
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			opts.OriginPatterns = append(opts.OriginPatterns, u.Host)
		}
	}
	return opts
}
