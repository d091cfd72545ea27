// Package server exposes the streaming chat contract over a websocket so UI
// clients receive the same normalised event stream the CLI consumes. One JSON
// request frame in, a sequence of StreamEvent frames out, exactly one of which
// is terminal.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/modelgate/modelgate/internal/config"
	"github.com/modelgate/modelgate/internal/gateway"
	"github.com/modelgate/modelgate/internal/schema"
	"github.com/modelgate/modelgate/internal/session"
)

// ChatRequest is one inbound websocket frame asking for a turn.
type ChatRequest struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider,omitempty"`
	Model     string `json:"model,omitempty"`
	Message   string `json:"message"`
}

// Server relays turns between websocket clients and the gateway.
type Server struct {
	gw       *gateway.Gateway
	sessions *session.Manager
	cfg      *config.Config
	log      *slog.Logger

	upgrader websocket.Upgrader
}

// New builds a Server over the given collaborators.
func New(gw *gateway.Gateway, sessions *session.Manager, cfg *config.Config, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		gw:       gw,
		sessions: sessions,
		cfg:      cfg,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// Handler returns the HTTP mux serving the websocket endpoint at /ws and a
// liveness probe at /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Handler()}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("serve listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	// Callbacks run on the gateway's goroutine, so frame writes share a lock.
	var wmu sync.Mutex
	send := func(ev schema.StreamEvent) {
		wmu.Lock()
		defer wmu.Unlock()
		payload, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.log.Warn("websocket write failed", "err", err)
		}
	}

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req ChatRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			send(schema.StreamEvent{Kind: "error", Error: "malformed request frame"})
			continue
		}
		if req.Message == "" {
			send(schema.StreamEvent{Kind: "error", Error: "empty message"})
			continue
		}

		s.serveTurn(r.Context(), req, send)
	}
}

func (s *Server) serveTurn(ctx context.Context, req ChatRequest, send func(schema.StreamEvent)) {
	sessionKey := req.SessionID
	if sessionKey == "" {
		sessionKey = "default"
	}
	sess := s.sessions.GetOrCreate(sessionKey)

	prefs := schema.Preferences{
		Temperature: s.cfg.Defaults.Temperature,
		MaxTokens:   s.cfg.Defaults.MaxTokens,
		EnableTools: s.cfg.Defaults.EnableTools,
	}
	chat := sess.Context(req.Message, prefs, nil)

	completion, err := s.gw.SendMessage(ctx, chat, gateway.SendOptions{
		Provider:  req.Provider,
		Model:     req.Model,
		SessionID: sessionKey,
		OnChunk: func(text string) {
			send(schema.StreamEvent{Kind: "chunk", Text: text})
		},
		OnComplete: func(c schema.Completion) {
			send(schema.StreamEvent{Kind: "complete", Completion: &c})
		},
		OnError: func(err error) {
			provider := req.Provider
			if provider == "" {
				provider = s.cfg.ActiveProvider
			}
			send(schema.StreamEvent{Kind: "error", Error: s.gw.ErrorText(provider, err)})
		},
	})
	if err != nil {
		return
	}

	sess.AddUser(req.Message)
	sess.AddAssistant(completion.Content, nil)
}
