package webhook

import (
	"context"
	"net/http"
	"time"
)

// Default webhook routes. The turn path must match the callback URL
// configured in the render options, or the gateway will post results
// into the void.
const (
	AnswerPath = "/voice/answer"
	TurnPath   = "/voice/turn"
)

// Server runs the webhook listener with conservative timeouts. The
// gateway abandons slow responses, so there is no value in waiting
// longer than it would.
type Server struct {
	httpServer *http.Server
}

// NewServer creates the webhook server for addr, e.g. ":8080".
func NewServer(addr string, handler *Handler) *Server {
	mux := http.NewServeMux()
	mux.HandleFunc(AnswerPath, handler.Answer)
	mux.HandleFunc(TurnPath, handler.Turn)

	return &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
	}
}

// Start blocks serving webhooks until Shutdown or a listener error.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains in-flight webhooks.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
