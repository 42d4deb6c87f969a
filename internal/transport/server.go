package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/vasprail/offchain/internal/address"
	"github.com/vasprail/offchain/pkg/logging"
)

// HTTPServer accepts incoming request envelopes over HTTP POST and runs an
// optional WebSocket nudge hub, grounded on the teacher's
// internal/rpc/server.go (net.Listen + http.Server with fixed read/write
// timeouts, started and stopped around a context).
type HTTPServer struct {
	addr string
	log  *logging.Logger
	hub  *NudgeHub

	server   *http.Server
	listener net.Listener
}

// NewHTTPServer returns a server that will listen on addr once Serve runs.
func NewHTTPServer(addr string) *HTTPServer {
	return &HTTPServer{
		addr: addr,
		log:  logging.GetDefault().Component("transport"),
		hub:  NewNudgeHub(),
	}
}

// Hub returns the server's WebSocket nudge hub, so callers can push
// retransmit nudges to connected originators.
func (s *HTTPServer) Hub() *NudgeHub {
	return s.hub
}

// Serve implements Server. It blocks until ctx is cancelled or listening
// fails.
func (s *HTTPServer) Serve(ctx context.Context, handle func(peer address.Address, envelope []byte) ([]byte, error)) error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("transport: listen on %s: %w", s.addr, err)
	}
	s.listener = listener

	go s.hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /{$}", func(w http.ResponseWriter, r *http.Request) {
		s.handleEnvelope(w, r, handle)
	})
	mux.HandleFunc("GET /nudge", s.handleNudgeWS)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	s.log.Info("transport server started", "addr", s.addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *HTTPServer) handleEnvelope(w http.ResponseWriter, r *http.Request, handle func(address.Address, []byte) ([]byte, error)) {
	senderStr := r.Header.Get(senderHeader)
	if senderStr == "" {
		http.Error(w, "missing sender header", http.StatusBadRequest)
		return
	}
	peer, err := address.FromEncodedString(senderStr)
	if err != nil {
		http.Error(w, "invalid sender header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	resp, err := handle(peer, body)
	if err != nil {
		// The engine always answers a parsed request with a signed failure
		// envelope of its own (spec.md §4.C); err here means handle couldn't
		// even get that far (e.g. no channel registered for peer), so there
		// is no signed body to return. Logging is the only recourse.
		s.log.Warn("envelope handling failed", "peer", peer.String(), "err", err)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(resp)
}
