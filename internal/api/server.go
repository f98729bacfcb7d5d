// Package api exposes the scan commands, host lifecycle reports and the tag
// listener over HTTP and WebSocket.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/operator-mobile/tagscan/internal/errcode"
	"github.com/operator-mobile/tagscan/internal/lifecycle"
	"github.com/operator-mobile/tagscan/internal/reader"
	"github.com/operator-mobile/tagscan/internal/scan"
	"github.com/operator-mobile/tagscan/internal/sink"
)

// Phases receives host lifecycle reports.
type Phases interface {
	Transition(p lifecycle.Phase) bool
	Phase() lifecycle.Phase
}

// Tapper injects a tag into the field. Only the simulated reader has one.
type Tapper interface {
	Tap(uid []byte) bool
}

// Switch toggles the reader's user-facing enabled flag.
type Switch interface {
	SetEnabled(enabled bool) error
}

type Options struct {
	AuthToken      string
	AllowedOrigins []string
	SendBuffer     int
	Tapper         Tapper
	Switch         Switch
}

type Server struct {
	cmds   scan.Commands
	phases Phases
	sink   *sink.Sink
	tapper Tapper
	swtch  Switch

	sendBuffer     int
	authToken      string
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
}

func NewServer(cmds scan.Commands, phases Phases, sk *sink.Sink, opts Options) *Server {
	s := &Server{
		cmds:           cmds,
		phases:         phases,
		sink:           sk,
		tapper:         opts.Tapper,
		swtch:          opts.Switch,
		sendBuffer:     opts.SendBuffer,
		authToken:      opts.AuthToken,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
	}

	for _, origin := range opts.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

// Router returns the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(securityHeaders)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("OK"))
	}).Methods("GET")

	authed := r.NewRoute().Subrouter()
	authed.Use(s.requireAuth)
	authed.HandleFunc("/ws", s.handleWS).Methods("GET")

	api := authed.PathPrefix("/api").Subrouter()
	api.HandleFunc("/scan/enable", s.handleEnable).Methods("POST")
	api.HandleFunc("/scan/disable", s.handleDisable).Methods("POST")
	api.HandleFunc("/scan/available", s.handleAvailable).Methods("GET")
	api.HandleFunc("/scan/status", s.handleStatus).Methods("GET")
	api.HandleFunc("/lifecycle", s.handlePhase).Methods("GET")
	api.HandleFunc("/lifecycle/{phase}", s.handleLifecycle).Methods("POST")
	api.HandleFunc("/reader/taps", s.handleTap).Methods("POST")
	api.HandleFunc("/reader/enabled", s.handleReaderEnabled).Methods("POST")

	return r
}

func (s *Server) handleEnable(w http.ResponseWriter, r *http.Request) {
	if !s.cmds.EnableScan() {
		writeError(w, errcode.Wrap(errcode.NotReady, "enable", scan.ErrStopped))
		return
	}
	writeJSON(w, http.StatusOK, Reply{OK: true})
}

func (s *Server) handleDisable(w http.ResponseWriter, r *http.Request) {
	if !s.cmds.DisableScan() {
		writeError(w, errcode.Wrap(errcode.NotReady, "disable", scan.ErrStopped))
		return
	}
	writeJSON(w, http.StatusOK, Reply{OK: true})
}

func (s *Server) handleAvailable(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, AvailableReply{Available: s.cmds.IsAvailable()})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cmds.Status())
}

func (s *Server) handlePhase(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, PhaseReply{Reply: Reply{OK: true}, Phase: s.phases.Phase()})
}

func (s *Server) handleLifecycle(w http.ResponseWriter, r *http.Request) {
	p, err := lifecycle.ParsePhase(mux.Vars(r)["phase"])
	if err != nil {
		writeError(w, errcode.Wrap(errcode.InvalidPhase, "lifecycle", err))
		return
	}
	changed := s.phases.Transition(p)
	writeJSON(w, http.StatusOK, PhaseReply{Reply: Reply{OK: true}, Phase: p, Changed: changed})
}

func (s *Server) handleTap(w http.ResponseWriter, r *http.Request) {
	if s.tapper == nil {
		writeError(w, errcode.Unsupported)
		return
	}
	var req TapRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, errcode.Wrap(errcode.InvalidPayload, "tap", err))
		return
	}
	uid, err := reader.ParseUID(req.UID)
	if err != nil {
		writeError(w, errcode.Wrap(errcode.InvalidPayload, "tap", err))
		return
	}
	emitted := s.tapper.Tap(uid)
	writeJSON(w, http.StatusOK, TapReply{
		Reply:   Reply{OK: true},
		UID:     reader.FormatUID(uid),
		Emitted: emitted,
	})
}

// handleReaderEnabled switches the capability flag, as a user turning the
// radio off or on in system settings would.
func (s *Server) handleReaderEnabled(w http.ResponseWriter, r *http.Request) {
	if s.swtch == nil {
		writeError(w, errcode.Unsupported)
		return
	}
	var req EnabledRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096)).Decode(&req); err != nil {
		writeError(w, errcode.Wrap(errcode.InvalidPayload, "reader enabled", err))
		return
	}
	if req.Enabled == nil {
		writeError(w, errcode.Wrap(errcode.InvalidPayload, "reader enabled", errors.New("missing enabled")))
		return
	}
	if err := s.swtch.SetEnabled(*req.Enabled); err != nil {
		if errors.Is(err, reader.ErrClosed) {
			err = errcode.Wrap(errcode.NotReady, "reader enabled", err)
		}
		writeError(w, err)
		return
	}
	log.Printf("api: reader enabled=%v", *req.Enabled)
	writeJSON(w, http.StatusOK, EnabledReply{
		Reply:     Reply{OK: true},
		Enabled:   *req.Enabled,
		Available: s.cmds.IsAvailable(),
	})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: s.checkOrigin,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("api: ws upgrade error: %v", err)
		return
	}

	l := sink.NewWSListener(conn, s.sendBuffer)
	s.sink.Attach(l)
	log.Printf("api: listener %s connected from %s", l.ID(), r.RemoteAddr)

	go func() {
		defer func() {
			s.sink.Detach(l)
			l.Close()
			log.Printf("api: listener %s disconnected", l.ID())
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.authorize(r) {
			writeError(w, errcode.Unauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if s.tokenMatches(r.URL.Query().Get("token")) {
		return true
	}

	if s.tokenMatches(r.Header.Get("X-Tagscan-Token")) {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && s.tokenMatches(strings.TrimPrefix(auth, "Bearer ")) {
		return true
	}

	return false
}

func (s *Server) tokenMatches(got string) bool {
	return got != "" && subtle.ConstantTimeCompare([]byte(got), []byte(s.authToken)) == 1
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	if len(s.allowedOrigins) > 0 {
		return s.allowedOrigins[origin] || s.allowedHosts[parsed.Host]
	}

	if parsed.Host == r.Host {
		return true
	}
	switch parsed.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Cache-Control", "no-store")
		h.Set("Content-Security-Policy", "default-src 'none'")
		next.ServeHTTP(w, r)
	})
}

func statusFor(c errcode.Code) int {
	switch c {
	case errcode.InvalidPayload, errcode.InvalidPhase:
		return http.StatusBadRequest
	case errcode.Unauthorized:
		return http.StatusUnauthorized
	case errcode.Unsupported:
		return http.StatusNotImplemented
	case errcode.NotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError replies with the code carried by err. Errors without a code
// are logged and reported as the generic error code.
func writeError(w http.ResponseWriter, err error) {
	c := errcode.Of(err)
	if c == errcode.Error {
		log.Printf("api: %v", err)
	}
	writeJSON(w, statusFor(c), Reply{OK: false, Error: c})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

// ListenAndServe serves h on addr until ctx is cancelled, then shuts down
// gracefully.
func ListenAndServe(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf("api: listening on %s", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen %s: %w", addr, err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
