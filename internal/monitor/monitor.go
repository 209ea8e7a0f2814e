// Package monitor implements SPEC_FULL.md's optional --monitor HTTP+WS
// surface: a /healthz probe and a /progress feed broadcasting round
// advancement to any connected client, adapted from
// servs/s_runn/runn_api/rest.go's chi router and ws.go's connection Hub
// (retargeted from process-manager status pushes to run-progress pushes,
// and from JWT-user auth to the mesh's RankToken).
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Progress is one broadcast update: the current phase and round counters
// across all live blocks on this rank.
type Progress struct {
	Phase     string    `json:"phase"` // "swapreduce" or "components"
	Round     int       `json:"round"`
	NotDone   int       `json:"not_done"`
	Resident  int       `json:"resident"`
	Timestamp time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub fans a Progress feed out to every connected /progress client,
// mirroring runn_api/ws.go's Hub but without per-connection auth state:
// the RankToken check happens once at HTTP handshake, not per message.
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	log     zerolog.Logger
}

func newHub(log zerolog.Logger) *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool), log: log}
}

// Broadcast pushes p to every connected client, dropping any connection
// that errors on write.
func (h *Hub) Broadcast(p Progress) {
	data, err := json.Marshal(p)
	if err != nil {
		h.log.Warn().Err(err).Msg("monitor: marshal progress")
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

// Server is the monitor's HTTP+WS endpoint.
type Server struct {
	addr string
	hub  *Hub
	log  zerolog.Logger

	// authorize validates a request's cluster token before allowing a
	// websocket upgrade; nil disables the check (no cluster secret
	// configured, see internal/exchange.VerifyRankToken).
	authorize func(r *http.Request) bool
}

// New builds a Server listening on addr. authorize may be nil.
func New(addr string, log zerolog.Logger, authorize func(r *http.Request) bool) *Server {
	return &Server{addr: addr, hub: newHub(log), log: log.With().Str("component", "monitor").Logger(), authorize: authorize}
}

// Broadcast forwards p to every connected /progress client.
func (s *Server) Broadcast(p Progress) { s.hub.Broadcast(p) }

func (s *Server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/progress", func(w http.ResponseWriter, req *http.Request) {
		if s.authorize != nil && !s.authorize(req) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			s.log.Warn().Err(err).Msg("monitor: websocket upgrade failed")
			return
		}
		s.hub.add(conn)
		go s.drain(conn)
	})

	return r
}

// drain discards inbound client frames (the feed is one-directional) and
// removes the connection from the hub once the client disconnects.
func (s *Server) drain(conn *websocket.Conn) {
	defer s.hub.remove(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// ListenAndServe blocks serving the monitor endpoint until the process
// exits or the listener errors; callers typically run it in a goroutine.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.addr).Msg("monitor: listening")
	return http.ListenAndServe(s.addr, s.router())
}
