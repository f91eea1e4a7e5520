package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shaunagostinho/fieldtrack/internal/gps"
	"github.com/shaunagostinho/fieldtrack/internal/logger"
	"github.com/shaunagostinho/fieldtrack/internal/store"
	"github.com/shaunagostinho/fieldtrack/internal/track"
)

// Server polls the location source, feeds the active recording session,
// and serves live frames and stored sessions.
type Server struct {
	cfg     *Config
	gpsProv gps.Provider
	store   *store.Store
	logger  *logger.Logger

	clients   map[*wsClient]struct{}
	clientsMu sync.RWMutex

	upgrader websocket.Upgrader

	// The active session is driven only by the poll loop; sessMu serializes
	// it against start/stop requests. Stopped sessions stay in unsaved until
	// the store accepts them.
	sessMu  sync.Mutex
	session *track.Session
	unsaved []*track.Session
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Frame is the JSON structure sent to all WebSocket clients.
type Frame struct {
	GPS         *gps.Data          `json:"gps,omitempty"`
	Observation *track.Observation `json:"observation,omitempty"`
	Session     *track.Summary     `json:"session,omitempty"`
	Event       string             `json:"event,omitempty"` // "started", "stopped"
	Stamp       int64              `json:"stamp"`           // Unix ms
}

// sessionRequest is the body accepted by POST /api/session/start.
type sessionRequest struct {
	Name  string `json:"name"`
	Notes string `json:"notes"`
}

// sessionDetail is a stored session with its path.
type sessionDetail struct {
	Summary track.Summary `json:"summary"`
	Path    track.Path    `json:"path"`
}

// New creates a new Server. gpsProv may be nil when GPS is disabled.
func New(cfg *Config, gpsProv gps.Provider, st *store.Store) *Server {
	return &Server{
		cfg:     cfg,
		gpsProv: gpsProv,
		store:   st,
		logger: logger.New(logger.Config{
			Enabled:    cfg.Logging.Enabled,
			Path:       cfg.Logging.Path,
			IntervalMs: cfg.Logging.Interval,
		}),
		clients: make(map[*wsClient]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint
	mux.HandleFunc("/ws", s.handleWS)

	// Config API
	mux.HandleFunc("/api/config", s.handleConfig)

	// Recording control
	mux.HandleFunc("/api/session", s.handleSession)
	mux.HandleFunc("/api/session/start", s.handleSessionStart)
	mux.HandleFunc("/api/session/stop", s.handleSessionStop)

	// Stored sessions
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/sessions/", s.handleStoredSession)

	return mux
}

// Run starts the HTTP server and the GPS poll loop.
func (s *Server) Run(ctx context.Context) error {
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		s.pollLoop(ctx)
	}()

	srv := &http.Server{
		Addr:    s.cfg.Server.ListenAddr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		<-pollDone
		// Don't lose a recording in progress on shutdown.
		if _, err := s.stopSession(context.Background()); err != nil && !errors.Is(err, errNotRecording) {
			log.Printf("[session] save on shutdown failed: %v", err)
		}
		s.logger.Close()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	log.Printf("[server] listening on %s", s.cfg.Server.ListenAddr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	s.clientsMu.Lock()
	s.clients[client] = struct{}{}
	n := len(s.clients)
	s.clientsMu.Unlock()

	log.Printf("[ws] client connected (%d total)", n)

	// Send current session status
	initial := Frame{Stamp: time.Now().UnixMilli()}
	if sum, ok := s.currentSummary(); ok {
		initial.Session = &sum
	}
	if data, err := json.Marshal(initial); err == nil {
		client.send <- data
	}

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine (handle incoming messages / keep-alive)
	go func() {
		defer func() {
			s.clientsMu.Lock()
			delete(s.clients, client)
			n := len(s.clients)
			close(client.send)
			s.clientsMu.Unlock()
			log.Printf("[ws] client disconnected (%d total)", n)
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		data, err := s.cfg.ToJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(data)

	case http.MethodPost:
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		if err := s.cfg.UpdateFromJSON(body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.cfg.mu.RLock()
		logEnabled := s.cfg.Logging.Enabled
		s.cfg.mu.RUnlock()
		s.logger.SetEnabled(logEnabled)
		if err := s.cfg.Save(); err != nil {
			log.Printf("[config] save failed: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sum, ok := s.currentSummary()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"recording": false})
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req sessionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
	}

	sum, err := s.startSession(req.Name, req.Notes)
	switch {
	case errors.Is(err, errAlreadyRecording):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusCreated, sum)
}

func (s *Server) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sum, err := s.stopSession(r.Context())
	switch {
	case errors.Is(err, errNotRecording):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	all, err := s.store.List(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, all)
}

// handleStoredSession serves /api/sessions/{id} and /api/sessions/{id}/geojson.
func (s *Server) handleStoredSession(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/sessions/"), "/")
	id, sub, _ := strings.Cut(rest, "/")
	if id == "" || (sub != "" && sub != "geojson") {
		http.NotFound(w, r)
		return
	}

	switch {
	case r.Method == http.MethodDelete && sub == "":
		if err := s.store.Delete(r.Context(), id); err != nil {
			storeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case r.Method == http.MethodGet:
		sum, path, err := s.store.Get(r.Context(), id)
		if err != nil {
			storeError(w, err)
			return
		}
		if sub == "geojson" {
			data, err := store.ExportGeoJSON(sum, path)
			if err != nil {
				http.Error(w, err.Error(), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/geo+json")
			w.Write(data)
			return
		}
		writeJSON(w, http.StatusOK, sessionDetail{Summary: sum, Path: path})

	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

// pollLoop reads the GPS at the configured rate and feeds each valid fix
// to the active session. It is the only caller of Session.Record.
func (s *Server) pollLoop(ctx context.Context) {
	if s.gpsProv == nil {
		log.Printf("[gps] disabled, poll loop not started")
		return
	}

	s.cfg.mu.RLock()
	intervalMs := s.cfg.Recording.SampleIntervalMs
	s.cfg.mu.RUnlock()
	if intervalMs <= 0 {
		intervalMs = 1000
	}
	ticker := time.NewTicker(time.Duration(intervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, err := s.gpsProv.Read()
			if err != nil {
				continue
			}
			if !data.Valid {
				s.broadcast(Frame{GPS: data, Stamp: time.Now().UnixMilli()})
				continue
			}
			s.recordFix(data)
		}
	}
}

// recordFix passes one fix to the active session and broadcasts the result.
func (s *Server) recordFix(data *gps.Data) {
	fix := rawFixFrom(data)

	s.sessMu.Lock()
	sess := s.session
	if sess == nil {
		s.sessMu.Unlock()
		s.broadcast(Frame{GPS: data, Stamp: time.Now().UnixMilli()})
		return
	}
	obs, err := sess.Record(fix)
	sum := sess.Summary()
	s.sessMu.Unlock()

	frame := Frame{GPS: data, Session: &sum, Stamp: time.Now().UnixMilli()}
	if err != nil {
		log.Printf("[session] %s: fix dropped: %v", sess.ID(), err)
	} else {
		frame.Observation = &obs
		s.logger.Record(sess.ID(), obs)
	}
	s.broadcast(frame)
}

// rawFixFrom converts a provider reading into a filter input.
func rawFixFrom(d *gps.Data) track.RawFix {
	captured := d.CapturedAt
	if captured.IsZero() {
		captured = time.Now()
	}
	return track.RawFix{
		Latitude:           d.Latitude,
		Longitude:          d.Longitude,
		HorizontalAccuracy: d.Accuracy,
		CapturedAtEpochMs:  captured.UnixMilli(),
	}
}

func (s *Server) broadcast(frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[server] encode response: %v", err)
	}
}

func storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
