package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

//go:embed frontend
var frontendFS embed.FS

const (
	maxEventBody    = 16 << 10
	maxPromptLength = 1000
)

// rateLimiter is a simple per-IP token bucket rate limiter.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*bucket
	rate     int           // tokens per interval
	interval time.Duration // refill interval
}

type bucket struct {
	tokens   int
	lastSeen time.Time
}

func newRateLimiter(rate int, interval time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*bucket),
		rate:     rate,
		interval: interval,
	}
	// Cleanup stale entries every minute.
	go func() {
		for {
			time.Sleep(time.Minute)
			rl.mu.Lock()
			for ip, b := range rl.visitors {
				if time.Since(b.lastSeen) > 5*time.Minute {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}()
	return rl
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.visitors[ip]
	if !ok {
		rl.visitors[ip] = &bucket{tokens: rl.rate - 1, lastSeen: time.Now()}
		return true
	}

	// Refill tokens based on elapsed time.
	elapsed := time.Since(b.lastSeen)
	refill := int(elapsed / rl.interval)
	if refill > 0 {
		b.tokens += refill * rl.rate
		if b.tokens > rl.rate {
			b.tokens = rl.rate
		}
		b.lastSeen = time.Now()
	}

	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}

// Server is the main HTTP server.
type Server struct {
	mux        *http.ServeMux
	store      *Store
	sse        *Broadcaster
	generateRL *rateLimiter
	eventRL    *rateLimiter
}

// NewServer creates a configured HTTP server. Snapshots of every world in
// store are published to the live feed.
func NewServer(store *Store) *Server {
	s := &Server{
		mux:        http.NewServeMux(),
		store:      store,
		sse:        NewBroadcaster(),
		generateRL: newRateLimiter(10, time.Minute), // 10 generations/min per IP
		eventRL:    newRateLimiter(120, time.Second), // 120 events/sec per IP
	}
	store.SetOnChange(s.publish)
	s.routes()
	return s
}

func (s *Server) routes() {
	// World API
	s.mux.HandleFunc("POST /api/worlds", s.handleCreateWorld)
	s.mux.HandleFunc("GET /api/worlds", s.handleListWorlds)
	s.mux.HandleFunc("GET /api/worlds/{id}", s.handleGetWorld)
	s.mux.HandleFunc("POST /api/worlds/{id}/events", s.handleEvent)
	s.mux.HandleFunc("POST /api/worlds/{id}/terrain", s.handleGenerateTerrain)
	s.mux.HandleFunc("POST /api/worlds/{id}/features", s.handleGenerateFeature)
	s.mux.HandleFunc("POST /api/worlds/{id}/reset", s.handleReset)
	s.mux.HandleFunc("GET /api/worlds/{id}/cells/{key}", s.handleGetCell)

	// Live feed
	s.mux.HandleFunc("GET /api/worlds/{id}/events", s.handleWorldEvents)
	s.mux.HandleFunc("GET /api/worlds/{id}/ws", s.handleWorldWS)

	// Frontend static files
	frontendDir, _ := fs.Sub(frontendFS, "frontend")
	fileServer := http.FileServer(http.FS(frontendDir))
	s.mux.HandleFunc("GET /world/{id}", s.handleWorldPage)
	s.mux.Handle("GET /", fileServer)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'; img-src 'self' data: https://placehold.co; connect-src 'self'")
	s.mux.ServeHTTP(w, r)
}

// --- Feed ---

const (
	feedSnapshot = "snapshot"
	feedError    = "error"
)

// feedMessage is what SSE and WebSocket subscribers receive.
type feedMessage struct {
	Type     string    `json:"type"`
	Snapshot *Snapshot `json:"snapshot,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func encodeFeed(m feedMessage) string {
	data, err := json.Marshal(m)
	if err != nil {
		log.Printf("Encode feed message: %v", err)
		return `{"type":"error","error":"internal error"}`
	}
	return string(data)
}

// publish is the world change hook. It runs under the world lock, so it
// only encodes and hands off to the non-blocking broadcaster.
func (s *Server) publish(snap Snapshot) {
	s.sse.Broadcast(snap.ID, encodeFeed(feedMessage{Type: feedSnapshot, Snapshot: &snap}))
}

// --- World handlers ---

// worldSummary is the list view of a world.
type worldSummary struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	GlobalPrompt string    `json:"global_prompt"`
	HasTerrain   bool      `json:"has_terrain"`
	FeatureCount int       `json:"feature_count"`
	Busy         bool      `json:"busy"`
	Subscribers  int       `json:"subscribers"`
}

// POST /api/worlds: create a world, optionally with a global theme.
func (s *Server) handleCreateWorld(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GlobalPrompt string `json:"global_prompt"`
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		jsonError(w, "Invalid request", http.StatusBadRequest)
		return
	}

	world := s.store.CreateWorld(sanitizePrompt(req.GlobalPrompt))
	log.Printf("World %s created", world.ID)

	writeJSON(w, http.StatusCreated, world.Snapshot())
}

// GET /api/worlds: list all worlds.
func (s *Server) handleListWorlds(w http.ResponseWriter, _ *http.Request) {
	worlds := s.store.ListWorlds()
	list := make([]worldSummary, 0, len(worlds))
	for _, wd := range worlds {
		st := wd.Snapshot().State
		list = append(list, worldSummary{
			ID:           wd.ID,
			CreatedAt:    wd.CreatedAt,
			GlobalPrompt: st.GlobalPrompt,
			HasTerrain:   st.BaseTerrain != "",
			FeatureCount: len(st.Features),
			Busy:         st.Busy,
			Subscribers:  s.sse.ClientCount(wd.ID),
		})
	}
	writeJSON(w, http.StatusOK, list)
}

// GET /api/worlds/{id}: current state and grid index.
func (s *Server) handleGetWorld(w http.ResponseWriter, r *http.Request) {
	world := s.store.GetWorld(r.PathValue("id"))
	if world == nil {
		jsonError(w, "World not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, world.Snapshot())
}

// POST /api/worlds/{id}/events: apply a UI event.
func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	if !s.eventRL.allow(r.RemoteAddr) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}

	world := s.store.GetWorld(r.PathValue("id"))
	if world == nil {
		jsonError(w, "World not found", http.StatusNotFound)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxEventBody)
	var evt Event
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil || evt.Type == "" {
		jsonError(w, "Field 'type' required", http.StatusBadRequest)
		return
	}
	evt.Text = sanitizePrompt(evt.Text)

	switch evt.Type {
	case EventSubmitGlobalPrompt, EventSubmitLocalPrompt:
		if !s.generateRL.allow(r.RemoteAddr) {
			jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
			return
		}
	}

	snap, err := world.Handle(context.WithoutCancel(r.Context()), evt)
	if err != nil {
		writeEventError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /api/worlds/{id}/terrain: generate the base terrain.
func (s *Server) handleGenerateTerrain(w http.ResponseWriter, r *http.Request) {
	s.handleGenerate(w, r, (*World).GenerateBaseTerrain)
}

// POST /api/worlds/{id}/features: generate a feature for the selection.
func (s *Server) handleGenerateFeature(w http.ResponseWriter, r *http.Request) {
	s.handleGenerate(w, r, (*World).GenerateFeature)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request, run func(*World, context.Context) (Snapshot, error)) {
	if !s.generateRL.allow(r.RemoteAddr) {
		jsonError(w, "Too many requests, try again later", http.StatusTooManyRequests)
		return
	}

	world := s.store.GetWorld(r.PathValue("id"))
	if world == nil {
		jsonError(w, "World not found", http.StatusNotFound)
		return
	}

	snap, err := run(world, context.WithoutCancel(r.Context()))
	if err != nil {
		writeEventError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// POST /api/worlds/{id}/reset: clear terrain, features and selection.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	world := s.store.GetWorld(r.PathValue("id"))
	if world == nil {
		jsonError(w, "World not found", http.StatusNotFound)
		return
	}

	snap, err := world.Dispatch(Event{Type: EventReset})
	if err != nil {
		writeEventError(w, err)
		return
	}
	log.Printf("World %s reset", world.ID)
	writeJSON(w, http.StatusOK, snap)
}

// GET /api/worlds/{id}/cells/{key}: grid index entry for one cell.
func (s *Server) handleGetCell(w http.ResponseWriter, r *http.Request) {
	world := s.store.GetWorld(r.PathValue("id"))
	if world == nil {
		jsonError(w, "World not found", http.StatusNotFound)
		return
	}

	p, err := ParseCellKey(r.PathValue("key"))
	if err != nil || !p.Valid() {
		jsonError(w, "Invalid cell, expected x,y inside the grid", http.StatusBadRequest)
		return
	}

	cell, ok := world.GridIndex().Lookup(p.X, p.Y)
	if !ok {
		jsonError(w, "Cell is empty", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cell)
}

// GET /api/worlds/{id}/events: SSE stream of snapshots.
func (s *Server) handleWorldEvents(w http.ResponseWriter, r *http.Request) {
	world := s.store.GetWorld(r.PathValue("id"))
	if world == nil {
		jsonError(w, "World not found", http.StatusNotFound)
		return
	}

	s.sse.ServeSSE(w, r, world.ID, func(c *client) {
		// Send current state on connect.
		c.ch <- encodeFeed(feedMessage{Type: feedSnapshot, Snapshot: ptr(world.Snapshot())})
	})
}

// GET /api/worlds/{id}/ws: WebSocket feed that also accepts events.
func (s *Server) handleWorldWS(w http.ResponseWriter, r *http.Request) {
	world := s.store.GetWorld(r.PathValue("id"))
	if world == nil {
		jsonError(w, "World not found", http.StatusNotFound)
		return
	}
	s.ServeWS(w, r, world)
}

// --- Frontend page handlers ---

// GET /world/{id}: serve the world builder page.
func (s *Server) handleWorldPage(w http.ResponseWriter, _ *http.Request) {
	data, _ := frontendFS.ReadFile("frontend/world.html")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// writeEventError maps a transition or generation error to a response.
func writeEventError(w http.ResponseWriter, err error) {
	jsonError(w, eventErrorMessage(err), eventErrorStatus(err))
}

func eventErrorStatus(err error) int {
	var verr *ValidationError
	var gerr *GenerationError
	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrBusy), errors.Is(err, ErrControlDisabled):
		return http.StatusConflict
	case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrUnknownTool),
		errors.Is(err, ErrOutOfBounds), errors.Is(err, ErrInternalEvent):
		return http.StatusBadRequest
	case errors.Is(err, ErrMissingCredential):
		return http.StatusServiceUnavailable
	case errors.As(err, &gerr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func eventErrorMessage(err error) string {
	var verr *ValidationError
	var gerr *GenerationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.As(err, &gerr):
		return gerr.Message
	case errors.Is(err, ErrBusy):
		return "A generation is already in progress"
	case errors.Is(err, ErrControlDisabled):
		return "This action is not available right now"
	case errors.Is(err, ErrUnknownEvent), errors.Is(err, ErrUnknownTool),
		errors.Is(err, ErrOutOfBounds), errors.Is(err, ErrInternalEvent):
		return err.Error()
	default:
		log.Printf("Event error: %v", err)
		return "Internal error"
	}
}

func sanitizePrompt(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxPromptLength {
		s = string([]rune(s)[:maxPromptLength])
	}
	return s
}
