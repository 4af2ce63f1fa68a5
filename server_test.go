package main

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func newTestServer() *Server {
	return NewServer(NewStore(NewMockGenerator(0), ""))
}

func do(srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func decodeSnapshot(t *testing.T, w *httptest.ResponseRecorder) Snapshot {
	t.Helper()
	var snap Snapshot
	if err := json.NewDecoder(w.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	return snap
}

func createWorld(t *testing.T, srv http.Handler) Snapshot {
	t.Helper()
	w := do(srv, "POST", "/api/worlds", `{"global_prompt":"desert"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create world: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	return decodeSnapshot(t, w)
}

func TestWorldPageRoute(t *testing.T) {
	srv := newTestServer()

	w := do(srv, "GET", "/world/abc123", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Fatalf("expected text/html, got %s", ct)
	}
	if !strings.Contains(w.Body.String(), "Infinite World Builder") {
		t.Fatal("world page does not contain expected title")
	}
}

func TestFullWorldFlow(t *testing.T) {
	srv := newTestServer()
	world := createWorld(t, srv)
	base := "/api/worlds/" + world.ID

	if world.State.GlobalPrompt != "desert" {
		t.Fatalf("expected theme desert, got %q", world.State.GlobalPrompt)
	}

	// Generate terrain.
	w := do(srv, "POST", base+"/terrain", "")
	if w.Code != http.StatusOK {
		t.Fatalf("terrain: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	snap := decodeSnapshot(t, w)
	if !strings.Contains(snap.State.BaseTerrain, "desert") || !strings.Contains(snap.State.BaseTerrain, "500x500") {
		t.Fatalf("unexpected terrain %q", snap.State.BaseTerrain)
	}

	// Drag a selection and describe it.
	for _, body := range []string{
		`{"type":"start_drag","point":{"x":3,"y":3}}`,
		`{"type":"extend_drag","point":{"x":1,"y":2}}`,
		`{"type":"end_drag"}`,
		`{"type":"set_local_prompt","text":"  a lake  "}`,
	} {
		w = do(srv, "POST", base+"/events", body)
		if w.Code != http.StatusOK {
			t.Fatalf("event %s: expected 200, got %d: %s", body, w.Code, w.Body.String())
		}
	}

	w = do(srv, "POST", base+"/features", "")
	if w.Code != http.StatusOK {
		t.Fatalf("feature: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	snap = decodeSnapshot(t, w)
	if len(snap.State.Features) != 1 {
		t.Fatalf("expected 1 feature, got %d", len(snap.State.Features))
	}
	f := snap.State.Features[0]
	if f.Prompt != "a lake" || !strings.Contains(f.ImageURL, "150x100") {
		t.Fatalf("unexpected feature %+v", f)
	}
	if len(snap.Cells) != 6 {
		t.Fatalf("expected 6 indexed cells, got %d", len(snap.Cells))
	}

	// Look up a covered cell and an empty one.
	w = do(srv, "GET", base+"/cells/2,3", "")
	if w.Code != http.StatusOK {
		t.Fatalf("cell: expected 200, got %d", w.Code)
	}
	var cell CellData
	json.NewDecoder(w.Body).Decode(&cell)
	if cell.ID != "2,3" || cell.Prompt != "a lake" {
		t.Fatalf("unexpected cell %+v", cell)
	}
	if w = do(srv, "GET", base+"/cells/9,9", ""); w.Code != http.StatusNotFound {
		t.Fatalf("empty cell: expected 404, got %d", w.Code)
	}
	if w = do(srv, "GET", base+"/cells/99,0", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("out of grid cell: expected 400, got %d", w.Code)
	}

	// Reset.
	w = do(srv, "POST", base+"/reset", "")
	if w.Code != http.StatusOK {
		t.Fatalf("reset: expected 200, got %d", w.Code)
	}
	snap = decodeSnapshot(t, w)
	if snap.State.BaseTerrain != "" || len(snap.State.Features) != 0 || len(snap.Cells) != 0 {
		t.Fatalf("reset left state behind: %+v", snap.State)
	}
}

func TestListWorldsRoute(t *testing.T) {
	srv := newTestServer()
	world := createWorld(t, srv)
	c := srv.sse.Register(world.ID)
	defer srv.sse.Unregister(c)

	w := do(srv, "GET", "/api/worlds", "")
	var list []worldSummary
	json.NewDecoder(w.Body).Decode(&list)
	if len(list) != 1 || list[0].GlobalPrompt != "desert" || list[0].HasTerrain {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].Subscribers != 1 {
		t.Fatalf("expected 1 subscriber, got %d", list[0].Subscribers)
	}
}

func TestUnknownWorld(t *testing.T) {
	srv := newTestServer()

	for _, r := range []struct{ method, path string }{
		{"GET", "/api/worlds/nope"},
		{"POST", "/api/worlds/nope/terrain"},
		{"POST", "/api/worlds/nope/reset"},
		{"GET", "/api/worlds/nope/cells/1,1"},
	} {
		if w := do(srv, r.method, r.path, ""); w.Code != http.StatusNotFound {
			t.Errorf("%s %s: expected 404, got %d", r.method, r.path, w.Code)
		}
	}
}

func TestEventValidation(t *testing.T) {
	srv := newTestServer()
	world := createWorld(t, srv)
	base := "/api/worlds/" + world.ID

	// Feature before terrain: user-facing validation message.
	w := do(srv, "POST", base+"/features", "")
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["error"] != "Generate a base terrain first." {
		t.Fatalf("unexpected error %q", resp["error"])
	}

	// The message also lands in the error slot until dismissed.
	snap := decodeSnapshot(t, do(srv, "GET", base, ""))
	if snap.State.Error != "Generate a base terrain first." {
		t.Fatalf("unexpected error slot %q", snap.State.Error)
	}
	do(srv, "POST", base+"/events", `{"type":"dismiss_error"}`)
	if snap = decodeSnapshot(t, do(srv, "GET", base, "")); snap.State.Error != "" {
		t.Fatal("error should be dismissed")
	}

	// Malformed and unknown events.
	if w = do(srv, "POST", base+"/events", `not json`); w.Code != http.StatusBadRequest {
		t.Fatalf("malformed: expected 400, got %d", w.Code)
	}
	if w = do(srv, "POST", base+"/events", `{"type":"teleport"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("unknown: expected 400, got %d", w.Code)
	}
	if w = do(srv, "POST", base+"/events", `{"type":"start_drag","point":{"x":40,"y":0}}`); w.Code != http.StatusBadRequest {
		t.Fatalf("out of bounds: expected 400, got %d", w.Code)
	}

	// Generation results cannot be injected.
	if w = do(srv, "POST", base+"/events", `{"type":"generation_succeeded","image_url":"x"}`); w.Code != http.StatusBadRequest {
		t.Fatalf("injected result: expected 400, got %d", w.Code)
	}

	// Local prompt is locked without terrain.
	if w = do(srv, "POST", base+"/events", `{"type":"set_local_prompt","text":"x"}`); w.Code != http.StatusConflict {
		t.Fatalf("disabled control: expected 409, got %d", w.Code)
	}
}

func TestBusyReturnsConflict(t *testing.T) {
	gen := &stubGenerator{
		ref:     "t.png",
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	srv := NewServer(NewStore(gen, ""))
	world := createWorld(t, srv)
	base := "/api/worlds/" + world.ID

	done := make(chan int, 1)
	go func() {
		done <- do(srv, "POST", base+"/terrain", "").Code
	}()
	<-gen.started

	if w := do(srv, "POST", base+"/events", `{"type":"submit_global_prompt"}`); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 while busy, got %d", w.Code)
	}
	if w := do(srv, "POST", base+"/reset", ""); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for reset while busy, got %d", w.Code)
	}

	close(gen.release)
	if code := <-done; code != http.StatusOK {
		t.Fatalf("expected first generation to succeed, got %d", code)
	}
	if n := gen.calls.Load(); n != 1 {
		t.Fatalf("expected 1 backend call, got %d", n)
	}
}

func TestGenerationFailureStatus(t *testing.T) {
	srv := NewServer(NewStore(unavailableGenerator{}, ""))
	world := createWorld(t, srv)

	w := do(srv, "POST", "/api/worlds/"+world.ID+"/terrain", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
	var resp map[string]string
	json.NewDecoder(w.Body).Decode(&resp)
	if resp["error"] != "API_KEY is not configured." {
		t.Fatalf("unexpected error %q", resp["error"])
	}
}

func TestGenerationSurvivesClientAbort(t *testing.T) {
	srv := NewServer(NewStore(NewMockGenerator(200*time.Millisecond), ""))

	for _, tc := range []struct {
		name, path, body string
	}{
		{"terrain route", "/terrain", ""},
		{"submit event", "/events", `{"type":"submit_global_prompt"}`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			world := createWorld(t, srv)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			time.AfterFunc(20*time.Millisecond, cancel)

			req := httptest.NewRequest("POST", "/api/worlds/"+world.ID+tc.path, strings.NewReader(tc.body)).WithContext(ctx)
			w := httptest.NewRecorder()
			srv.ServeHTTP(w, req)

			if w.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
			}
			st := srv.store.GetWorld(world.ID).Snapshot().State
			if st.BaseTerrain == "" || st.Error != "" || st.Busy {
				t.Fatalf("expected terrain despite aborted request, got %+v", st)
			}
		})
	}
}

func TestEventStream(t *testing.T) {
	srv := newTestServer()
	world := createWorld(t, srv)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/api/worlds/" + world.ID + "/events")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		sc.Buffer(make([]byte, 64<<10), 1<<20)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
		close(lines)
	}()

	next := func() feedMessage {
		t.Helper()
		select {
		case data := <-lines:
			var m feedMessage
			if err := json.Unmarshal([]byte(data), &m); err != nil {
				t.Fatalf("decode feed: %v", err)
			}
			return m
		case <-time.After(2 * time.Second):
			t.Fatal("no feed message")
		}
		return feedMessage{}
	}

	if m := next(); m.Type != feedSnapshot || m.Snapshot.ID != world.ID {
		t.Fatalf("expected initial snapshot, got %+v", m)
	}

	do(srv, "POST", "/api/worlds/"+world.ID+"/events", `{"type":"select_tool","tool":"ERASE"}`)
	if m := next(); m.Snapshot == nil || m.Snapshot.State.Tool != ToolErase {
		t.Fatalf("expected tool change in feed, got %+v", m)
	}
}

func TestSecurityHeaders(t *testing.T) {
	srv := newTestServer()

	w := do(srv, "GET", "/", "")

	headers := map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Referrer-Policy":        "strict-origin-when-cross-origin",
	}

	for key, expected := range headers {
		if got := w.Header().Get(key); got != expected {
			t.Errorf("header %s: expected %q, got %q", key, expected, got)
		}
	}

	csp := w.Header().Get("Content-Security-Policy")
	if !strings.Contains(csp, "https://placehold.co") {
		t.Errorf("Content-Security-Policy should allow placeholder images, got %q", csp)
	}
}

func TestRateLimiter(t *testing.T) {
	rl := newRateLimiter(3, time.Second)

	// First 3 should pass.
	for i := range 3 {
		if !rl.allow("1.2.3.4") {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}

	// 4th should be blocked.
	if rl.allow("1.2.3.4") {
		t.Fatal("4th request should be rate limited")
	}

	// Different IP should still be allowed.
	if !rl.allow("5.6.7.8") {
		t.Fatal("different IP should be allowed")
	}
}
