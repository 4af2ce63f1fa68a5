package main

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func dialWorld(t *testing.T, ts *httptest.Server, id string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/worlds/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	return conn
}

func readFeed(t *testing.T, conn *websocket.Conn) feedMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m feedMessage
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read feed: %v", err)
	}
	return m
}

func TestWebSocketFeed(t *testing.T) {
	srv := newTestServer()
	world := createWorld(t, srv)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWorld(t, ts, world.ID)
	defer conn.Close()

	if m := readFeed(t, conn); m.Type != feedSnapshot || m.Snapshot.ID != world.ID {
		t.Fatalf("expected initial snapshot, got %+v", m)
	}

	// Events sent over the socket are applied and echoed back as snapshots.
	if err := conn.WriteJSON(Event{Type: EventZoom, Direction: ZoomIn, Source: ZoomButton}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := readFeed(t, conn)
	if m.Snapshot == nil || m.Snapshot.State.Zoom != 1.2 {
		t.Fatalf("expected zoom 1.2, got %+v", m)
	}

	// Changes made over HTTP reach the socket too.
	do(srv, "POST", "/api/worlds/"+world.ID+"/events", `{"type":"select_tool","tool":"DRAW"}`)
	if m = readFeed(t, conn); m.Snapshot == nil || m.Snapshot.State.Tool != ToolDraw {
		t.Fatalf("expected tool change, got %+v", m)
	}
}

func TestWebSocketErrorsGoToSender(t *testing.T) {
	srv := newTestServer()
	world := createWorld(t, srv)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWorld(t, ts, world.ID)
	defer conn.Close()
	readFeed(t, conn)

	if err := conn.WriteJSON(Event{Type: "teleport"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	m := readFeed(t, conn)
	if m.Type != feedError || !strings.Contains(m.Error, "unknown event") {
		t.Fatalf("expected error message, got %+v", m)
	}
}

func TestWebSocketSubmitGeneratesTerrain(t *testing.T) {
	srv := newTestServer()
	world := createWorld(t, srv)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	conn := dialWorld(t, ts, world.ID)
	defer conn.Close()
	readFeed(t, conn)

	if err := conn.WriteJSON(Event{Type: EventSubmitGlobalPrompt}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if m := readFeed(t, conn); m.Snapshot == nil || !m.Snapshot.State.Busy {
		t.Fatalf("expected busy snapshot, got %+v", m)
	}
	if m := readFeed(t, conn); m.Snapshot == nil || m.Snapshot.State.BaseTerrain == "" {
		t.Fatalf("expected terrain snapshot, got %+v", m)
	}
}

func TestWebSocketUnknownWorld(t *testing.T) {
	ts := httptest.NewServer(newTestServer())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/worlds/nope/ws"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("expected dial to fail")
	}
	if resp == nil || resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %+v", resp)
	}
}
