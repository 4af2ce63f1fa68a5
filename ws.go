package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = (wsPongWait * 9) / 10
	wsMaxMessage = 4 << 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS upgrades the request and attaches the connection to a world's
// feed. Incoming text messages are events handled like POST /events.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, world *World) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	c := s.sse.Register(world.ID)
	c.ch <- encodeFeed(feedMessage{Type: feedSnapshot, Snapshot: ptr(world.Snapshot())})

	go s.wsWritePump(conn, c)
	s.wsReadPump(conn, c, world)
}

// wsReadPump reads events until the connection closes, then unregisters c.
func (s *Server) wsReadPump(conn *websocket.Conn, c *client, world *World) {
	defer func() {
		s.sse.Unregister(c)
		conn.Close()
	}()

	conn.SetReadLimit(wsMaxMessage)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}

		var evt Event
		if err := json.Unmarshal(msg, &evt); err != nil {
			s.wsError(c, "Invalid event")
			continue
		}

		switch evt.Type {
		case EventSubmitGlobalPrompt, EventSubmitLocalPrompt:
			// Generation outlives the read loop iteration; the busy gate
			// rejects overlapping submits.
			go func() {
				if _, err := world.Handle(context.Background(), evt); err != nil {
					s.wsError(c, eventErrorMessage(err))
				}
			}()
		default:
			if _, err := world.Handle(context.Background(), evt); err != nil {
				s.wsError(c, eventErrorMessage(err))
			}
		}
	}
}

// wsWritePump forwards feed messages and keeps the connection alive.
func (s *Server) wsWritePump(conn *websocket.Conn, c *client) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.ch:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// wsError reports a failed event to the connection that sent it.
func (s *Server) wsError(c *client, msg string) {
	s.sse.Send(c, encodeFeed(feedMessage{Type: feedError, Error: msg}))
}

func ptr[T any](v T) *T { return &v }
