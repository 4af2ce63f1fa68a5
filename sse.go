package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	sseChannelBuffer = 16
	sseHeartbeat     = 30 * time.Second
)

// client is a single feed subscriber (SSE or WebSocket).
type client struct {
	ch      chan string
	worldID string
}

// Broadcaster fans world snapshots out to subscribers grouped by world.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[*client]struct{}),
	}
}

// Register adds a subscriber for a world and returns it.
func (b *Broadcaster) Register(worldID string) *client {
	c := &client{
		ch:      make(chan string, sseChannelBuffer),
		worldID: worldID,
	}
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
	return c
}

// Unregister removes a subscriber and closes its channel.
func (b *Broadcaster) Unregister(c *client) {
	b.mu.Lock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		close(c.ch)
	}
	b.mu.Unlock()
}

// Broadcast sends a message to all subscribers of a world. It never blocks.
func (b *Broadcaster) Broadcast(worldID, data string) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for c := range b.clients {
		if c.worldID == worldID {
			select {
			case c.ch <- data:
			default:
				// Channel full, skip slow client.
			}
		}
	}
}

// Send delivers a message to one subscriber if it is still registered.
// It never blocks and reports whether the message was queued.
func (b *Broadcaster) Send(c *client, data string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if _, ok := b.clients[c]; !ok {
		return false
	}
	select {
	case c.ch <- data:
		return true
	default:
		return false
	}
}

// ClientCount returns the number of subscribers for a world.
func (b *Broadcaster) ClientCount(worldID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for c := range b.clients {
		if c.worldID == worldID {
			n++
		}
	}
	return n
}

// ServeSSE streams a world's feed as Server-Sent Events.
func (b *Broadcaster) ServeSSE(w http.ResponseWriter, r *http.Request, worldID string, onConnect func(c *client)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	c := b.Register(worldID)
	defer b.Unregister(c)

	if onConnect != nil {
		onConnect(c)
	}

	ticker := time.NewTicker(sseHeartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-c.ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		case <-ticker.C:
			fmt.Fprintf(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
