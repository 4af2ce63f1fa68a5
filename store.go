package main

import (
	"crypto/rand"
	"encoding/hex"
	"slices"
	"sync"
	"time"
)

// Store holds all world sessions in memory.
type Store struct {
	mu     sync.RWMutex
	worlds map[string]*World

	gen          ImageGenerator
	timeout      time.Duration
	globalPrompt string
	onChange     func(Snapshot)
}

// NewStore creates an empty store whose worlds generate images with gen.
func NewStore(gen ImageGenerator, globalPrompt string) *Store {
	if globalPrompt == "" {
		globalPrompt = defaultGlobalPrompt
	}
	return &Store{
		worlds:       make(map[string]*World),
		gen:          gen,
		globalPrompt: globalPrompt,
	}
}

// SetGenerationTimeout bounds generation calls of worlds created afterwards.
func (s *Store) SetGenerationTimeout(d time.Duration) {
	s.mu.Lock()
	s.timeout = d
	s.mu.Unlock()
}

// SetOnChange registers the snapshot hook given to worlds created afterwards.
func (s *Store) SetOnChange(fn func(Snapshot)) {
	s.mu.Lock()
	s.onChange = fn
	s.mu.Unlock()
}

// CreateWorld creates a new world session. An empty globalPrompt selects
// the store default.
func (s *Store) CreateWorld(globalPrompt string) *World {
	if globalPrompt == "" {
		globalPrompt = s.globalPrompt
	}
	w := NewWorld(generateID(), globalPrompt, s.gen)

	s.mu.Lock()
	w.SetTimeout(s.timeout)
	w.OnChange(s.onChange)
	s.worlds[w.ID] = w
	s.mu.Unlock()

	return w
}

// GetWorld returns a world by ID, or nil if not found.
func (s *Store) GetWorld(id string) *World {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.worlds[id]
}

// ListWorlds returns all worlds, most recent first.
func (s *Store) ListWorlds() []*World {
	s.mu.RLock()
	list := make([]*World, 0, len(s.worlds))
	for _, w := range s.worlds {
		list = append(list, w)
	}
	s.mu.RUnlock()

	slices.SortFunc(list, func(a, b *World) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return list
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}
