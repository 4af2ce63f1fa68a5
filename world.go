package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"
)

const (
	msgBackendFailure      = "Failed to call the Gemini API. You may have exceeded your daily quota."
	msgMissingAPIKey       = "API_KEY is not configured."
	msgNoImage             = "The AI did not return an image."
	msgGenerationTimeout   = "Image generation timed out."
	msgGenerationCancelled = "Image generation was cancelled."
)

var ErrInternalEvent = errors.New("event is reserved for generation results")

// Snapshot is a consistent view of a world: its state and grid index.
type Snapshot struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	State     State     `json:"state"`
	Cells     GridIndex `json:"cells"`
}

// World is one world-builder session. All transitions go through Apply
// under the session lock; generation calls run outside it, gated by
// State.Busy so at most one is in flight.
type World struct {
	ID        string
	CreatedAt time.Time

	gen      ImageGenerator
	timeout  time.Duration
	onChange func(Snapshot)
	now      func() time.Time

	mu    sync.Mutex
	state State
	cache indexCache
}

// NewWorld creates a session using gen for image generation.
func NewWorld(id, globalPrompt string, gen ImageGenerator) *World {
	return &World{
		ID:        id,
		CreatedAt: time.Now(),
		gen:       gen,
		now:       time.Now,
		state:     NewState(globalPrompt),
	}
}

// SetTimeout bounds each generation call. Zero means no timeout.
func (w *World) SetTimeout(d time.Duration) {
	w.mu.Lock()
	w.timeout = d
	w.mu.Unlock()
}

// OnChange registers a hook called with every new snapshot.
func (w *World) OnChange(fn func(Snapshot)) {
	w.mu.Lock()
	w.onChange = fn
	w.mu.Unlock()
}

// Snapshot returns a copy of the current state and grid index.
func (w *World) Snapshot() Snapshot {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.snapshotLocked()
}

func (w *World) snapshotLocked() Snapshot {
	return Snapshot{
		ID:        w.ID,
		CreatedAt: w.CreatedAt,
		State:     w.state,
		Cells:     w.cache.get(w.state.FeatureVersion, w.state.Features),
	}
}

// GridIndex returns the current grid index. Callers must not modify it.
func (w *World) GridIndex() GridIndex {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cache.get(w.state.FeatureVersion, w.state.Features)
}

// Dispatch applies a UI event. Generation results cannot be dispatched
// from outside; submit events must go through Handle.
func (w *World) Dispatch(evt Event) (Snapshot, error) {
	switch evt.Type {
	case EventGenerationOK, EventGenerationFailed:
		return w.Snapshot(), ErrInternalEvent
	}
	return w.apply(evt)
}

// Handle routes an event: submits start a generation and block until it
// settles, everything else is dispatched directly.
func (w *World) Handle(ctx context.Context, evt Event) (Snapshot, error) {
	switch evt.Type {
	case EventSubmitGlobalPrompt:
		return w.GenerateBaseTerrain(ctx)
	case EventSubmitLocalPrompt:
		return w.GenerateFeature(ctx)
	}
	return w.Dispatch(evt)
}

// GenerateBaseTerrain generates the whole-grid background from the
// current global prompt.
func (w *World) GenerateBaseTerrain(ctx context.Context) (Snapshot, error) {
	return w.generate(ctx, Event{Type: EventSubmitGlobalPrompt})
}

// GenerateFeature generates a feature for the current selection from the
// current local prompt.
func (w *World) GenerateFeature(ctx context.Context) (Snapshot, error) {
	return w.generate(ctx, Event{Type: EventSubmitLocalPrompt})
}

func (w *World) generate(ctx context.Context, submit Event) (Snapshot, error) {
	w.mu.Lock()
	next, err := Apply(w.state, submit)
	w.commitLocked(next, err)
	if err != nil {
		snap := w.snapshotLocked()
		w.mu.Unlock()
		return snap, err
	}
	req := *next.Pending
	idx := w.cache.get(next.FeatureVersion, next.Features)
	timeout := w.timeout
	w.mu.Unlock()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var ref string
	switch req.Kind {
	case RequestTerrain:
		ref, err = w.gen.GenerateBaseTerrain(ctx, req.GlobalPrompt)
	case RequestFeature:
		ref, err = w.gen.GenerateWorldTile(ctx, req.GlobalPrompt, req.LocalPrompt, req.Selection, idx)
	}

	result := Event{Type: EventGenerationOK, ImageURL: ref, At: w.now()}
	if err != nil {
		log.Printf("World %s: %s generation failed: %v", w.ID, req.Kind, err)
		result = Event{Type: EventGenerationFailed, Message: userMessage(err)}
	}

	after, applyErr := w.apply(result)
	if applyErr != nil {
		return after, fmt.Errorf("apply generation result: %w", applyErr)
	}
	if err != nil {
		return after, &GenerationError{Message: result.Message, Err: err}
	}
	return after, nil
}

func (w *World) apply(evt Event) (Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	next, err := Apply(w.state, evt)
	w.commitLocked(next, err)
	return w.snapshotLocked(), err
}

// commitLocked stores next unless the event was rejected outright, and
// publishes the new snapshot. Validation failures still land, since they
// fill the error slot. The hook runs under the lock so subscribers see
// snapshots in commit order; it must not block or call back into w.
func (w *World) commitLocked(next State, err error) {
	var verr *ValidationError
	if err != nil && !errors.As(err, &verr) {
		return
	}
	w.state = next
	if w.onChange != nil {
		w.onChange(w.snapshotLocked())
	}
}

// GenerationError is a failed generation. Message is what the user sees;
// Err carries the detail.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string { return e.Message + ": " + e.Err.Error() }
func (e *GenerationError) Unwrap() error { return e.Err }

func userMessage(err error) string {
	switch {
	case errors.Is(err, ErrMissingCredential):
		return msgMissingAPIKey
	case errors.Is(err, ErrNoImage):
		return msgNoImage
	case errors.Is(err, context.DeadlineExceeded):
		return msgGenerationTimeout
	case errors.Is(err, context.Canceled):
		return msgGenerationCancelled
	default:
		return msgBackendFailure
	}
}
