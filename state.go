package main

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Tool is a toolbar tool. Only ToolSelect drives drags; the rest are
// selectable but have no behavior.
type Tool string

const (
	ToolSelect     Tool = "SELECT"
	ToolHighlight  Tool = "HIGHLIGHT"
	ToolDraw       Tool = "DRAW"
	ToolErase      Tool = "ERASE"
	ToolEyedropper Tool = "EYEDROPPER"
	ToolZoom       Tool = "ZOOM"
)

var knownTools = map[Tool]bool{
	ToolSelect: true, ToolHighlight: true, ToolDraw: true,
	ToolErase: true, ToolEyedropper: true, ToolZoom: true,
}

const (
	MinZoom        = 0.2
	MaxZoom        = 5.0
	wheelZoomStep  = 1.1
	buttonZoomStep = 1.2
)

// RequestKind identifies what an in-flight generation will produce.
type RequestKind string

const (
	RequestTerrain RequestKind = "terrain"
	RequestFeature RequestKind = "feature"
)

// Request is the snapshot of inputs taken when a generation is submitted.
type Request struct {
	Kind         RequestKind `json:"kind"`
	GlobalPrompt string      `json:"global_prompt"`
	LocalPrompt  string      `json:"local_prompt,omitempty"`
	Selection    Selection   `json:"selection"`
}

// State is the whole world-builder state. Values are treated as
// immutable: Apply returns a new State and never edits its input.
type State struct {
	Tool           Tool       `json:"tool"`
	GlobalPrompt   string     `json:"global_prompt"`
	LocalPrompt    string     `json:"local_prompt"`
	Features       []Feature  `json:"features"`
	FeatureVersion uint64     `json:"feature_version"`
	Selection      *Selection `json:"selection"`
	Dragging       bool       `json:"dragging"`
	Busy           bool       `json:"busy"`
	Error          string     `json:"error,omitempty"`
	BaseTerrain    string     `json:"base_terrain,omitempty"`
	Zoom           float64    `json:"zoom"`
	Pending        *Request   `json:"pending,omitempty"`

	defaultGlobalPrompt string
}

// NewState returns the initial state with globalPrompt as the theme.
func NewState(globalPrompt string) State {
	return State{
		Tool:                ToolSelect,
		GlobalPrompt:        globalPrompt,
		Features:            []Feature{},
		Zoom:                1,
		defaultGlobalPrompt: globalPrompt,
	}
}

// EventType names a state transition.
type EventType string

const (
	EventSelectTool         EventType = "select_tool"
	EventStartDrag          EventType = "start_drag"
	EventExtendDrag         EventType = "extend_drag"
	EventEndDrag            EventType = "end_drag"
	EventSetGlobalPrompt    EventType = "set_global_prompt"
	EventSetLocalPrompt     EventType = "set_local_prompt"
	EventSubmitGlobalPrompt EventType = "submit_global_prompt"
	EventSubmitLocalPrompt  EventType = "submit_local_prompt"
	EventGenerationOK       EventType = "generation_succeeded"
	EventGenerationFailed   EventType = "generation_failed"
	EventReset              EventType = "reset"
	EventDismissError       EventType = "dismiss_error"
	EventZoom               EventType = "zoom"
)

// Zoom directions and sources.
const (
	ZoomIn     = "in"
	ZoomOut    = "out"
	ZoomWheel  = "wheel"
	ZoomButton = "button"
)

// Event is a discrete user or generation action. Only the fields relevant
// to Type are read.
type Event struct {
	Type      EventType `json:"type"`
	Tool      Tool      `json:"tool,omitempty"`
	Point     *Point    `json:"point,omitempty"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"image_url,omitempty"`
	At        time.Time `json:"at,omitzero"`
	Message   string    `json:"message,omitempty"`
	Direction string    `json:"direction,omitempty"`
	Source    string    `json:"source,omitempty"`
}

var (
	ErrBusy            = errors.New("a generation is already in progress")
	ErrControlDisabled = errors.New("control is disabled in the current state")
	ErrUnknownTool     = errors.New("unknown tool")
	ErrUnknownEvent    = errors.New("unknown event")
	ErrOutOfBounds     = errors.New("point is outside the grid")
	ErrNoPending       = errors.New("no generation is pending")
)

// ValidationError is a user-facing precondition failure. The message is
// also written to the state's error slot.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const (
	msgEmptyGlobalPrompt = "Please enter a global theme prompt."
	msgNeedTerrain       = "Generate a base terrain first."
	msgNeedLocalPrompt   = "Please enter a local prompt and make a selection."
)

// Apply processes evt against s. On a rejected event the returned state is
// s unchanged. A *ValidationError comes back together with a state whose
// error slot holds the message.
func Apply(s State, evt Event) (State, error) {
	switch evt.Type {
	case EventSelectTool:
		if !knownTools[evt.Tool] {
			return s, fmt.Errorf("%w: %q", ErrUnknownTool, evt.Tool)
		}
		s.Tool = evt.Tool
		return s, nil

	case EventStartDrag:
		if s.Tool != ToolSelect {
			return s, nil
		}
		if evt.Point == nil || !evt.Point.Valid() {
			return s, ErrOutOfBounds
		}
		p := *evt.Point
		s.Dragging = true
		s.Selection = &Selection{Start: p, End: p}
		return s, nil

	case EventExtendDrag:
		if !s.Dragging || s.Tool != ToolSelect || s.Selection == nil {
			return s, nil
		}
		if evt.Point == nil || !evt.Point.Valid() {
			return s, nil
		}
		s.Selection = &Selection{Start: s.Selection.Start, End: *evt.Point}
		return s, nil

	case EventEndDrag:
		s.Dragging = false
		return s, nil

	case EventSetGlobalPrompt:
		if s.Busy || s.BaseTerrain != "" {
			return s, ErrControlDisabled
		}
		s.GlobalPrompt = evt.Text
		return s, nil

	case EventSetLocalPrompt:
		if s.Selection == nil || s.BaseTerrain == "" {
			return s, ErrControlDisabled
		}
		s.LocalPrompt = evt.Text
		return s, nil

	case EventSubmitGlobalPrompt:
		if s.Busy {
			return s, ErrBusy
		}
		if s.BaseTerrain != "" {
			return s, ErrControlDisabled
		}
		if s.GlobalPrompt == "" {
			return invalid(s, msgEmptyGlobalPrompt)
		}
		s.Busy = true
		s.Error = ""
		s.Pending = &Request{Kind: RequestTerrain, GlobalPrompt: s.GlobalPrompt}
		return s, nil

	case EventSubmitLocalPrompt:
		if s.Busy {
			return s, ErrBusy
		}
		if s.BaseTerrain == "" {
			return invalid(s, msgNeedTerrain)
		}
		if s.LocalPrompt == "" || s.Selection == nil {
			return invalid(s, msgNeedLocalPrompt)
		}
		s.Busy = true
		s.Error = ""
		s.Pending = &Request{
			Kind:         RequestFeature,
			GlobalPrompt: s.GlobalPrompt,
			LocalPrompt:  s.LocalPrompt,
			Selection:    *s.Selection,
		}
		return s, nil

	case EventGenerationOK:
		if s.Pending == nil {
			return s, ErrNoPending
		}
		req := *s.Pending
		switch req.Kind {
		case RequestTerrain:
			s.BaseTerrain = evt.ImageURL
		case RequestFeature:
			at := evt.At
			if at.IsZero() {
				at = time.Now()
			}
			s.Features = append(slices.Clip(s.Features), Feature{
				ID:        featureID(at),
				Selection: req.Selection,
				ImageURL:  evt.ImageURL,
				Prompt:    req.LocalPrompt,
			})
			s.FeatureVersion++
			s.Selection = nil
			s.LocalPrompt = ""
		}
		s.Busy = false
		s.Pending = nil
		return s, nil

	case EventGenerationFailed:
		if s.Pending == nil {
			return s, ErrNoPending
		}
		s.Busy = false
		s.Pending = nil
		s.Error = evt.Message
		return s, nil

	case EventReset:
		if s.Busy {
			return s, ErrBusy
		}
		s.BaseTerrain = ""
		s.Features = []Feature{}
		s.FeatureVersion++
		s.Selection = nil
		s.Dragging = false
		s.Error = ""
		s.LocalPrompt = ""
		s.GlobalPrompt = s.defaultGlobalPrompt
		return s, nil

	case EventDismissError:
		s.Error = ""
		return s, nil

	case EventZoom:
		step := wheelZoomStep
		if evt.Source == ZoomButton {
			step = buttonZoomStep
		}
		switch evt.Direction {
		case ZoomIn:
			s.Zoom = min(s.Zoom*step, MaxZoom)
		case ZoomOut:
			s.Zoom = max(s.Zoom/step, MinZoom)
		default:
			return s, fmt.Errorf("%w: zoom direction %q", ErrUnknownEvent, evt.Direction)
		}
		return s, nil
	}

	return s, fmt.Errorf("%w: %q", ErrUnknownEvent, evt.Type)
}

func invalid(s State, msg string) (State, error) {
	s.Error = msg
	return s, &ValidationError{Message: msg}
}
