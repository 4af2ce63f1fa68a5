package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"
)

var (
	ErrEmptyPrompt       = errors.New("prompt is empty")
	ErrMissingCredential = errors.New("image API key is not configured")
	ErrNoImage           = errors.New("backend returned no image")
	ErrBackend           = errors.New("image backend call failed")
)

// ImageGenerator produces image references (URLs or data URIs) for the
// base terrain and for features.
type ImageGenerator interface {
	GenerateBaseTerrain(ctx context.Context, theme string) (string, error)
	GenerateWorldTile(ctx context.Context, theme, local string, sel Selection, idx GridIndex) (string, error)
}

const (
	mockTextLimit     = 100
	mockTerrainPx     = 500
	defaultMockDelay  = 500 * time.Millisecond
	placeholderOrigin = "https://placehold.co"
)

// MockGenerator returns placeholder image URLs after a simulated delay.
type MockGenerator struct {
	Delay time.Duration
}

// NewMockGenerator creates a mock generator. A negative delay selects the default.
func NewMockGenerator(delay time.Duration) *MockGenerator {
	if delay < 0 {
		delay = defaultMockDelay
	}
	return &MockGenerator{Delay: delay}
}

func (m *MockGenerator) GenerateBaseTerrain(ctx context.Context, theme string) (string, error) {
	if theme == "" {
		return "", ErrEmptyPrompt
	}
	log.Println("Mocking base terrain generation")
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	return MockImageURL("Base Terrain: "+theme, mockTerrainPx, mockTerrainPx), nil
}

func (m *MockGenerator) GenerateWorldTile(ctx context.Context, theme, local string, sel Selection, _ GridIndex) (string, error) {
	if local == "" {
		return "", ErrEmptyPrompt
	}
	log.Println("Mocking world tile generation")
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	w, h := sel.Dimensions()
	return MockImageURL(local, w*MockCellPx, h*MockCellPx), nil
}

func (m *MockGenerator) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(m.Delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("mock generation: %w", ctx.Err())
	case <-t.C:
		return nil
	}
}

// MockImageURL returns a placeholder URL showing text at the given size.
// The text is truncated to 100 characters before escaping.
func MockImageURL(text string, width, height int) string {
	if r := []rune(text); len(r) > mockTextLimit {
		text = string(r[:mockTextLimit])
	}
	return fmt.Sprintf("%s/%dx%d/C0C0C0/000000?text=%s",
		placeholderOrigin, width, height, componentEscaper.Replace(url.QueryEscape(text)))
}

// componentEscaper turns query escaping into URI component escaping:
// spaces become %20 and the marks !'()* stay literal.
var componentEscaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// unavailableGenerator stands in for the live client when no credential is
// configured. Every call fails with ErrMissingCredential.
type unavailableGenerator struct{}

func (unavailableGenerator) GenerateBaseTerrain(context.Context, string) (string, error) {
	return "", ErrMissingCredential
}

func (unavailableGenerator) GenerateWorldTile(context.Context, string, string, Selection, GridIndex) (string, error) {
	return "", ErrMissingCredential
}
