package main

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	GridSize   = 32 // cells per side
	MockCellPx = 50 // placeholder pixels per selected cell
)

// Point is a grid-cell coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Valid reports whether p lies inside the grid.
func (p Point) Valid() bool {
	return p.X >= 0 && p.X < GridSize && p.Y >= 0 && p.Y < GridSize
}

// Selection is a drag gesture between two opposite corners.
// Start may be below or right of End; consumers normalize on demand.
type Selection struct {
	Start Point `json:"start"`
	End   Point `json:"end"`
}

// Valid reports whether both corners lie inside the grid.
func (s Selection) Valid() bool {
	return s.Start.Valid() && s.End.Valid()
}

// Normalize returns the inclusive bounding box of the selection.
func (s Selection) Normalize() (minX, maxX, minY, maxY int) {
	return min(s.Start.X, s.End.X), max(s.Start.X, s.End.X),
		min(s.Start.Y, s.End.Y), max(s.Start.Y, s.End.Y)
}

// Contains reports whether (x, y) lies inside the selection, edges included.
func (s Selection) Contains(x, y int) bool {
	minX, maxX, minY, maxY := s.Normalize()
	return x >= minX && x <= maxX && y >= minY && y <= maxY
}

// Dimensions returns the selection size in cells. A single cell is 1x1.
func (s Selection) Dimensions() (width, height int) {
	return abs(s.Start.X-s.End.X) + 1, abs(s.Start.Y-s.End.Y) + 1
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// CellKey returns the "x,y" key used by the grid index.
func CellKey(x, y int) string {
	return strconv.Itoa(x) + "," + strconv.Itoa(y)
}

// ParseCellKey parses an "x,y" key.
func ParseCellKey(key string) (Point, error) {
	xs, ys, ok := strings.Cut(key, ",")
	if !ok {
		return Point{}, fmt.Errorf("invalid cell key %q", key)
	}
	x, err := strconv.Atoi(strings.TrimSpace(xs))
	if err != nil {
		return Point{}, fmt.Errorf("invalid cell key %q: %w", key, err)
	}
	y, err := strconv.Atoi(strings.TrimSpace(ys))
	if err != nil {
		return Point{}, fmt.Errorf("invalid cell key %q: %w", key, err)
	}
	return Point{X: x, Y: y}, nil
}
