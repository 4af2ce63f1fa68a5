package main

import (
	"fmt"
	"strings"
)

const (
	boundaryLeadIn   = "Context of adjacent areas: "
	isolatedArea     = "This is an isolated area."
	boundarySentence = "The area to the %s contains: %s."
)

// BoundaryContext describes the non-empty cells just outside sel, one
// sentence per direction in north, south, west, east order. Each
// direction reports only the first non-empty cell it meets.
func BoundaryContext(sel Selection, idx GridIndex) string {
	minX, maxX, minY, maxY := sel.Normalize()

	var context []string
	scan := func(dir string, from, to int, at func(i int) (int, int)) {
		for i := from; i <= to; i++ {
			if c, ok := idx.Lookup(at(i)); ok && c.Prompt != "" {
				context = append(context, fmt.Sprintf(boundarySentence, dir, c.Prompt))
				return
			}
		}
	}

	scan("north", minX, maxX, func(x int) (int, int) { return x, minY - 1 })
	scan("south", minX, maxX, func(x int) (int, int) { return x, maxY + 1 })
	scan("west", minY, maxY, func(y int) (int, int) { return minX - 1, y })
	scan("east", minY, maxY, func(y int) (int, int) { return maxX + 1, y })

	if len(context) == 0 {
		return isolatedArea
	}
	return boundaryLeadIn + strings.Join(context, " ")
}

const baseTerrainTemplate = `**System Mandate:**
- Generate a single, seamless, tileable image texture from a top-down, slightly isometric perspective, suitable for a strategic world map.
- The texture should represent the base ground layer for the world.
- Do not include any distinct features like buildings, roads, or units. Focus on the terrain itself (e.g., grass, sand, rock, water patterns).
- The art style must be cohesive with the Global Theme.
- Do not include any text, labels, or UI elements in the image.

**Global Theme for the texture:**
%s`

const worldTileTemplate = `**System Mandate:**
- Generate an image from a top-down, slightly isometric perspective, suitable for a strategic world map.
- The art style must be cohesive with the Global Theme, but the content of the image must be *only* what is described in the "User's Request". Do not re-generate the base terrain described in the Global Theme.
- The generated image must seamlessly tile with its neighbors based on the provided context.
- Do not include any text, labels, or UI elements in the image.
- The output must be a single, cohesive image for the entire requested area.

**Global Theme (for art style reference only):**
%s

**Boundary Context:**
%s

**User's Request for the selected area (generate only this):**
%s`

// BaseTerrainPrompt builds the prompt for the whole-grid background.
func BaseTerrainPrompt(theme string) string {
	return fmt.Sprintf(baseTerrainTemplate, theme)
}

// WorldTilePrompt builds the prompt for a feature over sel.
func WorldTilePrompt(theme, local string, sel Selection, idx GridIndex) string {
	return fmt.Sprintf(worldTileTemplate, theme, BoundaryContext(sel, idx), local)
}
