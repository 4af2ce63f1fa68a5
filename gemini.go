package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"

	"google.golang.org/genai"
)

const defaultImageMIME = "image/png"

// GenerateBaseTerrain asks Imagen for a tileable ground texture matching theme.
func (g *GeminiClient) GenerateBaseTerrain(ctx context.Context, theme string) (string, error) {
	if theme == "" {
		return "", ErrEmptyPrompt
	}
	ref, err := g.generateImage(ctx, BaseTerrainPrompt(theme))
	if err != nil {
		log.Printf("Error generating base terrain: %v", err)
		return "", fmt.Errorf("base terrain: %w", err)
	}
	return ref, nil
}

// GenerateWorldTile asks Imagen for the feature described by local over sel,
// with the neighbours found in idx as boundary context.
func (g *GeminiClient) GenerateWorldTile(ctx context.Context, theme, local string, sel Selection, idx GridIndex) (string, error) {
	if local == "" {
		return "", ErrEmptyPrompt
	}
	ref, err := g.generateImage(ctx, WorldTilePrompt(theme, local, sel, idx))
	if err != nil {
		log.Printf("Error generating world tile: %v", err)
		return "", fmt.Errorf("world tile: %w", err)
	}
	return ref, nil
}

// generateImage requests a single square image and returns it as a data URI.
func (g *GeminiClient) generateImage(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateImages(ctx, g.modelName, prompt,
		&genai.GenerateImagesConfig{
			NumberOfImages: 1,
			OutputMIMEType: defaultImageMIME,
			AspectRatio:    "1:1",
		},
	)
	if err != nil {
		return "", fmt.Errorf("%w: imagen generate: %v", ErrBackend, err)
	}

	if resp == nil || len(resp.GeneratedImages) == 0 {
		return "", ErrNoImage
	}
	img := resp.GeneratedImages[0].Image
	if img == nil || len(img.ImageBytes) == 0 {
		return "", ErrNoImage
	}

	mime := img.MIMEType
	if mime == "" {
		mime = defaultImageMIME
	}
	return dataURI(mime, img.ImageBytes), nil
}

func dataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}
