package main

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultRegion = "europe-west1"
	defaultModel  = "imagen-4.0-generate-001"
)

// GeminiClient wraps the Google GenAI client for image generation.
type GeminiClient struct {
	client    *genai.Client
	modelName string
}

// NewGeminiClient creates a client for the Gemini API when apiKey is set,
// otherwise for VertexAI using Application Default Credentials.
// Set GOOGLE_APPLICATION_CREDENTIALS to the service account key file path.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	var cc *genai.ClientConfig
	switch {
	case cfg.APIKey != "":
		cc = &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		}
	case cfg.ProjectID != "":
		region := cfg.Region
		if region == "" {
			region = defaultRegion
		}
		cc = &genai.ClientConfig{
			Project:  cfg.ProjectID,
			Location: region,
			Backend:  genai.BackendVertexAI,
		}
	default:
		return nil, ErrMissingCredential
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &GeminiClient{
		client:    client,
		modelName: model,
	}, nil
}

// Close releases resources held by the client.
func (g *GeminiClient) Close() error {
	return nil
}
