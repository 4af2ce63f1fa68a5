package main

import (
	"context"
	"log"
	"net/http"
)

func main() {
	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	ctx := context.Background()

	var gen ImageGenerator
	switch {
	case cfg.MockAPI:
		gen = NewMockGenerator(cfg.MockDelay)
		log.Printf("Mock image generation enabled (delay %s)", cfg.MockDelay)
	case cfg.Gemini.HasCredentials():
		gemini, err := NewGeminiClient(ctx, cfg.Gemini)
		if err != nil {
			log.Fatalf("Failed to initialize Gemini: %v", err)
		}
		defer gemini.Close()
		gen = gemini
		log.Printf("Gemini client initialized (model: %s)", gemini.modelName)
	default:
		gen = unavailableGenerator{}
		log.Println("WARNING: API_KEY not set and MOCK_API disabled; AI features will be disabled")
	}

	store := NewStore(gen, cfg.DefaultGlobalPrompt)
	store.SetGenerationTimeout(cfg.GenerationTimeout)
	srv := NewServer(store)

	log.Printf("Server listening on http://localhost:%s", cfg.Port)
	if err := http.ListenAndServe(":"+cfg.Port, srv); err != nil {
		log.Fatal(err)
	}
}
