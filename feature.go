package main

import "time"

// Feature is a generated image committed to the selection that produced it.
// Features are never edited; the list only grows until a reset.
type Feature struct {
	ID        string    `json:"id"` // creation timestamp
	Selection Selection `json:"selection"`
	ImageURL  string    `json:"image_url"`
	Prompt    string    `json:"prompt"`
}

// featureID formats a creation time as a feature ID.
func featureID(at time.Time) string {
	return at.UTC().Format(time.RFC3339Nano)
}
