package core

import "context"

// Document is a retrieved corpus snippet surfaced to the caller for display.
type Document struct {
	Content  string         `json:"content"`
	Metadata map[string]any `json:"metadata"`
}

// Answer is the shaped result of a single question.
type Answer struct {
	Answer    string     `json:"answer"`
	Documents []Document `json:"documents"`
	ImageURL  string     `json:"image_url,omitempty"`
}

// ImageResult holds either a constructed image URL or a failure description.
type ImageResult struct {
	ImageURL string `json:"image_url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (r ImageResult) Failed() bool {
	return r.Error != "" || r.ImageURL == ""
}

type ChatService interface {
	Ask(ctx context.Context, question string) (*Answer, error)
	GenerateImage(prompt string) ImageResult
}
