package backend

import (
	"context"
	"net/http"
)

// Request is a single captioning call: one instruction plus one image.
type Request struct {
	Prompt          string
	Model           string
	ImageBase64     string
	MIMEType        string
	MaxOutputTokens int
}

// Options carries the connection settings a backend is built with.
type Options struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Backend defines the interface for captioning services.
type Backend interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Factory builds a backend from its options.
type Factory func(opts Options) (Backend, error)

// Descriptor describes a registered backend.
type Descriptor struct {
	Name string
	// CredentialEnv names the environment variable holding the API key.
	// Empty when the backend needs no credential.
	CredentialEnv string
	DefaultModel  string
	// Models lists known vision-capable models, default first.
	Models []string
	New    Factory
}

// DataURI formats base64 image data as a data URI.
func DataURI(mimeType, imageBase64 string) string {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	return "data:" + mimeType + ";base64," + imageBase64
}
