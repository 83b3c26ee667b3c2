// Package llm is the port to the generative text backends. A Generator takes
// a prompt plus optional binary attachments and returns unstructured text;
// interpreting that text is left to callers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// ErrRateLimited marks a backend refusal that may succeed if retried later.
	ErrRateLimited = errors.New("generative backend rate limited")
	// ErrNotConfigured is returned by New when the selected provider has no credential.
	ErrNotConfigured = errors.New("generative backend not configured")
)

// Attachment is a binary part sent alongside the prompt.
type Attachment struct {
	Name     string
	MIMEType string
	Data     []byte
}

// Schema asks the backend for structured output matching Definition.
type Schema struct {
	Name       string
	Definition map[string]interface{}
}

type Request struct {
	Instructions string
	Prompt       string
	Attachments  []Attachment
	// JSON asks for a JSON response without a fixed schema.
	JSON   bool
	Schema *Schema
}

// Generator is implemented by every backend.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, req Request) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

// Config selects and configures a backend.
type Config struct {
	Provider    string
	OpenAIKey   string
	OpenAIModel string
	GeminiKey   string
	GeminiModel string
}

// New builds the backend named by cfg.Provider. It returns ErrNotConfigured
// when that provider has no API key so callers can run degraded.
func New(ctx context.Context, cfg Config, logger zerolog.Logger) (Generator, error) {
	switch cfg.Provider {
	case "openai":
		if cfg.OpenAIKey == "" {
			return nil, ErrNotConfigured
		}
		return NewOpenAIGenerator(cfg.OpenAIKey, cfg.OpenAIModel, logger), nil
	case "gemini", "":
		if cfg.GeminiKey == "" {
			return nil, ErrNotConfigured
		}
		return NewGeminiGenerator(ctx, cfg.GeminiKey, cfg.GeminiModel, logger)
	default:
		return nil, fmt.Errorf("unknown generative provider %q", cfg.Provider)
	}
}

// IsRateLimited reports whether err signals throttling, either through
// ErrRateLimited or through the usual wording of provider errors.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "too many requests") ||
		strings.Contains(s, "resource exhausted") ||
		strings.Contains(s, "resourceexhausted")
}

// MIMETypeFor infers a content type from the file extension. Unknown
// extensions map to application/octet-stream.
func MIMETypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".txt":
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// Attachable reports whether a content type can be sent to a backend as a
// binary part. Only PDFs and images qualify.
func Attachable(mimeType string) bool {
	return mimeType == "application/pdf" || strings.HasPrefix(mimeType, "image/")
}
