// Package suggest derives a policy's required-document checklist from its
// text. Long policies are split into chunks that are sent to the generative
// backend one after another; the per-chunk suggestions are deduplicated by
// name with the earliest chunk winning. Whenever nothing usable comes back
// the static fallback checklist is returned instead, so callers always get a
// list.
package suggest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/intelligence/llm"
	"github.com/claimdesk/claimdesk/internal/platform/cache"
	"github.com/claimdesk/claimdesk/internal/platform/metrics"
)

// DefaultChunkSize bounds each prompt to roughly 2k tokens of policy text.
const DefaultChunkSize = 8000

const lockTTL = 2 * time.Minute

const instructions = "You are an insurance claims assistant. From the policy text you are given, " +
	"list the documents a hospital must submit with a claim under this policy."

const promptTemplate = `Policy text (part %d of %d):
"""
%s
"""

Return ONLY a JSON array. Each element must be an object with the keys
"document_name" (string), "description" (string), "mandatory" (boolean) and "notes" (string).
Return [] if this part names no documents. No prose, no Markdown.`

// suggestionList is the structured-output shape for backends that enforce a
// schema; they cannot return a bare array.
type suggestionList struct {
	Documents []suggestion `json:"documents"`
}

type suggestion struct {
	DocumentName string `json:"document_name"`
	Description  string `json:"description"`
	Mandatory    bool   `json:"mandatory"`
	Notes        string `json:"notes"`
}

var suggestionSchema = llm.SchemaFor[suggestionList]("required_documents")

// Extractor is the text source for SuggestFromDocument.
type Extractor interface {
	Extract(ctx context.Context, handle string) string
}

type Option func(*Synthesizer)

func WithChunkSize(n int) Option {
	return func(s *Synthesizer) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithCache stores successful results under a hash of the policy text.
func WithCache(c cache.Cache, ttl time.Duration) Option {
	return func(s *Synthesizer) {
		s.cache = c
		s.cacheTTL = ttl
	}
}

// WithLocker guards concurrent synthesis of the same text. The lock is
// best-effort: if it cannot be obtained the work runs anyway.
func WithLocker(l cache.Locker) Option {
	return func(s *Synthesizer) { s.locker = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Synthesizer) { s.metrics = m }
}

func WithExtractor(e Extractor) Option {
	return func(s *Synthesizer) { s.extractor = e }
}

type Synthesizer struct {
	gen       llm.Generator
	chunkSize int
	cache     cache.Cache
	cacheTTL  time.Duration
	locker    cache.Locker
	extractor Extractor
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// New returns a Synthesizer. gen may be nil; every call then returns the
// fallback list.
func New(gen llm.Generator, logger zerolog.Logger, opts ...Option) *Synthesizer {
	s := &Synthesizer{
		gen:       gen,
		chunkSize: DefaultChunkSize,
		logger:    logger.With().Str("component", "suggest").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SuggestFromDocument extracts the text behind handle and synthesizes it.
func (s *Synthesizer) SuggestFromDocument(ctx context.Context, handle string) (string, []documents.RequiredDocument) {
	var text string
	if s.extractor != nil {
		text = s.extractor.Extract(ctx, handle)
	}
	return text, s.Synthesize(ctx, text)
}

// Synthesize returns the required documents named in text, or the fallback
// checklist when none can be derived. It never fails.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) []documents.RequiredDocument {
	if strings.TrimSpace(text) == "" || s.gen == nil {
		s.metrics.SuggestionRun(metrics.SuggestFallback)
		return documents.FallbackRequiredDocuments()
	}

	key := textKey(text)
	if docs, ok := s.cached(ctx, key); ok {
		s.metrics.SuggestionRun(metrics.SuggestCached)
		return docs
	}

	if s.locker != nil {
		lock, err := s.locker.Obtain(ctx, "suggest-lock:"+key, lockTTL)
		switch {
		case errors.Is(err, cache.ErrNotObtained):
			s.logger.Info().Str("key", key).Msg("synthesis already running elsewhere; proceeding")
		case err != nil:
			s.logger.Warn().Err(err).Msg("could not obtain lock; proceeding")
		default:
			defer func() {
				if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
					s.logger.Warn().Err(err).Msg("release lock")
				}
			}()
		}
	}

	docs := s.run(ctx, text)
	if len(docs) == 0 {
		s.metrics.SuggestionRun(metrics.SuggestFallback)
		return documents.FallbackRequiredDocuments()
	}

	s.metrics.SuggestionRun(metrics.SuggestGenerated)
	if s.cache != nil {
		if err := s.cache.Set(ctx, "suggest:"+key, docs, s.cacheTTL); err != nil {
			s.logger.Warn().Err(err).Msg("cache suggestions")
		}
	}
	return docs
}

func (s *Synthesizer) cached(ctx context.Context, key string) ([]documents.RequiredDocument, bool) {
	if s.cache == nil {
		return nil, false
	}
	var docs []documents.RequiredDocument
	err := s.cache.Get(ctx, "suggest:"+key, &docs)
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn().Err(err).Msg("read suggestion cache")
		}
		return nil, false
	}
	return docs, len(docs) > 0
}

func (s *Synthesizer) run(ctx context.Context, text string) []documents.RequiredDocument {
	chunks := Chunk(text, s.chunkSize)
	seen := make(map[string]struct{})
	var out []documents.RequiredDocument

	for i, chunk := range chunks {
		log := s.logger.With().Int("chunk", i+1).Int("chunks", len(chunks)).Logger()

		raw, err := s.gen.Generate(ctx, llm.Request{
			Instructions: instructions,
			Prompt:       fmt.Sprintf(promptTemplate, i+1, len(chunks), chunk),
			JSON:         true,
			Schema:       suggestionSchema,
		})
		if err != nil {
			log.Warn().Err(err).Msg("chunk generation failed")
			s.metrics.ChunkFailure("backend")
			continue
		}

		items, err := parseSuggestions(raw)
		if err != nil {
			log.Warn().Err(err).Str("raw_preview", preview(raw)).Msg("chunk response not parseable")
			s.metrics.ChunkFailure("parse")
			continue
		}
		if len(items) == 0 {
			log.Debug().Msg("chunk produced no suggestions")
			continue
		}

		for _, it := range items {
			name := strings.TrimSpace(it.DocumentName)
			k := documents.NormalizeName(name)
			if k == "" {
				continue
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, documents.RequiredDocument{
				Name:        name,
				Description: strings.TrimSpace(it.Description),
				Notes:       strings.TrimSpace(it.Notes),
				Mandatory:   it.Mandatory,
			})
		}
	}
	return out
}

// parseSuggestions accepts a bare array, an array wrapped in fences or prose,
// or the {"documents": [...]} object produced by schema-constrained backends.
// An empty response is not an error.
func parseSuggestions(raw string) ([]suggestion, error) {
	s := llm.StripFences(raw)
	if s == "" {
		return nil, nil
	}

	if strings.HasPrefix(s, "{") {
		var wrapped suggestionList
		if err := json.Unmarshal([]byte(llm.ExtractObject(s)), &wrapped); err == nil {
			return wrapped.Documents, nil
		}
	}

	arr := llm.ExtractArray(s)
	if arr == "" {
		return nil, fmt.Errorf("no JSON array in response")
	}
	var items []suggestion
	if err := json.Unmarshal([]byte(arr), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// Chunk splits text into contiguous pieces of at most size runes. It never
// splits a multi-byte character.
func Chunk(text string, size int) []string {
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = DefaultChunkSize
	}

	var chunks []string
	for len(text) > 0 {
		if utf8.RuneCountInString(text) <= size {
			chunks = append(chunks, text)
			break
		}
		cut, n := 0, 0
		for cut < len(text) && n < size {
			_, w := utf8.DecodeRuneInString(text[cut:])
			cut += w
			n++
		}
		chunks = append(chunks, text[:cut])
		text = text[cut:]
	}
	return chunks
}

func textKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func preview(s string) string {
	const max = 200
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
