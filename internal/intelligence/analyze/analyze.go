// Package analyze runs the generative completeness and validity check over a
// claim and its documents. The analyzer never returns an error: backend
// outages, exhausted rate-limit retries and unparseable answers all become a
// degraded Result with a zero score so the claim can still go to a human.
package analyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/intelligence/llm"
	"github.com/claimdesk/claimdesk/internal/platform/blobstore"
	"github.com/claimdesk/claimdesk/internal/platform/metrics"
)

// RetryConfig bounds retries on rate limiting. The delay before attempt n+1
// is BaseDelay * 2^(n-1).
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

var DefaultRetry = RetryConfig{MaxAttempts: 3, BaseDelay: 5 * time.Second}

// Delay returns the wait after the given failed attempt (1-based).
func (c RetryConfig) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return c.BaseDelay * time.Duration(1<<uint(attempt-1))
}

// Input is everything the analyzer sees about a claim.
type Input struct {
	ClaimID       uuid.UUID
	Diagnosis     string
	TreatmentPlan string
	ClaimedAmount float64
	PolicyType    string

	PolicyName        string
	Coverage          string
	RequiredDocuments []documents.RequiredDocument

	Documents []documents.UploadedDocument
}

type Option func(*Analyzer)

func WithRetry(cfg RetryConfig) Option {
	return func(a *Analyzer) {
		if cfg.MaxAttempts > 0 {
			a.retry = cfg
		}
	}
}

// WithSleep replaces the backoff wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Analyzer) { a.sleep = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Analyzer) { a.metrics = m }
}

type Analyzer struct {
	gen     llm.Generator
	blobs   blobstore.BlobStore
	retry   RetryConfig
	sleep   func(ctx context.Context, d time.Duration) error
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New returns an Analyzer. A nil gen means no credential is configured.
func New(gen llm.Generator, blobs blobstore.BlobStore, logger zerolog.Logger, opts ...Option) *Analyzer {
	a := &Analyzer{
		gen:    gen,
		blobs:  blobs,
		retry:  DefaultRetry,
		sleep:  sleepCtx,
		logger: logger.With().Str("component", "analyze").Logger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Configured reports whether a generative backend is available.
func (a *Analyzer) Configured() bool { return a.gen != nil }

var (
	analysisSchema = llm.SchemaFor[schemaShape]("claim_analysis")

	errMalformed = errors.New("malformed analysis response")
)

func (a *Analyzer) Analyze(ctx context.Context, in Input) Result {
	start := time.Now()
	log := a.logger.With().Str("claim_id", in.ClaimID.String()).Logger()

	if a.gen == nil {
		a.metrics.AnalysisOutcome(metrics.OutcomeUnconfigured, time.Since(start))
		return Degraded("System",
			"AI analysis unavailable: no generative backend is configured",
			"Automated analysis was not run; review the claim manually.")
	}

	rec := documents.Reconcile(in.RequiredDocuments, in.Documents)
	parts, inline := a.attachments(ctx, in.Documents, log)
	req := llm.Request{
		Instructions: instructions,
		Prompt:       buildPrompt(in, rec, inline),
		Attachments:  parts,
		JSON:         true,
		Schema:       analysisSchema,
	}

	raw, outcome, err := a.generate(ctx, req, log)
	if err != nil {
		a.metrics.AnalysisOutcome(outcome, time.Since(start))
		return Degraded("Error", err.Error(), "Automated analysis failed; review the claim manually.")
	}

	p, err := parse(raw)
	if err != nil {
		log.Error().Err(err).Str("raw_preview", preview(raw)).Msg("analysis response not parseable")
		a.metrics.AnalysisOutcome(metrics.OutcomeMalformed, time.Since(start))
		return Degraded("Error", "AI response could not be parsed",
			"Automated analysis returned an unreadable answer; review the claim manually.")
	}

	result := normalize(p, len(rec.Missing))
	a.metrics.AnalysisOutcome(metrics.OutcomeSuccess, time.Since(start))
	log.Info().Int("score", result.Score).Int("missing", len(rec.Missing)).Msg("claim analyzed")
	return result
}

// generate calls the backend, retrying only rate-limit failures.
func (a *Analyzer) generate(ctx context.Context, req llm.Request, log zerolog.Logger) (string, string, error) {
	var lastErr error
	for attempt := 1; attempt <= a.retry.MaxAttempts; attempt++ {
		raw, err := a.gen.Generate(ctx, req)
		if err == nil {
			return raw, metrics.OutcomeSuccess, nil
		}
		lastErr = err

		if !llm.IsRateLimited(err) {
			log.Error().Err(err).Int("attempt", attempt).Msg("generative backend error")
			return "", metrics.OutcomeBackendError, fmt.Errorf("AI analysis failed: %w", err)
		}
		if attempt == a.retry.MaxAttempts {
			break
		}

		backoff := a.retry.Delay(attempt)
		log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", backoff).Msg("rate limited; backing off")
		a.metrics.AnalysisRetry()
		if err := a.sleep(ctx, backoff); err != nil {
			return "", metrics.OutcomeBackendError, fmt.Errorf("AI analysis interrupted: %w", err)
		}
	}

	log.Error().Err(lastErr).Int("attempts", a.retry.MaxAttempts).Msg("rate limit retries exhausted")
	return "", metrics.OutcomeExhausted,
		fmt.Errorf("AI service rate limited after %d attempts: %w", a.retry.MaxAttempts, lastErr)
}

// maxInlineText bounds the text of one document quoted into the prompt.
const maxInlineText = 20000

// inlineDocument is a text document quoted into the prompt rather than
// attached as a binary part.
type inlineDocument struct {
	Name string
	Text string
}

// attachments loads each uploaded document. PDFs and images become binary
// parts; text documents are returned for quoting into the prompt. Documents
// whose bytes cannot be read, or whose type the backend cannot take, are left
// out without failing the analysis.
func (a *Analyzer) attachments(ctx context.Context, docs []documents.UploadedDocument, log zerolog.Logger) ([]llm.Attachment, []inlineDocument) {
	if a.blobs == nil {
		return nil, nil
	}
	var parts []llm.Attachment
	var inline []inlineDocument
	for _, d := range docs {
		data, meta, err := blobstore.ReadAll(ctx, a.blobs, d.StorageHandle)
		if err != nil || len(data) == 0 {
			log.Debug().Err(err).Str("handle", d.StorageHandle).Msg("skipping unreadable attachment")
			continue
		}

		mimeType := contentType(d, meta)
		switch {
		case llm.Attachable(mimeType):
			parts = append(parts, llm.Attachment{
				Name:     d.DeclaredName,
				MIMEType: mimeType,
				Data:     data,
			})
		case strings.HasPrefix(mimeType, "text/"):
			text := string(data)
			if d.ExtractedText != nil && strings.TrimSpace(*d.ExtractedText) != "" {
				text = *d.ExtractedText
			}
			inline = append(inline, inlineDocument{
				Name: d.DeclaredName,
				Text: truncateRunes(strings.ToValidUTF8(text, ""), maxInlineText),
			})
		default:
			log.Debug().Str("handle", d.StorageHandle).Str("content_type", mimeType).Msg("skipping unsupported attachment type")
		}
	}
	return parts, inline
}

// contentType prefers the type recorded at upload, then the blob metadata,
// then the file extension.
func contentType(d documents.UploadedDocument, meta *blobstore.BlobMetadata) string {
	if ct := baseType(d.ContentType); ct != "" {
		return ct
	}
	if meta != nil {
		if ct := baseType(meta.ContentType); ct != "" {
			return ct
		}
	}
	name := d.FileName
	if name == "" && meta != nil {
		name = meta.FileName
	}
	return llm.MIMETypeFor(name)
}

func baseType(ct string) string {
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}

// parse decodes the answer field by field. A field of the wrong shape is
// dropped and left to normalize's defaults; only an answer with no readable
// object at all is malformed.
func parse(raw string) (payload, error) {
	obj := llm.ExtractObject(llm.StripFences(raw))
	if obj == "" {
		return payload{}, errMalformed
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(obj), &fields); err != nil {
		return payload{}, fmt.Errorf("%w: %v", errMalformed, err)
	}

	var p payload
	decodeField(fields, "score", &p.Score)
	decodeField(fields, "estimated_amount", &p.EstimatedAmount)
	decodeField(fields, "notes", &p.Notes)
	p.Findings = decodeList[Finding](fields, "findings")
	p.DocumentFeedback = decodeList[DocumentFeedback](fields, "document_feedback")
	return p, nil
}

func decodeField[T any](fields map[string]json.RawMessage, key string, dst *T) {
	raw, ok := fields[key]
	if !ok {
		return
	}
	var v T
	if err := json.Unmarshal(raw, &v); err == nil {
		*dst = v
	}
}

// decodeList keeps the well-formed elements of an array field.
func decodeList[T any](fields map[string]json.RawMessage, key string) []T {
	var items []json.RawMessage
	decodeField(fields, key, &items)
	var out []T
	for _, item := range items {
		var v T
		if err := json.Unmarshal(item, &v); err == nil {
			out = append(out, v)
		}
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func preview(s string) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > 500 {
		return truncateRunes(s, 500) + "..."
	}
	return s
}

func truncateRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
