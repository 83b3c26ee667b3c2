// Package extract turns stored documents into plain text for the generative
// prompts. Extraction never fails loudly: anything that cannot be read yields
// an empty string and a warning in the log.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/rs/zerolog"

	"github.com/claimdesk/claimdesk/internal/intelligence/llm"
	"github.com/claimdesk/claimdesk/internal/platform/blobstore"
)

const ocrInstructions = "You transcribe scanned insurance and medical documents. " +
	"Return only the text visible in the image, preserving line breaks. Do not summarise or comment."

type Extractor struct {
	blobs  blobstore.BlobStore
	ocr    llm.Generator
	logger zerolog.Logger
}

// New returns an Extractor. ocr may be nil, in which case images yield "".
func New(blobs blobstore.BlobStore, ocr llm.Generator, logger zerolog.Logger) *Extractor {
	return &Extractor{
		blobs:  blobs,
		ocr:    ocr,
		logger: logger.With().Str("component", "extract").Logger(),
	}
}

// Extract loads the blob behind handle and returns its text.
func (e *Extractor) Extract(ctx context.Context, handle string) string {
	if handle == "" || e.blobs == nil {
		return ""
	}
	data, meta, err := blobstore.ReadAll(ctx, e.blobs, handle)
	if err != nil {
		e.logger.Warn().Err(err).Str("handle", handle).Msg("document not readable")
		return ""
	}
	return e.ExtractBytes(ctx, meta.FileName, meta.ContentType, data)
}

// ExtractBytes extracts text from an in-memory document. contentType may be
// empty, in which case it is inferred from name.
func (e *Extractor) ExtractBytes(ctx context.Context, name, contentType string, data []byte) string {
	if len(data) == 0 {
		return ""
	}
	kind := contentKind(name, contentType)
	log := e.logger.With().Str("file", name).Str("kind", kind).Logger()

	var (
		text string
		err  error
	)
	switch kind {
	case "pdf":
		text, err = pdfText(data)
	case "image":
		text, err = e.imageText(ctx, name, contentType, data)
	case "text":
		if !utf8.Valid(data) {
			err = fmt.Errorf("text document is not valid UTF-8")
		}
		text = string(data)
	default:
		log.Warn().Str("content_type", contentType).Msg("unsupported document type")
		return ""
	}
	if err != nil {
		log.Warn().Err(err).Msg("text extraction failed")
		return ""
	}

	text = strings.TrimSpace(text)
	if text == "" {
		log.Info().Msg("document has no extractable text")
	}
	return text
}

func contentKind(name, contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch {
	case ct == "application/pdf":
		return "pdf"
	case strings.HasPrefix(ct, "image/"):
		return "image"
	case strings.HasPrefix(ct, "text/"):
		return "text"
	}

	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf"
	case ".png", ".jpg", ".jpeg":
		return "image"
	case ".txt", ".md":
		return "text"
	}
	return ""
}

// pdfText reads the text layer of a PDF. Scanned PDFs without one return "".
func pdfText(data []byte) (text string, err error) {
	// the pdf reader panics on some malformed cross-reference tables
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pdf reader panic: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	b, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("read pdf text: %w", err)
	}
	return string(b), nil
}

func (e *Extractor) imageText(ctx context.Context, name, contentType string, data []byte) (string, error) {
	if e.ocr == nil {
		return "", fmt.Errorf("no generative backend for OCR")
	}
	mime := contentType
	if !strings.HasPrefix(mime, "image/") {
		mime = llm.MIMETypeFor(name)
	}
	if !strings.HasPrefix(mime, "image/") {
		mime = "image/jpeg"
	}
	out, err := e.ocr.Generate(ctx, llm.Request{
		Instructions: ocrInstructions,
		Prompt:       "Transcribe the attached document.",
		Attachments:  []llm.Attachment{{Name: name, MIMEType: mime, Data: data}},
	})
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return llm.StripFences(out), nil
}
