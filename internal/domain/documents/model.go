package documents

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// RequiredDocument is one entry of a policy's document checklist.
type RequiredDocument struct {
	Name        string `json:"document_name" validate:"required"`
	Description string `json:"description"`
	Notes       string `json:"notes"`
	Mandatory   bool   `json:"mandatory"`
}

// UploadedDocument is a file attached to a claim. DeclaredName is the document
// type the uploader says it is; reconciliation matches on it, not on FileName.
type UploadedDocument struct {
	ID            uuid.UUID `json:"id"`
	DeclaredName  string    `json:"declared_name"`
	StorageHandle string    `json:"storage_handle"`
	FileName      string    `json:"file_name"`
	ContentType   string    `json:"content_type"`
	UploadedAt    time.Time `json:"uploaded_at"`
	ExtractedText *string   `json:"extracted_text,omitempty"`
}

// NormalizeName is the matching key for document names.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

var fallbackRequired = []RequiredDocument{
	{Name: "Discharge Summary", Description: "Summary of the hospital stay issued at discharge", Notes: "Default requirement", Mandatory: true},
	{Name: "Final Bill", Description: "Itemised final hospital bill", Notes: "Default requirement", Mandatory: true},
	{Name: "Diagnosis Report", Description: "Report confirming the diagnosis being claimed", Notes: "Default requirement", Mandatory: true},
	{Name: "ID Card", Description: "Government or insurer issued identity card of the patient", Notes: "Default requirement", Mandatory: true},
}

// FallbackRequiredDocuments returns a fresh copy of the default checklist used
// when no suggestions could be produced.
func FallbackRequiredDocuments() []RequiredDocument {
	out := make([]RequiredDocument, len(fallbackRequired))
	copy(out, fallbackRequired)
	return out
}

// MergeRequired collapses entries whose names differ only in case or
// surrounding whitespace. The first occurrence keeps its position; later
// duplicates may upgrade Mandatory and fill empty Description/Notes.
// Entries with a blank name are dropped.
func MergeRequired(lists ...[]RequiredDocument) []RequiredDocument {
	var out []RequiredDocument
	index := make(map[string]int)
	for _, list := range lists {
		for _, d := range list {
			key := NormalizeName(d.Name)
			if key == "" {
				continue
			}
			i, seen := index[key]
			if !seen {
				d.Name = strings.TrimSpace(d.Name)
				index[key] = len(out)
				out = append(out, d)
				continue
			}
			kept := &out[i]
			if d.Mandatory {
				kept.Mandatory = true
			}
			if kept.Description == "" {
				kept.Description = d.Description
			}
			if kept.Notes == "" {
				kept.Notes = d.Notes
			}
		}
	}
	return out
}

// Names returns the document names in order.
func Names(docs []RequiredDocument) []string {
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}
	return names
}
