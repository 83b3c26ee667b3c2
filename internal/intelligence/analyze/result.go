package analyze

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Finding statuses.
const (
	StatusPass    = "Pass"
	StatusFail    = "Fail"
	StatusWarning = "Warning"
)

// MissingDocumentsScoreCap is the highest score a claim with missing required
// documents may receive.
const MissingDocumentsScoreCap = 20

type Finding struct {
	Item    string `json:"item"`
	Status  string `json:"status"`
	Details string `json:"details"`
}

type DocumentFeedback struct {
	DocumentName string `json:"document_name"`
	FeedbackNote string `json:"feedback_note"`
}

// Result is the normalized analysis written onto a claim.
type Result struct {
	Score            int                `json:"score"`
	EstimatedAmount  float64            `json:"estimated_amount"`
	Findings         []Finding          `json:"findings"`
	DocumentFeedback []DocumentFeedback `json:"document_feedback"`
	Notes            string             `json:"notes"`
	// Degraded is set when the result was produced without a usable backend answer.
	Degraded bool `json:"-"`
}

// Degraded builds the low-confidence result returned when the backend could
// not be used.
func Degraded(item, details, notes string) Result {
	return Result{
		Score:            0,
		EstimatedAmount:  0,
		Findings:         []Finding{{Item: item, Status: StatusFail, Details: details}},
		DocumentFeedback: []DocumentFeedback{},
		Notes:            notes,
		Degraded:         true,
	}
}

// payload is what the backend returns. Every field is optional and numbers
// may arrive as strings.
type payload struct {
	Score            *flexNumber        `json:"score"`
	EstimatedAmount  *flexNumber        `json:"estimated_amount"`
	Findings         []Finding          `json:"findings"`
	DocumentFeedback []DocumentFeedback `json:"document_feedback"`
	Notes            string             `json:"notes"`
}

// schemaShape is the strict output schema sent to backends that support one.
type schemaShape struct {
	Score            int                `json:"score"`
	EstimatedAmount  float64            `json:"estimated_amount"`
	Findings         []Finding          `json:"findings"`
	Notes            string             `json:"notes"`
	DocumentFeedback []DocumentFeedback `json:"document_feedback"`
}

type flexNumber float64

func (n *flexNumber) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
		s = strings.ReplaceAll(s, ",", "")
		if s == "" {
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			// unparseable strings fall back to the default
			return nil
		}
		*n = flexNumber(f)
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*n = flexNumber(f)
	return nil
}

// normalize applies every default and bound in one place.
func normalize(p payload, missingRequired int) Result {
	r := Result{
		Findings:         []Finding{},
		DocumentFeedback: []DocumentFeedback{},
		Notes:            strings.TrimSpace(p.Notes),
	}

	if p.Score != nil && !math.IsNaN(float64(*p.Score)) {
		r.Score = int(math.Round(float64(*p.Score)))
	}
	if r.Score < 0 {
		r.Score = 0
	}
	if r.Score > 100 {
		r.Score = 100
	}
	if missingRequired > 0 && r.Score > MissingDocumentsScoreCap {
		r.Score = MissingDocumentsScoreCap
	}

	if p.EstimatedAmount != nil {
		amt := float64(*p.EstimatedAmount)
		if amt > 0 && !math.IsInf(amt, 0) {
			r.EstimatedAmount = amt
		}
	}

	for _, f := range p.Findings {
		item := strings.TrimSpace(f.Item)
		if item == "" {
			item = "General"
		}
		r.Findings = append(r.Findings, Finding{
			Item:    item,
			Status:  normalizeStatus(f.Status),
			Details: strings.TrimSpace(f.Details),
		})
	}
	for _, fb := range p.DocumentFeedback {
		name := strings.TrimSpace(fb.DocumentName)
		if name == "" {
			continue
		}
		r.DocumentFeedback = append(r.DocumentFeedback, DocumentFeedback{
			DocumentName: name,
			FeedbackNote: strings.TrimSpace(fb.FeedbackNote),
		})
	}
	return r
}

func normalizeStatus(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pass", "passed", "ok":
		return StatusPass
	case "fail", "failed":
		return StatusFail
	default:
		return StatusWarning
	}
}
