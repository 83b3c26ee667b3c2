package analyze

import (
	"fmt"
	"strings"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
)

const instructions = "You are a meticulous health insurance claim auditor. " +
	"You check a claim against its policy and the attached documents and answer in strict JSON."

func buildPrompt(in Input, rec documents.Reconciliation, inline []inlineDocument) string {
	var b strings.Builder

	b.WriteString("POLICY\n")
	fmt.Fprintf(&b, "Name: %s\n", orNone(in.PolicyName))
	fmt.Fprintf(&b, "Coverage: %s\n", orNone(in.Coverage))
	fmt.Fprintf(&b, "Required documents: %s\n", joinOrNone(documents.Names(in.RequiredDocuments)))

	b.WriteString("\nCLAIM\n")
	fmt.Fprintf(&b, "Type: %s\n", orNone(in.PolicyType))
	fmt.Fprintf(&b, "Diagnosis: %s\n", orNone(in.Diagnosis))
	fmt.Fprintf(&b, "Treatment: %s\n", orNone(in.TreatmentPlan))
	fmt.Fprintf(&b, "Claimed amount: %.2f\n", in.ClaimedAmount)

	labels := make([]string, 0, len(in.Documents))
	for _, d := range in.Documents {
		labels = append(labels, d.DeclaredName)
	}
	fmt.Fprintf(&b, "Submitted documents: %s\n", joinOrNone(labels))
	fmt.Fprintf(&b, "Missing required documents: %s\n", joinOrNone(documents.Names(rec.Missing)))

	for _, d := range inline {
		fmt.Fprintf(&b, "\nDOCUMENT TEXT: %s\n%s\n", d.Name, d.Text)
	}

	b.WriteString(`
PDF and image documents are attached in the order listed; text documents are quoted above.

Respond with ONLY a JSON object of this shape:
{
  "score": <integer 0-100, likelihood the claim is complete and valid>,
  "estimated_amount": <number, amount you expect to be payable>,
  "findings": [{"item": "<what was checked>", "status": "Pass" | "Fail" | "Warning", "details": "<why>"}],
  "notes": "<one sentence summary>",
  "document_feedback": [{"document_name": "<submitted document>", "feedback_note": "<issue or confirmation>"}]
}
If any required document is missing, "score" MUST be between 0 and 20.
`)
	return b.String()
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(none)"
	}
	return s
}

func joinOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
