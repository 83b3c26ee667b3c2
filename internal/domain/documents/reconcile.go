package documents

// Reconciliation splits a policy's checklist into what a claim already has and
// what is still outstanding. Both lists follow the order of the checklist.
type Reconciliation struct {
	Missing []RequiredDocument `json:"missing"`
	Present []RequiredDocument `json:"present"`
}

// Complete reports whether nothing is missing.
func (r Reconciliation) Complete() bool { return len(r.Missing) == 0 }

// MissingMandatory returns the missing entries flagged mandatory.
func (r Reconciliation) MissingMandatory() []RequiredDocument {
	var out []RequiredDocument
	for _, d := range r.Missing {
		if d.Mandatory {
			out = append(out, d)
		}
	}
	return out
}

// Reconcile matches uploaded documents to required ones by declared name,
// ignoring case and surrounding whitespace. Uploads that match nothing are
// ignored. Mandatory and optional entries are treated alike.
func Reconcile(required []RequiredDocument, uploaded []UploadedDocument) Reconciliation {
	have := make(map[string]struct{}, len(uploaded))
	for _, u := range uploaded {
		have[NormalizeName(u.DeclaredName)] = struct{}{}
	}

	r := Reconciliation{
		Missing: []RequiredDocument{},
		Present: []RequiredDocument{},
	}
	for _, req := range required {
		if _, ok := have[NormalizeName(req.Name)]; ok {
			r.Present = append(r.Present, req)
		} else {
			r.Missing = append(r.Missing, req)
		}
	}
	return r
}
