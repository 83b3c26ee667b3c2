package documents

import (
	"testing"
)

func req(names ...string) []RequiredDocument {
	out := make([]RequiredDocument, 0, len(names))
	for i, n := range names {
		out = append(out, RequiredDocument{Name: n, Mandatory: i%2 == 0})
	}
	return out
}

func up(names ...string) []UploadedDocument {
	out := make([]UploadedDocument, 0, len(names))
	for _, n := range names {
		out = append(out, UploadedDocument{DeclaredName: n})
	}
	return out
}

func TestReconcile_SplitsMissingAndPresent(t *testing.T) {
	r := Reconcile(req("Discharge Summary", "Final Bill", "ID Card"), up("final bill"))

	if len(r.Present) != 1 || r.Present[0].Name != "Final Bill" {
		t.Fatalf("unexpected present: %+v", r.Present)
	}
	if len(r.Missing) != 2 || r.Missing[0].Name != "Discharge Summary" || r.Missing[1].Name != "ID Card" {
		t.Fatalf("unexpected missing: %+v", r.Missing)
	}
}

func TestReconcile_UnionIsRequiredAndDisjoint(t *testing.T) {
	required := req("A", "B", "C", "D")
	r := Reconcile(required, up("b", " D ", "unrelated"))

	if len(r.Missing)+len(r.Present) != len(required) {
		t.Fatalf("expected %d total, got %d", len(required), len(r.Missing)+len(r.Present))
	}
	seen := map[string]bool{}
	for _, d := range append(append([]RequiredDocument{}, r.Missing...), r.Present...) {
		if seen[d.Name] {
			t.Errorf("%s appears in both lists", d.Name)
		}
		seen[d.Name] = true
	}
	for _, d := range required {
		if !seen[d.Name] {
			t.Errorf("%s missing from output", d.Name)
		}
	}
}

func TestReconcile_OrderFollowsRequired(t *testing.T) {
	r := Reconcile(req("Z", "Y", "X", "W"), up("x", "z"))
	if r.Present[0].Name != "Z" || r.Present[1].Name != "X" {
		t.Errorf("present not in required order: %+v", r.Present)
	}
	if r.Missing[0].Name != "Y" || r.Missing[1].Name != "W" {
		t.Errorf("missing not in required order: %+v", r.Missing)
	}
}

func TestReconcile_InvariantToUploadOrderAndCase(t *testing.T) {
	required := req("Lab Results", "Final Bill", "ID Card")
	a := Reconcile(required, up("LAB RESULTS", "id card"))
	b := Reconcile(required, up("  Id Card", "lab results  "))

	if len(a.Present) != len(b.Present) || len(a.Missing) != len(b.Missing) {
		t.Fatalf("results differ: %+v vs %+v", a, b)
	}
	for i := range a.Present {
		if a.Present[i].Name != b.Present[i].Name {
			t.Errorf("present[%d] differs: %s vs %s", i, a.Present[i].Name, b.Present[i].Name)
		}
	}
}

func TestReconcile_ExtraUploadsIgnored(t *testing.T) {
	r := Reconcile(req("Final Bill"), up("Selfie", "Random Scan"))
	if len(r.Present) != 0 || len(r.Missing) != 1 {
		t.Errorf("unexpected result: %+v", r)
	}
}

func TestReconcile_Idempotent(t *testing.T) {
	required := req("A", "B")
	uploaded := up("a")
	first := Reconcile(required, uploaded)
	second := Reconcile(required, uploaded)
	if len(first.Missing) != len(second.Missing) || first.Missing[0].Name != second.Missing[0].Name {
		t.Error("expected identical results")
	}
}

func TestReconcile_EmptyInputs(t *testing.T) {
	r := Reconcile(nil, up("x"))
	if r.Missing == nil || r.Present == nil {
		t.Error("expected non-nil empty slices")
	}
	if !r.Complete() {
		t.Error("expected complete with no requirements")
	}
}

func TestReconciliation_MissingMandatory(t *testing.T) {
	r := Reconcile([]RequiredDocument{
		{Name: "Final Bill", Mandatory: true},
		{Name: "Pharmacy Invoices", Mandatory: false},
	}, nil)
	mm := r.MissingMandatory()
	if len(mm) != 1 || mm[0].Name != "Final Bill" {
		t.Errorf("unexpected mandatory missing: %+v", mm)
	}
}
