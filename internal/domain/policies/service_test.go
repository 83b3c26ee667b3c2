package policies

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/blobstore"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

// -- Mocks --

type fakeNetwork struct {
	links map[uuid.UUID]map[uuid.UUID]bool // insurer -> hospitals
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{links: make(map[uuid.UUID]map[uuid.UUID]bool)}
}

func (n *fakeNetwork) IsLinked(_ context.Context, insurerID, hospitalID uuid.UUID) (bool, error) {
	return n.links[insurerID][hospitalID], nil
}

func (n *fakeNetwork) HospitalIDsForInsurer(_ context.Context, insurerID uuid.UUID) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for h := range n.links[insurerID] {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

func (n *fakeNetwork) LinkHospitals(_ context.Context, insurerID uuid.UUID, hospitalIDs []uuid.UUID) error {
	if n.links[insurerID] == nil {
		n.links[insurerID] = make(map[uuid.UUID]bool)
	}
	for _, h := range hospitalIDs {
		n.links[insurerID][h] = true
	}
	return nil
}

type mockPolicyRepo struct {
	items     map[uuid.UUID]*Policy
	network   *fakeNetwork
	createErr error
}

func newMockPolicyRepo(n *fakeNetwork) *mockPolicyRepo {
	return &mockPolicyRepo{items: make(map[uuid.UUID]*Policy), network: n}
}

func (m *mockPolicyRepo) Create(_ context.Context, p *Policy) error {
	if m.createErr != nil {
		return m.createErr
	}
	p.ID = uuid.New()
	p.CreatedAt = time.Now()
	p.UpdatedAt = p.CreatedAt
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPolicyRepo) GetByID(_ context.Context, id uuid.UUID) (*Policy, error) {
	p, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("policy not found")
	}
	cp := *p
	return &cp, nil
}

func (m *mockPolicyRepo) Update(_ context.Context, p *Policy) error {
	if _, ok := m.items[p.ID]; !ok {
		return apperr.NotFound("policy not found")
	}
	p.UpdatedAt = time.Now()
	cp := *p
	m.items[p.ID] = &cp
	return nil
}

func (m *mockPolicyRepo) ListByInsurer(_ context.Context, insurerID uuid.UUID, limit, offset int) ([]*Policy, int, error) {
	return m.filter(func(p *Policy) bool {
		return p.OwnerKind == OwnerInsurer && *p.InsurerID == insurerID
	}, limit, offset)
}

func (m *mockPolicyRepo) ListForHospital(_ context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Policy, int, error) {
	return m.filter(func(p *Policy) bool {
		if p.HospitalID != nil && *p.HospitalID == hospitalID {
			return true
		}
		return p.OwnerKind == OwnerInsurer && p.Status == StatusActive && m.network.links[*p.InsurerID][hospitalID]
	}, limit, offset)
}

func (m *mockPolicyRepo) filter(keep func(*Policy) bool, limit, offset int) ([]*Policy, int, error) {
	var out []*Policy
	for _, p := range m.items {
		if keep(p) {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	total := len(out)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return out[offset:end], total, nil
}

type fakeSuggester struct {
	calls []string
	docs  []documents.RequiredDocument
}

func (f *fakeSuggester) Synthesize(_ context.Context, text string) []documents.RequiredDocument {
	f.calls = append(f.calls, text)
	if text == "" {
		return documents.FallbackRequiredDocuments()
	}
	return f.docs
}

type fakeExtractor struct{}

func (fakeExtractor) ExtractBytes(_ context.Context, _, _ string, data []byte) string {
	return string(data)
}

type testEnv struct {
	svc       *Service
	repo      *mockPolicyRepo
	network   *fakeNetwork
	blobs     *blobstore.InMemoryBlobStore
	suggester *fakeSuggester
}

func newTestEnv() *testEnv {
	n := newFakeNetwork()
	repo := newMockPolicyRepo(n)
	blobs := blobstore.NewInMemoryBlobStore()
	sg := &fakeSuggester{docs: []documents.RequiredDocument{
		{Name: "Discharge Summary", Mandatory: true},
		{Name: "discharge summary"},
		{Name: "Final Bill", Mandatory: true},
	}}
	return &testEnv{
		svc:       NewService(repo, n, blobs, sg, fakeExtractor{}),
		repo:      repo,
		network:   n,
		blobs:     blobs,
		suggester: sg,
	}
}

func insurerCaller(id uuid.UUID) auth.Identity {
	return auth.Identity{ActorID: "ins-user", Role: auth.RoleInsurer, InsurerID: id}
}

func hospitalCaller(id uuid.UUID) auth.Identity {
	return auth.Identity{ActorID: "hosp-user", Role: auth.RoleHospital, HospitalID: id}
}

func pdfFile(text string) blobstore.File {
	return blobstore.File{Name: "policy.pdf", ContentType: "application/pdf", Data: []byte(text)}
}

// -- Insurer --

func TestCreateInsurerPolicy_ActiveAndMerged(t *testing.T) {
	env := newTestEnv()
	insurer := uuid.New()
	hospital := uuid.New()
	env.network.LinkHospitals(context.Background(), insurer, []uuid.UUID{hospital})

	p, err := env.svc.CreateInsurerPolicy(context.Background(), insurerCaller(insurer), CreateInsurerPolicyRequest{
		Name: "  Gold Plan ",
		RequiredDocuments: []documents.RequiredDocument{
			{Name: "ID Proof"}, {Name: " id proof ", Mandatory: true},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != StatusActive || p.OwnerKind != OwnerInsurer || p.Name != "Gold Plan" {
		t.Errorf("unexpected policy %+v", p)
	}
	if len(p.RequiredDocuments) != 1 || !p.RequiredDocuments[0].Mandatory {
		t.Errorf("expected merged mandatory checklist, got %+v", p.RequiredDocuments)
	}
	if len(p.EligibleHospitalIDs) != 1 || p.EligibleHospitalIDs[0] != hospital {
		t.Errorf("expected eligible hospitals from network, got %v", p.EligibleHospitalIDs)
	}
}

func TestCreateInsurerPolicy_RequiresInsurer(t *testing.T) {
	env := newTestEnv()
	_, err := env.svc.CreateInsurerPolicy(context.Background(), hospitalCaller(uuid.New()), CreateInsurerPolicyRequest{Name: "x"})
	if !errors.Is(err, apperr.ErrAuthorization) {
		t.Errorf("expected authorization error, got %v", err)
	}
}

func TestLinkHospitals_OwnerOnly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	owner := uuid.New()
	p, _ := env.svc.CreateInsurerPolicy(ctx, insurerCaller(owner), CreateInsurerPolicyRequest{Name: "Plan"})

	hospital := uuid.New()
	if _, err := env.svc.LinkHospitals(ctx, insurerCaller(uuid.New()), p.ID, []uuid.UUID{hospital}); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	got, err := env.svc.LinkHospitals(ctx, insurerCaller(owner), p.ID, []uuid.UUID{hospital})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.EligibleHospitalIDs) != 1 || got.EligibleHospitalIDs[0] != hospital {
		t.Errorf("expected hospital to become eligible, got %v", got.EligibleHospitalIDs)
	}
	if linked, _ := env.network.IsLinked(ctx, owner, hospital); !linked {
		t.Error("expected network edge to be written")
	}
}

// -- Hospital --

func TestCreateHospitalPolicy_DraftWithSuggestions(t *testing.T) {
	env := newTestEnv()
	hospital := uuid.New()

	p, err := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(hospital), "Internal Plan", nil, pdfFile("policy body"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Status != StatusDraft || p.OwnerKind != OwnerHospital {
		t.Errorf("unexpected policy %+v", p)
	}
	if p.PolicyText != "policy body" {
		t.Errorf("expected extracted text to be kept, got %q", p.PolicyText)
	}
	if got := documents.Names(p.RequiredDocuments); len(got) != 2 || got[0] != "Discharge Summary" || got[1] != "Final Bill" {
		t.Errorf("expected merged suggestions, got %v", got)
	}
	meta, err := env.blobs.GetMetadata(context.Background(), p.DocumentHandle)
	if err != nil {
		t.Fatalf("expected stored document: %v", err)
	}
	if meta.Category != blobstore.CategoryPolicyDocument || meta.OwnerID != hospital.String() {
		t.Errorf("unexpected blob metadata %+v", meta)
	}
}

func TestCreateHospitalPolicy_UnlinkedInsurer(t *testing.T) {
	env := newTestEnv()
	insurer := uuid.New()
	_, err := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(uuid.New()), "Plan", &insurer, pdfFile("x"))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateHospitalPolicy_RejectsUnsupportedFile(t *testing.T) {
	env := newTestEnv()
	file := blobstore.File{Name: "policy.exe", ContentType: "application/x-msdownload", Data: []byte("MZ")}
	_, err := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(uuid.New()), "Plan", nil, file)
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestCreateHospitalPolicy_RemovesDocumentWhenInsertFails(t *testing.T) {
	env := newTestEnv()
	env.repo.createErr = errors.New("insert policy: connection reset")
	hospital := uuid.New()

	_, err := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(hospital), "Internal Plan", nil, pdfFile("policy body"))
	if err == nil {
		t.Fatal("expected insert error")
	}
	left, err := env.blobs.ListByOwner(context.Background(), hospital.String(), blobstore.CategoryPolicyDocument)
	if err != nil {
		t.Fatalf("list blobs: %v", err)
	}
	if len(left) != 0 {
		t.Errorf("expected no orphaned policy documents, got %d", len(left))
	}
}

func TestCreateHospitalPolicy_EmptyTextFallsBack(t *testing.T) {
	env := newTestEnv()
	file := blobstore.File{Name: "scan.png", ContentType: "image/png", Data: []byte{0x89}}
	env.svc.extractor = nil

	p, err := env.svc.CreateHospitalPolicy(context.Background(), hospitalCaller(uuid.New()), "Scanned", nil, file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(p.RequiredDocuments) != len(documents.FallbackRequiredDocuments()) {
		t.Errorf("expected fallback checklist, got %+v", p.RequiredDocuments)
	}
}

func TestFinalizePolicy(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hospital := uuid.New()
	p, _ := env.svc.CreateHospitalPolicy(ctx, hospitalCaller(hospital), "Plan", nil, pdfFile("text"))

	if _, err := env.svc.FinalizePolicy(ctx, hospitalCaller(uuid.New()), p.ID, nil); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error for other hospital, got %v", err)
	}

	got, err := env.svc.FinalizePolicy(ctx, hospitalCaller(hospital), p.ID, []documents.RequiredDocument{
		{Name: "Lab Report"}, {Name: "LAB REPORT", Mandatory: true},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != StatusActive {
		t.Errorf("expected ACTIVE, got %s", got.Status)
	}
	if len(got.RequiredDocuments) != 1 || !got.RequiredDocuments[0].Mandatory {
		t.Errorf("expected merged checklist, got %+v", got.RequiredDocuments)
	}
}

func TestFinalizePolicy_EmptyKeepsDraftedChecklist(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hospital := uuid.New()
	p, _ := env.svc.CreateHospitalPolicy(ctx, hospitalCaller(hospital), "Plan", nil, pdfFile("text"))

	got, err := env.svc.FinalizePolicy(ctx, hospitalCaller(hospital), p.ID, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got.RequiredDocuments) != 2 {
		t.Errorf("expected drafted checklist to be kept, got %+v", got.RequiredDocuments)
	}
}

func TestListForHospital_OwnAndLinkedInsurers(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	hospital := uuid.New()
	linked, unlinked := uuid.New(), uuid.New()
	env.network.LinkHospitals(ctx, linked, []uuid.UUID{hospital})

	env.svc.CreateInsurerPolicy(ctx, insurerCaller(linked), CreateInsurerPolicyRequest{Name: "A Linked"})
	env.svc.CreateInsurerPolicy(ctx, insurerCaller(unlinked), CreateInsurerPolicyRequest{Name: "B Unlinked"})
	env.svc.CreateHospitalPolicy(ctx, hospitalCaller(hospital), "C Own", nil, pdfFile("t"))
	env.svc.CreateHospitalPolicy(ctx, hospitalCaller(uuid.New()), "D Other", nil, pdfFile("t"))

	items, total, err := env.svc.ListForHospital(ctx, hospital, 20, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total != 2 || items[0].Name != "A Linked" || items[1].Name != "C Own" {
		t.Errorf("unexpected policies %d %+v", total, items)
	}
}

// -- Shared --

func TestUpdate_OwnerOnly(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	insurer := uuid.New()
	p, _ := env.svc.CreateInsurerPolicy(ctx, insurerCaller(insurer), CreateInsurerPolicyRequest{Name: "Plan"})

	name := "Renamed"
	if _, err := env.svc.Update(ctx, insurerCaller(uuid.New()), p.ID, UpdatePolicyRequest{Name: &name}); !errors.Is(err, apperr.ErrAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}

	docs := []documents.RequiredDocument{{Name: "X-Ray"}, {Name: "x-ray"}}
	got, err := env.svc.Update(ctx, insurerCaller(insurer), p.ID, UpdatePolicyRequest{Name: &name, RequiredDocuments: &docs})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "Renamed" || len(got.RequiredDocuments) != 1 {
		t.Errorf("unexpected policy %+v", got)
	}
}

func TestUpdate_BlankName(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	insurer := uuid.New()
	p, _ := env.svc.CreateInsurerPolicy(ctx, insurerCaller(insurer), CreateInsurerPolicyRequest{Name: "Plan"})

	blank := "  "
	if _, err := env.svc.Update(ctx, insurerCaller(insurer), p.ID, UpdatePolicyRequest{Name: &blank}); !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestGet_Visibility(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()
	insurer := uuid.New()
	hospital, outsider := uuid.New(), uuid.New()
	env.network.LinkHospitals(ctx, insurer, []uuid.UUID{hospital})

	insPolicy, _ := env.svc.CreateInsurerPolicy(ctx, insurerCaller(insurer), CreateInsurerPolicyRequest{Name: "Plan"})
	ownPolicy, _ := env.svc.CreateHospitalPolicy(ctx, hospitalCaller(hospital), "Own", nil, pdfFile("t"))
	reviewed, _ := env.svc.CreateHospitalPolicy(ctx, hospitalCaller(hospital), "Mirrors insurer", &insurer, pdfFile("t"))

	tests := []struct {
		name   string
		caller auth.Identity
		policy uuid.UUID
		ok     bool
	}{
		{"insurer owner", insurerCaller(insurer), insPolicy.ID, true},
		{"linked hospital", hospitalCaller(hospital), insPolicy.ID, true},
		{"unlinked hospital", hospitalCaller(outsider), insPolicy.ID, false},
		{"other insurer", insurerCaller(uuid.New()), insPolicy.ID, false},
		{"owning hospital", hospitalCaller(hospital), ownPolicy.ID, true},
		{"insurer on private hospital policy", insurerCaller(insurer), ownPolicy.ID, false},
		{"reviewing insurer", insurerCaller(insurer), reviewed.ID, true},
		{"other hospital on hospital policy", hospitalCaller(outsider), ownPolicy.ID, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.svc.Get(ctx, tt.caller, tt.policy)
			if tt.ok && err != nil {
				t.Errorf("expected access, got %v", err)
			}
			if !tt.ok && !errors.Is(err, apperr.ErrAuthorization) {
				t.Errorf("expected authorization error, got %v", err)
			}
		})
	}
}

func TestSuggest_TextAndFile(t *testing.T) {
	env := newTestEnv()
	ctx := context.Background()

	res := env.svc.Suggest(ctx, nil, "raw text")
	if len(res.RequiredDocuments) != 2 || res.ExtractedChars != len("raw text") {
		t.Errorf("unexpected response %+v", res)
	}

	file := pdfFile("from file")
	env.svc.Suggest(ctx, &file, "ignored")
	if last := env.suggester.calls[len(env.suggester.calls)-1]; last != "from file" {
		t.Errorf("expected file text to win, got %q", last)
	}
}
