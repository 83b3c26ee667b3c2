package claims

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/domain/policies"
	"github.com/claimdesk/claimdesk/internal/intelligence/analyze"
	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/blobstore"
	"github.com/claimdesk/claimdesk/internal/platform/events"
	"github.com/claimdesk/claimdesk/internal/platform/metrics"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

// PolicyLookup resolves the policy a claim is filed under. It is satisfied by
// *policies.Service.
type PolicyLookup interface {
	Lookup(ctx context.Context, id uuid.UUID) (*policies.Policy, error)
	CanView(ctx context.Context, caller auth.Identity, p *policies.Policy) (bool, error)
}

// Network checks insurer/hospital linkage.
type Network interface {
	IsLinked(ctx context.Context, insurerID, hospitalID uuid.UUID) (bool, error)
}

// Analyzer produces the AI assessment of a claim. It never fails; outages
// come back as a degraded result.
type Analyzer interface {
	Analyze(ctx context.Context, in analyze.Input) analyze.Result
}

// TextExtractor pulls readable text out of an uploaded document.
type TextExtractor interface {
	ExtractBytes(ctx context.Context, name, contentType string, data []byte) string
}

type Option func(*Service)

func WithPublisher(p events.Publisher) Option {
	return func(s *Service) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func WithExtractor(e TextExtractor) Option {
	return func(s *Service) { s.extractor = e }
}

type Service struct {
	repo      ClaimRepository
	policies  PolicyLookup
	network   Network
	blobs     blobstore.BlobStore
	analyzer  Analyzer
	extractor TextExtractor
	publisher events.Publisher
	metrics   *metrics.Metrics
	now       func() time.Time
}

func NewService(repo ClaimRepository, policies PolicyLookup, network Network, blobs blobstore.BlobStore, analyzer Analyzer, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		policies: policies,
		network:  network,
		blobs:    blobs,
		analyzer: analyzer,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// -- Access --

func ownsClaim(caller auth.Identity, c *Claim) bool {
	return caller.IsHospital() && c.HospitalID == caller.HospitalID
}

// reviews reports whether caller is the insurer behind the claim's policy.
func reviews(caller auth.Identity, p *policies.Policy) bool {
	return p != nil && p.ReviewedBy(caller)
}

func (s *Service) policyOf(ctx context.Context, c *Claim) (*policies.Policy, error) {
	if c.PolicyID == nil {
		return nil, nil
	}
	p, err := s.policies.Lookup(ctx, *c.PolicyID)
	if apperr.KindOf(err) == apperr.KindNotFound {
		// The policy was deleted after the claim was filed.
		return nil, nil
	}
	return p, err
}

func (s *Service) load(ctx context.Context, id uuid.UUID) (*Claim, *policies.Policy, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	p, err := s.policyOf(ctx, c)
	if err != nil {
		return nil, nil, err
	}
	return c, p, nil
}

// checkPolicy validates a hospital's choice of policy for a claim. CASHLESS
// claims additionally need the acting hospital in the insurer's network.
func (s *Service) checkPolicy(ctx context.Context, caller auth.Identity, policyID *uuid.UUID, policyType string) error {
	if policyID == nil {
		return nil
	}
	p, err := s.policies.Lookup(ctx, *policyID)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindNotFound {
			return apperr.Validation("policy %s does not exist", policyID)
		}
		return err
	}
	visible, err := s.policies.CanView(ctx, caller, p)
	if err != nil {
		return err
	}
	if !visible {
		return apperr.Forbidden("policy %s is not available to this hospital", policyID)
	}
	if p.Status != policies.StatusActive {
		return apperr.Validation("policy %s is not active", policyID)
	}
	if policyType != TypeCashless {
		return nil
	}
	if p.InsurerID == nil {
		return apperr.Validation("cashless claims need a policy backed by an insurer")
	}
	linked, err := s.network.IsLinked(ctx, *p.InsurerID, caller.HospitalID)
	if err != nil {
		return err
	}
	if !linked {
		return apperr.Forbidden("hospital is not in the insurer's network for cashless claims")
	}
	return nil
}

// -- Lifecycle --

func (s *Service) Create(ctx context.Context, caller auth.Identity, req CreateClaimRequest) (*Claim, error) {
	if !caller.IsHospital() {
		return nil, apperr.Forbidden("only hospitals can create claims")
	}
	name := strings.TrimSpace(req.PatientName)
	if name == "" {
		return nil, apperr.Validation("patient_name is required")
	}
	if req.PolicyType != TypeCashless && req.PolicyType != TypeReimbursement {
		return nil, apperr.Validation("policy_type must be CASHLESS or REIMBURSEMENT")
	}
	if req.ClaimedAmount < 0 {
		return nil, apperr.Validation("claimed_amount must not be negative")
	}
	if err := s.checkPolicy(ctx, caller, req.PolicyID, req.PolicyType); err != nil {
		return nil, err
	}

	c := &Claim{
		PatientName:   name,
		PatientAge:    req.PatientAge,
		Diagnosis:     req.Diagnosis,
		TreatmentPlan: req.TreatmentPlan,
		ClaimedAmount: req.ClaimedAmount,
		HospitalID:    caller.HospitalID,
		PolicyID:      req.PolicyID,
		PolicyType:    req.PolicyType,
		Status:        StatusDraft,
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	s.metrics.ClaimTransition("", StatusDraft)
	s.publish(ctx, events.ClaimCreated, c, caller, nil)
	return c, nil
}

// Update edits a draft claim. Changing the policy or its type re-runs the
// policy checks done at creation.
func (s *Service) Update(ctx context.Context, caller auth.Identity, id uuid.UUID, req UpdateClaimRequest) (*Claim, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsClaim(caller, c) {
		return nil, apperr.Forbidden("claim belongs to another hospital")
	}
	if c.Status != StatusDraft {
		return nil, apperr.Conflict("only draft claims can be edited")
	}

	if req.PatientName != nil {
		name := strings.TrimSpace(*req.PatientName)
		if name == "" {
			return nil, apperr.Validation("patient_name must not be empty")
		}
		c.PatientName = name
	}
	if req.PatientAge != nil {
		c.PatientAge = *req.PatientAge
	}
	if req.Diagnosis != nil {
		c.Diagnosis = *req.Diagnosis
	}
	if req.TreatmentPlan != nil {
		c.TreatmentPlan = *req.TreatmentPlan
	}
	if req.ClaimedAmount != nil {
		if *req.ClaimedAmount < 0 {
			return nil, apperr.Validation("claimed_amount must not be negative")
		}
		c.ClaimedAmount = *req.ClaimedAmount
	}
	if req.PolicyID != nil || req.PolicyType != nil {
		if req.PolicyID != nil {
			c.PolicyID = req.PolicyID
		}
		if req.PolicyType != nil {
			if *req.PolicyType != TypeCashless && *req.PolicyType != TypeReimbursement {
				return nil, apperr.Validation("policy_type must be CASHLESS or REIMBURSEMENT")
			}
			c.PolicyType = *req.PolicyType
		}
		if err := s.checkPolicy(ctx, caller, c.PolicyID, c.PolicyType); err != nil {
			return nil, err
		}
	}

	updated, err := s.repo.UpdateDraft(ctx, c)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.ClaimUpdated, updated, caller, nil)
	return updated, nil
}

// UploadDocument stores a file and appends it to the claim under the
// document type the hospital declares.
func (s *Service) UploadDocument(ctx context.Context, caller auth.Identity, id uuid.UUID, declaredName string, file blobstore.File) (*Claim, error) {
	declaredName = strings.TrimSpace(declaredName)
	if declaredName == "" {
		return nil, apperr.Validation("declared_name is required")
	}
	if len(file.Data) == 0 {
		return nil, apperr.Validation("document is empty")
	}
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsClaim(caller, c) {
		return nil, apperr.Forbidden("claim belongs to another hospital")
	}
	if c.Terminal() {
		return nil, apperr.Conflict("claim is already decided")
	}

	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    file.Name,
		ContentType: file.ContentType,
		OwnerID:     c.ID.String(),
		Category:    blobstore.CategoryClaimDocument,
		CreatedBy:   caller.ActorID,
		Tags:        map[string]string{"declared_name": declaredName},
	}, bytes.NewReader(file.Data))
	if err != nil {
		if errors.Is(err, blobstore.ErrInvalidContentType) || errors.Is(err, blobstore.ErrFileTooLarge) || errors.Is(err, blobstore.ErrMissingFileName) {
			return nil, apperr.Validation("%v", err)
		}
		return nil, apperr.Wrap(err, apperr.KindInternal, "store claim document")
	}

	doc := documents.UploadedDocument{
		ID:            uuid.New(),
		DeclaredName:  declaredName,
		StorageHandle: meta.ID,
		FileName:      meta.FileName,
		ContentType:   meta.ContentType,
		UploadedAt:    s.now().UTC(),
	}
	if s.extractor != nil {
		if text := s.extractor.ExtractBytes(ctx, file.Name, file.ContentType, file.Data); text != "" {
			doc.ExtractedText = &text
		}
	}

	updated, err := s.repo.AppendDocument(ctx, c.ID, doc)
	if err != nil {
		_ = s.blobs.Delete(ctx, meta.ID)
		return nil, err
	}
	s.publish(ctx, events.ClaimDocumentUploaded, updated, caller, map[string]interface{}{
		"document_id":   doc.ID.String(),
		"declared_name": declaredName,
	})
	return updated, nil
}

// Analyze runs the AI assessment and folds it onto the claim. Backend
// trouble never fails the call; the degraded result is stored instead.
func (s *Service) Analyze(ctx context.Context, caller auth.Identity, id uuid.UUID) (*AnalyzeResponse, error) {
	c, p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case ownsClaim(caller, c):
	case reviews(caller, p) && c.Status != StatusDraft:
	default:
		return nil, apperr.Forbidden("you may not analyze this claim")
	}
	if c.Terminal() {
		return nil, apperr.Conflict("claim is already decided")
	}

	in := analyze.Input{
		ClaimID:       c.ID,
		Diagnosis:     c.Diagnosis,
		TreatmentPlan: c.TreatmentPlan,
		ClaimedAmount: c.ClaimedAmount,
		PolicyType:    c.PolicyType,
		Documents:     c.UploadedDocuments,
	}
	if p != nil {
		in.PolicyName = p.Name
		in.Coverage = p.CoverageDetails
		in.RequiredDocuments = p.RequiredDocuments
	}
	res := s.analyzer.Analyze(ctx, in)

	updated, err := s.repo.UpdateAnalysis(ctx, c.ID, res, s.now().UTC())
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.ClaimAnalyzed, updated, caller, map[string]interface{}{
		"score":    res.Score,
		"degraded": res.Degraded,
	})
	return &AnalyzeResponse{Claim: updated, Analysis: res, Degraded: res.Degraded}, nil
}

// SubmitForReview hands a draft to the insurer: CASHLESS claims become
// REVIEW_READY, reimbursement claims ANALYZED.
func (s *Service) SubmitForReview(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Claim, error) {
	c, p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ownsClaim(caller, c) {
		return nil, apperr.Forbidden("claim belongs to another hospital")
	}
	if c.Status != StatusDraft {
		return nil, apperr.Conflict("claim was already submitted")
	}
	if p == nil {
		return nil, apperr.Validation("a policy must be selected before submitting")
	}
	if p.InsurerID == nil {
		return nil, apperr.Validation("policy %s has no insurer to review the claim", p.ID)
	}

	to := SubmitTarget(c.PolicyType)
	updated, err := s.repo.UpdateStatus(ctx, c.ID, []string{StatusDraft}, to, nil)
	if err != nil {
		return nil, err
	}
	s.metrics.ClaimTransition(StatusDraft, to)
	s.publish(ctx, events.ClaimSubmitted, updated, caller, nil)
	return updated, nil
}

// Decide records the insurer's verdict. A rejection needs a reason.
func (s *Service) Decide(ctx context.Context, caller auth.Identity, id uuid.UUID, req DecisionRequest) (*Claim, error) {
	var reason *string
	switch req.Decision {
	case StatusApproved:
	case StatusRejected:
		r := strings.TrimSpace(req.Reason)
		if r == "" {
			return nil, apperr.Validation("a reason is required to reject a claim")
		}
		reason = &r
	default:
		return nil, apperr.Validation("decision must be APPROVED or REJECTED")
	}

	c, p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !reviews(caller, p) {
		return nil, apperr.Forbidden("only the insurer behind the claim's policy can decide it")
	}
	if c.Status != StatusReviewReady && c.Status != StatusAnalyzed {
		return nil, apperr.Conflict("claim in status %s cannot be decided", c.Status)
	}

	updated, err := s.repo.UpdateStatus(ctx, c.ID, reviewable, req.Decision, reason)
	if err != nil {
		return nil, err
	}
	s.metrics.ClaimTransition(c.Status, req.Decision)
	s.publish(ctx, events.ClaimDecided, updated, caller, nil)
	return updated, nil
}

// Delete removes a claim and, best effort, its stored documents.
func (s *Service) Delete(ctx context.Context, caller auth.Identity, id uuid.UUID) error {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !ownsClaim(caller, c) && !caller.IsAdmin() {
		return apperr.Forbidden("claim belongs to another hospital")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	for _, d := range c.UploadedDocuments {
		_ = s.blobs.Delete(ctx, d.StorageHandle)
	}
	s.publish(ctx, events.ClaimDeleted, c, caller, nil)
	return nil
}

// -- Queries --

// List is role-scoped: hospitals see their own claims, insurers the
// non-draft claims under policies they review, admins nothing.
func (s *Service) List(ctx context.Context, caller auth.Identity, status string, limit, offset int) ([]*Claim, int, error) {
	f := ListFilter{Status: status}
	switch {
	case caller.IsHospital():
		f.HospitalID = &caller.HospitalID
	case caller.IsInsurer():
		if status == StatusDraft {
			return []*Claim{}, 0, nil
		}
		f.InsurerID = &caller.InsurerID
		f.ExcludeDraft = true
	default:
		return []*Claim{}, 0, nil
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	if items == nil {
		items = []*Claim{}
	}
	return items, total, nil
}

// GetDetail returns the claim with its policy and the reconciliation of
// uploads against the policy's checklist.
func (s *Service) GetDetail(ctx context.Context, caller auth.Identity, id uuid.UUID) (*Detail, error) {
	c, p, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case ownsClaim(caller, c):
	case reviews(caller, p) && c.Status != StatusDraft:
	default:
		return nil, apperr.Forbidden("you do not have access to this claim")
	}

	var required []documents.RequiredDocument
	if p != nil {
		required = p.RequiredDocuments
	}
	rec := documents.Reconcile(required, c.UploadedDocuments)
	return &Detail{
		Claim:             c,
		Policy:            p,
		RequiredDocuments: nonNilDocs(required),
		MissingDocuments:  nonNilDocs(rec.Missing),
		PresentDocuments:  nonNilDocs(rec.Present),
		Complete:          rec.Complete(),
	}, nil
}

func (s *Service) publish(ctx context.Context, eventType string, c *Claim, caller auth.Identity, data map[string]interface{}) {
	if s.publisher == nil {
		return
	}
	e := events.New(eventType, c.ID, c.HospitalID, caller.ActorID)
	e.PolicyID = c.PolicyID
	e.Status = c.Status
	e.Data = data
	s.metrics.EventPublished(eventType, s.publisher.Publish(ctx, e))
}

func nonNilDocs(docs []documents.RequiredDocument) []documents.RequiredDocument {
	if docs == nil {
		return []documents.RequiredDocument{}
	}
	return docs
}
