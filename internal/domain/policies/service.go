package policies

import (
	"bytes"
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/domain/documents"
	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/blobstore"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

// Network answers questions about insurer/hospital linkage. It is satisfied
// by *organizations.Service.
type Network interface {
	IsLinked(ctx context.Context, insurerID, hospitalID uuid.UUID) (bool, error)
	HospitalIDsForInsurer(ctx context.Context, insurerID uuid.UUID) ([]uuid.UUID, error)
	LinkHospitals(ctx context.Context, insurerID uuid.UUID, hospitalIDs []uuid.UUID) error
}

// Suggester turns policy text into a required-document checklist.
type Suggester interface {
	Synthesize(ctx context.Context, text string) []documents.RequiredDocument
}

// TextExtractor pulls readable text out of an uploaded file.
type TextExtractor interface {
	ExtractBytes(ctx context.Context, name, contentType string, data []byte) string
}

type Service struct {
	repo      PolicyRepository
	network   Network
	blobs     blobstore.BlobStore
	suggester Suggester
	extractor TextExtractor
}

func NewService(repo PolicyRepository, network Network, blobs blobstore.BlobStore, suggester Suggester, extractor TextExtractor) *Service {
	return &Service{repo: repo, network: network, blobs: blobs, suggester: suggester, extractor: extractor}
}

// -- Insurer --

func (s *Service) CreateInsurerPolicy(ctx context.Context, caller auth.Identity, req CreateInsurerPolicyRequest) (*Policy, error) {
	if !caller.IsInsurer() {
		return nil, apperr.Forbidden("only insurers can issue policies")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("policy name is required")
	}
	insurerID := caller.InsurerID
	p := &Policy{
		Name:              name,
		OwnerKind:         OwnerInsurer,
		InsurerID:         &insurerID,
		CoverageDetails:   req.CoverageDetails,
		RequiredDocuments: documents.MergeRequired(req.RequiredDocuments),
		Notes:             req.Notes,
		Status:            StatusActive,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, s.fillEligible(ctx, p)
}

func (s *Service) ListForInsurer(ctx context.Context, insurerID uuid.UUID, limit, offset int) ([]*Policy, int, error) {
	items, total, err := s.repo.ListByInsurer(ctx, insurerID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	eligible, err := s.network.HospitalIDsForInsurer(ctx, insurerID)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range items {
		p.EligibleHospitalIDs = eligible
	}
	return items, total, nil
}

// LinkHospitals adds hospitals to the network behind an insurer-owned policy.
// Linkage is per insurer, so every policy of that insurer becomes eligible.
func (s *Service) LinkHospitals(ctx context.Context, caller auth.Identity, policyID uuid.UUID, hospitalIDs []uuid.UUID) (*Policy, error) {
	p, err := s.repo.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if p.OwnerKind != OwnerInsurer || !p.OwnedBy(caller) {
		return nil, apperr.Forbidden("policy is not issued by your organization")
	}
	if err := s.network.LinkHospitals(ctx, caller.InsurerID, hospitalIDs); err != nil {
		return nil, err
	}
	return p, s.fillEligible(ctx, p)
}

// -- Hospital --

// CreateHospitalPolicy stores an uploaded policy document and drafts its
// required-document checklist from the extracted text. The policy stays DRAFT
// until the hospital finalizes the checklist.
func (s *Service) CreateHospitalPolicy(ctx context.Context, caller auth.Identity, name string, insurerID *uuid.UUID, file blobstore.File) (*Policy, error) {
	if !caller.IsHospital() {
		return nil, apperr.Forbidden("only hospitals can register their own policies")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("policy name is required")
	}
	if len(file.Data) == 0 {
		return nil, apperr.Validation("policy document is required")
	}
	if insurerID != nil {
		linked, err := s.network.IsLinked(ctx, *insurerID, caller.HospitalID)
		if err != nil {
			return nil, err
		}
		if !linked {
			return nil, apperr.Validation("insurer %s is not linked to this hospital", insurerID)
		}
	}

	meta, err := s.store(ctx, caller, blobstore.CategoryPolicyDocument, caller.HospitalID.String(), file)
	if err != nil {
		return nil, err
	}
	text := s.extract(ctx, file)

	hospitalID := caller.HospitalID
	p := &Policy{
		Name:              name,
		OwnerKind:         OwnerHospital,
		InsurerID:         insurerID,
		HospitalID:        &hospitalID,
		RequiredDocuments: documents.MergeRequired(s.suggest(ctx, text)),
		DocumentHandle:    meta.ID,
		PolicyText:        text,
		Status:            StatusDraft,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		_ = s.blobs.Delete(context.WithoutCancel(ctx), meta.ID)
		return nil, err
	}
	p.EligibleHospitalIDs = []uuid.UUID{hospitalID}
	return p, nil
}

func (s *Service) ListForHospital(ctx context.Context, hospitalID uuid.UUID, limit, offset int) ([]*Policy, int, error) {
	items, total, err := s.repo.ListForHospital(ctx, hospitalID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, p := range items {
		if p.OwnerKind == OwnerHospital {
			p.EligibleHospitalIDs = []uuid.UUID{hospitalID}
		}
	}
	return items, total, nil
}

// FinalizePolicy replaces the checklist of a hospital-owned policy and
// activates it. An empty list keeps the drafted checklist.
func (s *Service) FinalizePolicy(ctx context.Context, caller auth.Identity, policyID uuid.UUID, docs []documents.RequiredDocument) (*Policy, error) {
	p, err := s.repo.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if p.OwnerKind != OwnerHospital || !p.OwnedBy(caller) {
		return nil, apperr.Forbidden("policy is not owned by your hospital")
	}
	if len(docs) > 0 {
		p.RequiredDocuments = documents.MergeRequired(docs)
	}
	p.Status = StatusActive
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, s.fillEligible(ctx, p)
}

// -- Shared --

// Update applies a partial update. Only the owning organization may edit.
func (s *Service) Update(ctx context.Context, caller auth.Identity, policyID uuid.UUID, req UpdatePolicyRequest) (*Policy, error) {
	p, err := s.repo.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	if !p.OwnedBy(caller) {
		return nil, apperr.Forbidden("policy is not owned by your organization")
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperr.Validation("policy name must not be empty")
		}
		p.Name = name
	}
	if req.CoverageDetails != nil {
		p.CoverageDetails = *req.CoverageDetails
	}
	if req.RequiredDocuments != nil {
		p.RequiredDocuments = documents.MergeRequired(*req.RequiredDocuments)
	}
	if req.Notes != nil {
		p.Notes = *req.Notes
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return nil, err
	}
	return p, s.fillEligible(ctx, p)
}

// Get returns a policy the caller may see: its owner, the insurer reviewing
// claims under it, or a hospital eligible for it.
func (s *Service) Get(ctx context.Context, caller auth.Identity, policyID uuid.UUID) (*Policy, error) {
	p, err := s.repo.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	ok, err := s.CanView(ctx, caller, p)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Forbidden("you do not have access to this policy")
	}
	return p, s.fillEligible(ctx, p)
}

// Lookup loads a policy without an access check, for use by other services.
func (s *Service) Lookup(ctx context.Context, policyID uuid.UUID) (*Policy, error) {
	p, err := s.repo.GetByID(ctx, policyID)
	if err != nil {
		return nil, err
	}
	return p, s.fillEligible(ctx, p)
}

func (s *Service) CanView(ctx context.Context, caller auth.Identity, p *Policy) (bool, error) {
	if p.OwnedBy(caller) || p.ReviewedBy(caller) {
		return true, nil
	}
	if caller.IsHospital() && p.OwnerKind == OwnerInsurer && p.InsurerID != nil {
		return s.network.IsLinked(ctx, *p.InsurerID, caller.HospitalID)
	}
	return false, nil
}

// Suggest synthesizes a checklist from an uploaded file or from raw text.
func (s *Service) Suggest(ctx context.Context, file *blobstore.File, text string) SuggestResponse {
	if file != nil && len(file.Data) > 0 {
		text = s.extract(ctx, *file)
	}
	return SuggestResponse{
		RequiredDocuments: documents.MergeRequired(s.suggest(ctx, text)),
		ExtractedChars:    len([]rune(text)),
	}
}

func (s *Service) fillEligible(ctx context.Context, p *Policy) error {
	switch p.OwnerKind {
	case OwnerHospital:
		p.EligibleHospitalIDs = []uuid.UUID{*p.HospitalID}
	case OwnerInsurer:
		ids, err := s.network.HospitalIDsForInsurer(ctx, *p.InsurerID)
		if err != nil {
			return err
		}
		p.EligibleHospitalIDs = ids
	}
	return nil
}

func (s *Service) store(ctx context.Context, caller auth.Identity, category, owner string, file blobstore.File) (*blobstore.BlobMetadata, error) {
	meta, err := s.blobs.Upload(ctx, blobstore.BlobMetadata{
		FileName:    file.Name,
		ContentType: file.ContentType,
		OwnerID:     owner,
		Category:    category,
		CreatedBy:   caller.ActorID,
	}, bytes.NewReader(file.Data))
	switch {
	case err == nil:
		return meta, nil
	case errors.Is(err, blobstore.ErrInvalidContentType),
		errors.Is(err, blobstore.ErrFileTooLarge),
		errors.Is(err, blobstore.ErrMissingFileName):
		return nil, apperr.Validation("%v", err)
	default:
		return nil, apperr.Wrap(err, apperr.KindInternal, "store policy document")
	}
}

func (s *Service) extract(ctx context.Context, file blobstore.File) string {
	if s.extractor == nil {
		return ""
	}
	return s.extractor.ExtractBytes(ctx, file.Name, file.ContentType, file.Data)
}

func (s *Service) suggest(ctx context.Context, text string) []documents.RequiredDocument {
	if s.suggester == nil {
		return documents.FallbackRequiredDocuments()
	}
	return s.suggester.Synthesize(ctx, text)
}
