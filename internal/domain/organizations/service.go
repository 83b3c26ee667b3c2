package organizations

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/claimdesk/claimdesk/internal/platform/auth"
	"github.com/claimdesk/claimdesk/internal/platform/db"
	"github.com/claimdesk/claimdesk/pkg/apperr"
)

// AdminAccounts creates the login account of an organization's administrator.
type AdminAccounts interface {
	CreateOrgAdmin(ctx context.Context, username, password, role string, orgID uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	hospitals HospitalRepository
	insurers  InsurerRepository
	network   NetworkRepository
	accounts  AdminAccounts
	tx        db.Beginner
}

func NewService(hospitals HospitalRepository, insurers InsurerRepository, network NetworkRepository, accounts AdminAccounts) *Service {
	return &Service{hospitals: hospitals, insurers: insurers, network: network, accounts: accounts}
}

// SetTxBeginner makes onboarding atomic. Without it each write commits on
// its own.
func (s *Service) SetTxBeginner(b db.Beginner) {
	s.tx = b
}

func (s *Service) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.tx == nil {
		return fn(ctx)
	}
	return db.WithTx(ctx, s.tx, fn)
}

func validateAdmin(a OrgAdmin) error {
	if a.Username == "" && a.Password == "" {
		return nil
	}
	if strings.TrimSpace(a.Username) == "" || a.Password == "" {
		return apperr.Validation("admin_username and admin_password must be given together")
	}
	return nil
}

// -- Hospital --

func (s *Service) CreateHospital(ctx context.Context, req CreateHospitalRequest) (*Hospital, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("hospital name is required")
	}
	if err := validateAdmin(req.OrgAdmin); err != nil {
		return nil, err
	}

	h := &Hospital{Name: name, Address: req.Address, ContactInfo: req.ContactInfo}
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.hospitals.Create(ctx, h); err != nil {
			return err
		}
		if req.Username == "" {
			return nil
		}
		userID, err := s.accounts.CreateOrgAdmin(ctx, req.Username, req.Password, auth.RoleHospital, h.ID)
		if err != nil {
			return err
		}
		h.AdminUserID = &userID
		return s.hospitals.SetAdmin(ctx, h.ID, userID)
	})
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) GetHospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	return s.hospitals.GetByID(ctx, id)
}

func (s *Service) ListHospitals(ctx context.Context, limit, offset int) ([]*Hospital, int, error) {
	return s.hospitals.List(ctx, limit, offset)
}

func (s *Service) DeleteHospital(ctx context.Context, id uuid.UUID) error {
	return s.hospitals.Delete(ctx, id)
}

// -- Insurance company --

func (s *Service) CreateInsurer(ctx context.Context, req CreateInsurerRequest) (*InsuranceCompany, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperr.Validation("insurance company name is required")
	}
	if err := validateAdmin(req.OrgAdmin); err != nil {
		return nil, err
	}

	ic := &InsuranceCompany{Name: name, ContactInfo: req.ContactInfo}
	err := s.inTx(ctx, func(ctx context.Context) error {
		if err := s.insurers.Create(ctx, ic); err != nil {
			return err
		}
		if req.Username == "" {
			return nil
		}
		userID, err := s.accounts.CreateOrgAdmin(ctx, req.Username, req.Password, auth.RoleInsurer, ic.ID)
		if err != nil {
			return err
		}
		ic.AdminUserID = &userID
		return s.insurers.SetAdmin(ctx, ic.ID, userID)
	})
	if err != nil {
		return nil, err
	}
	return ic, nil
}

func (s *Service) GetInsurer(ctx context.Context, id uuid.UUID) (*InsuranceCompany, error) {
	return s.insurers.GetByID(ctx, id)
}

func (s *Service) ListInsurers(ctx context.Context, limit, offset int) ([]*InsuranceCompany, int, error) {
	return s.insurers.List(ctx, limit, offset)
}

func (s *Service) DeleteInsurer(ctx context.Context, id uuid.UUID) error {
	return s.insurers.Delete(ctx, id)
}

// -- Network --

// LinkHospitals adds hospitals to an insurer's network. Existing links are
// kept; unknown hospitals fail the whole call.
func (s *Service) LinkHospitals(ctx context.Context, insurerID uuid.UUID, hospitalIDs []uuid.UUID) error {
	if len(hospitalIDs) == 0 {
		return apperr.Validation("hospital_ids must not be empty")
	}
	return s.inTx(ctx, func(ctx context.Context) error {
		if _, err := s.insurers.GetByID(ctx, insurerID); err != nil {
			return err
		}
		for _, hid := range hospitalIDs {
			if hid == uuid.Nil {
				return apperr.Validation("hospital_ids contains an empty id")
			}
			if _, err := s.hospitals.GetByID(ctx, hid); err != nil {
				return err
			}
			if err := s.network.Link(ctx, insurerID, hid); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Service) UnlinkHospital(ctx context.Context, insurerID, hospitalID uuid.UUID) error {
	return s.network.Unlink(ctx, insurerID, hospitalID)
}

func (s *Service) HospitalsForInsurer(ctx context.Context, insurerID uuid.UUID) ([]*Hospital, error) {
	return s.network.HospitalsForInsurer(ctx, insurerID)
}

// HospitalIDsForInsurer is the derived eligible-hospital view of a policy.
func (s *Service) HospitalIDsForInsurer(ctx context.Context, insurerID uuid.UUID) ([]uuid.UUID, error) {
	hospitals, err := s.network.HospitalsForInsurer(ctx, insurerID)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(hospitals))
	for _, h := range hospitals {
		ids = append(ids, h.ID)
	}
	return ids, nil
}

func (s *Service) InsurersForHospital(ctx context.Context, hospitalID uuid.UUID) ([]*InsuranceCompany, error) {
	return s.network.InsurersForHospital(ctx, hospitalID)
}

func (s *Service) IsLinked(ctx context.Context, insurerID, hospitalID uuid.UUID) (bool, error) {
	return s.network.IsLinked(ctx, insurerID, hospitalID)
}
