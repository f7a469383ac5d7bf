package fee

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

var ErrNotFound = errors.New("fee not found")

type (
	Repository interface {
		CreateFee(ctx context.Context, f Fee) (Fee, error)
		GetFeeByID(ctx context.Context, tenantID, id string) (Fee, error)
		FilterFees(ctx context.Context, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]Fee, error)
		UpdateFee(ctx context.Context, f Fee) (Fee, error)
		DeleteFee(ctx context.Context, tenantID, id string) error
	}

	// Service gates every fee operation through an authorization decision.
	// Ownership of a fee follows the student it is attached to: the parent
	// and the student's own account may read their own fees.
	Service struct {
		repo        Repository
		studentRepo student.Repository
		engine      *authz.Engine
		recorder    *audit.Recorder
	}
)

func NewService(repo Repository, studentRepo student.Repository, engine *authz.Engine, recorder *audit.Recorder) *Service {
	return &Service{repo: repo, studentRepo: studentRepo, engine: engine, recorder: recorder}
}

func (svc *Service) authorize(principal user.User, action authz.Action, tenantID, resID string, owners ...string) error {
	d := svc.engine.Authorize(principal, action, authz.ResourceFee, tenantID, owners...)
	svc.recorder.Decision(principal.ID, tenantID, action, authz.ResourceFee, resID, d)
	if !d.Allowed {
		return authz.ErrPermissionDenied
	}
	return nil
}

// owners resolves the ownership claims on a fee via its student record.
func (svc *Service) owners(ctx context.Context, f Fee) []string {
	s, err := svc.studentRepo.GetStudentByID(ctx, f.TenantID, f.StudentID)
	if err != nil {
		return nil
	}
	return []string{s.GuardianID, s.UserID}
}

func (svc *Service) Create(ctx context.Context, principal user.User, tenantID string, nf NewFee) (Fee, error) {
	if err := svc.authorize(principal, authz.ActionCreate, tenantID, ""); err != nil {
		return Fee{}, err
	}
	if _, err := svc.studentRepo.GetStudentByID(ctx, tenantID, nf.StudentID); err != nil {
		if errors.Cause(err) == student.ErrNotFound {
			return Fee{}, core.NewValidationError(err, core.FieldError{Field: "student_id", Error: err.Error()})
		}
		return Fee{}, err
	}

	now := time.Now().UTC()
	f := Fee{
		TenantID:    tenantID, // always the resolved tenant, never client input
		StudentID:   nf.StudentID,
		Description: nf.Description,
		AmountCents: nf.AmountCents,
		Currency:    nf.Currency,
		Status:      StatusPending,
		DueDate:     nf.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateFee(ctx, f)
}

func (svc *Service) GetByID(ctx context.Context, principal user.User, tenantID, id string) (Fee, error) {
	f, err := svc.repo.GetFeeByID(ctx, tenantID, id)
	if err != nil {
		return Fee{}, err
	}
	if err = svc.authorize(principal, authz.ActionRead, f.TenantID, f.ID, svc.owners(ctx, f)...); err != nil {
		return Fee{}, err
	}
	return f, nil
}

func (svc *Service) Filter(ctx context.Context, principal user.User, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]Fee, error) {
	if err := svc.authorize(principal, authz.ActionRead, tenantID, ""); err != nil {
		return nil, err
	}
	return svc.repo.FilterFees(ctx, tenantID, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, principal user.User, tenantID, id string, uf UpdateFee) (Fee, error) {
	orig, err := svc.repo.GetFeeByID(ctx, tenantID, id)
	if err != nil {
		return Fee{}, err
	}
	if err = svc.authorize(principal, authz.ActionUpdate, orig.TenantID, orig.ID); err != nil {
		return Fee{}, err
	}

	f := orig
	f.Description = uf.Description
	f.AmountCents = uf.AmountCents
	f.PaidCents = uf.PaidCents
	f.Status = uf.Status
	f.DueDate = uf.DueDate
	f.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateFee(ctx, f)
}

func (svc *Service) Delete(ctx context.Context, principal user.User, tenantID, id string) error {
	f, err := svc.repo.GetFeeByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err = svc.authorize(principal, authz.ActionDelete, f.TenantID, f.ID); err != nil {
		return err
	}
	return svc.repo.DeleteFee(ctx, f.TenantID, f.ID)
}
