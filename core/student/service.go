package student

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/user"
)

var (
	// errors
	ErrNotFound          = errors.New("student not found")
	ErrAdmissionNoExists = errors.New("a student with this admission number already exists in this school")
)

type (
	Repository interface {
		// CheckAdmissionNoUniqueness enforces per-tenant uniqueness of the
		// admission number.
		CheckAdmissionNoUniqueness(ctx context.Context, tenantID, admissionNo string, excluded ...Student) error
		CreateStudent(ctx context.Context, s Student) (Student, error)
		GetStudentByID(ctx context.Context, tenantID, id string) (Student, error)
		FilterStudents(ctx context.Context, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]Student, error)
		UpdateStudent(ctx context.Context, s Student, isActive *bool) (Student, error)
	}

	// Service gates every student operation through an authorization
	// decision; every decision is audited, allowed or not.
	Service struct {
		repo     Repository
		engine   *authz.Engine
		recorder *audit.Recorder
	}
)

func NewService(repo Repository, engine *authz.Engine, recorder *audit.Recorder) *Service {
	return &Service{repo: repo, engine: engine, recorder: recorder}
}

func (svc *Service) authorize(principal user.User, action authz.Action, tenantID, resID string, owners ...string) error {
	d := svc.engine.Authorize(principal, action, authz.ResourceStudent, tenantID, owners...)
	svc.recorder.Decision(principal.ID, tenantID, action, authz.ResourceStudent, resID, d)
	if !d.Allowed {
		return authz.ErrPermissionDenied
	}
	return nil
}

func (svc *Service) Create(ctx context.Context, principal user.User, tenantID string, ns NewStudent) (Student, error) {
	if err := svc.authorize(principal, authz.ActionCreate, tenantID, ""); err != nil {
		return Student{}, err
	}
	if err := svc.repo.CheckAdmissionNoUniqueness(ctx, tenantID, ns.AdmissionNo); err != nil {
		if errors.Cause(err) == ErrAdmissionNoExists {
			return Student{}, core.NewValidationError(err, core.FieldError{Field: "admission_no", Error: err.Error()})
		}
		return Student{}, err
	}

	now := time.Now().UTC()
	s := Student{
		TenantID:    tenantID, // always the resolved tenant, never client input
		Name:        ns.Name,
		AdmissionNo: ns.AdmissionNo,
		ClassName:   ns.ClassName,
		OwnerID:     principal.ID,
		GuardianID:  ns.GuardianID,
		UserID:      ns.UserID,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	return svc.repo.CreateStudent(ctx, s)
}

func (svc *Service) GetByID(ctx context.Context, principal user.User, tenantID, id string) (Student, error) {
	s, err := svc.repo.GetStudentByID(ctx, tenantID, id)
	if err != nil {
		return Student{}, err
	}
	if err = svc.authorize(principal, authz.ActionRead, s.TenantID, s.ID, s.owners()...); err != nil {
		return Student{}, err
	}
	return s, nil
}

func (svc *Service) Filter(ctx context.Context, principal user.User, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]Student, error) {
	if err := svc.authorize(principal, authz.ActionRead, tenantID, ""); err != nil {
		return nil, err
	}
	return svc.repo.FilterStudents(ctx, tenantID, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, principal user.User, tenantID, id string, us UpdateStudent) (Student, error) {
	orig, err := svc.repo.GetStudentByID(ctx, tenantID, id)
	if err != nil {
		return Student{}, err
	}
	if err = svc.authorize(principal, authz.ActionUpdate, orig.TenantID, orig.ID, orig.owners()...); err != nil {
		return Student{}, err
	}

	s := orig
	s.Name = us.Name
	s.ClassName = us.ClassName
	if us.GuardianID != "" {
		s.GuardianID = us.GuardianID
	}
	s.UpdatedAt = time.Now().UTC()
	return svc.repo.UpdateStudent(ctx, s, nil)
}

// Delete soft-deletes a student; enrollment records are never hard-deleted.
func (svc *Service) Delete(ctx context.Context, principal user.User, tenantID, id string) error {
	s, err := svc.repo.GetStudentByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	if err = svc.authorize(principal, authz.ActionDelete, s.TenantID, s.ID, s.owners()...); err != nil {
		return err
	}
	isActive := false
	s.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateStudent(ctx, s, &isActive)
	return err
}
