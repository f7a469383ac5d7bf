package student

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
)

type (
	// Student is a tenant-owned enrollment record. OwnerID is the staff user
	// who registered the student; GuardianID and UserID are the parent and
	// the student's own accounts, used for ownership-scoped reads.
	Student struct {
		ID          string    `json:"id"`
		TenantID    string    `json:"tenant_id"`
		Name        string    `json:"name"`
		AdmissionNo string    `json:"admission_no"`
		ClassName   string    `json:"class_name"`
		OwnerID     string    `json:"owner_id,omitempty"`
		GuardianID  string    `json:"guardian_id,omitempty"`
		UserID      string    `json:"user_id,omitempty"`
		IsActive    bool      `json:"is_active"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	NewStudent struct {
		Name        string `json:"name" validate:"required"`
		AdmissionNo string `json:"admission_no" validate:"required,alphanum_"`
		ClassName   string `json:"class_name" validate:"required"`
		GuardianID  string `json:"guardian_id"`
		UserID      string `json:"user_id"`
	}

	UpdateStudent struct {
		Name       string `json:"name" validate:"required"`
		ClassName  string `json:"class_name" validate:"required"`
		GuardianID string `json:"guardian_id"`
	}

	QueryFilter struct {
		Search    string `query:"search"`
		ClassName string `query:"class_name"`
		IsActive  *bool  `query:"is_active"`
	}
)

// owners returns every principal with an ownership claim on the record.
func (s Student) owners() []string {
	return []string{s.OwnerID, s.GuardianID, s.UserID}
}

func (ns *NewStudent) Validate(ctx context.Context) error {
	ns.Name = core.CleanString(ns.Name)
	ns.AdmissionNo = core.CleanString(ns.AdmissionNo, true /* lower */)
	ns.ClassName = core.CleanString(ns.ClassName)
	if err := core.Validate.StructCtx(ctx, ns); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}

func (us *UpdateStudent) Validate(ctx context.Context) error {
	us.Name = core.CleanString(us.Name)
	us.ClassName = core.CleanString(us.ClassName)
	if err := core.Validate.StructCtx(ctx, us); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}

func (f QueryFilter) IsEmpty() bool {
	return f.Search == "" && f.ClassName == "" && f.IsActive == nil
}

func (f *QueryFilter) Clean() {
	f.Search = core.CleanString(f.Search, true /* lower */)
	f.ClassName = core.CleanString(f.ClassName)
}
