package fee

import (
	"context"
	"time"

	"github.com/trezcool/shule/core"
)

// payment statuses
const (
	StatusPending = "pending"
	StatusPartial = "partial"
	StatusPaid    = "paid"
	StatusWaived  = "waived"
)

var allStatuses = []string{StatusPending, StatusPartial, StatusPaid, StatusWaived}

type (
	// Fee is a tenant-owned billing record attached to a student. Amounts
	// are kept in minor units (cents) to avoid float arithmetic.
	Fee struct {
		ID          string    `json:"id"`
		TenantID    string    `json:"tenant_id"`
		StudentID   string    `json:"student_id"`
		Description string    `json:"description"`
		AmountCents int64     `json:"amount_cents"`
		PaidCents   int64     `json:"paid_cents"`
		Currency    string    `json:"currency"`
		Status      string    `json:"status"`
		DueDate     time.Time `json:"due_date"`
		CreatedAt   time.Time `json:"created_at"`
		UpdatedAt   time.Time `json:"updated_at"`
	}

	NewFee struct {
		StudentID   string    `json:"student_id" validate:"required"`
		Description string    `json:"description" validate:"required"`
		AmountCents int64     `json:"amount_cents" validate:"required,gt=0"`
		Currency    string    `json:"currency" validate:"required,len=3,alpha"`
		DueDate     time.Time `json:"due_date" validate:"required"`
	}

	UpdateFee struct {
		Description string    `json:"description" validate:"required"`
		AmountCents int64     `json:"amount_cents" validate:"required,gt=0"`
		PaidCents   int64     `json:"paid_cents" validate:"gte=0"`
		Status      string    `json:"status" validate:"required,feestatus"`
		DueDate     time.Time `json:"due_date" validate:"required"`
	}

	QueryFilter struct {
		StudentID string    `query:"student_id"`
		Status    string    `query:"status"`
		DueFrom   time.Time `query:"due_from"`
		DueTo     time.Time `query:"due_to"`
	}
)

func (nf *NewFee) Validate(ctx context.Context) error {
	nf.Description = core.CleanString(nf.Description)
	nf.Currency = core.CleanString(nf.Currency, true /* lower */)
	if err := core.Validate.StructCtx(ctx, nf); err != nil {
		return core.NewValidationError(err)
	}
	return nil
}

func (uf *UpdateFee) Validate(ctx context.Context) error {
	uf.Description = core.CleanString(uf.Description)
	uf.Status = core.CleanString(uf.Status, true /* lower */)
	if err := core.Validate.StructCtx(ctx, uf); err != nil {
		return core.NewValidationError(err)
	}
	if uf.PaidCents > uf.AmountCents {
		return core.NewValidationError(nil, core.FieldError{Field: "paid_cents", Error: "paid amount exceeds the fee amount"})
	}
	return nil
}

func (f QueryFilter) IsEmpty() bool {
	return f.StudentID == "" && f.Status == "" && f.DueFrom.IsZero() && f.DueTo.IsZero()
}

func (f *QueryFilter) Clean() {
	f.Status = core.CleanString(f.Status, true /* lower */)
}
