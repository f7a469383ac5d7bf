package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/fee"
)

const (
	feeTable = "fees"

	feeColumns = `id, tenant_id, student_id, description, amount_cents, paid_cents,
		currency, status, due_date, created_at, updated_at`
)

type feeRow struct {
	ID          string    `db:"id"`
	TenantID    string    `db:"tenant_id"`
	StudentID   string    `db:"student_id"`
	Description string    `db:"description"`
	AmountCents int64     `db:"amount_cents"`
	PaidCents   int64     `db:"paid_cents"`
	Currency    string    `db:"currency"`
	Status      string    `db:"status"`
	DueDate     time.Time `db:"due_date"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r feeRow) toFee() fee.Fee {
	return fee.Fee{
		ID:          r.ID,
		TenantID:    r.TenantID,
		StudentID:   r.StudentID,
		Description: r.Description,
		AmountCents: r.AmountCents,
		PaidCents:   r.PaidCents,
		Currency:    strings.TrimSpace(r.Currency),
		Status:      r.Status,
		DueDate:     r.DueDate,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type feeRepository struct {
	gw *Gateway
}

var _ fee.Repository = (*feeRepository)(nil) // interface compliance check

func NewFeeRepository(gw *Gateway) *feeRepository {
	return &feeRepository{gw: gw}
}

// trapNoRowsErr maps psql "no rows" err to fee.ErrNotFound
func (repo feeRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return fee.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo feeRepository) CreateFee(ctx context.Context, f fee.Fee) (fee.Fee, error) {
	f.ID = uuid.New().String()
	err := repo.gw.Insert(ctx, f.TenantID, feeTable, map[string]interface{}{
		"id":           f.ID,
		"student_id":   f.StudentID,
		"description":  f.Description,
		"amount_cents": f.AmountCents,
		"paid_cents":   f.PaidCents,
		"currency":     f.Currency,
		"status":       f.Status,
		"due_date":     f.DueDate,
		"created_at":   f.CreatedAt,
		"updated_at":   f.UpdatedAt,
	})
	if err != nil {
		return fee.Fee{}, errors.Wrap(err, "inserting fee")
	}
	return f, nil
}

func (repo feeRepository) GetFeeByID(ctx context.Context, tenantID, id string) (fee.Fee, error) {
	if _, err := uuid.Parse(id); err != nil {
		return fee.Fee{}, fee.ErrNotFound
	}
	var row feeRow
	if err := repo.gw.Get(ctx, &row, tenantID, feeTable, feeColumns, "id = ?", id); err != nil {
		return fee.Fee{}, repo.trapNoRowsErr(err, "finding fee by ID")
	}
	return row.toFee(), nil
}

func (repo feeRepository) FilterFees(ctx context.Context, tenantID string, filter fee.QueryFilter, ordering []core.DBOrdering) ([]fee.Fee, error) {
	var (
		preds []string
		args  []interface{}
	)
	if filter.StudentID != "" {
		preds = append(preds, "student_id = ?")
		args = append(args, filter.StudentID)
	}
	if filter.Status != "" {
		preds = append(preds, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.DueFrom.IsZero() {
		preds = append(preds, "due_date >= ?")
		args = append(args, filter.DueFrom.UTC())
	}
	if !filter.DueTo.IsZero() {
		preds = append(preds, "due_date <= ?")
		args = append(args, filter.DueTo.UTC())
	}

	orderBy := OrderBy(ordering)
	if orderBy == "" {
		orderBy = "due_date ASC"
	}

	var rows []feeRow
	err := repo.gw.Select(ctx, &rows, tenantID, feeTable, feeColumns, strings.Join(preds, " AND "), orderBy, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying fees")
	}
	fees := make([]fee.Fee, 0, len(rows))
	for _, row := range rows {
		fees = append(fees, row.toFee())
	}
	return fees, nil
}

func (repo feeRepository) UpdateFee(ctx context.Context, f fee.Fee) (fee.Fee, error) {
	set := map[string]interface{}{
		"description":  f.Description,
		"amount_cents": f.AmountCents,
		"paid_cents":   f.PaidCents,
		"status":       f.Status,
		"due_date":     f.DueDate,
		"updated_at":   f.UpdatedAt,
	}
	if err := repo.gw.Update(ctx, f.TenantID, feeTable, set, "id = ?", f.ID); err != nil {
		return fee.Fee{}, repo.trapNoRowsErr(err, "updating fee")
	}
	return f, nil
}

func (repo feeRepository) DeleteFee(ctx context.Context, tenantID, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fee.ErrNotFound
	}
	if err := repo.gw.Delete(ctx, tenantID, feeTable, "id = ?", id); err != nil {
		return repo.trapNoRowsErr(err, "deleting fee")
	}
	return nil
}
