package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/student"
)

const (
	studentTable = "students"

	studentColumns = `id, tenant_id, name, admission_no, class_name, owner_id, guardian_id,
		user_id, is_active, created_at, updated_at`
)

type studentRow struct {
	ID          string      `db:"id"`
	TenantID    string      `db:"tenant_id"`
	Name        string      `db:"name"`
	AdmissionNo string      `db:"admission_no"`
	ClassName   string      `db:"class_name"`
	OwnerID     null.String `db:"owner_id"`
	GuardianID  null.String `db:"guardian_id"`
	UserID      null.String `db:"user_id"`
	IsActive    bool        `db:"is_active"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

func (r studentRow) toStudent() student.Student {
	return student.Student{
		ID:          r.ID,
		TenantID:    r.TenantID,
		Name:        r.Name,
		AdmissionNo: r.AdmissionNo,
		ClassName:   r.ClassName,
		OwnerID:     r.OwnerID.String,
		GuardianID:  r.GuardianID.String,
		UserID:      r.UserID.String,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
}

type studentRepository struct {
	gw *Gateway
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(gw *Gateway) *studentRepository {
	return &studentRepository{gw: gw}
}

// trapNoRowsErr maps psql "no rows" err to student.ErrNotFound
func (repo studentRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return student.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo studentRepository) CheckAdmissionNoUniqueness(ctx context.Context, tenantID, admissionNo string, excluded ...student.Student) error {
	where := "admission_no = ?"
	args := []interface{}{admissionNo}
	if len(excluded) > 0 {
		ids := make([]string, 0, len(excluded))
		for _, s := range excluded {
			ids = append(ids, s.ID)
		}
		where += " AND id NOT IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"
		for _, id := range ids {
			args = append(args, id)
		}
	}

	exists, err := repo.gw.Exists(ctx, tenantID, studentTable, where, args...)
	if err != nil {
		return errors.Wrap(err, "checking admission number uniqueness")
	}
	if exists {
		return student.ErrAdmissionNoExists
	}
	return nil
}

func (repo studentRepository) CreateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	s.ID = uuid.New().String()
	err := repo.gw.Insert(ctx, s.TenantID, studentTable, map[string]interface{}{
		"id":           s.ID,
		"name":         s.Name,
		"admission_no": s.AdmissionNo,
		"class_name":   s.ClassName,
		"owner_id":     null.NewString(s.OwnerID, s.OwnerID != ""),
		"guardian_id":  null.NewString(s.GuardianID, s.GuardianID != ""),
		"user_id":      null.NewString(s.UserID, s.UserID != ""),
		"is_active":    s.IsActive,
		"created_at":   s.CreatedAt,
		"updated_at":   s.UpdatedAt,
	})
	if err != nil {
		return student.Student{}, errors.Wrap(err, "inserting student")
	}
	return s, nil
}

func (repo studentRepository) GetStudentByID(ctx context.Context, tenantID, id string) (student.Student, error) {
	if _, err := uuid.Parse(id); err != nil {
		return student.Student{}, student.ErrNotFound
	}
	var row studentRow
	if err := repo.gw.Get(ctx, &row, tenantID, studentTable, studentColumns, "id = ?", id); err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "finding student by ID")
	}
	return row.toStudent(), nil
}

func (repo studentRepository) FilterStudents(ctx context.Context, tenantID string, filter student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	var (
		preds []string
		args  []interface{}
	)
	if filter.Search != "" {
		preds = append(preds, "(name ILIKE ? OR admission_no ILIKE ?)")
		val := "%" + filter.Search + "%"
		args = append(args, val, val)
	}
	if filter.ClassName != "" {
		preds = append(preds, "class_name = ?")
		args = append(args, filter.ClassName)
	}
	if filter.IsActive != nil {
		preds = append(preds, "is_active = ?")
		args = append(args, *filter.IsActive)
	}

	orderBy := OrderBy(ordering)
	if orderBy == "" {
		orderBy = "name ASC"
	}

	var rows []studentRow
	err := repo.gw.Select(ctx, &rows, tenantID, studentTable, studentColumns, strings.Join(preds, " AND "), orderBy, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying students")
	}
	students := make([]student.Student, 0, len(rows))
	for _, row := range rows {
		students = append(students, row.toStudent())
	}
	return students, nil
}

func (repo studentRepository) UpdateStudent(ctx context.Context, s student.Student, isActive *bool) (student.Student, error) {
	if isActive != nil {
		s.IsActive = *isActive
	}
	set := map[string]interface{}{
		"name":        s.Name,
		"class_name":  s.ClassName,
		"guardian_id": null.NewString(s.GuardianID, s.GuardianID != ""),
		"user_id":     null.NewString(s.UserID, s.UserID != ""),
		"is_active":   s.IsActive,
		"updated_at":  s.UpdatedAt,
	}
	if err := repo.gw.Update(ctx, s.TenantID, studentTable, set, "id = ?", s.ID); err != nil {
		return student.Student{}, repo.trapNoRowsErr(err, "updating student")
	}
	return s, nil
}
