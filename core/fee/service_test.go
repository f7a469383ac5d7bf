package fee

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/authz"
	"github.com/trezcool/shule/core/student"
	"github.com/trezcool/shule/core/user"
)

// mockRepo is a map-backed Repository for service tests.
type mockRepo struct {
	fees map[string]*Fee
}

var _ Repository = (*mockRepo)(nil) // interface compliance check

func newMockRepo() *mockRepo {
	return &mockRepo{fees: make(map[string]*Fee)}
}

func (repo *mockRepo) CreateFee(ctx context.Context, f Fee) (Fee, error) {
	f.ID = uuid.New().String()
	repo.fees[f.ID] = &f
	return f, nil
}

func (repo *mockRepo) GetFeeByID(ctx context.Context, tenantID, id string) (Fee, error) {
	if f, ok := repo.fees[id]; ok && f.TenantID == tenantID {
		return *f, nil
	}
	return Fee{}, ErrNotFound
}

func (repo *mockRepo) FilterFees(ctx context.Context, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]Fee, error) {
	var fees []Fee
	for _, f := range repo.fees {
		if f.TenantID == tenantID {
			fees = append(fees, *f)
		}
	}
	return fees, nil
}

func (repo *mockRepo) UpdateFee(ctx context.Context, f Fee) (Fee, error) {
	orig, ok := repo.fees[f.ID]
	if !ok || orig.TenantID != f.TenantID {
		return Fee{}, ErrNotFound
	}
	*orig = f
	return *orig, nil
}

func (repo *mockRepo) DeleteFee(ctx context.Context, tenantID, id string) error {
	f, ok := repo.fees[id]
	if !ok || f.TenantID != tenantID {
		return ErrNotFound
	}
	delete(repo.fees, id)
	return nil
}

// mockStudentRepo serves only GetStudentByID; fees resolve ownership
// through their student record.
type mockStudentRepo struct {
	students map[string]*student.Student
}

var _ student.Repository = (*mockStudentRepo)(nil) // interface compliance check

func (repo *mockStudentRepo) CheckAdmissionNoUniqueness(ctx context.Context, tenantID, admissionNo string, excluded ...student.Student) error {
	return nil
}

func (repo *mockStudentRepo) CreateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	repo.students[s.ID] = &s
	return s, nil
}

func (repo *mockStudentRepo) GetStudentByID(ctx context.Context, tenantID, id string) (student.Student, error) {
	if s, ok := repo.students[id]; ok && s.TenantID == tenantID {
		return *s, nil
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *mockStudentRepo) FilterStudents(ctx context.Context, tenantID string, filter student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	return nil, nil
}

func (repo *mockStudentRepo) UpdateStudent(ctx context.Context, s student.Student, isActive *bool) (student.Student, error) {
	return s, nil
}

// auditSink captures audit records synchronously.
type auditSink struct {
	mu      sync.Mutex
	records []audit.Record
}

func (sink *auditSink) AppendAuditRecord(ctx context.Context, rec audit.Record) error {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.records = append(sink.records, rec)
	return nil
}

type nopLogger struct{}

func (nopLogger) Debug(msg string, args ...interface{}) {}
func (nopLogger) Info(msg string, args ...interface{})  {}
func (nopLogger) Warn(msg string, args ...interface{})  {}
func (nopLogger) Error(msg string, args ...interface{}) {}
func (nopLogger) Fatal(msg string, args ...interface{}) {}

func newTestService(t *testing.T) (*Service, *mockRepo, *audit.Recorder) {
	t.Helper()

	matrix, err := authz.DefaultMatrix()
	if err != nil {
		t.Fatalf("DefaultMatrix() failed, %v", err)
	}
	engine, err := authz.NewEngine(matrix)
	if err != nil {
		t.Fatalf("NewEngine() failed, %v", err)
	}

	studentRepo := &mockStudentRepo{students: map[string]*student.Student{
		"s1": {ID: "s1", TenantID: "t1", Name: "Ada", GuardianID: "parent1", UserID: "acct1", IsActive: true},
	}}
	repo := newMockRepo()
	recorder := audit.NewRecorder(&auditSink{}, nopLogger{})
	return NewService(repo, studentRepo, engine, recorder), repo, recorder
}

func principal(id, tenantID string, roles ...string) user.User {
	return user.User{ID: id, TenantID: tenantID, IsActive: true, Roles: roles}
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()
	svc, _, recorder := newTestService(t)
	defer recorder.Close()

	accountant := principal("u1", "t1", user.RoleAccountant)
	due := time.Now().AddDate(0, 1, 0)

	f, err := svc.Create(ctx, accountant, "t1", NewFee{StudentID: "s1", Description: "Term 1 tuition", AmountCents: 250000, Currency: "cdf", DueDate: due})
	if err != nil {
		t.Fatalf("Create() failed, %v", err)
	}
	if f.TenantID != "t1" || f.StudentID != "s1" {
		t.Errorf("Create() = %+v, want bound to t1/s1", f)
	}
	if f.Status != StatusPending {
		t.Errorf("Create() Status = %q, want %q", f.Status, StatusPending)
	}

	// the fee must reference a student in the same school
	_, err = svc.Create(ctx, accountant, "t1", NewFee{StudentID: "lol", Description: "Term 1 tuition", AmountCents: 250000, Currency: "cdf", DueDate: due})
	if _, ok := err.(*core.ValidationError); !ok {
		t.Errorf("Create() error = %T, want *core.ValidationError", err)
	}

	// teachers have no fee grants at all
	teacher := principal("u2", "t1", user.RoleTeacher)
	if _, err = svc.Create(ctx, teacher, "t1", NewFee{StudentID: "s1", Description: "Lol", AmountCents: 1, Currency: "cdf", DueDate: due}); errors.Cause(err) != authz.ErrPermissionDenied {
		t.Errorf("Create() error = %v, wantErr %v", err, authz.ErrPermissionDenied)
	}
}

func TestService_GetByID_ownership(t *testing.T) {
	ctx := context.Background()
	svc, repo, recorder := newTestService(t)
	defer recorder.Close()

	f, err := repo.CreateFee(ctx, Fee{TenantID: "t1", StudentID: "s1", Description: "Term 1 tuition", AmountCents: 250000, Currency: "cdf", Status: StatusPending})
	if err != nil {
		t.Fatalf("CreateFee() failed, %v", err)
	}
	orphan, err := repo.CreateFee(ctx, Fee{TenantID: "t1", StudentID: "gone", Description: "Orphaned", AmountCents: 1, Currency: "cdf", Status: StatusPending})
	if err != nil {
		t.Fatalf("CreateFee() failed, %v", err)
	}

	tests := []struct {
		name      string
		principal user.User
		feeID     string
		wantErr   error
	}{
		{name: "accountant reads any fee", principal: principal("u1", "t1", user.RoleAccountant), feeID: f.ID},
		{name: "guardian reads own child's fee", principal: principal("parent1", "t1", user.RoleParent), feeID: f.ID},
		{name: "student reads own fee", principal: principal("acct1", "t1", user.RoleStudent), feeID: f.ID},
		{name: "other guardian is refused", principal: principal("parent2", "t1", user.RoleParent), feeID: f.ID, wantErr: authz.ErrPermissionDenied},
		{name: "librarian is refused", principal: principal("u2", "t1", user.RoleLibrarian), feeID: f.ID, wantErr: authz.ErrPermissionDenied},
		{name: "missing student yields no owners", principal: principal("parent1", "t1", user.RoleParent), feeID: orphan.ID, wantErr: authz.ErrPermissionDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.GetByID(ctx, tt.principal, "t1", tt.feeID)
			if errors.Cause(err) != tt.wantErr {
				t.Errorf("GetByID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_UpdateDelete(t *testing.T) {
	ctx := context.Background()
	svc, repo, recorder := newTestService(t)
	defer recorder.Close()

	f, _ := repo.CreateFee(ctx, Fee{TenantID: "t1", StudentID: "s1", Description: "Term 1 tuition", AmountCents: 250000, Currency: "cdf", Status: StatusPending})

	accountant := principal("u1", "t1", user.RoleAccountant)
	due := time.Now().AddDate(0, 2, 0)
	updated, err := svc.Update(ctx, accountant, "t1", f.ID, UpdateFee{Description: "Term 1 tuition", AmountCents: 250000, PaidCents: 100000, Status: StatusPartial, DueDate: due})
	if err != nil {
		t.Fatalf("Update() failed, %v", err)
	}
	if updated.PaidCents != 100000 || updated.Status != StatusPartial {
		t.Errorf("Update() = %+v", updated)
	}

	// accountants record payments but cannot remove billing records
	if err = svc.Delete(ctx, accountant, "t1", f.ID); errors.Cause(err) != authz.ErrPermissionDenied {
		t.Errorf("Delete() error = %v, wantErr %v", err, authz.ErrPermissionDenied)
	}

	admin := principal("u2", "t1", user.RoleAdminOwner)
	if err = svc.Delete(ctx, admin, "t1", f.ID); err != nil {
		t.Fatalf("Delete() failed, %v", err)
	}
	if _, err = repo.GetFeeByID(ctx, "t1", f.ID); errors.Cause(err) != ErrNotFound {
		t.Errorf("GetFeeByID() error = %v, wantErr %v", err, ErrNotFound)
	}
}
