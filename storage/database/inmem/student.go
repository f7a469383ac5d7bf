package inmemdb

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/student"
)

type studentRepository struct {
	db *DB
}

var _ student.Repository = (*studentRepository)(nil) // interface compliance check

func NewStudentRepository(db *DB) *studentRepository {
	return &studentRepository{db: db}
}

func (repo *studentRepository) query(tenantID string) []student.Student {
	students := make([]student.Student, 0, len(repo.db.students))
	for _, s := range repo.db.students {
		if s.TenantID == tenantID {
			students = append(students, *s)
		}
	}
	sort.Slice(students, func(i, j int) bool { return students[i].Name < students[j].Name })
	return students
}

func (repo *studentRepository) CheckAdmissionNoUniqueness(ctx context.Context, tenantID, admissionNo string, excluded ...student.Student) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, s := range repo.query(tenantID) {
		if s.AdmissionNo != admissionNo {
			continue
		}
		var skip bool
		for _, ex := range excluded {
			if ex.ID == s.ID {
				skip = true
				break
			}
		}
		if !skip {
			return student.ErrAdmissionNoExists
		}
	}
	return nil
}

func (repo *studentRepository) CreateStudent(ctx context.Context, s student.Student) (student.Student, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	s.ID = uuid.New().String()
	repo.db.students[s.ID] = &s
	return s, nil
}

func (repo *studentRepository) GetStudentByID(ctx context.Context, tenantID, id string) (student.Student, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if s, ok := repo.db.students[id]; ok && s.TenantID == tenantID {
		return *s, nil
	}
	return student.Student{}, student.ErrNotFound
}

func (repo *studentRepository) FilterStudents(ctx context.Context, tenantID string, filter student.QueryFilter, ordering []core.DBOrdering) ([]student.Student, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var students []student.Student
	search := strings.ToLower(filter.Search)
	for _, s := range repo.query(tenantID) {
		if search != "" &&
			!strings.Contains(strings.ToLower(s.Name), search) &&
			!strings.Contains(s.AdmissionNo, search) {
			continue
		}
		if filter.ClassName != "" && s.ClassName != filter.ClassName {
			continue
		}
		if filter.IsActive != nil && s.IsActive != *filter.IsActive {
			continue
		}
		students = append(students, s)
	}
	return students, nil
}

func (repo *studentRepository) UpdateStudent(ctx context.Context, s student.Student, isActive *bool) (student.Student, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.students[s.ID]
	if !ok || orig.TenantID != s.TenantID {
		return student.Student{}, student.ErrNotFound
	}
	orig.Name = s.Name
	orig.ClassName = s.ClassName
	orig.GuardianID = s.GuardianID
	orig.UserID = s.UserID
	orig.UpdatedAt = s.UpdatedAt
	if isActive != nil {
		orig.IsActive = *isActive
	}
	return *orig, nil
}
