package inmemdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

type userRepository struct {
	db *DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *DB) *userRepository {
	return &userRepository{db: db}
}

func (repo *userRepository) query(tenantID string) []user.User {
	users := make([]user.User, 0, len(repo.db.users))
	for _, usr := range repo.db.users {
		if usr.TenantID == tenantID {
			users = append(users, *usr)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users
}

func isExcluded(usr user.User, excluded []user.User) bool {
	for _, u := range excluded {
		if u.ID == usr.ID {
			return true
		}
	}
	return false
}

func (repo *userRepository) CheckUsernameUniqueness(ctx context.Context, tenantID, username, email string, excludedUsers ...user.User) error {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, usr := range repo.query(tenantID) {
		if isExcluded(usr, excludedUsers) {
			continue
		}
		if username != "" && usr.Username == username {
			return user.ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return user.ErrEmailExists
		}
	}
	return nil
}

func (repo *userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	usr.ID = uuid.New().String()
	repo.db.users[usr.ID] = &usr
	return usr, nil
}

func (repo *userRepository) GetUserByID(ctx context.Context, tenantID, id string) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if usr, ok := repo.db.users[id]; ok && usr.TenantID == tenantID {
		return *usr, nil
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByUsernameOrEmail(ctx context.Context, tenantID, uname string) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, usr := range repo.query(tenantID) {
		if (usr.Username != "" && usr.Username == uname) || (usr.Email != "" && usr.Email == uname) {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetUserByEmail(ctx context.Context, tenantID, email string) (user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	for _, usr := range repo.query(tenantID) {
		if usr.Email != "" && usr.Email == email {
			return usr, nil
		}
	}
	return user.User{}, user.ErrNotFound
}

func (repo *userRepository) GetOperatorByUsername(ctx context.Context, uname string) (user.User, error) {
	return repo.GetUserByUsernameOrEmail(ctx, "" /* platform scope */, uname)
}

func (repo *userRepository) FilterUsers(ctx context.Context, tenantID string, filter user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	var users []user.User
	search := strings.ToLower(filter.Search)
	for _, usr := range repo.query(tenantID) {
		if search != "" &&
			!strings.Contains(strings.ToLower(usr.Name), search) &&
			!strings.Contains(usr.Username, search) &&
			!strings.Contains(usr.Email, search) {
			continue
		}
		if len(filter.Roles) > 0 && !matchesAnyRolePrefix(usr, filter.Roles) {
			continue
		}
		if filter.IsActive != nil && usr.IsActive != *filter.IsActive {
			continue
		}
		if !filter.CreatedFrom.IsZero() && usr.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && usr.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		users = append(users, usr)
	}
	return users, nil
}

func matchesAnyRolePrefix(usr user.User, prefixes []string) bool {
	for _, prefix := range prefixes {
		if usr.RoleStartsWith(prefix) {
			return true
		}
	}
	return false
}

func (repo *userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.users[usr.ID]
	if !ok || orig.TenantID != usr.TenantID {
		return user.User{}, user.ErrNotFound
	}

	// only save set fields
	if usr.Name != "" {
		orig.Name = usr.Name
	}
	if usr.Username != "" {
		orig.Username = usr.Username
	}
	if usr.Email != "" {
		orig.Email = usr.Email
	}
	if usr.Roles != nil {
		orig.Roles = usr.Roles
	}
	if usr.PasswordHash != nil {
		orig.PasswordHash = usr.PasswordHash
	}
	orig.TwoFactorEnabled = usr.TwoFactorEnabled
	orig.UpdatedAt = usr.UpdatedAt
	if isActive != nil {
		orig.IsActive = *isActive
	}
	return *orig, nil
}

func (repo *userRepository) SetLastLogin(ctx context.Context, usr user.User) (user.User, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	orig, ok := repo.db.users[usr.ID]
	if !ok {
		return user.User{}, user.ErrNotFound
	}
	orig.LastLogin = time.Now().UTC()
	return *orig, nil
}

func (repo *userRepository) CreateChallenge(ctx context.Context, ch user.Challenge) (user.Challenge, error) {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	repo.db.challenges[ch.ID] = &ch
	return ch, nil
}

func (repo *userRepository) GetChallenge(ctx context.Context, id string) (user.Challenge, error) {
	repo.db.mutex.RLock()
	defer repo.db.mutex.RUnlock()

	if ch, ok := repo.db.challenges[id]; ok {
		return *ch, nil
	}
	return user.Challenge{}, user.ErrChallengeNotFound
}

func (repo *userRepository) ConsumeChallenge(ctx context.Context, id string) error {
	repo.db.mutex.Lock()
	defer repo.db.mutex.Unlock()

	ch, ok := repo.db.challenges[id]
	if !ok || ch.Consumed {
		return user.ErrInvalidCode
	}
	ch.Consumed = true
	return nil
}
