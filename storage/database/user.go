package database

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

const (
	userTable      = "users"
	challengeTable = "challenges"

	userColumns = `id, tenant_id, name, username, email, is_active, two_factor_enabled,
		roles, password_hash, created_at, updated_at, last_login`
)

type userRow struct {
	ID               string         `db:"id"`
	TenantID         null.String    `db:"tenant_id"`
	Name             string         `db:"name"`
	Username         string         `db:"username"`
	Email            string         `db:"email"`
	IsActive         bool           `db:"is_active"`
	TwoFactorEnabled bool           `db:"two_factor_enabled"`
	Roles            pq.StringArray `db:"roles"`
	PasswordHash     []byte         `db:"password_hash"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
	LastLogin        null.Time      `db:"last_login"`
}

func (r userRow) toUser() user.User {
	return user.User{
		ID:               r.ID,
		TenantID:         r.TenantID.String,
		Name:             r.Name,
		Username:         r.Username,
		Email:            r.Email,
		IsActive:         r.IsActive,
		TwoFactorEnabled: r.TwoFactorEnabled,
		Roles:            r.Roles,
		PasswordHash:     r.PasswordHash,
		CreatedAt:        r.CreatedAt,
		UpdatedAt:        r.UpdatedAt,
		LastLogin:        r.LastLogin.Time,
	}
}

type userRepository struct {
	gw *Gateway
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(gw *Gateway) *userRepository {
	return &userRepository{gw: gw}
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if errors.Cause(err) == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

func (repo userRepository) CheckUsernameUniqueness(ctx context.Context, tenantID, username, email string, excludedUsers ...user.User) error {
	checks := []struct {
		col, val string
		dupErr   error
	}{
		{"username", username, user.ErrUsernameExists},
		{"email", email, user.ErrEmailExists},
	}
	for _, check := range checks {
		if check.val == "" {
			continue
		}
		where := check.col + " = ?"
		args := []interface{}{check.val}
		if len(excludedUsers) > 0 {
			ids := make([]string, 0, len(excludedUsers))
			for _, u := range excludedUsers {
				ids = append(ids, u.ID)
			}
			where += " AND id NOT IN (?" + strings.Repeat(", ?", len(ids)-1) + ")"
			for _, id := range ids {
				args = append(args, id)
			}
		}

		exists, err := repo.gw.Exists(ctx, tenantID, userTable, where, args...)
		if err != nil {
			return errors.Wrap(err, "checking user uniqueness")
		}
		if exists {
			return check.dupErr
		}
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	err := repo.gw.Insert(ctx, usr.TenantID, userTable, map[string]interface{}{
		"id":                 usr.ID,
		"name":               usr.Name,
		"username":           usr.Username,
		"email":              usr.Email,
		"is_active":          usr.IsActive,
		"two_factor_enabled": usr.TwoFactorEnabled,
		"roles":              pq.StringArray(usr.Roles),
		"password_hash":      usr.PasswordHash,
		"created_at":         usr.CreatedAt,
		"updated_at":         usr.UpdatedAt,
	})
	if err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return usr, nil
}

func (repo userRepository) GetUserByID(ctx context.Context, tenantID, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	var row userRow
	if err := repo.gw.Get(ctx, &row, tenantID, userTable, userColumns, "id = ?", id); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by ID")
	}
	return row.toUser(), nil
}

func (repo userRepository) GetUserByUsernameOrEmail(ctx context.Context, tenantID, uname string) (user.User, error) {
	var row userRow
	err := repo.gw.Get(ctx, &row, tenantID, userTable, userColumns, "username = ? OR email = ?", uname, uname)
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by username or email")
	}
	return row.toUser(), nil
}

func (repo userRepository) GetUserByEmail(ctx context.Context, tenantID, email string) (user.User, error) {
	var row userRow
	if err := repo.gw.Get(ctx, &row, tenantID, userTable, userColumns, "email = ?", email); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by email")
	}
	return row.toUser(), nil
}

func (repo userRepository) GetOperatorByUsername(ctx context.Context, uname string) (user.User, error) {
	// platform scope: tenant_id IS NULL
	var row userRow
	err := repo.gw.Get(ctx, &row, "", userTable, userColumns, "username = ? OR email = ?", uname, uname)
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding operator by username")
	}
	return row.toUser(), nil
}

func (repo userRepository) FilterUsers(ctx context.Context, tenantID string, filter user.QueryFilter, ordering []core.DBOrdering) ([]user.User, error) {
	var (
		preds []string
		args  []interface{}
	)
	if filter.Search != "" {
		preds = append(preds, "(name ILIKE ? OR username ILIKE ? OR email ILIKE ?)")
		val := "%" + filter.Search + "%"
		args = append(args, val, val, val)
	}
	// users with any role that starts with any of the provided roles
	if len(filter.Roles) > 0 {
		rolePreds := make([]string, 0, len(filter.Roles))
		for _, role := range filter.Roles {
			rolePreds = append(rolePreds, "EXISTS (SELECT 1 FROM UNNEST(roles) user_role WHERE user_role ILIKE ?)")
			args = append(args, role+"%")
		}
		preds = append(preds, "("+strings.Join(rolePreds, " OR ")+")")
	}
	if filter.IsActive != nil {
		preds = append(preds, "is_active = ?")
		args = append(args, *filter.IsActive)
	}
	if !filter.CreatedFrom.IsZero() {
		preds = append(preds, "created_at >= ?")
		args = append(args, filter.CreatedFrom.UTC())
	}
	if !filter.CreatedTo.IsZero() {
		preds = append(preds, "created_at <= ?")
		args = append(args, filter.CreatedTo.UTC())
	}

	orderBy := OrderBy(ordering)
	if orderBy == "" {
		orderBy = "created_at DESC"
	}

	var rows []userRow
	err := repo.gw.Select(ctx, &rows, tenantID, userTable, userColumns, strings.Join(preds, " AND "), orderBy, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, row.toUser())
	}
	return users, nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, isActive *bool) (user.User, error) {
	if isActive != nil {
		usr.IsActive = *isActive
	}
	set := map[string]interface{}{
		"name":               usr.Name,
		"username":           usr.Username,
		"email":              usr.Email,
		"is_active":          usr.IsActive,
		"two_factor_enabled": usr.TwoFactorEnabled,
		"roles":              pq.StringArray(usr.Roles),
		"updated_at":         usr.UpdatedAt,
	}
	if usr.PasswordHash != nil {
		set["password_hash"] = usr.PasswordHash
	}

	var err error
	if usr.TenantID == "" {
		err = repo.gw.UpdatePlatform(ctx, userTable, set, "id = ?", usr.ID)
	} else {
		err = repo.gw.Update(ctx, usr.TenantID, userTable, set, "id = ?", usr.ID)
	}
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "updating user")
	}
	return usr, nil
}

func (repo userRepository) SetLastLogin(ctx context.Context, usr user.User) (user.User, error) {
	usr.LastLogin = time.Now().UTC()
	set := map[string]interface{}{"last_login": usr.LastLogin}

	var err error
	if usr.TenantID == "" {
		err = repo.gw.UpdatePlatform(ctx, userTable, set, "id = ?", usr.ID)
	} else {
		err = repo.gw.Update(ctx, usr.TenantID, userTable, set, "id = ?", usr.ID)
	}
	if err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "setting lastLogin")
	}
	return usr, nil
}

func (repo userRepository) CreateChallenge(ctx context.Context, ch user.Challenge) (user.Challenge, error) {
	err := repo.gw.Insert(ctx, ch.TenantID, challengeTable, map[string]interface{}{
		"id":         ch.ID,
		"user_id":    ch.UserID,
		"code_hash":  ch.CodeHash,
		"expires_at": ch.ExpiresAt,
		"consumed":   ch.Consumed,
		"created_at": ch.CreatedAt,
	})
	if err != nil {
		return user.Challenge{}, errors.Wrap(err, "inserting challenge")
	}
	return ch, nil
}

func (repo userRepository) GetChallenge(ctx context.Context, id string) (user.Challenge, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.Challenge{}, user.ErrChallengeNotFound
	}
	db := repo.gw.DB()

	var row struct {
		ID        string      `db:"id"`
		UserID    string      `db:"user_id"`
		TenantID  null.String `db:"tenant_id"`
		CodeHash  string      `db:"code_hash"`
		ExpiresAt time.Time   `db:"expires_at"`
		Consumed  bool        `db:"consumed"`
		CreatedAt time.Time   `db:"created_at"`
	}
	q := db.Rebind("SELECT * FROM challenges WHERE id = ?")
	if err := db.GetContext(ctx, &row, q, id); err != nil {
		if err == sql.ErrNoRows {
			return user.Challenge{}, user.ErrChallengeNotFound
		}
		return user.Challenge{}, errors.Wrap(err, "finding challenge")
	}
	return user.Challenge{
		ID:        row.ID,
		UserID:    row.UserID,
		TenantID:  row.TenantID.String,
		CodeHash:  row.CodeHash,
		ExpiresAt: row.ExpiresAt,
		Consumed:  row.Consumed,
		CreatedAt: row.CreatedAt,
	}, nil
}

func (repo userRepository) ConsumeChallenge(ctx context.Context, id string) error {
	db := repo.gw.DB()
	// conditional so two concurrent redemptions can never both win the row
	q := db.Rebind("UPDATE challenges SET consumed = TRUE WHERE id = ? AND NOT consumed")
	res, err := db.ExecContext(ctx, q, id)
	if err != nil {
		return errors.Wrap(err, "consuming challenge")
	}
	if err = trapZeroRows(res); err != nil {
		return user.ErrInvalidCode
	}
	return nil
}
