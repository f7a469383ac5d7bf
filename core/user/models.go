package user

import (
	"context"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/trezcool/shule/core"
)

// Roles
const (
	// Admin prefix shared by school administrators
	RoleAdmin          = "admin:"
	RoleAdminOwner     = "admin:owner"
	RoleAdminPrincipal = "admin:principal"

	// School staff
	RoleTeacher    = "teacher:"
	RoleAccountant = "accountant:"
	RoleLibrarian  = "librarian:"

	// School members
	RoleParent  = "parent:"
	RoleStudent = "student:"

	// RoleOperator is the distinguished cross-tenant platform staff role;
	// operators are not bound to any tenant.
	RoleOperator = "platform:operator"
)

var (
	AdminRoles  = []string{RoleAdminOwner, RoleAdminPrincipal}
	StaffRoles  = []string{RoleTeacher, RoleAccountant, RoleLibrarian}
	MemberRoles = []string{RoleParent, RoleStudent}
	AllRoles    = getAllRoles()

	// TenantRoles are the roles assignable within a school; excludes RoleOperator.
	TenantRoles = getTenantRoles()

	rolePriorities = map[string]int{
		// Platform: 40+
		RoleOperator: 41,

		// Admins: 30 - 21
		RoleAdminOwner:     30,
		RoleAdminPrincipal: 29,

		// Staff: 20 - 11
		RoleTeacher:    13,
		RoleAccountant: 12,
		RoleLibrarian:  11,

		// Members: 10 - 1
		RoleParent:  2,
		RoleStudent: 1,
	}

	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Parent", Value: RoleParent},
		{Name: "Librarian", Value: RoleLibrarian},
		{Name: "Accountant", Value: RoleAccountant},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Admin Principal", Value: RoleAdminPrincipal},
		{Name: "Admin Owner", Value: RoleAdminOwner},
		{Name: "Platform Operator", Value: RoleOperator},
	}
)

func getAllRoles() []string {
	all := make([]string, 0, 8)
	all = append(all, getTenantRoles()...)
	all = append(all, RoleOperator)
	return all
}

func getTenantRoles() []string {
	all := make([]string, 0, 7)
	all = append(all, AdminRoles...)
	all = append(all, StaffRoles...)
	all = append(all, MemberRoles...)
	return all
}

func RolePriority(role string) int {
	return rolePriorities[role]
}

func MaxRolePriority(roles []string) int {
	var max int
	for _, role := range roles {
		if RolePriority(role) > max {
			max = RolePriority(role)
		}
	}
	return max
}

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// User is a principal: a human actor bound to at most one tenant.
// TenantID is empty only for platform operators.
type User struct {
	ID               string    `json:"id"`
	TenantID         string    `json:"tenant_id,omitempty"`
	Name             string    `json:"name"`
	Username         string    `json:"username"`
	Email            string    `json:"email"`
	IsActive         bool      `json:"is_active"`
	TwoFactorEnabled bool      `json:"two_factor_enabled"`
	Roles            []string  `json:"roles"`
	PasswordHash     []byte    `json:"-"`
	CreatedAt        time.Time `json:"created_at"` // UTC
	UpdatedAt        time.Time `json:"updated_at"` // UTC
	LastLogin        time.Time `json:"last_login"` // UTC
}

func (u *User) SetPassword(pwd string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pwd), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	u.PasswordHash = hash
	return nil
}

func (u *User) CheckPassword(pwd string) error {
	return bcrypt.CompareHashAndPassword(u.PasswordHash, []byte(pwd))
}

func (u *User) RoleStartsWith(prefix string) bool {
	for _, role := range u.Roles {
		if strings.HasPrefix(role, prefix) {
			return true
		}
	}
	return false
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}

func (u *User) IsAdmin() bool    { return u.RoleStartsWith(RoleAdmin) }
func (u *User) IsTeacher() bool  { return u.RoleStartsWith(RoleTeacher) }
func (u *User) IsStudent() bool  { return u.RoleStartsWith(RoleStudent) }
func (u *User) IsOperator() bool { return u.HasRole(RoleOperator) }

// Challenge is a pending second-factor verification. Codes are
// single-use and expire after a short validity window.
type Challenge struct {
	ID        string
	UserID    string
	TenantID  string
	CodeHash  string
	ExpiresAt time.Time // UTC
	Consumed  bool
	CreatedAt time.Time // UTC
}

// NewUser contains information needed to create a new User.
// The tenant is never part of the payload; it is stamped from the
// caller's resolved context.
type NewUser struct {
	Name            string   `json:"name" validate:"required"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	Password        string   `json:"password" validate:"required"`
	PasswordConfirm string   `json:"password_confirm" validate:"required,eqfield=Password"`
	Roles           []string `json:"roles" validate:"omitempty,tenantroles"`
	TwoFactor       bool     `json:"two_factor"`
}

func (nu *NewUser) Validate(ctx context.Context, svc *Service, tenantID string) error {
	nu.Name = core.CleanString(nu.Name)
	nu.Username = core.CleanString(nu.Username, true /* lower */)
	nu.Email = core.CleanString(nu.Email, true /* lower */)

	if err := core.Validate.Struct(nu); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, tenantID, nu.Username, nu.Email)
}

// UpdateUser defines what information may be provided to modify an existing User.
type UpdateUser struct {
	Name            string   `json:"name"`
	Username        string   `json:"username" validate:"omitempty,min=6,alphanum_"`
	Email           string   `json:"email" validate:"omitempty,email"`
	IsActive        *bool    `json:"is_active"`
	Roles           []string `json:"roles" validate:"omitempty,tenantroles"`
	Password        string   `json:"password" validate:"omitempty"`
	PasswordConfirm string   `json:"password_confirm" validate:"required_with=Password,eqfield=Password"`
	TwoFactor       *bool    `json:"two_factor"`
}

func (uu *UpdateUser) Validate(ctx context.Context, origUsr User, svc *Service) error {
	name := core.CleanString(uu.Name)
	if name != "" {
		uu.Name = name
	} else {
		uu.Name = origUsr.Name
	}

	uname := core.CleanString(uu.Username, true /* lower */)
	if uname != "" {
		uu.Username = uname
	} else {
		uu.Username = origUsr.Username
	}

	email := core.CleanString(uu.Email, true /* lower */)
	if email != "" {
		uu.Email = email
	} else {
		uu.Email = origUsr.Email
	}

	if err := core.Validate.Struct(uu); err != nil {
		return err
	}
	return svc.checkUniqueness(ctx, origUsr.TenantID, uu.Username, uu.Email, origUsr)
}

type ResetUserPassword struct {
	Token           string `json:"token,omitempty" validate:"required"`
	UID             string `json:"uid,omitempty" validate:"required"`
	Password        string `json:"password,omitempty" validate:"required"`
	PasswordConfirm string `json:"password_confirm,omitempty" validate:"required,eqfield=Password"`
}

func (rp ResetUserPassword) Validate() error { return core.Validate.Struct(rp) }

type QueryFilter struct {
	Search      string    `query:"search"`
	Roles       []string  `query:"role"`
	IsActive    *bool     `query:"is_active"`
	CreatedFrom time.Time `query:"created_from"`
	CreatedTo   time.Time `query:"created_to"`
}

func (qf *QueryFilter) IsEmpty() bool {
	return qf.Search == "" && qf.Roles == nil && qf.IsActive == nil && qf.CreatedFrom.IsZero() && qf.CreatedTo.IsZero()
}

func (qf *QueryFilter) Clean() {
	qf.Search = core.CleanString(qf.Search)
}
