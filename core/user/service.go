package user

import (
	"context"
	"fmt"
	"net/mail"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

var (
	// errors
	ErrNotFound           = errors.New("user not found")
	ErrUserExists         = errors.New("a user with this username or email already exists in this school")
	ErrUsernameExists     = errors.New("a user with this username already exists in this school")
	ErrEmailExists        = errors.New("a user with this email already exists in this school")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDeactivated = errors.New("account deactivated")
	ErrRateLimited        = errors.New("too many attempts; try again later")
	ErrChallengeNotFound  = errors.New("challenge not found")
)

type (
	Repository interface {
		// CheckUsernameUniqueness enforces per-tenant uniqueness: the same
		// username or email may exist under two different tenants.
		CheckUsernameUniqueness(ctx context.Context, tenantID, username, email string, excludedUsers ...User) error
		CreateUser(ctx context.Context, usr User) (User, error)
		// GetUserByID treats an empty tenantID as the platform scope
		// (operators only); it never falls back across tenants.
		GetUserByID(ctx context.Context, tenantID, id string) (User, error)
		GetUserByUsernameOrEmail(ctx context.Context, tenantID, uname string) (User, error)
		GetUserByEmail(ctx context.Context, tenantID, email string) (User, error)
		GetOperatorByUsername(ctx context.Context, uname string) (User, error)
		// FilterUsers applies AND operation on available QueryFilter fields.
		// QueryFilter.Search does a case-insensitive match on one of User.Name, User.Username or User.Email.
		FilterUsers(ctx context.Context, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]User, error)
		UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error)
		SetLastLogin(ctx context.Context, usr User) (User, error)

		CreateChallenge(ctx context.Context, ch Challenge) (Challenge, error)
		GetChallenge(ctx context.Context, id string) (Challenge, error)
		// ConsumeChallenge atomically marks a pending challenge consumed.
		// It returns ErrInvalidCode if the challenge is unknown or was
		// already consumed, so a code can never be redeemed twice.
		ConsumeChallenge(ctx context.Context, id string) error
	}

	Service struct {
		repo     Repository
		mailSvc  core.EmailService
		throttle *LoginThrottle
	}

	// AuthResult is the outcome of a successful first authentication factor.
	// Challenge is set instead of User when a second factor must be completed.
	AuthResult struct {
		User      User
		Challenge *Challenge
	}
)

func NewService(repo Repository, mailSvc core.EmailService, throttle *LoginThrottle) *Service {
	return &Service{repo: repo, mailSvc: mailSvc, throttle: throttle}
}

func (svc *Service) checkUniqueness(ctx context.Context, tenantID, uname, email string, exclUsers ...User) error {
	if err := svc.repo.CheckUsernameUniqueness(ctx, tenantID, uname, email, exclUsers...); err != nil {
		var field string
		switch errors.Cause(err) {
		case ErrUsernameExists:
			field = "username"
		case ErrEmailExists:
			field = "email"
		default:
			return err
		}
		return core.NewValidationError(err, core.FieldError{Field: field, Error: err.Error()})
	}
	return nil
}

// Create registers a new user under tenantID. The tenant always comes from
// the caller's resolved context, never from client-supplied input.
func (svc *Service) Create(ctx context.Context, tenantID string, nu NewUser) (User, error) {
	now := time.Now().UTC()
	usr := User{
		TenantID:         tenantID,
		Name:             nu.Name,
		Username:         nu.Username,
		Email:            nu.Email,
		IsActive:         true,
		TwoFactorEnabled: nu.TwoFactor,
		Roles:            nu.Roles,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := usr.SetPassword(nu.Password); err != nil {
		return User{}, err
	}
	return svc.repo.CreateUser(ctx, usr)
}

func (svc *Service) GetByID(ctx context.Context, tenantID, id string) (User, error) {
	return svc.repo.GetUserByID(ctx, tenantID, id)
}

func (svc *Service) Filter(ctx context.Context, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return svc.repo.FilterUsers(ctx, tenantID, filter, ordering)
}

func (svc *Service) Update(ctx context.Context, tenantID, id string, uu UpdateUser) (User, error) {
	orig, err := svc.repo.GetUserByID(ctx, tenantID, id)
	if err != nil {
		return User{}, err
	}
	usr := User{
		ID:        orig.ID,
		TenantID:  orig.TenantID, // immutable
		Name:      uu.Name,
		Username:  uu.Username,
		Email:     uu.Email,
		Roles:     uu.Roles,
		UpdatedAt: time.Now().UTC(),
	}
	if uu.TwoFactor != nil {
		usr.TwoFactorEnabled = *uu.TwoFactor
	} else {
		usr.TwoFactorEnabled = orig.TwoFactorEnabled
	}
	if uu.Password != "" {
		if err := usr.SetPassword(uu.Password); err != nil {
			return User{}, err
		}
	}
	return svc.repo.UpdateUser(ctx, usr, uu.IsActive)
}

// Deactivate soft-deletes a user; accounts are never hard-deleted.
func (svc *Service) Deactivate(ctx context.Context, tenantID, id string) error {
	usr, err := svc.repo.GetUserByID(ctx, tenantID, id)
	if err != nil {
		return err
	}
	isActive := false
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr, &isActive)
	return err
}

// Authenticate verifies the first factor for a login scoped to tenantID.
// origin identifies the caller (client IP) for rate limiting; the throttle
// is consulted before the secret is checked so a limited origin is refused
// even with valid credentials. An empty tenant match falls through to the
// platform operator scope.
func (svc *Service) Authenticate(ctx context.Context, tenantID, uname, pwd, origin string) (AuthResult, error) {
	uname = core.CleanString(uname, true /* lower */)

	if svc.throttle != nil && !svc.throttle.Allow(origin, uname) {
		return AuthResult{}, ErrRateLimited
	}

	usr, err := svc.repo.GetUserByUsernameOrEmail(ctx, tenantID, uname)
	if err != nil {
		if errors.Cause(err) != ErrNotFound {
			return AuthResult{}, errors.Wrap(err, "finding user by username or email")
		}
		// operators are not bound to any tenant; they may sign in on any school host
		if usr, err = svc.repo.GetOperatorByUsername(ctx, uname); err != nil {
			if errors.Cause(err) == ErrNotFound {
				return AuthResult{}, ErrInvalidCredentials
			}
			return AuthResult{}, errors.Wrap(err, "finding operator by username")
		}
	}

	if err = usr.CheckPassword(pwd); err != nil {
		return AuthResult{}, ErrInvalidCredentials
	}
	if !usr.IsActive {
		return AuthResult{}, ErrAccountDeactivated
	}

	if usr.TwoFactorEnabled {
		ch, err := svc.startSecondFactor(ctx, usr)
		if err != nil {
			return AuthResult{}, errors.Wrap(err, "starting second factor")
		}
		return AuthResult{Challenge: &ch}, nil
	}

	usr, err = svc.repo.SetLastLogin(ctx, usr)
	if err != nil {
		return AuthResult{}, errors.Wrap(err, "setting lastLogin")
	}
	return AuthResult{User: usr}, nil
}

func (svc *Service) startSecondFactor(ctx context.Context, usr User) (Challenge, error) {
	ch, code, err := newChallenge(uuid.New().String(), usr)
	if err != nil {
		return Challenge{}, err
	}
	ch, err = svc.repo.CreateChallenge(ctx, ch)
	if err != nil {
		return Challenge{}, err
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Your verification code",
		TemplateName: "second-factor-code",
		TemplateData: struct {
			Name      string
			Code      string
			ExpiresIn string
		}{usr.Name, code, fmt.Sprintf("%.0f minutes", core.Conf.SecondFactorTimeoutDelta.Minutes())},
	})
	return ch, nil
}

// CompleteSecondFactor exchanges a pending challenge and its emailed code
// for the authenticated user. Codes are single-use; the challenge is
// consumed before the user is returned.
func (svc *Service) CompleteSecondFactor(ctx context.Context, challengeID, code string) (User, error) {
	ch, err := svc.repo.GetChallenge(ctx, challengeID)
	if err != nil {
		if errors.Cause(err) == ErrChallengeNotFound {
			return User{}, ErrInvalidCode
		}
		return User{}, errors.Wrap(err, "finding challenge")
	}
	if err = verifyCode(ch, code); err != nil {
		return User{}, err
	}
	// the repo consumes conditionally; losing the race to a concurrent
	// submission of the same code reports an invalid code
	if err = svc.repo.ConsumeChallenge(ctx, ch.ID); err != nil {
		if errors.Cause(err) == ErrInvalidCode {
			return User{}, ErrInvalidCode
		}
		return User{}, errors.Wrap(err, "consuming challenge")
	}

	usr, err := svc.repo.GetUserByID(ctx, ch.TenantID, ch.UserID)
	if err != nil {
		return User{}, errors.Wrap(err, "finding challenge user")
	}
	if !usr.IsActive {
		return User{}, ErrAccountDeactivated
	}

	usr, err = svc.repo.SetLastLogin(ctx, usr)
	if err != nil {
		return User{}, errors.Wrap(err, "setting lastLogin")
	}
	return usr, nil
}

// RequestPasswordReset emails a reset link to the matching account, if any.
func (svc *Service) RequestPasswordReset(ctx context.Context, tenantID, email string) error {
	usr, err := svc.repo.GetUserByEmail(ctx, tenantID, core.CleanString(email, true /* lower */))
	if err != nil {
		return err
	}
	token, err := MakeToken(usr)
	if err != nil {
		return errors.Wrap(err, "making reset token")
	}

	svc.mailSvc.SendMessages(&core.EmailMessage{
		To:           []mail.Address{{Name: usr.Name, Address: usr.Email}},
		Subject:      "Password reset",
		TemplateName: "password-reset",
		TemplateData: struct {
			Name  string
			UID   string
			Token string
		}{usr.Name, EncodeUID(usr), token},
	})
	return nil
}

// ResetPassword sets a new password from a valid reset token.
func (svc *Service) ResetPassword(ctx context.Context, tenantID string, rp ResetUserPassword) error {
	uid, err := decodeUID(rp.UID)
	if err != nil {
		return core.NewValidationError(errInvalidToken)
	}
	usr, err := svc.repo.GetUserByID(ctx, tenantID, uid)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return core.NewValidationError(errInvalidToken)
		}
		return err
	}
	if err = verifyToken(usr, rp.Token); err != nil {
		return core.NewValidationError(err)
	}
	if err = usr.SetPassword(rp.Password); err != nil {
		return err
	}
	usr.UpdatedAt = time.Now().UTC()
	_, err = svc.repo.UpdateUser(ctx, usr, nil)
	return err
}
