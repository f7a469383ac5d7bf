package session

import (
	"context"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
	"github.com/trezcool/shule/core/user"
)

var (
	// errors
	ErrInvalidToken   = errors.New("invalid session token")
	ErrExpired        = errors.New("session expired")
	ErrRevoked        = errors.New("session revoked")
	ErrRefreshExpired = errors.New("refresh has expired")
	// ErrTenantMismatch is a hard authorization failure: a credential minted
	// under one tenant presented on a request resolved to another. Never a
	// silent fallback.
	ErrTenantMismatch = errors.New("session tenant mismatch")
	ErrNotFound       = errors.New("session not found")
)

type (
	Repository interface {
		CreateSession(ctx context.Context, s Session) (Session, error)
		GetSessionByID(ctx context.Context, id string) (Session, error)
		UpdateSession(ctx context.Context, s Session) (Session, error)
		// RevokeSession is idempotent.
		RevokeSession(ctx context.Context, id string) error
	}

	Service struct {
		repo Repository

		secretKey    []byte
		appName      string
		expDelta     time.Duration
		refreshDelta time.Duration
		nowFunc      func() time.Time // mockable
	}
)

func NewService(repo Repository, conf *core.Config) *Service {
	return &Service{
		repo:         repo,
		secretKey:    conf.SecretKey,
		appName:      conf.AppName,
		expDelta:     conf.Server.SessionExpirationDelta,
		refreshDelta: conf.Server.SessionRefreshDelta,
		nowFunc:      time.Now,
	}
}

// Mint issues a new session for usr bound to the user's tenant, and
// returns the signed token string.
func (svc *Service) Mint(ctx context.Context, usr user.User) (Session, string, error) {
	now := svc.nowFunc().UTC()
	s := Session{
		ID:           uuid.New().String(),
		UserID:       usr.ID,
		TenantID:     usr.TenantID,
		IssuedAt:     now,
		OrigIssuedAt: now,
		ExpiresAt:    now.Add(svc.expDelta),
	}
	s, err := svc.repo.CreateSession(ctx, s)
	if err != nil {
		return Session{}, "", errors.Wrap(err, "creating session")
	}

	token, err := svc.generateToken(s, usr)
	if err != nil {
		return Session{}, "", err
	}
	return s, token, nil
}

func (svc *Service) generateToken(s Session, usr user.User) (string, error) {
	claims := &Claims{
		StandardClaims: jwt.StandardClaims{
			Id:        s.ID,
			Issuer:    svc.appName,
			Subject:   usr.ID,
			IssuedAt:  s.IssuedAt.Unix(),
			ExpiresAt: s.ExpiresAt.Unix(),
		},
		TenantID:     s.TenantID,
		OrigIssuedAt: s.OrigIssuedAt.Unix(),
		Username:     usr.Username,
		Roles:        usr.Roles,
		IsOperator:   usr.IsOperator(),
		IsAdmin:      usr.IsAdmin(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(svc.secretKey)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

// Validate checks signature, expiry (against the server clock), the
// revocation list, and re-confirms that the token's embedded tenant equals
// the tenant resolved for the current request. Operator sessions carry no
// tenant and skip the binding check.
func (svc *Service) Validate(ctx context.Context, token, currentTenantID string) (Session, Claims, error) {
	claims, err := svc.parseToken(token)
	if err != nil {
		return Session{}, Claims{}, err
	}

	s, err := svc.repo.GetSessionByID(ctx, claims.Id)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return Session{}, Claims{}, ErrInvalidToken
		}
		return Session{}, Claims{}, errors.Wrap(err, "finding session")
	}
	if s.Revoked {
		return Session{}, Claims{}, ErrRevoked
	}
	if svc.nowFunc().UTC().After(s.ExpiresAt) {
		return Session{}, Claims{}, ErrExpired
	}

	if !claims.IsOperator {
		if claims.TenantID == "" || claims.TenantID != currentTenantID {
			return Session{}, Claims{}, ErrTenantMismatch
		}
	}
	return s, claims, nil
}

func (svc *Service) parseToken(token string) (Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return svc.secretKey, nil
	})
	if err != nil {
		if vErr, ok := err.(*jwt.ValidationError); ok && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return Claims{}, ErrExpired
		}
		return Claims{}, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return Claims{}, ErrInvalidToken
	}
	return *claims, nil
}

// Refresh silently renews an actively used session within the absolute
// lifetime window. The original issuance time survives renewal so the
// window cannot be extended indefinitely.
func (svc *Service) Refresh(ctx context.Context, token, currentTenantID string, usr user.User) (Session, string, error) {
	s, claims, err := svc.Validate(ctx, token, currentTenantID)
	if err != nil {
		return Session{}, "", err
	}
	if !usr.IsActive {
		return Session{}, "", user.ErrAccountDeactivated
	}

	now := svc.nowFunc().UTC()
	origIat := time.Unix(claims.OrigIssuedAt, 0).UTC()
	if now.After(origIat.Add(svc.refreshDelta)) {
		return Session{}, "", ErrRefreshExpired
	}

	s.IssuedAt = now
	s.ExpiresAt = now.Add(svc.expDelta)
	s, err = svc.repo.UpdateSession(ctx, s)
	if err != nil {
		return Session{}, "", errors.Wrap(err, "updating session")
	}

	newToken, err := svc.generateToken(s, usr)
	if err != nil {
		return Session{}, "", err
	}
	return s, newToken, nil
}

// Revoke marks a session permanently invalid; idempotent.
func (svc *Service) Revoke(ctx context.Context, id string) error {
	return svc.repo.RevokeSession(ctx, id)
}
