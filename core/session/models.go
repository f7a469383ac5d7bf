package session

import (
	"time"

	"github.com/dgrijalva/jwt-go"
)

// Session is an issued, time-bounded proof of authentication. Its tenant
// reference always equals the principal's tenant; it is empty only for
// platform operators.
type Session struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	TenantID     string    `json:"tenant_id,omitempty"`
	IssuedAt     time.Time `json:"issued_at"`      // UTC
	OrigIssuedAt time.Time `json:"orig_issued_at"` // UTC; survives silent renewals
	ExpiresAt    time.Time `json:"expires_at"`     // UTC
	Revoked      bool      `json:"revoked"`
}

// Claims represents the authorization claims transmitted via a JWT.
// Id (jti) is the session ID; TenantID binds the credential to the school
// it was minted under.
type Claims struct {
	jwt.StandardClaims
	TenantID     string   `json:"tid,omitempty"`
	OrigIssuedAt int64    `json:"oriat,omitempty"`
	Username     string   `json:"username,omitempty"`
	Roles        []string `json:"roles,omitempty"`
	IsOperator   bool     `json:"is_operator,omitempty"`
	IsAdmin      bool     `json:"is_admin,omitempty"`
}
