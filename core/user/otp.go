package user

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"

	"github.com/trezcool/shule/core"
)

var (
	otpSalt = []byte("shule.core.user.otp")

	// errors
	ErrInvalidCode = errors.New("invalid verification code")
	ErrCodeExpired = errors.New("verification code expired")
)

// generateCode returns a random 6-digit second-factor code.
func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// hashCode signs a code for storage; the clear code is only ever emailed.
// Binding the challenge ID prevents a code issued for one challenge from
// being replayed against another.
func hashCode(challengeID, code string) string {
	key := sha256.Sum256(append(otpSalt, core.Conf.SecretKey...))
	h := hmac.New(sha256.New, key[:])
	h.Write([]byte(challengeID))
	h.Write([]byte(code))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// verifyCode checks a submitted code against a pending challenge.
func verifyCode(ch Challenge, code string) error {
	if ch.Consumed {
		return ErrInvalidCode
	}
	if nowFunc().UTC().After(ch.ExpiresAt) {
		return ErrCodeExpired
	}
	if subtle.ConstantTimeCompare([]byte(hashCode(ch.ID, code)), []byte(ch.CodeHash)) == 0 {
		return ErrInvalidCode
	}
	return nil
}

// newChallenge builds a pending challenge for usr along with the clear code to email.
func newChallenge(id string, usr User) (Challenge, string, error) {
	code, err := generateCode()
	if err != nil {
		return Challenge{}, "", err
	}
	now := nowFunc().UTC()
	ch := Challenge{
		ID:        id,
		UserID:    usr.ID,
		TenantID:  usr.TenantID,
		CodeHash:  hashCode(id, code),
		ExpiresAt: now.Add(core.Conf.SecondFactorTimeoutDelta),
		CreatedAt: now,
	}
	return ch, code, nil
}
