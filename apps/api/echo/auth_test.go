package echoapi

import (
	"context"
	"net/http"
	"testing"

	"github.com/trezcool/shule/core/audit"
	"github.com/trezcool/shule/core/user"
)

func TestServer_tenantResolution(t *testing.T) {
	env := newTestEnv(t, 100)
	defer env.recorder.Close()

	t.Run("home is served on any host", func(t *testing.T) {
		res := env.request(t, http.MethodGet, "whatever.example.com", "/", "", nil)
		checkStatus(t, res, http.StatusOK)
	})

	t.Run("unknown school host is a plain 404", func(t *testing.T) {
		res := env.request(t, http.MethodPost, "nope."+env.host, "/v1/auth/login", "",
			LoginRequest{Username: "awe", Password: testPassword})
		checkStatus(t, res, http.StatusNotFound)
	})

	t.Run("deactivated school host is a plain 404", func(t *testing.T) {
		env2 := newTestEnv(t, 100)
		defer env2.recorder.Close()

		isActive := false
		if _, err := env2.tenantRepo.UpdateTenant(context.Background(), env2.tnt, &isActive); err != nil {
			t.Fatalf("UpdateTenant() failed, %v", err)
		}
		res := env2.request(t, http.MethodPost, env2.host, "/v1/auth/login", "",
			LoginRequest{Username: "awe", Password: testPassword})
		checkStatus(t, res, http.StatusNotFound)
	})
}

func TestServer_login(t *testing.T) {
	env := newTestEnv(t, 100)
	defer env.recorder.Close()

	env.createUser(t, "Awe Media", "awe", "awe@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleAdminOwner)
	env.createUser(t, "Gone Guy", "goneguy", "gone@greenhills.cd", userOpts{tenantID: env.tnt.ID, inactive: true}, user.RoleTeacher)
	env.createUser(t, "Root", "root", "root@shule.cd", userOpts{}, user.RoleOperator)

	t.Run("success", func(t *testing.T) {
		token := env.login(t, "awe")

		res := env.request(t, http.MethodGet, env.host, "/v1/users/me", token, nil)
		checkStatus(t, res, http.StatusOK)
		var me user.User
		decodeBody(t, res, &me)
		if me.Username != "awe" {
			t.Errorf("me.Username = %q, want awe", me.Username)
		}
	})

	t.Run("by email", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
			LoginRequest{Username: "awe@greenhills.cd", Password: testPassword})
		checkStatus(t, res, http.StatusOK)
	})

	t.Run("invalid credentials", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
			LoginRequest{Username: "awe", Password: "lol"})
		checkStatus(t, res, http.StatusBadRequest)
	})

	t.Run("unknown user", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
			LoginRequest{Username: "whodis", Password: testPassword})
		checkStatus(t, res, http.StatusBadRequest)
	})

	t.Run("deactivated account", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
			LoginRequest{Username: "goneguy", Password: testPassword})
		checkStatus(t, res, http.StatusForbidden)
	})

	t.Run("missing fields", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "", LoginRequest{})
		checkStatus(t, res, http.StatusBadRequest)
	})

	t.Run("accounts are bound to their school host", func(t *testing.T) {
		// awe belongs to green-hills; st-joseph does not know them
		res := env.request(t, http.MethodPost, env.host2, "/v1/auth/login", "",
			LoginRequest{Username: "awe", Password: testPassword})
		checkStatus(t, res, http.StatusBadRequest)
	})

	t.Run("operators sign in on any school host", func(t *testing.T) {
		for _, host := range []string{env.host, env.host2} {
			res := env.request(t, http.MethodPost, host, "/v1/auth/login", "",
				LoginRequest{Username: "root", Password: testPassword})
			checkStatus(t, res, http.StatusOK)
		}
	})
}

func TestServer_login_rateLimited(t *testing.T) {
	env := newTestEnv(t, 2)
	defer env.recorder.Close()

	env.createUser(t, "Awe Media", "awe", "awe@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleAdminOwner)

	for i := 0; i < 2; i++ {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
			LoginRequest{Username: "awe", Password: "lol"})
		checkStatus(t, res, http.StatusBadRequest)
	}

	// valid credentials no longer help once the window is exhausted
	res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
		LoginRequest{Username: "awe", Password: testPassword})
	checkStatus(t, res, http.StatusTooManyRequests)
}

func TestServer_secondFactor(t *testing.T) {
	env := newTestEnv(t, 100)
	defer env.recorder.Close()

	env.createUser(t, "Careful Carl", "carefulcarl", "carl@greenhills.cd",
		userOpts{tenantID: env.tnt.ID, twoFactor: true}, user.RoleAccountant)

	res := env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
		LoginRequest{Username: "carefulcarl", Password: testPassword})
	checkStatus(t, res, http.StatusOK)

	var challenge SecondFactorResponse
	decodeBody(t, res, &challenge)
	if !challenge.SecondFactorRequired || challenge.ChallengeID == "" {
		t.Fatalf("login response = %+v, want a pending challenge", challenge)
	}

	// the code is emailed, never returned in the response
	data := env.mail.last(t).TemplateData.(struct{ Name, Code, ExpiresIn string })

	t.Run("wrong code", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/second-factor", "",
			SecondFactorRequest{ChallengeID: challenge.ChallengeID, Code: "000000"})
		checkStatus(t, res, http.StatusBadRequest)
	})

	t.Run("unknown challenge", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/second-factor", "",
			SecondFactorRequest{ChallengeID: "lol", Code: data.Code})
		checkStatus(t, res, http.StatusBadRequest)
	})

	var token string
	t.Run("success", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/second-factor", "",
			SecondFactorRequest{ChallengeID: challenge.ChallengeID, Code: data.Code})
		checkStatus(t, res, http.StatusOK)

		var body LoginResponse
		decodeBody(t, res, &body)
		token = body.Token

		res = env.request(t, http.MethodGet, env.host, "/v1/users/me", token, nil)
		checkStatus(t, res, http.StatusOK)
	})

	t.Run("codes are single-use", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/second-factor", "",
			SecondFactorRequest{ChallengeID: challenge.ChallengeID, Code: data.Code})
		checkStatus(t, res, http.StatusBadRequest)
	})
}

func TestServer_tokenRefresh(t *testing.T) {
	env := newTestEnv(t, 100)
	defer env.recorder.Close()

	env.createUser(t, "Awe Media", "awe", "awe@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleAdminOwner)
	token := env.login(t, "awe")

	t.Run("unauthenticated", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/token-refresh", "", nil)
		checkStatus(t, res, http.StatusUnauthorized)
	})

	t.Run("success", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/token-refresh", token, nil)
		checkStatus(t, res, http.StatusOK)

		var body LoginResponse
		decodeBody(t, res, &body)
		if body.Token == "" || body.Token == token {
			t.Errorf("refresh returned token %q, want a fresh one", body.Token)
		}

		res = env.request(t, http.MethodGet, env.host, "/v1/users/me", body.Token, nil)
		checkStatus(t, res, http.StatusOK)
	})

	t.Run("token is bound to the school host it was minted on", func(t *testing.T) {
		res := env.request(t, http.MethodGet, env.host2, "/v1/users/me", token, nil)
		checkStatus(t, res, http.StatusUnauthorized)
	})
}

func TestServer_logout(t *testing.T) {
	env := newTestEnv(t, 100)

	env.createUser(t, "Awe Media", "awe", "awe@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleAdminOwner)
	token := env.login(t, "awe")

	res := env.request(t, http.MethodPost, env.host, "/v1/auth/logout", token, nil)
	checkStatus(t, res, http.StatusNoContent)

	// the session is revoked for good
	res = env.request(t, http.MethodGet, env.host, "/v1/users/me", token, nil)
	checkStatus(t, res, http.StatusUnauthorized)
	res = env.request(t, http.MethodPost, env.host, "/v1/auth/logout", token, nil)
	checkStatus(t, res, http.StatusUnauthorized)

	// both ends of the session made it to the audit trail
	env.recorder.Close()
	var sawLogin, sawLogout bool
	for _, rec := range env.auditRepo.Records() {
		switch rec.Action {
		case audit.ActionLogin:
			sawLogin = rec.Allowed && rec.TenantID == env.tnt.ID
		case audit.ActionLogout:
			sawLogout = rec.Allowed && rec.TenantID == env.tnt.ID
		}
	}
	if !sawLogin || !sawLogout {
		t.Errorf("audit trail login/logout = %v/%v, want both recorded", sawLogin, sawLogout)
	}
}

func TestServer_passwordReset(t *testing.T) {
	env := newTestEnv(t, 100)
	defer env.recorder.Close()

	env.createUser(t, "Awe Media", "awe", "awe@greenhills.cd", userOpts{tenantID: env.tnt.ID}, user.RoleAdminOwner)

	t.Run("request is indistinguishable for unknown emails", func(t *testing.T) {
		for _, email := range []string{"awe@greenhills.cd", "whodis@greenhills.cd"} {
			res := env.request(t, http.MethodPost, env.host, "/v1/auth/password-reset", "",
				PasswordResetRequest{Email: email})
			checkStatus(t, res, http.StatusOK)
		}
	})

	data := env.mail.last(t).TemplateData.(struct{ Name, UID, Token string })

	t.Run("confirm with a bad token", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/password-reset-confirm", "",
			user.ResetUserPassword{Token: "lol-tok-en", UID: data.UID, Password: "newPa55word", PasswordConfirm: "newPa55word"})
		checkStatus(t, res, http.StatusBadRequest)
	})

	t.Run("confirm", func(t *testing.T) {
		res := env.request(t, http.MethodPost, env.host, "/v1/auth/password-reset-confirm", "",
			user.ResetUserPassword{Token: data.Token, UID: data.UID, Password: "newPa55word", PasswordConfirm: "newPa55word"})
		checkStatus(t, res, http.StatusOK)

		// old password is out, new one works
		res = env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
			LoginRequest{Username: "awe", Password: testPassword})
		checkStatus(t, res, http.StatusBadRequest)
		res = env.request(t, http.MethodPost, env.host, "/v1/auth/login", "",
			LoginRequest{Username: "awe", Password: "newPa55word"})
		checkStatus(t, res, http.StatusOK)
	})
}
