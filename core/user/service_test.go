package user

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/shule/core"
)

// mockRepo is a map-backed Repository for service tests.
type mockRepo struct {
	mutex      sync.Mutex
	users      map[string]*User
	challenges map[string]*Challenge

	// challengeHook, when set, runs after GetChallenge returns its copy;
	// tests use it to line up concurrent submissions.
	challengeHook func()
}

var _ Repository = (*mockRepo)(nil) // interface compliance check

func newMockRepo() *mockRepo {
	return &mockRepo{
		users:      make(map[string]*User),
		challenges: make(map[string]*Challenge),
	}
}

func (repo *mockRepo) query(tenantID string) []User {
	users := make([]User, 0, len(repo.users))
	for _, usr := range repo.users {
		if usr.TenantID == tenantID {
			users = append(users, *usr)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i].CreatedAt.After(users[j].CreatedAt) })
	return users
}

func (repo *mockRepo) CheckUsernameUniqueness(ctx context.Context, tenantID, username, email string, excludedUsers ...User) error {
	for _, usr := range repo.query(tenantID) {
		excluded := false
		for _, e := range excludedUsers {
			if e.ID == usr.ID {
				excluded = true
			}
		}
		if excluded {
			continue
		}
		if username != "" && usr.Username == username {
			return ErrUsernameExists
		}
		if email != "" && usr.Email == email {
			return ErrEmailExists
		}
	}
	return nil
}

func (repo *mockRepo) CreateUser(ctx context.Context, usr User) (User, error) {
	usr.ID = uuid.New().String()
	repo.users[usr.ID] = &usr
	return usr, nil
}

func (repo *mockRepo) GetUserByID(ctx context.Context, tenantID, id string) (User, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	if usr, ok := repo.users[id]; ok && usr.TenantID == tenantID {
		return *usr, nil
	}
	return User{}, ErrNotFound
}

func (repo *mockRepo) GetUserByUsernameOrEmail(ctx context.Context, tenantID, uname string) (User, error) {
	for _, usr := range repo.query(tenantID) {
		if usr.Username == uname || usr.Email == uname {
			return usr, nil
		}
	}
	return User{}, ErrNotFound
}

func (repo *mockRepo) GetUserByEmail(ctx context.Context, tenantID, email string) (User, error) {
	for _, usr := range repo.query(tenantID) {
		if usr.Email == email {
			return usr, nil
		}
	}
	return User{}, ErrNotFound
}

func (repo *mockRepo) GetOperatorByUsername(ctx context.Context, uname string) (User, error) {
	return repo.GetUserByUsernameOrEmail(ctx, "" /* platform scope */, uname)
}

func (repo *mockRepo) FilterUsers(ctx context.Context, tenantID string, filter QueryFilter, ordering []core.DBOrdering) ([]User, error) {
	return repo.query(tenantID), nil
}

func (repo *mockRepo) UpdateUser(ctx context.Context, usr User, isActive *bool) (User, error) {
	orig, ok := repo.users[usr.ID]
	if !ok || orig.TenantID != usr.TenantID {
		return User{}, ErrNotFound
	}
	if usr.PasswordHash != nil {
		orig.PasswordHash = usr.PasswordHash
	}
	orig.UpdatedAt = usr.UpdatedAt
	if isActive != nil {
		orig.IsActive = *isActive
	}
	return *orig, nil
}

func (repo *mockRepo) SetLastLogin(ctx context.Context, usr User) (User, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	orig, ok := repo.users[usr.ID]
	if !ok {
		return User{}, ErrNotFound
	}
	orig.LastLogin = time.Now().UTC()
	return *orig, nil
}

func (repo *mockRepo) CreateChallenge(ctx context.Context, ch Challenge) (Challenge, error) {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	repo.challenges[ch.ID] = &ch
	return ch, nil
}

func (repo *mockRepo) GetChallenge(ctx context.Context, id string) (Challenge, error) {
	repo.mutex.Lock()
	ch, ok := repo.challenges[id]
	if !ok {
		repo.mutex.Unlock()
		return Challenge{}, ErrChallengeNotFound
	}
	cpy := *ch
	repo.mutex.Unlock()

	if repo.challengeHook != nil {
		repo.challengeHook()
	}
	return cpy, nil
}

func (repo *mockRepo) ConsumeChallenge(ctx context.Context, id string) error {
	repo.mutex.Lock()
	defer repo.mutex.Unlock()

	ch, ok := repo.challenges[id]
	if !ok || ch.Consumed {
		return ErrInvalidCode
	}
	ch.Consumed = true
	return nil
}

// mailRecorder captures messages instead of sending them.
type mailRecorder struct {
	messages []*core.EmailMessage
}

func (rec *mailRecorder) SendMessages(messages ...*core.EmailMessage) {
	rec.messages = append(rec.messages, messages...)
}

func (rec *mailRecorder) last(t *testing.T) *core.EmailMessage {
	t.Helper()
	if len(rec.messages) == 0 {
		t.Fatal("no messages sent")
	}
	return rec.messages[len(rec.messages)-1]
}

func createMockUser(t *testing.T, repo *mockRepo, tenantID, uname, pwd string, isActive, twoFactor bool) User {
	t.Helper()

	usr := User{
		TenantID:         tenantID,
		Name:             uname,
		Username:         uname,
		Email:            uname + "@test.cd",
		IsActive:         isActive,
		TwoFactorEnabled: twoFactor,
		Roles:            []string{RoleTeacher},
		CreatedAt:        time.Now().UTC(),
	}
	if tenantID == "" {
		usr.Roles = []string{RoleOperator}
	}
	if err := usr.SetPassword(pwd); err != nil {
		t.Fatalf("SetPassword() failed, %v", err)
	}
	usr, err := repo.CreateUser(context.Background(), usr)
	if err != nil {
		t.Fatalf("CreateUser() failed, %v", err)
	}
	return usr
}

func newTestService(repo *mockRepo, mailRec *mailRecorder, attempts int) *Service {
	throttle := NewLoginThrottle(core.LoginThrottleConfig{Attempts: attempts, Window: time.Hour})
	return NewService(repo, mailRec, throttle)
}

func TestService_Authenticate(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	mailRec := &mailRecorder{}
	svc := newTestService(repo, mailRec, 100)

	usr := createMockUser(t, repo, "t1", "awe", "s3cr3t", true, false)
	createMockUser(t, repo, "t1", "gone", "s3cr3t", false, false)
	op := createMockUser(t, repo, "", "root", "s3cr3t", true, false)

	tests := []struct {
		name     string
		tenantID string
		uname    string
		pwd      string
		wantUsr  User
		wantErr  error
	}{
		{name: "unknown user", tenantID: "t1", uname: "lol", pwd: "s3cr3t", wantErr: ErrInvalidCredentials},
		{name: "wrong password", tenantID: "t1", uname: "awe", pwd: "lol", wantErr: ErrInvalidCredentials},
		{name: "deactivated account", tenantID: "t1", uname: "gone", pwd: "s3cr3t", wantErr: ErrAccountDeactivated},
		{name: "wrong tenant", tenantID: "t2", uname: "awe", pwd: "s3cr3t", wantErr: ErrInvalidCredentials},
		{name: "by username", tenantID: "t1", uname: "awe", pwd: "s3cr3t", wantUsr: usr},
		{name: "by email", tenantID: "t1", uname: "awe@test.cd", pwd: "s3cr3t", wantUsr: usr},
		{name: "username is case-insensitive", tenantID: "t1", uname: "AWE", pwd: "s3cr3t", wantUsr: usr},
		{name: "operator on any school host", tenantID: "t1", uname: "root", pwd: "s3cr3t", wantUsr: op},
		{name: "operator wrong password", tenantID: "t1", uname: "root", pwd: "lol", wantErr: ErrInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := svc.Authenticate(ctx, tt.tenantID, tt.uname, tt.pwd, "1.2.3.4")
			if errors.Cause(err) != tt.wantErr {
				t.Fatalf("Authenticate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr == nil {
				if res.User.ID != tt.wantUsr.ID {
					t.Errorf("Authenticate() user = %s, want %s", res.User.ID, tt.wantUsr.ID)
				}
				if res.User.LastLogin.IsZero() {
					t.Error("Authenticate() did not set LastLogin")
				}
			}
		})
	}
}

func TestService_Authenticate_rateLimited(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	svc := newTestService(repo, &mailRecorder{}, 2)

	createMockUser(t, repo, "t1", "awe", "s3cr3t", true, false)

	for i := 0; i < 2; i++ {
		if _, err := svc.Authenticate(ctx, "t1", "awe", "lol", "1.2.3.4"); errors.Cause(err) != ErrInvalidCredentials {
			t.Fatalf("Authenticate() error = %v, wantErr %v", err, ErrInvalidCredentials)
		}
	}

	// the throttle is consulted before the secret is checked
	if _, err := svc.Authenticate(ctx, "t1", "awe", "s3cr3t", "1.2.3.4"); errors.Cause(err) != ErrRateLimited {
		t.Errorf("Authenticate() error = %v, wantErr %v", err, ErrRateLimited)
	}

	// other origins are unaffected
	if _, err := svc.Authenticate(ctx, "t1", "awe", "s3cr3t", "5.6.7.8"); err != nil {
		t.Errorf("Authenticate() unexpected error = %v", err)
	}
}

func TestService_CompleteSecondFactor(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	mailRec := &mailRecorder{}
	svc := newTestService(repo, mailRec, 100)

	usr := createMockUser(t, repo, "t1", "awe", "s3cr3t", true, true)

	res, err := svc.Authenticate(ctx, "t1", "awe", "s3cr3t", "1.2.3.4")
	if err != nil {
		t.Fatalf("Authenticate() failed, %v", err)
	}
	if res.Challenge == nil {
		t.Fatal("Authenticate() did not return a challenge")
	}
	if res.User.ID != "" {
		t.Error("Authenticate() returned the user before the second factor")
	}

	data := mailRec.last(t).TemplateData.(struct {
		Name      string
		Code      string
		ExpiresIn string
	})

	if _, err = svc.CompleteSecondFactor(ctx, res.Challenge.ID, "000000"); errors.Cause(err) != ErrInvalidCode {
		t.Errorf("CompleteSecondFactor() error = %v, wantErr %v", err, ErrInvalidCode)
	}
	if _, err = svc.CompleteSecondFactor(ctx, "lol", data.Code); errors.Cause(err) != ErrInvalidCode {
		t.Errorf("CompleteSecondFactor() error = %v, wantErr %v", err, ErrInvalidCode)
	}

	authedUsr, err := svc.CompleteSecondFactor(ctx, res.Challenge.ID, data.Code)
	if err != nil {
		t.Fatalf("CompleteSecondFactor() failed, %v", err)
	}
	if authedUsr.ID != usr.ID {
		t.Errorf("CompleteSecondFactor() user = %s, want %s", authedUsr.ID, usr.ID)
	}
	if authedUsr.LastLogin.IsZero() {
		t.Error("CompleteSecondFactor() did not set LastLogin")
	}

	// codes are single-use
	if _, err = svc.CompleteSecondFactor(ctx, res.Challenge.ID, data.Code); errors.Cause(err) != ErrInvalidCode {
		t.Errorf("CompleteSecondFactor() error = %v, wantErr %v", err, ErrInvalidCode)
	}
}

func TestService_CompleteSecondFactor_concurrentSubmissions(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	mailRec := &mailRecorder{}
	svc := newTestService(repo, mailRec, 100)

	createMockUser(t, repo, "t1", "awe", "s3cr3t", true, true)

	res, err := svc.Authenticate(ctx, "t1", "awe", "s3cr3t", "1.2.3.4")
	if err != nil {
		t.Fatalf("Authenticate() failed, %v", err)
	}
	data := mailRec.last(t).TemplateData.(struct {
		Name      string
		Code      string
		ExpiresIn string
	})

	// hold both submissions at the point where each has read the challenge
	// as still pending, then let them race to consume it
	var gate sync.WaitGroup
	gate.Add(2)
	repo.challengeHook = func() {
		gate.Done()
		gate.Wait()
	}

	var (
		wg        sync.WaitGroup
		mutex     sync.Mutex
		successes int
		loserErr  error
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.CompleteSecondFactor(ctx, res.Challenge.ID, data.Code)
			mutex.Lock()
			defer mutex.Unlock()
			if err == nil {
				successes++
			} else {
				loserErr = err
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Fatalf("CompleteSecondFactor() succeeded %d times, want exactly 1", successes)
	}
	if errors.Cause(loserErr) != ErrInvalidCode {
		t.Errorf("CompleteSecondFactor() loser error = %v, wantErr %v", loserErr, ErrInvalidCode)
	}
}

func TestService_passwordResetFlow(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	mailRec := &mailRecorder{}
	svc := newTestService(repo, mailRec, 100)

	usr := createMockUser(t, repo, "t1", "awe", "s3cr3t", true, false)

	if err := svc.RequestPasswordReset(ctx, "t1", "awe@test.cd"); err != nil {
		t.Fatalf("RequestPasswordReset() failed, %v", err)
	}
	data := mailRec.last(t).TemplateData.(struct {
		Name  string
		UID   string
		Token string
	})

	rp := ResetUserPassword{UID: data.UID, Token: data.Token, Password: "n3w-pwd", PasswordConfirm: "n3w-pwd"}
	if err := svc.ResetPassword(ctx, "t1", rp); err != nil {
		t.Fatalf("ResetPassword() failed, %v", err)
	}

	refreshed, err := repo.GetUserByID(ctx, "t1", usr.ID)
	if err != nil {
		t.Fatalf("GetUserByID() failed, %v", err)
	}
	if err = refreshed.CheckPassword("n3w-pwd"); err != nil {
		t.Errorf("CheckPassword() failed, %v", err)
	}

	// a used token no longer verifies; the hash value includes the password
	if err = svc.ResetPassword(ctx, "t1", rp); err == nil {
		t.Error("ResetPassword() expected an error for a reused token")
	}

	rp.UID = "???"
	if err = svc.ResetPassword(ctx, "t1", rp); err == nil {
		t.Error("ResetPassword() expected an error for an invalid UID")
	}
}

func TestNewUser_Validate_perTenantUniqueness(t *testing.T) {
	ctx := context.Background()
	repo := newMockRepo()
	svc := newTestService(repo, &mailRecorder{}, 100)

	createMockUser(t, repo, "t1", "awesome", "s3cr3t", true, false)

	nu := NewUser{Name: "Awe", Username: "awesome", Password: "pwd", PasswordConfirm: "pwd"}
	if err := nu.Validate(ctx, svc, "t1"); err == nil {
		t.Error("Validate() expected a uniqueness error in the same school")
	}

	// the same username may exist under two different schools
	nu = NewUser{Name: "Awe", Username: "awesome", Password: "pwd", PasswordConfirm: "pwd"}
	if err := nu.Validate(ctx, svc, "t2"); err != nil {
		t.Errorf("Validate() unexpected error = %v", err)
	}
}
