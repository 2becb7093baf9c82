package goIdP

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"regexp"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	testClientID    = "spa-client"
	testS2SClientID = "s2s-client"
	testS2SSecret   = "s2s-secret-value"
	testRedirectURI = "https://app.example.com/callback"
	testEmail       = "alice@example.com"
	testPassword    = "Correct-Horse-1"
	testVerifier    = "dBjftJeZ4CVP-mJ92K9qrWb7bG2Hv7zCGqxqF0cZ0kE8fQ2Rw"
)

/*
====================================
IN-MEMORY REPOSITORY
====================================
*/

type memRepo struct {
	mu sync.Mutex

	nextID   int64
	users    map[int64]*User
	apps     map[string]*App
	orgs     map[string]*Org
	members  map[int64][]string
	consents map[[2]int64]bool
	passkeys map[int64][]PasskeyCredential
	recovery map[int64]map[string]bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		users:    map[int64]*User{},
		apps:     map[string]*App{},
		orgs:     map[string]*Org{},
		members:  map[int64][]string{},
		consents: map[[2]int64]bool{},
		passkeys: map[int64][]PasskeyCredential{},
		recovery: map[int64]map[string]bool{},
	}
}

func cloneUser(u *User) *User {
	out := *u
	out.Roles = slices.Clone(u.Roles)
	out.MfaTypes = slices.Clone(u.MfaTypes)
	return &out
}

func (r *memRepo) GetUserByID(_ context.Context, id int64) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (r *memRepo) GetUserByAuthID(_ context.Context, authID string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.AuthID == authID {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) GetUserByEmail(_ context.Context, email string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.Email != "" && normalizeEmail(u.Email) == normalizeEmail(email) {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) GetUserBySocial(_ context.Context, accountType, accountID string) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.SocialAccountType == accountType && u.SocialAccountID == accountID {
			return cloneUser(u), nil
		}
	}
	return nil, ErrUserNotFound
}

func (r *memRepo) CreateUser(_ context.Context, in CreateUserInput) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if in.Email != "" && normalizeEmail(u.Email) == normalizeEmail(in.Email) {
			return nil, ErrEmailTaken
		}
	}
	r.nextID++
	u := &User{
		ID:                r.nextID,
		AuthID:            in.AuthID,
		Email:             in.Email,
		PasswordHash:      in.PasswordHash,
		FirstName:         in.FirstName,
		LastName:          in.LastName,
		Locale:            in.Locale,
		Org:               in.Org,
		EmailVerified:     in.EmailVerified,
		SocialAccountID:   in.SocialAccountID,
		SocialAccountType: in.SocialAccountType,
		OtpLastCounter:    -1,
		IsActive:          true,
	}
	r.users[u.ID] = u
	if in.Org != "" {
		r.members[u.ID] = append(r.members[u.ID], in.Org)
	}
	return cloneUser(u), nil
}

func (r *memRepo) UpdateUser(_ context.Context, id int64, up UserUpdate) (*User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	if up.Email != nil {
		u.Email = *up.Email
	}
	if up.PasswordHash != nil {
		u.PasswordHash = *up.PasswordHash
	}
	if up.EmailVerified != nil {
		u.EmailVerified = *up.EmailVerified
	}
	if up.MfaTypes != nil {
		u.MfaTypes = slices.Clone(*up.MfaTypes)
	}
	if up.OtpSecret != nil {
		u.OtpSecret = *up.OtpSecret
	}
	if up.OtpVerified != nil {
		u.OtpVerified = *up.OtpVerified
	}
	if up.OtpLastCounter != nil {
		u.OtpLastCounter = *up.OtpLastCounter
	}
	if up.SmsPhone != nil {
		u.SmsPhone = *up.SmsPhone
	}
	if up.SmsPhoneVerified != nil {
		u.SmsPhoneVerified = *up.SmsPhoneVerified
	}
	if up.SocialAccountID != nil {
		u.SocialAccountID = *up.SocialAccountID
	}
	if up.SocialAccountType != nil {
		u.SocialAccountType = *up.SocialAccountType
	}
	if up.Org != nil {
		u.Org = *up.Org
	}
	return cloneUser(u), nil
}

func (r *memRepo) GetAppByClientID(_ context.Context, clientID string) (*App, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.apps[clientID]
	if !ok {
		return nil, ErrAppNotFound
	}
	out := *a
	return &out, nil
}

func (r *memRepo) GetOrgBySlug(_ context.Context, slug string) (*Org, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orgs[slug]
	if !ok {
		return nil, ErrOrgNotFound
	}
	out := *o
	return &out, nil
}

func (r *memRepo) ListUserOrgs(_ context.Context, userID int64) ([]Org, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Org
	for _, slug := range r.members[userID] {
		if o, ok := r.orgs[slug]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (r *memRepo) HasConsent(_ context.Context, userID, appID int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.consents[[2]int64{userID, appID}], nil
}

func (r *memRepo) RecordConsent(_ context.Context, userID, appID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.consents[[2]int64{userID, appID}] = true
	return nil
}

func (r *memRepo) ListPasskeys(_ context.Context, userID int64) ([]PasskeyCredential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.passkeys[userID]), nil
}

func (r *memRepo) SavePasskey(_ context.Context, userID int64, cred PasskeyCredential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.passkeys[userID] = append(r.passkeys[userID], cred)
	return nil
}

func (r *memRepo) DeletePasskeys(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.passkeys, userID)
	return nil
}

func (r *memRepo) ReplaceRecoveryCodes(_ context.Context, userID int64, hashes []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		set[h] = true
	}
	r.recovery[userID] = set
	return nil
}

func (r *memRepo) ConsumeRecoveryCode(_ context.Context, userID int64, hash string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.recovery[userID][hash] {
		return false, nil
	}
	delete(r.recovery[userID], hash)
	return true, nil
}

func (r *memRepo) DeleteRecoveryCodes(_ context.Context, userID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.recovery, userID)
	return nil
}

func (r *memRepo) putApp(a App) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[a.ClientID] = &a
}

func (r *memRepo) putOrg(o Org, members ...int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orgs[o.Slug] = &o
	for _, id := range members {
		r.members[id] = append(r.members[id], o.Slug)
	}
}

func (r *memRepo) setUser(id int64, fn func(*User)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.users[id])
}

func (r *memRepo) user(id int64) *User {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneUser(r.users[id])
}

/*
====================================
SENDERS
====================================
*/

type sentMessage struct {
	to      string
	subject string
	body    string
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (s *captureSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, subject: subject, body: body})
	return nil
}

func (s *captureSender) SendSMS(_ context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{to: to, body: body})
	return nil
}

func (s *captureSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

var sentCodePattern = regexp.MustCompile(`\b(\d{6,8})\b`)

// lastCode extracts the code from the last message sent to to.
func (s *captureSender) lastCode(t *testing.T, to string) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.sent) - 1; i >= 0; i-- {
		if s.sent[i].to != to {
			continue
		}
		m := sentCodePattern.FindStringSubmatch(s.sent[i].body)
		if m == nil {
			t.Fatalf("no code in message to %s: %q", to, s.sent[i].body)
		}
		return m[1]
	}
	t.Fatalf("no message sent to %s", to)
	return ""
}

/*
====================================
ENGINE HARNESS
====================================
*/

type testEnv struct {
	engine *Engine
	repo   *memRepo
	mr     *miniredis.Miniredis
	email  *captureSender
	sms    *captureSender
	now    time.Time
	user   *User
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.Token.Issuer = "https://id.example.com"
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Consent.Enabled = false
	cfg.Lockout.LoginThreshold = 3
	cfg.Lockout.LoginWindow = 10 * time.Minute
	return cfg
}

func newTestEnv(t *testing.T, cfg Config, extra ...func(*Builder)) *testEnv {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := &testEnv{
		repo:  newMemRepo(),
		mr:    mr,
		email: &captureSender{},
		sms:   &captureSender{},
		now:   time.Now(),
	}
	env.repo.putApp(App{
		ID:                 1,
		ClientID:           testClientID,
		Name:               "Test SPA",
		Type:               AppTypeSPA,
		RedirectURIs:       []string{testRedirectURI},
		IsActive:           true,
		UseSystemMfaConfig: true,
	})
	env.repo.putApp(App{
		ID:                 2,
		ClientID:           testS2SClientID,
		Secret:             testS2SSecret,
		Name:               "Test Service",
		Type:               AppTypeS2S,
		Scopes:             []string{"root", "read"},
		IsActive:           true,
		UseSystemMfaConfig: true,
	})

	builder := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithRepository(env.repo).
		WithEmailSender(env.email).
		WithSMSSender(env.sms).
		WithClock(func() time.Time { return env.now })
	for _, fn := range extra {
		fn(builder)
	}
	engine, err := builder.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine

	hash, err := engine.hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := env.repo.CreateUser(context.Background(), CreateUserInput{
		AuthID:        "auth-alice",
		Email:         testEmail,
		PasswordHash:  hash,
		FirstName:     "Alice",
		LastName:      "Liddell",
		Locale:        "en",
		EmailVerified: true,
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	env.repo.setUser(user.ID, func(u *User) { u.Roles = []string{"admin"} })
	env.user = user
	return env
}

func s256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func authorizeRequest(scope string) AuthorizeRequest {
	return AuthorizeRequest{
		ClientID:            testClientID,
		RedirectURI:         testRedirectURI,
		ResponseType:        "code",
		State:               "xyz",
		Scope:               scope,
		Nonce:               "n-1",
		CodeChallenge:       s256(testVerifier),
		CodeChallengeMethod: CodeChallengeS256,
	}
}

func (env *testEnv) signIn(t *testing.T, scope string) *StepResult {
	t.Helper()
	res, err := env.engine.AuthorizePassword(context.Background(), authorizeRequest(scope), testEmail, testPassword)
	if err != nil {
		t.Fatalf("AuthorizePassword: %v", err)
	}
	return res
}

func (env *testEnv) exchange(t *testing.T, code string) *TokenSet {
	t.Helper()
	tokens, err := env.engine.ExchangeCode(context.Background(), ExchangeInput{
		Code:         code,
		CodeVerifier: testVerifier,
		ClientID:     testClientID,
		RedirectURI:  testRedirectURI,
	})
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	return tokens
}
