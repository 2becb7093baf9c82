package memory

import (
	"context"
	"slices"
	"strings"
	"sync"

	goIdP "github.com/MrEthical07/goIdP"
)

// Store keeps every record in maps guarded by one mutex. Returned values are
// copies; callers never alias stored state.
type Store struct {
	mu sync.RWMutex

	nextID   int64
	users    map[int64]*goIdP.User
	apps     map[string]*goIdP.App
	orgs     map[string]*goIdP.Org
	members  map[int64][]string
	consents map[consentKey]struct{}
	passkeys map[int64][]goIdP.PasskeyCredential
	recovery map[int64]map[string]struct{}
}

type consentKey struct {
	userID int64
	appID  int64
}

var _ goIdP.Repository = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[int64]*goIdP.User),
		apps:     make(map[string]*goIdP.App),
		orgs:     make(map[string]*goIdP.Org),
		members:  make(map[int64][]string),
		consents: make(map[consentKey]struct{}),
		passkeys: make(map[int64][]goIdP.PasskeyCredential),
		recovery: make(map[int64]map[string]struct{}),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneUser(u *goIdP.User) *goIdP.User {
	out := *u
	out.Roles = slices.Clone(u.Roles)
	out.MfaTypes = slices.Clone(u.MfaTypes)
	if u.DeletedAt != nil {
		t := *u.DeletedAt
		out.DeletedAt = &t
	}
	return &out
}

/*
====================================
USERS
====================================
*/

func (s *Store) findUser(match func(*goIdP.User) bool) (*goIdP.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if match(u) {
			return cloneUser(u), nil
		}
	}
	return nil, goIdP.ErrUserNotFound
}

func (s *Store) GetUserByID(_ context.Context, id int64) (*goIdP.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, goIdP.ErrUserNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByAuthID(_ context.Context, authID string) (*goIdP.User, error) {
	return s.findUser(func(u *goIdP.User) bool { return authID != "" && u.AuthID == authID })
}

// GetUserByEmail matches email case-insensitively.
func (s *Store) GetUserByEmail(_ context.Context, email string) (*goIdP.User, error) {
	want := normalizeEmail(email)
	return s.findUser(func(u *goIdP.User) bool { return want != "" && normalizeEmail(u.Email) == want })
}

func (s *Store) GetUserBySocial(_ context.Context, accountType, accountID string) (*goIdP.User, error) {
	return s.findUser(func(u *goIdP.User) bool {
		return accountID != "" && u.SocialAccountType == accountType && u.SocialAccountID == accountID
	})
}

// CreateUser stores a new active user. A taken email yields
// goIdP.ErrEmailTaken.
func (s *Store) CreateUser(_ context.Context, in goIdP.CreateUserInput) (*goIdP.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	email := normalizeEmail(in.Email)
	if email != "" {
		for _, u := range s.users {
			if normalizeEmail(u.Email) == email {
				return nil, goIdP.ErrEmailTaken
			}
		}
	}
	s.nextID++
	u := &goIdP.User{
		ID:                s.nextID,
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
	s.users[u.ID] = u
	if in.Org != "" {
		s.members[u.ID] = append(s.members[u.ID], in.Org)
	}
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, id int64, up goIdP.UserUpdate) (*goIdP.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, goIdP.ErrUserNotFound
	}
	if up.Email != nil {
		email := normalizeEmail(*up.Email)
		for otherID, other := range s.users {
			if otherID != id && normalizeEmail(other.Email) == email {
				return nil, goIdP.ErrEmailTaken
			}
		}
		u.Email = *up.Email
	}
	setIf(&u.PasswordHash, up.PasswordHash)
	setIf(&u.EmailVerified, up.EmailVerified)
	if up.MfaTypes != nil {
		u.MfaTypes = slices.Clone(*up.MfaTypes)
	}
	setIf(&u.OtpSecret, up.OtpSecret)
	setIf(&u.OtpVerified, up.OtpVerified)
	setIf(&u.OtpLastCounter, up.OtpLastCounter)
	setIf(&u.SmsPhone, up.SmsPhone)
	setIf(&u.SmsPhoneVerified, up.SmsPhoneVerified)
	setIf(&u.SocialAccountID, up.SocialAccountID)
	setIf(&u.SocialAccountType, up.SocialAccountType)
	setIf(&u.Org, up.Org)
	return cloneUser(u), nil
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// PutUser inserts or replaces u, assigning an id when u.ID is 0. It returns
// the stored id.
func (s *Store) PutUser(u goIdP.User) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		s.nextID++
		u.ID = s.nextID
	} else if u.ID > s.nextID {
		s.nextID = u.ID
	}
	s.users[u.ID] = cloneUser(&u)
	return u.ID
}

/*
====================================
APPS AND ORGS
====================================
*/

func (s *Store) GetAppByClientID(_ context.Context, clientID string) (*goIdP.App, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.apps[clientID]
	if !ok {
		return nil, goIdP.ErrAppNotFound
	}
	out := *a
	out.RedirectURIs = slices.Clone(a.RedirectURIs)
	out.Scopes = slices.Clone(a.Scopes)
	return &out, nil
}

// PutApp registers or replaces an app.
func (s *Store) PutApp(a goIdP.App) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a.RedirectURIs = slices.Clone(a.RedirectURIs)
	a.Scopes = slices.Clone(a.Scopes)
	s.apps[a.ClientID] = &a
}

func (s *Store) GetOrgBySlug(_ context.Context, slug string) (*goIdP.Org, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orgs[slug]
	if !ok {
		return nil, goIdP.ErrOrgNotFound
	}
	out := *o
	out.EnforceMfa = slices.Clone(o.EnforceMfa)
	return &out, nil
}

func (s *Store) ListUserOrgs(_ context.Context, userID int64) ([]goIdP.Org, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]goIdP.Org, 0, len(s.members[userID]))
	for _, slug := range s.members[userID] {
		if o, ok := s.orgs[slug]; ok {
			out = append(out, *o)
		}
	}
	return out, nil
}

// PutOrg registers an org and adds members to it.
func (s *Store) PutOrg(o goIdP.Org, members ...int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[o.Slug] = &o
	for _, id := range members {
		if !slices.Contains(s.members[id], o.Slug) {
			s.members[id] = append(s.members[id], o.Slug)
		}
	}
}

/*
====================================
CONSENTS, PASSKEYS, RECOVERY CODES
====================================
*/

func (s *Store) HasConsent(_ context.Context, userID, appID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.consents[consentKey{userID, appID}]
	return ok, nil
}

func (s *Store) RecordConsent(_ context.Context, userID, appID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consents[consentKey{userID, appID}] = struct{}{}
	return nil
}

func (s *Store) ListPasskeys(_ context.Context, userID int64) ([]goIdP.PasskeyCredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.passkeys[userID]), nil
}

func (s *Store) SavePasskey(_ context.Context, userID int64, cred goIdP.PasskeyCredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.passkeys[userID] = append(s.passkeys[userID], cred)
	return nil
}

func (s *Store) DeletePasskeys(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.passkeys, userID)
	return nil
}

func (s *Store) ReplaceRecoveryCodes(_ context.Context, userID int64, hashes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	s.recovery[userID] = set
	return nil
}

// ConsumeRecoveryCode removes hash and reports whether it was present.
func (s *Store) ConsumeRecoveryCode(_ context.Context, userID int64, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recovery[userID][hash]; !ok {
		return false, nil
	}
	delete(s.recovery[userID], hash)
	return true, nil
}

func (s *Store) DeleteRecoveryCodes(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recovery, userID)
	return nil
}
