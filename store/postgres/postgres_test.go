package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	goIdP "github.com/MrEthical07/goIdP"
)

// setupTestDB connects to GOIDP_TEST_POSTGRES_DSN and runs migrations. The
// tests are skipped when the variable is unset.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("GOIDP_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("GOIDP_TEST_POSTGRES_DSN not set")
	}

	db, err := Open(dsn)
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, Migrate(db), "Failed to run migrations")
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func createTestUser(t *testing.T, s *Store, org string) *goIdP.User {
	t.Helper()
	authID := uuid.NewString()
	u, err := s.CreateUser(context.Background(), goIdP.CreateUserInput{
		AuthID:       authID,
		Email:        authID + "@example.com",
		PasswordHash: "hash",
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Org:          org,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.db.Exec(`DELETE FROM users WHERE id = $1`, u.ID)
	})
	return u
}

func TestUserLifecycle(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()

	u := createTestUser(t, s, "")
	assert.True(t, u.IsActive)
	assert.Equal(t, "en", u.Locale)
	assert.Equal(t, int64(-1), u.OtpLastCounter)
	assert.Empty(t, u.MfaTypes)

	byEmail, err := s.GetUserByEmail(ctx, "  "+u.Email)
	require.NoError(t, err)
	assert.Equal(t, u.ID, byEmail.ID)

	byAuthID, err := s.GetUserByAuthID(ctx, u.AuthID)
	require.NoError(t, err)
	assert.Equal(t, u.Email, byAuthID.Email)

	types := []goIdP.MfaChannel{goIdP.MfaOtp, goIdP.MfaEmail}
	secret := "JBSWY3DPEHPK3PXP"
	updated, err := s.UpdateUser(ctx, u.ID, goIdP.UserUpdate{MfaTypes: &types, OtpSecret: &secret})
	require.NoError(t, err)
	assert.Equal(t, types, updated.MfaTypes)
	assert.Equal(t, secret, updated.OtpSecret)

	_, err = s.CreateUser(ctx, goIdP.CreateUserInput{AuthID: uuid.NewString(), Email: u.Email})
	assert.ErrorIs(t, err, goIdP.ErrEmailTaken)

	_, err = s.GetUserByID(ctx, -1)
	assert.ErrorIs(t, err, goIdP.ErrUserNotFound)
}

func TestGetUserBySocial(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()

	u := createTestUser(t, s, "")
	accountID := uuid.NewString()
	accountType := "github"
	_, err := s.UpdateUser(ctx, u.ID, goIdP.UserUpdate{SocialAccountID: &accountID, SocialAccountType: &accountType})
	require.NoError(t, err)

	got, err := s.GetUserBySocial(ctx, "github", accountID)
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.GetUserBySocial(ctx, "google", accountID)
	assert.ErrorIs(t, err, goIdP.ErrUserNotFound)
}

func TestOrgMembershipAndConsent(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()

	slug := "org-" + uuid.NewString()
	_, err := db.Exec(`INSERT INTO orgs (slug, name, enforce_mfa) VALUES ($1, 'Acme', '{otp}')`, slug)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM orgs WHERE slug = $1`, slug) })

	org, err := s.GetOrgBySlug(ctx, slug)
	require.NoError(t, err)
	assert.Equal(t, []goIdP.MfaChannel{goIdP.MfaOtp}, org.EnforceMfa)

	u := createTestUser(t, s, slug)
	orgs, err := s.ListUserOrgs(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, orgs, 1)
	assert.Equal(t, slug, orgs[0].Slug)

	clientID := "app-" + uuid.NewString()
	_, err = db.Exec(`INSERT INTO apps (client_id, name, type, redirect_uris) VALUES ($1, 'Web', 'spa', '{https://app.example.com/cb}')`, clientID)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = db.Exec(`DELETE FROM apps WHERE client_id = $1`, clientID) })

	app, err := s.GetAppByClientID(ctx, clientID)
	require.NoError(t, err)
	assert.Equal(t, goIdP.AppTypeSPA, app.Type)
	assert.Equal(t, []string{"https://app.example.com/cb"}, app.RedirectURIs)

	ok, err := s.HasConsent(ctx, u.ID, app.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.RecordConsent(ctx, u.ID, app.ID))
	require.NoError(t, s.RecordConsent(ctx, u.ID, app.ID))

	ok, err = s.HasConsent(ctx, u.ID, app.ID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRecoveryCodesConsumedOnce(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()

	u := createTestUser(t, s, "")
	require.NoError(t, s.ReplaceRecoveryCodes(ctx, u.ID, []string{"h1", "h2"}))

	ok, err := s.ConsumeRecoveryCode(ctx, u.ID, "h1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.ConsumeRecoveryCode(ctx, u.ID, "h1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.DeleteRecoveryCodes(ctx, u.ID))
	ok, err = s.ConsumeRecoveryCode(ctx, u.ID, "h2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPasskeys(t *testing.T) {
	db := setupTestDB(t)
	s := New(db)
	ctx := context.Background()

	u := createTestUser(t, s, "")
	credID := []byte(uuid.NewString())
	require.NoError(t, s.SavePasskey(ctx, u.ID, goIdP.PasskeyCredential{CredentialID: credID, Data: []byte(`{"a":1}`)}))
	require.NoError(t, s.SavePasskey(ctx, u.ID, goIdP.PasskeyCredential{CredentialID: credID, Data: []byte(`{"a":2}`)}))

	list, err := s.ListPasskeys(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, []byte(`{"a":2}`), list[0].Data)

	other := createTestUser(t, s, "")
	assert.Error(t, s.SavePasskey(ctx, other.ID, goIdP.PasskeyCredential{CredentialID: credID, Data: []byte(`{}`)}))

	require.NoError(t, s.DeletePasskeys(ctx, u.ID))
	list, err = s.ListPasskeys(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
