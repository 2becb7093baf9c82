package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	goIdP "github.com/MrEthical07/goIdP"
)

const userColumns = `id, auth_id, email, password_hash, social_account_id, social_account_type,
	first_name, last_name, locale, org, roles, mfa_types, email_verified, otp_secret,
	otp_verified, otp_last_counter, sms_phone, sms_phone_verified, is_active, linked_id, deleted_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*goIdP.User, error) {
	var (
		u        goIdP.User
		roles    []string
		mfaTypes []string
		linkedID sql.NullInt64
		deleted  sql.NullTime
	)
	err := row.Scan(
		&u.ID, &u.AuthID, &u.Email, &u.PasswordHash, &u.SocialAccountID, &u.SocialAccountType,
		&u.FirstName, &u.LastName, &u.Locale, &u.Org, pq.Array(&roles), pq.Array(&mfaTypes),
		&u.EmailVerified, &u.OtpSecret, &u.OtpVerified, &u.OtpLastCounter, &u.SmsPhone,
		&u.SmsPhoneVerified, &u.IsActive, &linkedID, &deleted,
	)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	u.MfaTypes = stringsToChannels(mfaTypes)
	u.LinkedID = linkedID.Int64
	if deleted.Valid {
		t := deleted.Time
		u.DeletedAt = &t
	}
	return &u, nil
}

func (s *Store) getUser(ctx context.Context, where string, args ...any) (*goIdP.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, goIdP.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return u, nil
}

// GetUserByID retrieves a user by primary key.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*goIdP.User, error) {
	return s.getUser(ctx, `id = $1`, id)
}

// GetUserByAuthID retrieves a user by the public auth id.
func (s *Store) GetUserByAuthID(ctx context.Context, authID string) (*goIdP.User, error) {
	return s.getUser(ctx, `auth_id = $1`, authID)
}

// GetUserByEmail matches email case-insensitively.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*goIdP.User, error) {
	return s.getUser(ctx, `LOWER(email) = LOWER($1)`, strings.TrimSpace(email))
}

func (s *Store) GetUserBySocial(ctx context.Context, accountType, accountID string) (*goIdP.User, error) {
	if accountID == "" {
		return nil, goIdP.ErrUserNotFound
	}
	return s.getUser(ctx, `social_account_type = $1 AND social_account_id = $2`, accountType, accountID)
}

// CreateUser inserts a new active user. A duplicate email maps to
// goIdP.ErrEmailTaken.
func (s *Store) CreateUser(ctx context.Context, in goIdP.CreateUserInput) (*goIdP.User, error) {
	locale := in.Locale
	if locale == "" {
		locale = "en"
	}
	query := `
		INSERT INTO users (auth_id, email, password_hash, first_name, last_name, locale, org,
			email_verified, social_account_id, social_account_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRowContext(ctx, query,
		in.AuthID, strings.TrimSpace(in.Email), in.PasswordHash, in.FirstName, in.LastName,
		locale, in.Org, in.EmailVerified, in.SocialAccountID, in.SocialAccountType,
	))
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return nil, goIdP.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if in.Org != "" {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO user_orgs (user_id, org_id)
			SELECT $1, id FROM orgs WHERE slug = $2
			ON CONFLICT DO NOTHING`, u.ID, in.Org); err != nil {
			return nil, fmt.Errorf("failed to add org membership: %w", err)
		}
	}
	return u, nil
}

// UpdateUser writes the non-nil fields of update and returns the new row.
func (s *Store) UpdateUser(ctx context.Context, id int64, update goIdP.UserUpdate) (*goIdP.User, error) {
	var (
		sets []string
		args []any
	)
	set := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, column+" = $"+strconv.Itoa(len(args)))
	}

	if update.Email != nil {
		set("email", strings.TrimSpace(*update.Email))
	}
	if update.PasswordHash != nil {
		set("password_hash", *update.PasswordHash)
	}
	if update.EmailVerified != nil {
		set("email_verified", *update.EmailVerified)
	}
	if update.MfaTypes != nil {
		set("mfa_types", pq.Array(channelsToStrings(*update.MfaTypes)))
	}
	if update.OtpSecret != nil {
		set("otp_secret", *update.OtpSecret)
	}
	if update.OtpVerified != nil {
		set("otp_verified", *update.OtpVerified)
	}
	if update.OtpLastCounter != nil {
		set("otp_last_counter", *update.OtpLastCounter)
	}
	if update.SmsPhone != nil {
		set("sms_phone", *update.SmsPhone)
	}
	if update.SmsPhoneVerified != nil {
		set("sms_phone_verified", *update.SmsPhoneVerified)
	}
	if update.SocialAccountID != nil {
		set("social_account_id", *update.SocialAccountID)
	}
	if update.SocialAccountType != nil {
		set("social_account_type", *update.SocialAccountType)
	}
	if update.Org != nil {
		set("org", *update.Org)
	}
	if len(sets) == 0 {
		return s.GetUserByID(ctx, id)
	}

	args = append(args, id)
	query := `UPDATE users SET ` + strings.Join(sets, ", ") + `, updated_at = NOW()
		WHERE id = $` + strconv.Itoa(len(args)) + ` RETURNING ` + userColumns

	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, goIdP.ErrUserNotFound
	}
	if err != nil {
		if isUniqueViolation(err, "users_email_key") {
			return nil, goIdP.ErrEmailTaken
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}
	return u, nil
}
