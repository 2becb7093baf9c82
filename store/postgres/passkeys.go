package postgres

import (
	"context"
	"fmt"

	goIdP "github.com/MrEthical07/goIdP"
)

func (s *Store) ListPasskeys(ctx context.Context, userID int64) ([]goIdP.PasskeyCredential, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT credential_id, data, created_at
		FROM user_passkeys
		WHERE user_id = $1
		ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list passkeys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []goIdP.PasskeyCredential
	for rows.Next() {
		var c goIdP.PasskeyCredential
		if err := rows.Scan(&c.CredentialID, &c.Data, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan passkey: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate passkeys: %w", err)
	}
	return out, nil
}

// SavePasskey inserts cred, replacing the stored data when the credential id
// is already registered to the same user.
func (s *Store) SavePasskey(ctx context.Context, userID int64, cred goIdP.PasskeyCredential) error {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO user_passkeys (user_id, credential_id, data)
		VALUES ($1, $2, $3)
		ON CONFLICT (credential_id) DO UPDATE SET data = EXCLUDED.data
		WHERE user_passkeys.user_id = EXCLUDED.user_id`,
		userID, cred.CredentialID, cred.Data)
	if err != nil {
		return fmt.Errorf("failed to save passkey: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("passkey credential belongs to another user")
	}
	return nil
}

func (s *Store) DeletePasskeys(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_passkeys WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete passkeys: %w", err)
	}
	return nil
}
