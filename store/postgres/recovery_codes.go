package postgres

import (
	"context"
	"fmt"
)

// ReplaceRecoveryCodes swaps the user's code set in one transaction.
func (s *Store) ReplaceRecoveryCodes(ctx context.Context, userID int64, hashes []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear recovery codes: %w", err)
	}
	for _, h := range hashes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO user_recovery_codes (user_id, code_hash)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING`, userID, h); err != nil {
			return fmt.Errorf("failed to insert recovery code: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit recovery codes: %w", err)
	}
	return nil
}

// ConsumeRecoveryCode deletes the matching hash and reports whether one
// existed. Concurrent callers race on the DELETE so a code is used once.
func (s *Store) ConsumeRecoveryCode(ctx context.Context, userID int64, hash string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM user_recovery_codes WHERE user_id = $1 AND code_hash = $2`, userID, hash)
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to consume recovery code: %w", err)
	}
	return n == 1, nil
}

func (s *Store) DeleteRecoveryCodes(ctx context.Context, userID int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM user_recovery_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete recovery codes: %w", err)
	}
	return nil
}
