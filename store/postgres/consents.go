package postgres

import (
	"context"
	"fmt"
)

func (s *Store) HasConsent(ctx context.Context, userID, appID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM user_app_consents WHERE user_id = $1 AND app_id = $2)`,
		userID, appID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check consent: %w", err)
	}
	return exists, nil
}

// RecordConsent is idempotent.
func (s *Store) RecordConsent(ctx context.Context, userID, appID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_app_consents (user_id, app_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, app_id) DO NOTHING`, userID, appID)
	if err != nil {
		return fmt.Errorf("failed to record consent: %w", err)
	}
	return nil
}
