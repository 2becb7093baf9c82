package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	goIdP "github.com/MrEthical07/goIdP"
)

// GetAppByClientID retrieves a registered client.
func (s *Store) GetAppByClientID(ctx context.Context, clientID string) (*goIdP.App, error) {
	query := `
		SELECT id, client_id, secret, name, type, redirect_uris, scopes, is_active,
			use_system_mfa_config, require_email_mfa, require_otp_mfa, require_sms_mfa
		FROM apps WHERE client_id = $1`

	var (
		app     goIdP.App
		appType string
	)
	err := s.db.QueryRowContext(ctx, query, clientID).Scan(
		&app.ID, &app.ClientID, &app.Secret, &app.Name, &appType,
		pq.Array(&app.RedirectURIs), pq.Array(&app.Scopes), &app.IsActive,
		&app.UseSystemMfaConfig, &app.RequireEmailMfa, &app.RequireOtpMfa, &app.RequireSmsMfa,
	)
	if err == sql.ErrNoRows {
		return nil, goIdP.ErrAppNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get app: %w", err)
	}
	app.Type = goIdP.AppType(appType)
	return &app, nil
}
