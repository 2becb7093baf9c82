package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	goIdP "github.com/MrEthical07/goIdP"
)

const orgColumns = `o.id, o.slug, o.name, o.is_active, o.allow_sign_up, o.enforce_mfa,
	o.terms_link, o.privacy_policy_link`

func scanOrg(row rowScanner) (*goIdP.Org, error) {
	var (
		org     goIdP.Org
		enforce []string
	)
	err := row.Scan(&org.ID, &org.Slug, &org.Name, &org.IsActive, &org.AllowSignUp,
		pq.Array(&enforce), &org.TermsLink, &org.PrivacyPolicyLink)
	if err != nil {
		return nil, err
	}
	// A NULL list means the org follows the system enforcement list.
	org.EnforceMfa = stringsToChannels(enforce)
	return &org, nil
}

// GetOrgBySlug retrieves an org by its slug.
func (s *Store) GetOrgBySlug(ctx context.Context, slug string) (*goIdP.Org, error) {
	query := `SELECT ` + orgColumns + ` FROM orgs o WHERE o.slug = $1`
	org, err := scanOrg(s.db.QueryRowContext(ctx, query, slug))
	if err == sql.ErrNoRows {
		return nil, goIdP.ErrOrgNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get org: %w", err)
	}
	return org, nil
}

// ListUserOrgs returns the orgs the user is a member of, ordered by name.
func (s *Store) ListUserOrgs(ctx context.Context, userID int64) ([]goIdP.Org, error) {
	query := `
		SELECT ` + orgColumns + `
		FROM orgs o
		JOIN user_orgs m ON m.org_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.name`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list orgs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []goIdP.Org
	for rows.Next() {
		org, err := scanOrg(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan org: %w", err)
		}
		out = append(out, *org)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orgs: %w", err)
	}
	return out, nil
}
