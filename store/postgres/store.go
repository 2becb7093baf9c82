package postgres

import (
	"database/sql"
	"errors"

	"github.com/lib/pq"

	goIdP "github.com/MrEthical07/goIdP"
)

// uniqueViolation is the SQLSTATE PostgreSQL reports for duplicate keys.
const uniqueViolation = "23505"

// Store implements goIdP.Repository on a *sql.DB opened with the "postgres"
// driver.
type Store struct {
	db *sql.DB
}

var _ goIdP.Repository = (*Store)(nil)

// New wraps db. The caller owns the connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	if string(pqErr.Code) != uniqueViolation {
		return false
	}
	return constraint == "" || pqErr.Constraint == constraint
}

func channelsToStrings(in []goIdP.MfaChannel) []string {
	out := make([]string, 0, len(in))
	for _, c := range in {
		out = append(out, string(c))
	}
	return out
}

func stringsToChannels(in []string) []goIdP.MfaChannel {
	if in == nil {
		return nil
	}
	out := make([]goIdP.MfaChannel, 0, len(in))
	for _, s := range in {
		out = append(out, goIdP.MfaChannel(s))
	}
	return out
}
