// Package postgres implements the goIdP persistence interfaces on
// PostgreSQL through lib/pq.
//
// Schema changes ship as goose migrations embedded in the binary; call
// [Migrate] once at start-up before serving traffic.
package postgres
