// Package stores persists workflow run history in SQLite: one row per run,
// one row per attempted transition and an append-only event log. Schema
// changes are embedded golang-migrate migrations applied by Migrate.
package stores
