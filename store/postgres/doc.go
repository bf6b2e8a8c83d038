// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: FOR UPDATE SKIP LOCKED claims, row-locked mutations that write
// the audit row in the same transaction, embedded SQL migrations.
package postgres
