// Package postgres stores the alarm panel state in PostgreSQL through the
// database/sql interface backed by the pgx stdlib driver.
package postgres
