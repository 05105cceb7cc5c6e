// Package sqlstore implements store.Store on top of
// github.com/uptrace/bun, following the teacher's SQL backend: atomic
// single-statement UPDATE ... WHERE CAS transitions, a jobs table with
// status/timestamp columns standing in for lease semantics, and an
// idempotent InitDB that creates the schema and supporting indexes
// inside one transaction.
//
// sqlstore is dialect-agnostic. Callers wire it to either
// modernc.org/sqlite (embedded/dev) or
// github.com/uptrace/bun/dialect/pgdialect with
// github.com/uptrace/bun/driver/pgdriver (production PostgreSQL) by
// constructing the *bun.DB accordingly before calling New.
package sqlstore
