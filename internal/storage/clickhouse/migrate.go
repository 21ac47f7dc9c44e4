package clickhouse

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"leverage-sync/internal/storage/migrations"
)

const createSchemaMigrations = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    UInt32,
		name       String,
		applied_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree(applied_at)
	ORDER BY version
`

// OpenArchive creates the dsn's database if needed, applies pending
// migrations and returns a connection to it.
func OpenArchive(ctx context.Context, dsn string, ms []migrations.Migration) (*Conn, error) {
	opts, err := parseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := opts.Auth.Database
	if db == "" {
		return nil, fmt.Errorf("clickhouse dsn missing database")
	}
	if strings.ContainsAny(db, "`;") {
		return nil, fmt.Errorf("invalid clickhouse database name %q", db)
	}

	admin, err := NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	err = admin.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", db))
	admin.Close()
	if err != nil {
		return nil, fmt.Errorf("create database %s: %w", db, err)
	}

	conn, err := NewConnWithDatabase(ctx, dsn, db)
	if err != nil {
		return nil, err
	}
	if _, err := conn.Migrate(ctx, ms); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

// Migrate applies migrations whose version is not yet recorded and returns
// the versions it applied. ClickHouse DDL is not transactional: a version is
// recorded after its statement succeeds, so statements must tolerate a rerun
// (IF NOT EXISTS).
func (c *Conn) Migrate(ctx context.Context, ms []migrations.Migration) ([]int, error) {
	if err := c.Exec(ctx, createSchemaMigrations); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	applied, err := c.AppliedVersions(ctx)
	if err != nil {
		return nil, err
	}
	done := make(map[int]bool, len(applied))
	for _, v := range applied {
		done[v] = true
	}

	var ran []int
	for _, m := range ms {
		if done[m.Version] {
			continue
		}
		if err := c.Exec(ctx, m.SQL); err != nil {
			return ran, fmt.Errorf("apply migration %03d_%s: %w", m.Version, m.Name, err)
		}
		if err := c.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`,
			uint32(m.Version), m.Name); err != nil {
			return ran, fmt.Errorf("record migration %03d_%s: %w", m.Version, m.Name, err)
		}
		ran = append(ran, m.Version)
	}
	return ran, nil
}

// AppliedVersions lists recorded schema versions in ascending order.
func (c *Conn) AppliedVersions(ctx context.Context) ([]int, error) {
	rows, err := c.Query(ctx, `SELECT DISTINCT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		out = append(out, int(v))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema_migrations: %w", err)
	}
	sort.Ints(out)
	return out, nil
}
