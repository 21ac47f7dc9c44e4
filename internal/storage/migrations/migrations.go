// Package migrations holds the embedded schema for the outbound sinks.
// Files are named NNN_description.sql; NNN is the schema version recorded
// by the store that applies them.
package migrations

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strconv"
	"strings"
)

//go:embed postgres/*.sql clickhouse/*.sql
var files embed.FS

// Migration is one versioned schema change.
type Migration struct {
	Version int
	Name    string
	SQL     string
}

// Postgres returns the notification journal schema in version order.
func Postgres() ([]Migration, error) {
	return load(files, "postgres", false)
}

// ClickHouse returns the tick archive schema in version order. The native
// protocol runs one statement per Exec, so each file holds exactly one
// statement.
func ClickHouse() ([]Migration, error) {
	return load(files, "clickhouse", true)
}

func load(fsys fs.FS, dir string, single bool) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read %s migrations: %w", dir, err)
	}

	seen := make(map[int]string)
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		version, name, err := parseName(entry.Name())
		if err != nil {
			return nil, err
		}
		if prev, ok := seen[version]; ok {
			return nil, fmt.Errorf("migration version %d used by %s and %s", version, prev, entry.Name())
		}
		seen[version] = entry.Name()

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		sql := strings.TrimSpace(string(data))
		if single {
			if sql, err = singleStatement(sql); err != nil {
				return nil, fmt.Errorf("migration %s: %w", entry.Name(), err)
			}
		}
		if sql == "" {
			return nil, fmt.Errorf("migration %s is empty", entry.Name())
		}
		out = append(out, Migration{Version: version, Name: name, SQL: sql})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// parseName splits "001_price_ticks.sql" into (1, "price_ticks").
func parseName(file string) (int, string, error) {
	base := strings.TrimSuffix(file, ".sql")
	prefix, name, ok := strings.Cut(base, "_")
	if !ok || name == "" {
		return 0, "", fmt.Errorf("migration %s: want NNN_name.sql", file)
	}
	version, err := strconv.Atoi(prefix)
	if err != nil || version <= 0 {
		return 0, "", fmt.Errorf("migration %s: bad version %q", file, prefix)
	}
	return version, name, nil
}

// singleStatement drops comment lines and the trailing semicolon, and
// rejects files that still contain a statement separator.
func singleStatement(sql string) (string, error) {
	var kept []string
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	stmt := strings.TrimSpace(strings.Join(kept, "\n"))
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if strings.Contains(stmt, ";") {
		return "", fmt.Errorf("more than one statement")
	}
	return stmt, nil
}
