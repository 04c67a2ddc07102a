package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

var _ repository.BlacklistRepository = (*DB)(nil)

// ListBlacklist returns every blacklist entry. The initial entries are
// seeded by the first migration.
func (db *DB) ListBlacklist(ctx context.Context) ([]model.BlacklistEntry, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT value, is_regex FROM username_blacklist ORDER BY value`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing username blacklist: %w", err)
	}
	defer rows.Close()

	entries := []model.BlacklistEntry{}
	for rows.Next() {
		var e model.BlacklistEntry
		if err := rows.Scan(&e.Value, &e.IsRegex); err != nil {
			return nil, fmt.Errorf("sqlite: scanning blacklist entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (db *DB) AddBlacklistEntry(ctx context.Context, e model.BlacklistEntry) error {
	value := e.Value
	if !e.IsRegex {
		value = strings.ToLower(value)
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT OR REPLACE INTO username_blacklist (value, is_regex) VALUES (?, ?)`,
		value, e.IsRegex,
	)
	if err != nil {
		return fmt.Errorf("sqlite: adding blacklist entry %q: %w", e.Value, err)
	}
	return nil
}
