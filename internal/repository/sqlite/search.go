package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/sakif/phonebook/internal/country"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

var _ repository.SearchRepository = (*DB)(nil)

// FULL-TEXT SEARCH:
// profiles_fts is an FTS5 table holding one document per listed profile.
// The document is derived from the profile row and its groups, and is
// rewritten whenever either changes (indexProfile). Incomplete and deleted
// profiles have no document, so they can never show up in results.
//
// profiles_public_fts holds the documents a signed-out visitor may search.
// Only public-indexable profiles have one, and it is built from the profile
// as the public sees it, so a field kept for Mozillians can never be matched
// from the outside.
//
// The country column holds the code and the English name ("US United
// States"), which is how a search for "united states" finds people whose
// profile only stores "US".

// execer is the subset of *sql.DB / *sql.Tx used by indexProfile.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// searchTables lists both indexes; indexProfile and ReindexProfiles keep
// them in step.
var searchTables = []string{"profiles_fts", "profiles_public_fts"}

// indexProfile replaces the search documents of one profile.
func indexProfile(ctx context.Context, q execer, profileID string) error {
	for _, table := range searchTables {
		if _, err := q.ExecContext(ctx, `DELETE FROM `+table+` WHERE profile_id = ?`, profileID); err != nil {
			return fmt.Errorf("sqlite: removing search document %s from %s: %w", profileID, table, err)
		}
	}

	p, err := scanProfile(q.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles p WHERE p.id = ?`, profileID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("sqlite: loading profile %s for indexing: %w", profileID, err)
	}
	if !p.IsActive || !p.IsComplete() {
		return nil
	}

	if err := writeDocument(ctx, q, "profiles_fts", p); err != nil {
		return err
	}
	if p.IsPublicIndexable() {
		return writeDocument(ctx, q, "profiles_public_fts", p.Redacted(model.Public))
	}
	return nil
}

func writeDocument(ctx context.Context, q execer, table string, p *model.Profile) error {
	countryText := ""
	if p.Country != "" {
		countryText = strings.TrimSpace(p.Country + " " + country.Name(p.Country))
	}
	_, err := q.ExecContext(ctx,
		`INSERT INTO `+table+` (profile_id, username, full_name, email, ircname, bio, country, region, city, group_names)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, p.FullName, p.EmailAddress(), p.IRCName, p.Bio,
		countryText, p.Region, p.City, strings.Join(p.Groups, " "),
	)
	if err != nil {
		return fmt.Errorf("sqlite: writing search document %s to %s: %w", p.ID, table, err)
	}
	return nil
}

// ftsQuery turns free text into an FTS5 MATCH expression.
//
// Each word becomes a quoted prefix term ("nik"*), and all terms must
// match. Quoting keeps FTS5 operators typed by users (AND, NEAR, -, :) from
// being interpreted. Words without a letter or digit are dropped. An empty
// result means "no text filter".
func ftsQuery(terms string) string {
	var parts []string
	for _, word := range strings.Fields(strings.ToLower(terms)) {
		if !strings.ContainsFunc(word, func(r rune) bool { return unicode.IsLetter(r) || unicode.IsDigit(r) }) {
			continue
		}
		parts = append(parts, `"`+strings.ReplaceAll(word, `"`, `""`)+`"*`)
	}
	return strings.Join(parts, " AND ")
}

// SearchProfiles runs a full-text query against the member index, or the
// public index when q.Public is set. Results are ordered by full name.
func (db *DB) SearchProfiles(ctx context.Context, q repository.SearchQuery) (*repository.SearchResult, error) {
	table := "profiles_fts"
	if q.Public {
		table = "profiles_public_fts"
	}
	where := []string{"p.is_active = 1"}
	var args []any

	if match := ftsQuery(q.Terms); match != "" {
		where = append(where, `p.id IN (SELECT profile_id FROM `+table+` WHERE `+table+` MATCH ?)`)
		args = append(args, match)
	} else {
		where = append(where, `p.id IN (SELECT profile_id FROM `+table+`)`)
	}
	if !q.IncludeNonVouched {
		where = append(where, "p.is_vouched = 1")
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM profiles p WHERE `+cond, args...,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("sqlite: counting search results: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles p WHERE `+cond+`
		  ORDER BY p.full_name COLLATE NOCASE, p.username
		  LIMIT ? OFFSET ?`,
		append(args, q.Limit, q.Offset)...,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching profiles: %w", err)
	}
	profiles, err := scanProfiles(rows)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching profiles: %w", err)
	}

	return &repository.SearchResult{Profiles: profiles, Total: total}, nil
}

// ReindexProfiles drops every search document and rebuilds both indexes
// from the profiles table in one transaction. The count is the number of
// member documents.
func (db *DB) ReindexProfiles(ctx context.Context) (int, error) {
	var count int
	err := db.withTx(ctx, func(tx *sql.Tx) error {
		for _, table := range searchTables {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("sqlite: clearing search index %s: %w", table, err)
			}
		}

		ids, err := profileIDs(ctx, tx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			if err := indexProfile(ctx, tx, id); err != nil {
				return err
			}
		}

		return tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM profiles_fts`).Scan(&count)
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func profileIDs(ctx context.Context, tx *sql.Tx) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT id FROM profiles ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing profile ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("sqlite: scanning profile id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
