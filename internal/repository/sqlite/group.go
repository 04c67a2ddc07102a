package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

var _ repository.GroupRepository = (*DB)(nil)

const groupColumns = `
	g.id, g.name, g.url, g.description, g.system, g.auto_complete, g.created_at,
	(SELECT COUNT(*) FROM group_members gm WHERE gm.group_id = g.id) AS num_members`

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify turns a group name into the URL segment used by /group/{url}.
func Slugify(name string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(name), "-"), "-")
}

// NormalizeGroupName lower-cases and trims a group name. Group names are
// compared case-insensitively everywhere, so they are stored lower-cased.
func NormalizeGroupName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

func scanGroup(row rowScanner) (*model.Group, error) {
	var g model.Group
	if err := row.Scan(&g.ID, &g.Name, &g.URL, &g.Description, &g.System, &g.AutoComplete, &g.CreatedAt, &g.NumMembers); err != nil {
		return nil, err
	}
	return &g, nil
}

// ListGroups returns one page of groups plus the total number of groups.
func (db *DB) ListGroups(ctx context.Context, sortBy repository.GroupSort, opts repository.ListOptions) ([]model.Group, int, error) {
	order := "g.name COLLATE NOCASE ASC"
	switch sortBy {
	case repository.SortByMembersDesc:
		order = "num_members DESC, g.name COLLATE NOCASE ASC"
	case repository.SortByMembersAsc:
		order = "num_members ASC, g.name COLLATE NOCASE ASC"
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM member_groups`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlite: counting groups: %w", err)
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM member_groups g ORDER BY `+order+` LIMIT ? OFFSET ?`,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlite: listing groups: %w", err)
	}
	defer rows.Close()

	groups := []model.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlite: scanning group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, total, rows.Err()
}

func (db *DB) GetGroupByURL(ctx context.Context, url string) (*model.Group, error) {
	g, err := scanGroup(db.conn.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM member_groups g WHERE g.url = ?`, url))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("group", url)
		}
		return nil, fmt.Errorf("sqlite: getting group %q: %w", url, err)
	}
	return g, nil
}

// ListGroupMembers returns the publicly listed members of a group.
func (db *DB) ListGroupMembers(ctx context.Context, groupID string, opts repository.ListOptions) ([]model.Profile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles p
		   JOIN group_members m ON m.profile_id = p.id
		  WHERE m.group_id = ? AND `+completeAndVisible+`
		  ORDER BY p.full_name COLLATE NOCASE, p.username
		  LIMIT ? OFFSET ?`,
		groupID, opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing members of %s: %w", groupID, err)
	}
	return scanProfiles(rows)
}

// AddGroupMember adds a membership and refreshes the member's search
// document. Adding an existing member is a no-op.
func (db *DB) AddGroupMember(ctx context.Context, groupID, profileID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, profile_id) VALUES (?, ?)`,
			groupID, profileID,
		); err != nil {
			return fmt.Errorf("sqlite: adding %s to group %s: %w", profileID, groupID, err)
		}
		return indexProfile(ctx, tx, profileID)
	})
}

func (db *DB) RemoveGroupMember(ctx context.Context, groupID, profileID string) error {
	return db.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ? AND profile_id = ?`,
			groupID, profileID,
		); err != nil {
			return fmt.Errorf("sqlite: removing %s from group %s: %w", profileID, groupID, err)
		}
		return indexProfile(ctx, tx, profileID)
	})
}

// SearchGroups returns auto-complete groups whose name contains term.
// An empty term matches nothing.
func (db *DB) SearchGroups(ctx context.Context, term string, limit int) ([]model.Group, error) {
	term = NormalizeGroupName(term)
	if term == "" {
		return []model.Group{}, nil
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM member_groups g
		  WHERE g.auto_complete = 1 AND g.system = 0 AND instr(g.name, ?) > 0
		  ORDER BY g.name LIMIT ?`,
		term, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: searching groups %q: %w", term, err)
	}
	defer rows.Close()

	groups := []model.Group{}
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// replaceGroups makes the profile's non-system memberships equal to names.
// Names of system groups are skipped: those memberships belong to policy.
func replaceGroups(ctx context.Context, tx *sql.Tx, profileID string, names []string, now time.Time) error {
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM group_members
		  WHERE profile_id = ?
		    AND group_id IN (SELECT id FROM member_groups WHERE system = 0)`,
		profileID,
	); err != nil {
		return fmt.Errorf("sqlite: clearing groups of %s: %w", profileID, err)
	}

	seen := make(map[string]bool, len(names))
	for _, raw := range names {
		name := NormalizeGroupName(raw)
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true

		id, system, err := getOrCreateGroup(ctx, tx, name, false, now)
		if err != nil {
			return err
		}
		if system {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, profile_id) VALUES (?, ?)`,
			id, profileID,
		); err != nil {
			return fmt.Errorf("sqlite: adding %s to group %q: %w", profileID, name, err)
		}
	}
	return nil
}

// setSystemMembership adds or removes the profile from a system group,
// creating the group if it is missing.
func setSystemMembership(ctx context.Context, tx *sql.Tx, profileID, name string, member bool, now time.Time) error {
	id, system, err := getOrCreateGroup(ctx, tx, NormalizeGroupName(name), true, now)
	if err != nil {
		return err
	}
	if !system {
		return fmt.Errorf("sqlite: group %q exists but is not a system group", name)
	}

	if member {
		_, err = tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO group_members (group_id, profile_id) VALUES (?, ?)`, id, profileID)
	} else {
		_, err = tx.ExecContext(ctx,
			`DELETE FROM group_members WHERE group_id = ? AND profile_id = ?`, id, profileID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: setting %q membership of %s: %w", name, profileID, err)
	}
	return nil
}

func getOrCreateGroup(ctx context.Context, tx *sql.Tx, name string, system bool, now time.Time) (string, bool, error) {
	var (
		id       string
		isSystem bool
	)
	err := tx.QueryRowContext(ctx,
		`SELECT id, system FROM member_groups WHERE name = ?`, name,
	).Scan(&id, &isSystem)
	if err == nil {
		return id, isSystem, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return "", false, fmt.Errorf("sqlite: looking up group %q: %w", name, err)
	}

	base := Slugify(name)
	if base == "" {
		return "", false, apperror.ValidationFailed("groups", fmt.Sprintf("%q is not a usable group name", name))
	}
	slug, err := freeSlug(ctx, tx, base)
	if err != nil {
		return "", false, err
	}

	id = xid.New().String()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO member_groups (id, name, url, system, auto_complete, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, name, slug, system, !system, now,
	)
	if err != nil {
		if verr, ok := uniqueViolation(err); ok {
			return "", false, verr
		}
		return "", false, fmt.Errorf("sqlite: creating group %q: %w", name, err)
	}
	return id, system, nil
}

// freeSlug returns base, or the first of base-2, base-3, ... that no group
// uses yet. Slugs are lossy ("c++" and "c#" both become "c"), so two
// distinct names can share a base.
func freeSlug(ctx context.Context, tx *sql.Tx, base string) (string, error) {
	slug := base
	for n := 2; ; n++ {
		var taken bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM member_groups WHERE url = ?)`, slug,
		).Scan(&taken); err != nil {
			return "", fmt.Errorf("sqlite: checking group url %q: %w", slug, err)
		}
		if !taken {
			return slug, nil
		}
		slug = fmt.Sprintf("%s-%d", base, n)
	}
}

func profileGroups(ctx context.Context, tx *sql.Tx, profileID string) ([]string, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT g.name FROM member_groups g
		   JOIN group_members m ON m.group_id = g.id
		  WHERE m.profile_id = ?`,
		profileID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing groups of %s: %w", profileID, err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, fmt.Errorf("sqlite: scanning group name: %w", err)
		}
		names = append(names, n)
	}
	sort.Strings(names)
	return names, rows.Err()
}
