package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

// compile-time check that *DB implements repository.ProfileRepository
var _ repository.ProfileRepository = (*DB)(nil)

// groupSep separates group names in the GROUP_CONCAT column below.
// Group names are free text, so a comma would be ambiguous.
const groupSep = "\x1f"

const profileColumns = `
	p.id, p.username, p.email, p.full_name, p.bio, p.ircname, p.website,
	p.country, p.region, p.city, p.is_vouched, p.date_vouched, p.vouched_by,
	p.is_active, p.is_admin, p.created_at, p.updated_at,
	p.privacy_full_name, p.privacy_ircname, p.privacy_email, p.privacy_website,
	p.privacy_bio, p.privacy_city, p.privacy_region, p.privacy_country,
	p.privacy_groups, p.privacy_vouched_by,
	(SELECT GROUP_CONCAT(g.name, char(31))
	   FROM group_members gm JOIN member_groups g ON g.id = gm.group_id
	  WHERE gm.profile_id = p.id)`

// completeAndVisible restricts a query to profiles that are listed publicly:
// finished registration, vouched and not deleted.
const completeAndVisible = `p.is_active = 1 AND p.is_vouched = 1 AND trim(p.full_name) <> ''`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanProfile(row rowScanner) (*model.Profile, error) {
	var (
		p           model.Profile
		email       sql.NullString
		dateVouched sql.NullTime
		vouchedBy   sql.NullString
		groups      sql.NullString
	)
	err := row.Scan(
		&p.ID, &p.Username, &email, &p.FullName, &p.Bio, &p.IRCName, &p.Website,
		&p.Country, &p.Region, &p.City, &p.IsVouched, &dateVouched, &vouchedBy,
		&p.IsActive, &p.IsAdmin, &p.CreatedAt, &p.UpdatedAt,
		&p.Privacy.FullName, &p.Privacy.IRCName, &p.Privacy.Email, &p.Privacy.Website,
		&p.Privacy.Bio, &p.Privacy.City, &p.Privacy.Region, &p.Privacy.Country,
		&p.Privacy.Groups, &p.Privacy.VouchedBy,
		&groups,
	)
	if err != nil {
		return nil, err
	}

	p.Email = stringPtr(email)
	p.VouchedBy = stringPtr(vouchedBy)
	if dateVouched.Valid {
		t := dateVouched.Time
		p.DateVouched = &t
	}
	p.Groups = []string{}
	if groups.Valid && groups.String != "" {
		p.Groups = strings.Split(groups.String, groupSep)
		sort.Strings(p.Groups)
	}
	return &p, nil
}

func scanProfiles(rows *sql.Rows) ([]model.Profile, error) {
	defer rows.Close()
	profiles := []model.Profile{}
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning profile: %w", err)
		}
		profiles = append(profiles, *p)
	}
	return profiles, rows.Err()
}

// SaveProfile inserts or updates a profile together with its memberships and
// search document.
//
// On return p reflects the stored row: ID and timestamps are set and Groups
// lists the memberships after the change. If anything fails the transaction
// is rolled back and p.ID is left as it was.
func (db *DB) SaveProfile(ctx context.Context, p *model.Profile, opts repository.SaveOptions) error {
	originalID := p.ID
	now := time.Now().UTC()
	p.Privacy = p.Privacy.WithDefaults()

	err := db.withTx(ctx, func(tx *sql.Tx) error {
		if p.ID == "" {
			p.ID = xid.New().String()
			p.CreatedAt = now
			p.UpdatedAt = now
			if err := insertProfile(ctx, tx, p); err != nil {
				return err
			}
		} else {
			p.UpdatedAt = now
			if err := updateProfile(ctx, tx, p); err != nil {
				return err
			}
		}

		if opts.ReplaceGroups {
			if err := replaceGroups(ctx, tx, p.ID, opts.Groups, now); err != nil {
				return err
			}
		}

		names := make([]string, 0, len(opts.SystemGroups))
		for name := range opts.SystemGroups {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := setSystemMembership(ctx, tx, p.ID, name, opts.SystemGroups[name], now); err != nil {
				return err
			}
		}

		if err := indexProfile(ctx, tx, p.ID); err != nil {
			return err
		}

		groups, err := profileGroups(ctx, tx, p.ID)
		if err != nil {
			return err
		}
		p.Groups = groups
		return nil
	})
	if err != nil {
		p.ID = originalID
		return err
	}
	return nil
}

func insertProfile(ctx context.Context, tx *sql.Tx, p *model.Profile) error {
	args := []any{
		p.ID, p.Username, nullString(p.Email), p.FullName, p.Bio, p.IRCName, p.Website,
		p.Country, p.Region, p.City, p.IsVouched, nullTime(p.DateVouched), nullString(p.VouchedBy),
		p.IsActive, p.IsAdmin, p.CreatedAt, p.UpdatedAt,
	}
	args = append(args, privacyArgs(p.Privacy)...)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO profiles (id, username, email, full_name, bio, ircname, website,
		                       country, region, city, is_vouched, date_vouched, vouched_by,
		                       is_active, is_admin, created_at, updated_at,
		                       privacy_full_name, privacy_ircname, privacy_email, privacy_website,
		                       privacy_bio, privacy_city, privacy_region, privacy_country,
		                       privacy_groups, privacy_vouched_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
		         ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		args...,
	)
	if err != nil {
		if verr, ok := uniqueViolation(err); ok {
			return verr
		}
		return fmt.Errorf("sqlite: inserting profile %q: %w", p.Username, err)
	}
	return nil
}

func updateProfile(ctx context.Context, tx *sql.Tx, p *model.Profile) error {
	args := []any{
		p.Username, nullString(p.Email), p.FullName, p.Bio, p.IRCName,
		p.Website, p.Country, p.Region, p.City, p.IsVouched,
		nullTime(p.DateVouched), nullString(p.VouchedBy), p.IsActive, p.IsAdmin, p.UpdatedAt,
	}
	args = append(args, privacyArgs(p.Privacy)...)
	args = append(args, p.ID)
	result, err := tx.ExecContext(ctx,
		`UPDATE profiles SET username = ?, email = ?, full_name = ?, bio = ?, ircname = ?,
		        website = ?, country = ?, region = ?, city = ?, is_vouched = ?,
		        date_vouched = ?, vouched_by = ?, is_active = ?, is_admin = ?, updated_at = ?,
		        privacy_full_name = ?, privacy_ircname = ?, privacy_email = ?, privacy_website = ?,
		        privacy_bio = ?, privacy_city = ?, privacy_region = ?, privacy_country = ?,
		        privacy_groups = ?, privacy_vouched_by = ?
		  WHERE id = ?`,
		args...,
	)
	if err != nil {
		if verr, ok := uniqueViolation(err); ok {
			return verr
		}
		return fmt.Errorf("sqlite: updating profile %s: %w", p.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("profile", p.ID)
	}
	return nil
}

// GetProfileByID retrieves a profile by its internal ID.
// Returns apperror.ErrNotFound if no profile exists with that ID.
func (db *DB) GetProfileByID(ctx context.Context, id string) (*model.Profile, error) {
	return db.getProfile(ctx, "p.id = ?", id)
}

// GetProfileByUsername matches case-insensitively (the column is NOCASE).
func (db *DB) GetProfileByUsername(ctx context.Context, username string) (*model.Profile, error) {
	return db.getProfile(ctx, "p.username = ?", username)
}

func (db *DB) GetProfileByEmail(ctx context.Context, email string) (*model.Profile, error) {
	return db.getProfile(ctx, "p.email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (db *DB) getProfile(ctx context.Context, where string, arg string) (*model.Profile, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM profiles p WHERE `+where, arg)
	p, err := scanProfile(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("profile", arg)
		}
		return nil, fmt.Errorf("sqlite: getting profile %q: %w", arg, err)
	}
	return p, nil
}

func (db *DB) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := db.conn.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE username = ?)`, username,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("sqlite: checking username %q: %w", username, err)
	}
	return exists, nil
}

// ListVouchedBy returns the profiles the given member vouched for.
func (db *DB) ListVouchedBy(ctx context.Context, voucherID string) ([]model.Profile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles p
		  WHERE p.vouched_by = ? AND p.is_active = 1
		  ORDER BY p.date_vouched DESC`,
		voucherID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing vouches of %s: %w", voucherID, err)
	}
	return scanProfiles(rows)
}

// ListByLocation returns listed profiles in a country, optionally narrowed
// to a region and a city. Comparisons ignore case.
func (db *DB) ListByLocation(ctx context.Context, loc repository.Location, opts repository.ListOptions) ([]model.Profile, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+profileColumns+` FROM profiles p
		  WHERE `+completeAndVisible+`
		    AND (? = '' OR p.country = ? COLLATE NOCASE)
		    AND (? = '' OR p.region  = ? COLLATE NOCASE)
		    AND (? = '' OR p.city    = ? COLLATE NOCASE)
		  ORDER BY p.full_name COLLATE NOCASE, p.username
		  LIMIT ? OFFSET ?`,
		loc.Country, loc.Country, loc.Region, loc.Region, loc.City, loc.City,
		opts.Limit, opts.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing profiles by location: %w", err)
	}
	return scanProfiles(rows)
}

// privacyArgs returns the privacy levels in privacy_* column order.
func privacyArgs(pr model.Privacy) []any {
	return []any{
		int(pr.FullName), int(pr.IRCName), int(pr.Email), int(pr.Website), int(pr.Bio),
		int(pr.City), int(pr.Region), int(pr.Country), int(pr.Groups), int(pr.VouchedBy),
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
