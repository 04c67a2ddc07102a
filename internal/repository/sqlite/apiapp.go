package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/xid"

	"github.com/sakif/phonebook/internal/apperror"
	"github.com/sakif/phonebook/internal/model"
	"github.com/sakif/phonebook/internal/repository"
)

var _ repository.APIAppRepository = (*DB)(nil)

func (db *DB) CreateAPIApp(ctx context.Context, app *model.APIApp) error {
	app.ID = xid.New().String()
	app.CreatedAt = time.Now().UTC()

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO api_apps (id, name, owner_id, key_hash, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		app.ID, app.Name, app.OwnerID, app.KeyHash, app.IsActive, app.CreatedAt,
	)
	if err != nil {
		app.ID = ""
		if verr, ok := uniqueViolation(err); ok {
			return verr
		}
		return fmt.Errorf("sqlite: creating api app %q: %w", app.Name, err)
	}
	return nil
}

func (db *DB) GetAPIAppByName(ctx context.Context, name string) (*model.APIApp, error) {
	var app model.APIApp
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, owner_id, key_hash, is_active, created_at FROM api_apps WHERE name = ?`, name,
	).Scan(&app.ID, &app.Name, &app.OwnerID, &app.KeyHash, &app.IsActive, &app.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("app", name)
		}
		return nil, fmt.Errorf("sqlite: getting api app %q: %w", name, err)
	}
	return &app, nil
}
