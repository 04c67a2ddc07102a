// Package migrations embeds the goose SQL migrations for the sqlite store.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
