package migrations

import "embed"

// FS contains embedded SQLite migrations for investigations storage.
//
//go:embed *.sql
var FS embed.FS
