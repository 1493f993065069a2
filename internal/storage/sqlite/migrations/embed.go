package migrations

import "embed"

// FS contains the embedded SQLite checkpoint schema.
//
//go:embed *.sql
var FS embed.FS
