// Package migrations embeds the PostgreSQL checkpoint schema in golang-migrate layout.
package migrations

import "embed"

// FS contains the numbered up and down migrations.
//
//go:embed *.sql
var FS embed.FS
