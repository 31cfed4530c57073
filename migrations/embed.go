// Package migrations holds the versioned SQLite schema
package migrations

import "embed"

// FS contains every NNN_description.sql file in this directory
//
//go:embed *.sql
var FS embed.FS
