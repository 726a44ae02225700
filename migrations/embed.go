// Package migrations embeds the SQL migrations for the change history.
package migrations

import "embed"

// FS holds the *.up.sql files at its root.
//
//go:embed *.sql
var FS embed.FS
