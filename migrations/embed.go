// Package migrations embeds the bridge's SQL schema migrations.
package migrations

import "embed"

// FS holds every *.sql migration at its root; pass it to
// database.DB.Migrate with dir ".".
//
//go:embed *.sql
var FS embed.FS
