// Package migrations embeds the SQL schema and seed files.
package migrations

import "embed"

// Files holds sql/*.sql migrations and seeds/*.sql seed scripts.
//
//go:embed sql/*.sql seeds/*.sql
var Files embed.FS
