// Package migrations embeds the SQL schema migrations for the GG
// retro server's SQLite store so a fresh db file can bootstrap itself
// at startup, following the embedded-iofs pattern used for the
// Postgres store in the reference pack.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
