// Package migrations embeds the schema migration files so the binary and the
// test harness can apply them without any files on disk.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
