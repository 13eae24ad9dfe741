// Package migrations embeds the SQL schema so the migrate command and tests
// apply the same files.
package migrations

import "embed"

//go:embed global/*.sql
var Global embed.FS
