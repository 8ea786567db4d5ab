// Package migrations embeds the sensor registry schema into the binary.
package migrations

import "embed"

// FS holds the *.sql migration files, at the root of the filesystem.
//
//go:embed *.sql
var FS embed.FS
