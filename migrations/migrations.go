// Package migrations carries the SQL schema so tests and tools can apply it
// without locating the directory on disk.
package migrations

import "embed"

// FS holds every *.up.sql file in this directory.
//
//go:embed *.up.sql
var FS embed.FS
