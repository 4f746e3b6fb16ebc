// Package migrations contains the embedded SQL migrations for the export
// schema.
package migrations

import "embed"

// Files exposes the compiled-in migration SQL files.
//
//go:embed *.sql
var Files embed.FS
