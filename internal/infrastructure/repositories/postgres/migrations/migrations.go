// Package migrations registers the Postgres schema migrations with goose.
package migrations

import "embed"

// FS holds the migration sources so goose can resolve versions without the
// source tree being present at runtime.
//
//go:embed 0*.go
var FS embed.FS
