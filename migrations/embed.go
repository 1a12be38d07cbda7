// Package migrations holds the versioned schema migrations applied to every
// tenant schema. Each file carries sql-migrate Up and Down sections.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
