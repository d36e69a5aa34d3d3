// Package migrations embeds the full-text index schema.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
