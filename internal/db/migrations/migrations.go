// Package migrations embeds the goose SQL migrations so binaries can
// migrate the schema without shipping loose files.
package migrations

import "embed"

//go:embed *.sql
var Migrations embed.FS
