// Package db embeds the schema migrations so binaries can apply them on
// startup without shipping SQL files alongside.
package db

import "embed"

//go:embed migrations/*.sql
var Migrations embed.FS
