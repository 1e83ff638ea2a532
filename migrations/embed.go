// Package migrations embeds the SQL schema of the auth core.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
