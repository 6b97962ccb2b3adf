// Package migrations embeds the SQL schema migrations applied by goose at
// server start and in integration tests.
package migrations

import "embed"

//go:embed *.sql
var FS embed.FS
