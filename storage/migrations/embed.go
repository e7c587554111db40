// Package migrations contains the embedded SQL migrations for the sqlite store.
package migrations

import "embed"

//go:embed *.sql
var Files embed.FS
