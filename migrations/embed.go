// Package migrations holds the Ask Ozzy schema. The SQL files are compiled
// into the binary, so `askozzy migrate` and the tests need nothing on disk.
package migrations

import "embed"

// FS holds NNNNNN_name.up.sql / .down.sql pairs.
//
//go:embed *.sql
var FS embed.FS
