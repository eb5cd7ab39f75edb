// Package migrations embeds the SQL schema migrations into the binary so
// the daemon can migrate its database without files on disk.
package migrations

import "embed"

// FS holds every *.sql migration at its root.
//
//go:embed *.sql
var FS embed.FS
