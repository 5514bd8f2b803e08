// Package migrations holds the ordered SQL schema files applied by the migrate command.
package migrations

import "embed"

// Files contains every *.sql migration, applied in lexical order.
//
//go:embed *.sql
var Files embed.FS
