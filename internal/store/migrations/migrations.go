// Package migrations embeds SQL migration files for goose.
//
// Each subdirectory is an independent migration set for one database file:
// querylog for the search log, eval for the benchmark corpus and judgments.
// Migration files follow the naming convention: NNNNN_description.sql
package migrations

import "embed"

//go:embed querylog/*.sql eval/*.sql
var FS embed.FS
