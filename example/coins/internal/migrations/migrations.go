// Package migrations embeds the schema and the collected coins of the coins database.
package migrations

import (
	"embed"

	"go.uber.org/fx"

	"github.com/tigerroll/batchflow/pkg/batch/component/tasklet/migration/filesystem"
)

// SourceName is the migration source referenced by the job definition.
const SourceName = "coins"

//go:embed sqlite mysql postgres
var scripts embed.FS

// FS returns the embedded scripts.
func FS() embed.FS { return scripts }

// Module contributes the scripts to the migration tasklet.
var Module fx.Option = filesystem.Provide(SourceName, scripts)
