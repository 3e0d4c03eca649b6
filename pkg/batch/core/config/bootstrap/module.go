// Package bootstrap assembles the framework modules into the options of a batch
// application and launches its job once the application has started.
package bootstrap

import (
	"go.uber.org/fx"

	gormadapter "github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage/gcs"
	"github.com/tigerroll/batchflow/pkg/batch/adapter/storage/local"
	"github.com/tigerroll/batchflow/pkg/batch/component/item"
	"github.com/tigerroll/batchflow/pkg/batch/component/partitioner"
	"github.com/tigerroll/batchflow/pkg/batch/component/step/writer"
	"github.com/tigerroll/batchflow/pkg/batch/component/tasklet/generic"
	"github.com/tigerroll/batchflow/pkg/batch/component/tasklet/migration"
	"github.com/tigerroll/batchflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	jsl "github.com/tigerroll/batchflow/pkg/batch/core/config/jsl"
	"github.com/tigerroll/batchflow/pkg/batch/core/job/decision"
	"github.com/tigerroll/batchflow/pkg/batch/core/job/runner"
	"github.com/tigerroll/batchflow/pkg/batch/core/support/incrementer"
	"github.com/tigerroll/batchflow/pkg/batch/engine/step/partition"
	imetrics "github.com/tigerroll/batchflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/batchflow/pkg/batch/infrastructure/repository/inmemory"
	"github.com/tigerroll/batchflow/pkg/batch/listener"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// CoreModule provides configuration, the in-memory repository, the runners, the
// launcher, JSL loading, metrics, the listeners and the stock components.
var CoreModule = fx.Options(
	logger.Module,
	config.Module,
	inmemory.Module,
	runner.Module,
	partition.Module,
	usecase.Module,
	jsl.Module,
	imetrics.Module,
	listener.Module,
	decision.Module,
	incrementer.Module,
	item.Module,
	partitioner.Module,
	generic.Module,
)

// DatabaseModule provides the gorm connections of every supported database type, their
// transaction managers and the migration tasklet.
var DatabaseModule = fx.Options(
	gormadapter.Module,
	sqlite.Module,
	mysql.Module,
	postgres.Module,
	migration.Module,
)

// StorageModule provides the local and GCS storage connections and the file writers.
var StorageModule = fx.Options(
	storage.Module,
	local.Module,
	gcs.Module,
	writer.Module,
)

// Module is the whole framework.
var Module = fx.Options(CoreModule, DatabaseModule, StorageModule)
