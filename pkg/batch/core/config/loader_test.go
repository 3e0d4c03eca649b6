package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tigerroll/batchflow/pkg/batch/core/config"
)

const document = `
batch:
  job:
    chunk_size: 20
    item_skip:
      skip_limit: 3
  system:
    logging:
      level: DEBUG
  database:
    app:
      type: sqlite
      database: ":memory:"
  storage:
    out:
      type: local
      base_dir: ${OUT_DIR}
`

func TestLoadMergesDefaultsYAMLAndEnvironment(t *testing.T) {
	t.Setenv("OUT_DIR", "/tmp/out")
	t.Setenv("BATCH_JOB_GRID_SIZE", "3")
	t.Setenv("BATCH_METRICS_EXPORTERS", "prometheus, otel")
	t.Setenv("BATCH_DATABASE_APP_USER", "batch")

	cfg, err := config.Load("testdata/missing.env", []byte(document), config.NewOsEnvironmentExpander())
	require.NoError(t, err)

	assert.Equal(t, 20, cfg.Batch.Job.ChunkSize)
	assert.Equal(t, 3, cfg.Batch.Job.GridSize)
	assert.Equal(t, 3, cfg.Batch.Job.ItemSkip.SkipLimit)
	assert.Equal(t, "DEBUG", cfg.Batch.System.Logging.Level)
	assert.Equal(t, "UTC", cfg.Batch.System.Timezone)
	assert.Equal(t, []string{"prometheus", "otel"}, cfg.Batch.Metrics.Exporters)

	db, ok := cfg.DatabaseConfig("app")
	require.True(t, ok)
	assert.Equal(t, "sqlite", db.Type)
	assert.Equal(t, ":memory:", db.Database)
	assert.Equal(t, "batch", db.User)

	out, ok := cfg.StorageConfig("out")
	require.True(t, ok)
	assert.Equal(t, "/tmp/out", out.BaseDir)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("testdata/missing.env", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Batch.Job.ChunkSize)
	assert.Equal(t, "INFO", cfg.Batch.System.Logging.Level)
	assert.Contains(t, cfg.Batch.Security.MaskedParameterKeys, "password")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Batch.Job.ChunkSize = 0
	cfg.Batch.System.Logging.Format = "xml"
	cfg.Batch.Metrics.Exporters = []string{"statsd"}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "chunk_size")
	assert.Contains(t, err.Error(), "xml")
	assert.Contains(t, err.Error(), "statsd")

	_, err = config.Load("testdata/missing.env", []byte("batch:\n  database:\n    x:\n      type: oracle\n"), nil)
	assert.Error(t, err)
}

func TestOsEnvironmentExpanderFallbacks(t *testing.T) {
	t.Setenv("REPORT_DIR", "/var/reports")
	t.Setenv("EMPTY_LEVEL", "")

	out, err := config.NewOsEnvironmentExpander().Expand([]byte(
		"dir: ${REPORT_DIR:-reports}\nlevel: ${EMPTY_LEVEL:-INFO}\nformat: ${BATCHFLOW_UNSET_FORMAT:-text}\nuser: $BATCHFLOW_UNSET_USER."))
	require.NoError(t, err)
	assert.Equal(t, "dir: /var/reports\nlevel: INFO\nformat: text\nuser: .", string(out))
}
