package generic

import (
	"context"
	"math/rand"
	"time"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// FailTaskletRunsKey is the step context key counting the executions of a FailTasklet.
// The count survives restarts with the rest of the step context.
const FailTaskletRunsKey = "fail_tasklet.runs"

// FailTaskletConfig holds the JSL properties of a FailTasklet.
type FailTaskletConfig struct {
	// FailCount makes the first FailCount executions fail. Zero uses FailRate.
	FailCount int `yaml:"fail-count"`
	// FailRate is the probability, 0.0 to 1.0, that an execution fails.
	FailRate float64 `yaml:"fail-rate"`
	// Seed seeds the random source. Zero seeds from the clock.
	Seed int64 `yaml:"seed"`
}

// FailTasklet fails on purpose. Jobs use it to exercise restart.
type FailTasklet struct {
	name string
	cfg  FailTaskletConfig
	rnd  *rand.Rand
}

// NewFailTasklet creates a FailTasklet from its JSL properties.
func NewFailTasklet(name string, properties map[string]string) (*FailTasklet, error) {
	var cfg FailTaskletConfig
	if err := configbinder.BindStringProperties(properties, &cfg); err != nil {
		return nil, err
	}
	if cfg.FailRate < 0 || cfg.FailRate > 1 {
		return nil, exception.NewBatchErrorf(name, "fail-rate must be between 0 and 1, got %v", cfg.FailRate)
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &FailTasklet{name: name, cfg: cfg, rnd: rand.New(rand.NewSource(seed))}, nil
}

func (t *FailTasklet) Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error) {
	runs, _ := stepExecution.ExecutionContext.GetInt(FailTaskletRunsKey)
	runs++
	stepExecution.ExecutionContext.Put(FailTaskletRunsKey, runs)

	var fail bool
	if t.cfg.FailCount > 0 {
		fail = runs <= t.cfg.FailCount
	} else {
		fail = t.rnd.Float64() < t.cfg.FailRate
	}
	if fail {
		logger.Warnf("FailTasklet '%s': failing run %d.", t.name, runs)
		return model.ExitStatusFailed, exception.NewBatchErrorf(t.name, "intentional failure on run %d", runs)
	}
	logger.Infof("FailTasklet '%s': run %d completed.", t.name, runs)
	return model.ExitStatusCompleted, nil
}

func (t *FailTasklet) Close(ctx context.Context) error { return nil }

var _ port.Tasklet = (*FailTasklet)(nil)
