// Package promotion copies selected keys of a step's local context into the job's shared
// context once the step has completed.
package promotion

import (
	"context"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ExecutionContextPromotionListener promotes exactly the configured keys. A key absent from
// the step context is left untouched in the shared context.
type ExecutionContextPromotionListener struct {
	keys         []string
	jobLevelKeys map[string]string
}

var _ port.StepExecutionListener = (*ExecutionContextPromotionListener)(nil)

// NewExecutionContextPromotionListener creates a listener for the given promotion settings.
func NewExecutionContextPromotionListener(promotion model.ExecutionContextPromotion) *ExecutionContextPromotionListener {
	renames := make(map[string]string, len(promotion.JobLevelKeys))
	for k, v := range promotion.JobLevelKeys {
		renames[k] = v
	}
	return &ExecutionContextPromotionListener{
		keys:         append([]string(nil), promotion.Keys...),
		jobLevelKeys: renames,
	}
}

// BeforeStep does nothing.
func (l *ExecutionContextPromotionListener) BeforeStep(ctx context.Context, stepExecution *model.StepExecution) {
}

// AfterStep promotes the configured keys when the step status is COMPLETED, whatever its
// exit status. It never changes the exit status.
func (l *ExecutionContextPromotionListener) AfterStep(ctx context.Context, stepExecution *model.StepExecution) model.ExitStatus {
	if stepExecution.Status != model.BatchStatusCompleted || stepExecution.JobExecution == nil {
		return ""
	}
	for _, key := range l.keys {
		value, ok := stepExecution.ExecutionContext.GetNested(key)
		if !ok {
			continue
		}
		target := key
		if renamed, ok := l.jobLevelKeys[key]; ok && renamed != "" {
			target = renamed
		}
		stepExecution.JobExecution.PromoteContext(target, value)
		logger.Debugf("Step '%s': promoted '%s' to job context key '%s'.", stepExecution.StepName, key, target)
	}
	return ""
}
