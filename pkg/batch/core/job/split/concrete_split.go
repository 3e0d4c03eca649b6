package split

import (
	"context"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ConcreteSplit is a concrete implementation of the Split interface.
// It runs its branch flows concurrently and joins them.
type ConcreteSplit struct {
	id          string
	flows       []*model.FlowDefinition
	concurrency int
}

// NewConcreteSplit creates a new instance of ConcreteSplit.
// concurrency bounds the number of branches running at once; 0 runs all of them together.
func NewConcreteSplit(id string, flows []*model.FlowDefinition, concurrency int) *ConcreteSplit {
	return &ConcreteSplit{
		id:          id,
		flows:       flows,
		concurrency: concurrency,
	}
}

// ID returns the split ID.
func (s *ConcreteSplit) ID() string {
	return s.id
}

// Flows returns the branch flows in the split.
func (s *ConcreteSplit) Flows() []*model.FlowDefinition {
	return s.flows
}

// Execute runs every branch through executor and waits for all of them; a failing branch
// does not cancel its siblings. The result is FAILED when any branch failed, STOPPED when
// any branch stopped, and COMPLETED otherwise.
func (s *ConcreteSplit) Execute(ctx context.Context, jobExecution *model.JobExecution, executor port.FlowExecutor) (port.FlowResult, error) {
	results := make([]port.FlowResult, len(s.flows))
	errs := make([]error, len(s.flows))

	var g errgroup.Group
	if s.concurrency > 0 {
		g.SetLimit(s.concurrency)
	}
	for i, flow := range s.flows {
		i, flow := i, flow
		g.Go(func() error {
			results[i], errs[i] = executor.ExecuteFlow(ctx, jobExecution, flow)
			return nil
		})
	}
	_ = g.Wait()

	var (
		merr    *multierror.Error
		failed  bool
		stopped bool
	)
	for i, res := range results {
		switch res.Status {
		case model.BatchStatusFailed:
			failed = true
		case model.BatchStatusStopped:
			stopped = true
		}
		if errs[i] != nil {
			merr = multierror.Append(merr, errs[i])
		}
	}

	switch {
	case failed:
		logger.Warnf("Split '%s' finished with a failed branch.", s.id)
		return port.FlowResult{Status: model.BatchStatusFailed, ExitStatus: model.ExitStatusFailed}, merr.ErrorOrNil()
	case stopped:
		return port.FlowResult{Status: model.BatchStatusStopped, ExitStatus: model.ExitStatusStopped}, nil
	default:
		logger.Debugf("Split '%s' completed %d branches.", s.id, len(s.flows))
		return port.FlowResult{Status: model.BatchStatusCompleted, ExitStatus: model.ExitStatusCompleted}, nil
	}
}

// Verify that ConcreteSplit implements the port.Split interface.
var _ port.Split = (*ConcreteSplit)(nil)
