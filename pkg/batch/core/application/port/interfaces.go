// Package port defines the core interfaces (ports) for the batch application.
// Jobs, steps and their collaborators are wired against these contracts so that readers,
// writers and processors stay pluggable and independently testable.
package port

import (
	"context"
	"errors"

	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
)

// ErrNoMoreItems is returned by ItemReader.Read when the resource is exhausted.
// It is a signal, not a failure.
var ErrNoMoreItems = errors.New("no more items to read")

// FlowElement is the basic interface representing an element (Step, Decision, Split) in a job flow.
type FlowElement interface {
	// ID returns the unique identifier of the flow element.
	ID() string
}

// Job is the interface for an executable batch job.
type Job interface {
	FlowElement
	// Run executes the entire job flow and leaves the execution in a terminal status.
	//
	// Parameters:
	//   ctx: The context for the operation. Cancelling it stops the job between nodes.
	//   jobExecution: The current JobExecution instance.
	//   jobParameters: The job parameters for the execution.
	//
	// Returns:
	//   error: The failure that ended the job, or nil when it completed or stopped.
	Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) error
	// JobName returns the logical name of the job.
	JobName() string
	// GetFlow returns the job's flow definition structure.
	GetFlow() *model.FlowDefinition
	// ValidateParameters validates job parameters before job execution.
	ValidateParameters(params model.JobParameters) error
	// IsRestartable reports whether a failed or stopped execution may be restarted.
	IsRestartable() bool
	// Incrementer returns the parameters incrementer applied on launch, or nil.
	Incrementer() JobParametersIncrementer
}

// JobRunner runs a job for one execution and guarantees that the execution ends in a
// terminal status, even when the job panics.
type JobRunner interface {
	Run(ctx context.Context, job Job, jobExecution *model.JobExecution) error
}

// Step is a named unit of work: a chunk pipeline, a tasklet or a partitioned step.
// Execute owns the StepExecution for its duration: it moves it through its statuses,
// persists it and notifies step listeners.
type Step interface {
	FlowElement
	// StepName returns the logical name of the step.
	StepName() string
	// Execute runs the step business logic.
	//
	// Returns:
	//   error: The failure that marked the StepExecution FAILED, nil otherwise.
	Execute(ctx context.Context, jobExecution *model.JobExecution, stepExecution *model.StepExecution) error
	// IsAllowStartIfComplete reports whether a COMPLETED step runs again on restart.
	IsAllowStartIfComplete() bool
}

// StepExecutor runs a step for one StepExecution. Partitioned steps use it to run their workers.
type StepExecutor interface {
	// ExecuteStep executes the step and returns the finished StepExecution.
	// A panic inside the step is converted into a failure of that StepExecution.
	ExecuteStep(ctx context.Context, step Step, jobExecution *model.JobExecution, stepExecution *model.StepExecution) (*model.StepExecution, error)
}

// ItemReader reads items one at a time.
type ItemReader interface {
	// Open prepares the reader. ec is the step (or partition) context; a resumable reader
	// restores its position from it.
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Read returns the next item, or ErrNoMoreItems once the resource is exhausted.
	Read(ctx context.Context) (interface{}, error)
	// Close releases the resources held by the reader.
	Close(ctx context.Context) error
	// GetExecutionContext returns the state to persist at the next commit.
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
}

// RestartAware is implemented by readers that declare whether they can resume from a saved position.
// Readers that do not implement it are treated as resumable.
type RestartAware interface {
	IsResumable() bool
}

// ItemProcessor transforms an item. Returning a nil item drops it from the chunk (filtered).
type ItemProcessor interface {
	Process(ctx context.Context, item interface{}) (interface{}, error)
}

// ItemWriter writes a chunk of items inside the chunk transaction.
type ItemWriter interface {
	Open(ctx context.Context, ec model.ExecutionContext) error
	// Write writes all items as one batch. The batch succeeds or fails as a whole.
	Write(ctx context.Context, t tx.Tx, items []interface{}) error
	Close(ctx context.Context) error
	GetExecutionContext(ctx context.Context) (model.ExecutionContext, error)
}

// Tasklet is a single-shot step action.
type Tasklet interface {
	// Execute runs the action. The returned exit status becomes the step exit status;
	// an empty value means COMPLETED.
	Execute(ctx context.Context, stepExecution *model.StepExecution) (model.ExitStatus, error)
	Close(ctx context.Context) error
}

// ChunkComponents are the collaborators of one chunk step execution.
type ChunkComponents struct {
	Reader    ItemReader
	Processor ItemProcessor // optional
	Writer    ItemWriter
}

// ChunkComponentsProvider builds the collaborators of a chunk step. It is invoked once per
// step execution, or once per partition, with the values that execution may bind to.
type ChunkComponentsProvider func(ctx context.Context, scope StepScope) (ChunkComponents, error)

// TaskletProvider builds the tasklet of a tasklet step once per step execution.
type TaskletProvider func(ctx context.Context, scope StepScope) (Tasklet, error)

// Decision is a flow node that selects the next transition without running a step.
type Decision interface {
	FlowElement
	Decide(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) (model.ExitStatus, error)
}

// FlowResult is the outcome of a flow traversal.
type FlowResult struct {
	Status     model.JobStatus
	ExitStatus model.ExitStatus
}

// FlowExecutor traverses one flow definition against a job execution.
type FlowExecutor interface {
	ExecuteFlow(ctx context.Context, jobExecution *model.JobExecution, flow *model.FlowDefinition) (FlowResult, error)
}

// Split is a flow node that runs several sub-flows concurrently and joins them.
type Split interface {
	FlowElement
	// Flows returns the branch flows.
	Flows() []*model.FlowDefinition
	// Execute runs every branch through executor and waits for all of them.
	// The result is FAILED when any branch failed.
	Execute(ctx context.Context, jobExecution *model.JobExecution, executor FlowExecutor) (FlowResult, error)
}

// Partitioner creates the contexts of the partitions of a step, keyed by partition name.
type Partitioner interface {
	Partition(ctx context.Context, gridSize int) (map[string]model.ExecutionContext, error)
}

// JobParametersIncrementer derives the parameters of the next run.
type JobParametersIncrementer interface {
	GetNext(params model.JobParameters) model.JobParameters
}

// JobParametersValidator validates parameters before an execution is created.
type JobParametersValidator interface {
	Validate(params model.JobParameters) error
}

// --- Listeners ---

// JobExecutionListener is notified before and after a job runs.
type JobExecutionListener interface {
	BeforeJob(ctx context.Context, jobExecution *model.JobExecution)
	AfterJob(ctx context.Context, jobExecution *model.JobExecution)
}

// StepExecutionListener is notified before and after a step runs.
type StepExecutionListener interface {
	BeforeStep(ctx context.Context, stepExecution *model.StepExecution)
	// AfterStep is called once the step status is final. A non-empty result replaces the
	// exit status; when several listeners return one, the last listener wins.
	AfterStep(ctx context.Context, stepExecution *model.StepExecution) model.ExitStatus
}

// ChunkListener is notified around each chunk transaction.
type ChunkListener interface {
	BeforeChunk(ctx context.Context, stepExecution *model.StepExecution)
	AfterChunk(ctx context.Context, stepExecution *model.StepExecution)
	AfterChunkError(ctx context.Context, stepExecution *model.StepExecution, err error)
}

// SkipListener is notified of every skipped item.
type SkipListener interface {
	OnSkipInRead(ctx context.Context, err error)
	OnSkipInProcess(ctx context.Context, item interface{}, err error)
	OnSkipInWrite(ctx context.Context, item interface{}, err error)
}
