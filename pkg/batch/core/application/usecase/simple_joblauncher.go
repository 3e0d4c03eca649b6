package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/batchflow/pkg/batch/core/config"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

const defaultPollingInterval = 100 * time.Millisecond

// runningExecution is a job execution started by this launcher and not yet finished.
type runningExecution struct {
	jobExecution *model.JobExecution
	cancel       context.CancelFunc
	done         chan struct{}
}

// SimpleJobLauncher implements JobLauncher for local execution. Jobs run in their own
// goroutine through the JobRunner; the launcher keeps their cancel functions so that the
// JobOperator can stop them.
type SimpleJobLauncher struct {
	jobRepository   repository.JobRepository
	jobRegistry     *JobRegistry
	jobRunner       port.JobRunner
	pollingInterval time.Duration

	// launchMu serializes the instance lookup and the creation of the execution.
	launchMu sync.Mutex
	mu       sync.Mutex
	running  map[string]*runningExecution
	wg       sync.WaitGroup
}

var _ JobLauncher = (*SimpleJobLauncher)(nil)

// NewSimpleJobLauncher creates a new SimpleJobLauncher.
func NewSimpleJobLauncher(
	repo repository.JobRepository,
	registry *JobRegistry,
	runner port.JobRunner,
	cfg *config.Config,
) *SimpleJobLauncher {
	interval := defaultPollingInterval
	if cfg != nil && cfg.Batch.Job.PollingIntervalMillis > 0 {
		interval = time.Duration(cfg.Batch.Job.PollingIntervalMillis) * time.Millisecond
	}
	return &SimpleJobLauncher{
		jobRepository:   repo,
		jobRegistry:     registry,
		jobRunner:       runner,
		pollingInterval: interval,
		running:         make(map[string]*runningExecution),
	}
}

// Launch launches a job execution. The job is stopped when ctx is cancelled.
//
// A job with an incrementer always starts a new instance whose parameters derive from the
// last instance of the job; use JobOperator.Restart to restart one of its executions.
func (l *SimpleJobLauncher) Launch(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	logger.Infof("Launching Job '%s'. Parameters: %s", jobName, params.String())

	job, err := l.jobRegistry.Get(jobName)
	if err != nil {
		return nil, exception.NewBatchError("job_launcher", "Failed to launch job", err, false, false)
	}
	if job.Incrementer() != nil {
		if params, err = l.nextParameters(ctx, job, params); err != nil {
			return nil, err
		}
	}
	return l.start(ctx, job, params)
}

// Run launches the job and polls the repository until the execution has finished.
func (l *SimpleJobLauncher) Run(ctx context.Context, jobName string, params model.JobParameters) (*model.JobExecution, error) {
	je, err := l.Launch(ctx, jobName, params)
	if err != nil {
		return nil, err
	}
	return l.await(ctx, je.ID)
}

func (l *SimpleJobLauncher) nextParameters(ctx context.Context, job port.Job, params model.JobParameters) (model.JobParameters, error) {
	base := params
	instances, err := l.jobRepository.FindJobInstancesByJobName(ctx, job.JobName())
	if err != nil {
		return params, exception.NewBatchError("job_launcher", "Failed to look up the last job instance", err, false, false)
	}
	if len(instances) > 0 {
		base = instances[0].Parameters
		for _, p := range params.Parameters() {
			base.PutParameter(p)
		}
	}
	next := job.Incrementer().GetNext(base)
	logger.Debugf("Job '%s': parameters incremented to %s.", job.JobName(), next.String())
	return next, nil
}

// start validates the parameters, creates the execution and runs it in the background.
func (l *SimpleJobLauncher) start(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	if err := job.ValidateParameters(params); err != nil {
		return nil, err
	}

	je, err := l.prepare(ctx, job, params)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	je.CancelFunc = cancel
	run := &runningExecution{jobExecution: je, cancel: cancel, done: make(chan struct{})}
	// The snapshot is taken before the goroutine can touch the execution.
	launched := je.Snapshot()

	l.mu.Lock()
	l.running[je.ID] = run
	l.mu.Unlock()

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		defer close(run.done)
		defer l.untrack(je.ID)
		defer cancel()
		if err := l.jobRunner.Run(runCtx, job, je); err != nil {
			logger.Warnf("Job '%s' (Execution ID: %s) ended with an error: %v", job.JobName(), je.ID, err)
		}
	}()

	logger.Infof("Job '%s' launched. Execution ID: %s", job.JobName(), je.ID)
	return launched, nil
}

// prepare resolves the job instance of params and creates the execution to run: a fresh
// one for a new instance, a restart copy when the last execution failed or stopped.
func (l *SimpleJobLauncher) prepare(ctx context.Context, job port.Job, params model.JobParameters) (*model.JobExecution, error) {
	l.launchMu.Lock()
	defer l.launchMu.Unlock()

	jobName := job.JobName()
	instance, err := l.jobRepository.FindJobInstanceByJobNameAndParameters(ctx, jobName, params)
	if errors.Is(err, repository.ErrJobInstanceNotFound) {
		instance = model.NewJobInstance(jobName, params)
		if err := l.jobRepository.SaveJobInstance(ctx, instance); err != nil {
			return nil, exception.NewBatchError("job_launcher", "Failed to save JobInstance", err, false, false)
		}
		logger.Debugf("Created JobInstance (ID: %s) for job '%s'.", instance.ID, jobName)
		return l.newExecution(ctx, instance, params)
	}
	if err != nil {
		return nil, exception.NewBatchError("job_launcher", "Failed to look up JobInstance", err, false, false)
	}

	last, err := l.jobRepository.FindLatestJobExecution(ctx, instance.ID)
	if errors.Is(err, repository.ErrJobExecutionNotFound) {
		return l.newExecution(ctx, instance, params)
	}
	if err != nil {
		return nil, exception.NewBatchError("job_launcher", "Failed to look up the last JobExecution", err, false, false)
	}

	switch {
	case last.Status.IsRunning():
		return nil, fmt.Errorf("job '%s' (Execution ID: %s, status %s): %w", jobName, last.ID, last.Status, ErrJobExecutionAlreadyRunning)
	case last.Status == model.BatchStatusCompleted:
		return nil, fmt.Errorf("job '%s' (Instance ID: %s): %w", jobName, instance.ID, ErrJobInstanceAlreadyComplete)
	case last.Status == model.BatchStatusAbandoned:
		return nil, fmt.Errorf("job '%s': last execution %s was abandoned: %w", jobName, last.ID, ErrJobRestartNotAllowed)
	case !job.IsRestartable():
		return nil, fmt.Errorf("job '%s' is not restartable: %w", jobName, ErrJobRestartNotAllowed)
	}
	return l.restartExecution(ctx, instance, last, params)
}

func (l *SimpleJobLauncher) newExecution(ctx context.Context, instance *model.JobInstance, params model.JobParameters) (*model.JobExecution, error) {
	je := model.NewJobExecution(instance.ID, instance.JobName, params)
	if err := l.jobRepository.SaveJobExecution(ctx, je); err != nil {
		return nil, exception.NewBatchError("job_launcher", "Failed to save JobExecution", err, false, false)
	}
	return je, nil
}

// restartExecution creates the execution that restarts last. It inherits the job context
// and a restart copy of the latest execution of every step; a stopped execution also
// hands over the node it stopped at.
func (l *SimpleJobLauncher) restartExecution(ctx context.Context, instance *model.JobInstance, last *model.JobExecution, params model.JobParameters) (*model.JobExecution, error) {
	je := model.NewJobExecution(instance.ID, instance.JobName, params)
	je.ExecutionContext = last.ContextSnapshot()
	je.RestartCount = last.RestartCount + 1
	if last.Status == model.BatchStatusStopped {
		je.CurrentStepName = last.CurrentStepName
	}
	// A restart execution starts out RESTARTING.
	je.Status = model.BatchStatusRestarting
	if err := l.jobRepository.SaveJobExecution(ctx, je); err != nil {
		return nil, exception.NewBatchError("job_launcher", "Failed to save JobExecution", err, false, false)
	}

	for _, se := range latestStepExecutions(last) {
		cp := se.CopyForRestart(je.ID)
		je.AddStepExecution(cp)
		if err := l.jobRepository.SaveStepExecution(ctx, cp); err != nil {
			return nil, exception.NewBatchError("job_launcher", fmt.Sprintf("Failed to save restart copy of step '%s'", se.StepName), err, false, false)
		}
	}

	logger.Infof("Restarting job '%s' from Execution ID %s (restart #%d, resume at '%s').",
		instance.JobName, last.ID, je.RestartCount, je.CurrentStepName)
	return je, nil
}

// latestStepExecutions keeps the most recent execution of each step name, in first-seen order.
func latestStepExecutions(je *model.JobExecution) []*model.StepExecution {
	var (
		order  []string
		latest = map[string]*model.StepExecution{}
	)
	for _, se := range je.StepExecutionsSnapshot() {
		if _, seen := latest[se.StepName]; !seen {
			order = append(order, se.StepName)
		}
		latest[se.StepName] = se
	}
	result := make([]*model.StepExecution, 0, len(order))
	for _, name := range order {
		result = append(result, latest[name])
	}
	return result
}

func (l *SimpleJobLauncher) untrack(executionID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.running, executionID)
}

func (l *SimpleJobLauncher) lookupRunning(executionID string) (*runningExecution, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	run, ok := l.running[executionID]
	return run, ok
}

// stop moves a running execution to STOPPING and cancels its context.
func (l *SimpleJobLauncher) stop(executionID string) error {
	run, ok := l.lookupRunning(executionID)
	if !ok {
		return fmt.Errorf("execution %s: %w", executionID, ErrJobExecutionNotRunning)
	}
	if err := run.jobExecution.TransitionTo(model.BatchStatusStopping); err != nil {
		logger.Warnf("JobExecution (ID: %s) could not move to STOPPING: %v", executionID, err)
	}
	run.cancel()
	logger.Infof("Stop requested for JobExecution (ID: %s).", executionID)
	return nil
}

// await polls the repository until the execution has finished.
func (l *SimpleJobLauncher) await(ctx context.Context, executionID string) (*model.JobExecution, error) {
	// Cancelling ctx stops the job; waiting continues until the stop has been recorded.
	readCtx := context.WithoutCancel(ctx)

	var done <-chan struct{}
	if run, ok := l.lookupRunning(executionID); ok {
		done = run.done
	}

	ticker := time.NewTicker(l.pollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return l.jobRepository.FindJobExecutionByID(readCtx, executionID)
		case <-ticker.C:
			je, err := l.jobRepository.FindJobExecutionByID(readCtx, executionID)
			if err != nil {
				return nil, exception.NewBatchError("job_launcher", "Failed to poll JobExecution", err, false, false)
			}
			if je.Status.IsFinished() && done == nil {
				return je, nil
			}
			logger.Debugf("JobExecution (ID: %s) is %s.", executionID, je.Status)
		}
	}
}

// Shutdown stops every running execution and waits for them to finish or for ctx to expire.
func (l *SimpleJobLauncher) Shutdown(ctx context.Context) error {
	l.mu.Lock()
	for id, run := range l.running {
		logger.Infof("Shutting down: stopping JobExecution (ID: %s).", id)
		run.cancel()
	}
	l.mu.Unlock()

	finished := make(chan struct{})
	go func() {
		l.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
