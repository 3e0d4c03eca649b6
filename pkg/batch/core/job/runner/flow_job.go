package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
	repository "github.com/tigerroll/batchflow/pkg/batch/core/domain/repository"
	metrics "github.com/tigerroll/batchflow/pkg/batch/core/metrics"
	exception "github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// FlowJob is an implementation of port.Job that walks a flow definition node by node.
// It also implements port.FlowExecutor so that splits can run their branches through it.
type FlowJob struct {
	id             string
	name           string
	flow           *model.FlowDefinition
	jobRepository  repository.JobRepository
	jobListeners   []port.JobExecutionListener
	metricRecorder metrics.MetricRecorder
	tracer         metrics.Tracer
	restartable    bool
	incrementer    port.JobParametersIncrementer
	validator      port.JobParametersValidator
}

// Verify that FlowJob implements the port interfaces.
var (
	_ port.Job          = (*FlowJob)(nil)
	_ port.FlowExecutor = (*FlowJob)(nil)
)

// Option configures a FlowJob.
type Option func(*FlowJob)

// WithRestartable sets whether failed or stopped executions may be restarted. Default true.
func WithRestartable(restartable bool) Option {
	return func(j *FlowJob) { j.restartable = restartable }
}

// WithIncrementer sets the parameters incrementer the launcher applies.
func WithIncrementer(incrementer port.JobParametersIncrementer) Option {
	return func(j *FlowJob) { j.incrementer = incrementer }
}

// WithValidator sets the parameters validator.
func WithValidator(validator port.JobParametersValidator) Option {
	return func(j *FlowJob) { j.validator = validator }
}

// NewFlowJob creates a new instance of FlowJob.
func NewFlowJob(
	id string,
	name string,
	flow *model.FlowDefinition,
	jobRepository repository.JobRepository,
	jobListeners []port.JobExecutionListener,
	metricRecorder metrics.MetricRecorder,
	tracer metrics.Tracer,
	opts ...Option,
) *FlowJob {
	if metricRecorder == nil {
		metricRecorder = metrics.NewNoOpMetricRecorder()
	}
	if tracer == nil {
		tracer = metrics.NewNoOpTracer()
	}
	j := &FlowJob{
		id:             id,
		name:           name,
		flow:           flow,
		jobRepository:  jobRepository,
		jobListeners:   jobListeners,
		metricRecorder: metricRecorder,
		tracer:         tracer,
		restartable:    true,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// ID returns the job ID.
func (j *FlowJob) ID() string {
	return j.id
}

// JobName returns the job name.
func (j *FlowJob) JobName() string {
	return j.name
}

// GetFlow returns the job flow definition.
func (j *FlowJob) GetFlow() *model.FlowDefinition {
	return j.flow
}

// IsRestartable reports whether the job may be restarted.
func (j *FlowJob) IsRestartable() bool {
	return j.restartable
}

// Incrementer returns the configured incrementer, or nil.
func (j *FlowJob) Incrementer() port.JobParametersIncrementer {
	return j.incrementer
}

// ValidateParameters runs the configured validator, if any.
func (j *FlowJob) ValidateParameters(params model.JobParameters) error {
	logger.Debugf("Job '%s': validating JobParameters %s", j.name, params.String())
	if j.validator == nil {
		return nil
	}
	if err := j.validator.Validate(params); err != nil {
		return exception.NewBatchError(j.name, "invalid job parameters", err, false, false)
	}
	return nil
}

// Run executes the job flow and leaves jobExecution in a terminal status.
// A restarted execution whose CurrentStepName names a node of the flow resumes from that node.
func (j *FlowJob) Run(ctx context.Context, jobExecution *model.JobExecution, jobParameters model.JobParameters) error {
	logger.Infof("Starting Job '%s' (Execution ID: %s).", j.name, jobExecution.ID)

	ctx, finishSpan := j.tracer.StartJobSpan(ctx, jobExecution)
	defer finishSpan()

	j.metricRecorder.RecordJobStart(ctx, jobExecution)
	jobExecution.MarkAsStarted()
	for _, l := range j.jobListeners {
		l.BeforeJob(ctx, jobExecution)
	}
	j.persist(ctx, jobExecution)

	start := j.flow.StartElement
	if resume := jobExecution.GetCurrentStepName(); jobExecution.RestartCount > 0 && resume != "" {
		if _, ok := j.flow.Elements[resume]; ok {
			logger.Infof("Job '%s': resuming from '%s'.", j.name, resume)
			start = resume
		}
	}

	w := newWalker(j, jobExecution, true)
	result, runErr := w.walk(ctx, j.flow, start)

	jobExecution.Finish(result.Status, result.ExitStatus)
	if runErr != nil {
		j.tracer.RecordError(ctx, j.name, runErr)
		jobExecution.AddFailureException(runErr)
	}
	for _, l := range j.jobListeners {
		l.AfterJob(ctx, jobExecution)
	}
	j.persist(ctx, jobExecution)
	j.metricRecorder.RecordJobEnd(ctx, jobExecution)

	logger.WithFields(logger.Fields{
		"job":       j.name,
		"execution": jobExecution.ID,
		"status":    jobExecution.GetStatus(),
		"exit":      result.ExitStatus,
	}).Info("Job finished.")

	if result.Status == model.BatchStatusFailed {
		if runErr == nil {
			runErr = exception.NewBatchErrorf(j.name, "job ended with status FAILED (exit status %s)", result.ExitStatus)
		}
		return runErr
	}
	return nil
}

// ExecuteFlow runs a branch flow from its start element against jobExecution.
// The job execution is not persisted per node here; the caller does that once the branch joined.
func (j *FlowJob) ExecuteFlow(ctx context.Context, jobExecution *model.JobExecution, flow *model.FlowDefinition) (port.FlowResult, error) {
	w := newWalker(j, jobExecution, false)
	return w.walk(ctx, flow, flow.StartElement)
}

func (j *FlowJob) persist(ctx context.Context, jobExecution *model.JobExecution) {
	if j.jobRepository == nil {
		return
	}
	if err := j.jobRepository.UpdateJobExecution(context.WithoutCancel(ctx), jobExecution); err != nil {
		logger.Errorf("Job '%s': failed to update JobExecution (ID: %s): %v", j.name, jobExecution.ID, err)
	}
}

// walker holds the state of one traversal. Split branches get their own walker.
// seen records the step names met so far: the first time a name is met, a step execution
// carried over by a restart is reused instead of creating a new one.
type walker struct {
	job      *FlowJob
	je       *model.JobExecution
	seen     map[string]bool
	topLevel bool
}

func newWalker(j *FlowJob, je *model.JobExecution, topLevel bool) *walker {
	return &walker{
		job:      j,
		je:       je,
		seen:     map[string]bool{},
		topLevel: topLevel,
	}
}

// state is a position of the flow state machine.
type state int

const (
	stateEnter state = iota
	stateExecute
	stateRoute
	stateDone
)

// outcome is the result of one node.
type outcome struct {
	status model.JobStatus
	exit   model.ExitStatus
	err    error
}

// walk runs the flow state machine: enter a node, execute it, route on its outcome, until
// a transition or the lack of one ends the flow.
func (w *walker) walk(ctx context.Context, flow *model.FlowDefinition, start string) (port.FlowResult, error) {
	var (
		current = start
		element interface{}
		out     outcome
		result  port.FlowResult
		runErr  error
	)

	for st := stateEnter; st != stateDone; {
		switch st {
		case stateEnter:
			if ctx.Err() != nil {
				logger.Warnf("Job '%s': interrupted before '%s'.", w.je.JobName, current)
				w.je.SetCurrentStepName(current)
				result = port.FlowResult{Status: model.BatchStatusStopped, ExitStatus: model.ExitStatusStopped}
				st = stateDone
				continue
			}
			el, ok := flow.Elements[current]
			if !ok {
				runErr = exception.NewBatchErrorf(w.je.JobName, "flow element '%s' is not defined", current)
				result = port.FlowResult{Status: model.BatchStatusFailed, ExitStatus: model.ExitStatusFailed}
				st = stateDone
				continue
			}
			element = el
			w.je.SetCurrentStepName(current)
			st = stateExecute

		case stateExecute:
			out = w.execute(ctx, current, element)
			if w.topLevel {
				w.job.persist(ctx, w.je)
			}
			st = stateRoute

		case stateRoute:
			next, res, done := w.route(flow, current, out)
			if done {
				result = res
				if res.Status == model.BatchStatusFailed {
					runErr = out.err
				}
				st = stateDone
				continue
			}
			logger.Debugf("Job '%s': '%s' (%s) -> '%s'.", w.je.JobName, current, out.exit, next)
			current = next
			st = stateEnter
		}
	}
	return result, runErr
}

// route resolves the transition out of node. done is true when the flow ends here.
func (w *walker) route(flow *model.FlowDefinition, node string, out outcome) (next string, result port.FlowResult, done bool) {
	if out.status == model.BatchStatusStopped {
		w.je.SetCurrentStepName(node)
		return "", port.FlowResult{Status: model.BatchStatusStopped, ExitStatus: model.ExitStatusStopped}, true
	}

	var (
		t     model.Transition
		found bool
	)
	if out.status == model.BatchStatusFailed {
		// A failure continues only through a rule naming its exit status exactly.
		t, found = flow.ResolveExactTransition(node, out.exit)
		if !found {
			return "", port.FlowResult{Status: model.BatchStatusFailed, ExitStatus: out.exit}, true
		}
	} else {
		t, found = flow.ResolveTransition(node, out.exit)
		if !found {
			return "", port.FlowResult{Status: out.status, ExitStatus: out.exit}, true
		}
	}

	switch {
	case t.End:
		return "", port.FlowResult{Status: model.BatchStatusCompleted, ExitStatus: exitOr(t.ExitStatus, model.ExitStatusCompleted)}, true
	case t.Fail:
		return "", port.FlowResult{Status: model.BatchStatusFailed, ExitStatus: exitOr(t.ExitStatus, model.ExitStatusFailed)}, true
	case t.Stop:
		// CurrentStepName keeps the node a restart resumes from.
		if t.To != "" {
			w.je.SetCurrentStepName(t.To)
		}
		return "", port.FlowResult{Status: model.BatchStatusStopped, ExitStatus: exitOr(t.ExitStatus, model.ExitStatusStopped)}, true
	default:
		return t.To, port.FlowResult{}, false
	}
}

func exitOr(exit string, fallback model.ExitStatus) model.ExitStatus {
	if exit == "" {
		return fallback
	}
	return model.ExitStatus(exit)
}

func (w *walker) execute(ctx context.Context, id string, element interface{}) outcome {
	switch el := element.(type) {
	case port.Step:
		return w.executeStep(ctx, el)
	case port.Decision:
		exit, err := el.Decide(ctx, w.je, w.je.Parameters)
		if err != nil {
			logger.Errorf("Job '%s': decision '%s' failed: %v", w.je.JobName, id, err)
			return outcome{status: model.BatchStatusFailed, exit: model.ExitStatusFailed, err: err}
		}
		logger.Infof("Job '%s': decision '%s' returned '%s'.", w.je.JobName, id, exit)
		return outcome{status: model.BatchStatusCompleted, exit: exit}
	case port.Split:
		res, err := el.Execute(ctx, w.je, w.job)
		return outcome{status: res.Status, exit: res.ExitStatus, err: err}
	default:
		return outcome{
			status: model.BatchStatusFailed,
			exit:   model.ExitStatusFailed,
			err:    exception.NewBatchErrorf(w.je.JobName, "flow element '%s' has unsupported type %T", id, element),
		}
	}
}

// executeStep runs step with the execution carried over by a restart, if any.
func (w *walker) executeStep(ctx context.Context, step port.Step) outcome {
	name := step.StepName()
	se, reused := w.stepExecutionFor(ctx, step)
	if reused && se.Status == model.BatchStatusCompleted {
		logger.Infof("Job '%s': step '%s' already COMPLETED, skipping.", w.je.JobName, name)
		return outcome{status: se.Status, exit: se.ExitStatus}
	}
	if se == nil {
		return outcome{
			status: model.BatchStatusFailed,
			exit:   model.ExitStatusFailed,
			err:    exception.NewBatchErrorf(w.je.JobName, "failed to save StepExecution for step '%s'", name),
		}
	}

	err := w.runStep(ctx, step, se)
	if !se.Status.IsFinished() {
		se.MarkAsFailed(err)
	}
	// The final state is recorded even when the step never wrote to the repository.
	if w.job.jobRepository != nil {
		if uerr := w.job.jobRepository.UpdateStepExecution(context.WithoutCancel(ctx), se); uerr != nil {
			logger.Errorf("Job '%s': failed to update StepExecution '%s': %v", w.je.JobName, name, uerr)
		}
	}
	if err == nil && se.Status == model.BatchStatusFailed {
		err = exception.NewBatchErrorf(name, "step '%s' ended with status FAILED", name)
	}
	return outcome{status: se.Status, exit: se.ExitStatus, err: err}
}

// stepExecutionFor returns the execution to run step with. reused is true for a restart copy.
// It returns nil when a new execution could not be saved.
func (w *walker) stepExecutionFor(ctx context.Context, step port.Step) (se *model.StepExecution, reused bool) {
	name := step.StepName()
	if !w.seen[name] {
		w.seen[name] = true
		if prev, ok := w.je.FindStepExecution(name); ok {
			switch prev.Status {
			case model.BatchStatusStarting:
				return prev, true
			case model.BatchStatusCompleted:
				if !step.IsAllowStartIfComplete() {
					return prev, true
				}
			}
		}
	}

	se = model.NewStepExecution(model.NewID(), w.je, name)
	w.je.AddStepExecution(se)
	if w.job.jobRepository != nil {
		if err := w.job.jobRepository.SaveStepExecution(context.WithoutCancel(ctx), se); err != nil {
			logger.Errorf("Job '%s': failed to save StepExecution for '%s': %v", w.je.JobName, name, err)
			return nil, false
		}
	}
	return se, false
}

func (w *walker) runStep(ctx context.Context, step port.Step, se *model.StepExecution) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Step '%s' panicked: %v\n%s", step.StepName(), r, debug.Stack())
			err = exception.NewBatchError(step.StepName(), fmt.Sprintf("step panicked: %v", r), nil, false, false)
		}
	}()
	return step.Execute(ctx, w.je, se)
}
