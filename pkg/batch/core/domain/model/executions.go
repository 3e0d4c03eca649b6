package model

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// NewID generates a new UUID string.
func NewID() string {
	return uuid.New().String()
}

// FailureList holds a list of error messages.
type FailureList []string

// Value implements the `driver.Valuer` interface, converting FailureList to a JSON string.
func (fl FailureList) Value() (driver.Value, error) {
	if fl == nil {
		return "[]", nil
	}
	data, err := json.Marshal(fl)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan implements the `sql.Scanner` interface, converting a JSON string to FailureList.
func (fl *FailureList) Scan(value interface{}) error {
	var b []byte
	switch v := value.(type) {
	case nil:
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("unsupported Scan type for FailureList: %T", value)
	}
	if len(b) == 0 {
		*fl = make(FailureList, 0)
		return nil
	}
	if err := json.Unmarshal(b, fl); err != nil {
		return fmt.Errorf("failed to unmarshal FailureList JSON: %w", err)
	}
	return nil
}

func appendFailure(failures FailureList, err error) (FailureList, bool) {
	msg := exception.ExtractErrorMessage(err)
	for _, existing := range failures {
		if existing == msg {
			return failures, false
		}
	}
	return append(failures, msg), true
}

// --- JobInstance ---

// JobInstance is the logical run of a job: job name plus the hash of its identifying parameters.
type JobInstance struct {
	ID             string
	JobName        string
	Parameters     JobParameters
	CreateTime     time.Time
	Version        int
	ParametersHash string
}

// NewJobInstance creates a new instance of JobInstance.
func NewJobInstance(jobName string, params JobParameters) *JobInstance {
	hash, err := params.Hash()
	if err != nil {
		logger.Errorf("Failed to calculate JobParameters hash: %v", err)
	}
	return &JobInstance{
		ID:             NewID(),
		JobName:        jobName,
		Parameters:     params,
		CreateTime:     time.Now(),
		ParametersHash: hash,
	}
}

// --- JobExecution ---

// JobExecution is a single run of a JobInstance.
//
// Split branches run concurrently against the same JobExecution, so the shared
// ExecutionContext and the StepExecutions list must be accessed through the locked methods
// once the execution has started.
type JobExecution struct {
	ID               string
	JobInstanceID    string
	JobName          string
	Parameters       JobParameters
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	ExitCode         int
	Failures         FailureList
	Version          int
	CreateTime       time.Time
	LastUpdated      time.Time
	StepExecutions   []*StepExecution
	ExecutionContext ExecutionContext
	// CurrentStepName is the node being executed, or the node to resume from after a stop.
	CurrentStepName string
	CancelFunc      context.CancelFunc
	RestartCount    int

	mu sync.RWMutex
}

// NewJobExecution creates a new instance of JobExecution.
func NewJobExecution(jobInstanceID string, jobName string, params JobParameters) *JobExecution {
	now := time.Now()
	return &JobExecution{
		ID:               NewID(),
		JobInstanceID:    jobInstanceID,
		JobName:          jobName,
		Parameters:       params,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		CreateTime:       now,
		LastUpdated:      now,
		Failures:         make(FailureList, 0),
		StepExecutions:   make([]*StepExecution, 0),
		ExecutionContext: NewExecutionContext(),
	}
}

// TransitionTo moves the execution to newStatus if the job transition table allows it.
// Fields other than Status and LastUpdated must be set separately by the caller.
func (je *JobExecution) TransitionTo(newStatus JobStatus) error {
	je.mu.Lock()
	defer je.mu.Unlock()
	return je.transitionLocked(newStatus)
}

func (je *JobExecution) transitionLocked(newStatus JobStatus) error {
	if !CanTransitionJob(je.Status, newStatus) {
		return invalidTransition("JobExecution", je.ID, je.Status, newStatus)
	}
	je.Status = newStatus
	je.LastUpdated = time.Now()
	return nil
}

// GetStatus returns the status under the execution lock.
func (je *JobExecution) GetStatus() JobStatus {
	je.mu.RLock()
	defer je.mu.RUnlock()
	return je.Status
}

// IncrementRestartCount increments the restart count of JobExecution by 1.
func (je *JobExecution) IncrementRestartCount() {
	je.RestartCount++
	je.LastUpdated = time.Now()
}

// MarkAsStarted updates the JobExecution status to STARTED.
func (je *JobExecution) MarkAsStarted() {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.forceLocked(BatchStatusStarted)
}

// MarkAsCompleted updates the JobExecution status to COMPLETED.
func (je *JobExecution) MarkAsCompleted() {
	je.Finish(BatchStatusCompleted, ExitStatusCompleted)
}

// MarkAsFailed updates the JobExecution status to FAILED and adds error information.
func (je *JobExecution) MarkAsFailed(err error) {
	je.Finish(BatchStatusFailed, ExitStatusFailed)
	je.AddFailureException(err)
}

// MarkAsStopped updates the JobExecution status to STOPPED.
func (je *JobExecution) MarkAsStopped() {
	je.Finish(BatchStatusStopped, ExitStatusStopped)
}

// MarkAsAbandoned updates the JobExecution status to ABANDONED.
func (je *JobExecution) MarkAsAbandoned() {
	je.Finish(BatchStatusAbandoned, ExitStatusAbandoned)
}

// Finish ends the execution with a status and an exit status, which may be a business
// value such as "POSITIVE".
func (je *JobExecution) Finish(status JobStatus, exitStatus ExitStatus) {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.forceLocked(status)
	je.ExitStatus = exitStatus
	now := time.Now()
	je.EndTime = &now
	je.LastUpdated = now
}

// forceLocked applies the transition table, logging and forcing the move when the table
// rejects it so that an execution always ends in a terminal status.
func (je *JobExecution) forceLocked(status JobStatus) {
	if je.Status == status {
		je.LastUpdated = time.Now()
		return
	}
	if err := je.transitionLocked(status); err != nil {
		logger.Warnf("Could not update JobExecution (ID: %s) status to %s: %v", je.ID, status, err)
		je.Status = status
		je.LastUpdated = time.Now()
	}
}

// AddFailureException adds error information to JobExecution. It avoids adding duplicate errors.
func (je *JobExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	je.mu.Lock()
	defer je.mu.Unlock()
	var added bool
	if je.Failures, added = appendFailure(je.Failures, err); added {
		je.LastUpdated = time.Now()
	}
}

// AddStepExecution adds a StepExecution to JobExecution.
func (je *JobExecution) AddStepExecution(se *StepExecution) {
	je.mu.Lock()
	defer je.mu.Unlock()
	se.JobExecution = je
	se.JobExecutionID = je.ID
	je.StepExecutions = append(je.StepExecutions, se)
}

// FindStepExecution returns the most recently added step execution named stepName.
func (je *JobExecution) FindStepExecution(stepName string) (*StepExecution, bool) {
	je.mu.RLock()
	defer je.mu.RUnlock()
	for i := len(je.StepExecutions) - 1; i >= 0; i-- {
		if je.StepExecutions[i].StepName == stepName {
			return je.StepExecutions[i], true
		}
	}
	return nil, false
}

// StepExecutionsSnapshot returns the current step executions list.
func (je *JobExecution) StepExecutionsSnapshot() []*StepExecution {
	je.mu.RLock()
	defer je.mu.RUnlock()
	return append([]*StepExecution(nil), je.StepExecutions...)
}

// PromoteContext publishes a value into the shared job context.
func (je *JobExecution) PromoteContext(key string, value interface{}) {
	je.mu.Lock()
	defer je.mu.Unlock()
	if je.ExecutionContext == nil {
		je.ExecutionContext = NewExecutionContext()
	}
	je.ExecutionContext[key] = value
	je.LastUpdated = time.Now()
}

// RemoveContext deletes a key from the shared job context.
func (je *JobExecution) RemoveContext(key string) {
	je.mu.Lock()
	defer je.mu.Unlock()
	delete(je.ExecutionContext, key)
}

// ContextValue reads a value from the shared job context.
func (je *JobExecution) ContextValue(key string) (interface{}, bool) {
	je.mu.RLock()
	defer je.mu.RUnlock()
	v, ok := je.ExecutionContext[key]
	return v, ok
}

// ContextSnapshot returns a copy of the shared job context safe to read without the lock.
func (je *JobExecution) ContextSnapshot() ExecutionContext {
	je.mu.RLock()
	defer je.mu.RUnlock()
	return je.ExecutionContext.DeepCopy()
}

// SetCurrentStepName records the node being executed.
func (je *JobExecution) SetCurrentStepName(name string) {
	je.mu.Lock()
	defer je.mu.Unlock()
	je.CurrentStepName = name
	je.LastUpdated = time.Now()
}

// GetCurrentStepName returns the node being executed.
func (je *JobExecution) GetCurrentStepName() string {
	je.mu.RLock()
	defer je.mu.RUnlock()
	return je.CurrentStepName
}

// Snapshot returns a deep copy of the execution as a repository would persist it.
// Contexts are copied through their serialized form; step executions point to the copy.
func (je *JobExecution) Snapshot() *JobExecution {
	je.mu.RLock()
	defer je.mu.RUnlock()

	cp := je.headerLocked()
	cp.StepExecutions = make([]*StepExecution, len(je.StepExecutions))
	for i, se := range je.StepExecutions {
		seCopy := se.Snapshot()
		seCopy.JobExecution = cp
		cp.StepExecutions[i] = seCopy
	}
	return cp
}

// SnapshotWithoutSteps copies the execution but not its step executions, which may still be
// owned by running steps.
func (je *JobExecution) SnapshotWithoutSteps() *JobExecution {
	je.mu.RLock()
	defer je.mu.RUnlock()
	return je.headerLocked()
}

func (je *JobExecution) headerLocked() *JobExecution {
	return &JobExecution{
		ID:               je.ID,
		JobInstanceID:    je.JobInstanceID,
		JobName:          je.JobName,
		Parameters:       je.Parameters,
		StartTime:        je.StartTime,
		EndTime:          copyTime(je.EndTime),
		Status:           je.Status,
		ExitStatus:       je.ExitStatus,
		ExitCode:         je.ExitCode,
		Failures:         append(FailureList{}, je.Failures...),
		Version:          je.Version,
		CreateTime:       je.CreateTime,
		LastUpdated:      je.LastUpdated,
		ExecutionContext: je.ExecutionContext.DeepCopy(),
		CurrentStepName:  je.CurrentStepName,
		RestartCount:     je.RestartCount,
	}
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// --- StepExecution ---

// StepExecution is a single execution of a step (or of one partition of a step).
// It is owned by the goroutine running the step; only the owner mutates it.
type StepExecution struct {
	ID               string
	StepName         string
	JobExecution     *JobExecution
	JobExecutionID   string
	StartTime        time.Time
	EndTime          *time.Time
	Status           JobStatus
	ExitStatus       ExitStatus
	Failures         FailureList
	ReadCount        int
	ProcessCount     int
	WriteCount       int
	CommitCount      int
	RollbackCount    int
	FilterCount      int
	SkipReadCount    int
	SkipProcessCount int
	SkipWriteCount   int
	ExecutionContext ExecutionContext
	LastUpdated      time.Time
	Version          int
}

// NewStepExecution creates a new instance of StepExecution.
// jobExecution may be nil for a step run outside a job (tests, partition workers before registration).
func NewStepExecution(id string, jobExecution *JobExecution, stepName string) *StepExecution {
	now := time.Now()
	se := &StepExecution{
		ID:               id,
		StepName:         stepName,
		JobExecution:     jobExecution,
		StartTime:        now,
		Status:           BatchStatusStarting,
		ExitStatus:       ExitStatusUnknown,
		Failures:         make(FailureList, 0),
		ExecutionContext: NewExecutionContext(),
		LastUpdated:      now,
	}
	if jobExecution != nil {
		se.JobExecutionID = jobExecution.ID
	}
	return se
}

// SkipCount returns the total of read, process and write skips.
func (se *StepExecution) SkipCount() int {
	return se.SkipReadCount + se.SkipProcessCount + se.SkipWriteCount
}

// TransitionTo safely transitions the state of StepExecution.
func (se *StepExecution) TransitionTo(newStatus JobStatus) error {
	if !CanTransitionStep(se.Status, newStatus) {
		return invalidTransition("StepExecution", se.ID, se.Status, newStatus)
	}
	se.Status = newStatus
	se.LastUpdated = time.Now()
	return nil
}

func (se *StepExecution) force(status JobStatus) {
	if se.Status == status {
		return
	}
	if err := se.TransitionTo(status); err != nil {
		logger.Warnf("Could not update StepExecution (ID: %s) status to %s: %v", se.ID, status, err)
		se.Status = status
		se.LastUpdated = time.Now()
	}
}

func (se *StepExecution) finish(status JobStatus, exitStatus ExitStatus) {
	se.force(status)
	se.ExitStatus = exitStatus
	now := time.Now()
	se.EndTime = &now
	se.LastUpdated = now
}

// MarkAsStarted updates the StepExecution status to STARTED.
func (se *StepExecution) MarkAsStarted() {
	se.force(BatchStatusStarted)
	se.StartTime = time.Now()
	se.LastUpdated = se.StartTime
}

// MarkAsCompleted updates the StepExecution status to COMPLETED.
// An exit status already set by the step (e.g. "POSITIVE") is kept.
func (se *StepExecution) MarkAsCompleted() {
	exit := se.ExitStatus
	if exit == "" || exit == ExitStatusUnknown {
		exit = ExitStatusCompleted
	}
	se.finish(BatchStatusCompleted, exit)
}

// MarkAsFailed updates the StepExecution status to FAILED and adds error information.
func (se *StepExecution) MarkAsFailed(err error) {
	se.finish(BatchStatusFailed, ExitStatusFailed)
	se.AddFailureException(err)
}

// MarkAsStopped updates the StepExecution status to STOPPED.
func (se *StepExecution) MarkAsStopped() {
	se.finish(BatchStatusStopped, ExitStatusStopped)
}

// AddFailureException adds error information to StepExecution. It avoids adding duplicate errors.
func (se *StepExecution) AddFailureException(err error) {
	if err == nil {
		return
	}
	var added bool
	if se.Failures, added = appendFailure(se.Failures, err); added {
		se.LastUpdated = time.Now()
	}
}

// CopyForRestart creates the step execution used by a restarted job execution.
// A COMPLETED step keeps its status, exit status and counts so that it can be skipped.
// Any other step is reset to STARTING; its context is retained so that readers resume.
func (se *StepExecution) CopyForRestart(newJobExecutionID string) *StepExecution {
	newSE := &StepExecution{
		ID:               NewID(),
		StepName:         se.StepName,
		JobExecutionID:   newJobExecutionID,
		Failures:         FailureList{},
		ExecutionContext: se.ExecutionContext.DeepCopy(),
		LastUpdated:      time.Now(),
	}

	if se.Status == BatchStatusCompleted {
		newSE.Status = BatchStatusCompleted
		newSE.ExitStatus = se.ExitStatus
		newSE.StartTime = se.StartTime
		newSE.EndTime = copyTime(se.EndTime)
		newSE.ReadCount = se.ReadCount
		newSE.ProcessCount = se.ProcessCount
		newSE.WriteCount = se.WriteCount
		newSE.CommitCount = se.CommitCount
		newSE.RollbackCount = se.RollbackCount
		newSE.FilterCount = se.FilterCount
		newSE.SkipReadCount = se.SkipReadCount
		newSE.SkipProcessCount = se.SkipProcessCount
		newSE.SkipWriteCount = se.SkipWriteCount
	} else {
		newSE.Status = BatchStatusStarting
		newSE.ExitStatus = ExitStatusUnknown
		newSE.StartTime = time.Now()
	}
	return newSE
}

// Snapshot returns a deep copy of the step execution without its JobExecution back pointer.
func (se *StepExecution) Snapshot() *StepExecution {
	cp := *se
	cp.JobExecution = nil
	cp.EndTime = copyTime(se.EndTime)
	cp.Failures = append(FailureList{}, se.Failures...)
	cp.ExecutionContext = se.ExecutionContext.DeepCopy()
	return &cp
}

// DebugString returns a debug string representation of StepExecution, excluding ExecutionContext details.
func (se *StepExecution) DebugString() string {
	endTimeStr := "nil"
	if se.EndTime != nil {
		endTimeStr = se.EndTime.Format(time.RFC3339Nano)
	}
	return fmt.Sprintf(
		"&{ID:%s StepName:%s JobExecutionID:%s StartTime:%s EndTime:%s Status:%s ExitStatus:%s Failures:%v ReadCount:%d ProcessCount:%d WriteCount:%d CommitCount:%d RollbackCount:%d FilterCount:%d SkipReadCount:%d SkipProcessCount:%d SkipWriteCount:%d ExecutionContext: (omitted, size: %d) Version:%d}",
		se.ID, se.StepName, se.JobExecutionID, se.StartTime.Format(time.RFC3339Nano),
		endTimeStr, se.Status, se.ExitStatus, se.Failures,
		se.ReadCount, se.ProcessCount, se.WriteCount, se.CommitCount, se.RollbackCount, se.FilterCount,
		se.SkipReadCount, se.SkipProcessCount, se.SkipWriteCount, len(se.ExecutionContext), se.Version,
	)
}
