package model

import "fmt"

// JobStatus represents the technical state of a job or step execution.
type JobStatus string

const (
	BatchStatusStarting   JobStatus = "STARTING"
	BatchStatusStarted    JobStatus = "STARTED"
	BatchStatusStopping   JobStatus = "STOPPING"
	BatchStatusStopped    JobStatus = "STOPPED"
	BatchStatusCompleted  JobStatus = "COMPLETED"
	BatchStatusFailed     JobStatus = "FAILED"
	BatchStatusAbandoned  JobStatus = "ABANDONED"
	BatchStatusRestarting JobStatus = "RESTARTING"
	BatchStatusUnknown    JobStatus = "UNKNOWN"
)

// String returns the string representation of the JobStatus.
func (s JobStatus) String() string {
	return string(s)
}

// IsFinished checks if the JobStatus represents a finished state.
func (s JobStatus) IsFinished() bool {
	switch s {
	case BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned:
		return true
	default:
		return false
	}
}

// IsRunning reports whether an execution in this status still owns its job instance.
func (s JobStatus) IsRunning() bool {
	switch s {
	case BatchStatusStarting, BatchStatusStarted, BatchStatusStopping, BatchStatusRestarting:
		return true
	default:
		return false
	}
}

// ToExitStatus converts the JobStatus to its corresponding ExitStatus.
func (s JobStatus) ToExitStatus() ExitStatus {
	switch s {
	case BatchStatusCompleted:
		return ExitStatusCompleted
	case BatchStatusFailed:
		return ExitStatusFailed
	case BatchStatusStopped:
		return ExitStatusStopped
	case BatchStatusAbandoned:
		return ExitStatusAbandoned
	default:
		return ExitStatusUnknown
	}
}

// ExitStatus is the business level outcome of a step or job. Besides the predefined values
// any string (e.g. "POSITIVE") may be produced by a step and matched by transition rules.
type ExitStatus string

const (
	ExitStatusUnknown   ExitStatus = "UNKNOWN"
	ExitStatusCompleted ExitStatus = "COMPLETED"
	ExitStatusFailed    ExitStatus = "FAILED"
	ExitStatusStopped   ExitStatus = "STOPPED"
	ExitStatusAbandoned ExitStatus = "ABANDONED"
	ExitStatusNoOp      ExitStatus = "NOOP"
)

// String returns the ExitStatus as a string.
func (s ExitStatus) String() string {
	return string(s)
}

// jobTransitions lists, per status, the statuses a JobExecution may move to.
var jobTransitions = map[JobStatus][]JobStatus{
	BatchStatusStarting:   {BatchStatusStarted, BatchStatusStopping, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusRestarting: {BatchStatusStarted, BatchStatusStopping, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:    {BatchStatusStopping, BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStopping:   {BatchStatusStopped, BatchStatusCompleted, BatchStatusFailed, BatchStatusAbandoned},
	BatchStatusStopped:    {BatchStatusRestarting, BatchStatusAbandoned},
	BatchStatusFailed:     {BatchStatusRestarting, BatchStatusAbandoned},
	BatchStatusCompleted:  {},
	BatchStatusAbandoned:  {},
}

// stepTransitions lists, per status, the statuses a StepExecution may move to.
// Step executions are never restarted in place; a restart works on a copy.
var stepTransitions = map[JobStatus][]JobStatus{
	BatchStatusStarting:  {BatchStatusStarted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusStarted:   {BatchStatusCompleted, BatchStatusFailed, BatchStatusStopped, BatchStatusAbandoned},
	BatchStatusCompleted: {},
	BatchStatusFailed:    {},
	BatchStatusStopped:   {},
	BatchStatusAbandoned: {},
}

func allowed(table map[JobStatus][]JobStatus, from, to JobStatus) bool {
	for _, next := range table[from] {
		if next == to {
			return true
		}
	}
	return false
}

// CanTransitionJob reports whether a job execution may move from one status to another.
func CanTransitionJob(from, to JobStatus) bool {
	return allowed(jobTransitions, from, to)
}

// CanTransitionStep reports whether a step execution may move from one status to another.
func CanTransitionStep(from, to JobStatus) bool {
	return allowed(stepTransitions, from, to)
}

func invalidTransition(kind, id string, from, to JobStatus) error {
	return fmt.Errorf("%s (ID: %s): Invalid state transition: %s -> %s", kind, id, from, to)
}
