// Package jsl defines the models for the Job Specification Language (JSL) of batchflow.
// It is used to declaratively describe the structure, flow, and components of batch jobs in YAML format.
package jsl

import (
	model "github.com/tigerroll/batchflow/pkg/batch/core/domain/model"
)

// JSLDefinitionBytes holds the content of a JSL file as a byte slice.
// Applications contribute them to the "jsl" fx group, usually from go:embed files.
type JSLDefinitionBytes []byte

// Element kinds.
const (
	TypeChunk     = "chunk"
	TypeTasklet   = "tasklet"
	TypePartition = "partition"
	TypeSplit     = "split"
	TypeDecision  = "decision"
)

// Job represents the top-level structure of a JSL file, containing the entire batch job definition.
type Job struct {
	// ID is the unique identifier for the job.
	ID string `yaml:"id"`
	// Name is the logical name of the job, used by the launcher.
	Name string `yaml:"name"`
	// Description is an optional description for the job.
	Description string `yaml:"description,omitempty"`
	// Restartable defaults to true.
	Restartable *bool `yaml:"restartable,omitempty"`
	// Flow defines the execution flow of the job.
	Flow Flow `yaml:"flow"`
	// Listeners is an optional list of JobExecutionListener references applied to this job.
	Listeners []ComponentRef `yaml:"listeners,omitempty"`
	// Incrementer is an optional reference to a JobParametersIncrementer.
	Incrementer *ComponentRef `yaml:"incrementer,omitempty"`
	// Validator is an optional reference to a JobParametersValidator.
	Validator *ComponentRef `yaml:"validator,omitempty"`
}

// IsRestartable reports the restartable flag, true when unset.
func (j *Job) IsRestartable() bool {
	return j.Restartable == nil || *j.Restartable
}

// Flow is a graph of elements. Jobs and split branches are flows.
type Flow struct {
	// StartElement is the ID of the starting element in the flow.
	StartElement string `yaml:"start-element"`
	// Elements are keyed by element ID.
	Elements map[string]*Element `yaml:"elements"`
}

// Element is one node of a flow. Type selects which of the kind specific fields apply.
type Element struct {
	Type        string `yaml:"type"`
	Description string `yaml:"description,omitempty"`

	// chunk
	Chunk     *Chunk        `yaml:"chunk,omitempty"`
	Reader    *ComponentRef `yaml:"reader,omitempty"`
	Processor *ComponentRef `yaml:"processor,omitempty"`
	Writer    *ComponentRef `yaml:"writer,omitempty"`

	// tasklet
	Tasklet *ComponentRef `yaml:"tasklet,omitempty"`

	// partition
	Partition *Partition `yaml:"partition,omitempty"`

	// split
	Split *Split `yaml:"split,omitempty"`

	// decision
	Decision *ComponentRef `yaml:"decision,omitempty"`

	// AllowStartIfComplete runs a COMPLETED step again on restart.
	AllowStartIfComplete bool `yaml:"allow-start-if-complete,omitempty"`
	// IsolationLevel overrides the configured isolation of chunk or tasklet transactions.
	IsolationLevel string `yaml:"isolation-level,omitempty"`
	// TransactionManager names the registered transaction manager; empty uses the configured default.
	TransactionManager string `yaml:"transaction-manager,omitempty"`

	Listeners      []ComponentRef `yaml:"listeners,omitempty"`
	ChunkListeners []ComponentRef `yaml:"chunk-listeners,omitempty"`
	SkipListeners  []ComponentRef `yaml:"skip-listeners,omitempty"`

	// Promotion copies keys of the step context into the job context when the step completes.
	Promotion *model.ExecutionContextPromotion `yaml:"execution-context-promotion,omitempty"`
	// Transitions defines the transition rules from this element.
	Transitions []model.Transition `yaml:"transitions,omitempty"`
}

// ComponentRef refers to a registered component (e.g., reader, processor, writer, tasklet).
type ComponentRef struct {
	// Ref is the reference name of the component.
	Ref string `yaml:"ref"`
	// Properties is an optional map of properties injected from JSL.
	Properties map[string]string `yaml:"properties,omitempty"`
}

// Chunk defines the chunk-oriented processing properties for a step.
type Chunk struct {
	// ItemCount specifies the number of items to be processed in a chunk.
	ItemCount int `yaml:"item-count,omitempty"`
	// ItemCountLimit stops reading after that many items. 0 means no limit.
	ItemCountLimit int `yaml:"item-count-limit,omitempty"`
	// SkipLimit enables fault tolerance. 0 uses the configured default.
	SkipLimit           int      `yaml:"skip-limit,omitempty"`
	SkippableExceptions []string `yaml:"skippable-exceptions,omitempty"`
}

// Partition defines the partitioning properties of a step.
type Partition struct {
	// Partitioner is a reference to the Partitioner component.
	Partitioner ComponentRef `yaml:"partitioner"`
	// GridSize specifies the number of partitions to create. 0 uses the configured default.
	GridSize int `yaml:"grid-size,omitempty"`
	// Concurrency bounds the partitions running at once. 0 runs up to GridSize.
	Concurrency int `yaml:"concurrency,omitempty"`
	// Worker is the chunk or tasklet step run once per partition.
	Worker *Element `yaml:"worker"`
}

// Split runs several flows concurrently.
type Split struct {
	// Concurrency bounds the branches running at once. 0 uses the configured default.
	Concurrency int    `yaml:"concurrency,omitempty"`
	Flows       []Flow `yaml:"flows"`
}
