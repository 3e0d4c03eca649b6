package jsl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	port "github.com/tigerroll/batchflow/pkg/batch/core/application/port"
	tx "github.com/tigerroll/batchflow/pkg/batch/core/tx"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// ReaderBuilder builds an ItemReader for one step execution or partition.
//
// Parameters:
//
//	ctx: The context of the step execution.
//	scope: Job parameters, shared context snapshot and local context of the execution.
//	properties: A map of properties injected from JSL.
type ReaderBuilder func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemReader, error)

// ProcessorBuilder builds an ItemProcessor for one step execution or partition.
type ProcessorBuilder func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemProcessor, error)

// WriterBuilder builds an ItemWriter for one step execution or partition.
type WriterBuilder func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.ItemWriter, error)

// TaskletBuilder builds a Tasklet for one step execution or partition.
type TaskletBuilder func(ctx context.Context, scope port.StepScope, properties map[string]string) (port.Tasklet, error)

// PartitionerBuilder builds the Partitioner of a partitioned step.
type PartitionerBuilder func(properties map[string]string) (port.Partitioner, error)

// DecisionBuilder builds a Decision element.
type DecisionBuilder func(id string, properties map[string]string) (port.Decision, error)

// JobListenerBuilder builds a JobExecutionListener.
type JobListenerBuilder func(properties map[string]string) (port.JobExecutionListener, error)

// StepListenerBuilder builds a StepExecutionListener.
type StepListenerBuilder func(properties map[string]string) (port.StepExecutionListener, error)

// ChunkListenerBuilder builds a ChunkListener.
type ChunkListenerBuilder func(properties map[string]string) (port.ChunkListener, error)

// SkipListenerBuilder builds a SkipListener.
type SkipListenerBuilder func(properties map[string]string) (port.SkipListener, error)

// IncrementerBuilder builds a JobParametersIncrementer.
type IncrementerBuilder func(properties map[string]string) (port.JobParametersIncrementer, error)

// ValidatorBuilder builds a JobParametersValidator.
type ValidatorBuilder func(properties map[string]string) (port.JobParametersValidator, error)

type builders[T any] struct {
	kind string
	m    map[string]T
}

func newBuilders[T any](kind string) builders[T] {
	return builders[T]{kind: kind, m: make(map[string]T)}
}

func (b builders[T]) names() []string {
	names := make([]string, 0, len(b.m))
	for n := range b.m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registry maps the refs used in JSL documents to component builders. Packages providing
// components register them from an fx.Invoke; the JobFactory resolves them when a job is built.
type Registry struct {
	mu                  sync.RWMutex
	readers             builders[ReaderBuilder]
	processors          builders[ProcessorBuilder]
	writers             builders[WriterBuilder]
	tasklets            builders[TaskletBuilder]
	partitioners        builders[PartitionerBuilder]
	decisions           builders[DecisionBuilder]
	jobListeners        builders[JobListenerBuilder]
	stepListeners       builders[StepListenerBuilder]
	chunkListeners      builders[ChunkListenerBuilder]
	skipListeners       builders[SkipListenerBuilder]
	incrementers        builders[IncrementerBuilder]
	validators          builders[ValidatorBuilder]
	transactionManagers builders[tx.TransactionManager]
}

// NoTransactionManagerRef names the transaction manager that runs a step without
// transactions. Every Registry has it.
const NoTransactionManagerRef = "none"

// NewRegistry creates a Registry holding only the "none" transaction manager.
func NewRegistry() *Registry {
	r := &Registry{
		readers:             newBuilders[ReaderBuilder]("reader"),
		processors:          newBuilders[ProcessorBuilder]("processor"),
		writers:             newBuilders[WriterBuilder]("writer"),
		tasklets:            newBuilders[TaskletBuilder]("tasklet"),
		partitioners:        newBuilders[PartitionerBuilder]("partitioner"),
		decisions:           newBuilders[DecisionBuilder]("decision"),
		jobListeners:        newBuilders[JobListenerBuilder]("job listener"),
		stepListeners:       newBuilders[StepListenerBuilder]("step listener"),
		chunkListeners:      newBuilders[ChunkListenerBuilder]("chunk listener"),
		skipListeners:       newBuilders[SkipListenerBuilder]("skip listener"),
		incrementers:        newBuilders[IncrementerBuilder]("incrementer"),
		validators:          newBuilders[ValidatorBuilder]("validator"),
		transactionManagers: newBuilders[tx.TransactionManager]("transaction manager"),
	}
	r.transactionManagers.m[NoTransactionManagerRef] = tx.NewNoOpTransactionManager()
	return r
}

func register[T any](r *Registry, b builders[T], name string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := b.m[name]; exists {
		logger.Warnf("JSL registry: %s '%s' registered twice; the last registration wins.", b.kind, name)
	}
	b.m[name] = v
	logger.Debugf("JSL registry: %s '%s' registered.", b.kind, name)
}

func lookup[T any](r *Registry, b builders[T], name string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := b.m[name]
	if !ok {
		var zero T
		return zero, fmt.Errorf("%s '%s' is not registered (known: %v)", b.kind, name, b.names())
	}
	return v, nil
}

func (r *Registry) RegisterReader(name string, b ReaderBuilder) { register(r, r.readers, name, b) }
func (r *Registry) RegisterProcessor(name string, b ProcessorBuilder) {
	register(r, r.processors, name, b)
}
func (r *Registry) RegisterWriter(name string, b WriterBuilder)   { register(r, r.writers, name, b) }
func (r *Registry) RegisterTasklet(name string, b TaskletBuilder) { register(r, r.tasklets, name, b) }
func (r *Registry) RegisterPartitioner(name string, b PartitionerBuilder) {
	register(r, r.partitioners, name, b)
}
func (r *Registry) RegisterDecision(name string, b DecisionBuilder) {
	register(r, r.decisions, name, b)
}
func (r *Registry) RegisterJobListener(name string, b JobListenerBuilder) {
	register(r, r.jobListeners, name, b)
}
func (r *Registry) RegisterStepListener(name string, b StepListenerBuilder) {
	register(r, r.stepListeners, name, b)
}
func (r *Registry) RegisterChunkListener(name string, b ChunkListenerBuilder) {
	register(r, r.chunkListeners, name, b)
}
func (r *Registry) RegisterSkipListener(name string, b SkipListenerBuilder) {
	register(r, r.skipListeners, name, b)
}
func (r *Registry) RegisterIncrementer(name string, b IncrementerBuilder) {
	register(r, r.incrementers, name, b)
}
func (r *Registry) RegisterValidator(name string, b ValidatorBuilder) {
	register(r, r.validators, name, b)
}

// RegisterTransactionManager makes a transaction manager available to steps under name,
// typically the name of the database connection behind it.
func (r *Registry) RegisterTransactionManager(name string, m tx.TransactionManager) {
	register(r, r.transactionManagers, name, m)
}

func (r *Registry) Reader(name string) (ReaderBuilder, error) { return lookup(r, r.readers, name) }
func (r *Registry) Processor(name string) (ProcessorBuilder, error) {
	return lookup(r, r.processors, name)
}
func (r *Registry) Writer(name string) (WriterBuilder, error)   { return lookup(r, r.writers, name) }
func (r *Registry) Tasklet(name string) (TaskletBuilder, error) { return lookup(r, r.tasklets, name) }
func (r *Registry) Partitioner(name string) (PartitionerBuilder, error) {
	return lookup(r, r.partitioners, name)
}
func (r *Registry) Decision(name string) (DecisionBuilder, error) {
	return lookup(r, r.decisions, name)
}
func (r *Registry) JobListener(name string) (JobListenerBuilder, error) {
	return lookup(r, r.jobListeners, name)
}
func (r *Registry) StepListener(name string) (StepListenerBuilder, error) {
	return lookup(r, r.stepListeners, name)
}
func (r *Registry) ChunkListener(name string) (ChunkListenerBuilder, error) {
	return lookup(r, r.chunkListeners, name)
}
func (r *Registry) SkipListener(name string) (SkipListenerBuilder, error) {
	return lookup(r, r.skipListeners, name)
}
func (r *Registry) Incrementer(name string) (IncrementerBuilder, error) {
	return lookup(r, r.incrementers, name)
}
func (r *Registry) Validator(name string) (ValidatorBuilder, error) {
	return lookup(r, r.validators, name)
}

// TransactionManager returns the manager registered under name.
func (r *Registry) TransactionManager(name string) (tx.TransactionManager, bool) {
	m, err := lookup(r, r.transactionManagers, name)
	return m, err == nil
}
