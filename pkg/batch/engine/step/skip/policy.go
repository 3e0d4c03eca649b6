// Package skip classifies item errors for fault tolerant chunk steps.
package skip

import (
	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
)

// SkipPolicy decides whether an item error may be skipped.
// The policy itself holds no counters: the skip count lives on the StepExecution so that it
// is persisted with it and each partition keeps its own budget.
type SkipPolicy interface {
	// ShouldSkip reports whether err is classified as skippable.
	ShouldSkip(err error) bool
	// CanSkip reports whether one more skip fits in the budget given the current count.
	CanSkip(skipCount int) bool
	// GetSkipLimit returns the maximum number of skips configured for this policy.
	GetSkipLimit() int
}

// DefaultSkipPolicyFactory is a factory for creating SkipPolicy.
type DefaultSkipPolicyFactory struct{}

// NewDefaultSkipPolicyFactory creates a new DefaultSkipPolicyFactory.
func NewDefaultSkipPolicyFactory() *DefaultSkipPolicyFactory {
	return &DefaultSkipPolicyFactory{}
}

// Create creates a SkipPolicy.
// skipLimit: The maximum number of skips allowed. 0 disables skipping.
// skippableExceptions: Error names resolved through exception.IsErrorOfType (registered names,
// Go type names or message fragments).
func (f *DefaultSkipPolicyFactory) Create(skipLimit int, skippableExceptions []string) SkipPolicy {
	if skipLimit < 0 {
		skipLimit = 0
	}
	return &defaultSkipPolicy{
		skipLimit:           skipLimit,
		skippableExceptions: append([]string(nil), skippableExceptions...),
	}
}

// NeverSkip returns a policy that classifies no error as skippable.
func NeverSkip() SkipPolicy {
	return &defaultSkipPolicy{}
}

type defaultSkipPolicy struct {
	skipLimit           int
	skippableExceptions []string
}

// ShouldSkip checks, in order, the skippable flag of BatchError and the configured names.
// A limit of 0 means nothing is skippable.
func (p *defaultSkipPolicy) ShouldSkip(err error) bool {
	if err == nil || p.skipLimit == 0 {
		return false
	}
	if exception.IsSkippable(err) {
		return true
	}
	for _, typeName := range p.skippableExceptions {
		if exception.IsErrorOfType(err, typeName) {
			return true
		}
	}
	return false
}

func (p *defaultSkipPolicy) CanSkip(skipCount int) bool {
	return p.skipLimit > 0 && skipCount < p.skipLimit
}

func (p *defaultSkipPolicy) GetSkipLimit() int {
	return p.skipLimit
}

var _ SkipPolicy = (*defaultSkipPolicy)(nil)
