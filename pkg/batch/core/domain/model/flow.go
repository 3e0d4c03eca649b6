package model

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// WildcardPattern matches any exit status that no exact rule of the same element matches.
const WildcardPattern = "*"

// Partition context keys stamped by the partition coordinator.
const (
	PartitionIndexKey = "partitionIndex"
	PartitionCountKey = "partitionCount"
	PartitionKeyKey   = "partitionKey"
)

// PartitionName generates a standard partition name from the partition index.
func PartitionName(index int) string {
	return fmt.Sprintf("partition%d", index)
}

// Transition defines a transition rule from a step or Decision to the next element.
type Transition struct {
	// On is an exact exit status or WildcardPattern.
	On string `yaml:"on"`
	// To is the next element. With Stop it names the element a restart resumes from.
	To   string `yaml:"to,omitempty"`
	End  bool   `yaml:"end,omitempty"`
	Fail bool   `yaml:"fail,omitempty"`
	Stop bool   `yaml:"stop,omitempty"`
	// ExitStatus overrides the job exit status when the rule ends the job.
	ExitStatus string `yaml:"exit-status,omitempty"`
}

// IsTerminal reports whether following the transition ends the current flow.
func (t Transition) IsTerminal() bool {
	return t.End || t.Fail || t.Stop
}

// TransitionRule defines a single transition rule from a specific source element.
type TransitionRule struct {
	From       string
	Transition Transition
}

// FlowDefinition is the graph of a job or split branch: elements keyed by id and the
// transition rules between them.
type FlowDefinition struct {
	StartElement string
	// Elements hold port.Step, port.Decision or port.Split values. The model package cannot
	// name those interfaces without an import cycle.
	Elements        map[string]interface{}
	TransitionRules []TransitionRule
}

// NewFlowDefinition creates a new instance of FlowDefinition.
func NewFlowDefinition(startElement string) *FlowDefinition {
	return &FlowDefinition{
		StartElement:    startElement,
		Elements:        make(map[string]interface{}),
		TransitionRules: make([]TransitionRule, 0),
	}
}

// AddElement adds a new element (Step, Decision or Split) to the flow.
func (fd *FlowDefinition) AddElement(id string, element interface{}) error {
	if _, exists := fd.Elements[id]; exists {
		return fmt.Errorf("flow element ID '%s' already exists", id)
	}
	fd.Elements[id] = element
	return nil
}

// AddTransitionRule adds a transition rule.
func (fd *FlowDefinition) AddTransitionRule(from string, t Transition) {
	fd.TransitionRules = append(fd.TransitionRules, TransitionRule{From: from, Transition: t})
}

// ResolveTransition returns the rule to follow when element from ends with exitStatus.
// The first exact match in declaration order wins; otherwise the wildcard rule of the
// element applies. The boolean is false when nothing matches, which ends the flow.
func (fd *FlowDefinition) ResolveTransition(from string, exitStatus ExitStatus) (Transition, bool) {
	var wildcard *Transition
	for i := range fd.TransitionRules {
		rule := &fd.TransitionRules[i]
		if rule.From != from {
			continue
		}
		if rule.Transition.On == string(exitStatus) {
			return rule.Transition, true
		}
		if rule.Transition.On == WildcardPattern && wildcard == nil {
			wildcard = &rule.Transition
		}
	}
	if wildcard != nil {
		return *wildcard, true
	}
	return Transition{}, false
}

// ResolveExactTransition returns only an exact match for exitStatus.
func (fd *FlowDefinition) ResolveExactTransition(from string, exitStatus ExitStatus) (Transition, bool) {
	for _, rule := range fd.TransitionRules {
		if rule.From == from && rule.Transition.On == string(exitStatus) {
			return rule.Transition, true
		}
	}
	return Transition{}, false
}

// ElementIDs returns the element ids in sorted order.
func (fd *FlowDefinition) ElementIDs() []string {
	ids := make([]string, 0, len(fd.Elements))
	for id := range fd.Elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Validate checks that the start element and every transition endpoint exist.
func (fd *FlowDefinition) Validate() error {
	var result *multierror.Error
	if fd.StartElement == "" {
		result = multierror.Append(result, fmt.Errorf("flow has no start element"))
	} else if _, ok := fd.Elements[fd.StartElement]; !ok {
		result = multierror.Append(result, fmt.Errorf("start element '%s' is not defined", fd.StartElement))
	}
	for _, rule := range fd.TransitionRules {
		t := rule.Transition
		if _, ok := fd.Elements[rule.From]; !ok {
			result = multierror.Append(result, fmt.Errorf("transition source '%s' is not defined", rule.From))
		}
		if t.On == "" {
			result = multierror.Append(result, fmt.Errorf("transition from '%s' has an empty 'on' pattern", rule.From))
		}
		if t.End && t.Fail {
			result = multierror.Append(result, fmt.Errorf("transition from '%s' on '%s' cannot both end and fail", rule.From, t.On))
		}
		if t.To == "" && !t.IsTerminal() {
			result = multierror.Append(result, fmt.Errorf("transition from '%s' on '%s' has no target", rule.From, t.On))
		}
		if t.To != "" {
			if _, ok := fd.Elements[t.To]; !ok {
				result = multierror.Append(result, fmt.Errorf("transition from '%s' on '%s' targets undefined element '%s'", rule.From, t.On, t.To))
			}
		}
	}
	return result.ErrorOrNil()
}

// ExecutionContextPromotion defines the promotion settings from StepExecutionContext to JobExecutionContext.
type ExecutionContextPromotion struct {
	Keys []string `yaml:"keys,omitempty"`
	// JobLevelKeys renames promoted keys at the job level (step key -> job key).
	JobLevelKeys map[string]string `yaml:"job-level-keys,omitempty"`
}

// NewExecutionContextPromotion creates a new instance of ExecutionContextPromotion.
func NewExecutionContextPromotion(keys ...string) *ExecutionContextPromotion {
	return &ExecutionContextPromotion{
		Keys:         keys,
		JobLevelKeys: make(map[string]string),
	}
}
