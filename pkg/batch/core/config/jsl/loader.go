package jsl

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/tigerroll/batchflow/pkg/batch/support/util/exception"
	logger "github.com/tigerroll/batchflow/pkg/batch/support/util/logger"
)

// Parse decodes and validates one JSL document. Unknown fields are rejected so that a
// misspelled key does not silently change a job.
func Parse(data []byte) (*Job, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var job Job
	if err := dec.Decode(&job); err != nil {
		return nil, exception.NewBatchError("jsl_loader", "Failed to parse JSL file", err, false, false)
	}
	if err := job.Validate(); err != nil {
		return nil, exception.NewBatchError("jsl_loader", fmt.Sprintf("JSL job '%s' is invalid", job.ID), err, false, false)
	}
	logger.Debugf("Parsed JSL job '%s' with %d elements.", job.ID, len(job.Flow.Elements))
	return &job, nil
}

// ParseAll parses several documents and rejects duplicated job names.
func ParseAll(defs []JSLDefinitionBytes) ([]*Job, error) {
	var (
		jobs   []*Job
		result *multierror.Error
		names  = map[string]bool{}
	)
	for _, data := range defs {
		job, err := Parse(data)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if names[job.Name] {
			result = multierror.Append(result, fmt.Errorf("JSL job name '%s' is duplicated", job.Name))
			continue
		}
		names[job.Name] = true
		jobs = append(jobs, job)
	}
	return jobs, result.ErrorOrNil()
}

// Validate checks the structure of the job definition. Element references to registered
// components are checked later, when the job is built.
func (j *Job) Validate() error {
	var result *multierror.Error
	if j.ID == "" {
		result = multierror.Append(result, fmt.Errorf("'id' is not defined"))
	}
	if j.Name == "" {
		result = multierror.Append(result, fmt.Errorf("'name' is not defined"))
	}
	if err := j.Flow.validate("flow"); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (f *Flow) validate(path string) error {
	var result *multierror.Error
	if f.StartElement == "" {
		result = multierror.Append(result, fmt.Errorf("%s: 'start-element' is not defined", path))
	}
	if len(f.Elements) == 0 {
		result = multierror.Append(result, fmt.Errorf("%s: 'elements' is empty", path))
		return result.ErrorOrNil()
	}
	if _, ok := f.Elements[f.StartElement]; f.StartElement != "" && !ok {
		result = multierror.Append(result, fmt.Errorf("%s: start element '%s' is not defined", path, f.StartElement))
	}
	for _, id := range f.ElementIDs() {
		el := f.Elements[id]
		elPath := path + "." + id
		if el == nil {
			result = multierror.Append(result, fmt.Errorf("%s: element is empty", elPath))
			continue
		}
		if err := el.validate(elPath, false); err != nil {
			result = multierror.Append(result, err)
		}
		for _, t := range el.Transitions {
			if t.To != "" {
				if _, ok := f.Elements[t.To]; !ok {
					result = multierror.Append(result, fmt.Errorf("%s: transition on '%s' targets undefined element '%s'", elPath, t.On, t.To))
				}
			}
		}
	}
	return result.ErrorOrNil()
}

// ElementIDs returns the element ids in sorted order.
func (f *Flow) ElementIDs() []string {
	ids := make([]string, 0, len(f.Elements))
	for id := range f.Elements {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (e *Element) validate(path string, worker bool) error {
	var result *multierror.Error
	missing := func(field string) {
		result = multierror.Append(result, fmt.Errorf("%s: %s element requires '%s'", path, e.Type, field))
	}

	switch e.Type {
	case TypeChunk:
		if e.Reader == nil || e.Reader.Ref == "" {
			missing("reader")
		}
		if e.Writer == nil || e.Writer.Ref == "" {
			missing("writer")
		}
		if e.Chunk != nil && e.Chunk.SkipLimit < 0 {
			result = multierror.Append(result, fmt.Errorf("%s: skip-limit must not be negative", path))
		}
	case TypeTasklet:
		if e.Tasklet == nil || e.Tasklet.Ref == "" {
			missing("tasklet")
		}
	case TypePartition:
		if worker {
			result = multierror.Append(result, fmt.Errorf("%s: a partition worker cannot be partitioned", path))
			break
		}
		if e.Partition == nil {
			missing("partition")
			break
		}
		if e.Partition.Partitioner.Ref == "" {
			missing("partition.partitioner")
		}
		if e.Partition.Worker == nil {
			missing("partition.worker")
		} else if err := e.Partition.Worker.validate(path+".worker", true); err != nil {
			result = multierror.Append(result, err)
		}
	case TypeSplit:
		if worker {
			result = multierror.Append(result, fmt.Errorf("%s: a partition worker must be a chunk or tasklet step", path))
			break
		}
		if e.Split == nil || len(e.Split.Flows) == 0 {
			missing("split.flows")
			break
		}
		for i := range e.Split.Flows {
			if err := e.Split.Flows[i].validate(fmt.Sprintf("%s.flows[%d]", path, i)); err != nil {
				result = multierror.Append(result, err)
			}
		}
	case TypeDecision:
		if worker {
			result = multierror.Append(result, fmt.Errorf("%s: a partition worker must be a chunk or tasklet step", path))
			break
		}
		if e.Decision == nil || e.Decision.Ref == "" {
			missing("decision")
		}
	case "":
		result = multierror.Append(result, fmt.Errorf("%s: 'type' is not defined", path))
	default:
		result = multierror.Append(result, fmt.Errorf("%s: unknown element type '%s'", path, e.Type))
	}

	for _, t := range e.Transitions {
		if t.On == "" {
			result = multierror.Append(result, fmt.Errorf("%s: transition has an empty 'on' pattern", path))
		}
		if t.To == "" && !t.IsTerminal() {
			result = multierror.Append(result, fmt.Errorf("%s: transition on '%s' has no target", path, t.On))
		}
	}
	return result.ErrorOrNil()
}
