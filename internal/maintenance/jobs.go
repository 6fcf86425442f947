package maintenance

import (
	"context"
	"fmt"
	"strings"
)

// Job is one housekeeping task run under the maintenance lock.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobSet is the ordered list of jobs a maintenance cycle walks. Names are
// unique because run metrics and logs are labelled by them.
type JobSet struct {
	order []Job
	names map[string]struct{}
}

// NewJobSet returns a set holding jobs in the given order.
func NewJobSet(jobs ...Job) (*JobSet, error) {
	set := &JobSet{names: make(map[string]struct{}, len(jobs))}
	for _, job := range jobs {
		if err := set.Add(job); err != nil {
			return nil, err
		}
	}
	return set, nil
}

// Add appends job. A nil job is skipped.
func (s *JobSet) Add(job Job) error {
	if job == nil {
		return nil
	}
	name := strings.TrimSpace(job.Name())
	if name == "" {
		return fmt.Errorf("maintenance job has no name")
	}
	if _, dup := s.names[name]; dup {
		return fmt.Errorf("maintenance job %q added twice", name)
	}
	s.names[name] = struct{}{}
	s.order = append(s.order, job)
	return nil
}

// Jobs is a snapshot; callers may modify it freely.
func (s *JobSet) Jobs() []Job {
	return append([]Job(nil), s.order...)
}

func (s *JobSet) Names() []string {
	names := make([]string, 0, len(s.order))
	for _, job := range s.order {
		names = append(names, job.Name())
	}
	return names
}
