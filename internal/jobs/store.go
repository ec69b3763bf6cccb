// Package jobs tracks process executions and their outputs in memory.
package jobs

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/geodata-aggregation/internal/format"
	"github.com/i474232898/geodata-aggregation/internal/pipeline"
)

var ErrNotFound = errors.New("job not found")

// JobStatus follows the OGC processes lifecycle vocabulary.
type JobStatus string

const (
	StatusAccepted   JobStatus = "accepted"
	StatusRunning    JobStatus = "running"
	StatusSuccessful JobStatus = "successful"
	StatusFailed     JobStatus = "failed"
)

// Outputs carries everything a finished job produced.
type Outputs struct {
	Rows          []pipeline.ComputedRow `json:"rows,omitempty"`
	Table         []format.TableRecord   `json:"table,omitempty"`
	ImportPayload *format.ImportPayload  `json:"importPayload,omitempty"`
	Errors        []string               `json:"errors,omitempty"`
}

// JobRecord is one execution of a process.
type JobRecord struct {
	JobID     string    `json:"jobId"`
	ProcessID string    `json:"processId"`
	Status    JobStatus `json:"status"`
	Created   time.Time `json:"created"`
	Updated   time.Time `json:"updated"`
	Outputs   Outputs   `json:"outputs,omitempty"`
}

// MemoryStore keeps job records behind a mutex. Records are copied in and
// out so callers never share the stored state.
type MemoryStore struct {
	mu   sync.RWMutex
	jobs map[string]JobRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]JobRecord)}
}

// Create registers a new running job and returns its record.
func (s *MemoryStore) Create(processID string) JobRecord {
	now := time.Now().UTC()
	record := JobRecord{
		JobID:     uuid.NewString(),
		ProcessID: processID,
		Status:    StatusRunning,
		Created:   now,
		Updated:   now,
	}
	s.mu.Lock()
	s.jobs[record.JobID] = record
	s.mu.Unlock()
	return record
}

// Complete marks the job successful and attaches its outputs.
func (s *MemoryStore) Complete(jobID string, outputs Outputs) (JobRecord, error) {
	return s.update(jobID, func(r *JobRecord) {
		r.Status = StatusSuccessful
		r.Outputs = outputs
	})
}

// Fail marks the job failed with an error message.
func (s *MemoryStore) Fail(jobID, message string) (JobRecord, error) {
	return s.update(jobID, func(r *JobRecord) {
		r.Status = StatusFailed
		r.Outputs = Outputs{Errors: []string{message}}
	})
}

// Get returns one job record.
func (s *MemoryStore) Get(jobID string) (JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.jobs[jobID]
	if !ok {
		return JobRecord{}, ErrNotFound
	}
	return record, nil
}

// List returns all records, most recently created first.
func (s *MemoryStore) List() []JobRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobRecord, 0, len(s.jobs))
	for _, record := range s.jobs {
		out = append(out, record)
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].Created.After(out[j-1].Created); j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

func (s *MemoryStore) update(jobID string, apply func(*JobRecord)) (JobRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[jobID]
	if !ok {
		return JobRecord{}, ErrNotFound
	}
	apply(&record)
	record.Updated = time.Now().UTC()
	s.jobs[jobID] = record
	return record, nil
}
