package pipeline

import (
	"sync"
	"time"
)

// Outcome is the single result a stage settles on in a run.
type Outcome string

const (
	Success Outcome = "SUCCESS"
	Skipped Outcome = "SKIPPED"
	Failed  Outcome = "FAILED"
)

// StageResult is the outcome of one stage plus the detail behind it.
type StageResult struct {
	Module  ModuleID
	Outcome Outcome
	// Attempts counts invocations; zero when the stage was skipped or failed
	// its pre-check.
	Attempts int
	Duration time.Duration
	// Reason is a short human-readable cause for SKIPPED and FAILED.
	Reason string
	Err    error
}

// RunSummary collects stage results in the order they are recorded: sequence
// order in serial mode, completion order in concurrent mode. It is safe for
// concurrent use and must be treated as read-only once Run returns.
type RunSummary struct {
	RunID string

	mu      sync.Mutex
	results []StageResult
	index   map[ModuleID]int
}

func newRunSummary(runID string) *RunSummary {
	return &RunSummary{RunID: runID, index: make(map[ModuleID]int)}
}

// record stores r. A second result for the same module replaces the first in place.
func (s *RunSummary) record(r StageResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i, ok := s.index[r.Module]; ok {
		s.results[i] = r
		return
	}
	s.index[r.Module] = len(s.results)
	s.results = append(s.results, r)
}

// Results returns a copy of the recorded results in order.
func (s *RunSummary) Results() []StageResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageResult, len(s.results))
	copy(out, s.results)
	return out
}

// Modules returns the recorded modules in order.
func (s *RunSummary) Modules() []ModuleID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ModuleID, len(s.results))
	for i, r := range s.results {
		out[i] = r.Module
	}
	return out
}

// Outcome returns the outcome recorded for m.
func (s *RunSummary) Outcome(m ModuleID) (Outcome, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.index[m]
	if !ok {
		return "", false
	}
	return s.results[i].Outcome, true
}

// Outcomes returns the module to outcome mapping.
func (s *RunSummary) Outcomes() map[ModuleID]Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[ModuleID]Outcome, len(s.results))
	for _, r := range s.results {
		out[r.Module] = r.Outcome
	}
	return out
}

// Len returns the number of recorded results.
func (s *RunSummary) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// Count returns how many stages settled on o.
func (s *RunSummary) Count(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.results {
		if r.Outcome == o {
			n++
		}
	}
	return n
}

// HasFailures reports whether any stage FAILED.
func (s *RunSummary) HasFailures() bool { return s.Count(Failed) > 0 }
