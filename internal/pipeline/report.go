package pipeline

import (
	"encoding/json"
	"io"
	"sync"
	"time"
)

// ItemError is one item-level failure inside a phase. Item failures are
// isolated: they are reported here and counted, but do not abort the phase.
type ItemError struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// PhaseReport is one phase's outcome. Counts and Errors may be written from
// worker goroutines; the embedded mutex covers both.
type PhaseReport struct {
	Phase     string         `json:"phase"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	Skipped   bool           `json:"skipped,omitempty"`
	Counts    map[string]int `json:"counts"`
	Errors    []ItemError    `json:"errors,omitempty"`
	Error     string         `json:"error,omitempty"`

	mu sync.Mutex
}

func newPhaseReport(phase string) *PhaseReport {
	return &PhaseReport{
		Phase:  phase,
		Counts: make(map[string]int),
	}
}

func (p *PhaseReport) add(key string, n int) {
	p.mu.Lock()
	p.Counts[key] += n
	p.mu.Unlock()
}

func (p *PhaseReport) addError(item, reason string) {
	p.mu.Lock()
	p.Errors = append(p.Errors, ItemError{Item: item, Reason: reason})
	p.mu.Unlock()
}

func (p *PhaseReport) count(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Counts[key]
}

// RunReport is the machine-readable summary of one pipeline run, written to
// stdout as JSON when the run command finishes.
type RunReport struct {
	RunID     string         `json:"run_id"`
	StartedAt time.Time      `json:"started_at"`
	EndedAt   time.Time      `json:"ended_at"`
	DryRun    bool           `json:"dry_run"`
	Phases    []*PhaseReport `json:"phases"`
	Failed    string         `json:"failed_phase,omitempty"`
}

// WriteJSON renders the report as indented JSON.
func (r *RunReport) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}
