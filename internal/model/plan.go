// Package model defines the data structures for the shared project plan
// document, the engine configuration, and the derived analysis records.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MaxNextActions caps the next_actions list in the plan document.
const MaxNextActions = 10

// Plan is the root persisted document (project_plan.json).
type Plan struct {
	WorkBreakdownStructure map[string]*Phase     `json:"work_breakdown_structure"`
	ExecutiveSummary       ExecutiveSummary      `json:"executive_summary"`
	NextActions            []string              `json:"next_actions,omitempty"`
	CriticalPathAnalysis   *CriticalPathAnalysis `json:"critical_path_analysis,omitempty"`
	LastUpdated            string                `json:"last_updated,omitempty"`
}

// ExecutiveSummary holds the aggregate rollup fields of the plan.
type ExecutiveSummary struct {
	OverallCompletion float64 `json:"overall_completion"`
	Summary           string  `json:"summary,omitempty"`
}

// CriticalPathAnalysis is the persisted summary of the last scheduler run.
// Per-task timing records are ephemeral and never stored here.
type CriticalPathAnalysis struct {
	CriticalTasks []string `json:"critical_tasks"`
	TotalDuration int      `json:"total_duration"`
	TaskCount     int      `json:"task_count"`
	LastUpdated   string   `json:"last_updated,omitempty"`
}

// Phase is one top-level WBS entry keyed by a dotted id like "4.0".
type Phase struct {
	ID                   string           `json:"id,omitempty"`
	Name                 string           `json:"name"`
	Status               Status           `json:"status"`
	CompletionPercentage float64          `json:"completion_percentage"`
	Subtasks             map[string]*Task `json:"subtasks,omitempty"`
}

// Task is a WBS subtask.
type Task struct {
	ID              string         `json:"id,omitempty"`
	Name            string         `json:"name"`
	Status          Status         `json:"status"`
	Completion      float64        `json:"completion"`
	Dependencies    DependencyList `json:"dependencies,omitempty"`
	EstimatedEffort Effort         `json:"estimated_effort,omitempty"`
	Priority        string         `json:"priority,omitempty"`
	IsCriticalPath  bool           `json:"is_critical_path"`
}

// DependencyList accepts either a JSON array of task ids or a single
// comma-separated string; upstream tools emit both forms.
type DependencyList []string

func (d *DependencyList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*d = normalizeDeps(list)
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*d = normalizeDeps(strings.Split(single, ","))
		return nil
	}
	return fmt.Errorf("dependencies must be a string or a list of strings")
}

func normalizeDeps(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, dep := range raw {
		dep = strings.TrimSpace(dep)
		if dep == "" || seen[dep] {
			continue
		}
		seen[dep] = true
		out = append(out, dep)
	}
	return out
}

// OrderedPhaseIDs returns the phase ids sorted by their dotted numeric
// components, so "10.0" sorts after "4.0". Non-numeric ids sort after
// numeric ones, lexically.
func (p *Plan) OrderedPhaseIDs() []string {
	ids := make([]string, 0, len(p.WorkBreakdownStructure))
	for id := range p.WorkBreakdownStructure {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessDotted(ids[i], ids[j]) })
	return ids
}

func lessDotted(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		an, aerr := strconv.Atoi(as[i])
		bn, berr := strconv.Atoi(bs[i])
		switch {
		case aerr == nil && berr == nil:
			if an != bn {
				return an < bn
			}
		case aerr == nil:
			return true
		case berr == nil:
			return false
		default:
			if as[i] != bs[i] {
				return as[i] < bs[i]
			}
		}
	}
	return len(as) < len(bs)
}

// OrderedTaskIDs returns the subtask ids of a phase in dotted order.
func (ph *Phase) OrderedTaskIDs() []string {
	ids := make([]string, 0, len(ph.Subtasks))
	for id := range ph.Subtasks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return lessDotted(ids[i], ids[j]) })
	return ids
}

// Clone returns a deep copy of the plan via a JSON round trip. Used for
// rollback snapshots and for handing read-only copies to callers.
func (p *Plan) Clone() (*Plan, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("clone plan (marshal): %w", err)
	}
	var out Plan
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone plan (unmarshal): %w", err)
	}
	if out.WorkBreakdownStructure == nil {
		out.WorkBreakdownStructure = make(map[string]*Phase)
	}
	return &out, nil
}

// Touch sets last_updated to the current time in RFC 3339 form.
func (p *Plan) Touch(now time.Time) {
	p.LastUpdated = now.UTC().Format(time.RFC3339)
}

// NewPlan returns an empty, well-formed plan document.
func NewPlan() *Plan {
	return &Plan{WorkBreakdownStructure: make(map[string]*Phase)}
}
