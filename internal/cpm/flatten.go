// Package cpm implements the Critical Path Method over the plan's
// dependency graph: flattening the WBS, forward/backward scheduling passes,
// slack computation, and writing critical flags back onto a plan.
//
// Every function here is pure with respect to its inputs; callers pass a
// plan snapshot obtained from the synchronization engine and no locking is
// needed.
package cpm

import (
	"fmt"
	"math"

	"github.com/plansync/plansync/internal/model"
)

// FlatTask is one row of the flattened task table.
type FlatTask struct {
	ID           string
	PhaseID      string
	Name         string
	Status       model.Status
	Effort       model.Effort
	Dependencies []string
	Duration     int
}

// effortDurations maps the coarse size estimate to working days.
var effortDurations = map[model.Effort]int{
	model.EffortSmall:  1,
	model.EffortMedium: 3,
	model.EffortLarge:  7,
	model.EffortXLarge: 14,
}

const defaultDuration = 3 // medium

// TaskDuration derives the scheduling duration from effort and status:
// completed tasks cost nothing, in-progress tasks half (rounded up),
// blocked tasks double.
func TaskDuration(effort model.Effort, status model.Status) int {
	duration, ok := effortDurations[effort]
	if !ok {
		duration = defaultDuration
	}
	switch status {
	case model.StatusCompleted:
		return 0
	case model.StatusInProgress:
		return int(math.Ceil(float64(duration) / 2))
	case model.StatusBlocked:
		return duration * 2
	default:
		return duration
	}
}

// Flatten walks phases and subtasks into a flat table with normalized
// dependency lists. Duplicate task ids keep the first occurrence (in phase
// order); dependency references to unknown ids are dropped. Both produce
// warnings, never errors.
func Flatten(plan *model.Plan) ([]FlatTask, []string) {
	var warnings []string
	var tasks []FlatTask
	index := make(map[string]int)

	for _, phaseID := range plan.OrderedPhaseIDs() {
		phase := plan.WorkBreakdownStructure[phaseID]
		if phase == nil {
			continue
		}
		for _, taskID := range phase.OrderedTaskIDs() {
			task := phase.Subtasks[taskID]
			if task == nil {
				continue
			}
			if _, dup := index[taskID]; dup {
				warnings = append(warnings,
					fmt.Sprintf("duplicate task id %q in phase %s ignored", taskID, phaseID))
				continue
			}
			index[taskID] = len(tasks)
			tasks = append(tasks, FlatTask{
				ID:           taskID,
				PhaseID:      phaseID,
				Name:         task.Name,
				Status:       task.Status,
				Effort:       task.EstimatedEffort,
				Dependencies: append([]string(nil), task.Dependencies...),
				Duration:     TaskDuration(task.EstimatedEffort, task.Status),
			})
		}
	}

	// Drop edges whose endpoint is not in the table. A task may
	// legitimately depend on work not yet integrated into the WBS.
	for i := range tasks {
		kept := tasks[i].Dependencies[:0]
		for _, dep := range tasks[i].Dependencies {
			if _, ok := index[dep]; ok {
				kept = append(kept, dep)
			} else {
				warnings = append(warnings,
					fmt.Sprintf("task %q depends on unknown task %q (edge dropped)", tasks[i].ID, dep))
			}
		}
		tasks[i].Dependencies = kept
	}

	return tasks, warnings
}

// buildGraphs returns the forward adjacency (dependency -> dependents) and
// its reverse (dependent -> dependencies), over table edges only.
func buildGraphs(tasks []FlatTask) (forward, reverse map[string][]string) {
	forward = make(map[string][]string, len(tasks))
	reverse = make(map[string][]string, len(tasks))
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			forward[dep] = append(forward[dep], t.ID)
			reverse[t.ID] = append(reverse[t.ID], dep)
		}
	}
	return forward, reverse
}
