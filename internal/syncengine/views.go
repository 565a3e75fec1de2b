package syncengine

import (
	"time"

	"github.com/plansync/plansync/internal/model"
)

// Built-in view names.
const (
	ViewDashboard    = "dashboard"
	ViewProgress     = "progress"
	ViewCriticalPath = "critical_path"
	ViewNextActions  = "next_actions"
)

// ViewDefinition couples a view name with the plan sections it reads and a
// pure transformation from the plan to the view shape. Adding a view is one
// RegisterView call; no other component changes.
type ViewDefinition struct {
	Name     string
	Sections []string
	Generate func(plan *model.Plan, now time.Time) (ViewData, error)
}

func builtinViews() []ViewDefinition {
	return []ViewDefinition{
		{
			Name:     ViewDashboard,
			Sections: []string{"work_breakdown_structure", "executive_summary"},
			Generate: generateDashboard,
		},
		{
			Name:     ViewProgress,
			Sections: []string{"work_breakdown_structure"},
			Generate: generateProgress,
		},
		{
			Name:     ViewCriticalPath,
			Sections: []string{"work_breakdown_structure", "critical_path_analysis"},
			Generate: generateCriticalPath,
		},
		{
			Name:     ViewNextActions,
			Sections: []string{"next_actions"},
			Generate: generateNextActions,
		},
	}
}

// generateDashboard produces per-phase milestone rollups plus the executive
// summary fields.
func generateDashboard(plan *model.Plan, now time.Time) (ViewData, error) {
	milestones := make([]map[string]any, 0, len(plan.WorkBreakdownStructure))
	for _, phaseID := range plan.OrderedPhaseIDs() {
		phase := plan.WorkBreakdownStructure[phaseID]
		if phase == nil {
			continue
		}
		total, completed := 0, 0
		for _, task := range phase.Subtasks {
			if task == nil {
				continue
			}
			total++
			if task.Status == model.StatusCompleted {
				completed++
			}
		}
		progress := phase.CompletionPercentage
		if total > 0 {
			progress = float64(completed) / float64(total) * 100
		}
		milestones = append(milestones, map[string]any{
			"phase_id":        phaseID,
			"name":            phase.Name,
			"status":          string(phase.Status),
			"progress":        progress,
			"tasks_total":     total,
			"tasks_completed": completed,
		})
	}
	return ViewData{
		"milestones":         milestones,
		"overall_completion": plan.ExecutiveSummary.OverallCompletion,
		"summary":            plan.ExecutiveSummary.Summary,
		"generated_at":       now.UTC().Format(time.RFC3339),
	}, nil
}

// generateProgress counts tasks across all phases.
func generateProgress(plan *model.Plan, now time.Time) (ViewData, error) {
	total, completed, inProgress, blocked := 0, 0, 0, 0
	for _, phase := range plan.WorkBreakdownStructure {
		if phase == nil {
			continue
		}
		for _, task := range phase.Subtasks {
			if task == nil {
				continue
			}
			total++
			switch task.Status {
			case model.StatusCompleted:
				completed++
			case model.StatusInProgress:
				inProgress++
			case model.StatusBlocked:
				blocked++
			}
		}
	}
	percentage := 0.0
	if total > 0 {
		percentage = float64(completed) / float64(total) * 100
	}
	return ViewData{
		"total_tasks":       total,
		"completed_tasks":   completed,
		"in_progress_tasks": inProgress,
		"blocked_tasks":     blocked,
		"percentage":        percentage,
		"generated_at":      now.UTC().Format(time.RFC3339),
	}, nil
}

// generateCriticalPath flags readiness for analysis and echoes the last
// persisted result; callers invoke the scheduler themselves on a snapshot.
func generateCriticalPath(plan *model.Plan, now time.Time) (ViewData, error) {
	taskCount := 0
	for _, phase := range plan.WorkBreakdownStructure {
		if phase != nil {
			taskCount += len(phase.Subtasks)
		}
	}
	data := ViewData{
		"ready":        taskCount > 0,
		"task_count":   taskCount,
		"generated_at": now.UTC().Format(time.RFC3339),
	}
	if cpa := plan.CriticalPathAnalysis; cpa != nil {
		data["last_analysis"] = map[string]any{
			"critical_tasks": append([]string(nil), cpa.CriticalTasks...),
			"total_duration": cpa.TotalDuration,
			"task_count":     cpa.TaskCount,
			"last_updated":   cpa.LastUpdated,
		}
	}
	return data, nil
}

func generateNextActions(plan *model.Plan, now time.Time) (ViewData, error) {
	items := plan.NextActions
	if len(items) > model.MaxNextActions {
		items = items[:model.MaxNextActions]
	}
	return ViewData{
		"items":        append([]string(nil), items...),
		"count":        len(items),
		"generated_at": now.UTC().Format(time.RFC3339),
	}, nil
}
