// Package gate blocks execution of work whose WBS entry does not exist or
// is stale. It tracks tasks pending integration, consults an external
// placement recommender at intake, drives WBS updates through an applier,
// and manages time-boxed emergency bypass tokens.
package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/plansync/plansync/internal/model"
	"github.com/plansync/plansync/internal/syncengine"
)

// TaskData is the narrow typed payload this core reads from collaborators.
// Collaborator-specific fields ride along untouched in Extra.
type TaskData struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Priority    string         `json:"priority,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// PlacementType says where the recommender wants the task to land.
type PlacementType string

const (
	PlacementNewSubtask     PlacementType = "new_subtask"
	PlacementModifyExisting PlacementType = "modify_existing"
	PlacementNewPhase       PlacementType = "new_phase"
)

// Recommendation is the opaque scorer's output. The gate never inspects
// how the score was produced.
type Recommendation struct {
	ConfidenceScore  float64       `json:"confidence_score"`
	RecommendedPhase string        `json:"recommended_phase"`
	Placement        PlacementType `json:"placement_type"`
	PlacementDetails string        `json:"placement_details,omitempty"`
	TaskID           string        `json:"task_id"`
	RequiredEffort   model.Effort  `json:"required_effort,omitempty"`
	Priority         string        `json:"priority,omitempty"`
}

// PlacementRecommender scores a task and proposes its WBS placement.
// Implemented by out-of-scope components.
type PlacementRecommender interface {
	Recommend(task TaskData, context map[string]any) (Recommendation, error)
}

// ApplyResult reports one WBS mutation attempt.
type ApplyResult struct {
	Success      bool   `json:"success"`
	PhaseUpdated string `json:"phase_updated,omitempty"`
	UpdateType   string `json:"update_type,omitempty"`
	Error        string `json:"error,omitempty"`
}

// WBSApplier performs the actual plan mutation for a pending task. It is
// expected to route through the synchronization engine's UpdateData so
// cache invalidation stays consistent.
type WBSApplier interface {
	Apply(task TaskData, rec Recommendation, context map[string]any) (ApplyResult, error)
}

// SyncApplier is the default WBSApplier: it translates a recommendation
// into an UpdateData payload against the engine.
type SyncApplier struct {
	Engine *syncengine.Engine
}

func (a *SyncApplier) Apply(task TaskData, rec Recommendation, context map[string]any) (ApplyResult, error) {
	if rec.TaskID == "" {
		return ApplyResult{Error: "recommendation has no task id"}, fmt.Errorf("recommendation has no task id")
	}
	phaseID := rec.RecommendedPhase
	if phaseID == "" {
		return ApplyResult{Error: "recommendation has no phase"}, fmt.Errorf("recommendation has no phase")
	}

	taskEntry := map[string]any{
		"id":     rec.TaskID,
		"name":   task.Name,
		"status": string(model.StatusPending),
	}
	if rec.RequiredEffort != "" {
		taskEntry["estimated_effort"] = string(rec.RequiredEffort)
	}
	if p := firstNonEmpty(rec.Priority, task.Priority); p != "" {
		taskEntry["priority"] = p
	}

	phaseEntry := map[string]any{
		"subtasks": map[string]any{rec.TaskID: taskEntry},
	}
	updateType := string(rec.Placement)
	if rec.Placement == PlacementNewPhase {
		phaseEntry["id"] = phaseID
		phaseEntry["name"] = firstNonEmpty(rec.PlacementDetails, task.Name)
		phaseEntry["status"] = string(model.StatusPending)
	}

	updates := map[string]any{
		"work_breakdown_structure": map[string]any{phaseID: phaseEntry},
	}

	result, err := a.Engine.UpdateData(updates, "execution-gate")
	if err != nil {
		return ApplyResult{Error: err.Error()}, err
	}
	if !result.Success {
		return ApplyResult{Error: "update rejected"}, fmt.Errorf("update rejected")
	}
	return ApplyResult{Success: true, PhaseUpdated: phaseID, UpdateType: updateType}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

var _ WBSApplier = (*SyncApplier)(nil)

// nowFunc is swapped in tests.
type nowFunc func() time.Time
