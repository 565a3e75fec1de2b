package syncengine

import (
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plansync/plansync/internal/model"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()

	cfg := model.DefaultConfig()
	engine, err := NewEngine(dir, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	plan := model.NewPlan()
	plan.ExecutiveSummary = model.ExecutiveSummary{OverallCompletion: 25, Summary: "early days"}
	plan.NextActions = []string{"wire the storage layer"}
	plan.WorkBreakdownStructure["1.0"] = &model.Phase{
		Name:   "Foundation",
		Status: model.StatusInProgress,
		Subtasks: map[string]*model.Task{
			"1.1": {Name: "Schema design", Status: model.StatusCompleted, Completion: 100},
			"1.2": {Name: "Storage layer", Status: model.StatusInProgress, Completion: 50,
				Dependencies: model.DependencyList{"1.1"}},
		},
	}
	require.NoError(t, engine.Store().Save(plan))
	return engine
}

// countingView registers a view whose generator counts invocations.
func countingView(engine *Engine, name string, sections []string) *int {
	count := new(int)
	engine.RegisterView(ViewDefinition{
		Name:     name,
		Sections: sections,
		Generate: func(plan *model.Plan, now time.Time) (ViewData, error) {
			*count++
			return ViewData{"generation": *count}, nil
		},
	})
	return count
}

func TestGetView_SecondCallServedFromCache(t *testing.T) {
	engine := newTestEngine(t)
	count := countingView(engine, "counted", []string{"executive_summary"})

	first, err := engine.GetView("counted", true)
	require.NoError(t, err)
	second, err := engine.GetView("counted", true)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, *count, "second call must not regenerate")
}

func TestGetView_UnknownView(t *testing.T) {
	engine := newTestEngine(t)
	_, err := engine.GetView("nope", true)
	assert.ErrorContains(t, err, `unknown view "nope"`)
}

func TestGetView_BuiltinShapes(t *testing.T) {
	engine := newTestEngine(t)

	dashboard, err := engine.GetView(ViewDashboard, true)
	require.NoError(t, err)
	milestones := dashboard["milestones"].([]map[string]any)
	require.Len(t, milestones, 1)
	assert.Equal(t, "Foundation", milestones[0]["name"])
	assert.Equal(t, 2, milestones[0]["tasks_total"])
	assert.Equal(t, 1, milestones[0]["tasks_completed"])

	progress, err := engine.GetView(ViewProgress, true)
	require.NoError(t, err)
	assert.Equal(t, 2, progress["total_tasks"])
	assert.Equal(t, 1, progress["completed_tasks"])
	assert.InDelta(t, 50.0, progress["percentage"].(float64), 0.001)

	actions, err := engine.GetView(ViewNextActions, true)
	require.NoError(t, err)
	assert.Equal(t, 1, actions["count"])

	cp, err := engine.GetView(ViewCriticalPath, true)
	require.NoError(t, err)
	assert.Equal(t, true, cp["ready"])
	assert.Equal(t, 2, cp["task_count"])
}

func TestUpdateData_MergesPersistsAndInvalidates(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.UpdateData(map[string]any{
		"work_breakdown_structure": map[string]any{
			"1.0": map[string]any{
				"subtasks": map[string]any{
					"1.2": map[string]any{"status": "completed", "completion": 100},
				},
			},
		},
	}, "test")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Contains(t, result.TouchedSections, "work_breakdown_structure.1.0.subtasks.1.2.status")
	assert.Contains(t, result.AffectedViews, ViewProgress)
	assert.Contains(t, result.AffectedViews, ViewDashboard)
	assert.NotContains(t, result.AffectedViews, ViewNextActions)
	assert.NotEmpty(t, result.BackupPath)

	// Merge must not have dropped sibling fields.
	progress, err := engine.GetView(ViewProgress, true)
	require.NoError(t, err)
	assert.Equal(t, 2, progress["total_tasks"])
	assert.Equal(t, 2, progress["completed_tasks"])

	// A second engine over the same directory sees the persisted state.
	other, err := NewEngine(engine.Store().WorkspaceDir(), model.DefaultConfig())
	require.NoError(t, err)
	defer other.Close()
	progress2, err := other.GetView(ViewProgress, false)
	require.NoError(t, err)
	assert.Equal(t, 2, progress2["completed_tasks"])
}

func TestUpdateData_ValidationFailureIsAtomic(t *testing.T) {
	engine := newTestEngine(t)

	before, err := os.ReadFile(engine.Store().PlanPath())
	require.NoError(t, err)
	snapshotBefore, err := engine.Snapshot()
	require.NoError(t, err)

	result, err := engine.UpdateData(map[string]any{
		"work_breakdown_structure": map[string]any{
			"1.0": map[string]any{"status": "half-done"},
		},
	}, "test")

	var vErr *ValidationFailedError
	require.ErrorAs(t, err, &vErr)
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Errors)

	after, err := os.ReadFile(engine.Store().PlanPath())
	require.NoError(t, err)
	assert.Equal(t, before, after, "on-disk plan must be untouched")

	snapshotAfter, err := engine.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, snapshotBefore, snapshotAfter, "in-memory plan must be untouched")
}

func TestUpdateData_WarningsDoNotBlock(t *testing.T) {
	engine := newTestEngine(t)

	result, err := engine.UpdateData(map[string]any{
		"work_breakdown_structure": map[string]any{
			"1.0": map[string]any{
				"subtasks": map[string]any{
					"1.3": map[string]any{
						"name":         "Future work",
						"status":       "pending",
						"dependencies": []any{"9.9"},
					},
				},
			},
		},
	}, "test")
	require.NoError(t, err)
	assert.True(t, result.Success)
	require.NotEmpty(t, result.Warnings)
	assert.Contains(t, result.Warnings[0].Message, `unknown task "9.9"`)
}

func TestUpdateData_CachePrecision(t *testing.T) {
	engine := newTestEngine(t)
	wbsCount := countingView(engine, "wbs-view", []string{"work_breakdown_structure"})
	actionsCount := countingView(engine, "actions-view", []string{"next_actions"})

	_, err := engine.GetView("wbs-view", true)
	require.NoError(t, err)
	_, err = engine.GetView("actions-view", true)
	require.NoError(t, err)

	result, err := engine.UpdateData(map[string]any{
		"work_breakdown_structure": map[string]any{
			"1.0": map[string]any{"completion_percentage": 60},
		},
	}, "test")
	require.NoError(t, err)
	assert.Contains(t, result.AffectedViews, "wbs-view")
	assert.NotContains(t, result.AffectedViews, "actions-view")

	_, err = engine.GetView("wbs-view", true)
	require.NoError(t, err)
	_, err = engine.GetView("actions-view", true)
	require.NoError(t, err)

	assert.Equal(t, 2, *wbsCount, "touched view regenerates")
	assert.Equal(t, 1, *actionsCount, "disjoint view stays cached")
}

func TestGetView_GenerationRacingAWriteIsNotCached(t *testing.T) {
	engine := newTestEngine(t)

	block := make(chan struct{})
	started := make(chan struct{})
	var once sync.Once
	engine.RegisterView(ViewDefinition{
		Name:     "task-count",
		Sections: []string{"work_breakdown_structure"},
		Generate: func(plan *model.Plan, now time.Time) (ViewData, error) {
			once.Do(func() {
				close(started)
				<-block
			})
			count := 0
			for _, phase := range plan.WorkBreakdownStructure {
				count += len(phase.Subtasks)
			}
			return ViewData{"task_count": count}, nil
		},
	})

	type outcome struct {
		data ViewData
		err  error
	}
	first := make(chan outcome, 1)
	go func() {
		data, err := engine.GetView("task-count", true)
		first <- outcome{data, err}
	}()
	<-started

	// Commit a write while the generation above is still in flight.
	_, err := engine.UpdateData(map[string]any{
		"work_breakdown_structure": map[string]any{
			"1.0": map[string]any{
				"subtasks": map[string]any{
					"1.3": map[string]any{"name": "Late arrival", "status": "pending"},
				},
			},
		},
	}, "test")
	require.NoError(t, err)

	close(block)
	stale := <-first
	require.NoError(t, stale.err)
	assert.Equal(t, 2, stale.data["task_count"], "in-flight caller sees its own snapshot")

	// The stale result must not have repopulated the cache.
	fresh, err := engine.GetView("task-count", true)
	require.NoError(t, err)
	assert.Equal(t, 3, fresh["task_count"], "cached read after the write must reflect it")
}

func TestGetView_ReturnedViewIsACopy(t *testing.T) {
	engine := newTestEngine(t)

	dashboard, err := engine.GetView(ViewDashboard, true)
	require.NoError(t, err)
	dashboard["summary"] = "tampered"
	dashboard["milestones"].([]map[string]any)[0]["name"] = "tampered"

	again, err := engine.GetView(ViewDashboard, true)
	require.NoError(t, err)
	assert.Equal(t, "early days", again["summary"])
	assert.Equal(t, "Foundation", again["milestones"].([]map[string]any)[0]["name"])
}

func TestUpdateData_EmitsUpdateEvent(t *testing.T) {
	engine := newTestEngine(t)

	received := make(chan []string, 1)
	unsubscribe := engine.RegisterEventHandler("update", func(eventType string, affectedViews []string) {
		received <- affectedViews
	})
	defer unsubscribe()

	_, err := engine.UpdateData(map[string]any{
		"executive_summary": map[string]any{"overall_completion": 30},
	}, "test")
	require.NoError(t, err)

	select {
	case views := <-received:
		assert.Contains(t, views, ViewDashboard)
	case <-time.After(2 * time.Second):
		t.Fatal("no update event delivered")
	}
}

func TestExternalWriteTriggersReload(t *testing.T) {
	engine := newTestEngine(t)

	progress, err := engine.GetView(ViewProgress, true)
	require.NoError(t, err)
	assert.Equal(t, 2, progress["total_tasks"])

	// Simulate another process rewriting the plan file behind the engine's
	// back, with an mtime the engine has not recorded.
	snapshot, err := engine.Snapshot()
	require.NoError(t, err)
	snapshot.WorkBreakdownStructure["1.0"].Subtasks["1.9"] =
		&model.Task{Name: "Sneaky addition", Status: model.StatusPending}
	require.NoError(t, engine.Store().Save(snapshot))
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(engine.Store().PlanPath(), future, future))

	progress, err = engine.GetView(ViewProgress, true)
	require.NoError(t, err)
	assert.Equal(t, 3, progress["total_tasks"], "stale cache must be dropped after external write")
}

func TestReconcile_ReportsWithoutMutating(t *testing.T) {
	engine := newTestEngine(t)

	before, err := os.ReadFile(engine.Store().PlanPath())
	require.NoError(t, err)

	report, err := engine.Reconcile()
	require.NoError(t, err)
	assert.True(t, report.Valid())

	after, err := os.ReadFile(engine.Store().PlanPath())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestInvalidateViewAndAll(t *testing.T) {
	engine := newTestEngine(t)
	count := countingView(engine, "counted", []string{"executive_summary"})

	_, err := engine.GetView("counted", true)
	require.NoError(t, err)

	assert.True(t, engine.InvalidateView("counted"))
	assert.False(t, engine.InvalidateView("counted"))

	_, err = engine.GetView("counted", true)
	require.NoError(t, err)
	assert.Equal(t, 2, *count)

	assert.Equal(t, 1, engine.InvalidateAll())
}
