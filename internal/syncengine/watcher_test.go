package syncengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/plansync/plansync/internal/model"
)

func TestWatch_FlagsExternalPlanWrites(t *testing.T) {
	engine := newTestEngine(t)
	require.NoError(t, engine.Watch())
	require.NoError(t, engine.Watch(), "second Watch is a no-op")

	_, err := engine.GetView(ViewProgress, true)
	require.NoError(t, err)

	// Write the plan file without going through the engine.
	plan := model.NewPlan()
	plan.WorkBreakdownStructure["9.0"] = &model.Phase{Name: "Injected", Status: model.StatusPending}
	require.NoError(t, engine.Store().Save(plan))

	require.Eventually(t, func() bool {
		return engine.externalWrite.Load()
	}, 2*time.Second, 10*time.Millisecond, "watcher must flag the external write")
}
