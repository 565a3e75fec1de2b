package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependencyList_UnmarshalForms(t *testing.T) {
	testCases := []struct {
		name string
		in   string
		want DependencyList
	}{
		{"array form", `["1.1","1.2"]`, DependencyList{"1.1", "1.2"}},
		{"comma string form", `"1.1, 1.2,1.3"`, DependencyList{"1.1", "1.2", "1.3"}},
		{"duplicates and blanks dropped", `["1.1","","1.1","  "]`, DependencyList{"1.1"}},
		{"empty array", `[]`, DependencyList{}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var got DependencyList
			require.NoError(t, json.Unmarshal([]byte(tc.in), &got))
			assert.Equal(t, tc.want, got)
		})
	}

	var got DependencyList
	assert.Error(t, json.Unmarshal([]byte(`42`), &got))
}

func TestOrderedPhaseIDs_DottedNumericOrder(t *testing.T) {
	plan := NewPlan()
	for _, id := range []string{"10.0", "4.0", "4.10", "4.2", "appendix"} {
		plan.WorkBreakdownStructure[id] = &Phase{Name: id}
	}

	assert.Equal(t, []string{"4.0", "4.2", "4.10", "10.0", "appendix"}, plan.OrderedPhaseIDs())
}

func TestClone_IsDeep(t *testing.T) {
	plan := NewPlan()
	plan.WorkBreakdownStructure["1.0"] = &Phase{
		Name:     "Phase",
		Status:   StatusPending,
		Subtasks: map[string]*Task{"1.1": {Name: "Task", Status: StatusPending}},
	}

	clone, err := plan.Clone()
	require.NoError(t, err)
	clone.WorkBreakdownStructure["1.0"].Subtasks["1.1"].Status = StatusCompleted

	assert.Equal(t, StatusPending, plan.WorkBreakdownStructure["1.0"].Subtasks["1.1"].Status)
}

func TestTask_CriticalFlagSurvivesRoundTrip(t *testing.T) {
	// is_critical_path must serialize even when false, so a merge can clear
	// a previously set flag.
	data, err := json.Marshal(&Task{Name: "t", Status: StatusPending})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"is_critical_path":false`)
}

func TestTouch(t *testing.T) {
	plan := NewPlan()
	plan.Touch(time.Date(2026, 8, 28, 15, 4, 5, 0, time.FixedZone("JST", 9*3600)))
	assert.Equal(t, "2026-08-28T06:04:05Z", plan.LastUpdated)
}

func TestValidStatusAndEffort(t *testing.T) {
	assert.True(t, ValidStatus(""))
	assert.True(t, ValidStatus(StatusBlocked))
	assert.False(t, ValidStatus("done"))

	assert.True(t, ValidEffort(""))
	assert.True(t, ValidEffort(EffortXLarge))
	assert.False(t, ValidEffort("huge"))
}

func TestGenerateID_Shape(t *testing.T) {
	id, err := GenerateID(IDTypeTask)
	require.NoError(t, err)
	assert.Regexp(t, `^task_\d{10}_[0-9a-f]{8}$`, id)

	other, err := GenerateID(IDTypeTask)
	require.NoError(t, err)
	assert.NotEqual(t, id, other)
}
