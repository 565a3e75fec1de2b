package cpm

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/plansync/plansync/internal/model"
)

// UpdateCounts reports how many is_critical_path flags an apply flipped.
type UpdateCounts struct {
	Flagged int
	Cleared int
}

// ApplyToPlan writes the critical flags and the analysis summary back onto
// a plan. Callers pass the mutated plan to the synchronization engine's
// UpdateData to persist it; this function touches memory only.
func ApplyToPlan(plan *model.Plan, result AnalysisResult, now time.Time) UpdateCounts {
	var counts UpdateCounts
	critical := make(map[string]bool, len(result.CriticalPath))
	for _, id := range result.CriticalPath {
		critical[id] = true
	}

	for _, phase := range plan.WorkBreakdownStructure {
		if phase == nil {
			continue
		}
		for taskID, task := range phase.Subtasks {
			if task == nil {
				continue
			}
			want := critical[taskID]
			if task.IsCriticalPath == want {
				continue
			}
			task.IsCriticalPath = want
			if want {
				counts.Flagged++
			} else {
				counts.Cleared++
			}
		}
	}

	plan.CriticalPathAnalysis = &model.CriticalPathAnalysis{
		CriticalTasks: append([]string(nil), result.CriticalPath...),
		TotalDuration: result.TotalDuration,
		TaskCount:     result.TaskCount,
		LastUpdated:   now.UTC().Format(time.RFC3339),
	}
	return counts
}

// Summary renders a plain-text report of the analysis for CLI output.
func (r AnalysisResult) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tasks analyzed:   %d\n", r.TaskCount)
	fmt.Fprintf(&sb, "project duration: %d\n", r.TotalDuration)
	fmt.Fprintf(&sb, "critical path:    %s\n", strings.Join(r.CriticalPath, " -> "))

	ids := make([]string, 0, len(r.Slack))
	for id := range r.Slack {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		rec := r.Timing[id]
		marker := " "
		if r.Slack[id].IsCritical {
			marker = "*"
		}
		fmt.Fprintf(&sb, "%s %-20s es=%-4g ef=%-4g ls=%-4g lf=%-4g slack=%g\n",
			marker, id, rec.EarliestStart, rec.EarliestFinish, rec.LatestStart, rec.LatestFinish, r.Slack[id].TotalSlack)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&sb, "warning: %s\n", w)
	}
	return sb.String()
}
