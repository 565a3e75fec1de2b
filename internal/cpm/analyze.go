package cpm

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/plansync/plansync/internal/model"
)

// criticalSlackTolerance classifies a task as critical when its total slack
// is within this distance of zero. The tolerance, not exact equality, is
// the tie-break rule for float timing arithmetic.
const criticalSlackTolerance = 0.1

// TimingRecord holds the computed schedule for one task. Records are
// created fresh per Analyze call and never persisted individually.
type TimingRecord struct {
	TaskID         string
	EarliestStart  float64
	EarliestFinish float64
	LatestStart    float64
	LatestFinish   float64
}

// TotalSlack is the margin before the task delays the project, clamped to
// zero from below.
func (t TimingRecord) TotalSlack() float64 {
	slack := t.LatestStart - t.EarliestStart
	if slack < 0 {
		return 0
	}
	return slack
}

// SlackInfo is the per-task slack summary exposed to consumers.
type SlackInfo struct {
	TotalSlack float64
	IsCritical bool
}

// AnalysisResult is the outcome of one scheduler run.
type AnalysisResult struct {
	CriticalPath  []string
	Timing        map[string]TimingRecord
	Slack         map[string]SlackInfo
	TotalDuration int
	TaskCount     int
	Warnings      []string
}

// Analyze runs the two-pass CPM over a plan snapshot. The plan is never
// mutated. An empty or malformed WBS yields a zero result, not an error,
// so consumers can render "no plan yet" without special-casing.
func Analyze(plan *model.Plan) (AnalysisResult, error) {
	result := AnalysisResult{
		Timing: make(map[string]TimingRecord),
		Slack:  make(map[string]SlackInfo),
	}
	if plan == nil {
		return result, nil
	}

	tasks, warnings := Flatten(plan)
	result.Warnings = warnings
	result.TaskCount = len(tasks)
	if len(tasks) == 0 {
		return result, nil
	}

	forward, reverse := buildGraphs(tasks)

	byID := make(map[string]*FlatTask, len(tasks))
	ids := make([]string, 0, len(tasks))
	for i := range tasks {
		byID[tasks[i].ID] = &tasks[i]
		ids = append(ids, tasks[i].ID)
	}
	sort.Strings(ids)

	// Initialize every record to its defaults; tasks stuck in a cycle keep
	// these values instead of looping the traversal.
	for _, id := range ids {
		d := float64(byID[id].Duration)
		result.Timing[id] = TimingRecord{TaskID: id, EarliestFinish: d, LatestFinish: d}
	}

	order, processed := forwardPass(ids, byID, forward, reverse, result.Timing)
	if len(order) < len(ids) {
		cycle := findCyclePath(ids, reverse, processed)
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("degenerate schedule: dependency cycle detected (%s); %d task(s) kept default timings",
				strings.Join(cycle, " -> "), len(ids)-len(order)))
	}

	backwardPass(order, byID, forward, result.Timing)

	// Slack and the critical set. Only tasks the topological walk reached
	// are eligible; cycle members never enter the critical path.
	maxFinish := 0.0
	for _, id := range ids {
		rec := result.Timing[id]
		result.Slack[id] = SlackInfo{
			TotalSlack: rec.TotalSlack(),
			IsCritical: processed[id] && math.Abs(rec.LatestStart-rec.EarliestStart) < criticalSlackTolerance,
		}
		if rec.EarliestFinish > maxFinish {
			maxFinish = rec.EarliestFinish
		}
	}
	result.TotalDuration = int(math.Round(maxFinish))

	for _, id := range ids {
		if result.Slack[id].IsCritical {
			result.CriticalPath = append(result.CriticalPath, id)
		}
	}
	sortCriticalPath(&result)
	return result, nil
}

// sortCriticalPath orders the critical sequence for presentation: earliest
// start ascending, ties broken by task id so output is deterministic.
func sortCriticalPath(result *AnalysisResult) {
	sort.SliceStable(result.CriticalPath, func(i, j int) bool {
		a, b := result.Timing[result.CriticalPath[i]], result.Timing[result.CriticalPath[j]]
		if a.EarliestStart != b.EarliestStart {
			return a.EarliestStart < b.EarliestStart
		}
		return result.CriticalPath[i] < result.CriticalPath[j]
	})
}

// forwardPass runs a Kahn-style traversal computing earliest times. It
// returns the processing order and the processed set; with a cycle present
// the queue drains early and the loop terminates with tasks unprocessed.
func forwardPass(ids []string, byID map[string]*FlatTask, forward, reverse map[string][]string, timing map[string]TimingRecord) ([]string, map[string]bool) {
	inDegree := make(map[string]int, len(ids))
	for _, id := range ids {
		inDegree[id] = len(reverse[id])
	}

	var queue []string
	for _, id := range ids {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	processed := make(map[string]bool, len(ids))
	var order []string
	for len(queue) > 0 && len(order) < len(ids) {
		id := queue[0]
		queue = queue[1:]
		processed[id] = true
		order = append(order, id)

		rec := timing[id]
		start := 0.0
		for _, dep := range reverse[id] {
			if f := timing[dep].EarliestFinish; f > start {
				start = f
			}
		}
		rec.EarliestStart = start
		rec.EarliestFinish = start + float64(byID[id].Duration)
		timing[id] = rec

		dependents := append([]string(nil), forward[id]...)
		sort.Strings(dependents)
		for _, dependent := range dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}
	return order, processed
}

// backwardPass propagates latest times from the sinks at projectEnd back
// through the processed order.
func backwardPass(order []string, byID map[string]*FlatTask, forward map[string][]string, timing map[string]TimingRecord) {
	projectEnd := 0.0
	for _, id := range order {
		if len(forward[id]) == 0 {
			if f := timing[id].EarliestFinish; f > projectEnd {
				projectEnd = f
			}
		}
	}

	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		rec := timing[id]

		finish := projectEnd
		for _, successor := range forward[id] {
			if ls := timing[successor].LatestStart; ls < finish {
				finish = ls
			}
		}
		rec.LatestFinish = finish
		rec.LatestStart = finish - float64(byID[id].Duration)
		timing[id] = rec
	}
}

// findCyclePath reports one cycle among the unprocessed tasks for the
// degenerate-schedule warning, via colored DFS over the dependency edges.
func findCyclePath(ids []string, reverse map[string][]string, processed map[string]bool) []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int)
	parent := make(map[string]string)
	var cyclePath []string

	var dfs func(node string) bool
	dfs = func(node string) bool {
		color[node] = gray
		deps := append([]string(nil), reverse[node]...)
		sort.Strings(deps)
		for _, dep := range deps {
			if color[dep] == gray {
				cyclePath = []string{dep}
				for current := node; current != dep; current = parent[current] {
					cyclePath = append(cyclePath, current)
				}
				cyclePath = append(cyclePath, dep)
				for i, j := 0, len(cyclePath)-1; i < j; i, j = i+1, j-1 {
					cyclePath[i], cyclePath[j] = cyclePath[j], cyclePath[i]
				}
				return true
			}
			if color[dep] == white {
				parent[dep] = node
				if dfs(dep) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for _, id := range ids {
		if !processed[id] && color[id] == white {
			if dfs(id) {
				return cyclePath
			}
		}
	}
	return []string{"(cycle detected)"}
}
