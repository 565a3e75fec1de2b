package syncengine

import (
	"fmt"
	"strings"

	"github.com/plansync/plansync/internal/model"
)

// Severity splits plan problems into write-blocking errors and advisory
// warnings.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, located by a dotted field path.
type Issue struct {
	FieldPath string   `json:"field_path"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity"`
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s: %s", i.FieldPath, i.Message)
}

// ConsistencyReport is the outcome of running all validators over a plan.
type ConsistencyReport struct {
	Errors   []Issue `json:"errors"`
	Warnings []Issue `json:"warnings"`
}

func (r *ConsistencyReport) add(issues []Issue) {
	for _, i := range issues {
		if i.Severity == SeverityError {
			r.Errors = append(r.Errors, i)
		} else {
			r.Warnings = append(r.Warnings, i)
		}
	}
}

// Valid reports whether the plan may be persisted. Warnings never block.
func (r *ConsistencyReport) Valid() bool {
	return len(r.Errors) == 0
}

func (r *ConsistencyReport) ErrorText() string {
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "\n")
}

// Validator inspects a plan and returns findings.
type Validator func(*model.Plan) []Issue

// DefaultValidators is the validator set every engine starts with.
func DefaultValidators() []Validator {
	return []Validator{
		ValidateStructure,
		ValidateDependencyRefs,
		ValidateCompletionConsistency,
	}
}

// ValidateStructure checks required fields, status and effort values,
// percentage ranges, and plan-wide task id uniqueness.
func ValidateStructure(plan *model.Plan) []Issue {
	var issues []Issue
	taskOwner := make(map[string]string)

	for _, phaseID := range plan.OrderedPhaseIDs() {
		phase := plan.WorkBreakdownStructure[phaseID]
		prefix := "work_breakdown_structure." + phaseID
		if phase == nil {
			issues = append(issues, Issue{prefix, "phase entry is null", SeverityError})
			continue
		}
		if phase.Name == "" {
			issues = append(issues, Issue{prefix + ".name", "required field is missing", SeverityError})
		}
		if !model.ValidStatus(phase.Status) {
			issues = append(issues, Issue{prefix + ".status",
				fmt.Sprintf("unknown status %q", phase.Status), SeverityError})
		}
		if phase.CompletionPercentage < 0 || phase.CompletionPercentage > 100 {
			issues = append(issues, Issue{prefix + ".completion_percentage",
				fmt.Sprintf("must be between 0 and 100, got %g", phase.CompletionPercentage), SeverityError})
		}

		for _, taskID := range phase.OrderedTaskIDs() {
			task := phase.Subtasks[taskID]
			tprefix := prefix + ".subtasks." + taskID
			if task == nil {
				issues = append(issues, Issue{tprefix, "task entry is null", SeverityError})
				continue
			}
			if task.Name == "" {
				issues = append(issues, Issue{tprefix + ".name", "required field is missing", SeverityError})
			}
			if !model.ValidStatus(task.Status) {
				issues = append(issues, Issue{tprefix + ".status",
					fmt.Sprintf("unknown status %q", task.Status), SeverityError})
			}
			if !model.ValidEffort(task.EstimatedEffort) {
				issues = append(issues, Issue{tprefix + ".estimated_effort",
					fmt.Sprintf("unknown effort %q", task.EstimatedEffort), SeverityError})
			}
			if task.Completion < 0 || task.Completion > 100 {
				issues = append(issues, Issue{tprefix + ".completion",
					fmt.Sprintf("must be between 0 and 100, got %g", task.Completion), SeverityError})
			}
			if owner, dup := taskOwner[taskID]; dup {
				issues = append(issues, Issue{tprefix,
					fmt.Sprintf("duplicate task id (also in phase %s)", owner), SeverityError})
			} else {
				taskOwner[taskID] = phaseID
			}
		}
	}
	return issues
}

// ValidateDependencyRefs flags dependencies on task ids that do not exist
// anywhere in the plan. These are warnings: upstream tooling may reference
// work that has not been integrated yet.
func ValidateDependencyRefs(plan *model.Plan) []Issue {
	known := make(map[string]bool)
	for _, phase := range plan.WorkBreakdownStructure {
		if phase == nil {
			continue
		}
		for taskID := range phase.Subtasks {
			known[taskID] = true
		}
	}

	var issues []Issue
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
			for _, dep := range task.Dependencies {
				if !known[dep] {
					issues = append(issues, Issue{
						FieldPath: fmt.Sprintf("work_breakdown_structure.%s.subtasks.%s.dependencies", phaseID, taskID),
						Message:   fmt.Sprintf("references unknown task %q", dep),
						Severity:  SeverityWarning,
					})
				}
			}
		}
	}
	return issues
}

// ValidateCompletionConsistency warns when a phase is marked completed but
// still has incomplete subtasks.
func ValidateCompletionConsistency(plan *model.Plan) []Issue {
	var issues []Issue
	for _, phaseID := range plan.OrderedPhaseIDs() {
		phase := plan.WorkBreakdownStructure[phaseID]
		if phase == nil || phase.Status != model.StatusCompleted {
			continue
		}
		for _, taskID := range phase.OrderedTaskIDs() {
			task := phase.Subtasks[taskID]
			if task == nil || task.Status == model.StatusCompleted {
				continue
			}
			issues = append(issues, Issue{
				FieldPath: fmt.Sprintf("work_breakdown_structure.%s.subtasks.%s.status", phaseID, taskID),
				Message:   fmt.Sprintf("phase %s is completed but task is %q", phaseID, task.Status),
				Severity:  SeverityWarning,
			})
		}
	}
	return issues
}

// RunValidators applies all validators and buckets their findings.
func RunValidators(plan *model.Plan, validators []Validator) ConsistencyReport {
	var report ConsistencyReport
	for _, v := range validators {
		report.add(v(plan))
	}
	return report
}
