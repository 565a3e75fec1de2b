package gate

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/plansync/plansync/internal/lock"
	"github.com/plansync/plansync/internal/model"
)

// Gatekeeper is the execution gate. Construct one per workspace with
// NewGatekeeper; it owns pending_tasks.json and the bypass log. Access is
// serialized per document via keyed mutexes, so bypass token traffic never
// waits on a registry sweep.
type Gatekeeper struct {
	cfg         model.GatesConfig
	registry    *Registry
	recommender PlacementRecommender
	applier     WBSApplier
	bypasses    *bypassLog

	locks *lock.MutexMap
	now   nowFunc
}

func NewGatekeeper(workspaceDir string, cfg model.GatesConfig, recommender PlacementRecommender, applier WBSApplier) (*Gatekeeper, error) {
	registry, err := OpenRegistry(workspaceDir)
	if err != nil {
		return nil, err
	}
	return &Gatekeeper{
		cfg:         cfg,
		registry:    registry,
		recommender: recommender,
		applier:     applier,
		bypasses:    newBypassLog(workspaceDir),
		locks:       lock.NewMutexMap(),
		now:         time.Now,
	}, nil
}

// RegistrationResult reports a RegisterTask intake.
type RegistrationResult struct {
	TaskID           string  `json:"task_id"`
	Registered       bool    `json:"registered"`
	FlaggedForReview bool    `json:"flagged_for_review"`
	Confidence       float64 `json:"confidence"`
	Reason           string  `json:"reason,omitempty"`
}

// RegisterTask asks the placement recommender to score the task. Below the
// confidence threshold the task is parked for manual review and blocks
// nothing; otherwise a pending registration is created that blocks
// matching commands until the WBS is updated.
func (g *Gatekeeper) RegisterTask(task TaskData, source string, context map[string]any) (RegistrationResult, error) {
	g.locks.Lock(PendingFileName)
	defer g.locks.Unlock(PendingFileName)

	if strings.TrimSpace(task.Name) == "" {
		return RegistrationResult{}, fmt.Errorf("task name must not be empty")
	}

	rec, err := g.recommender.Recommend(task, context)
	if err != nil {
		return RegistrationResult{}, fmt.Errorf("placement recommendation: %w", err)
	}

	taskID := rec.TaskID
	if taskID == "" {
		taskID, err = model.GenerateID(model.IDTypeTask)
		if err != nil {
			return RegistrationResult{}, err
		}
		rec.TaskID = taskID
	}

	now := g.now()
	reg := &Registration{
		TaskID:         taskID,
		TaskData:       task,
		Source:         source,
		Context:        context,
		Recommendation: &rec,
		RegisteredAt:   now,
	}

	result := RegistrationResult{TaskID: taskID, Registered: true, Confidence: rec.ConfidenceScore}
	if rec.ConfidenceScore < g.cfg.ConfidenceThreshold {
		reg.FlaggedForReview = true
		reg.ExecutionAllowed = true
		result.FlaggedForReview = true
		result.Reason = fmt.Sprintf("placement confidence %.2f below threshold %.2f; parked for manual review",
			rec.ConfidenceScore, g.cfg.ConfidenceThreshold)
	}

	g.registry.Put(reg)
	if err := g.registry.Save(now); err != nil {
		return RegistrationResult{}, fmt.Errorf("persist pending registry: %w", err)
	}
	return result, nil
}

// BatchResult summarizes one WBS-update sweep.
type BatchResult struct {
	Attempted int               `json:"attempted"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Errors    map[string]string `json:"errors,omitempty"`
}

// UpdateWBSForPendingTasks applies the WBS update for every registration
// still pending. A failure is recorded on its registration and the sweep
// continues; it never aborts the batch.
func (g *Gatekeeper) UpdateWBSForPendingTasks() BatchResult {
	g.locks.Lock(PendingFileName)
	defer g.locks.Unlock(PendingFileName)
	return g.sweepLocked()
}

func (g *Gatekeeper) sweepLocked() BatchResult {
	result := BatchResult{Errors: make(map[string]string)}
	now := g.now()

	for _, reg := range g.registry.Pending() {
		result.Attempted++

		var rec Recommendation
		if reg.Recommendation != nil {
			rec = *reg.Recommendation
		}
		rec.TaskID = reg.TaskID

		applied, err := g.applier.Apply(reg.TaskData, rec, reg.Context)
		if err != nil || !applied.Success {
			reason := applied.Error
			if reason == "" && err != nil {
				reason = err.Error()
			}
			if reason == "" {
				reason = "applier reported failure"
			}
			reg.LastError = reason
			result.Failed++
			result.Errors[reg.TaskID] = reason
			continue
		}

		integratedAt := now
		reg.WBSUpdated = true
		reg.ExecutionAllowed = true
		reg.LastError = ""
		reg.IntegratedAt = &integratedAt
		result.Succeeded++
	}

	if result.Attempted > 0 {
		if err := g.registry.Save(now); err != nil {
			result.Errors["_registry"] = err.Error()
		}
	}
	return result
}

// PermissionResult answers CheckExecutionAllowed.
type PermissionResult struct {
	TaskID     string `json:"task_id"`
	Allowed    bool   `json:"allowed"`
	Registered bool   `json:"registered"`
	Reason     string `json:"reason,omitempty"`
}

// CheckExecutionAllowed looks up one task id. Unregistered tasks are
// allowed by default: they are assumed to be pre-existing work, not new
// work awaiting integration. The default_allow_unregistered config knob
// flips that policy.
func (g *Gatekeeper) CheckExecutionAllowed(taskID string) PermissionResult {
	g.locks.Lock(PendingFileName)
	defer g.locks.Unlock(PendingFileName)

	reg := g.registry.Get(taskID)
	if reg == nil {
		return PermissionResult{
			TaskID:  taskID,
			Allowed: g.cfg.DefaultAllowUnregistered,
			Reason:  "task not registered with the execution gate",
		}
	}
	result := PermissionResult{TaskID: taskID, Registered: true, Allowed: reg.ExecutionAllowed}
	if !result.Allowed {
		result.Reason = "WBS entry not yet updated for this task"
		if reg.LastError != "" {
			result.Reason += "; last update error: " + reg.LastError
		}
	}
	return result
}

// Violation is one blocked task inside a gate decision.
type Violation struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// GateDecision is the structured outcome of a gate check, including
// remediation text meant to be rendered directly by a CLI.
type GateDecision struct {
	Command         string      `json:"command"`
	Allowed         bool        `json:"allowed"`
	Bypassed        bool        `json:"bypassed,omitempty"`
	BypassID        string      `json:"bypass_id,omitempty"`
	AffectedTaskIDs []string    `json:"affected_task_ids,omitempty"`
	Violations      []Violation `json:"violations,omitempty"`
	Remediation     []string    `json:"remediation,omitempty"`
	AutoUpdated     bool        `json:"auto_updated,omitempty"`
}

// CheckExecutionGates decides whether a command may run. A matching bypass
// token is consumed first; otherwise registrations the command references
// are checked, with one automatic WBS-update sweep and recheck when
// auto-update is enabled.
func (g *Gatekeeper) CheckExecutionGates(command string, args []string, context map[string]any) (GateDecision, error) {
	decision := GateDecision{Command: command}

	g.locks.Lock(BypassLogFileName)
	token, err := g.bypasses.consume(command, g.now())
	g.locks.Unlock(BypassLogFileName)
	if err != nil {
		return decision, fmt.Errorf("read bypass log: %w", err)
	}
	if token != nil {
		decision.Allowed = true
		decision.Bypassed = true
		decision.BypassID = token.BypassID
		return decision, nil
	}

	g.locks.Lock(PendingFileName)
	defer g.locks.Unlock(PendingFileName)

	text := command
	if len(args) > 0 {
		text += " " + strings.Join(args, " ")
	}

	affected := g.affectedRegistrationsLocked(text)
	for _, reg := range affected {
		decision.AffectedTaskIDs = append(decision.AffectedTaskIDs, reg.TaskID)
	}
	sort.Strings(decision.AffectedTaskIDs)

	violations := collectViolations(affected)
	if len(violations) == 0 {
		decision.Allowed = true
		return decision, nil
	}

	if g.cfg.AutoUpdateEnabled {
		g.sweepLocked()
		decision.AutoUpdated = true
		violations = collectViolations(affected)
		if len(violations) == 0 {
			decision.Allowed = true
			return decision, nil
		}
	}

	decision.Violations = violations
	decision.Remediation = []string{
		"run the pending WBS update sweep (plansync gate sweep)",
		"inspect registration status (plansync gate status <task-id>)",
		fmt.Sprintf("request an emergency bypass for %q (plansync bypass create)", command),
	}
	return decision, nil
}

// GateViolationError carries a blocking decision as an error.
type GateViolationError struct {
	Decision GateDecision
}

func (e *GateViolationError) Error() string {
	ids := make([]string, 0, len(e.Decision.Violations))
	for _, v := range e.Decision.Violations {
		ids = append(ids, v.TaskID)
	}
	return fmt.Sprintf("execution blocked by WBS gate for task(s): %s", strings.Join(ids, ", "))
}

// EnforceExecutionGates is CheckExecutionGates with a blocking decision
// returned as an error.
func (g *Gatekeeper) EnforceExecutionGates(command string, args []string, context map[string]any) (GateDecision, error) {
	decision, err := g.CheckExecutionGates(command, args, context)
	if err != nil {
		return decision, err
	}
	if !decision.Allowed {
		return decision, &GateViolationError{Decision: decision}
	}
	return decision, nil
}

// ForceWBSUpdate manually transitions a registration to integrated from
// any non-integrated state, including flagged-for-review.
func (g *Gatekeeper) ForceWBSUpdate(taskID string) error {
	g.locks.Lock(PendingFileName)
	defer g.locks.Unlock(PendingFileName)

	reg := g.registry.Get(taskID)
	if reg == nil {
		return fmt.Errorf("no registration for task %q", taskID)
	}
	if reg.WBSUpdated {
		return nil
	}

	now := g.now()
	reg.WBSUpdated = true
	reg.ExecutionAllowed = true
	reg.FlaggedForReview = false
	reg.LastError = ""
	reg.IntegratedAt = &now
	return g.registry.Save(now)
}

// CleanupResolved prunes integrated registrations older than the configured
// retention window and returns how many were removed.
func (g *Gatekeeper) CleanupResolved() (int, error) {
	g.locks.Lock(PendingFileName)
	defer g.locks.Unlock(PendingFileName)

	now := g.now()
	cutoff := now.Add(-time.Duration(g.cfg.PendingRetentionDays) * 24 * time.Hour)
	removed := g.registry.CleanupResolved(cutoff)
	if removed == 0 {
		return 0, nil
	}
	return removed, g.registry.Save(now)
}

// Registrations returns a copy of all registrations, for status displays.
func (g *Gatekeeper) Registrations() []Registration {
	g.locks.Lock(PendingFileName)
	defer g.locks.Unlock(PendingFileName)

	all := g.registry.All()
	out := make([]Registration, 0, len(all))
	for _, reg := range all {
		out = append(out, *reg)
	}
	return out
}

// affectedRegistrationsLocked finds registrations the command text
// references: an exact task-id substring, or a shared significant keyword
// (longer than three characters) from the task name.
func (g *Gatekeeper) affectedRegistrationsLocked(text string) []*Registration {
	lowered := strings.ToLower(text)
	words := make(map[string]bool)
	for _, w := range strings.Fields(lowered) {
		if len(w) > 3 {
			words[strings.Trim(w, ".,;:\"'()")] = true
		}
	}

	var affected []*Registration
	for _, id := range g.registry.IDs() {
		reg := g.registry.Get(id)
		if strings.Contains(lowered, strings.ToLower(reg.TaskID)) {
			affected = append(affected, reg)
			continue
		}
		for _, w := range strings.Fields(strings.ToLower(reg.TaskData.Name)) {
			if len(w) > 3 && words[w] {
				affected = append(affected, reg)
				break
			}
		}
	}
	return affected
}

func collectViolations(regs []*Registration) []Violation {
	var out []Violation
	for _, reg := range regs {
		if reg.ExecutionAllowed {
			continue
		}
		reason := "WBS entry not yet updated"
		if reg.LastError != "" {
			reason += "; last update error: " + reg.LastError
		}
		out = append(out, Violation{TaskID: reg.TaskID, Reason: reason})
	}
	return out
}
