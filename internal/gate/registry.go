package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plansync/plansync/internal/jsonio"
)

// PendingFileName is the pending-task registry document in the workspace.
const PendingFileName = "pending_tasks.json"

// Registration tracks one task awaiting WBS integration. Mutated in place
// as integration succeeds or fails; retained for audit until cleanup.
type Registration struct {
	TaskID           string          `json:"task_id"`
	TaskData         TaskData        `json:"task_data"`
	Source           string          `json:"source,omitempty"`
	Context          map[string]any  `json:"context,omitempty"`
	Recommendation   *Recommendation `json:"recommendation,omitempty"`
	RegisteredAt     time.Time       `json:"registered_at"`
	WBSUpdated       bool            `json:"wbs_updated"`
	ExecutionAllowed bool            `json:"execution_allowed"`
	FlaggedForReview bool            `json:"flagged_for_review,omitempty"`
	IntegratedAt     *time.Time      `json:"integrated_at,omitempty"`
	LastError        string          `json:"last_error,omitempty"`
}

type pendingDocument struct {
	PendingTasks []*Registration `json:"pending_tasks"`
	LastUpdated  string          `json:"last_updated,omitempty"`
}

// Registry is the persisted set of pending registrations. The gatekeeper
// serializes access; the registry itself only handles the file.
type Registry struct {
	workspaceDir string
	byID         map[string]*Registration
	order        []string
}

// OpenRegistry loads pending_tasks.json, recovering a corrupt file via
// quarantine + backup like the plan store does.
func OpenRegistry(workspaceDir string) (*Registry, error) {
	r := &Registry{
		workspaceDir: workspaceDir,
		byID:         make(map[string]*Registration),
	}

	path := r.path()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, fmt.Errorf("read pending registry: %w", err)
	}

	var doc pendingDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		skeleton := pendingDocument{PendingTasks: []*Registration{}}
		if recErr := jsonio.RecoverCorruptedDocument(workspaceDir, path, skeleton); recErr != nil {
			return nil, fmt.Errorf("parse pending registry: %v (recovery failed: %w)", err, recErr)
		}
		return OpenRegistry(workspaceDir)
	}

	for _, reg := range doc.PendingTasks {
		if reg == nil || reg.TaskID == "" {
			continue
		}
		if _, dup := r.byID[reg.TaskID]; dup {
			continue
		}
		r.byID[reg.TaskID] = reg
		r.order = append(r.order, reg.TaskID)
	}
	return r, nil
}

func (r *Registry) path() string {
	return filepath.Join(r.workspaceDir, PendingFileName)
}

// Save persists the registry atomically, in registration order.
func (r *Registry) Save(now time.Time) error {
	doc := pendingDocument{
		PendingTasks: make([]*Registration, 0, len(r.order)),
		LastUpdated:  now.UTC().Format(time.RFC3339),
	}
	for _, id := range r.order {
		doc.PendingTasks = append(doc.PendingTasks, r.byID[id])
	}
	return jsonio.AtomicWrite(r.path(), doc)
}

// Get returns the registration for id, or nil.
func (r *Registry) Get(id string) *Registration {
	return r.byID[id]
}

// Put inserts or replaces a registration.
func (r *Registry) Put(reg *Registration) {
	if _, exists := r.byID[reg.TaskID]; !exists {
		r.order = append(r.order, reg.TaskID)
	}
	r.byID[reg.TaskID] = reg
}

// All returns registrations in registration order.
func (r *Registry) All() []*Registration {
	out := make([]*Registration, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Pending returns registrations still awaiting a successful WBS update,
// excluding those parked for manual review.
func (r *Registry) Pending() []*Registration {
	var out []*Registration
	for _, id := range r.order {
		reg := r.byID[id]
		if !reg.WBSUpdated && !reg.FlaggedForReview {
			out = append(out, reg)
		}
	}
	return out
}

// CleanupResolved removes integrated registrations older than the cutoff
// and returns how many were dropped.
func (r *Registry) CleanupResolved(cutoff time.Time) int {
	removed := 0
	kept := r.order[:0]
	for _, id := range r.order {
		reg := r.byID[id]
		resolvedAt := reg.RegisteredAt
		if reg.IntegratedAt != nil {
			resolvedAt = *reg.IntegratedAt
		}
		if reg.WBSUpdated && resolvedAt.Before(cutoff) {
			delete(r.byID, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
	return removed
}

// Len reports the registration count.
func (r *Registry) Len() int { return len(r.byID) }

// IDs returns all registered task ids, sorted.
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
