// Package store owns durable access to the plan document on disk.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/plansync/plansync/internal/jsonio"
	"github.com/plansync/plansync/internal/model"
)

const (
	PlanFileName = "project_plan.json"
	backupsDir   = "backups"
)

// PlanStore reads and writes the plan document under a workspace directory.
// It performs no locking of its own; the synchronization engine serializes
// all access.
type PlanStore struct {
	workspaceDir string
}

func NewPlanStore(workspaceDir string) *PlanStore {
	return &PlanStore{workspaceDir: workspaceDir}
}

func (s *PlanStore) PlanPath() string {
	return filepath.Join(s.workspaceDir, PlanFileName)
}

func (s *PlanStore) WorkspaceDir() string {
	return s.workspaceDir
}

// ModTime returns the plan file's on-disk modification time. A missing
// file reports the zero time and no error.
func (s *PlanStore) ModTime() (time.Time, error) {
	info, err := os.Stat(s.PlanPath())
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("stat plan file: %w", err)
	}
	return info.ModTime(), nil
}

// Load parses the plan document. A missing file yields an empty plan; an
// unparseable file is quarantined and recovered before returning.
func (s *PlanStore) Load() (*model.Plan, error) {
	path := s.PlanPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return model.NewPlan(), nil
		}
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	plan := model.NewPlan()
	if err := json.Unmarshal(data, plan); err != nil {
		if recErr := jsonio.RecoverCorruptedDocument(s.workspaceDir, path, model.NewPlan()); recErr != nil {
			return nil, fmt.Errorf("parse plan file: %v (recovery failed: %w)", err, recErr)
		}
		return s.Load()
	}
	if plan.WorkBreakdownStructure == nil {
		plan.WorkBreakdownStructure = make(map[string]*model.Phase)
	}
	return plan, nil
}

// Save persists the plan atomically.
func (s *PlanStore) Save(plan *model.Plan) error {
	return jsonio.AtomicWrite(s.PlanPath(), plan)
}

// WriteBackup copies the current on-disk plan into backups/ with a
// timestamped name and returns the backup path. No live file means no
// backup is needed and "" is returned.
func (s *PlanStore) WriteBackup(now time.Time) (string, error) {
	data, err := os.ReadFile(s.PlanPath())
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read plan for backup: %w", err)
	}

	dir := filepath.Join(s.workspaceDir, backupsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create backups dir: %w", err)
	}

	name := fmt.Sprintf("project_plan.%s.json", now.UTC().Format("20060102T150405.000000000"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("write backup: %w", err)
	}
	return path, nil
}

// PruneBackups deletes all but the newest keep backups.
func (s *PlanStore) PruneBackups(keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	dir := filepath.Join(s.workspaceDir, backupsDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read backups dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return 0, nil
	}

	// Timestamped names sort chronologically.
	sort.Strings(names)
	removed := 0
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err == nil {
			removed++
		}
	}
	return removed, nil
}
