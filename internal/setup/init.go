// Package setup scaffolds a plan workspace directory.
package setup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	yamlv3 "gopkg.in/yaml.v3"

	"github.com/plansync/plansync/internal/jsonio"
	"github.com/plansync/plansync/internal/model"
	"github.com/plansync/plansync/internal/store"
)

// ConfigFileName is the optional engine configuration file.
const ConfigFileName = "plansync.yaml"

// Run creates a workspace directory with skeleton documents and a default
// config. It refuses to touch a directory that already holds a plan.
func Run(workspaceDir, projectName string) error {
	absDir, err := filepath.Abs(workspaceDir)
	if err != nil {
		return fmt.Errorf("resolve workspace dir: %w", err)
	}

	planPath := filepath.Join(absDir, store.PlanFileName)
	if _, err := os.Stat(planPath); err == nil {
		return fmt.Errorf("%s already exists", planPath)
	}

	dirs := []string{"backups", "quarantine", "archive"}
	for _, d := range dirs {
		if err := os.MkdirAll(filepath.Join(absDir, d), 0755); err != nil {
			return fmt.Errorf("create directory %s: %w", d, err)
		}
	}

	if projectName == "" {
		projectName = filepath.Base(absDir)
	}

	plan := model.NewPlan()
	plan.ExecutiveSummary.Summary = fmt.Sprintf("Project plan for %s", projectName)
	plan.Touch(time.Now())
	if err := jsonio.AtomicWrite(planPath, plan); err != nil {
		return fmt.Errorf("write plan skeleton: %w", err)
	}

	pending := map[string]any{
		"pending_tasks": []any{},
		"last_updated":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := jsonio.AtomicWrite(filepath.Join(absDir, "pending_tasks.json"), pending); err != nil {
		return fmt.Errorf("write pending skeleton: %w", err)
	}

	return writeDefaultConfig(filepath.Join(absDir, ConfigFileName))
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	}
	content, err := yamlv3.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("marshal default config: %w", err)
	}
	if err := os.WriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}
