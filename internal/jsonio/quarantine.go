package jsonio

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Quarantine moves a corrupted document into workspaceDir/quarantine with a
// timestamped name so a later write can regenerate the live file.
func Quarantine(workspaceDir, filePath string) error {
	quarantineDir := filepath.Join(workspaceDir, "quarantine")
	if err := os.MkdirAll(quarantineDir, 0755); err != nil {
		return fmt.Errorf("create quarantine dir: %w", err)
	}

	baseName := filepath.Base(filePath)
	timestamp := time.Now().Format("20060102T150405")
	quarantinePath := filepath.Join(quarantineDir, fmt.Sprintf("%s.%s.corrupt", baseName, timestamp))

	if err := os.Rename(filePath, quarantinePath); err != nil {
		return fmt.Errorf("move to quarantine: %w", err)
	}

	log.Printf("quarantined corrupted file: %s -> %s", filePath, quarantinePath)
	return nil
}

// RestoreFromBackup replaces filePath with its .bak sibling after checking
// that the backup itself still parses.
func RestoreFromBackup(filePath string) error {
	bakPath := filePath + ".bak"
	if _, err := os.Stat(bakPath); os.IsNotExist(err) {
		return fmt.Errorf("no backup file: %s", bakPath)
	}

	content, err := os.ReadFile(bakPath)
	if err != nil {
		return fmt.Errorf("read backup: %w", err)
	}
	if err := validateJSON(content); err != nil {
		return fmt.Errorf("backup JSON is also corrupted: %w", err)
	}

	if err := os.WriteFile(filePath, content, 0644); err != nil {
		return fmt.Errorf("restore from backup: %w", err)
	}

	log.Printf("restored from backup: %s -> %s", bakPath, filePath)
	return nil
}

// RecoverCorruptedDocument quarantines the live file, tries the .bak, and
// falls back to writing the provided skeleton document.
func RecoverCorruptedDocument(workspaceDir, filePath string, skeleton any) error {
	if err := Quarantine(workspaceDir, filePath); err != nil {
		return fmt.Errorf("quarantine failed: %w", err)
	}

	if err := RestoreFromBackup(filePath); err != nil {
		log.Printf("backup restore failed for %s: %v — falling back to skeleton", filePath, err)
	} else {
		return nil
	}

	content, err := json.MarshalIndent(skeleton, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal skeleton: %w", err)
	}
	if err := os.WriteFile(filePath, append(content, '\n'), 0644); err != nil {
		return fmt.Errorf("write skeleton: %w", err)
	}
	return nil
}
