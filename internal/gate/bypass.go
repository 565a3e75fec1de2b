package gate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/plansync/plansync/internal/model"
)

// BypassLogFileName is the append-only bypass token log in the workspace.
const BypassLogFileName = "gate_bypass_log.jsonl"

// BypassToken is a time-boxed, single-use override for one exact command
// string, created by explicit operator action.
type BypassToken struct {
	BypassID     string    `json:"bypass_id"`
	Command      string    `json:"command"`
	Reason       string    `json:"reason"`
	AuthorizedBy string    `json:"authorized_by"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	Used         bool      `json:"used"`
}

// bypassLog reads and appends the JSONL token log. The log is append-only:
// consuming a token appends a used-marker record for the same bypass_id
// rather than rewriting history.
type bypassLog struct {
	path string
}

func newBypassLog(workspaceDir string) *bypassLog {
	return &bypassLog{path: filepath.Join(workspaceDir, BypassLogFileName)}
}

func (l *bypassLog) append(token BypassToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal bypass token: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open bypass log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append bypass token: %w", err)
	}
	return f.Sync()
}

// load folds the log into the latest state per bypass id.
func (l *bypassLog) load() ([]BypassToken, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open bypass log: %w", err)
	}
	defer f.Close()

	latest := make(map[string]BypassToken)
	var order []string
	decoder := json.NewDecoder(f)
	for decoder.More() {
		var token BypassToken
		if err := decoder.Decode(&token); err != nil {
			// Skip malformed lines; the log survives partial writes.
			continue
		}
		if token.BypassID == "" {
			continue
		}
		if _, seen := latest[token.BypassID]; !seen {
			order = append(order, token.BypassID)
		}
		latest[token.BypassID] = token
	}

	out := make([]BypassToken, 0, len(order))
	for _, id := range order {
		out = append(out, latest[id])
	}
	return out, nil
}

// consume finds the most recently created, unexpired, unused token for the
// exact command string, marks it used, and returns it.
func (l *bypassLog) consume(command string, now time.Time) (*BypassToken, error) {
	tokens, err := l.load()
	if err != nil {
		return nil, err
	}

	var best *BypassToken
	for i := range tokens {
		t := &tokens[i]
		if t.Used || t.Command != command || now.After(t.ExpiresAt) {
			continue
		}
		if best == nil || t.CreatedAt.After(best.CreatedAt) {
			best = t
		}
	}
	if best == nil {
		return nil, nil
	}

	used := *best
	used.Used = true
	if err := l.append(used); err != nil {
		return nil, fmt.Errorf("mark bypass used: %w", err)
	}
	return &used, nil
}

// CreateEmergencyBypass appends a fresh token for command. validityHours
// of zero or less falls back to the configured default.
func (g *Gatekeeper) CreateEmergencyBypass(command, reason, authorizedBy string, validityHours int) (BypassToken, error) {
	g.locks.Lock(BypassLogFileName)
	defer g.locks.Unlock(BypassLogFileName)

	if command == "" {
		return BypassToken{}, fmt.Errorf("bypass command must not be empty")
	}
	if validityHours <= 0 {
		validityHours = g.cfg.BypassValidityHours
	}

	id, err := model.GenerateID(model.IDTypeBypass)
	if err != nil {
		return BypassToken{}, err
	}
	now := g.now()
	token := BypassToken{
		BypassID:     id,
		Command:      command,
		Reason:       reason,
		AuthorizedBy: authorizedBy,
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Duration(validityHours) * time.Hour),
	}
	if err := g.bypasses.append(token); err != nil {
		return BypassToken{}, err
	}
	return token, nil
}
