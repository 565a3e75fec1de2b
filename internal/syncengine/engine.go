// Package syncengine owns the single source of truth for the project plan:
// it loads and persists the plan document, serves per-view derived data with
// TTL caching, validates and deep-merges updates under one lock, and fans
// synchronization events out to subscribers and the audit log.
package syncengine

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/plansync/plansync/internal/events"
	"github.com/plansync/plansync/internal/model"
	"github.com/plansync/plansync/internal/store"
)

// AuditLogFileName is the synchronization audit log in the workspace dir.
const AuditLogFileName = "wbs_sync_events.jsonl"

// UpdateResult reports the outcome of an UpdateData transaction.
type UpdateResult struct {
	Success         bool
	TouchedSections []string
	AffectedViews   []string
	Warnings        []Issue
	Errors          []Issue
	BackupPath      string
	Timestamp       time.Time
}

// ValidationFailedError is returned when validators reject a write. The
// on-disk and in-memory plan are unchanged.
type ValidationFailedError struct {
	Report ConsistencyReport
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("plan validation failed:\n%s", e.Report.ErrorText())
}

// StorageError is returned when backup or persistence I/O fails. The write
// is aborted; the in-memory plan is unchanged.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// EventHandler receives the event type and the views a write affected.
type EventHandler func(eventType string, affectedViews []string)

// Engine is the synchronization engine. Construct one per workspace with
// NewEngine and pass it by reference; there is no global instance.
type Engine struct {
	cfg   model.Config
	store *store.PlanStore
	cache *viewCache
	bus   *events.Bus
	audit *events.AuditLogger

	mu          sync.Mutex
	plan        *model.Plan
	generation  uint64
	loadedMTime time.Time
	views       map[string]ViewDefinition
	validators  []Validator

	externalWrite atomic.Bool
	group         singleflight.Group
	stopWatcher   func()

	now func() time.Time
}

// NewEngine opens the audit log and registers the built-in views. The plan
// file itself is loaded lazily on first access.
func NewEngine(workspaceDir string, cfg model.Config) (*Engine, error) {
	audit, err := events.NewAuditLogger(filepath.Join(workspaceDir, AuditLogFileName), cfg.Events.AuditMaxBytes)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	audit.EnableChecksum(cfg.Events.AuditChecksums)

	e := &Engine{
		cfg:        cfg,
		store:      store.NewPlanStore(workspaceDir),
		cache:      newViewCache(cfg.Cache.MaxEntries, time.Duration(cfg.Cache.TTLSeconds)*time.Second),
		bus:        events.NewBus(cfg.Events.BusBufferSize),
		audit:      audit,
		views:      make(map[string]ViewDefinition),
		validators: DefaultValidators(),
		now:        time.Now,
	}
	for _, v := range builtinViews() {
		e.views[v.Name] = v
	}
	return e, nil
}

// Store exposes the underlying plan store (read-only use: paths, mtimes).
func (e *Engine) Store() *store.PlanStore { return e.store }

// RegisterView adds or replaces a view definition and drops any cached
// data under the same name. The generation bump keeps an in-flight compute
// of a replaced definition out of the cache.
func (e *Engine) RegisterView(def ViewDefinition) {
	e.mu.Lock()
	e.views[def.Name] = def
	e.generation++
	e.mu.Unlock()
	e.cache.Invalidate(def.Name)
}

// RegisterValidator appends a validator to the write-time set.
func (e *Engine) RegisterValidator(v Validator) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.validators = append(e.validators, v)
}

// RegisterEventHandler subscribes a handler to one event type ("load",
// "update", "invalidate", "sync_error") and returns an unsubscribe func.
func (e *Engine) RegisterEventHandler(eventType string, handler EventHandler) func() {
	return e.bus.Subscribe(events.EventType(eventType), func(ev events.Event) {
		handler(string(ev.Type), ev.AffectedViews)
	})
}

// GetView returns the derived data for viewName, serving from cache when
// useCache is set and the entry is fresh. If the on-disk plan is newer than
// the engine's last load (including writes that bypassed the engine), the
// plan is reloaded first and all caches are dropped. The returned map is
// the caller's own copy.
func (e *Engine) GetView(viewName string, useCache bool) (ViewData, error) {
	e.mu.Lock()
	def, ok := e.views[viewName]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("unknown view %q", viewName)
	}
	if err := e.ensureFreshLocked(); err != nil {
		e.mu.Unlock()
		return nil, err
	}
	now := e.now()
	if useCache {
		if entry := e.cache.Get(viewName, now); entry != nil {
			e.mu.Unlock()
			return cloneViewData(entry.Data), nil
		}
	}
	gen := e.generation
	snapshot, err := e.plan.Clone()
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	// Concurrent cold requests for the same view of the same plan
	// generation collapse into one compute; the snapshot is immutable so no
	// lock is held while generating.
	key := fmt.Sprintf("%s@%d", viewName, gen)
	result, err, _ := e.group.Do(key, func() (any, error) {
		data, err := def.Generate(snapshot, now)
		if err != nil {
			return nil, fmt.Errorf("generate view %q: %w", viewName, err)
		}
		// A write may have committed while this compute was in flight.
		// Caching its result would resurrect the view the write just
		// invalidated, so a stale generation is returned but never stored.
		e.mu.Lock()
		if gen == e.generation {
			e.cache.Set(viewName, data, now)
		}
		e.mu.Unlock()
		return data, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneViewData(result.(ViewData)), nil
}

// ensureFreshLocked loads the plan if absent or stale against the on-disk
// modification time. Caller holds e.mu.
func (e *Engine) ensureFreshLocked() error {
	mtime, err := e.store.ModTime()
	if err != nil {
		return err
	}
	// The watcher flag alone is not enough to force a reload: the engine's
	// own saves also fire filesystem events. Only an mtime the engine did
	// not record means someone else wrote the file.
	if e.plan != nil && mtime.Equal(e.loadedMTime) {
		e.externalWrite.Store(false)
		return nil
	}
	if e.plan != nil && !e.externalWrite.Load() && !mtime.After(e.loadedMTime) {
		return nil
	}

	plan, err := e.store.Load()
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}
	e.plan = plan
	e.generation++
	e.loadedMTime = mtime
	e.externalWrite.Store(false)
	e.cache.Clear()
	e.publish(events.Event{Type: events.EventLoad, Source: "engine", Timestamp: e.now()})
	return nil
}

// UpdateData deep-merges updates onto the plan under the engine lock,
// validates, persists atomically, invalidates affected views, and emits an
// update event. Validation errors and storage failures leave both the disk
// file and the in-memory plan untouched.
func (e *Engine) UpdateData(updates map[string]any, source string) (UpdateResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := UpdateResult{Timestamp: e.now()}

	if err := e.ensureFreshLocked(); err != nil {
		return result, err
	}

	// Backup before anything else: a write with no recovery point is worse
	// than a refused write.
	backupPath, err := e.store.WriteBackup(result.Timestamp)
	if err != nil {
		e.publishError(source, "backup", err)
		return result, &StorageError{Op: "backup", Err: err}
	}
	result.BackupPath = backupPath
	// Retention is best-effort; the new backup is already on disk.
	_, _ = e.store.PruneBackups(e.cfg.Backup.RetentionCount)

	merged, err := e.mergedPlan(updates)
	if err != nil {
		report := ConsistencyReport{Errors: []Issue{{FieldPath: "updates", Message: err.Error(), Severity: SeverityError}}}
		e.publishError(source, "merge", err)
		result.Errors = report.Errors
		return result, &ValidationFailedError{Report: report}
	}

	report := RunValidators(merged, e.validators)
	result.Warnings = report.Warnings
	if !report.Valid() {
		result.Errors = report.Errors
		e.publishError(source, "validation", fmt.Errorf("%d error(s)", len(report.Errors)))
		return result, &ValidationFailedError{Report: report}
	}

	merged.Touch(result.Timestamp)
	if err := e.store.Save(merged); err != nil {
		e.publishError(source, "persist", err)
		return result, &StorageError{Op: "persist", Err: err}
	}

	e.plan = merged
	e.generation++
	if mtime, err := e.store.ModTime(); err == nil {
		e.loadedMTime = mtime
	}
	e.externalWrite.Store(false)

	result.TouchedSections = TouchedSections(updates)
	result.AffectedViews = e.invalidateAffectedLocked(result.TouchedSections)
	result.Success = true

	e.publish(events.Event{
		Type:          events.EventUpdate,
		Timestamp:     result.Timestamp,
		Source:        source,
		AffectedViews: result.AffectedViews,
		Data:          map[string]any{"touched_sections": result.TouchedSections},
	})
	return result, nil
}

// mergedPlan applies the typed deep merge: plan -> map, merge, map -> plan.
func (e *Engine) mergedPlan(updates map[string]any) (*model.Plan, error) {
	raw, err := json.Marshal(e.plan)
	if err != nil {
		return nil, fmt.Errorf("encode current plan: %w", err)
	}
	var base map[string]any
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("decode current plan: %w", err)
	}

	mergedMap := Merge(base, updates)
	mergedRaw, err := json.Marshal(mergedMap)
	if err != nil {
		return nil, fmt.Errorf("encode merged plan: %w", err)
	}
	merged := model.NewPlan()
	if err := json.Unmarshal(mergedRaw, merged); err != nil {
		return nil, fmt.Errorf("merged document does not fit the plan schema: %w", err)
	}
	if merged.WorkBreakdownStructure == nil {
		merged.WorkBreakdownStructure = make(map[string]*model.Phase)
	}
	return merged, nil
}

// invalidateAffectedLocked drops cache entries for views whose dependency
// sections intersect the touched paths. Caller holds e.mu.
func (e *Engine) invalidateAffectedLocked(touched []string) []string {
	var affected []string
	for name, def := range e.views {
		hit := false
		for _, section := range def.Sections {
			for _, path := range touched {
				if SectionMatches(section, path) {
					hit = true
					break
				}
			}
			if hit {
				break
			}
		}
		if hit {
			e.cache.Invalidate(name)
			affected = append(affected, name)
		}
	}
	sort.Strings(affected)
	return affected
}

// InvalidateView drops one cached view; reports whether it was cached.
func (e *Engine) InvalidateView(viewName string) bool {
	dropped := e.cache.Invalidate(viewName)
	if dropped {
		e.publish(events.Event{
			Type:          events.EventInvalidate,
			Timestamp:     e.now(),
			Source:        "caller",
			AffectedViews: []string{viewName},
		})
	}
	return dropped
}

// InvalidateAll flushes the whole cache and returns the entry count dropped.
func (e *Engine) InvalidateAll() int {
	n := e.cache.Clear()
	e.publish(events.Event{
		Type:      events.EventInvalidate,
		Timestamp: e.now(),
		Source:    "caller",
		Data:      map[string]any{"dropped": n},
	})
	return n
}

// Reconcile re-validates the current plan without mutating anything.
func (e *Engine) Reconcile() (ConsistencyReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureFreshLocked(); err != nil {
		return ConsistencyReport{}, err
	}
	return RunValidators(e.plan, e.validators), nil
}

// Snapshot returns a deep copy of the current plan for read-only use, e.g.
// feeding the critical-path scheduler.
func (e *Engine) Snapshot() (*model.Plan, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.ensureFreshLocked(); err != nil {
		return nil, err
	}
	return e.plan.Clone()
}

// Stats reports cache occupancy.
func (e *Engine) Stats() CacheStats {
	return e.cache.Stats(e.now())
}

func (e *Engine) publish(ev events.Event) {
	e.bus.Publish(ev)
	_ = e.audit.LogEvent(ev)
}

func (e *Engine) publishError(source, op string, err error) {
	e.publish(events.Event{
		Type:      events.EventSyncError,
		Timestamp: e.now(),
		Source:    source,
		Data:      map[string]any{"op": op, "error": err.Error()},
	})
}

// Close stops the file watcher (if started) and closes the bus and audit log.
func (e *Engine) Close() error {
	if e.stopWatcher != nil {
		e.stopWatcher()
		e.stopWatcher = nil
	}
	e.bus.Close()
	return e.audit.Close()
}
