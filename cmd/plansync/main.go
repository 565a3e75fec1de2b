package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/plansync/plansync/internal/cpm"
	"github.com/plansync/plansync/internal/gate"
	"github.com/plansync/plansync/internal/lock"
	"github.com/plansync/plansync/internal/model"
	"github.com/plansync/plansync/internal/setup"
	"github.com/plansync/plansync/internal/syncengine"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "init":
		runInit(os.Args[2:])
	case "view":
		runView(os.Args[2:])
	case "update":
		runUpdate(os.Args[2:])
	case "analyze":
		runAnalyze(os.Args[2:])
	case "gate":
		runGate(os.Args[2:])
	case "bypass":
		runBypass(os.Args[2:])
	case "reconcile":
		runReconcile(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "version":
		fmt.Printf("plansync %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`plansync - WBS synchronization, critical-path analysis, and execution gates

Usage:
  plansync init [-dir DIR] [-name NAME]          scaffold a plan workspace
  plansync view NAME [-dir DIR] [-no-cache]      print a derived view as JSON
  plansync update -file FILE [-dir DIR] [-source S]
                                                 deep-merge a JSON update into the plan
  plansync analyze [-dir DIR] [-apply]           run the critical path method
  plansync gate check COMMAND [ARGS...]          check execution gates for a command
  plansync gate sweep                            run the pending WBS update sweep
  plansync gate register -name NAME [...]        register a task with the gate
  plansync gate status                           list pending registrations
  plansync gate cleanup                          prune old resolved registrations
  plansync bypass create -command C -reason R -by WHO [-hours N]
                                                 create an emergency bypass token
  plansync reconcile [-dir DIR]                  validate the plan without writing
  plansync status [-dir DIR]                     cache and plan summary
  plansync version
`)
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func openEngine(dir string) *syncengine.Engine {
	cfg, err := model.LoadConfig(filepath.Join(dir, setup.ConfigFileName))
	if err != nil {
		fatal(err)
	}
	engine, err := syncengine.NewEngine(dir, cfg)
	if err != nil {
		fatal(err)
	}
	// Watcher failure is not fatal; mtime checks still catch external writes.
	_ = engine.Watch()
	return engine
}

func openGate(dir string, engine *syncengine.Engine, recommender gate.PlacementRecommender) *gate.Gatekeeper {
	cfg, err := model.LoadConfig(filepath.Join(dir, setup.ConfigFileName))
	if err != nil {
		fatal(err)
	}
	keeper, err := gate.NewGatekeeper(dir, cfg.Gates, recommender, &gate.SyncApplier{Engine: engine})
	if err != nil {
		fatal(err)
	}
	return keeper
}

func printJSON(v any) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(out))
}

func runInit(args []string) {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")
	name := fs.String("name", "", "project name (defaults to directory name)")
	_ = fs.Parse(args)

	if err := setup.Run(*dir, *name); err != nil {
		fatal(err)
	}
	fmt.Printf("initialized plan workspace in %s\n", *dir)
}

func runView(args []string) {
	if len(args) < 1 {
		fatal(fmt.Errorf("view name required"))
	}
	viewName := args[0]
	fs := flag.NewFlagSet("view", flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")
	noCache := fs.Bool("no-cache", false, "bypass the view cache")
	_ = fs.Parse(args[1:])

	engine := openEngine(*dir)
	defer engine.Close()

	data, err := engine.GetView(viewName, !*noCache)
	if err != nil {
		fatal(err)
	}
	printJSON(data)
}

func runUpdate(args []string) {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")
	file := fs.String("file", "", "JSON file with the partial plan to merge")
	source := fs.String("source", "cli", "update source label")
	_ = fs.Parse(args)

	if *file == "" {
		fatal(fmt.Errorf("-file is required"))
	}
	raw, err := os.ReadFile(*file)
	if err != nil {
		fatal(err)
	}
	var updates map[string]any
	if err := json.Unmarshal(raw, &updates); err != nil {
		fatal(fmt.Errorf("parse update file: %w", err))
	}

	engine := openEngine(*dir)
	defer engine.Close()

	fileLock := lock.NewFileLock(filepath.Join(*dir, ".plansync.lock"))
	if err := fileLock.TryLock(); err != nil {
		fatal(err)
	}
	defer fileLock.Unlock()

	result, err := engine.UpdateData(updates, *source)
	if err != nil {
		for _, w := range result.Warnings {
			fmt.Fprintf(os.Stderr, "warning: %s\n", w.Error())
		}
		fatal(err)
	}
	printJSON(result)
}

func runAnalyze(args []string) {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")
	apply := fs.Bool("apply", false, "write critical flags back to the plan")
	_ = fs.Parse(args)

	engine := openEngine(*dir)
	defer engine.Close()

	snapshot, err := engine.Snapshot()
	if err != nil {
		fatal(err)
	}
	result, err := cpm.Analyze(snapshot)
	if err != nil {
		fatal(err)
	}
	fmt.Print(result.Summary())

	if *apply {
		counts := cpm.ApplyToPlan(snapshot, result, time.Now())
		updates := map[string]any{
			"work_breakdown_structure": planWBSAsMap(snapshot),
			"critical_path_analysis":   structAsMap(snapshot.CriticalPathAnalysis),
		}
		if _, err := engine.UpdateData(updates, "cpm-analyze"); err != nil {
			fatal(err)
		}
		fmt.Printf("flags updated: %d set, %d cleared\n", counts.Flagged, counts.Cleared)
	}
}

func planWBSAsMap(plan *model.Plan) map[string]any {
	return structAsMap(plan.WorkBreakdownStructure)
}

func structAsMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		fatal(err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		fatal(err)
	}
	return out
}

// staticRecommender satisfies the placement interface from CLI flags; real
// deployments inject the external recommender component instead.
type staticRecommender struct {
	rec gate.Recommendation
}

func (s staticRecommender) Recommend(task gate.TaskData, context map[string]any) (gate.Recommendation, error) {
	return s.rec, nil
}

func runGate(args []string) {
	if len(args) < 1 {
		fatal(fmt.Errorf("gate subcommand required (check|sweep|register|status|cleanup)"))
	}
	sub, rest := args[0], args[1:]

	fs := flag.NewFlagSet("gate "+sub, flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")

	switch sub {
	case "check":
		_ = fs.Parse(pickFlags(rest))
		positional := pickPositional(rest)
		if len(positional) == 0 {
			fatal(fmt.Errorf("command required"))
		}
		engine := openEngine(*dir)
		defer engine.Close()
		keeper := openGate(*dir, engine, staticRecommender{})

		decision, err := keeper.CheckExecutionGates(positional[0], positional[1:], nil)
		if err != nil {
			fatal(err)
		}
		printJSON(decision)
		if !decision.Allowed {
			os.Exit(2)
		}

	case "sweep":
		_ = fs.Parse(rest)
		engine := openEngine(*dir)
		defer engine.Close()
		keeper := openGate(*dir, engine, staticRecommender{})
		printJSON(keeper.UpdateWBSForPendingTasks())

	case "register":
		name := fs.String("name", "", "task name")
		description := fs.String("description", "", "task description")
		priority := fs.String("priority", "", "task priority")
		taskID := fs.String("task-id", "", "task id (generated when empty)")
		phase := fs.String("phase", "", "recommended phase id")
		placement := fs.String("placement", string(gate.PlacementNewSubtask), "placement type")
		confidence := fs.Float64("confidence", 1.0, "placement confidence score")
		effort := fs.String("effort", "", "estimated effort")
		source := fs.String("source", "cli", "registration source")
		_ = fs.Parse(rest)

		engine := openEngine(*dir)
		defer engine.Close()
		keeper := openGate(*dir, engine, staticRecommender{rec: gate.Recommendation{
			ConfidenceScore:  *confidence,
			RecommendedPhase: *phase,
			Placement:        gate.PlacementType(*placement),
			TaskID:           *taskID,
			RequiredEffort:   model.Effort(*effort),
		}})
		result, err := keeper.RegisterTask(gate.TaskData{
			Name:        *name,
			Description: *description,
			Priority:    *priority,
		}, *source, nil)
		if err != nil {
			fatal(err)
		}
		printJSON(result)

	case "status":
		_ = fs.Parse(rest)
		engine := openEngine(*dir)
		defer engine.Close()
		keeper := openGate(*dir, engine, staticRecommender{})
		printJSON(keeper.Registrations())

	case "cleanup":
		_ = fs.Parse(rest)
		engine := openEngine(*dir)
		defer engine.Close()
		keeper := openGate(*dir, engine, staticRecommender{})
		removed, err := keeper.CleanupResolved()
		if err != nil {
			fatal(err)
		}
		fmt.Printf("removed %d resolved registration(s)\n", removed)

	default:
		fatal(fmt.Errorf("unknown gate subcommand: %s", sub))
	}
}

// pickFlags/pickPositional let "gate check" take a free-form command string
// after its flags.
func pickFlags(args []string) []string {
	var flags []string
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 1 && args[i][0] == '-' {
			flags = append(flags, args[i])
			if i+1 < len(args) && (len(args[i+1]) == 0 || args[i+1][0] != '-') {
				flags = append(flags, args[i+1])
				i++
			}
		}
	}
	return flags
}

func pickPositional(args []string) []string {
	var positional []string
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 1 && args[i][0] == '-' {
			if i+1 < len(args) && (len(args[i+1]) == 0 || args[i+1][0] != '-') {
				i++
			}
			continue
		}
		positional = append(positional, args[i])
	}
	return positional
}

func runBypass(args []string) {
	if len(args) < 1 || args[0] != "create" {
		fatal(fmt.Errorf("bypass subcommand required (create)"))
	}
	fs := flag.NewFlagSet("bypass create", flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")
	command := fs.String("command", "", "exact command string the bypass covers")
	reason := fs.String("reason", "", "why the bypass is needed")
	by := fs.String("by", "", "operator authorizing the bypass")
	hours := fs.Int("hours", 0, "validity window in hours (default from config)")
	_ = fs.Parse(args[1:])

	if *command == "" || *reason == "" || *by == "" {
		fatal(fmt.Errorf("-command, -reason, and -by are required"))
	}

	engine := openEngine(*dir)
	defer engine.Close()
	keeper := openGate(*dir, engine, staticRecommender{})

	token, err := keeper.CreateEmergencyBypass(*command, *reason, *by, *hours)
	if err != nil {
		fatal(err)
	}
	printJSON(token)
}

func runReconcile(args []string) {
	fs := flag.NewFlagSet("reconcile", flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")
	_ = fs.Parse(args)

	engine := openEngine(*dir)
	defer engine.Close()

	report, err := engine.Reconcile()
	if err != nil {
		fatal(err)
	}
	printJSON(report)
	if !report.Valid() {
		os.Exit(2)
	}
}

func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	dir := fs.String("dir", ".", "workspace directory")
	_ = fs.Parse(args)

	engine := openEngine(*dir)
	defer engine.Close()

	progress, err := engine.GetView(syncengine.ViewProgress, true)
	if err != nil {
		fatal(err)
	}
	stats := engine.Stats()
	printJSON(map[string]any{
		"progress": progress,
		"cache": map[string]any{
			"size":     stats.Size,
			"max_size": stats.MaxSize,
			"expired":  stats.Expired,
		},
	})
}
