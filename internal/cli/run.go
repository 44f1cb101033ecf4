package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/pandaura/pandaura/internal/config"
	"github.com/pandaura/pandaura/internal/engine"
	"github.com/pandaura/pandaura/internal/st"
)

var (
	runCycles int
	runWatch  []string
)

var runCmd = &cobra.Command{
	Use:   "run <file.st>",
	Short: "Execute an ST program for a fixed number of scan cycles",
	Long: `Compile the program and step it through the scan engine, then print
the final variable values. Faults and latency behave exactly as under
'serve'; cycles are stepped back to back rather than paced, so a run
finishes immediately.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runCycles, "cycles", 100, "number of scan cycles to execute")
	runCmd.Flags().StringSliceVar(&runWatch, "watch", nil, "only print the named variables")
}

func runRun(cmd *cobra.Command, args []string) error {
	if runCycles <= 0 {
		return fmt.Errorf("--cycles must be positive, got %d", runCycles)
	}

	content, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading %s: %w", args[0], err)
	}
	prog, err := st.Compile(string(content))
	if err != nil {
		return err
	}

	// The engine logs every faulted cycle; keep the run output clean and
	// report the last error once at the end instead.
	eng, err := engine.New(prog, engineConfig(cfg.Engine), log.New(io.Discard))
	if err != nil {
		return err
	}
	for i := 0; i < runCycles; i++ {
		if err := eng.StepOnce(); err != nil {
			return err
		}
	}

	snap := eng.Snapshot()
	if len(runWatch) > 0 {
		filtered := make(map[string]any, len(runWatch))
		for _, name := range runWatch {
			if v, ok := snap[name]; ok {
				filtered[name] = v
			}
		}
		snap = filtered
	}

	status := eng.Status()
	if cfg.Output.JSON {
		out, err := json.MarshalIndent(map[string]any{
			"status":    status,
			"variables": snap,
		}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printTitle(fmt.Sprintf("%s after %d cycles", args[0], status.ScanCount))
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-24s %v\n", name, snap[name])
	}
	if status.LastError != "" {
		printWarning("last cycle error: " + status.LastError)
	}
	if status.Exceptions > 0 {
		printWarning(fmt.Sprintf("%d overflow exceptions recorded", status.Exceptions))
	}
	return nil
}

// engineConfig maps the configuration schema onto scan parameters.
func engineConfig(e config.EngineConfig) engine.Config {
	return engine.Config{
		ScanTimeMs:      e.EffectiveScanTimeMs(),
		WatchdogLimitMs: e.WatchdogLimitMs,
		LatencyBaseMs:   e.LatencyBaseMs,
		LatencyJitterMs: e.LatencyJitterMs,
		StopOnError:     e.StopOnError,
		Seed:            e.Seed,
	}
}
