package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pandaura/pandaura/internal/bridge"
	"github.com/pandaura/pandaura/internal/deploy"
	"github.com/pandaura/pandaura/internal/engine"
	"github.com/pandaura/pandaura/internal/observability"
	"github.com/pandaura/pandaura/internal/persistence"
	"github.com/pandaura/pandaura/internal/st"
	"github.com/pandaura/pandaura/internal/store"
	"github.com/pandaura/pandaura/internal/versioning"
)

var (
	servePort int
	serveHost string
)

// sessionMaxIdle is how long an editor session may stay silent before the
// hourly sweep removes it.
const sessionMaxIdle = 24 * time.Hour

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Pandaura backend",
	Long: `Run the shadow engine, the event hub, the workspace watcher, the CSV
tag exporter, and the version/release/deployment services over SQLite.

Health and metrics are served over HTTP:

  pandaura serve
  pandaura serve --port 3000

Configuration comes from pandaura.yaml, PANDAURA_* environment
variables, and the legacy flat keys (PORT, PANDAURA_HOST,
CSV_OUTPUT_DIR, LOG_LEVEL, SYNC_INTERVAL, NODE_ENV, DB_PATH).`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "HTTP port (overrides config)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "bind address (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	observability.InitGlobal(versionInfo.Version)

	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}

	if err := os.MkdirAll(cfg.Store.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	if err := os.MkdirAll(cfg.Workspace.Dir, 0o755); err != nil {
		return fmt.Errorf("creating workspace directory: %w", err)
	}

	db, err := persistence.Open(cfg.Store.DatabasePath())
	if err != nil {
		return err
	}
	defer db.Close()

	blobs, err := store.New(cfg.Store.DataDir, logger)
	if err != nil {
		return err
	}

	projects := persistence.NewProjectStore(db)
	versions := versioning.NewService(persistence.NewVersionRepository(db), blobs, logger)

	hub := bridge.NewHub(logger)

	prog, err := loadWorkspaceProgram(cfg.Workspace.Dir)
	if err != nil {
		return err
	}
	shadow, err := engine.New(prog, engineConfig(cfg.Engine), logger, engine.WithNotify(hub.Publish))
	if err != nil {
		return err
	}

	drepo := persistence.NewDeployRepository(db)
	deploys := deploy.NewService(drepo, versions, logger,
		deploy.WithActivator(activator(versions, shadow, cfg.Workspace.Dir)))
	if err := recoverDeployments(drepo, deploys); err != nil {
		return err
	}

	cmds := bridge.New(shadow, nil, hub, logger)

	exporter, err := bridge.NewExporter(shadow, cfg.Workspace.CSVOutputDir, cfg.Workspace.SyncInterval, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return shadow.Run(ctx)
	})
	g.Go(func() error {
		return exporter.Run(ctx)
	})
	if cfg.Workspace.WatchEnabled {
		watcher, err := bridge.NewWatcher(cfg.Workspace.Dir, hub, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return watcher.Run(ctx)
		})
	}
	g.Go(func() error {
		return pruneSessions(ctx, projects)
	})
	g.Go(func() error {
		return serveHTTP(ctx, cmds)
	})

	logger.Info("pandaura backend started",
		"addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"db", cfg.Store.DatabasePath(),
		"workspace", cfg.Workspace.Dir)
	fmt.Printf("Pandaura backend listening on %s:%d\n", cfg.Server.Host, cfg.Server.Port)
	fmt.Println("Press Ctrl+C to stop")

	err = g.Wait()
	if ctx.Err() != nil {
		fmt.Println("\nServer stopped gracefully")
		return nil
	}
	return err
}

// loadWorkspaceProgram compiles main.st from the workspace when present.
// A missing or broken file starts the engine on an empty program; the
// watcher reports the compile failure once the file changes.
func loadWorkspaceProgram(dir string) (*st.Program, error) {
	content, err := os.ReadFile(filepath.Join(dir, "main.st"))
	if os.IsNotExist(err) {
		return st.Compile("")
	}
	if err != nil {
		return nil, err
	}
	prog, err := st.Compile(string(content))
	if err != nil {
		logger.Warn("workspace main.st does not compile, starting idle", "err", err)
		return st.Compile("")
	}
	return prog, nil
}

// activator materialises a version into the workspace and swaps main.st
// into the shadow engine. It backs deployment apply and rollback.
func activator(versions *versioning.Service, shadow *engine.Engine, workspace string) deploy.Activator {
	return func(ctx context.Context, versionID string) error {
		files, err := versions.MaterializeVersion(versionID)
		if err != nil {
			return err
		}
		for path, content := range files {
			target := filepath.Join(workspace, filepath.Clean("/"+path))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(target, []byte(content), 0o644); err != nil {
				return err
			}
		}
		if content, ok := files["main.st"]; ok {
			prog, err := st.Compile(content)
			if err != nil {
				return err
			}
			if err := shadow.SetProgram(prog); err != nil {
				return err
			}
		}
		logger.Info("version activated", "version", versionID, "files", len(files))
		return nil
	}
}

// recoverDeployments pauses rollouts a restart interrupted. The step
// breadcrumbs survive in the log, so an operator resume re-enters at the
// first incomplete step.
func recoverDeployments(repo *persistence.DeployRepository, deploys *deploy.Service) error {
	recs, err := repo.ListUnfinished()
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if rec.Status != deploy.StatusRunning {
			continue
		}
		if _, err := deploys.Pause(rec.ID); err != nil {
			logger.Error("failed to pause interrupted deployment", "deploy", rec.ID, "err", err)
			continue
		}
		logger.Warn("interrupted deployment paused, resume to continue",
			"deploy", rec.ID, "environment", rec.Environment, "progress", rec.ProgressPercent)
	}
	return nil
}

// pruneSessions sweeps idle editor sessions hourly.
func pruneSessions(ctx context.Context, projects *persistence.ProjectStore) error {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed, err := projects.PruneSessions(sessionMaxIdle)
			if err != nil {
				logger.Error("session prune failed", "err", err)
				continue
			}
			if removed > 0 {
				logger.Info("idle sessions pruned", "count", removed)
			}
		}
	}
}

// serveHTTP exposes health and metrics until ctx is canceled.
func serveHTTP(ctx context.Context, cmds *bridge.Commands) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Global().Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"version": versionInfo.Version,
			"engines": cmds.Status(),
		})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errc:
		return err
	}
}
