package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/me/optrun/internal/backend"
	"github.com/me/optrun/internal/config"
	"github.com/me/optrun/internal/optimizer"
	"github.com/me/optrun/internal/report"
	"github.com/me/optrun/internal/scheduler"
	"github.com/me/optrun/internal/server"
	"github.com/me/optrun/internal/store"
	"github.com/me/optrun/pkg/model"
)

func newRunCmd() *cobra.Command {
	var (
		flagResume int
		flagClean  bool
		flagServe  string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run an optimization study",
		Long: "run executes the configured study to completion: it draws parameter\n" +
			"sets from the search strategy, dispatches them to the execution backend,\n" +
			"and writes results.csv and best.yaml into the workspace.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runStudy(cmd, cfg, flagResume, flagClean, flagServe)
		},
	}

	cmd.Flags().IntVar(&flagResume, "resume", 0, "Restart from this trial id, redoing it and everything after")
	cmd.Flags().BoolVar(&flagClean, "clean", false, "Delete the study database before starting")
	cmd.Flags().StringVar(&flagServe, "serve", "", "Also serve the status API on this address (e.g. :8080)")
	return cmd
}

func runStudy(cmd *cobra.Command, cfg config.Config, resumeFrom int, clean bool, serveAddr string) error {
	if err := os.MkdirAll(cfg.Study.Workspace, 0o755); err != nil {
		return fmt.Errorf("create workspace: %w", err)
	}
	if clean {
		if err := removeDatabase(dbPath(cfg)); err != nil {
			return err
		}
	}

	st, err := openStore(cmd, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := ensureStudy(ctx, st, cfg); err != nil {
		return err
	}
	if resumeFrom == 0 {
		counts, err := st.Counts(ctx)
		if err != nil {
			return fmt.Errorf("count trials: %w", err)
		}
		if counts.Total() > 0 {
			return fmt.Errorf("study database %s already holds %d trials; pass --resume <trial_id> to continue it or --clean to start over",
				dbPath(cfg), counts.Total())
		}
	}

	reg := optimizer.NewRegistry(logger)
	strategy, err := reg.Resolve(cfg.Optimize.SearchAlgorithm, optimizer.Spec{
		Parameters: cfg.Optimize.Parameters,
		Seed:       cfg.Optimize.Seed,
	})
	if err != nil {
		return err
	}
	port := optimizer.NewPort(st, strategy, logger)

	backends := backend.NewRegistry(logger)
	backends.Register(backend.NewLocalBackend(cfg.Resource.Command, cfg.Study.Workspace, logger))
	backends.Register(backend.NewExprBackend(cfg.Resource.Expression, logger))
	be, err := backends.Get(cfg.Resource.Type)
	if err != nil {
		return err
	}

	loop := scheduler.NewLoop(st, port, be, scheduler.Config{
		TrialNumber:  cfg.Optimize.TrialNumber,
		NumWorkers:   cfg.Resource.NumWorkers,
		PollInterval: cfg.Generic.PollInterval,
		Timeout:      cfg.Timeout(),
		StallTicks:   cfg.Generic.StallTicks,
	}, logger)

	if resumeFrom > 0 {
		if err := loop.Resume(ctx, resumeFrom); err != nil {
			return err
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, runCtx := errgroup.WithContext(runCtx)

	if serveAddr != "" {
		srv := server.New(st, cfg.Optimize.Goals, logger)
		httpSrv := &http.Server{Addr: serveAddr, Handler: srv.Handler()}
		g.Go(func() error {
			logger.Info("status API listening", "addr", serveAddr)
			if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-runCtx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		defer cancel()
		return loop.Run(runCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if ctx.Err() != nil {
		logger.Info("interrupted, study database left intact for resume")
		return nil
	}

	return writeReports(cmd.Context(), st, cfg)
}

// ensureStudy records study metadata on the first run and leaves the
// existing record alone on resume.
func ensureStudy(ctx context.Context, st store.Store, cfg config.Config) error {
	study, err := st.GetStudy(ctx)
	if err != nil {
		return fmt.Errorf("load study record: %w", err)
	}
	if study != nil {
		return nil
	}
	return st.CreateStudy(ctx, &model.Study{
		ID:          uuid.New().String(),
		Name:        cfg.Study.Name,
		Algorithm:   cfg.Optimize.SearchAlgorithm,
		TrialNumber: cfg.Optimize.TrialNumber,
		NumWorkers:  cfg.Resource.NumWorkers,
		CreatedAt:   time.Now().UTC(),
	})
}

func removeDatabase(path string) error {
	for _, f := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(f); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("clean %s: %w", f, err)
		}
	}
	return nil
}

func writeReports(ctx context.Context, st store.Store, cfg config.Config) error {
	trials, err := st.ListTrials(ctx)
	if err != nil {
		return fmt.Errorf("list trials: %w", err)
	}

	best, err := st.BestTrials(ctx, cfg.Optimize.Goals)
	if err != nil {
		if !errors.Is(err, model.ErrNoFinishedTrials) {
			return err
		}
		logger.Warn("no finished trials, skipping best.yaml content")
	}

	dir := filepath.Join(cfg.Study.Workspace, "results")
	if err := report.WriteFiles(dir, cfg.Study.Name, cfg.Optimize.Goals, trials, best); err != nil {
		return err
	}
	logger.Info("reports written", "dir", dir)

	for i, trial := range best {
		fmt.Printf("best (%s): trial %d objective %v\n", cfg.Optimize.Goals[i], trial.ID, trial.Objective)
	}
	return nil
}
