package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mshams/portfolio-pulse/internal/adapters/gitlab"
	"github.com/mshams/portfolio-pulse/internal/adapters/openai"
	"github.com/mshams/portfolio-pulse/internal/analytics"
	"github.com/mshams/portfolio-pulse/internal/config"
	"github.com/mshams/portfolio-pulse/internal/domain"
	"github.com/mshams/portfolio-pulse/internal/httpapi"
	"github.com/mshams/portfolio-pulse/internal/logger"
	"github.com/mshams/portfolio-pulse/internal/store"
)

// buildService wires the full pipeline from environment configuration.
// The key/value store is Postgres when a DSN is configured, in-memory for
// one-shot runs without one; either way it is wrapped in the configured
// persistence scope.
func buildService(ctx context.Context) (*analytics.Service, config.Config, func(), error) {
	cfg, err := config.Load()
	if err != nil { return nil, cfg, func() {}, fail(err) }
	log := logger.New(cfg)

	var base store.Store
	cleanup := func() {}
	if cfg.DBDSN != "" {
		pg, err := store.OpenPostgres(ctx, cfg.DBDSN, "pulse", log)
		if err != nil { return nil, cfg, cleanup, err }
		base = pg
		cleanup = pg.Close
	} else {
		base = store.NewMemory()
	}
	st := store.Scoped{Store: base, Scope: store.ScopeFor(cfg.StoreScope, cfg.StoreScopeID)}

	gl := gitlab.NewClient(cfg, log)
	llm := openai.NewClient(cfg, log)
	svc := analytics.New(cfg, log, st, gl, llm)
	return svc, cfg, cleanup, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "pulse",
		Short:         "Portfolio analytics over issue-tracker data",
		Long:          "pulse aggregates issues, milestones, and epics across projects and derives epic health, cycle times, velocity, and forecast reliability.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newAggregateCmd(),
		newAnalyzeEpicCmd(),
		newPortfolioCmd(),
		newCycleTimeCmd(),
		newVelocityCmd(),
		newWorkloadCmd(),
		newDepsCmd(),
		newAssignCmd(),
		newRecordForecastCmd(),
		newReliabilityCmd(),
		newServeCmd(),
	)
	return root
}

func newAggregateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aggregate",
		Short: "Fetch all configured sources and print the snapshot statistics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			snap, err := svc.Aggregate(cmd.Context())
			if err != nil { return fail(err) }
			if err := printJSON(map[string]any{"statistics": snap.Statistics, "sources": snap.SourceMetadata, "errors": snap.Errors}); err != nil { return err }
			if len(snap.Errors) > 0 { return errPartial }
			return nil
		},
	}
}

func newAnalyzeEpicCmd() *cobra.Command {
	var narrative bool
	cmd := &cobra.Command{
		Use:   "analyze-epic <id>",
		Short: "Evaluate one epic's RAG health",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil { return fmt.Errorf("bad epic id %q", args[0]) }
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			out, err := svc.AnalyzeEpic(cmd.Context(), id, narrative)
			if err != nil { return fail(err) }
			return printJSON(out)
		},
	}
	cmd.Flags().BoolVar(&narrative, "narrative", false, "generate an LLM narrative (needs OPENAI_API_KEY)")
	return cmd
}

func newPortfolioCmd() *cobra.Command {
	var narrative bool
	cmd := &cobra.Command{
		Use:   "portfolio",
		Short: "Evaluate every epic's RAG health, worst first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			out, err := svc.PortfolioHealth(cmd.Context(), narrative)
			if err != nil { return fail(err) }
			return printJSON(out)
		},
	}
	cmd.Flags().BoolVar(&narrative, "narrative", false, "generate an LLM portfolio digest (needs OPENAI_API_KEY)")
	return cmd
}

func newCycleTimeCmd() *cobra.Command {
	var accurate bool
	cmd := &cobra.Command{
		Use:   "cycle-time",
		Short: "Report lead/cycle-time statistics, distribution, and bottlenecks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			out, err := svc.CycleTime(cmd.Context(), accurate)
			if err != nil { return fail(err) }
			return printJSON(out)
		},
	}
	cmd.Flags().BoolVar(&accurate, "accurate", false, "replay label events for true cycle times")
	return cmd
}

func newVelocityCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "velocity <user>",
		Short: "Compute one member's hours-per-story-point",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			out, err := svc.MemberVelocity(cmd.Context(), args[0])
			if err != nil { return fail(err) }
			return printJSON(out)
		},
	}
}

func newWorkloadCmd() *cobra.Command {
	var sprint string
	cmd := &cobra.Command{
		Use:   "workload",
		Short: "Analyze team utilization and propose rebalancing moves",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			out, err := svc.TeamWorkload(cmd.Context(), sprint)
			if err != nil { return fail(err) }
			return printJSON(out)
		},
	}
	cmd.Flags().StringVar(&sprint, "sprint", "", "sprint id for manual capacity overrides")
	return cmd
}

func newDepsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deps",
		Short: "Report the issue dependency graph, cycles, and blocked issues",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			out, err := svc.Dependencies(cmd.Context())
			if err != nil { return fail(err) }
			return printJSON(out)
		},
	}
}

func newAssignCmd() *cobra.Command {
	var projectID, issueIID, assigneeID int64
	cmd := &cobra.Command{
		Use:   "assign",
		Short: "Reassign an issue (the only upstream write)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			if err := svc.ApplyMove(cmd.Context(), projectID, issueIID, assigneeID); err != nil { return fail(err) }
			return printJSON(map[string]any{"ok": true, "project": projectID, "issue": issueIID, "assignee": assigneeID})
		},
	}
	cmd.Flags().Int64Var(&projectID, "project", 0, "project id")
	cmd.Flags().Int64Var(&issueIID, "issue", 0, "issue iid")
	cmd.Flags().Int64Var(&assigneeID, "assignee", 0, "assignee user id, 0 unassigns")
	_ = cmd.MarkFlagRequired("project")
	_ = cmd.MarkFlagRequired("issue")
	return cmd
}

func newRecordForecastCmd() *cobra.Command {
	var (
		typ        string
		targetID   int64
		name       string
		dateStr    string
		scope      int
		confidence int
	)
	cmd := &cobra.Command{
		Use:   "record-forecast",
		Short: "Record a delivery forecast",
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := domain.ParseDate(dateStr)
			if err != nil { return fmt.Errorf("bad --date, want YYYY-MM-DD") }
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			f, err := svc.RecordForecast(cmd.Context(), domain.ForecastType(typ), targetID, name, target.Time, scope, confidence)
			if err != nil { return fail(err) }
			return printJSON(f)
		},
	}
	cmd.Flags().StringVar(&typ, "type", "milestone", "forecast type: milestone|sprint|epic|initiative")
	cmd.Flags().Int64Var(&targetID, "target", 0, "target id")
	cmd.Flags().StringVar(&name, "name", "", "target name")
	cmd.Flags().StringVar(&dateStr, "date", "", "target date, YYYY-MM-DD")
	cmd.Flags().IntVar(&scope, "scope", 0, "open scope size")
	cmd.Flags().IntVar(&confidence, "confidence", 50, "confidence 0..100")
	_ = cmd.MarkFlagRequired("target")
	_ = cmd.MarkFlagRequired("date")
	return cmd
}

func newReliabilityCmd() *cobra.Command {
	var months int
	cmd := &cobra.Command{
		Use:   "reliability",
		Short: "Score forecast reliability from completed forecasts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, _, cleanup, err := buildService(cmd.Context())
			if err != nil { return fail(err) }
			defer cleanup()
			out, err := svc.Reliability(cmd.Context(), months)
			if err != nil { return fail(err) }
			return printJSON(out)
		},
	}
	cmd.Flags().IntVar(&months, "months", 6, "trend window in months")
	return cmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the analytics HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			svc, cfg, cleanup, err := buildService(ctx)
			if err != nil { return fail(err) }
			defer cleanup()
			log := logger.New(cfg)

			router := httpapi.NewRouter(cfg, log, svc)
			errCh := make(chan error, 1)
			go func() { errCh <- router.Run(cfg.HTTPAddr) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case <-sigCh:
				log.Info().Msg("shutting down...")
			case err := <-errCh:
				if err != nil {
					log.Error().Err(err).Msg("http server error")
					return err
				}
			}
			time.Sleep(500 * time.Millisecond)
			return nil
		},
	}
}
