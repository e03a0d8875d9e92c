package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"cmdweaver/internal/config"
	"cmdweaver/internal/orchestrator"
	"cmdweaver/internal/trace"
)

var (
	queryFormat   string
	queryExplain  bool
	queryPlanOnly bool
	queryDryRun   bool
	queryTimeout  time.Duration
)

var queryCmd = &cobra.Command{
	Use:   "query \"<problem statement>\"",
	Short: "Run a hand-authored diagnostic plan for a known problem domain",
	Long: `Query classifies the problem statement into a domain (currently audio),
compiles that domain's diagnostic plan into the same graph shape solve
produces, and executes it. Use --plan-only to inspect the plan without
running anything.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if queryFormat != "text" && queryFormat != "yaml" && queryFormat != "json" {
			return fmt.Errorf("%w: unknown format %q", errUsage, queryFormat)
		}
		stop := signalContext(cmd)
		defer stop()

		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		tr, err := svc.orch.Query(cmd.Context(), args[0], orchestrator.QueryOptions{
			PlanOnly: queryPlanOnly,
			Exec:     execOptions(cfg, queryDryRun, false, 0, config.Duration(queryTimeout)),
		})
		if err != nil {
			return err
		}
		exitCode = trace.ExitCode(tr.OverallStatus)
		return printTrace(cmd, tr, queryFormat, queryExplain)
	},
}

func init() {
	queryCmd.Flags().StringVar(&queryFormat, "format", "text", "output format: text, yaml or json")
	queryCmd.Flags().BoolVar(&queryExplain, "explain", false, "include rationale and interpretations")
	queryCmd.Flags().BoolVar(&queryPlanOnly, "plan-only", false, "print the compiled plan without executing")
	queryCmd.Flags().BoolVar(&queryDryRun, "dry-run", false, "execute nothing, synthesize results")
	queryCmd.Flags().DurationVar(&queryTimeout, "timeout", 0, "per-node timeout")
}
