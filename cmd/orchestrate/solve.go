package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cmdweaver/internal/config"
	"cmdweaver/internal/orchestrator"
	"cmdweaver/internal/trace"
)

var (
	solveFormat      string
	solveLimit       int
	solveThreshold   float64
	solveExplain     bool
	solveDryRun      bool
	solveStrict      bool
	solveMaxParallel int
	solveTimeout     time.Duration
)

var solveCmd = &cobra.Command{
	Use:   "solve \"<prompt>\"",
	Short: "Search the command index, build a DAG and execute it",
	Long: `Solve embeds the prompt, searches the manual-page index for matching
commands, assembles them into a dependency graph and executes it. The
trace is printed in the requested format and the exit code reflects the
overall status: 0 ok, 1 partial, 2 failed, 3 cancelled.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if solveFormat != "text" && solveFormat != "json" {
			return fmt.Errorf("%w: unknown format %q", errUsage, solveFormat)
		}
		thresholdSet := cmd.Flags().Changed("threshold")
		if thresholdSet && (solveThreshold < 0 || solveThreshold > 1) {
			return fmt.Errorf("%w: threshold must be in [0,1]", errUsage)
		}
		if solveLimit < 0 {
			return fmt.Errorf("%w: limit must be positive", errUsage)
		}
		stop := signalContext(cmd)
		defer stop()

		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		tr, err := svc.orch.Solve(cmd.Context(), args[0], orchestrator.SolveOptions{
			Limit:     solveLimit,
			Threshold: thresholdOrDefault(thresholdSet, solveThreshold),
			Exec:      execOptions(cfg, solveDryRun, solveStrict, solveMaxParallel, config.Duration(solveTimeout)),
		})
		if err != nil {
			return err
		}
		exitCode = trace.ExitCode(tr.OverallStatus)
		return printTrace(cmd, tr, solveFormat, solveExplain)
	},
}

func init() {
	solveCmd.Flags().StringVar(&solveFormat, "format", "text", "output format: text or json")
	solveCmd.Flags().IntVar(&solveLimit, "limit", 0, "maximum candidates to consider")
	solveCmd.Flags().Float64Var(&solveThreshold, "threshold", 0, "minimum cosine similarity in [0,1] (default from config)")
	solveCmd.Flags().BoolVar(&solveExplain, "explain", false, "include rationale and interpretations")
	solveCmd.Flags().BoolVar(&solveDryRun, "dry-run", false, "build the graph but do not spawn processes")
	solveCmd.Flags().BoolVar(&solveStrict, "strict", false, "cancel everything pending on the first failure")
	solveCmd.Flags().IntVar(&solveMaxParallel, "max-parallel", 0, "concurrent process cap")
	solveCmd.Flags().DurationVar(&solveTimeout, "timeout", 0, "per-node timeout")
}

// thresholdOrDefault maps an unset --threshold to the negative sentinel
// the searcher reads as "use the configured default". An explicit 0 is a
// legitimate floor and passes through.
func thresholdOrDefault(set bool, v float64) float64 {
	if !set {
		return -1
	}
	return v
}

func printTrace(cmd *cobra.Command, tr *trace.ExecutionTrace, format string, explain bool) error {
	var out string
	var err error
	switch format {
	case "json":
		out, err = trace.RenderJSON(tr)
	case "yaml":
		out, err = trace.RenderYAML(tr)
	default:
		out = trace.RenderText(tr, explain)
	}
	if err != nil {
		return err
	}
	cmd.Print(out)
	logger.Debug("trace rendered",
		zap.String("format", format),
		zap.String("status", string(tr.OverallStatus)))
	return nil
}
