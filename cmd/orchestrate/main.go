package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cmdweaver/internal/config"
	"cmdweaver/internal/logging"
	"cmdweaver/internal/orchestrator"
	"cmdweaver/internal/search"
	"cmdweaver/internal/trace"
)

var (
	// Global flags
	verbose    bool
	configPath string

	logger *zap.Logger
	cfg    config.Config

	// exitCode carries the status-derived process exit code past cobra.
	exitCode int
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "orchestrate",
	Short: "Turn a problem statement into a command DAG and run it",
	Long: `orchestrate maps a natural-language problem statement onto the commands
installed on this machine.

It searches a semantic index of the system's manual pages, assembles the
matching commands into a dependency graph (piping output where the
commands compose), executes the graph with bounded parallelism and
reports the full trace: candidates, graph, per-node results and the
reasoning behind each step.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		path := configPath
		if path == "" {
			if home, err := os.UserHomeDir(); err == nil {
				path = filepath.Join(home, ".cmdweaver", "config.yaml")
			}
		}
		var err error
		cfg, err = config.Load(path)
		if err != nil {
			return err
		}
		logger, err = logging.New(verbose)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (default ~/.cmdweaver/config.yaml)")

	rootCmd.AddCommand(solveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(indexCmd)
}

// signalContext cancels on SIGINT/SIGTERM so a Ctrl-C tears children
// down through the executor's grace path.
func signalContext(cmd *cobra.Command) (stop func()) {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	cmd.SetContext(ctx)
	return cancel
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "orchestrate: %v\n", err)
		switch {
		case errors.Is(err, orchestrator.ErrInvalidInput), errors.Is(err, errUsage):
			exitCode = trace.ExitInvalidArgs
		case errors.Is(err, search.ErrIndexUnavailable):
			exitCode = trace.ExitFailed
		default:
			if exitCode == 0 {
				exitCode = trace.ExitFailed
			}
		}
	}
	os.Exit(exitCode)
}

// errUsage marks flag and argument mistakes detected before any work.
var errUsage = errors.New("invalid arguments")
