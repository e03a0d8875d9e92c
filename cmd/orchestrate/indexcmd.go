package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"cmdweaver/internal/manpage"
)

var indexOrgDir string

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Manage the persistent command index",
}

var indexBuildCmd = &cobra.Command{
	Use:   "build",
	Short: "Enumerate every manual page and (re)index it",
	RunE: func(cmd *cobra.Command, args []string) error {
		stop := signalContext(cmd)
		defer stop()

		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		ix := manpage.New(svc.store, svc.engine, logger, manpage.Options{
			DescriptionCap: cfg.Index.DescriptionCap,
		})
		written, skipped, err := ix.BuildIndex(cmd.Context())
		if err != nil {
			return err
		}
		cmd.Printf("indexed %d commands (%d skipped)\n", written, skipped)

		orgDir := indexOrgDir
		if orgDir == "" {
			orgDir = cfg.Index.OrgDir
		}
		if orgDir != "" {
			n, err := ix.IndexOrgDocs(cmd.Context(), orgDir)
			if err != nil {
				return err
			}
			cmd.Printf("indexed %d org documents\n", n)
		}
		return nil
	},
}

var indexRefreshCmd = &cobra.Command{
	Use:   "refresh <command>",
	Short: "Re-index a single command",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		stop := signalContext(cmd)
		defer stop()

		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		ix := manpage.New(svc.store, svc.engine, logger, manpage.Options{
			DescriptionCap: cfg.Index.DescriptionCap,
		})
		changed, err := ix.Refresh(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if changed {
			cmd.Printf("%s: entry updated\n", args[0])
		} else {
			cmd.Printf("%s: unchanged\n", args[0])
		}
		return nil
	},
}

var indexStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report index size and embedding dimensionality",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		n, err := svc.store.Count()
		if err != nil {
			return err
		}
		cmd.Printf("path:       %s\n", cfg.Index.Path)
		cmd.Printf("entries:    %d\n", n)
		cmd.Printf("dimensions: %d\n", svc.store.Dimensions())
		logger.Debug("index status", zap.Int("entries", n), zap.Int("dimensions", svc.store.Dimensions()))
		return nil
	},
}

var indexClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Drop every entry from the index",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := buildServices(cfg)
		if err != nil {
			return err
		}
		defer svc.Close()

		if err := svc.store.Clear(); err != nil {
			return fmt.Errorf("failed to clear index: %w", err)
		}
		cmd.Println("index cleared")
		return nil
	},
}

func init() {
	indexBuildCmd.Flags().StringVar(&indexOrgDir, "org-dir", "", "directory of organizational YAML documents to index")
	indexCmd.AddCommand(indexBuildCmd)
	indexCmd.AddCommand(indexRefreshCmd)
	indexCmd.AddCommand(indexStatusCmd)
	indexCmd.AddCommand(indexClearCmd)
}
