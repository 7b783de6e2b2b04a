// Package run provides the "run" command, which executes one backup
// pass against a configured set of source trees.
package run

import (
	"errors"
	"fmt"
	"time"

	"github.com/PavelTrutman/goldfish/cmd"
	"github.com/PavelTrutman/goldfish/internal/bkerr"
	"github.com/PavelTrutman/goldfish/internal/config"
	"github.com/PavelTrutman/goldfish/internal/display"
	"github.com/PavelTrutman/goldfish/internal/logger"
	"github.com/PavelTrutman/goldfish/internal/snapshot"
	"github.com/spf13/cobra"
)

var configPath string
var nonInteractive bool

// runCmd represents the run command for executing a backup pass.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a backup pass against the configured source trees",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.With("command", "run")

		cfg, err := config.Load(configPath)
		if err != nil {
			return mapError(err)
		}

		out := cmd.OutOrStdout()
		display.Logo()

		log.Info("Starting backup run", "sources", len(cfg.BackupDirFrom), "dest", cfg.BackupDirTo)
		start := time.Now()

		result, err := snapshot.Run(snapshot.Options{
			SourceTrees:    cfg.BackupDirFrom,
			DestRoot:       cfg.BackupDirTo,
			FollowSymlinks: cfg.FollowSymlinks,
			IndexEnabled:   cfg.DBEnable,
			DBPath:         cfg.DBPath,
			DBLinkMDiffer:  cfg.DBLinkMDiffer,
			ExcludeFile:    cfg.ExcludeFile,
			Out:            out,
			Interactive:    !nonInteractive,
			In:             cmd.InOrStdin(),
		}, time.Now())
		if err != nil {
			log.Error("Backup run failed", "error", err, "duration", time.Since(start))
			return mapError(err)
		}

		var totalCopied, totalLinked, totalHashLinked uint64
		for _, tr := range result.Trees {
			totalCopied += uint64(tr.Counters.Copied)
			totalLinked += uint64(tr.Counters.Linked)
			totalHashLinked += uint64(tr.Counters.HashLinked)
		}

		log.Info("Backup run completed",
			"snapshot", result.DatetimeName,
			"duration", time.Since(start),
			"copied", totalCopied,
			"linked", totalLinked,
			"hashLinked", totalHashLinked,
		)

		fmt.Fprintf(out, "\nSnapshot %s: %s\n", result.DatetimeName,
			display.Totals(totalCopied, totalLinked, totalHashLinked))
		return nil
	},
}

// mapError logs the kind of a typed backup error before returning it
// unchanged to Cobra, so operators grepping logs can tell a config
// error from an index or filesystem failure.
func mapError(err error) error {
	var cfgErr *bkerr.ConfigError
	var ioErr *bkerr.IOError
	var idxErr *bkerr.IndexError
	var xdevErr *bkerr.CrossDeviceError

	switch {
	case errors.As(err, &cfgErr):
		logger.Error("configuration error", "error", cfgErr)
	case errors.As(err, &ioErr):
		logger.Error("filesystem error", "error", ioErr)
	case errors.As(err, &idxErr):
		logger.Error("index error", "error", idxErr)
	case errors.As(err, &xdevErr):
		logger.Error("cross-device hardlink error", "error", xdevErr)
	}
	return err
}

func init() {
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (YAML, TOML or JSON)")
	runCmd.MarkFlagRequired("config")
	runCmd.Flags().BoolVar(&nonInteractive, "non-interactive", false, "Fail immediately on a clock collision instead of prompting")

	cmd.Register(runCmd)
}
