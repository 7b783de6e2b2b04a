// Package list provides the "list" command, which renders the backups
// captured under a configured destination root.
package list

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/PavelTrutman/goldfish/cmd"
	"github.com/PavelTrutman/goldfish/internal/bkerr"
	"github.com/PavelTrutman/goldfish/internal/config"
	"github.com/PavelTrutman/goldfish/internal/display"
	"github.com/PavelTrutman/goldfish/internal/index"
	"github.com/PavelTrutman/goldfish/internal/logger"
	"github.com/spf13/cobra"
)

var configPath string

// listCmd represents the list command for showing captured backups.
var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List previously captured snapshots",
	RunE: func(cmd *cobra.Command, args []string) error {
		log := logger.With("command", "list")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		var store index.Store
		if cfg.DBEnable {
			dbPath := cfg.DBPath
			if !filepath.IsAbs(dbPath) {
				dbPath = filepath.Join(cfg.BackupDirTo, dbPath)
			}
			sqliteStore, err := index.Open(dbPath)
			if err != nil {
				log.Warn("Failed to open index, DB column will show 'no'", "error", err)
			} else {
				store = sqliteStore
				defer sqliteStore.Close()
			}
		}

		rows, err := buildRows(cfg.BackupDirTo, store)
		if err != nil {
			return err
		}

		fmt.Fprint(cmd.OutOrStdout(), display.Table(rows))
		return nil
	},
}

func buildRows(destRoot string, store index.Store) ([][4]string, error) {
	entries, err := os.ReadDir(destRoot)
	if err != nil {
		return nil, &bkerr.IOError{Op: "readdir", Path: destRoot, Err: err}
	}

	var snapshots []string
	for _, e := range entries {
		if e.IsDir() {
			snapshots = append(snapshots, e.Name())
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(snapshots)))

	var rows [][4]string
	for _, snap := range snapshots {
		snapDir := filepath.Join(destRoot, snap)
		folders, err := os.ReadDir(snapDir)
		if err != nil {
			return nil, &bkerr.IOError{Op: "readdir", Path: snapDir, Err: err}
		}

		var snapshotID int64
		var snapshotInIndex bool
		if store != nil {
			snapshotID, snapshotInIndex, err = store.GetBackup(snap)
			if err != nil {
				return nil, err
			}
		}

		for _, f := range folders {
			if !f.IsDir() {
				continue
			}
			size, err := dirSize(filepath.Join(snapDir, f.Name()))
			if err != nil {
				return nil, err
			}

			inDB := "no"
			if snapshotInIndex {
				if _, ok, err := store.GetFolder(f.Name(), snapshotID); err == nil && ok {
					inDB = "yes"
				}
			}

			rows = append(rows, [4]string{snap, f.Name(), display.HumanSize(size), inDB})
		}
	}
	return rows, nil
}

func dirSize(root string) (uint64, error) {
	var total uint64
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			total += uint64(info.Size())
		}
		return nil
	})
	if err != nil {
		return 0, &bkerr.IOError{Op: "walk", Path: root, Err: err}
	}
	return total, nil
}

func init() {
	listCmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the configuration file (YAML, TOML or JSON)")
	listCmd.MarkFlagRequired("config")

	cmd.Register(listCmd)
}
