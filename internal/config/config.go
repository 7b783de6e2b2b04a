// Package config loads the run's external configuration object via
// viper, binding the core backup options plus the exclusion-file
// extension, and validating them at the CLI boundary — fail fast,
// with a typed error.
package config

import (
	"github.com/spf13/viper"

	"github.com/PavelTrutman/goldfish/internal/bkerr"
	"github.com/PavelTrutman/goldfish/internal/fsadapter"
)

// Config is the run's resolved configuration.
type Config struct {
	// BackupDirFrom is the ordered list of absolute source tree paths.
	BackupDirFrom []string
	// BackupDirTo is the absolute path to the destination root.
	BackupDirTo string
	// FollowSymlinks, when true, dereferences symlinks for stat/hash/link.
	FollowSymlinks bool
	// DBEnable turns on the content-addressed index.
	DBEnable bool
	// DBPath is the index file path, relative to BackupDirTo unless absolute.
	DBPath string
	// DBLinkMDiffer enables Pass-2 hash linking when mtimes diverge.
	DBLinkMDiffer bool
	// ExcludeFile optionally names a gitignore-syntax exclusion file
	// applied uniformly to every source tree.
	ExcludeFile string
}

// Load reads the configuration object at path (format inferred from its
// extension: YAML, TOML or JSON) and validates it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.SetDefault("followSymlinks", false)
	v.SetDefault("dbEnable", false)
	v.SetDefault("dbPath", "index.db")
	v.SetDefault("dbLinkMDiffer", false)

	if err := v.ReadInConfig(); err != nil {
		return nil, &bkerr.ConfigError{Msg: "failed to read configuration file " + path, Err: err}
	}

	cfg := &Config{
		BackupDirFrom:  v.GetStringSlice("backupDirFrom"),
		BackupDirTo:    v.GetString("backupDirTo"),
		FollowSymlinks: v.GetBool("followSymlinks"),
		DBEnable:       v.GetBool("dbEnable"),
		DBPath:         v.GetString("dbPath"),
		DBLinkMDiffer:  v.GetBool("dbLinkMDiffer"),
		ExcludeFile:    v.GetString("excludeFile"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.BackupDirFrom) == 0 {
		return &bkerr.ConfigError{Msg: "backupDirFrom must list at least one source tree"}
	}
	if c.BackupDirTo == "" {
		return &bkerr.ConfigError{Msg: "backupDirTo is required"}
	}
	info, err := fsadapter.Stat(c.BackupDirTo, true)
	if err != nil {
		return &bkerr.ConfigError{Msg: "backupDirTo does not exist: " + c.BackupDirTo, Err: err}
	}
	if !info.IsDir {
		return &bkerr.ConfigError{Msg: "backupDirTo is not a directory: " + c.BackupDirTo}
	}
	for _, src := range c.BackupDirFrom {
		srcInfo, err := fsadapter.Stat(src, true)
		if err != nil {
			return &bkerr.ConfigError{Msg: "backupDirFrom entry does not exist: " + src, Err: err}
		}
		if !srcInfo.IsDir {
			return &bkerr.ConfigError{Msg: "backupDirFrom entry is not a directory: " + src}
		}
	}
	return nil
}
