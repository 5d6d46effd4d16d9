// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/featurebasedb/graphkernel/config"
	"github.com/featurebasedb/graphkernel/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix is prepended to the upper-cased flag names to form the
// environment variables read by setAllConfig.
const envPrefix = "GRAPHKERNEL"

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "graphkernel",
		Short: "graphkernel inspects and reads a property graph store.",
		Long: `graphkernel inspects and reads a property graph store.

This binary wraps the transactional read kernel: it can print the
default configuration, report the counters and schema of a store,
and scan its nodes through a read-only transaction.
`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			err := setAllConfig(v, cmd.Flags())
			if err != nil {
				return err
			}

			// return "dry run" error if "dry-run" flag is set
			ret, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("problem getting dry-run flag: %v", err)
			}
			if ret {
				if cmd.Parent() != nil {
					return fmt.Errorf("dry run")
				}
			}

			return nil
		},
		SilenceUsage: true,
	}
	rc.PersistentFlags().Bool("dry-run", false, "stop before executing")
	_ = rc.PersistentFlags().MarkHidden("dry-run")
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")

	rc.AddCommand(newConfigCommand(stdin, stdout, stderr))
	rc.AddCommand(newInspectCommand(stdin, stdout, stderr))
	rc.AddCommand(newScanCommand(stdin, stdout, stderr))

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// configFlags binds the flags of every configuration option to cfg. Flag
// names match the TOML keys, so a config file can set any of them.
func configFlags(flags *pflag.FlagSet, cfg *config.Config) {
	flags.StringVarP(&cfg.DataDir, "data-dir", "d", cfg.DataDir, "Directory the store is kept in.")
	flags.StringVar(&cfg.Store.Backend, "store.backend", cfg.Store.Backend, "Store implementation to use.")
	flags.BoolVar(&cfg.Store.FsyncEnabled, "store.fsync", cfg.Store.FsyncEnabled, "Sync the store file on every commit.")
	flags.IntVar(&cfg.Store.DenseNodeThreshold, "store.dense-node-threshold", cfg.Store.DenseNodeThreshold, "Degree at which relationships are grouped by type.")
	flags.Var(&cfg.Store.OpenTimeout, "store.open-timeout", "Time to wait for the store's file lock.")
	flags.IntVar(&cfg.Store.InitialMmapSize, "store.initial-mmap-size", cfg.Store.InitialMmapSize, "Initial size of the store's memory map in bytes.")
	flags.BoolVar(&cfg.Counts.ScanBased, "counts.scan-based", cfg.Counts.ScanBased, "Count by scanning instead of reading the count store.")
	flags.BoolVar(&cfg.Cursors.Pooling, "cursors.pooling", cfg.Cursors.Pooling, "Reuse idle cursors within a transaction.")
	flags.IntVar(&cfg.Index.PopulationWorkers, "index.population-workers", cfg.Index.PopulationWorkers, "Number of goroutines populating new indexes.")
	flags.Var(&cfg.Locks.WaitTimeout, "locks.wait-timeout", "Longest time a transaction waits for a lock.")
	flags.BoolVar(&cfg.Log.Verbose, "log.verbose", cfg.Log.Verbose, "Enable debug logging.")
	flags.StringVar(&cfg.Log.Path, "log.path", cfg.Log.Path, "Log file to write to instead of stderr.")
}

// newLogger returns the logger described by cfg. The returned function
// closes the log file, if any.
func newLogger(cfg *config.Config, stderr io.Writer) (logger.Logger, func() error, error) {
	w := stderr
	closer := func() error { return nil }
	if cfg.Log.Path != "" {
		f, err := os.OpenFile(cfg.Log.Path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0600)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %v", err)
		}
		w, closer = f, f.Close
	}
	if cfg.Log.Verbose {
		return logger.NewVerboseLogger(w), closer, nil
	}
	return logger.NewStandardLogger(w), closer, nil
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order. Since each flag in the set contains a pointer to
// where its value should be stored, setAllConfig can directly modify the value
// of each config variable.
//
// setAllConfig looks for environment variables which are capitalized versions
// of the flag names with dashes and dots replaced by underscores, and prefixed
// with envPrefix plus an underscore.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error { // nolint: unparam
	// add cmd line flag def to viper
	err := v.BindPFlags(flags)
	if err != nil {
		return err
	}

	// add env to viper
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	c := v.GetString("config")
	var flagErr error
	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	// add config file to viper
	if c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		err := v.ReadInConfig()
		if err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}

		for _, key := range v.AllKeys() {
			if _, ok := validTags[key]; !ok {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	// set all values from viper
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		if f.Changed {
			// If f.Changed is true, that means the value has already been set
			// by a flag, and we don't need to ask viper for it since the flag
			// is the highest priority.
			return
		}
		if !v.IsSet(f.Name) {
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
