// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"io"

	"github.com/featurebasedb/graphkernel/config"
	"github.com/spf13/cobra"
)

func newConfigCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cfg := config.Default()
	confCmd := &cobra.Command{
		Use:   "config",
		Short: "Print the current configuration.",
		Long: `config prints the configuration that results from the defaults,
the configuration file, GRAPHKERNEL_* environment variables and
flags, in TOML.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			buf, err := cfg.MarshalTOML()
			if err != nil {
				return err
			}
			_, err = stdout.Write(buf)
			return err
		},
	}
	configFlags(confCmd.Flags(), cfg)
	return confCmd
}
