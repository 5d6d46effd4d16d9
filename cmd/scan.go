// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/featurebasedb/graphkernel/config"
	"github.com/featurebasedb/graphkernel/kernel"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/spf13/cobra"
)

// ScanCommand lists the nodes of a store through a read-only transaction.
type ScanCommand struct {
	Config *config.Config

	// Label restricts the scan to nodes with this label unless it is
	// schema.AnyToken.
	Label int32
	// Limit stops the scan after this many nodes; zero means no limit.
	Limit int
	// Properties prints the properties of each node.
	Properties bool

	Stdout io.Writer
	Stderr io.Writer
}

func newScanCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	sc := &ScanCommand{Config: config.Default(), Label: schema.AnyToken, Stdout: stdout, Stderr: stderr}
	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List the nodes of a store.",
		Long: `scan opens the engine on the data directory and prints one line per
node visible to a read-only transaction: its id, its labels and,
with --properties, its properties.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return sc.Run(cmd.Context())
		},
	}
	flags := scanCmd.Flags()
	configFlags(flags, sc.Config)
	flags.Int32VarP(&sc.Label, "label", "l", sc.Label, "Only list nodes with this label id.")
	flags.IntVarP(&sc.Limit, "limit", "n", 0, "Stop after this many nodes.")
	flags.BoolVarP(&sc.Properties, "properties", "p", false, "Print node properties.")
	return scanCmd
}

// Run executes the scan.
func (sc *ScanCommand) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log, closeLog, err := newLogger(sc.Config, sc.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	e, err := kernel.NewEngine(sc.Config, kernel.OptEngineLogger(log))
	if err != nil {
		return err
	}
	if err := e.Open(); err != nil {
		return err
	}
	defer e.Close()

	tx, err := e.Begin(ctx, security.ReadOnly)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	f := tx.Cursors()
	nc := f.NodeCursor()
	defer nc.Close()
	pc := f.PropertyCursor()
	defer pc.Close()
	if err := tx.AllNodesScan(nc); err != nil {
		return err
	}
	n := 0
	for nc.Next() {
		if sc.Label != schema.AnyToken && !nc.HasLabel(sc.Label) {
			continue
		}
		if sc.Limit > 0 && n >= sc.Limit {
			break
		}
		n++
		line := fmt.Sprintf("%d\t%v", nc.ID(), nc.Labels())
		if sc.Properties {
			props, err := nodeProperties(nc, pc)
			if err != nil {
				return err
			}
			line += "\t{" + props + "}"
		}
		if _, err := fmt.Fprintln(sc.Stdout, line); err != nil {
			return err
		}
	}
	return nc.Err()
}

func nodeProperties(nc *kernel.NodeCursor, pc *kernel.PropertyCursor) (string, error) {
	if err := nc.Properties(pc); err != nil {
		return "", err
	}
	var parts []string
	for pc.Next() {
		parts = append(parts, fmt.Sprintf("%d: %s", pc.PropertyKey(), pc.PropertyValue()))
	}
	return strings.Join(parts, ", "), pc.Err()
}
