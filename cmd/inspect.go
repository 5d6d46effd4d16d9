// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/featurebasedb/graphkernel/config"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/storage"
	"github.com/featurebasedb/graphkernel/storage/boltdb"
	"github.com/jedib0t/go-pretty/table"
	"github.com/jedib0t/go-pretty/text"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// InspectCommand reports the counters and schema of a store.
type InspectCommand struct {
	Config *config.Config

	Stdout io.Writer
	Stderr io.Writer
}

func newInspectCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	ic := &InspectCommand{Config: config.Default(), Stdout: stdout, Stderr: stderr}
	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "Report the counters and schema of a store.",
		Long: `inspect opens the store in the data directory and prints its id
high-water marks, the stored node and relationship counts per token,
and its indexes and constraints.
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ic.Run()
		},
	}
	configFlags(inspectCmd.Flags(), ic.Config)
	return inspectCmd
}

// Run executes the inspection.
func (ic *InspectCommand) Run() error {
	if err := ic.Config.Validate(); err != nil {
		return err
	}
	path, err := ic.Config.StorePath()
	if err != nil {
		return err
	}
	if _, err := os.Stat(path); err != nil {
		return errors.Wrap(err, "checking store file")
	}
	log, closeLog, err := newLogger(ic.Config, ic.Stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	store := boltdb.NewStore(path, &ic.Config.Store, log)
	if err := store.Open(); err != nil {
		return err
	}
	defer store.Close()
	r, err := store.Snapshot()
	if err != nil {
		return err
	}
	defer r.Close()

	labels, types, err := tokensInUse(r)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(ic.Stdout, "store: %s\n", path); err != nil {
		return err
	}

	counts := table.NewWriter()
	counts.SetOutputMirror(ic.Stdout)
	counts.Style().Format.Header = text.FormatDefault
	counts.AppendHeader(table.Row{"entity", "token", "count", "high id"})
	counts.AppendRow(table.Row{"nodes", "*", r.CountNodes(schema.AnyToken), r.HighNodeID()})
	counts.AppendRow(table.Row{"relationships", "*", r.CountRelationships(schema.AnyToken, schema.AnyToken, schema.AnyToken), r.HighRelationshipID()})
	for _, l := range labels.ToArray() {
		counts.AppendRow(table.Row{"label", l, r.CountNodes(int32(l)), ""})
	}
	for _, t := range types.ToArray() {
		counts.AppendRow(table.Row{"type", t, r.CountRelationships(schema.AnyToken, int32(t), schema.AnyToken), ""})
	}
	counts.Render()

	indexes, err := r.Indexes()
	if err != nil {
		return err
	}
	constraints, err := r.Constraints()
	if err != nil {
		return err
	}
	if len(indexes)+len(constraints) == 0 {
		return nil
	}
	rules := table.NewWriter()
	rules.SetOutputMirror(ic.Stdout)
	rules.Style().Format.Header = text.FormatDefault
	rules.AppendHeader(table.Row{"rule", "id", "name", "schema", "detail"})
	for _, d := range indexes {
		rules.AppendRow(table.Row{"index", d.ID, d.Name, d.Schema, d.Type})
	}
	for _, c := range constraints {
		rules.AppendRow(table.Row{"constraint", c.ID, c.Name, c.Schema, fmt.Sprintf("owns index %d", c.OwnedIndex)})
	}
	rules.Render()
	return nil
}

// tokensInUse walks the store and returns the labels carried by its nodes
// and the types of its relationships.
func tokensInUse(r storage.Reader) (labels, types *roaring.Bitmap, err error) {
	labels, types = roaring.New(), roaring.New()
	nodes := r.ScanNodes(0)
	for nodes.Next() {
		for _, l := range nodes.Node().Labels {
			labels.Add(uint32(l))
		}
	}
	err = nodes.Err()
	nodes.Close()
	if err != nil {
		return nil, nil, errors.Wrap(err, "scanning nodes")
	}

	rels := r.ScanRelationships(0)
	defer rels.Close()
	for rels.Next() {
		types.Add(uint32(rels.Relationship().Type))
	}
	if err := rels.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "scanning relationships")
	}
	return labels, types, nil
}
