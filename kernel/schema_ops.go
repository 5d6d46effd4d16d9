// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package kernel

import (
	"fmt"
	"sort"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/locks"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/values"
)

// checkSchemaWrite verifies that the transaction may change the schema.
func (tx *Tx) checkSchemaWrite() error {
	if err := tx.assertOpen(); err != nil {
		return err
	}
	if err := security.CheckSchemaWrite(tx.mode); err != nil {
		return err
	}
	if tx.state.HasDataChanges() {
		return errors.New(errors.ErrSchemaAndDataMixed, "cannot change the schema in a transaction that changed data")
	}
	return nil
}

// lockSchema takes the locks guarding a schema rule on sch named name.
func (tx *Tx) lockSchema(sch schema.Descriptor, name string) error {
	if name != "" {
		if err := tx.acquire(locks.Exclusive, locks.SchemaName, locks.SchemaNameResourceID(name)); err != nil {
			return err
		}
	}
	typ := locks.Label
	if sch.EntityType == schema.Relationship {
		typ = locks.RelationshipType
	}
	ids := make([]int64, len(sch.EntityTokens))
	for i, t := range sch.EntityTokens {
		ids[i] = int64(t)
	}
	if len(ids) == 0 {
		return tx.acquire(locks.Exclusive, locks.Schema, int64(sch.EntityType))
	}
	return tx.acquire(locks.Exclusive, typ, ids...)
}

// nameTaken reports whether an index or constraint named name exists for
// the transaction.
func (tx *Tx) nameTaken(name string) bool {
	if d := tx.IndexGetForName(name); !d.IsNoIndex() {
		return true
	}
	for _, c := range tx.ConstraintsGetAll() {
		if c.Name == name {
			return true
		}
	}
	return false
}

func validateSchema(sch schema.Descriptor) error {
	if sch.IsAnyTokenSchema() {
		return nil
	}
	if len(sch.EntityTokens) != 1 {
		return errors.Newf(errors.ErrUnsupportedQuery, "schema %s must have exactly one token", sch)
	}
	if len(sch.PropertyKeys) == 0 {
		return errors.Newf(errors.ErrUnsupportedQuery, "schema %s has no properties", sch)
	}
	seen := make(map[int32]struct{}, len(sch.PropertyKeys))
	for _, k := range sch.PropertyKeys {
		if _, ok := seen[k]; ok {
			return errors.Newf(errors.ErrUnsupportedQuery, "schema %s repeats property %d", sch, k)
		}
		seen[k] = struct{}{}
	}
	return nil
}

// IndexCreate creates an index on sch. An empty name is replaced by a
// generated one. A schema without tokens or properties creates the token
// lookup index of its entity type.
func (tx *Tx) IndexCreate(name string, sch schema.Descriptor) (schema.IndexDescriptor, error) {
	if err := tx.checkSchemaWrite(); err != nil {
		return schema.NoIndex, err
	}
	if err := validateSchema(sch); err != nil {
		return schema.NoIndex, err
	}
	d, err := tx.newIndex(name, sch, false, 0)
	if err != nil {
		return schema.NoIndex, err
	}
	tx.state.IndexDoAdd(d)
	tx.logger.Infof("creating index %s", d)
	return d, nil
}

func (tx *Tx) newIndex(name string, sch schema.Descriptor, unique bool, owner int64) (schema.IndexDescriptor, error) {
	if err := tx.lockSchema(sch, name); err != nil {
		return schema.NoIndex, err
	}
	typ := schema.IndexTypeRange
	if sch.IsAnyTokenSchema() {
		typ = schema.IndexTypeLookup
	}
	for _, d := range tx.IndexesGetAll() {
		if d.Type == typ && d.Schema.Equal(sch) {
			return schema.NoIndex, errors.Newf(errors.ErrSchemaRuleExists, "an equivalent index already exists: %s", d)
		}
	}
	id := tx.engine.store.NextSchemaID()
	if name == "" {
		name = fmt.Sprintf("index_%d", id)
	}
	if tx.nameTaken(name) {
		return schema.NoIndex, errors.Newf(errors.ErrSchemaRuleExists, "a schema rule named '%s' already exists", name)
	}
	return schema.IndexDescriptor{
		ID:               id,
		Name:             name,
		Schema:           sch,
		Type:             typ,
		Unique:           unique,
		OwningConstraint: owner,
	}, nil
}

// IndexDrop drops index d. Indexes owned by a constraint are dropped by
// dropping the constraint.
func (tx *Tx) IndexDrop(d schema.IndexDescriptor) error {
	if err := tx.checkSchemaWrite(); err != nil {
		return err
	}
	if err := tx.lockSchema(d.Schema, d.Name); err != nil {
		return err
	}
	cur, ok := tx.indexByID(d.ID)
	if !ok {
		return errors.Newf(errors.ErrSchemaRuleNotFound, "index %s does not exist", d)
	}
	if cur.OwningConstraint != 0 {
		return errors.Newf(errors.ErrUnsupportedQuery, "index '%s' belongs to constraint %d; drop the constraint instead", cur.Name, cur.OwningConstraint)
	}
	tx.state.IndexDoDrop(cur)
	tx.logger.Infof("dropping index %s", cur)
	return nil
}

// UniquenessConstraintCreate creates a uniqueness constraint on a node
// schema along with the unique index enforcing it. The committed nodes must
// already satisfy it.
func (tx *Tx) UniquenessConstraintCreate(name string, sch schema.Descriptor) (schema.ConstraintDescriptor, error) {
	var none schema.ConstraintDescriptor
	if err := tx.checkSchemaWrite(); err != nil {
		return none, err
	}
	if err := validateSchema(sch); err != nil {
		return none, err
	}
	if sch.EntityType != schema.Node || sch.IsAnyTokenSchema() {
		return none, errors.Newf(errors.ErrUnsupportedQuery, "uniqueness constraints need a node schema with properties, got %s", sch)
	}
	for _, c := range tx.ConstraintsGetAll() {
		if c.Schema.Equal(sch) {
			return none, errors.Newf(errors.ErrSchemaRuleExists, "an equivalent constraint already exists: %s", c)
		}
	}
	cid := tx.engine.store.NextSchemaID()
	if name == "" {
		name = fmt.Sprintf("constraint_%d", cid)
	}
	if tx.nameTaken(name) {
		return none, errors.Newf(errors.ErrSchemaRuleExists, "a schema rule named '%s' already exists", name)
	}
	d, err := tx.newIndex(name, sch, true, cid)
	if err != nil {
		return none, err
	}
	if err := tx.verifyUnique(d); err != nil {
		return none, err
	}
	c := schema.ConstraintDescriptor{
		ID:         cid,
		Name:       name,
		Schema:     sch,
		Type:       schema.ConstraintUniqueness,
		OwnedIndex: d.ID,
	}
	tx.state.IndexDoAdd(d)
	tx.state.ConstraintDoAdd(c)
	tx.logger.Infof("creating constraint %s", c)
	return c, nil
}

// verifyUnique checks the committed nodes covered by d for duplicate value
// tuples.
func (tx *Tx) verifyUnique(d schema.IndexDescriptor) error {
	seen := make(map[string]int64)
	it := tx.reader.ScanNodes(0)
	defer it.Close()
	for it.Next() {
		n := it.Node()
		if !d.Schema.CoversAnyToken(n.Labels) {
			continue
		}
		tuple := make(values.Tuple, len(d.Schema.PropertyKeys))
		complete := true
		for i, k := range d.Schema.PropertyKeys {
			v, ok, err := tx.reader.NodeProperty(n.ID, k)
			if err != nil {
				return err
			}
			if !ok {
				complete = false
				break
			}
			tuple[i] = v
		}
		if !complete {
			continue
		}
		key := tuple.String()
		if other, ok := seen[key]; ok {
			return errors.NewUniquenessConflict(d.Name, other, key)
		}
		seen[key] = n.ID
	}
	return it.Err()
}

// ConstraintDrop drops constraint c and the index it owns.
func (tx *Tx) ConstraintDrop(c schema.ConstraintDescriptor) error {
	if err := tx.checkSchemaWrite(); err != nil {
		return err
	}
	if err := tx.lockSchema(c.Schema, c.Name); err != nil {
		return err
	}
	var cur schema.ConstraintDescriptor
	found := false
	for _, x := range tx.ConstraintsGetAll() {
		if x.ID == c.ID {
			cur, found = x, true
		}
	}
	if !found {
		return errors.Newf(errors.ErrSchemaRuleNotFound, "constraint %s does not exist", c)
	}
	tx.state.ConstraintDoDrop(cur)
	if d, ok := tx.indexByID(cur.OwnedIndex); ok {
		tx.state.IndexDoDrop(d)
	}
	tx.logger.Infof("dropping constraint %s", cur)
	return nil
}

// indexByID returns index id as the transaction sees it.
func (tx *Tx) indexByID(id int64) (schema.IndexDescriptor, bool) {
	for _, d := range tx.IndexesGetAll() {
		if d.ID == id {
			return d, true
		}
	}
	return schema.NoIndex, false
}

// IndexesGetAll returns the committed indexes the transaction did not drop
// and the ones it created, ordered by id.
func (tx *Tx) IndexesGetAll() []schema.IndexDescriptor {
	out := tx.liveIndexes(tx.engine.indexes.Schema().Indexes())
	out = append(out, tx.state.AddedIndexes()...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IndexesGetForLabel returns the value indexes on label.
func (tx *Tx) IndexesGetForLabel(label int32) []schema.IndexDescriptor {
	return tx.indexesForToken(schema.Node, label)
}

// IndexesGetForRelType returns the value indexes on relType.
func (tx *Tx) IndexesGetForRelType(relType int32) []schema.IndexDescriptor {
	return tx.indexesForToken(schema.Relationship, relType)
}

func (tx *Tx) indexesForToken(entityType schema.EntityType, token int32) []schema.IndexDescriptor {
	var out []schema.IndexDescriptor
	for _, d := range tx.IndexesGetAll() {
		if d.Type == schema.IndexTypeRange && d.Schema.EntityType == entityType && d.Schema.CoversToken(token) {
			out = append(out, d)
		}
	}
	return out
}

// IndexGetForName returns the index named name, or schema.NoIndex.
func (tx *Tx) IndexGetForName(name string) schema.IndexDescriptor {
	for _, d := range tx.IndexesGetAll() {
		if d.Name == name {
			return d
		}
	}
	return schema.NoIndex
}

// IndexGetState returns the population state of d. Indexes created by the
// transaction are populating until they are committed and populated.
func (tx *Tx) IndexGetState(d schema.IndexDescriptor) (schema.IndexState, error) {
	if err := tx.assertOpen(); err != nil {
		return 0, err
	}
	if d.IsNoIndex() || tx.state.IndexIsRemoved(d.ID) {
		return 0, errors.Newf(errors.ErrIndexNotFound, "index %s does not exist", d)
	}
	for _, a := range tx.state.AddedIndexes() {
		if a.ID == d.ID {
			return schema.IndexPopulating, nil
		}
	}
	return tx.engine.indexes.State(d.ID)
}

// IndexGetFailure returns the reason d failed to populate, or "".
func (tx *Tx) IndexGetFailure(d schema.IndexDescriptor) (string, error) {
	if _, err := tx.IndexGetState(d); err != nil {
		return "", err
	}
	return tx.engine.indexes.FailureMessage(d.ID), nil
}

// ConstraintsGetAll returns the constraints the transaction sees, ordered
// by id.
func (tx *Tx) ConstraintsGetAll() []schema.ConstraintDescriptor {
	removed := make(map[int64]struct{})
	for _, c := range tx.state.RemovedConstraints() {
		removed[c.ID] = struct{}{}
	}
	var out []schema.ConstraintDescriptor
	for _, c := range tx.engine.indexes.Schema().Constraints() {
		if _, ok := removed[c.ID]; !ok {
			out = append(out, c)
		}
	}
	out = append(out, tx.state.AddedConstraints()...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
