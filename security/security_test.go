// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package security_test

import (
	"testing"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/schema"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/values"
	"github.com/stretchr/testify/assert"
)

const (
	person int32 = 1
	secret int32 = 2
	knows  int32 = 5
	name   int32 = 1
	salary int32 = 2
	status int32 = 3
)

func noProps(int32) (values.Value, bool) { return nil, false }

func TestFull(t *testing.T) {
	m := security.Full
	assert.True(t, m.AllowsTraverseAllLabels())
	assert.True(t, m.AllowsTraverseNode([]int32{secret}, noProps))
	assert.NoError(t, security.CheckWrite(m))
	assert.NoError(t, security.CheckSchemaWrite(m))

	err := security.CheckWrite(security.ReadOnly)
	assert.True(t, errors.Is(err, errors.ErrAuthorizationViolation))
	var ae *errors.AuthorizationError
	if assert.True(t, errors.As(err, &ae)) {
		assert.Equal(t, "read-only", ae.Principal)
	}
}

func TestRestricted_Traverse(t *testing.T) {
	m := security.NewRestricted("alice").
		GrantTraverseAllLabels().
		DenyTraverseLabels(secret).
		GrantTraverseRelTypes(knows)

	assert.False(t, m.AllowsTraverseAllLabels())
	assert.False(t, m.AllowsTraverseAllNodesWithLabel(person), "a person may also be secret")
	assert.True(t, m.DisallowsTraverseLabel(secret))
	assert.False(t, m.DisallowsTraverseLabel(person))
	assert.True(t, m.AllowsTraverseNode([]int32{person}, noProps))
	assert.False(t, m.AllowsTraverseNode([]int32{person, secret}, noProps))

	assert.True(t, m.AllowsTraverseRelType(knows))
	assert.False(t, m.AllowsTraverseRelType(knows+1))
	assert.False(t, m.AllowsTraverseRelType(schema.AnyToken))
}

func TestRestricted_PropertyRules(t *testing.T) {
	lookups := 0
	props := func(key int32) (values.Value, bool) {
		lookups++
		if key == status {
			return values.Text("hidden"), true
		}
		return nil, false
	}
	m := security.NewRestricted("bob").
		GrantTraverseLabels(person, secret).
		DenyTraverseWhere(secret, status, values.Text("hidden"))

	assert.True(t, m.AllowsTraverseNode([]int32{person}, props))
	assert.Equal(t, 0, lookups, "rules of other labels do not read properties")
	assert.False(t, m.AllowsTraverseNode([]int32{secret}, props))
	assert.Equal(t, 1, lookups)
	assert.False(t, m.AllowsTraverseAllNodesWithLabel(person))
	assert.False(t, m.AllowsTraverseNode(nil, props), "unlabelled nodes need traverse on all labels")
}

func TestRestricted_Read(t *testing.T) {
	m := security.NewRestricted("carol").GrantReadAll().DenyRead(salary).DenyReadOnLabel(secret, name)
	assert.False(t, m.AllowsReadAllProperties())
	assert.True(t, m.AllowsReadNodeProperty([]int32{person}, name))
	assert.False(t, m.AllowsReadNodeProperty([]int32{person}, salary))
	assert.False(t, m.AllowsReadNodeProperty([]int32{person, secret}, name))
	assert.True(t, m.AllowsReadRelationshipProperty(knows, name))
}

func TestOverride(t *testing.T) {
	m := security.NewRestricted("dave").GrantExecute(1).GrantBoostedExecute(2)
	assert.True(t, m.AllowsExecuteProcedure(1))
	assert.False(t, m.AllowsExecuteProcedure(3))

	assert.Same(t, m, security.Override(m, 1).(*security.Restricted))
	boosted := security.Override(m, 2)
	assert.True(t, boosted.AllowsWrites())
	assert.True(t, boosted.AllowsTraverseAllLabels())
	assert.Contains(t, boosted.Name(), "dave")
}
