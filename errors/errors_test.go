// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package errors_test

import (
	"fmt"
	"testing"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		uncoded := errors.New(errors.ErrUncoded, "uncoded error")
		inf := errors.Newf(errors.ErrIndexNotFound, "index '%s' does not exist", "idx")
		closed := errors.New(errors.ErrTransactionNotOpen, "transaction is closed")
		conflict := errors.NewUniquenessConflict("uniq", 7, "(5)")
		denied := errors.NewAuthorizationError("alice", "execute procedure db.stats")

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{err: uncoded, target: errors.ErrUncoded, exp: true},
			{err: uncoded, target: errors.ErrIndexNotFound, exp: false},
			{err: inf, target: errors.ErrIndexNotFound, exp: true},
			{err: errors.Wrap(inf, "seeking"), target: errors.ErrIndexNotFound, exp: true},
			{err: closed, target: errors.ErrIndexNotFound, exp: false},
			{err: conflict, target: errors.ErrUniquenessConflict, exp: true},
			{err: errors.Wrap(conflict, "validating"), target: errors.ErrUniquenessConflict, exp: true},
			{err: conflict, target: errors.ErrIndexBroken, exp: false},
			{err: denied, target: errors.ErrAuthorizationViolation, exp: true},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				got := errors.Is(test.err, test.target)
				assert.Equal(t, test.exp, got)
			})
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		assert.Equal(t, errors.ErrIndexBroken, errors.CodeOf(errors.Wrap(errors.New(errors.ErrIndexBroken, "failed"), "ctx")))
		assert.Equal(t, errors.ErrUniquenessConflict, errors.CodeOf(errors.NewUniquenessConflict("u", 1, "(1)")))
		assert.Equal(t, errors.Code(""), errors.CodeOf(fmt.Errorf("plain")))
	})

	t.Run("Details", func(t *testing.T) {
		err := errors.Wrap(errors.NewUniquenessConflict("person_name", 42, "(\"x\")"), "setting property")
		var uce *errors.UniquenessConflictError
		if assert.True(t, errors.As(err, &uce)) {
			assert.Equal(t, int64(42), uce.ConflictingID)
			assert.Equal(t, "person_name", uce.IndexName)
		}

		var ae *errors.AuthorizationError
		assert.True(t, errors.As(errors.NewAuthorizationError("bob", "read property 3"), &ae))
		assert.Equal(t, "bob", ae.Principal)
		assert.Contains(t, ae.Error(), "read property 3")
	})
}
