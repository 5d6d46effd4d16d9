// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package procedures is the registry of callable procedures and functions.
package procedures

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/featurebasedb/graphkernel/errors"
	"github.com/featurebasedb/graphkernel/security"
	"github.com/featurebasedb/graphkernel/values"
)

// Kind tells procedures and functions apart.
type Kind uint8

const (
	Procedure Kind = iota
	Function
)

func (k Kind) String() string {
	if k == Function {
		return "function"
	}
	return "procedure"
}

// Mode is what a procedure does to the graph.
type Mode uint8

const (
	Read Mode = iota
	Write
)

// Graph is the transaction view a procedure runs against. Its access mode
// is the one in force for the duration of the call.
type Graph interface {
	AccessMode() security.AccessMode
	NodeExists(id int64) (bool, error)
	NodeLabels(id int64) ([]int32, error)
	NodeProperty(id int64, key int32) (values.Value, error)
	CountNodes(label int32) (int64, error)
}

// Func is the body of a procedure or function. Functions return a single
// row with a single value.
type Func func(ctx context.Context, g Graph, args []values.Value) ([]values.Tuple, error)

// Signature describes a registered callable.
type Signature struct {
	ID          int64
	Name        string
	Kind        Kind
	Mode        Mode
	Description string
}

type registered struct {
	sig Signature
	fn  Func
}

// Registry resolves callables by qualified name or id.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*registered
	byID   []*registered
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*registered)}
}

func normalize(name string) string { return strings.ToLower(strings.TrimSpace(name)) }

// Register adds a callable and returns its signature with the assigned id.
// Names are case insensitive.
func (r *Registry) Register(name string, kind Kind, mode Mode, description string, fn Func) (Signature, error) {
	key := normalize(name)
	if key == "" || fn == nil {
		return Signature{}, errors.Errorf("invalid %s registration '%s'", kind, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName[key]; ok {
		return Signature{}, errors.Errorf("%s '%s' is already registered", kind, name)
	}
	p := &registered{
		sig: Signature{ID: int64(len(r.byID)), Name: name, Kind: kind, Mode: mode, Description: description},
		fn:  fn,
	}
	r.byName[key] = p
	r.byID = append(r.byID, p)
	return p.sig, nil
}

// Resolve returns the signature of the callable with the qualified name.
func (r *Registry) Resolve(name string) (Signature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byName[normalize(name)]
	if !ok {
		return Signature{}, errors.Newf(errors.ErrProcedureNotFound, "there is no procedure or function named '%s'", name)
	}
	return p.sig, nil
}

func (r *Registry) byIDLocked(id int64) (*registered, error) {
	if id < 0 || id >= int64(len(r.byID)) {
		return nil, errors.Newf(errors.ErrProcedureNotFound, "there is no procedure or function with id %d", id)
	}
	return r.byID[id], nil
}

// Signature returns the signature of callable id.
func (r *Registry) Signature(id int64) (Signature, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.byIDLocked(id)
	if err != nil {
		return Signature{}, err
	}
	return p.sig, nil
}

// List returns every signature in name order.
func (r *Registry) List() []Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Signature, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p.sig)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Call runs callable id. Execution permission is checked against the
// caller's mode before anything else; the body then runs with the mode
// returned by scope for the overridden access mode.
func (r *Registry) Call(ctx context.Context, mode security.AccessMode, id int64, args []values.Value, scope func(security.AccessMode) Graph) ([]values.Tuple, error) {
	r.mu.RLock()
	p, err := r.byIDLocked(id)
	r.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if !mode.AllowsExecuteProcedure(id) {
		return nil, errors.NewAuthorizationError(mode.Name(), "execute "+p.sig.Kind.String()+" "+p.sig.Name)
	}
	effective := security.Override(mode, id)
	if p.sig.Mode == Write {
		if err := security.CheckWrite(effective); err != nil {
			return nil, err
		}
	}
	rows, err := p.fn(ctx, scope(effective), args)
	if err != nil {
		return nil, errors.Wrapf(err, "calling %s %s", p.sig.Kind, p.sig.Name)
	}
	if p.sig.Kind == Function && (len(rows) != 1 || len(rows[0]) != 1) {
		return nil, errors.Errorf("function %s must return one value, got %d rows", p.sig.Name, len(rows))
	}
	return rows, nil
}
