// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package rpcreflect

import (
	"reflect"
	"sort"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/juju/errors"
)

// Registry maps RPC method names to their candidate signatures. A name
// registered more than once is overloaded; its candidates are kept in
// registration order, which is the order in which they are tried.
// Registry may be used concurrently.
type Registry struct {
	mu      sync.RWMutex
	methods map[string][]*Signature
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		methods: make(map[string][]*Signature),
	}
}

// Register adds the function fn as a candidate for the named method.
func (r *Registry) Register(name string, fn any, opts ...Option) error {
	sig, err := FuncSignature(name, fn, opts...)
	if err != nil {
		return errors.Trace(err)
	}
	r.add(name, sig)
	return nil
}

// RegisterMethod adds the method called method on obj as a candidate for
// the named RPC method.
func (r *Registry) RegisterMethod(name string, obj any, method string, opts ...Option) error {
	sig, err := MethodSignature(obj, method, opts...)
	if err != nil {
		return errors.Trace(err)
	}
	sig.Name = name
	r.add(name, sig)
	return nil
}

// RegisterObject registers every suitable exported method of obj under
// its name with the first letter lower cased. Methods that cannot be
// described are skipped. It returns the names registered.
func (r *Registry) RegisterObject(obj any) ([]string, error) {
	v := reflect.ValueOf(obj)
	if !v.IsValid() {
		return nil, errors.NotValidf("nil object")
	}
	t := v.Type()
	var names []string
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		if !m.IsExported() {
			continue
		}
		sig, err := newSignature(m.Name, v, v.Method(i), nil)
		if err != nil {
			logger.Debugf("skipping %s.%s: %v", t, m.Name, err)
			continue
		}
		name := lowerFirst(m.Name)
		sig.Name = name
		r.add(name, sig)
		names = append(names, name)
	}
	if len(names) == 0 {
		return nil, errors.NotValidf("type %s with no RPC methods", t)
	}
	return names, nil
}

func (r *Registry) add(name string, sig *Signature) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[name] = append(r.methods[name], sig)
}

// Candidates returns the signatures registered for name, in order.
func (r *Registry) Candidates(name string) []*Signature {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sigs := r.methods[name]
	result := make([]*Signature, len(sigs))
	copy(result, sigs)
	return result
}

// Names returns the sorted names of all registered methods.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.methods))
	for name := range r.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lowerFirst(name string) string {
	r, n := utf8.DecodeRuneInString(name)
	return string(unicode.ToLower(r)) + name[n:]
}
