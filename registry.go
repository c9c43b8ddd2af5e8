package apporch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/golang/glog"
)

// GenericPrefix marks namespaces that contribute application sub-resources,
// and is also the prefix of the generic fallback candidate.
const GenericPrefix = "application_"

type compiledDefinition struct {
	decode func(raw json.RawMessage) (any, error)
	build  func(ctx context.Context, cfg any) (Resource, error)
}

// Registry stores resource definitions by fully-qualified type name and
// the enumeration of loaded extension namespaces.
type Registry struct {
	mu         sync.RWMutex
	defs       map[string]compiledDefinition
	namespaces []string
	source     NamespaceSource
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithNamespaceSource replaces the registry's own namespace list with src.
func WithNamespaceSource(src NamespaceSource) RegistryOption {
	return func(r *Registry) {
		r.source = src
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		defs: make(map[string]compiledDefinition),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register registers one resource definition with generics.
func Register[Cfg any](r *Registry, typeName string, def Definition[Cfg]) error {
	if r == nil {
		return fmt.Errorf("register resource definition: registry is nil")
	}
	if typeName == "" {
		return fmt.Errorf("register resource definition: type name is empty")
	}
	if def.Build == nil {
		return fmt.Errorf("register resource definition: build func is nil for %s", typeName)
	}

	decodeFn := def.Decode
	if decodeFn == nil {
		decodeFn = defaultDecode[Cfg]
	}

	compiled := compiledDefinition{
		decode: func(raw json.RawMessage) (any, error) {
			cfg, err := decodeFn(raw)
			if err != nil {
				return nil, err
			}
			return cfg, nil
		},
		build: func(ctx context.Context, cfg any) (Resource, error) {
			typed, ok := cfg.(Cfg)
			if !ok {
				return nil, fmt.Errorf("build option type mismatch: want=%T got=%T", *new(Cfg), cfg)
			}
			return def.Build(ctx, typed)
		},
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.defs[typeName]; exists {
		return fmt.Errorf("register resource definition: duplicate definition for %s", typeName)
	}
	r.defs[typeName] = compiled
	return nil
}

// MustRegister panics on registration error; intended for bootstrap code paths.
func MustRegister[Cfg any](r *Registry, typeName string, def Definition[Cfg]) {
	if err := Register(r, typeName, def); err != nil {
		panic(err)
	}
}

// AddNamespace marks an extension namespace as loaded. Repeated names are ignored.
func (r *Registry) AddNamespace(ns string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.namespaces {
		if existing == ns {
			return
		}
	}
	r.namespaces = append(r.namespaces, ns)
}

// Namespaces returns the loaded namespaces in load order.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.source != nil {
		return r.source.Namespaces()
	}
	return append([]string(nil), r.namespaces...)
}

// Registered reports whether typeName has a definition.
func (r *Registry) Registered(typeName string) bool {
	_, ok := r.get(typeName)
	return ok
}

// Candidates returns the ordered type names tried for a requested name:
// the generic fallback, then one per application namespace in order, then
// the bare name.
func Candidates(name string, namespaces []string) []string {
	out := make([]string, 0, len(namespaces)+2)
	out = append(out, GenericPrefix+name)
	for _, ns := range namespaces {
		if strings.HasPrefix(ns, GenericPrefix) {
			out = append(out, ns+"_"+name)
		}
	}
	return append(out, name)
}

// Resolve instantiates the first registered candidate for name. It returns
// the resource and the candidate type name that matched.
func (r *Registry) Resolve(ctx context.Context, name string, options json.RawMessage) (Resource, string, error) {
	if name == "" {
		return nil, "", fmt.Errorf("resolve resource: %w: name is empty", ErrInvalidArgument)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	candidates := Candidates(name, r.Namespaces())
	for _, candidate := range candidates {
		glog.V(5).Infof("trying to load application resource %s for %s", candidate, name)
		def, ok := r.get(candidate)
		if !ok {
			continue
		}
		cfg, err := def.decode(options)
		if err != nil {
			return nil, "", InstantiationError{Name: name, Candidate: candidate, Err: fmt.Errorf("decode options: %w", err)}
		}
		res, err := def.build(ctx, cfg)
		if err != nil {
			return nil, "", InstantiationError{Name: name, Candidate: candidate, Err: err}
		}
		if res == nil {
			return nil, "", InstantiationError{Name: name, Candidate: candidate, Err: fmt.Errorf("build returned nil resource")}
		}
		glog.V(5).Infof("loaded application resource %s for %s", candidate, name)
		return res, candidate, nil
	}
	return nil, "", ResourceNotFoundError{Name: name, Candidates: candidates}
}

func (r *Registry) get(typeName string) (compiledDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[typeName]
	return def, ok
}

func defaultDecode[Cfg any](raw json.RawMessage) (Cfg, error) {
	var cfg Cfg
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return cfg, nil
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
