package converge

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/golang/glog"

	"github.com/chenyanchen/apporch"
	"github.com/chenyanchen/apporch/manifest"
)

// Result describes the deployment changes of one convergence.
type Result struct {
	Added     []string // Deployment is new to this converger.
	Changed   []string // Description differs from the last successful run.
	Unchanged []string // Description matches the last successful run; not executed.
	Removed   []string // Deployment was converged before and is absent now.
	Reports   []apporch.Report
}

// Converger remembers what it last converged and re-runs only what changed.
type Converger struct {
	registry *apporch.Registry
	env      apporch.EnvironmentSource
	executor *apporch.Executor

	mu       sync.Mutex
	snapshot map[string]string
}

func New(registry *apporch.Registry, env apporch.EnvironmentSource, executor *apporch.Executor) (*Converger, error) {
	if registry == nil {
		return nil, fmt.Errorf("new converger: registry is nil")
	}
	if executor == nil {
		return nil, fmt.Errorf("new converger: executor is nil")
	}
	return &Converger{
		registry: registry,
		env:      env,
		executor: executor,
		snapshot: make(map[string]string),
	}, nil
}

// Converge executes every added or changed description. It stops at the
// first failure; the failed deployment keeps its previous hash so the next
// call runs it again.
func (c *Converger) Converge(ctx context.Context, descs []manifest.Description) (Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	hashes := make(map[string]string, len(descs))
	for _, desc := range descs {
		if _, dup := hashes[desc.Name]; dup {
			return Result{}, fmt.Errorf("converge: %w: duplicate deployment %q", apporch.ErrInvalidArgument, desc.Name)
		}
		h, err := hashDescription(desc)
		if err != nil {
			return Result{}, fmt.Errorf("converge: hash %s: %w", desc.Name, err)
		}
		hashes[desc.Name] = h
	}

	var result Result
	for _, desc := range descs {
		prev, known := c.snapshot[desc.Name]
		switch {
		case !known:
			result.Added = append(result.Added, desc.Name)
		case prev != hashes[desc.Name]:
			result.Changed = append(result.Changed, desc.Name)
		default:
			result.Unchanged = append(result.Unchanged, desc.Name)
			continue
		}

		d, err := manifest.Build(ctx, c.registry, c.env, desc)
		if err != nil {
			return result, fmt.Errorf("converge: build %s: %w", desc.Name, err)
		}
		report, err := c.executor.Execute(ctx, d)
		result.Reports = append(result.Reports, report)
		if err != nil {
			return result, fmt.Errorf("converge: %w", err)
		}
		c.snapshot[desc.Name] = hashes[desc.Name]
	}

	for name := range c.snapshot {
		if _, ok := hashes[name]; !ok {
			result.Removed = append(result.Removed, name)
			delete(c.snapshot, name)
		}
	}
	sort.Strings(result.Removed)
	glog.V(2).Infof("converged: added=%d changed=%d unchanged=%d removed=%d",
		len(result.Added), len(result.Changed), len(result.Unchanged), len(result.Removed))
	return result, nil
}

// Forget drops the remembered hash of name so the next Converge runs it.
func (c *Converger) Forget(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshot, name)
}

func hashDescription(desc manifest.Description) (string, error) {
	raw, err := json.Marshal(desc)
	if err != nil {
		return "", err
	}
	normalized, err := normalizeJSON(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(normalized)
	return hex.EncodeToString(sum[:]), nil
}

func normalizeJSON(raw json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []byte("null"), nil
	}
	var v any
	if err := json.Unmarshal(trimmed, &v); err != nil {
		return nil, err
	}
	return json.Marshal(v)
}
