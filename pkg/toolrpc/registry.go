package toolrpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/kaptinlin/jsonrepair"
)

// DefaultTimeout bounds a single tool execution when no timeout is set.
const DefaultTimeout = 10 * time.Second

// Registry holds the tools available to callers. It is immutable once
// built and safe for concurrent use.
type Registry struct {
	tools   map[string]*Tool
	names   []string
	timeout time.Duration
	logger  *slog.Logger
}

// RegistryConfig configures NewRegistry.
type RegistryConfig struct {
	// Timeout bounds each execution. Default: DefaultTimeout.
	Timeout time.Duration

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// NewRegistry builds a registry. Tool names must be unique.
func NewRegistry(cfg RegistryConfig, tools ...*Tool) (*Registry, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := &Registry{
		tools:   make(map[string]*Tool, len(tools)),
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
	for _, t := range tools {
		if _, dup := r.tools[t.Name]; dup {
			return nil, fmt.Errorf("toolrpc: duplicate tool %q", t.Name)
		}
		r.tools[t.Name] = t
		r.names = append(r.names, t.Name)
	}
	slices.Sort(r.names)
	return r, nil
}

// Len returns the number of tools.
func (r *Registry) Len() int { return len(r.names) }

// Lookup returns the named tool.
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// List describes every tool, sorted by name.
func (r *Registry) List() []Descriptor {
	out := make([]Descriptor, 0, len(r.names))
	for _, name := range r.names {
		t := r.tools[name]
		out = append(out, Descriptor{Name: t.Name, Description: t.Description, Schema: t.Schema})
	}
	return out
}

// Invoke looks up, validates and executes a tool. rawArgs may be empty or
// null for a tool without parameters; malformed JSON is repaired once
// before giving up.
//
// The error, if any, is a *NotFoundError, *ValidationError or
// *ExecutionError.
func (r *Registry) Invoke(ctx context.Context, name string, rawArgs json.RawMessage) (any, error) {
	t, ok := r.tools[name]
	if !ok {
		return nil, &NotFoundError{Name: name}
	}

	args, err := decodeArgs(rawArgs)
	if err != nil {
		return nil, &ValidationError{Tool: name, Err: err}
	}
	if err := t.Validate(args); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := r.execute(ctx, t, args.(map[string]any))
	r.logger.Debug("tool executed", "tool", name, "duration", time.Since(start), "error", err)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}
	return result, nil
}

func (r *Registry) execute(ctx context.Context, t *Tool, args map[string]any) (result any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return t.Execute(ctx, args)
}

// decodeArgs unmarshals tool arguments, repairing malformed JSON once.
func decodeArgs(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]any{}, nil
	}
	// Engines send arguments as a JSON-encoded string.
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if s == "" {
			return map[string]any{}, nil
		}
		raw = json.RawMessage(s)
	}

	var v any
	err := json.Unmarshal(raw, &v)
	if err == nil {
		return v, nil
	}
	if _, ok := err.(*json.SyntaxError); !ok {
		return nil, err
	}
	fixed, rerr := jsonrepair.JSONRepair(string(raw))
	if rerr != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	if err := json.Unmarshal([]byte(fixed), &v); err != nil {
		return nil, fmt.Errorf("malformed arguments: %w", err)
	}
	return v, nil
}
