package toolrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// ExecuteFunc runs a tool with validated arguments. The result must be
// JSON-serializable.
type ExecuteFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a named, schema-checked backend function.
type Tool struct {
	Name        string
	Description string
	Schema      *jsonschema.Schema
	Execute     ExecuteFunc

	resolved *jsonschema.Resolved
}

// NewTool builds a tool from an explicit parameter schema. A nil schema
// accepts any object.
func NewTool(name, description string, schema *jsonschema.Schema, execute ExecuteFunc) (*Tool, error) {
	if name == "" {
		return nil, errors.New("toolrpc: tool name is required")
	}
	if execute == nil {
		return nil, fmt.Errorf("toolrpc: tool %q has no execute function", name)
	}
	if schema == nil {
		schema = &jsonschema.Schema{Type: "object"}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("toolrpc: tool %q: resolve schema: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		Schema:      schema,
		Execute:     execute,
		resolved:    resolved,
	}, nil
}

// NewFuncTool builds a tool whose schema is inferred from the argument
// type T.
func NewFuncTool[T any](name, description string, fn func(ctx context.Context, args T) (any, error)) (*Tool, error) {
	schema, err := jsonschema.For[T](&jsonschema.ForOptions{})
	if err != nil {
		return nil, fmt.Errorf("toolrpc: tool %q: infer schema: %w", name, err)
	}
	return NewTool(name, description, schema, func(ctx context.Context, args map[string]any) (any, error) {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode arguments: %w", err)
		}
		return fn(ctx, v)
	})
}

// MustNewFuncTool is like NewFuncTool but panics on error.
func MustNewFuncTool[T any](name, description string, fn func(ctx context.Context, args T) (any, error)) *Tool {
	t, err := NewFuncTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Validate checks decoded arguments against the tool's schema.
func (t *Tool) Validate(args any) error {
	if _, ok := args.(map[string]any); !ok {
		return &ValidationError{Tool: t.Name, Err: errors.New("arguments must be a JSON object")}
	}
	if err := t.resolved.Validate(args); err != nil {
		return &ValidationError{Tool: t.Name, Err: err}
	}
	return nil
}

// Descriptor is the introspection view of a tool.
type Descriptor struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Schema      *jsonschema.Schema `json:"schema,omitempty"`
}
