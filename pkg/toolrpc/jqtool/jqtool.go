// Package jqtool builds tools declaratively: a JSON schema for the
// arguments, an optional YAML dataset, and a jq query that computes the
// result from the dataset and the arguments.
//
// A definitions file looks like:
//
//	tools:
//	  - name: menu_lookup
//	    description: Find a menu item by name.
//	    parameters:
//	      type: object
//	      properties:
//	        name: {type: string}
//	      required: [name]
//	    data: menu.yaml
//	    query: '[.items[] | select(.name | ascii_downcase == ($args.name | ascii_downcase))] | first'
//
// The query runs with the dataset as input and the validated arguments
// bound to $args. A query producing several values returns them as an
// array.
package jqtool

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/haivivi/voicebridge/pkg/toolrpc"
	"github.com/itchyny/gojq"
	"gopkg.in/yaml.v3"
)

// Definition declares one tool.
type Definition struct {
	Name        string         `yaml:"name" json:"name"`
	Description string         `yaml:"description" json:"description"`
	Parameters  map[string]any `yaml:"parameters" json:"parameters"`

	// Data is a YAML or JSON file, relative to the definitions file.
	Data string `yaml:"data" json:"data"`

	// Inline is used as the dataset when Data is empty.
	Inline any `yaml:"inline" json:"inline"`

	Query string `yaml:"query" json:"query"`
}

// File is the top level of a definitions file.
type File struct {
	Tools []Definition `yaml:"tools"`
}

// LoadFile reads a definitions file and builds its tools.
func LoadFile(path string) ([]*toolrpc.Tool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("jqtool: %w", err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("jqtool: parse %s: %w", path, err)
	}
	return Build(f.Tools, filepath.Dir(path))
}

// Build builds tools from definitions. Relative data paths are resolved
// against baseDir.
func Build(defs []Definition, baseDir string) ([]*toolrpc.Tool, error) {
	tools := make([]*toolrpc.Tool, 0, len(defs))
	for _, def := range defs {
		t, err := New(def, baseDir)
		if err != nil {
			return nil, err
		}
		tools = append(tools, t)
	}
	return tools, nil
}

// New builds one tool.
func New(def Definition, baseDir string) (*toolrpc.Tool, error) {
	if def.Query == "" {
		return nil, fmt.Errorf("jqtool: tool %q has no query", def.Name)
	}
	query, err := gojq.Parse(def.Query)
	if err != nil {
		return nil, fmt.Errorf("jqtool: tool %q: invalid jq expression: %w", def.Name, err)
	}
	code, err := gojq.Compile(query, gojq.WithVariables([]string{"$args"}))
	if err != nil {
		return nil, fmt.Errorf("jqtool: tool %q: compile: %w", def.Name, err)
	}

	schema, err := toSchema(def.Parameters)
	if err != nil {
		return nil, fmt.Errorf("jqtool: tool %q: %w", def.Name, err)
	}

	dataset := def.Inline
	if def.Data != "" {
		path := def.Data
		if !filepath.IsAbs(path) {
			path = filepath.Join(baseDir, path)
		}
		if dataset, err = loadDataset(path); err != nil {
			return nil, fmt.Errorf("jqtool: tool %q: %w", def.Name, err)
		}
	} else if dataset, err = normalize(dataset); err != nil {
		return nil, fmt.Errorf("jqtool: tool %q: inline data: %w", def.Name, err)
	}

	return toolrpc.NewTool(def.Name, def.Description, schema, func(ctx context.Context, args map[string]any) (any, error) {
		return run(ctx, code, dataset, args)
	})
}

func run(ctx context.Context, code *gojq.Code, input any, args map[string]any) (any, error) {
	iter := code.RunWithContext(ctx, input, args)
	var out []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, ok := v.(error); ok {
			return nil, fmt.Errorf("jq: %w", err)
		}
		out = append(out, v)
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}

func toSchema(params map[string]any) (*jsonschema.Schema, error) {
	if params == nil {
		return nil, nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return nil, err
	}
	var s jsonschema.Schema
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid parameter schema: %w", err)
	}
	return &s, nil
}

func loadDataset(path string) (any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var v any
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return normalize(v)
}

// normalize converts YAML-decoded values into the JSON value model gojq
// expects.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
