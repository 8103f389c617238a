package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadArgs reads tool arguments from a YAML or JSON file. A path of "-"
// reads stdin.
func LoadArgs(path string) (map[string]any, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read arguments: %w", err)
	}
	return ParseArgs(data, path)
}

// ParseArgs parses an argument object. The file extension picks the
// decoder; without one JSON is tried first, then YAML.
func ParseArgs(data []byte, filename string) (map[string]any, error) {
	var args map[string]any
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &args); err != nil {
			return nil, fmt.Errorf("failed to parse JSON: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &args); err != nil {
			if err := yaml.Unmarshal(data, &args); err != nil {
				return nil, fmt.Errorf("failed to parse arguments (tried JSON and YAML)")
			}
		}
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
