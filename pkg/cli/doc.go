// Package cli holds the terminal helpers shared by voicebridge commands:
// yaml/json/table output, lipgloss styling for status views, and loading
// tool arguments from YAML or JSON files.
package cli
