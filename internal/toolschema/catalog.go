// Package toolschema is the static, backend-independent catalog of the
// developer tools a model may invoke. The catalog is the single source of
// truth for tool names, parameter schemas, and the approval policy; adapters
// render it into their backend's wire shape.
package toolschema

import (
	"fmt"
	"strings"
)

// Param describes one parameter of a tool.
type Param struct {
	Name        string
	Type        string // JSON Schema type: "string" | "integer" | "boolean"
	Description string
	Required    bool
}

// Definition describes one tool: its identity, parameters, and whether a call
// must be approved externally before it runs.
type Definition struct {
	Name             string
	Description      string
	Params           []Param
	RequiresApproval bool
}

// Catalog returns the full tool set in declaration order. Mutating tools
// (edit_file, create_file) require approval; everything else is read-only and
// auto-approved by the tool executor.
func Catalog() []Definition {
	return []Definition{
		{
			Name:        "read_file",
			Description: "Read the contents of a file at the given path.",
			Params: []Param{
				{Name: "path", Type: "string", Description: "The file path to read", Required: true},
				{Name: "start_line", Type: "integer", Description: "First line to include (1-based)"},
				{Name: "end_line", Type: "integer", Description: "Last line to include (1-based)"},
			},
		},
		{
			Name:             "edit_file",
			Description:      "Replace an exact text fragment in an existing file. The old text must match exactly once.",
			RequiresApproval: true,
			Params: []Param{
				{Name: "path", Type: "string", Description: "The file path to edit", Required: true},
				{Name: "old_text", Type: "string", Description: "Exact text to replace", Required: true},
				{Name: "new_text", Type: "string", Description: "Replacement text", Required: true},
			},
		},
		{
			Name:             "create_file",
			Description:      "Create a new file with the given content. Parent directories are created as needed.",
			RequiresApproval: true,
			Params: []Param{
				{Name: "path", Type: "string", Description: "The file path to create", Required: true},
				{Name: "content", Type: "string", Description: "Full file content", Required: true},
			},
		},
		{
			Name:        "list_files",
			Description: "List files and directories under a path.",
			Params: []Param{
				{Name: "path", Type: "string", Description: "Directory to list; defaults to the project root"},
				{Name: "recursive", Type: "boolean", Description: "Descend into subdirectories"},
			},
		},
		{
			Name:        "search_files",
			Description: "Search file contents for a text query and return matching lines.",
			Params: []Param{
				{Name: "query", Type: "string", Description: "Text to search for", Required: true},
				{Name: "path", Type: "string", Description: "Directory to search; defaults to the project root"},
				{Name: "case_sensitive", Type: "boolean", Description: "Match case exactly"},
			},
		},
		{
			Name:        "find_files",
			Description: "Find files whose names match a glob pattern.",
			Params: []Param{
				{Name: "pattern", Type: "string", Description: "Glob pattern, e.g. \"*.go\"", Required: true},
				{Name: "path", Type: "string", Description: "Directory to search; defaults to the project root"},
			},
		},
		{
			Name:        "find_definition",
			Description: "Locate where a code symbol (function, type, class) is defined.",
			Params: []Param{
				{Name: "symbol", Type: "string", Description: "Symbol name to locate", Required: true},
				{Name: "language", Type: "string", Description: "Restrict the search to one language"},
			},
		},
		{
			Name:        "find_importers",
			Description: "List the files that import or reference a given module or file.",
			Params: []Param{
				{Name: "module", Type: "string", Description: "Module path or file to find importers of", Required: true},
			},
		},
	}
}

// Find returns the definition for name, or nil when the tool is unknown.
func Find(name string) *Definition {
	for _, d := range Catalog() {
		if d.Name == name {
			def := d
			return &def
		}
	}
	return nil
}

// RequiresApproval reports whether name is a mutating tool that needs external
// approval. Unknown tools require approval.
func RequiresApproval(name string) bool {
	d := Find(name)
	if d == nil {
		return true
	}
	return d.RequiresApproval
}

// InputSchema renders the definition's parameters as a JSON Schema object.
func (d Definition) InputSchema() map[string]any {
	props := make(map[string]any, len(d.Params))
	var required []string
	for _, p := range d.Params {
		props[p.Name] = map[string]any{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Required {
			required = append(required, p.Name)
		}
	}
	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// FlatDefinitions renders the catalog with the schema embedded directly on the
// tool object ({name, description, input_schema}).
func FlatDefinitions() []map[string]any {
	defs := Catalog()
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]any{
			"name":         d.Name,
			"description":  d.Description,
			"input_schema": d.InputSchema(),
		})
	}
	return out
}

// FunctionDefinitions renders the catalog with the schema nested under a
// function wrapper ({type: "function", function: {name, description,
// parameters}}). Content-identical to FlatDefinitions.
func FunctionDefinitions() []map[string]any {
	defs := Catalog()
	out := make([]map[string]any, 0, len(defs))
	for _, d := range defs {
		out = append(out, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        d.Name,
				"description": d.Description,
				"parameters":  d.InputSchema(),
			},
		})
	}
	return out
}

// SystemPrompt returns the tool-usage guidance appended to the system prompt
// when tools are enabled for a turn.
func SystemPrompt() string {
	var sb strings.Builder
	sb.WriteString("You can use the following tools to inspect and modify the project:\n\n")
	for _, d := range Catalog() {
		mark := ""
		if d.RequiresApproval {
			mark = " (requires user approval)"
		}
		sb.WriteString(fmt.Sprintf("- %s%s: %s\n", d.Name, mark, d.Description))
	}
	sb.WriteString("\nRead-only tools run immediately. Tools that modify files ")
	sb.WriteString("are held for user approval before they run. Prefer reading ")
	sb.WriteString("and searching before editing, and make one change per edit_file call.")
	return sb.String()
}
