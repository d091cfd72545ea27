package toolschema

import (
	"reflect"
	"strings"
	"testing"
)

var wantTools = []string{
	"read_file", "edit_file", "create_file", "list_files",
	"search_files", "find_files", "find_definition", "find_importers",
}

func TestCatalog_Complete(t *testing.T) {
	defs := Catalog()
	if len(defs) != len(wantTools) {
		t.Fatalf("catalog has %d tools, want %d", len(defs), len(wantTools))
	}
	for i, d := range defs {
		if d.Name != wantTools[i] {
			t.Errorf("tool %d = %q, want %q", i, d.Name, wantTools[i])
		}
		if d.Description == "" {
			t.Errorf("tool %q has no description", d.Name)
		}
	}
}

func TestApprovalPolicy(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"read_file", false},
		{"edit_file", true},
		{"create_file", true},
		{"list_files", false},
		{"search_files", false},
		{"find_files", false},
		{"find_definition", false},
		{"find_importers", false},
		{"rm_rf", true}, // unknown tools always require approval
	}
	for _, tt := range tests {
		if got := RequiresApproval(tt.name); got != tt.want {
			t.Errorf("RequiresApproval(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

// The two serializations must carry identical tool sets, descriptions, and
// parameter schemas; only the envelope differs.
func TestSerializationParity(t *testing.T) {
	flat := FlatDefinitions()
	fn := FunctionDefinitions()

	if len(flat) != len(fn) {
		t.Fatalf("flat has %d entries, function has %d", len(flat), len(fn))
	}

	for i := range flat {
		wrapped, ok := fn[i]["function"].(map[string]any)
		if !ok {
			t.Fatalf("entry %d: missing function wrapper", i)
		}
		if fn[i]["type"] != "function" {
			t.Errorf("entry %d: type = %v", i, fn[i]["type"])
		}

		if flat[i]["name"] != wrapped["name"] {
			t.Errorf("entry %d: name mismatch %v vs %v", i, flat[i]["name"], wrapped["name"])
		}
		if flat[i]["description"] != wrapped["description"] {
			t.Errorf("entry %d (%v): description mismatch", i, flat[i]["name"])
		}
		if !reflect.DeepEqual(flat[i]["input_schema"], wrapped["parameters"]) {
			t.Errorf("entry %d (%v): schema mismatch", i, flat[i]["name"])
		}
	}
}

func TestInputSchema_RequiredParams(t *testing.T) {
	d := Find("edit_file")
	if d == nil {
		t.Fatal("edit_file missing from catalog")
	}
	s := d.InputSchema()
	if s["type"] != "object" {
		t.Errorf("schema type = %v", s["type"])
	}
	required, ok := s["required"].([]string)
	if !ok {
		t.Fatalf("required missing: %v", s)
	}
	want := []string{"path", "old_text", "new_text"}
	if !reflect.DeepEqual(required, want) {
		t.Errorf("required = %v, want %v", required, want)
	}

	props := s["properties"].(map[string]any)
	if len(props) != 3 {
		t.Errorf("got %d properties, want 3", len(props))
	}
}

func TestFind_Unknown(t *testing.T) {
	if Find("no_such_tool") != nil {
		t.Error("Find must return nil for unknown tools")
	}
}

func TestSystemPrompt_NamesEveryToolAndApproval(t *testing.T) {
	prompt := SystemPrompt()
	for _, name := range wantTools {
		if !strings.Contains(prompt, name) {
			t.Errorf("system prompt missing tool %q", name)
		}
	}
	if !strings.Contains(prompt, "edit_file (requires user approval)") {
		t.Error("system prompt must mark mutating tools as requiring approval")
	}
	if strings.Contains(prompt, "read_file (requires user approval)") {
		t.Error("read-only tools must not be marked as requiring approval")
	}
}
