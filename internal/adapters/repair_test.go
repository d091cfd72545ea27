package adapters

import "testing"

func TestRepairJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantKey string
		wantVal any
		wantErr bool
	}{
		{name: "valid", raw: `{"path":"main.go"}`, wantKey: "path", wantVal: "main.go"},
		{name: "empty yields empty map", raw: ""},
		{name: "whitespace only", raw: "  \n "},
		{name: "trailing garbage", raw: `{"path":"main.go"}}}`, wantKey: "path", wantVal: "main.go"},
		{name: "truncated tail salvage", raw: `{"path":"main.go"} extra text`, wantKey: "path", wantVal: "main.go"},
		{name: "unrepairable", raw: `{"path": "ma`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := repairJSON(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("expected non-nil map")
			}
			if tt.wantKey != "" && got[tt.wantKey] != tt.wantVal {
				t.Errorf("got[%q] = %v, want %v", tt.wantKey, got[tt.wantKey], tt.wantVal)
			}
		})
	}
}
