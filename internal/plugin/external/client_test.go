package external

import (
	"testing"

	"github.com/toolgate/toolgate/internal/plugin"
)

func TestMergeConfig(t *testing.T) {
	t.Parallel()

	mcpSection := &plugin.ExternalConfig{Proto: "streamablehttp", URL: "http://host/mcp"}
	remote := plugin.Config{
		Name:           "remote-name",
		Kind:           "native",
		Description:    "guards tool calls",
		Hooks:          []plugin.HookType{plugin.HookToolPreInvoke, plugin.HookToolPostInvoke},
		Mode:           plugin.ModeEnforce,
		Priority:       40,
		TimeoutSeconds: 10,
		Config:         map[string]any{"threshold": 3, "shared": "remote"},
	}

	tests := []struct {
		name  string
		local plugin.Config
		check func(t *testing.T, got plugin.Config)
	}{
		{
			name:  "remote is the base",
			local: plugin.Config{Name: "guard", Kind: plugin.ExternalKind, MCP: mcpSection},
			check: func(t *testing.T, got plugin.Config) {
				if got.Name != "guard" {
					t.Errorf("Name = %q, want local %q", got.Name, "guard")
				}
				if got.Kind != plugin.ExternalKind {
					t.Errorf("Kind = %q, want local %q", got.Kind, plugin.ExternalKind)
				}
				if got.MCP != mcpSection {
					t.Error("MCP section not kept from local entry")
				}
				if len(got.Hooks) != 2 {
					t.Errorf("Hooks = %v, want remote hook list", got.Hooks)
				}
				if got.Priority != 40 {
					t.Errorf("Priority = %d, want remote 40", got.Priority)
				}
				if got.TimeoutSeconds != 10 {
					t.Errorf("TimeoutSeconds = %d, want remote 10", got.TimeoutSeconds)
				}
				if got.Description != "guards tool calls" {
					t.Errorf("Description = %q, want remote metadata", got.Description)
				}
			},
		},
		{
			name: "local overrides win when set",
			local: plugin.Config{
				Name:           "guard",
				Kind:           plugin.ExternalKind,
				MCP:            mcpSection,
				Hooks:          []plugin.HookType{plugin.HookToolPreInvoke},
				Mode:           plugin.ModePermissive,
				Priority:       5,
				TimeoutSeconds: 2,
				Conditions:     []plugin.Condition{{Tools: []string{"calc"}}},
			},
			check: func(t *testing.T, got plugin.Config) {
				if len(got.Hooks) != 1 || got.Hooks[0] != plugin.HookToolPreInvoke {
					t.Errorf("Hooks = %v, want local subset", got.Hooks)
				}
				if got.Mode != plugin.ModePermissive {
					t.Errorf("Mode = %q, want local %q", got.Mode, plugin.ModePermissive)
				}
				if got.Priority != 5 {
					t.Errorf("Priority = %d, want local 5", got.Priority)
				}
				if got.TimeoutSeconds != 2 {
					t.Errorf("TimeoutSeconds = %d, want local 2", got.TimeoutSeconds)
				}
				if len(got.Conditions) != 1 {
					t.Errorf("Conditions = %v, want local conditions", got.Conditions)
				}
			},
		},
		{
			name: "config keys overlay remote",
			local: plugin.Config{
				Name:   "guard",
				Kind:   plugin.ExternalKind,
				MCP:    mcpSection,
				Config: map[string]any{"shared": "local", "extra": true},
			},
			check: func(t *testing.T, got plugin.Config) {
				if got.Config["shared"] != "local" {
					t.Errorf("Config[shared] = %v, want local value", got.Config["shared"])
				}
				if got.Config["extra"] != true {
					t.Errorf("Config[extra] = %v, want true", got.Config["extra"])
				}
				if got.Config["threshold"] != 3 {
					t.Errorf("Config[threshold] = %v, want remote value kept", got.Config["threshold"])
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			tt.check(t, mergeConfig(tt.local, remote))
		})
	}
}
