package plugin

import (
	"fmt"
	"os"
	"regexp"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// envRef matches ${VAR} references in the raw configuration document.
var envRef = regexp.MustCompile(`\$\{(\w+)\}`)

// expandEnv substitutes ${VAR} references with environment values before
// parsing. Unset variables expand to the empty string. Plain $ characters
// are left alone so regex-heavy plugin configs survive untouched.
func expandEnv(raw []byte) []byte {
	return envRef.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := envRef.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

// LoadConfigFile reads, env-expands, parses, normalizes, and validates a
// plugin configuration document. Any problem is a configuration error; the
// manager never starts on a partially-valid document.
func LoadConfigFile(path string) (*ConfigFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plugin config: %w", err)
	}
	return ParseConfig(raw)
}

// ParseConfig parses a raw plugin configuration document.
func ParseConfig(raw []byte) (*ConfigFile, error) {
	var cf ConfigFile
	if err := yaml.Unmarshal(expandEnv(raw), &cf); err != nil {
		return nil, fmt.Errorf("parse plugin config: %w", err)
	}
	cf.normalize()
	if err := cf.Validate(); err != nil {
		return nil, err
	}
	return &cf, nil
}

// normalize applies defaults the schema leaves optional.
func (f *ConfigFile) normalize() {
	for i := range f.Plugins {
		if f.Plugins[i].Mode == "" {
			f.Plugins[i].Mode = ModeEnforce
		}
	}
	if f.Settings.PluginTimeoutSeconds == 0 {
		f.Settings.PluginTimeoutSeconds = DefaultTimeoutSeconds
	}
}

// Validate checks the document with struct tags plus cross-entry rules the
// tags cannot express (unique names, external transport coherence).
func (f *ConfigFile) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.RegisterValidation("hook_type", validateHookType); err != nil {
		return fmt.Errorf("register hook_type validator: %w", err)
	}
	if err := v.Struct(f); err != nil {
		return fmt.Errorf("plugin config invalid: %w", err)
	}

	seen := make(map[string]bool, len(f.Plugins))
	for i := range f.Plugins {
		pc := &f.Plugins[i]
		if seen[pc.Name] {
			return fmt.Errorf("duplicate plugin name %q", pc.Name)
		}
		seen[pc.Name] = true

		if pc.Kind == ExternalKind {
			if pc.MCP == nil {
				return fmt.Errorf("plugin %q: kind %q requires an mcp section", pc.Name, ExternalKind)
			}
			switch pc.MCP.Proto {
			case "stdio":
				if pc.MCP.Command == "" {
					return fmt.Errorf("plugin %q: stdio transport requires command", pc.Name)
				}
			case "streamablehttp":
				if pc.MCP.URL == "" {
					return fmt.Errorf("plugin %q: streamablehttp transport requires url", pc.Name)
				}
			}
		} else if len(pc.Hooks) == 0 {
			// External plugins may inherit hooks from the remote host's
			// configuration; local plugins must declare theirs.
			return fmt.Errorf("plugin %q declares no hooks", pc.Name)
		}
	}
	return nil
}

// ExternalKind is the kind identifier for plugins that run out of process,
// reached through an MCP plugin host. The factory is registered by the
// external package.
const ExternalKind = "external"

// validateHookType is the struct-tag validator for hook type fields.
func validateHookType(fl validator.FieldLevel) bool {
	return HookType(fl.Field().String()).Valid()
}
