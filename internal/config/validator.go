package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validate checks the configuration using struct tags plus cross-field rules
// the tags cannot express. Returns actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if c.Upstream.HTTP != "" && c.Upstream.Command != "" {
		return errors.New("upstream: specify http OR command, not both")
	}

	// The plugin document path must exist when set; a typo here would
	// silently start the gateway with no interception at all.
	if p := c.Plugins.ConfigPath; p != "" {
		if _, err := os.Stat(p); err != nil {
			return fmt.Errorf("plugins.config_path: %w", err)
		}
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return errors.New("audit.path is required when audit is enabled")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
