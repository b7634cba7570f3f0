package config

import (
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if err := c.Viewer.Validate(); err != nil {
		return fmt.Errorf("viewer: %w", err)
	}
	for i := range c.Rules {
		if err := c.Rules[i].Validate(); err != nil {
			return fmt.Errorf("rules.%s: %w", c.Rules[i].Name, err)
		}
	}
	for i := range c.Tasks {
		if err := c.Tasks[i].Validate(); err != nil {
			return fmt.Errorf("tasks[%d]: %w", i, err)
		}
	}
	return nil
}

// Validate validates the server configuration.
func (c *ServerConfig) Validate() error {
	return validation.ValidateStruct(c,
		// 0 lets the system pick a port
		validation.Field(&c.Port, validation.Min(0), validation.Max(65535)),
		validation.Field(&c.Host, validation.By(noShellMeta)),
		validation.Field(&c.BuildLimit, validation.Min(0)),
	)
}

// Validate validates the log configuration.
func (c *LogConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Level, validation.In("", "debug", "info", "warn", "warning", "error")),
		validation.Field(&c.Format, validation.In("", "text", "json")),
	)
}

// Validate validates the viewer configuration.
func (c *ViewerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Debounce, validation.Min(time.Duration(0))),
	)
}

// Validate checks that a rule definition can be matched and expanded. An
// empty input pattern matches every path; an empty output is rejected.
func (d *RuleDefinition) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Name, validation.Required),
		validation.Field(&d.Pattern, validation.By(compiles(d))),
		validation.Field(&d.Task, validation.Required),
		validation.Field(&d.Output, validation.Required),
		validation.Field(&d.Variants, validation.Required, validation.By(uniqueVariants)),
	)
}

// Validate validates a task definition. An empty command or a process task
// is accepted here and rejected when a rule resolves the task, so one bad
// task only disables the rules that use it.
func (d *TaskDefinition) Validate() error {
	return validation.ValidateStruct(d,
		validation.Field(&d.Label, validation.Required),
		validation.Field(&d.Type, validation.Required, validation.In("shell", "process")),
	)
}

func compiles(d *RuleDefinition) validation.RuleFunc {
	return func(value interface{}) error {
		if d.Input == nil {
			return fmt.Errorf("input %q is not a valid regular expression", d.Pattern)
		}
		return nil
	}
}

func uniqueVariants(value interface{}) error {
	variants, _ := value.(Variants)
	seen := make(map[string]bool, len(variants))
	for _, v := range variants {
		if v.Name == "" {
			return fmt.Errorf("variant name must not be empty")
		}
		if seen[v.Name] {
			return fmt.Errorf("variant %q is declared twice", v.Name)
		}
		seen[v.Name] = true
	}
	return nil
}

func noShellMeta(value interface{}) error {
	s, _ := value.(string)
	for _, char := range []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"} {
		if strings.Contains(s, char) {
			return fmt.Errorf("contains dangerous character %s", char)
		}
	}
	return nil
}
