package config

import (
	"fmt"
	"regexp"

	"gopkg.in/yaml.v3"
)

const (
	DefaultInput  = `\.md$`
	DefaultOutput = "{{dir}}/{{name}}.{{format}}"
)

// Sections holds the order-sensitive parts of a configuration file.
type Sections struct {
	Rules RuleDefinitions `yaml:"rules"`
	Tasks TaskDefinitions `yaml:"tasks"`
}

// Parse decodes the rules and tasks sections of a YAML document.
func Parse(data []byte) (*Sections, error) {
	var sections Sections
	if err := yaml.Unmarshal(data, &sections); err != nil {
		return nil, err
	}
	return &sections, nil
}

// RuleDefinition maps an input pattern to a task and a set of output
// variants. Defaults are already applied.
type RuleDefinition struct {
	Name string
	// Pattern is the source of Input.
	Pattern string
	// Input is nil when Pattern does not compile; Validate reports it.
	Input    *regexp.Regexp
	Task     string
	Output   string
	Variants Variants
}

// Variant is one named output format of a rule definition.
type Variant struct {
	Name   string
	Format string
}

// RuleDefinitions keeps rule definitions in file order.
type RuleDefinitions []RuleDefinition

// Variants keeps variants in file order.
type Variants []Variant

type rawRule struct {
	Input    *string  `yaml:"input"`
	Task     string   `yaml:"task"`
	Output   *string  `yaml:"output"`
	Variants Variants `yaml:"variants"`
}

// NewRuleDefinition applies defaults and compiles the input pattern.
func NewRuleDefinition(name, pattern, task, output string, variants ...Variant) RuleDefinition {
	if pattern == "" {
		pattern = DefaultInput
	}
	if output == "" {
		output = DefaultOutput
	}
	return newRule(name, pattern, task, output, variants)
}

func newRule(name, pattern, task, output string, variants Variants) RuleDefinition {
	input, _ := regexp.Compile(pattern)
	return RuleDefinition{
		Name:     name,
		Pattern:  pattern,
		Input:    input,
		Task:     task,
		Output:   output,
		Variants: variants,
	}
}

// UnmarshalYAML decodes a mapping of rule name to definition.
func (r *RuleDefinitions) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: rules must be a mapping of rule name to rule", node.Line)
	}

	defs := make(RuleDefinitions, 0, len(node.Content)/2)
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		if seen[name] {
			return fmt.Errorf("line %d: rule %q defined twice", node.Content[i].Line, name)
		}
		seen[name] = true

		var raw rawRule
		if err := node.Content[i+1].Decode(&raw); err != nil {
			return fmt.Errorf("rule %q: %w", name, err)
		}

		// Defaults only fill absent keys. An explicit empty input matches
		// every path.
		pattern, output := DefaultInput, DefaultOutput
		if raw.Input != nil {
			pattern = *raw.Input
		}
		if raw.Output != nil {
			output = *raw.Output
		}
		defs = append(defs, newRule(name, pattern, raw.Task, output, raw.Variants))
	}

	*r = defs
	return nil
}

// UnmarshalYAML decodes a mapping of variant name to format.
func (v *Variants) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: variants must be a mapping of variant name to format", node.Line)
	}

	variants := make(Variants, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, value := node.Content[i], node.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: format of variant %q must be a string", value.Line, key.Value)
		}
		variants = append(variants, Variant{Name: key.Value, Format: value.Value})
	}

	*v = variants
	return nil
}

// TaskDefinition is a named shell or process command rules can refer to.
type TaskDefinition struct {
	Label          string             `yaml:"label"`
	Type           string             `yaml:"type"`
	Command        string             `yaml:"command"`
	Args           []string           `yaml:"args"`
	Options        TaskOptions        `yaml:"options"`
	ProblemMatcher []string           `yaml:"problemMatcher"`
	Presentation   PresentationConfig `yaml:"presentation"`
	Group          string             `yaml:"group"`
}

type TaskOptions struct {
	Cwd   string            `yaml:"cwd"`
	Env   map[string]string `yaml:"env"`
	Shell *ShellConfig      `yaml:"shell"`
}

type ShellConfig struct {
	Executable string   `yaml:"executable"`
	Args       []string `yaml:"args"`
}

type PresentationConfig struct {
	Echo   bool   `yaml:"echo"`
	Reveal string `yaml:"reveal"`
}

// TaskDefinitions keeps task definitions in file order. Several tasks may
// share a label.
type TaskDefinitions []TaskDefinition

// UnmarshalYAML accepts either a mapping of label to task or a sequence of
// tasks carrying their own label.
func (t *TaskDefinitions) UnmarshalYAML(node *yaml.Node) error {
	var defs TaskDefinitions

	switch node.Kind {
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			var def TaskDefinition
			if err := node.Content[i+1].Decode(&def); err != nil {
				return fmt.Errorf("task %q: %w", node.Content[i].Value, err)
			}
			def.Label = node.Content[i].Value
			defs = append(defs, def.withDefaults())
		}
	case yaml.SequenceNode:
		for _, item := range node.Content {
			var def TaskDefinition
			if err := item.Decode(&def); err != nil {
				return fmt.Errorf("line %d: %w", item.Line, err)
			}
			defs = append(defs, def.withDefaults())
		}
	default:
		return fmt.Errorf("line %d: tasks must be a mapping or a list", node.Line)
	}

	*t = defs
	return nil
}

func (d TaskDefinition) withDefaults() TaskDefinition {
	if d.Type == "" {
		d.Type = "shell"
	}
	return d
}

// Find returns the rule definition called name.
func (r RuleDefinitions) Find(name string) (RuleDefinition, bool) {
	for _, def := range r {
		if def.Name == name {
			return def, true
		}
	}
	return RuleDefinition{}, false
}
