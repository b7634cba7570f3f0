package cmd

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// StandardFlags provides consistent flag definitions across commands
type StandardFlags struct {
	// Server flags
	Port   int    `flag:"port,p" desc:"Port to serve on" default:"7337"`
	Host   string `flag:"host" desc:"Host to bind to" default:"localhost"`
	NoOpen bool   `flag:"no-open" desc:"Don't open the browser, print viewer URLs instead" default:"false"`

	// Rule flags
	Rule string `flag:"rule,r" desc:"Rule label to use when several rules match" default:""`

	// Output flags
	OutputFormat string `flag:"output,o" desc:"Output format (table|json)" default:"table"`
}

// AddStandardFlags adds standard flags to a command
func AddStandardFlags(cmd *cobra.Command, flagTypes ...string) *StandardFlags {
	flags := &StandardFlags{}

	for _, flagType := range flagTypes {
		switch flagType {
		case "server":
			addServerFlags(cmd, flags)
		case "rule":
			addRuleFlags(cmd, flags)
		case "output":
			addOutputFlags(cmd, flags)
		}
	}

	return flags
}

func addServerFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().IntVarP(&flags.Port, "port", "p", 7337, "Port to serve on (0 picks a free port)")
	cmd.Flags().StringVar(&flags.Host, "host", "localhost", "Host to bind to")
	cmd.Flags().BoolVar(&flags.NoOpen, "no-open", false, "Don't open the browser, print viewer URLs instead")
	AddFlagValidation(cmd, "port", ValidatePort)
}

func addRuleFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.Rule, "rule", "r", "", `Rule label to use when several rules match, e.g. "pandoc: pdf"`)
}

func addOutputFlags(cmd *cobra.Command, flags *StandardFlags) {
	cmd.Flags().StringVarP(&flags.OutputFormat, "output", "o", "table", "Output format (table|json)")
	AddFlagValidation(cmd, "output", func(format string) error {
		return ValidateChoice(format, []string{"table", "json"})
	})
}

// serverBindings maps server flags to configuration keys.
var serverBindings = map[string]string{
	"port": "server.port",
	"host": "server.host",
}

// SetViperBindings binds flags to viper configuration keys. Commands call it
// when they run so that several commands can share configuration keys.
func SetViperBindings(cmd *cobra.Command, bindings map[string]string) error {
	for flagName, configKey := range bindings {
		if flag := cmd.Flags().Lookup(flagName); flag != nil {
			if err := viper.BindPFlag(configKey, flag); err != nil {
				return fmt.Errorf("binding --%s: %w", flagName, err)
			}
		}
	}
	return nil
}

// AddFlagValidation adds validation for a specific flag
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0, which picks a free port, and 1-65535.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}

// ValidateChoice accepts one of choices.
func ValidateChoice(value string, choices []string) error {
	for _, c := range choices {
		if value == c {
			return nil
		}
	}
	return fmt.Errorf("invalid value %q, must be one of: %s", value, strings.Join(choices, ", "))
}

// ValidateFileExists checks that a source argument names a regular file.
func ValidateFileExists(filename string) error {
	info, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", filename)
	}
	return nil
}

// fileArg requires exactly one argument naming an existing file.
func fileArg(cmd *cobra.Command, args []string) error {
	if err := cobra.ExactArgs(1)(cmd, args); err != nil {
		return err
	}
	return ValidateFileExists(args[0])
}
