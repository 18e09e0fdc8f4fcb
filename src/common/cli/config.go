// Package cli provides the Cobra and Viper plumbing shared by bootimg commands.
package cli

import (
	"fmt"
	"sort"
	"strings"

	"github.com/bitswalk/bootimg/src/common/logs"
	"github.com/bitswalk/bootimg/src/common/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// ConfigOptions describes where configuration is looked up
type ConfigOptions struct {
	// ConfigFile is an explicit config file path; it disables the search
	ConfigFile string

	// ConfigName is the config file name without extension
	ConfigName string

	// ConfigType is the config file format (yaml, json, toml)
	ConfigType string

	// EnvPrefix maps keys to environment variables: with "BOOTIMG",
	// hw.source is read from BOOTIMG_HW_SOURCE
	EnvPrefix string

	// SearchPaths are searched in order when ConfigFile is empty
	SearchPaths []string
}

// DefaultConfigOptions returns the lookup used by bootimg: /etc/bootimg,
// the user config dir, then the working directory
func DefaultConfigOptions(configName, envPrefix string) ConfigOptions {
	return ConfigOptions{
		ConfigName: configName,
		ConfigType: "yaml",
		EnvPrefix:  envPrefix,
		SearchPaths: []string{
			"/etc/bootimg",
			"$HOME/.config/bootimg",
			".",
		},
	}
}

// InitConfig loads the config file and enables environment overrides.
// A missing config file is not an error; a malformed one is.
func InitConfig(opts ConfigOptions) error {
	if opts.ConfigFile != "" {
		viper.SetConfigFile(paths.Expand(opts.ConfigFile))
	} else {
		viper.SetConfigName(opts.ConfigName)
		viper.SetConfigType(opts.ConfigType)
		for _, p := range opts.SearchPaths {
			viper.AddConfigPath(paths.Expand(p))
		}
	}

	if opts.EnvPrefix != "" {
		viper.SetEnvPrefix(opts.EnvPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
		viper.AutomaticEnv()
	}

	err := viper.ReadInConfig()
	if _, notFound := err.(viper.ConfigFileNotFoundError); err != nil && !notFound {
		return fmt.Errorf("error reading config file: %w", err)
	}
	return nil
}

// RegisterLogFlags registers --log-output and --log-level as persistent
// flags so that every subcommand accepts them
func RegisterLogFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().String("log-output", string(logs.OutputStderr), "Log output destination (stderr, stdout, journald, auto)")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")

	_ = viper.BindPFlag("log.output", cmd.PersistentFlags().Lookup("log-output"))
	_ = viper.BindPFlag("log.level", cmd.PersistentFlags().Lookup("log-level"))

	viper.SetDefault("log.output", string(logs.OutputStderr))
	viper.SetDefault("log.level", "info")
}

// RegisterConfigFlag registers the --config flag on a Cobra command
func RegisterConfigFlag(cmd *cobra.Command, cfgFile *string, defaultPath string) {
	cmd.PersistentFlags().StringVar(cfgFile, "config", "", fmt.Sprintf("config file (default: %s)", defaultPath))
}

// InitLogger creates a logger from the log.* keys and hands it to every
// package logger setter. Call it after InitConfig.
func InitLogger(prefix string, setters ...func(*logs.Logger)) *logs.Logger {
	logger := logs.New(logs.Config{
		Output: logs.LogOutput(viper.GetString("log.output")),
		Level:  viper.GetString("log.level"),
		Prefix: prefix,
	})
	for _, set := range setters {
		set(logger)
	}
	return logger
}

// BindFlag binds a Cobra flag to a Viper config key
func BindFlag(cmd *cobra.Command, flagName, viperKey string) error {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return fmt.Errorf("unknown flag --%s for key %s", flagName, viperKey)
	}
	return viper.BindPFlag(viperKey, flag)
}

// BindFlags binds flag names to Viper keys and reports every flag that
// could not be bound
func BindFlags(cmd *cobra.Command, bindings map[string]string) error {
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Strings(names)

	var failed []string
	for _, name := range names {
		if err := BindFlag(cmd, name, bindings[name]); err != nil {
			failed = append(failed, err.Error())
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to bind flags: %s", strings.Join(failed, "; "))
	}
	return nil
}

// GetExpandedString gets a string from Viper and expands ~ and env vars
func GetExpandedString(key string) string {
	return paths.Expand(viper.GetString(key))
}
