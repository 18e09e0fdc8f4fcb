// Package core provides the bootimg command tree.
package core

import (
	"fmt"
	"os"

	"github.com/bitswalk/bootimg/src/bootimg/build"
	"github.com/bitswalk/bootimg/src/bootimg/db/migrations"
	"github.com/bitswalk/bootimg/src/bootimg/devicetree"
	"github.com/bitswalk/bootimg/src/bootimg/fetch"
	"github.com/bitswalk/bootimg/src/bootimg/output"
	"github.com/bitswalk/bootimg/src/common/cli"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/logs"
	"github.com/bitswalk/bootimg/src/common/version"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	// VersionInfo holds version information - set at build time via ldflags
	VersionInfo = version.New()

	// Global logger instance
	log = logs.NewDefault()

	// Configuration file path
	cfgFile string

	// Output format for listing commands (table, json, yaml)
	outputFormat string
)

// Linker variables - set via ldflags at build time
var (
	Version        = "dev"
	ReleaseVersion = "0.0.0"
	BuildDate      = "unknown"
	GitCommit      = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "bootimg",
	Short: "PetaLinux boot image builder",
	Long: `bootimg builds a flashable BOOT.BIN for Zynq UltraScale+ boards.

It stages a hardware description and a PetaLinux installation, creates a
project, switches the root filesystem to EXT4 on the SD card, builds the
boot components, rewrites the device tree and packages the boot image.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}
		return initConfig()
	},
}

// Execute runs the root command and exits with the status of the error
func Execute() {
	VersionInfo.Set(Version, ReleaseVersion, BuildDate, GitCommit)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(errors.GetExitCode(err))
	}
}

func init() {
	cli.RegisterConfigFlag(rootCmd, &cfgFile, "~/.config/bootimg/bootimg.yaml")
	cli.RegisterLogFlags(rootCmd)

	rootCmd.PersistentFlags().String("history-db", "~/.bootimg/history.db", "Build history database (empty disables history)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", output.FormatTable, "Output format: table, json, yaml")

	_ = viper.BindPFlag("history.path", rootCmd.PersistentFlags().Lookup("history-db"))
	viper.SetDefault("history.path", "~/.bootimg/history.db")

	rootCmd.AddCommand(buildCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(patchConfigCmd)
	rootCmd.AddCommand(fixDTBCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables if set
func initConfig() error {
	opts := cli.DefaultConfigOptions("bootimg", "BOOTIMG")
	opts.ConfigFile = cfgFile

	if err := cli.InitConfig(opts); err != nil {
		return errors.ErrInvalidFieldValue.WithMessage("invalid configuration").WithCause(err)
	}
	if !output.ValidFormat(outputFormat) {
		return errors.ErrInvalidFieldValue.WithMessagef("unsupported output format %q", outputFormat)
	}

	log = cli.InitLogger("bootimg",
		build.SetLogger,
		fetch.SetLogger,
		devicetree.SetLogger,
		migrations.SetLogger,
	)

	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := cmd.OutOrStdout()
		switch outputFormat {
		case output.FormatJSON:
			return output.PrintJSON(w, VersionInfo)
		case output.FormatYAML:
			return output.PrintYAML(w, VersionInfo)
		}
		fmt.Fprintln(w, VersionInfo.Full())
		return nil
	},
}
