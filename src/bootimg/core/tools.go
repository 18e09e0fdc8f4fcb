package core

import (
	"context"
	"sort"
	"strconv"

	"github.com/bitswalk/bootimg/src/bootimg/build"
	"github.com/bitswalk/bootimg/src/bootimg/devicetree"
	"github.com/bitswalk/bootimg/src/bootimg/kconfig"
	"github.com/bitswalk/bootimg/src/bootimg/output"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
	"github.com/spf13/cobra"
)

var patchConfigCmd = &cobra.Command{
	Use:   "patch-config <config-file>",
	Short: "Switch a PetaLinux system configuration to an EXT4 SD root",
	Long: `Applies the root filesystem rules to a project-spec/configs/config file
in place and verifies the result. No toolchain is needed.`,
	Args: cobra.ExactArgs(1),
	RunE: runPatchConfig,
}

var fixDTBCmd = &cobra.Command{
	Use:   "fix-dtb <system.dtb>",
	Short: "Rewrite the legacy IIC compatible string in a device tree blob",
	Long: `Decompiles the blob with dtc, substitutes the compatible string and
recompiles it in place. dtc is taken from PATH, or from the toolchain
environment when --toolchain-settings is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runFixDTB,
}

func init() {
	patchConfigCmd.Flags().String("root-device", kconfig.DefaultRootDevice, "Block device holding the EXT4 root filesystem")

	fixDTBCmd.Flags().String("legacy", devicetree.DefaultLegacyCompatible, "Compatible string to replace")
	fixDTBCmd.Flags().String("replacement", devicetree.DefaultCompatible, "Compatible string to substitute")
	fixDTBCmd.Flags().String("toolchain-settings", "", "PetaLinux settings.sh to source before running dtc")
}

func runPatchConfig(cmd *cobra.Command, args []string) error {
	path, err := paths.Resolve(args[0])
	if err != nil {
		return errors.ErrInvalidFieldValue.WithCause(err)
	}
	rootDevice, _ := cmd.Flags().GetString("root-device")

	result, err := build.PatchConfig(path, kconfig.Options{RootDevice: rootDevice})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch outputFormat {
	case output.FormatJSON:
		return output.PrintJSON(w, result)
	case output.FormatYAML:
		return output.PrintYAML(w, result)
	}

	names := make([]string, 0, len(result.Changes))
	for name := range result.Changes {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([][]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, []string{name, strconv.Itoa(result.Changes[name])})
	}
	output.PrintTable(w, []string{"RULE", "LINES CHANGED"}, rows)
	return nil
}

func runFixDTB(cmd *cobra.Command, args []string) error {
	blob, err := paths.Resolve(args[0])
	if err != nil {
		return errors.ErrInvalidFieldValue.WithCause(err)
	}

	legacy, _ := cmd.Flags().GetString("legacy")
	replacement, _ := cmd.Flags().GetString("replacement")
	settings, _ := cmd.Flags().GetString("toolchain-settings")
	if settings != "" {
		if settings, err = paths.Resolve(settings); err != nil {
			return errors.ErrInvalidFieldValue.WithCause(err)
		}
		if !paths.IsFile(settings) {
			return errors.ErrToolchainInvalid.WithMessagef("toolchain settings %s not found", settings)
		}
	}

	host := build.NewHostExecutor(cmd.ErrOrStderr())
	dtc := devicetree.NewDTC(func(ctx context.Context, argv []string) error {
		return host.Run(ctx, build.RunOpts{Command: argv, Source: settings})
	})

	sub := devicetree.Substitution{Legacy: legacy, Replacement: replacement}
	result, err := devicetree.NewRewriter(dtc, sub).Rewrite(cmd.Context(), blob)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	switch outputFormat {
	case output.FormatJSON:
		return output.PrintJSON(w, result)
	case output.FormatYAML:
		return output.PrintYAML(w, result)
	}

	output.PrintTable(w, []string{"FIELD", "VALUE"}, [][]string{
		{"Blob", result.BlobPath},
		{"Source", result.SourcePath},
		{"Replaced", strconv.Itoa(result.Replaced)},
		{"SHA256", result.Digest},
	})
	return nil
}
