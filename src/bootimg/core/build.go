package core

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bitswalk/bootimg/src/bootimg/build"
	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/devicetree"
	"github.com/bitswalk/bootimg/src/bootimg/fetch"
	"github.com/bitswalk/bootimg/src/bootimg/kconfig"
	"github.com/bitswalk/bootimg/src/bootimg/storage"
	"github.com/bitswalk/bootimg/src/common/cli"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/paths"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Build BOOT.BIN",
	Long: `Runs the boot image pipeline: provision, init, configure, components,
devicetree, package and, when enabled, publish.

Sources accept a local path or an http://, https://, s3:// or scp:// URL.
The toolchain source may be a directory or a .tar, .tar.gz or .tar.xz
archive of a PetaLinux installation.`,
	Args: cobra.NoArgs,
	RunE: runBuild,
}

func init() {
	f := buildCmd.Flags()

	f.String("hw-source", "", "Hardware description (.xsa) location")
	f.String("toolchain-source", "", "PetaLinux installation location (directory or archive)")
	f.StringP("workspace", "w", "~/.bootimg/work", "Working directory for staged inputs and the project")

	f.StringP("project-name", "n", "bootimg", "PetaLinux project name")
	f.String("template", build.DefaultTemplate, "PetaLinux platform template")
	f.String("on-existing", string(build.OnExistingFail), "Policy for an existing project directory: fail or clean")

	f.String("root-device", kconfig.DefaultRootDevice, "Block device holding the EXT4 root filesystem")
	f.String("dt-legacy", devicetree.DefaultLegacyCompatible, "Device tree compatible string to replace")
	f.String("dt-replacement", devicetree.DefaultCompatible, "Device tree compatible string to substitute")

	f.String("runtime", string(build.RuntimeHost), "Toolchain runtime: host, podman or docker")
	f.String("image", "", "Container image for podman/docker runtimes")

	f.Bool("publish", false, "Upload BOOT.BIN and its manifest after packaging")
	f.String("publish-prefix", "boot-images", "Key prefix for published artifacts")
	f.String("storage-type", "local", "Storage backend type: 'local' or 's3'")
	f.String("storage-path", "~/.bootimg/artifacts", "Local storage path (for local backend)")

	// S3 flags, shared by s3:// sources and the s3 storage backend
	f.String("s3-endpoint", "", "S3-compatible storage endpoint URL")
	f.String("s3-region", "us-east-1", "S3 region")
	f.String("s3-bucket", "", "S3 bucket for published artifacts")
	f.String("s3-access-key", "", "S3 access key ID")
	f.String("s3-secret-key", "", "S3 secret access key")
	f.Bool("s3-path-style", true, "Use path-style addressing for S3")

	buildFlagBindings := map[string]string{
		"hw-source":        "hw.source",
		"toolchain-source": "toolchain.source",
		"workspace":        "workspace",
		"project-name":     "project.name",
		"template":         "project.template",
		"on-existing":      "project.on_existing",
		"root-device":      "configure.root_device",
		"dt-legacy":        "devicetree.legacy",
		"dt-replacement":   "devicetree.replacement",
		"runtime":          "runtime.type",
		"image":            "runtime.image",
		"publish":          "publish.enabled",
		"publish-prefix":   "publish.prefix",
		"storage-type":     "storage.type",
		"storage-path":     "storage.local.path",
		"s3-endpoint":      "storage.s3.endpoint",
		"s3-region":        "storage.s3.region",
		"s3-bucket":        "storage.s3.bucket",
		"s3-access-key":    "storage.s3.access_key",
		"s3-secret-key":    "storage.s3.secret_key",
		"s3-path-style":    "storage.s3.path_style",
	}
	if err := cli.BindFlags(buildCmd, buildFlagBindings); err != nil {
		panic(err)
	}

	viper.SetDefault("workspace", "~/.bootimg/work")
	viper.SetDefault("project.name", "bootimg")
	viper.SetDefault("project.template", build.DefaultTemplate)
	viper.SetDefault("project.on_existing", string(build.OnExistingFail))
	viper.SetDefault("configure.root_device", kconfig.DefaultRootDevice)
	viper.SetDefault("devicetree.legacy", devicetree.DefaultLegacyCompatible)
	viper.SetDefault("devicetree.replacement", devicetree.DefaultCompatible)
	viper.SetDefault("runtime.type", string(build.RuntimeHost))
	viper.SetDefault("publish.enabled", false)
	viper.SetDefault("publish.prefix", "boot-images")
	viper.SetDefault("storage.type", "local")
	viper.SetDefault("storage.local.path", "~/.bootimg/artifacts")
	viper.SetDefault("storage.s3.region", "us-east-1")
	viper.SetDefault("storage.s3.path_style", true)
}

// buildConfig is the resolved configuration of one build invocation
type buildConfig struct {
	HardwareSource  string
	ToolchainSource string
	Workspace       string
	ProjectName     string
	Template        string
	OnExisting      build.OnExisting
	Kconfig         kconfig.Options
	Substitution    devicetree.Substitution
	Runtime         build.RuntimeType
	Image           string
	HistoryPath     string
	Publish         bool
	PublishPrefix   string
	Storage         storage.Config
}

// loadBuildConfig reads the build configuration from viper and validates it
func loadBuildConfig() (*buildConfig, error) {
	cfg := &buildConfig{
		HardwareSource:  viper.GetString("hw.source"),
		ToolchainSource: viper.GetString("toolchain.source"),
		ProjectName:     viper.GetString("project.name"),
		Template:        viper.GetString("project.template"),
		Kconfig:         kconfig.Options{RootDevice: viper.GetString("configure.root_device")},
		Substitution: devicetree.Substitution{
			Legacy:      viper.GetString("devicetree.legacy"),
			Replacement: viper.GetString("devicetree.replacement"),
		},
		Runtime:       build.RuntimeType(viper.GetString("runtime.type")),
		Image:         viper.GetString("runtime.image"),
		HistoryPath:   cli.GetExpandedString("history.path"),
		Publish:       viper.GetBool("publish.enabled"),
		PublishPrefix: viper.GetString("publish.prefix"),
		Storage:       storageConfig(),
	}

	if cfg.HardwareSource == "" {
		return nil, errors.ErrMissingRequiredField.WithMessage("hardware description source is required (--hw-source or BOOTIMG_HW_SOURCE)")
	}
	if cfg.ToolchainSource == "" {
		return nil, errors.ErrMissingRequiredField.WithMessage("toolchain source is required (--toolchain-source or BOOTIMG_TOOLCHAIN_SOURCE)")
	}
	if err := build.ValidateProjectName(cfg.ProjectName); err != nil {
		return nil, err
	}

	workspace, err := paths.Resolve(viper.GetString("workspace"))
	if err != nil {
		return nil, errors.ErrInvalidFieldValue.WithMessage("invalid workspace").WithCause(err)
	}
	cfg.Workspace = workspace

	onExisting, err := build.ParseOnExisting(viper.GetString("project.on_existing"))
	if err != nil {
		return nil, err
	}
	cfg.OnExisting = onExisting

	if err := cfg.Substitution.Validate(); err != nil {
		return nil, errors.ErrInvalidFieldValue.WithMessage(err.Error())
	}

	valid := false
	for _, r := range build.ValidRuntimes() {
		if cfg.Runtime == r {
			valid = true
		}
	}
	if !valid {
		return nil, errors.ErrInvalidFieldValue.WithMessagef("unsupported runtime %q", cfg.Runtime)
	}
	if cfg.Runtime.IsContainerRuntime() && cfg.Image == "" {
		return nil, errors.ErrMissingRequiredField.WithMessagef("runtime %s requires --image", cfg.Runtime)
	}

	return cfg, nil
}

func storageConfig() storage.Config {
	return storage.Config{
		Type: viper.GetString("storage.type"),
		Local: storage.LocalConfig{
			BasePath: cli.GetExpandedString("storage.local.path"),
		},
		S3: storage.S3Config{
			Endpoint:        viper.GetString("storage.s3.endpoint"),
			Region:          viper.GetString("storage.s3.region"),
			Bucket:          viper.GetString("storage.s3.bucket"),
			AccessKeyID:     viper.GetString("storage.s3.access_key"),
			SecretAccessKey: viper.GetString("storage.s3.secret_key"),
			UsePathStyle:    viper.GetBool("storage.s3.path_style"),
		},
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, err := loadBuildConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stderr := cmd.ErrOrStderr()

	executor, err := build.NewExecutor(cfg.Runtime, cfg.Image, stderr)
	if err != nil {
		return errors.ErrInvalidFieldValue.WithMessage(err.Error())
	}
	if !executor.IsAvailable() {
		return errors.ErrInvalidFieldValue.WithMessagef("runtime %s is not available", cfg.Runtime)
	}

	pipeline, cleanup, err := newPipeline(cfg, executor, stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	sc := &build.StageContext{
		WorkspacePath:   cfg.Workspace,
		HardwareSource:  cfg.HardwareSource,
		ToolchainSource: cfg.ToolchainSource,
		LogWriter:       stderr,
		BuilderVersion:  VersionInfo.Short(),
		Project:         build.NewProject(cfg.Workspace, cfg.ProjectName),
	}

	logBuildPlan(pipeline, executor, sc)

	if err := pipeline.Run(ctx, sc); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run:        %s\n", sc.RunID)
	fmt.Fprintf(out, "Boot image: %s\n", sc.BootImagePath)
	fmt.Fprintf(out, "SHA256:     %s\n", sc.BootImageChecksum)
	fmt.Fprintf(out, "Manifest:   %s\n", sc.ManifestPath)
	for _, key := range sc.PublishedKeys {
		fmt.Fprintf(out, "Published:  %s\n", key)
	}

	return nil
}

// logBuildPlan records the stages about to run and where they run
func logBuildPlan(pipeline *build.Pipeline, executor build.Executor, sc *build.StageContext) {
	stages := pipeline.Stages()
	names := make([]string, 0, len(stages))
	for _, stage := range stages {
		names = append(names, string(stage.Name()))
	}

	kv := []interface{}{
		"project", sc.Project.Root,
		"stages", strings.Join(names, ","),
		"runtime", executor.RuntimeType(),
	}
	if container, ok := executor.(*build.ContainerExecutor); ok {
		kv = append(kv, "image", container.Image())
	}
	log.Info("Starting build", kv...)
}

// newPipeline assembles the stages for cfg. The returned cleanup closes the
// history database when one was opened.
func newPipeline(cfg *buildConfig, executor build.Executor, stderr io.Writer) (*build.Pipeline, func(), error) {
	host := build.NewHostExecutor(stderr)

	fetcher := fetch.New(fetch.Options{
		S3: cfg.Storage.S3,
		Run: func(ctx context.Context, argv []string) error {
			return host.Run(ctx, build.RunOpts{Command: argv})
		},
		Progress:  progressWriter(stderr),
		UserAgent: VersionInfo.UserAgent(),
	})

	stages := []build.Stage{
		build.NewProvisionStage(fetcher),
		build.NewInitStage(executor, cfg.Template, cfg.OnExisting),
		build.NewConfigureStage(cfg.Kconfig),
		build.NewComponentsStage(executor),
		build.NewDeviceTreeStage(executor, cfg.Substitution),
		build.NewPackageStage(executor),
	}

	if cfg.Publish {
		backend, err := storage.New(cfg.Storage)
		if err != nil {
			return nil, nil, errors.ErrPublishFailed.WithMessage("failed to initialize storage").WithCause(err)
		}
		stages = append(stages, build.NewPublishStage(backend, cfg.PublishPrefix))
	}

	pipeline := build.NewPipeline(stages...).WithReporter(build.NewReporter(stderr))
	cleanup := func() {}

	if cfg.HistoryPath != "" {
		database, err := db.New(db.Config{Path: cfg.HistoryPath})
		if err != nil {
			log.Warn("Build history disabled", "path", cfg.HistoryPath, "error", err)
		} else {
			pipeline.WithRecorder(db.NewRunRepository(database))
			cleanup = func() {
				if err := database.Close(); err != nil {
					log.Warn("Failed to close build history", "error", err)
				}
			}
		}
	}

	return pipeline, cleanup, nil
}

// progressWriter returns w when it is a terminal, nil otherwise
func progressWriter(w io.Writer) io.Writer {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return f
}
