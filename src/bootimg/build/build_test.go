package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bitswalk/bootimg/src/bootimg/db"
	"github.com/bitswalk/bootimg/src/bootimg/devicetree"
	"github.com/bitswalk/bootimg/src/bootimg/fetch"
	"github.com/bitswalk/bootimg/src/bootimg/kconfig"
	"github.com/bitswalk/bootimg/src/bootimg/storage"
	"github.com/bitswalk/bootimg/src/common/errors"
	"github.com/bitswalk/bootimg/src/common/logs"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

func init() {
	SetLogger(logs.Discard())
	fetch.SetLogger(logs.Discard())
	devicetree.SetLogger(logs.Discard())
}

const testProjectName = "zcu102"

// testEnv holds staged inputs for one pipeline run
type testEnv struct {
	hardware  string
	toolchain string
	workspace string
	exec      *fakeToolchain
	report    bytes.Buffer
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	hw := filepath.Join(dir, "inputs", "design_1_wrapper.xsa")
	settings := filepath.Join(dir, "inputs", "petalinux", "2023.2", SettingsScript)
	for path, content := range map[string]string{
		hw:       "xsa",
		settings: "export PETALINUX=/opt/petalinux\n",
	} {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("failed to create %s: %v", filepath.Dir(path), err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	return &testEnv{
		hardware:  hw,
		toolchain: filepath.Join(dir, "inputs", "petalinux"),
		workspace: filepath.Join(dir, "work"),
		exec:      newFakeToolchain(),
	}
}

func (e *testEnv) context() *StageContext {
	return &StageContext{
		WorkspacePath:   e.workspace,
		HardwareSource:  e.hardware,
		ToolchainSource: e.toolchain,
		LogWriter:       io.Discard,
		BuilderVersion:  "v1.0.0-test",
		Project:         NewProject(e.workspace, testProjectName),
	}
}

func (e *testEnv) pipeline(onExisting OnExisting) *Pipeline {
	return NewPipeline(
		NewProvisionStage(fetch.New(fetch.Options{})),
		NewInitStage(e.exec, "", onExisting),
		NewConfigureStage(kconfig.Options{}),
		NewComponentsStage(e.exec),
		NewDeviceTreeStage(e.exec, devicetree.DefaultSubstitution()),
		NewPackageStage(e.exec),
	).WithReporter(NewReporter(&e.report))
}

// bootImages lists every BOOT.BIN below root
func bootImages(t *testing.T, root string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() == bootImageName {
			found = append(found, path)
		}
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("failed to walk %s: %v", root, err)
	}
	return found
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read %s: %v", path, err)
	}
	return string(data)
}

func TestPipeline_Success(t *testing.T) {
	env := newTestEnv(t)
	sc := env.context()

	if err := env.pipeline(OnExistingFail).Run(context.Background(), sc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		"petalinux-create",
		"petalinux-config",
		"petalinux-build device-tree",
		"petalinux-build u-boot",
		"petalinux-build arm-trusted-firmware",
		"petalinux-build pmufw",
		"petalinux-build fsbl",
		"dtc",
		"dtc",
		"petalinux-package",
	}
	if diff := cmp.Diff(want, env.exec.commands()); diff != "" {
		t.Errorf("toolchain invocations mismatch (-want +got):\n%s", diff)
	}

	for i, source := range env.exec.sources {
		if source != sc.Toolchain.Settings {
			t.Errorf("invocation %d sourced %q, want %q", i, source, sc.Toolchain.Settings)
		}
	}
	if !strings.HasPrefix(sc.Toolchain.Root, sc.ToolchainDir()) {
		t.Errorf("toolchain root %s is not inside %s", sc.Toolchain.Root, sc.ToolchainDir())
	}

	images := bootImages(t, env.workspace)
	if len(images) != 1 {
		t.Fatalf("found %d boot images, want 1: %v", len(images), images)
	}
	if images[0] != sc.BootImagePath {
		t.Errorf("BootImagePath = %s, want %s", sc.BootImagePath, images[0])
	}

	config := readFile(t, sc.Project.ConfigPath())
	for _, line := range []string{
		"CONFIG_SUBSYSTEM_ROOTFS_EXT4=y",
		"# CONFIG_SUBSYSTEM_ROOTFS_INITRD is not set",
		`CONFIG_SUBSYSTEM_SDROOT_DEV="/dev/mmcblk0p2"`,
	} {
		if !strings.Contains(config, line) {
			t.Errorf("patched config is missing %q", line)
		}
	}

	blob := readFile(t, sc.Project.ImagePath(ComponentDeviceTree.Output()))
	if strings.Contains(blob, devicetree.DefaultLegacyCompatible) {
		t.Error("device tree still carries the legacy compatible string")
	}
	if strings.Count(blob, devicetree.DefaultCompatible) != 2 {
		t.Errorf("device tree has %d replacements, want 2", strings.Count(blob, devicetree.DefaultCompatible))
	}
	if !strings.Contains(readFile(t, sc.BootImagePath), devicetree.DefaultCompatible) {
		t.Error("boot image was packaged with the unpatched device tree")
	}

	var manifest Manifest
	if err := yaml.Unmarshal([]byte(readFile(t, sc.ManifestPath)), &manifest); err != nil {
		t.Fatalf("failed to decode manifest: %v", err)
	}
	if manifest.RunID != sc.RunID {
		t.Errorf("manifest run_id = %s, want %s", manifest.RunID, sc.RunID)
	}
	if manifest.Builder != "v1.0.0-test" {
		t.Errorf("manifest builder = %q, want v1.0.0-test", manifest.Builder)
	}
	if manifest.BootImage.SHA256 != sc.BootImageChecksum {
		t.Errorf("manifest boot image sha256 = %s, want %s", manifest.BootImage.SHA256, sc.BootImageChecksum)
	}
	if len(manifest.Artifacts) != len(Components()) {
		t.Errorf("manifest lists %d artifacts, want %d", len(manifest.Artifacts), len(Components()))
	}

	report := env.report.String()
	if !strings.Contains(report, "==> build log: "+sc.Project.BuildLogPath()) {
		t.Errorf("report is missing the log header:\n%s", report)
	}
	if !strings.Contains(report, "NOTE: fsbl: built") {
		t.Errorf("report is missing the log content:\n%s", report)
	}
}

// writeToolchainArchive packs a minimal installation as petalinux-2023.2.tar.gz
func writeToolchainArchive(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "petalinux-2023.2.tar.gz")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("failed to create archive: %v", err)
	}
	defer f.Close()

	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	if err := tw.WriteHeader(&tar.Header{Name: "2023.2/", Typeflag: tar.TypeDir, Mode: 0755}); err != nil {
		t.Fatalf("failed to write directory: %v", err)
	}
	body := "export PETALINUX=/opt/petalinux\n"
	hdr := &tar.Header{Name: "2023.2/" + SettingsScript, Typeflag: tar.TypeReg, Mode: 0644, Size: int64(len(body))}
	if err := tw.WriteHeader(hdr); err != nil {
		t.Fatalf("failed to write header: %v", err)
	}
	if _, err := tw.Write([]byte(body)); err != nil {
		t.Fatalf("failed to write settings: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPipeline_ArchiveToolchain(t *testing.T) {
	env := newTestEnv(t)
	sc := env.context()
	sc.ToolchainSource = writeToolchainArchive(t, t.TempDir())

	if err := env.pipeline(OnExistingFail).Run(context.Background(), sc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	wantSettings := filepath.Join(sc.ToolchainDir(), "2023.2", SettingsScript)
	if sc.Toolchain.Settings != wantSettings {
		t.Errorf("toolchain settings = %s, want %s", sc.Toolchain.Settings, wantSettings)
	}
	for i, source := range env.exec.sources {
		if source != wantSettings {
			t.Errorf("invocation %d sourced %q, want %q", i, source, wantSettings)
		}
	}
	if _, err := os.Stat(filepath.Join(sc.ArtifactsDir(), "petalinux-2023.2.tar.gz")); err != nil {
		t.Errorf("downloaded archive not kept in artifacts: %v", err)
	}
	if images := bootImages(t, env.workspace); len(images) != 1 {
		t.Errorf("found %d boot images, want 1: %v", len(images), images)
	}
}

func TestPipeline_CorruptToolchainArchive(t *testing.T) {
	env := newTestEnv(t)
	sc := env.context()
	sc.ToolchainSource = filepath.Join(t.TempDir(), "petalinux-2023.2.tar.gz")
	if err := os.WriteFile(sc.ToolchainSource, []byte("not gzip"), 0644); err != nil {
		t.Fatal(err)
	}

	err := env.pipeline(OnExistingFail).Run(context.Background(), sc)
	if err == nil {
		t.Fatal("Run() succeeded with a corrupt toolchain archive")
	}
	if code := errors.GetExitCode(err); code != errors.ExitProvisioning {
		t.Errorf("exit code = %d, want %d (%v)", code, errors.ExitProvisioning, err)
	}
	if env.exec.called("petalinux-create") {
		t.Error("project created without a toolchain")
	}
}

func TestPipeline_BootloaderFailure(t *testing.T) {
	env := newTestEnv(t)
	env.exec.failOn("petalinux-build -c u-boot")
	sc := env.context()

	err := env.pipeline(OnExistingFail).Run(context.Background(), sc)
	if err == nil {
		t.Fatal("Run() succeeded, want error")
	}
	if !errors.Is(err, errors.ErrComponentBuild) {
		t.Errorf("Run() error = %v, want ErrComponentBuild", err)
	}
	if code := errors.GetExitCode(err); code != errors.ExitComponent {
		t.Errorf("exit code = %d, want %d", code, errors.ExitComponent)
	}
	if !strings.Contains(err.Error(), "u-boot") {
		t.Errorf("error %q does not name the component", err)
	}

	for _, name := range []string{"dtc", "petalinux-package", "petalinux-build arm-trusted-firmware"} {
		if env.exec.called(name) {
			t.Errorf("%s ran after the bootloader failed", name)
		}
	}
	if images := bootImages(t, env.workspace); len(images) != 0 {
		t.Errorf("found boot images after failure: %v", images)
	}
}

func TestPipeline_TrustedFirmwareFailureReportsLog(t *testing.T) {
	env := newTestEnv(t)
	env.exec.failOn("petalinux-build -c arm-trusted-firmware")
	sc := env.context()

	err := env.pipeline(OnExistingFail).Run(context.Background(), sc)
	if !errors.Is(err, errors.ErrComponentBuild) {
		t.Fatalf("Run() error = %v, want ErrComponentBuild", err)
	}
	if images := bootImages(t, env.workspace); len(images) != 0 {
		t.Errorf("found boot images after failure: %v", images)
	}

	report := env.report.String()
	for _, want := range []string{
		"==> build log:",
		"ERROR: arm-trusted-firmware: do_compile failed",
		"<== end of build log",
	} {
		if !strings.Contains(report, want) {
			t.Errorf("report is missing %q:\n%s", want, report)
		}
	}
}

func TestPipeline_MissingBuildLogTolerated(t *testing.T) {
	env := newTestEnv(t)
	env.exec.failOn("petalinux-create")
	sc := env.context()

	err := env.pipeline(OnExistingFail).Run(context.Background(), sc)
	if !errors.Is(err, errors.ErrProjectCreate) {
		t.Fatalf("Run() error = %v, want ErrProjectCreate", err)
	}
	if env.report.Len() != 0 {
		t.Errorf("report = %q, want nothing without a build log", env.report.String())
	}
}

func TestValidateProjectName(t *testing.T) {
	tests := []struct {
		name    string
		project string
		wantErr *errors.Error
	}{
		{name: "plain", project: "zcu102"},
		{name: "dots and dashes", project: "zcu102-rev1.0_a"},
		{name: "empty", project: "", wantErr: errors.ErrMissingRequiredField},
		{name: "parent escape", project: "../precious", wantErr: errors.ErrInvalidFieldValue},
		{name: "nested", project: "boards/zcu102", wantErr: errors.ErrInvalidFieldValue},
		{name: "absolute", project: "/tmp/zcu102", wantErr: errors.ErrInvalidFieldValue},
		{name: "current dir", project: ".", wantErr: errors.ErrInvalidFieldValue},
		{name: "parent dir", project: "..", wantErr: errors.ErrInvalidFieldValue},
		{name: "hidden", project: ".zcu102", wantErr: errors.ErrInvalidFieldValue},
		{name: "toolchain dir", project: "toolchain", wantErr: errors.ErrInvalidFieldValue},
		{name: "artifacts dir", project: "artifacts", wantErr: errors.ErrInvalidFieldValue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProjectName(tt.project)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateProjectName(%q) error = %v", tt.project, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateProjectName(%q) error = %v, want %v", tt.project, err, tt.wantErr)
			}
		})
	}
}

func TestPipeline_CleanPolicyStaysInWorkspace(t *testing.T) {
	tests := []struct {
		name    string
		project string
		// victim is created before the run and must survive it
		victim func(env *testEnv) string
	}{
		{
			name:    "parent escape",
			project: "../precious",
			victim: func(env *testEnv) string {
				return filepath.Join(filepath.Dir(env.workspace), "precious", "keep")
			},
		},
		{
			name:    "staged toolchain",
			project: "toolchain",
			victim: func(env *testEnv) string {
				return filepath.Join(env.workspace, "toolchain", "2023.2", SettingsScript)
			},
		},
		{
			name:    "staged artifacts",
			project: "artifacts",
			victim: func(env *testEnv) string {
				return filepath.Join(env.workspace, "artifacts", "design_1_wrapper.xsa")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			sc := env.context()
			sc.Project = NewProject(env.workspace, tt.project)

			victim := tt.victim(env)
			if err := os.MkdirAll(filepath.Dir(victim), 0755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(victim, []byte("keep"), 0644); err != nil {
				t.Fatal(err)
			}

			err := env.pipeline(OnExistingClean).Run(context.Background(), sc)
			if !errors.Is(err, errors.ErrInvalidFieldValue) {
				t.Fatalf("Run() error = %v, want ErrInvalidFieldValue", err)
			}
			if env.exec.called("petalinux-create") {
				t.Error("petalinux-create ran with an unsafe project name")
			}
			if _, err := os.Stat(victim); err != nil {
				t.Errorf("%s was removed: %v", victim, err)
			}
		})
	}
}

func TestInitStage_RejectsRootOutsideWorkspace(t *testing.T) {
	env := newTestEnv(t)
	outside := filepath.Join(t.TempDir(), "zcu102")
	if err := os.MkdirAll(outside, 0755); err != nil {
		t.Fatal(err)
	}

	sc := env.context()
	sc.Project = &Project{Name: "zcu102", Root: outside}

	stage := NewInitStage(env.exec, "", OnExistingClean)
	err := stage.Execute(context.Background(), sc, func(int, string) {})
	if !errors.Is(err, errors.ErrInvalidFieldValue) {
		t.Fatalf("Execute() error = %v, want ErrInvalidFieldValue", err)
	}
	if _, err := os.Stat(outside); err != nil {
		t.Errorf("project root outside the workspace was removed: %v", err)
	}
}

func TestPipeline_StaleProject(t *testing.T) {
	tests := []struct {
		name       string
		onExisting OnExisting
		wantErr    *errors.Error
	}{
		{name: "fail policy refuses", onExisting: OnExistingFail, wantErr: errors.ErrProjectExists},
		{name: "clean policy rebuilds", onExisting: OnExistingClean},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			sc := env.context()

			marker := filepath.Join(sc.Project.Root, "stale")
			if err := os.MkdirAll(sc.Project.Root, 0755); err != nil {
				t.Fatalf("failed to create stale project: %v", err)
			}
			if err := os.WriteFile(marker, []byte("old"), 0644); err != nil {
				t.Fatalf("failed to write marker: %v", err)
			}

			err := env.pipeline(tt.onExisting).Run(context.Background(), sc)

			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Run() error = %v, want %v", err, tt.wantErr)
				}
				if env.exec.called("petalinux-create") {
					t.Error("petalinux-create ran against a stale project")
				}
				if _, err := os.Stat(marker); err != nil {
					t.Errorf("stale project was modified: %v", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if _, err := os.Stat(marker); !os.IsNotExist(err) {
				t.Errorf("stale marker survived the clean policy: %v", err)
			}
			if len(bootImages(t, env.workspace)) != 1 {
				t.Error("clean rebuild did not produce a boot image")
			}
		})
	}
}

func TestPipeline_Cancelled(t *testing.T) {
	env := newTestEnv(t)
	sc := env.context()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := env.pipeline(OnExistingFail).Run(ctx, sc)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(env.exec.commands()) != 0 {
		t.Errorf("toolchain ran after cancellation: %v", env.exec.commands())
	}
}

func TestPipeline_Recorder(t *testing.T) {
	database, err := db.New(db.Config{Path: db.MemoryPath})
	if err != nil {
		t.Fatalf("failed to open history: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := db.NewRunRepository(database)

	t.Run("completed", func(t *testing.T) {
		env := newTestEnv(t)
		sc := env.context()

		if err := env.pipeline(OnExistingFail).WithRecorder(repo).Run(context.Background(), sc); err != nil {
			t.Fatalf("Run() error = %v", err)
		}

		run, err := repo.GetByID(sc.RunID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if run.Status != db.RunStatusCompleted {
			t.Errorf("status = %s, want %s", run.Status, db.RunStatusCompleted)
		}
		if run.BootImageChecksum != sc.BootImageChecksum {
			t.Errorf("checksum = %s, want %s", run.BootImageChecksum, sc.BootImageChecksum)
		}
		if run.ProjectName != testProjectName {
			t.Errorf("project = %s, want %s", run.ProjectName, testProjectName)
		}

		stages, err := repo.GetStages(sc.RunID)
		if err != nil {
			t.Fatalf("GetStages() error = %v", err)
		}
		if len(stages) != 6 {
			t.Fatalf("recorded %d stages, want 6", len(stages))
		}
		for _, s := range stages {
			if s.Status != db.StageStatusCompleted {
				t.Errorf("stage %s status = %s, want %s", s.Name, s.Status, db.StageStatusCompleted)
			}
		}
	})

	t.Run("failed", func(t *testing.T) {
		env := newTestEnv(t)
		env.exec.failOn("petalinux-build -c pmufw")
		sc := env.context()

		if err := env.pipeline(OnExistingFail).WithRecorder(repo).Run(context.Background(), sc); err == nil {
			t.Fatal("Run() succeeded, want error")
		}

		run, err := repo.GetByID(sc.RunID)
		if err != nil {
			t.Fatalf("GetByID() error = %v", err)
		}
		if run.Status != db.RunStatusFailed {
			t.Errorf("status = %s, want %s", run.Status, db.RunStatusFailed)
		}
		if run.ErrorStage != string(db.StageComponents) {
			t.Errorf("error stage = %s, want %s", run.ErrorStage, db.StageComponents)
		}
		if run.ErrorCode != "component.build_failed" {
			t.Errorf("error code = %s, want component.build_failed", run.ErrorCode)
		}
	})
}

func TestConfigureStage_InvariantFailure(t *testing.T) {
	project := NewProject(t.TempDir(), testProjectName)
	if err := os.MkdirAll(filepath.Dir(project.ConfigPath()), 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	config := strings.Replace(generatedConfig,
		"# CONFIG_SUBSYSTEM_ROOTFS_INITRAMFS is not set", "CONFIG_SUBSYSTEM_ROOTFS_INITRAMFS=y", 1)
	if err := os.WriteFile(project.ConfigPath(), []byte(config), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	stage := NewConfigureStage(kconfig.Options{})
	sc := &StageContext{Project: project}

	if err := stage.Validate(context.Background(), sc); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	err := stage.Execute(context.Background(), sc, func(int, string) {})
	if !errors.Is(err, errors.ErrConfigInvariant) {
		t.Fatalf("Execute() error = %v, want ErrConfigInvariant", err)
	}
	if !strings.Contains(err.Error(), "CONFIG_SUBSYSTEM_ROOTFS_INITRAMFS") {
		t.Errorf("error %q does not name the offending key", err)
	}
}

// builtProject runs the pipeline up to the devicetree stage
func builtProject(t *testing.T) (*testEnv, *StageContext) {
	t.Helper()
	env := newTestEnv(t)
	sc := env.context()
	stages := env.pipeline(OnExistingFail).Stages()
	if err := NewPipeline(stages[:len(stages)-1]...).Run(context.Background(), sc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	return env, sc
}

func TestPackageStage_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(t *testing.T, sc *StageContext)
		wantErr *errors.Error
	}{
		{
			name:   "rewritten blob",
			mutate: func(t *testing.T, sc *StageContext) {},
		},
		{
			name: "missing artifact",
			mutate: func(t *testing.T, sc *StageContext) {
				if err := os.Remove(sc.Project.ImagePath(ComponentPMUFirmware.Output())); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: errors.ErrMissingArtifact,
		},
		{
			name: "blob replaced after rewrite",
			mutate: func(t *testing.T, sc *StageContext) {
				blob := sc.Project.ImagePath(ComponentDeviceTree.Output())
				if err := os.WriteFile(blob, []byte(generatedDeviceTree), 0644); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: errors.ErrStaleArtifact,
		},
		{
			name: "source missing",
			mutate: func(t *testing.T, sc *StageContext) {
				blob := sc.Project.ImagePath(ComponentDeviceTree.Output())
				if err := os.Remove(devicetree.SourcePath(blob)); err != nil {
					t.Fatal(err)
				}
			},
			wantErr: errors.ErrStaleArtifact,
		},
		{
			name: "no recorded digest",
			mutate: func(t *testing.T, sc *StageContext) {
				sc.DeviceTreeDigest = ""
			},
			wantErr: errors.ErrStaleArtifact,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, sc := builtProject(t)
			tt.mutate(t, sc)

			err := NewPackageStage(env.exec).Validate(context.Background(), sc)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Validate() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Validate() error = %v, want %v", err, tt.wantErr)
			}
			if env.exec.called("petalinux-package") {
				t.Error("petalinux-package ran")
			}
		})
	}
}

func TestPublishStage_Local(t *testing.T) {
	env := newTestEnv(t)
	sc := env.context()
	if err := env.pipeline(OnExistingFail).Run(context.Background(), sc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	backend, err := storage.NewLocal(storage.LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	stage := NewPublishStage(backend, "releases")

	if err := stage.Validate(context.Background(), sc); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := stage.Execute(context.Background(), sc, func(int, string) {}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	want := []string{
		"releases/" + sc.RunID + "/BOOT.BIN",
		"releases/" + sc.RunID + "/manifest.yaml",
	}
	if diff := cmp.Diff(want, sc.PublishedKeys); diff != "" {
		t.Errorf("published keys mismatch (-want +got):\n%s", diff)
	}

	info, err := backend.GetInfo(context.Background(), want[0])
	if err != nil {
		t.Fatalf("GetInfo() error = %v", err)
	}
	if info.Size != sc.BootImageSize {
		t.Errorf("published size = %d, want %d", info.Size, sc.BootImageSize)
	}
}

func TestPublishStage_MissingImage(t *testing.T) {
	backend, err := storage.NewLocal(storage.LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	sc := &StageContext{BootImagePath: filepath.Join(t.TempDir(), bootImageName)}

	err = NewPublishStage(backend, "").Validate(context.Background(), sc)
	if !errors.Is(err, errors.ErrMissingArtifact) {
		t.Fatalf("Validate() error = %v, want ErrMissingArtifact", err)
	}
}

// truncatingStore drops the last byte of every object it stores
type truncatingStore struct {
	storage.Backend
}

func (s truncatingStore) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		data = data[:len(data)-1]
	}
	return s.Backend.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType)
}

func TestPublishStage_SizeMismatch(t *testing.T) {
	env := newTestEnv(t)
	sc := env.context()
	if err := env.pipeline(OnExistingFail).Run(context.Background(), sc); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	local, err := storage.NewLocal(storage.LocalConfig{BasePath: t.TempDir()})
	if err != nil {
		t.Fatalf("NewLocal() error = %v", err)
	}
	stage := NewPublishStage(truncatingStore{Backend: local}, "releases")

	err = stage.Execute(context.Background(), sc, func(int, string) {})
	if !errors.Is(err, errors.ErrPublishFailed) {
		t.Fatalf("Execute() error = %v, want ErrPublishFailed", err)
	}
	if !strings.Contains(err.Error(), "BOOT.BIN") {
		t.Errorf("error %q does not name the object", err)
	}
	if len(sc.PublishedKeys) != 0 {
		t.Errorf("mismatched upload recorded as published: %v", sc.PublishedKeys)
	}
}
