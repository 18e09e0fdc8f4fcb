package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// generatedConfig is the system configuration a fresh hardware import writes
const generatedConfig = `#
# Automatically generated file; DO NOT EDIT.
#
CONFIG_SUBSYSTEM_TYPE_LINUX=y
# CONFIG_SUBSYSTEM_ROOTFS_INITRAMFS is not set
CONFIG_SUBSYSTEM_ROOTFS_INITRD=y
# CONFIG_SUBSYSTEM_ROOTFS_EXT4 is not set
CONFIG_SUBSYSTEM_INITRD_RAMDISK_LOADADDR=0x0
CONFIG_SUBSYSTEM_INITRAMFS_IMAGE_NAME="petalinux-initramfs-image"
CONFIG_SUBSYSTEM_BOOTARGS_AUTO=y
CONFIG_SUBSYSTEM_BOOTARGS_GENERATED="earlycon console=ttyPS0,115200 clk_ignore_unused root=/dev/ram0 rw"
`

// generatedDeviceTree is the text the fake device tree blob carries
const generatedDeviceTree = `/dts-v1/;
/ {
	i2c@ff020000 {
		compatible = "xlnx,xps-iic-2.00.a";
	};
	i2c@ff030000 {
		compatible = "xlnx,xps-iic-2.00.a";
	};
};
`

// fakeToolchain simulates the PetaLinux tools by writing the files each
// command would produce. Blobs are kept as text so dtc is a plain copy.
type fakeToolchain struct {
	mu       sync.Mutex
	calls    [][]string
	sources  []string
	fail     func(argv []string) bool
	blobText string
}

func newFakeToolchain() *fakeToolchain {
	return &fakeToolchain{blobText: generatedDeviceTree}
}

// failOn makes every invocation whose command line starts with prefix fail
func (f *fakeToolchain) failOn(prefix string) *fakeToolchain {
	f.fail = func(argv []string) bool {
		return strings.HasPrefix(strings.Join(argv, " "), prefix)
	}
	return f
}

func (f *fakeToolchain) Run(ctx context.Context, opts RunOpts) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), opts.Command...))
	f.sources = append(f.sources, opts.Source)
	f.mu.Unlock()

	argv := opts.Command
	if len(argv) == 0 {
		return fmt.Errorf("no command specified")
	}

	switch argv[0] {
	case "petalinux-create":
		if f.failed(argv) {
			return fmt.Errorf("exit status 255")
		}
		root := filepath.Join(opts.WorkDir, flagValue(argv, "-n"))
		return os.MkdirAll(filepath.Join(root, "project-spec", "configs"), 0755)

	case "petalinux-config":
		if f.failed(argv) {
			return fmt.Errorf("exit status 1")
		}
		return os.WriteFile(filepath.Join(opts.WorkDir, projectConfigPath), []byte(generatedConfig), 0644)

	case "petalinux-build":
		component := Component(flagValue(argv, "-c"))
		if f.failed(argv) {
			_ = appendLog(opts.WorkDir, fmt.Sprintf("ERROR: %s: do_compile failed\n", component))
			return fmt.Errorf("exit status 1")
		}
		if err := appendLog(opts.WorkDir, fmt.Sprintf("NOTE: %s: built\n", component)); err != nil {
			return err
		}
		content := "elf:" + string(component)
		if component == ComponentDeviceTree {
			content = f.blobText
		}
		out := filepath.Join(opts.WorkDir, projectImagesDir, component.Output())
		if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
			return err
		}
		return os.WriteFile(out, []byte(content), 0644)

	case "dtc":
		if f.failed(argv) {
			return fmt.Errorf("exit status 1")
		}
		data, err := os.ReadFile(argv[len(argv)-1])
		if err != nil {
			return err
		}
		return os.WriteFile(flagValue(argv, "-o"), data, 0644)

	case "petalinux-package":
		if f.failed(argv) {
			return fmt.Errorf("exit status 1")
		}
		var image []byte
		for _, flag := range []string{"--fsbl", "--pmufw", "--u-boot", "--dtb"} {
			data, err := os.ReadFile(filepath.Join(opts.WorkDir, flagValue(argv, flag)))
			if err != nil {
				return err
			}
			image = append(image, data...)
		}
		return os.WriteFile(filepath.Join(opts.WorkDir, projectImagesDir, bootImageName), image, 0644)
	}

	return fmt.Errorf("unexpected command %q", argv[0])
}

func (f *fakeToolchain) IsAvailable() bool { return true }

func (f *fakeToolchain) RuntimeType() RuntimeType { return RuntimeHost }

func (f *fakeToolchain) failed(argv []string) bool {
	return f.fail != nil && f.fail(argv)
}

// commands returns the tool names in invocation order, with the component
// for petalinux-build
func (f *fakeToolchain) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []string
	for _, c := range f.calls {
		if c[0] == "petalinux-build" {
			out = append(out, c[0]+" "+flagValue(c, "-c"))
			continue
		}
		out = append(out, c[0])
	}
	return out
}

func (f *fakeToolchain) called(name string) bool {
	for _, c := range f.commands() {
		if c == name {
			return true
		}
	}
	return false
}

func flagValue(argv []string, flag string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == flag {
			return argv[i+1]
		}
	}
	return ""
}

func appendLog(projectRoot, line string) error {
	path := filepath.Join(projectRoot, projectBuildLog)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.WriteString(line)
	return err
}
