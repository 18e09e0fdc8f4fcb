package kconfig

import (
	"fmt"
	"regexp"
	"strings"
)

// Configuration keys touched by the root filesystem rules
const (
	KeyRootfsInitrd      = "CONFIG_SUBSYSTEM_ROOTFS_INITRD"
	KeyRootfsExt4        = "CONFIG_SUBSYSTEM_ROOTFS_EXT4"
	KeyRamdiskLoadAddr   = "CONFIG_SUBSYSTEM_INITRD_RAMDISK_LOADADDR"
	KeySDRootDev         = "CONFIG_SUBSYSTEM_SDROOT_DEV"
	KeyInitramfsImage    = "CONFIG_SUBSYSTEM_INITRAMFS_IMAGE_NAME"
	KeyBootargsGenerated = "CONFIG_SUBSYSTEM_BOOTARGS_GENERATED"
)

// rootfsTypeKeys are the mutually exclusive root filesystem choices
var rootfsTypeKeys = []string{
	"CONFIG_SUBSYSTEM_ROOTFS_INITRAMFS",
	KeyRootfsInitrd,
	"CONFIG_SUBSYSTEM_ROOTFS_JFFS2",
	"CONFIG_SUBSYSTEM_ROOTFS_UBIFS",
	"CONFIG_SUBSYSTEM_ROOTFS_NFS",
	KeyRootfsExt4,
	"CONFIG_SUBSYSTEM_ROOTFS_OTHER",
}

// DefaultRootDevice is the second partition of the primary SD/eMMC device
const DefaultRootDevice = "/dev/mmcblk0p2"

// ramdiskRoot is the kernel command line root specification being replaced
const ramdiskRoot = "root=/dev/ram0 rw"

// Options parameterizes the rule set
type Options struct {
	// RootDevice is the block device holding the EXT4 root filesystem
	RootDevice string
}

// DefaultOptions returns the options used by the build pipeline
func DefaultOptions() Options {
	return Options{RootDevice: DefaultRootDevice}
}

// Rule is one declarative line transformation.
//
// Every line matching Match is rewritten with Replace (a regexp template)
// or removed when Delete is set. A rule whose pattern matches nothing is a
// no-op. Postcondition describes the state the rule guarantees; Verify
// evaluates it after all rules ran.
type Rule struct {
	Name          string
	Match         *regexp.Regexp
	Replace       string
	Delete        bool
	Postcondition func(f *File) error
}

// Apply runs the rule against f and returns the number of lines changed.
//
// When a replacement would assign a key that another line already
// assigns, the matched line is dropped instead so that no key is ever
// defined twice.
func (r Rule) Apply(f *File) int {
	changed := 0
	out := make([]string, 0, len(f.lines))
	for i, line := range f.lines {
		if !r.Match.MatchString(line) {
			out = append(out, line)
			continue
		}
		changed++
		if r.Delete {
			continue
		}
		replacement := r.Match.ReplaceAllString(line, r.Replace)
		if key, _, ok := splitAssignment(replacement); ok && definedElsewhere(f.lines, i, key) {
			continue
		}
		out = append(out, replacement)
	}
	f.lines = out
	return changed
}

func definedElsewhere(lines []string, skip int, key string) bool {
	for i, line := range lines {
		if i == skip {
			continue
		}
		if k, _, ok := splitAssignment(line); ok && k == key {
			return true
		}
	}
	return false
}

// Rules returns the root filesystem switch: initrd off, EXT4 on, root
// device set to opts.RootDevice, initramfs image name removed and the
// kernel command line pointed at the storage partition.
func Rules(opts Options) []Rule {
	dev := opts.RootDevice
	if dev == "" {
		dev = DefaultRootDevice
	}
	sdRoot := fmt.Sprintf("root=%s rw rootwait", dev)

	return []Rule{
		{
			Name:    "disable-initrd",
			Match:   regexp.MustCompile(`^#?\s*` + KeyRootfsInitrd + `=y\s*$`),
			Replace: notSetLine(KeyRootfsInitrd),
			Postcondition: func(f *File) error {
				if f.Enabled(KeyRootfsInitrd) {
					return fmt.Errorf("%s is still enabled", KeyRootfsInitrd)
				}
				return nil
			},
		},
		{
			Name:    "enable-ext4",
			Match:   regexp.MustCompile(`^#\s*` + KeyRootfsExt4 + ` is not set\s*$`),
			Replace: KeyRootfsExt4 + "=y",
			Postcondition: func(f *File) error {
				if !f.Enabled(KeyRootfsExt4) {
					return fmt.Errorf("%s is not enabled", KeyRootfsExt4)
				}
				if f.NotSet(KeyRootfsExt4) {
					return fmt.Errorf("%s is both enabled and marked not set", KeyRootfsExt4)
				}
				return nil
			},
		},
		{
			Name:    "sd-root-device",
			Match:   regexp.MustCompile(`^` + KeyRamdiskLoadAddr + `=.*$`),
			Replace: KeySDRootDev + "=" + escapeTemplate(Quote(dev)),
			Postcondition: func(f *File) error {
				if _, ok := f.Get(KeyRamdiskLoadAddr); ok {
					return fmt.Errorf("%s is still present", KeyRamdiskLoadAddr)
				}
				if v, ok := f.Get(KeySDRootDev); !ok || v != Quote(dev) {
					return fmt.Errorf("%s is not %s", KeySDRootDev, Quote(dev))
				}
				if n := f.Count(KeySDRootDev); n > 1 {
					return fmt.Errorf("%s is assigned %d times", KeySDRootDev, n)
				}
				return nil
			},
		},
		{
			Name:   "drop-initramfs-name",
			Match:  regexp.MustCompile(`^` + KeyInitramfsImage + `=.*$`),
			Delete: true,
			Postcondition: func(f *File) error {
				if _, ok := f.Get(KeyInitramfsImage); ok {
					return fmt.Errorf("%s is still present", KeyInitramfsImage)
				}
				return nil
			},
		},
		{
			Name:    "bootargs-root",
			Match:   regexp.MustCompile(`^(` + KeyBootargsGenerated + `=.*)` + regexp.QuoteMeta(ramdiskRoot) + `(.*)$`),
			Replace: "${1}" + escapeTemplate(sdRoot) + "${2}",
			Postcondition: func(f *File) error {
				v, ok := f.Get(KeyBootargsGenerated)
				if !ok {
					return nil
				}
				if strings.Contains(v, ramdiskRoot) {
					return fmt.Errorf("%s still boots from the RAM disk", KeyBootargsGenerated)
				}
				if !strings.Contains(v, sdRoot) {
					return fmt.Errorf("%s does not contain %q", KeyBootargsGenerated, sdRoot)
				}
				return nil
			},
		},
	}
}

// escapeTemplate protects literal text used inside a regexp replacement
func escapeTemplate(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

// Patch applies every rule in order and returns the per-rule change count
func Patch(f *File, rules []Rule) map[string]int {
	changes := make(map[string]int, len(rules))
	for _, r := range rules {
		changes[r.Name] = r.Apply(f)
	}
	return changes
}
