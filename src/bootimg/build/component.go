package build

// Component is a firmware or software part built by petalinux-build
type Component string

const (
	ComponentDeviceTree      Component = "device-tree"
	ComponentUBoot           Component = "u-boot"
	ComponentTrustedFirmware Component = "arm-trusted-firmware"
	ComponentPMUFirmware     Component = "pmufw"
	ComponentFSBL            Component = "fsbl"
)

// componentOutputs maps each component to the file it leaves in images/linux
var componentOutputs = map[Component]string{
	ComponentDeviceTree:      "system.dtb",
	ComponentUBoot:           "u-boot.elf",
	ComponentTrustedFirmware: "bl31.elf",
	ComponentPMUFirmware:     "pmufw.elf",
	ComponentFSBL:            "zynqmp_fsbl.elf",
}

// Components returns the components in build order
func Components() []Component {
	return []Component{
		ComponentDeviceTree,
		ComponentUBoot,
		ComponentTrustedFirmware,
		ComponentPMUFirmware,
		ComponentFSBL,
	}
}

// Output returns the file name the component produces
func (c Component) Output() string {
	return componentOutputs[c]
}
