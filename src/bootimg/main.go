// bootimg builds a flashable PetaLinux BOOT.BIN for Zynq UltraScale+ boards.
package main

import (
	"github.com/bitswalk/bootimg/src/bootimg/core"
)

func main() {
	core.Execute()
}
