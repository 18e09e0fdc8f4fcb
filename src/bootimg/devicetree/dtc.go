package devicetree

import "context"

// RunFunc runs a command line and returns its failure, if any
type RunFunc func(ctx context.Context, argv []string) error

// DTC drives the device tree compiler shipped with the toolchain
type DTC struct {
	run    RunFunc
	binary string
}

// NewDTC creates a Compiler that invokes dtc through run
func NewDTC(run RunFunc) *DTC {
	return &DTC{run: run, binary: "dtc"}
}

// Decompile implements Compiler
func (d *DTC) Decompile(ctx context.Context, blob, source string) error {
	return d.run(ctx, []string{d.binary, "-q", "-I", "dtb", "-O", "dts", "-o", source, blob})
}

// Compile implements Compiler
func (d *DTC) Compile(ctx context.Context, source, blob string) error {
	return d.run(ctx, []string{d.binary, "-q", "-I", "dts", "-O", "dtb", "-o", blob, source})
}
