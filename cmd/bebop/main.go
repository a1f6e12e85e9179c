// Command bebop drives the host side of an NPU link and can also stand in
// for the NPU itself.
//
//	bebop serve                     # run the accelerator model on 6000-6002
//	bebop exec mvin 0x1000 0x2020   # issue one command against a memory image
//	bebop run program.elf           # emulate a RISC-V program that uses the NPU
package main

import (
	"os"

	"github.com/tebeka/atexit"
)

func main() {
	c := newCLI(os.Stdout, os.Stderr)
	atexit.Register(c.shutdown)

	atexit.Exit(c.execute(os.Args[1:]))
}
