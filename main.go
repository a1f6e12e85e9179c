// Package main points at the bebop command.
//
// For the full CLI, use: go run ./cmd/bebop
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("bebop - host bridge for a socket-attached NPU")
	fmt.Println("")
	fmt.Println("Usage: bebop <command> [flags]")
	fmt.Println("")
	fmt.Println("Commands:")
	fmt.Println("  serve    Run the NPU accelerator model")
	fmt.Println("  exec     Issue one NPU command")
	fmt.Println("  run      Emulate a RISC-V program that uses the NPU")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/bebop --help' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/bebop' instead.")
	}
}
