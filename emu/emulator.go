// Package emu provides functional RV64 emulation of the host core.
//
// The core runs a small RV64I subset and hands RoCC custom instructions to
// a Coprocessor, blocking until the coprocessor returns. Memory is shared
// with the coprocessor, which may read and write it while the core waits.
package emu

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/sarchlab/bebop/insts"
)

// ErrMaxInstructions is returned by Step once the instruction limit is hit.
var ErrMaxInstructions = errors.New("emu: max instructions reached")

// ErrNoCoprocessor is returned for a custom instruction when no
// coprocessor is attached.
var ErrNoCoprocessor = errors.New("emu: no coprocessor attached")

// StepResult represents the result of executing a single instruction.
type StepResult struct {
	// Exited is true if the program terminated (via exit syscall).
	Exited bool

	// ExitCode is the exit status if Exited is true.
	ExitCode int64

	// Err is set if an error occurred during execution. A failed custom
	// instruction still retires; the core can keep running.
	Err error
}

// Emulator executes RV64 instructions functionally.
type Emulator struct {
	regFile        *RegFile
	memory         *Memory
	decoder        *insts.Decoder
	syscallHandler SyscallHandler
	coprocessor    Coprocessor

	// Execution units
	alu        *ALU
	lsu        *LoadStoreUnit
	branchUnit *BranchUnit

	// I/O
	stdout io.Writer
	stderr io.Writer

	// Execution state
	instructionCount uint64
	customCount      uint64
	maxInstructions  uint64 // 0 means no limit
}

// EmulatorOption is a functional option for configuring the Emulator.
type EmulatorOption func(*Emulator)

// WithStdout sets a custom stdout writer.
func WithStdout(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stdout = w
	}
}

// WithStderr sets a custom stderr writer.
func WithStderr(w io.Writer) EmulatorOption {
	return func(e *Emulator) {
		e.stderr = w
	}
}

// WithSyscallHandler sets a custom syscall handler.
func WithSyscallHandler(handler SyscallHandler) EmulatorOption {
	return func(e *Emulator) {
		e.syscallHandler = handler
	}
}

// WithCoprocessor attaches the unit that executes custom instructions.
func WithCoprocessor(c Coprocessor) EmulatorOption {
	return func(e *Emulator) {
		e.coprocessor = c
	}
}

// WithMemory replaces the emulator's memory, so that it can be shared with
// a coprocessor built before the emulator.
func WithMemory(m *Memory) EmulatorOption {
	return func(e *Emulator) {
		e.memory = m
	}
}

// WithStackPointer sets the initial stack pointer value.
func WithStackPointer(sp uint64) EmulatorOption {
	return func(e *Emulator) {
		e.regFile.WriteReg(RegSP, sp)
	}
}

// WithMaxInstructions sets the maximum number of instructions to execute.
// A value of 0 means no limit.
func WithMaxInstructions(max uint64) EmulatorOption {
	return func(e *Emulator) {
		e.maxInstructions = max
	}
}

// NewEmulator creates a new RV64 emulator.
func NewEmulator(opts ...EmulatorOption) *Emulator {
	e := &Emulator{
		regFile: &RegFile{},
		memory:  NewMemory(),
		decoder: insts.NewDecoder(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}

	for _, opt := range opts {
		opt(e)
	}

	e.alu = NewALU(e.regFile)
	e.lsu = NewLoadStoreUnit(e.regFile, e.memory)
	e.branchUnit = NewBranchUnit(e.regFile)

	if e.syscallHandler == nil {
		e.syscallHandler = NewDefaultSyscallHandler(e.regFile, e.memory, e.stdout, e.stderr)
	}

	return e
}

// RegFile returns the emulator's register file.
func (e *Emulator) RegFile() *RegFile {
	return e.regFile
}

// Memory returns the emulator's memory.
func (e *Emulator) Memory() *Memory {
	return e.memory
}

// InstructionCount returns the number of instructions executed.
func (e *Emulator) InstructionCount() uint64 {
	return e.instructionCount
}

// CustomCount returns the number of custom instructions executed.
func (e *Emulator) CustomCount() uint64 {
	return e.customCount
}

// LoadProgram copies program into memory at entry and sets PC to it.
func (e *Emulator) LoadProgram(entry uint64, program []byte) {
	e.memory.LoadProgram(entry, program)
	e.regFile.PC = entry
}

// Step executes a single instruction.
// Returns a StepResult indicating whether execution should continue.
func (e *Emulator) Step() StepResult {
	if e.maxInstructions > 0 && e.instructionCount >= e.maxInstructions {
		return StepResult{Err: ErrMaxInstructions}
	}

	word := e.memory.Read32(e.regFile.PC)
	inst := e.decoder.Decode(word)
	result := e.execute(inst)

	e.instructionCount++

	return result
}

// Run executes instructions until the program exits or an error occurs.
// Returns the exit code (-1 if error).
func (e *Emulator) Run() int64 {
	for {
		result := e.Step()
		if result.Exited {
			return result.ExitCode
		}
		if result.Err != nil {
			_, _ = fmt.Fprintf(e.stderr, "Emulation error: %v\n", result.Err)
			return -1
		}
	}
}

// execute dispatches and executes a decoded instruction.
func (e *Emulator) execute(inst *insts.Instruction) StepResult {
	switch inst.Format {
	case insts.FormatU:
		e.alu.ExecuteUpper(inst)
	case insts.FormatR:
		e.alu.ExecuteReg(inst)
	case insts.FormatB:
		e.branchUnit.Branch(inst)
		return StepResult{}
	case insts.FormatJ:
		e.branchUnit.JAL(inst)
		return StepResult{}
	case insts.FormatS:
		e.lsu.Store(inst)
	case insts.FormatI:
		return e.executeFormatI(inst)
	case insts.FormatRoCC:
		return e.executeCustom(inst)
	default:
		return StepResult{
			Err: fmt.Errorf("unknown instruction 0x%08X at PC=0x%X",
				inst.Word, e.regFile.PC),
		}
	}

	e.regFile.PC += 4

	return StepResult{}
}

func (e *Emulator) executeFormatI(inst *insts.Instruction) StepResult {
	switch inst.Op {
	case insts.OpECALL:
		return e.executeECALL()
	case insts.OpJALR:
		e.branchUnit.JALR(inst)
		return StepResult{}
	case insts.OpLBU, insts.OpLW, insts.OpLD:
		e.lsu.Load(inst)
	default:
		e.alu.ExecuteImm(inst)
	}

	e.regFile.PC += 4

	return StepResult{}
}

// executeECALL handles the ECALL instruction.
func (e *Emulator) executeECALL() StepResult {
	// The syscall returns to the next instruction.
	e.regFile.PC += 4

	syscallResult := e.syscallHandler.Handle()

	return StepResult{
		Exited:   syscallResult.Exited,
		ExitCode: syscallResult.ExitCode,
	}
}

// executeCustom hands a RoCC instruction to the coprocessor. Operands the
// encoding does not read are passed as UnusedOperand, and rd is written
// only when xd is set. On failure rd receives 0.
func (e *Emulator) executeCustom(inst *insts.Instruction) StepResult {
	xs1, xs2 := UnusedOperand, UnusedOperand
	if inst.XS1 {
		xs1 = e.regFile.ReadReg(inst.Rs1)
	}
	if inst.XS2 {
		xs2 = e.regFile.ReadReg(inst.Rs2)
	}

	pc := e.regFile.PC
	e.regFile.PC += 4
	e.customCount++

	var (
		result uint64
		err    error
	)
	if e.coprocessor == nil {
		err = ErrNoCoprocessor
	} else {
		result, err = e.coprocessor.Custom(inst, xs1, xs2)
	}

	if err != nil {
		result = 0
		err = fmt.Errorf("custom instruction at PC=0x%X: %w", pc, err)
	}

	if inst.XD {
		e.regFile.WriteReg(inst.Rd, result)
	}

	return StepResult{Err: err}
}
