package npu

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sarchlab/akita/v4/mem/mem"

	"github.com/sarchlab/bebop/insts"
	"github.com/sarchlab/bebop/protocol"
)

// Scratchpad geometry.
const (
	NumBanks = 32
	BankSize = 1 << 20

	// TileDim is the edge of the square int8 tiles GEMM multiplies.
	TileDim = 16
)

// ErrUnknownFunct is returned for a function code the accelerator does not
// implement.
var ErrUnknownFunct = errors.New("npu: unknown function code")

// ErrBankRange is returned when an access falls outside a bank.
var ErrBankRange = errors.New("npu: bank access out of range")

// AcceleratorOption configures an Accelerator.
type AcceleratorOption func(*Accelerator)

// WithAcceleratorLogger sets the logger used for executed commands.
func WithAcceleratorLogger(logger *slog.Logger) AcceleratorOption {
	return func(a *Accelerator) {
		a.logger = logger
	}
}

// Accelerator is a functional model of the NPU. It keeps NumBanks scratchpad
// banks and moves data between them and host memory over DMA.
type Accelerator struct {
	mu     sync.Mutex
	banks  [NumBanks]*mem.Storage
	logger *slog.Logger
}

// NewAccelerator creates an accelerator with zeroed banks.
func NewAccelerator(opts ...AcceleratorOption) *Accelerator {
	a := &Accelerator{logger: slog.Default()}

	for i := range a.banks {
		a.banks[i] = mem.NewStorage(BankSize)
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// Handle executes one command.
func (a *Accelerator) Handle(
	ctx context.Context,
	req *protocol.CmdReq,
	dma DMA,
) (uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.logger.Debug("npu execute",
		"op", insts.FunctName(req.Funct), "xs1", req.XS1, "xs2", req.XS2)

	switch req.Funct {
	case insts.FunctMvin:
		return 0, a.mvin(insts.DecodeMove(req.XS1, req.XS2), dma)
	case insts.FunctMvout:
		return 0, a.mvout(insts.DecodeMove(req.XS1, req.XS2), dma)
	case insts.FunctMgather:
		return 0, a.mgather(insts.DecodeGather(req.XS1, req.XS2), dma)
	case insts.FunctGemm:
		return 0, a.gemm(insts.DecodeGemm(req.XS1, req.XS2))
	case insts.FunctDecode, insts.FunctFence:
		return 0, nil
	case insts.FunctDecodeFinish:
		return 1, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownFunct, req.Funct)
	}
}

// ReadBank returns n bytes of a bank starting at offset.
func (a *Accelerator) ReadBank(bank uint8, offset, n uint64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.readBank(bank, offset, n)
}

// WriteBank stores data into a bank starting at offset.
func (a *Accelerator) WriteBank(bank uint8, offset uint64, data []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.writeBank(bank, offset, data)
}

func (a *Accelerator) checkBank(bank uint8, offset, n uint64) error {
	if int(bank) >= NumBanks || offset+n > BankSize {
		return fmt.Errorf("%w: bank %d [0x%x, 0x%x)",
			ErrBankRange, bank, offset, offset+n)
	}
	return nil
}

func (a *Accelerator) readBank(bank uint8, offset, n uint64) ([]byte, error) {
	if err := a.checkBank(bank, offset, n); err != nil {
		return nil, err
	}

	return a.banks[bank].Read(offset, n)
}

func (a *Accelerator) writeBank(bank uint8, offset uint64, data []byte) error {
	if err := a.checkBank(bank, offset, uint64(len(data))); err != nil {
		return err
	}

	return a.banks[bank].Write(offset, data)
}

func (a *Accelerator) mvin(cfg insts.MoveConfig, dma DMA) error {
	if err := a.checkBank(cfg.Bank, 0, cfg.Bytes()); err != nil {
		return err
	}

	data, err := dma.ReadBytes(uint64(cfg.Addr), cfg.Bytes())
	if err != nil {
		return fmt.Errorf("mvin: %w", err)
	}

	return a.writeBank(cfg.Bank, 0, data)
}

func (a *Accelerator) mvout(cfg insts.MoveConfig, dma DMA) error {
	data, err := a.readBank(cfg.Bank, 0, cfg.Bytes())
	if err != nil {
		return err
	}

	if err := dma.WriteBytes(uint64(cfg.Addr), data); err != nil {
		return fmt.Errorf("mvout: %w", err)
	}

	return nil
}

// mgather loads vector i from Base+Offsets[i] into row i of the bank.
func (a *Accelerator) mgather(cfg insts.GatherConfig, dma DMA) error {
	vlen := uint64(cfg.VLen)
	if err := a.checkBank(cfg.Bank, 0, vlen*insts.GatherOffsets); err != nil {
		return err
	}

	for i, off := range cfg.Offsets {
		addr := uint64(cfg.Base) + uint64(off)

		data, err := dma.ReadBytes(addr, vlen)
		if err != nil {
			return fmt.Errorf("mgather vector %d: %w", i, err)
		}

		if err := a.writeBank(cfg.Bank, uint64(i)*vlen, data); err != nil {
			return err
		}
	}

	return nil
}

// gemm computes C = A x B where A (bank Op1) and B (bank Op2) are row-major
// TileDim x TileDim int8 matrices and C (bank Op3) is row-major int32,
// little-endian.
func (a *Accelerator) gemm(cfg insts.GemmConfig) error {
	const n = TileDim

	lhs, err := a.readBank(cfg.Op1, 0, n*n)
	if err != nil {
		return err
	}

	rhs, err := a.readBank(cfg.Op2, 0, n*n)
	if err != nil {
		return err
	}

	out := make([]byte, n*n*4)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			var acc int32
			for k := 0; k < n; k++ {
				acc += int32(int8(lhs[i*n+k])) * int32(int8(rhs[k*n+j]))
			}
			binary.LittleEndian.PutUint32(out[(i*n+j)*4:], uint32(acc))
		}
	}

	return a.writeBank(cfg.Op3, 0, out)
}
