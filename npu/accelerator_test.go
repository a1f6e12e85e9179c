package npu_test

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bebop/insts"
	"github.com/sarchlab/bebop/npu"
	"github.com/sarchlab/bebop/protocol"
)

// hostMemory is a DMA backed by a sparse byte map. It records the size of
// every access so that tests can check how transfers are split.
type hostMemory struct {
	bytes   map[uint64]byte
	reads   []uint32
	writes  []uint32
	failAll error
}

func newHostMemory() *hostMemory {
	return &hostMemory{bytes: make(map[uint64]byte)}
}

func (h *hostMemory) Read(addr uint64, size uint32) (protocol.Data128, error) {
	if h.failAll != nil {
		return protocol.Data128{}, h.failAll
	}

	h.reads = append(h.reads, size)

	buf := make([]byte, size)
	for i := range buf {
		buf[i] = h.bytes[addr+uint64(i)]
	}

	return protocol.PackBytes(buf), nil
}

func (h *hostMemory) Write(addr uint64, data protocol.Data128, size uint32) error {
	if h.failAll != nil {
		return h.failAll
	}

	h.writes = append(h.writes, size)

	for i, b := range data.Bytes(size) {
		h.bytes[addr+uint64(i)] = b
	}

	return nil
}

func (h *hostMemory) ReadBytes(addr uint64, n uint64) ([]byte, error) {
	out := make([]byte, 0, n)
	for off := uint64(0); off < n; {
		size := uint32(16)
		if n-off < 16 {
			size = 1
		}

		data, err := h.Read(addr+off, size)
		if err != nil {
			return nil, err
		}

		out = append(out, data.Bytes(size)...)
		off += uint64(size)
	}

	return out, nil
}

func (h *hostMemory) WriteBytes(addr uint64, data []byte) error {
	for off := 0; off < len(data); off++ {
		if err := h.Write(addr+uint64(off), protocol.Data128{Lo: uint64(data[off])}, 1); err != nil {
			return err
		}
	}

	return nil
}

func (h *hostMemory) load(addr uint64, data []byte) {
	for i, b := range data {
		h.bytes[addr+uint64(i)] = b
	}
}

func (h *hostMemory) slice(addr uint64, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = h.bytes[addr+uint64(i)]
	}
	return out
}

var _ = Describe("Accelerator", func() {
	var (
		acc  *npu.Accelerator
		host *hostMemory
	)

	exec := func(funct uint32, xs1, xs2 uint64) (uint64, error) {
		req := &protocol.CmdReq{Funct: funct, XS1: xs1, XS2: xs2}
		return acc.Handle(context.Background(), req, host)
	}

	BeforeEach(func() {
		acc = npu.NewAccelerator(npu.WithAcceleratorLogger(
			slog.New(slog.NewTextHandler(io.Discard, nil))))
		host = newHostMemory()
	})

	Context("MVIN", func() {
		It("should copy depth rows of stride bytes into the bank", func() {
			src := []byte("the quick brown fox jumps over the lazy dog!")
			host.load(0x2000, src)

			xs1, xs2 := insts.MoveConfig{Addr: 0x2000, Bank: 5, Depth: 4, Stride: 11}.Encode()
			result, err := exec(insts.FunctMvin, xs1, xs2)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(BeZero())

			bank, err := acc.ReadBank(5, 0, 44)
			Expect(err).NotTo(HaveOccurred())
			Expect(bank).To(Equal(src))
		})

		It("should fail without touching host memory when the bank overflows", func() {
			xs1, xs2 := insts.MoveConfig{Addr: 0, Bank: 0, Depth: 1023, Stride: 2048}.Encode()

			_, err := exec(insts.FunctMvin, xs1, xs2)

			Expect(err).To(MatchError(npu.ErrBankRange))
			Expect(host.reads).To(BeEmpty())
		})

		It("should report DMA failures", func() {
			host.failAll = errors.New("link down")
			xs1, xs2 := insts.MoveConfig{Addr: 0, Bank: 0, Depth: 1, Stride: 16}.Encode()

			_, err := exec(insts.FunctMvin, xs1, xs2)

			Expect(err).To(MatchError(host.failAll))
		})
	})

	Context("MVOUT", func() {
		It("should copy the bank back to host memory", func() {
			Expect(acc.WriteBank(2, 0, []byte{1, 2, 3, 4, 5, 6})).To(Succeed())

			xs1, xs2 := insts.MoveConfig{Addr: 0x300, Bank: 2, Depth: 2, Stride: 3}.Encode()
			_, err := exec(insts.FunctMvout, xs1, xs2)

			Expect(err).NotTo(HaveOccurred())
			Expect(host.slice(0x300, 7)).To(Equal([]byte{1, 2, 3, 4, 5, 6, 0}))
			Expect(host.writes).To(HaveLen(6))
		})
	})

	Context("MGATHER", func() {
		It("should load vector i from base plus offset i into row i", func() {
			for i := 0; i < 256; i++ {
				host.bytes[0x1000+uint64(i)] = byte(i)
			}

			g := insts.GatherConfig{
				Base:    0x1000,
				VLen:    4,
				Bank:    7,
				Offsets: [8]uint8{0, 100, 8, 200, 16, 4, 252, 40},
			}
			xs1, xs2 := g.Encode()

			_, err := exec(insts.FunctMgather, xs1, xs2)
			Expect(err).NotTo(HaveOccurred())

			bank, err := acc.ReadBank(7, 0, 32)
			Expect(err).NotTo(HaveOccurred())
			for i, off := range g.Offsets {
				want := []byte{off, off + 1, off + 2, off + 3}
				Expect(bank[i*4 : i*4+4]).To(Equal(want), "vector %d", i)
			}
		})
	})

	Context("GEMM", func() {
		It("should multiply signed int8 tiles into int32", func() {
			const n = npu.TileDim

			lhs := make([]byte, n*n)
			rhs := make([]byte, n*n)
			for i := 0; i < n; i++ {
				lhs[i*n+i] = 2
				for j := 0; j < n; j++ {
					rhs[i*n+j] = byte(int8(i - j))
				}
			}
			lhs[0*n+1] = byte(0xFF) // -1

			Expect(acc.WriteBank(0, 0, lhs)).To(Succeed())
			Expect(acc.WriteBank(1, 0, rhs)).To(Succeed())

			xs1, xs2 := insts.GemmConfig{Op1: 0, Op2: 1, Op3: 4}.Encode()
			_, err := exec(insts.FunctGemm, xs1, xs2)
			Expect(err).NotTo(HaveOccurred())

			out, err := acc.ReadBank(4, 0, n*n*4)
			Expect(err).NotTo(HaveOccurred())

			at := func(i, j int) int32 {
				return int32(binary.LittleEndian.Uint32(out[(i*n+j)*4:]))
			}

			// Row 0 is 2*rhs[0] - rhs[1].
			Expect(at(0, 0)).To(Equal(int32(2*0 - 1)))
			Expect(at(0, 5)).To(Equal(int32(2*(-5) - (1 - 5))))
			// Other rows are 2*rhs[i].
			Expect(at(3, 7)).To(Equal(int32(2 * (3 - 7))))
			Expect(at(15, 0)).To(Equal(int32(30)))
		})

		It("should reject a bank index outside the scratchpad", func() {
			xs1, xs2 := insts.GemmConfig{Op1: 0, Op2: 1, Op3: npu.NumBanks}.Encode()

			_, err := exec(insts.FunctGemm, xs1, xs2)

			Expect(err).To(MatchError(npu.ErrBankRange))
		})
	})

	DescribeTable("control functions",
		func(funct uint32, want uint64) {
			result, err := exec(funct, 0, 0)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(want))
		},
		Entry("decode finish reports completion", insts.FunctDecodeFinish, uint64(1)),
		Entry("decode is accepted", insts.FunctDecode, uint64(0)),
		Entry("fence is a no-op", insts.FunctFence, uint64(0)),
	)

	It("should reject unknown function codes", func() {
		_, err := exec(30, 0, 0)

		Expect(err).To(MatchError(npu.ErrUnknownFunct))
	})

	It("should bound direct bank access", func() {
		_, err := acc.ReadBank(0, npu.BankSize-4, 8)
		Expect(err).To(MatchError(npu.ErrBankRange))

		Expect(acc.WriteBank(npu.NumBanks, 0, []byte{1})).To(MatchError(npu.ErrBankRange))
	})
})
