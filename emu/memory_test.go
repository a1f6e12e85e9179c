package emu_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bebop/emu"
)

var _ = Describe("Memory", func() {
	var m *emu.Memory

	BeforeEach(func() {
		m = emu.NewMemory()
	})

	It("should read zero from untouched addresses", func() {
		Expect(m.Read64(0xdead_beef_0000)).To(BeZero())
	})

	It("should store multi-byte values little-endian", func() {
		m.Write32(0x100, 0x11223344)

		Expect(m.Read8(0x100)).To(Equal(byte(0x44)))
		Expect(m.Read8(0x103)).To(Equal(byte(0x11)))
		Expect(m.Read16(0x101)).To(Equal(uint16(0x2233)))
	})

	It("should handle accesses that straddle a page boundary", func() {
		m.Write64(0xFFC, 0x0102030405060708)

		Expect(m.Read64(0xFFC)).To(Equal(uint64(0x0102030405060708)))
		Expect(m.Read8(0x1000)).To(Equal(byte(0x04)))
	})

	It("should load instruction words in order", func() {
		m.LoadWords(0x400, []uint32{0xAABBCCDD, 0x11223344})

		Expect(m.Read32(0x400)).To(Equal(uint32(0xAABBCCDD)))
		Expect(m.Read32(0x404)).To(Equal(uint32(0x11223344)))
	})

	It("should tolerate concurrent byte accesses", func() {
		var wg sync.WaitGroup
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(base uint64) {
				defer wg.Done()
				for i := uint64(0); i < 256; i++ {
					m.Write8(base+i, byte(i))
				}
			}(uint64(g) * 0x1000)
		}
		wg.Wait()

		Expect(m.Read8(0x3000 + 255)).To(Equal(byte(255)))
	})
})
