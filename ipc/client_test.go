package ipc_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bebop/ipc"
	"github.com/sarchlab/bebop/protocol"
)

var _ = Describe("Client", func() {
	var (
		remote *fakeRemote
		client *ipc.Client
	)

	BeforeEach(func() {
		remote = newFakeRemote()
		client = ipc.NewClient(remote.config(),
			ipc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
		DeferCleanup(client.Shutdown)
	})

	Describe("Connect", func() {
		It("should open one connection per channel", func() {
			Expect(client.IsReady()).To(BeFalse())

			Expect(client.Connect(context.Background())).To(Succeed())
			Expect(client.IsReady()).To(BeTrue())

			remote.session()
			Expect(remote.accepted[chanCmd].Load()).To(Equal(int32(1)))
			Expect(remote.accepted[chanDMARead].Load()).To(Equal(int32(1)))
			Expect(remote.accepted[chanDMAWrite].Load()).To(Equal(int32(1)))
		})

		It("should be a no-op when already connected", func() {
			Expect(client.Connect(context.Background())).To(Succeed())
			Expect(client.Connect(context.Background())).To(Succeed())

			remote.session()
			Consistently(remote.accepted[chanCmd].Load, 100*time.Millisecond).
				Should(Equal(int32(1)))
			Expect(client.Stats().Connects).To(Equal(uint64(1)))
		})

		It("should close opened connections when a later one fails", func() {
			_ = remote.listeners[chanDMAWrite].Close()

			err := client.Connect(context.Background())

			Expect(err).To(HaveOccurred())
			Expect(client.IsReady()).To(BeFalse())

			var cmd net.Conn
			Eventually(remote.conns[chanCmd], time.Second).Should(Receive(&cmd))
			expectClosedByPeer(cmd)
		})
	})

	Describe("Execute", func() {
		It("should round-trip a fixed scalar", func() {
			go func() {
				defer GinkgoRecover()
				s := remote.session()

				req := &protocol.CmdReq{}
				Expect(protocol.ReadMsg(s[chanCmd], req)).To(Succeed())
				Expect(req.Funct).To(Equal(uint32(29)))
				Expect(req.XS1).To(Equal(uint64(0x1122)))
				Expect(req.XS2).To(Equal(uint64(0x3344)))

				Expect(protocol.WriteMsg(s[chanCmd], &protocol.CmdResp{Result: 42})).To(Succeed())
			}()

			result, err := client.Execute(context.Background(), 29, 0x1122, 0x3344, ipc.DMAHandlers{})

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(uint64(42)))
			Expect(client.Stats().Commands).To(Equal(uint64(1)))
		})

		It("should serve two DMA reads before the result arrives", func() {
			go func() {
				defer GinkgoRecover()
				s := remote.session()

				Expect(protocol.ReadMsg(s[chanCmd], &protocol.CmdReq{})).To(Succeed())

				var sum uint64
				for _, addr := range []uint64{0x10, 0x18} {
					req := &protocol.DMAReadReq{Addr: addr, Size: 8}
					Expect(protocol.WriteMsg(s[chanDMARead], req)).To(Succeed())

					resp := &protocol.DMAReadResp{}
					Expect(protocol.ReadMsg(s[chanDMARead], resp)).To(Succeed())
					sum += resp.Data.Lo
				}

				Expect(protocol.WriteMsg(s[chanCmd], &protocol.CmdResp{Result: sum})).To(Succeed())
			}()

			var reads atomic.Int32
			h := ipc.DMAHandlers{
				Read: func(addr uint64, size uint32) protocol.Data128 {
					reads.Add(1)
					return protocol.Data128{Lo: addr * 2}
				},
			}

			result, err := client.Execute(context.Background(), 24, 0, 0, h)

			Expect(err).NotTo(HaveOccurred())
			Expect(reads.Load()).To(Equal(int32(2)))
			Expect(result).To(Equal(uint64(0x20 + 0x30)))
			Expect(client.Stats().DMAReads).To(Equal(uint64(2)))
		})

		It("should serve a DMA write and acknowledge it", func() {
			go func() {
				defer GinkgoRecover()
				s := remote.session()

				Expect(protocol.ReadMsg(s[chanCmd], &protocol.CmdReq{})).To(Succeed())

				req := &protocol.DMAWriteReq{
					Addr: 0x40,
					Data: protocol.Data128{Lo: 1, Hi: 2},
					Size: 16,
				}
				Expect(protocol.WriteMsg(s[chanDMAWrite], req)).To(Succeed())
				Expect(protocol.ReadMsg(s[chanDMAWrite], &protocol.DMAWriteResp{})).To(Succeed())

				Expect(protocol.WriteMsg(s[chanCmd], &protocol.CmdResp{Result: 1})).To(Succeed())
			}()

			var got protocol.Data128
			h := ipc.DMAHandlers{
				Write: func(addr uint64, data protocol.Data128, size uint32) {
					Expect(addr).To(Equal(uint64(0x40)))
					Expect(size).To(Equal(uint32(16)))
					got = data
				},
			}

			result, err := client.Execute(context.Background(), 25, 0, 0, h)

			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(uint64(1)))
			Expect(got).To(Equal(protocol.Data128{Lo: 1, Hi: 2}))
		})

		DescribeTable("remote closing one channel mid-command",
			func(channel int) {
				go func() {
					defer GinkgoRecover()
					s := remote.session()

					Expect(protocol.ReadMsg(s[chanCmd], &protocol.CmdReq{})).To(Succeed())
					_ = s[channel].Close()
				}()

				result, err := client.Execute(context.Background(), 24, 1, 2, ipc.DMAHandlers{})

				Expect(result).To(BeZero())
				Expect(err).To(HaveOccurred())
				Expect(client.IsReady()).To(BeFalse())
				Expect(client.Stats().Failures).To(Equal(uint64(1)))

				remote.stopListening()
				Expect(client.SendAndWait(24, 1, 2)).To(BeZero())
				Expect(client.IsReady()).To(BeFalse())
			},
			Entry("command", chanCmd),
			Entry("dma read", chanDMARead),
			Entry("dma write", chanDMAWrite),
		)

		It("should report io.EOF when the command channel closes", func() {
			go func() {
				defer GinkgoRecover()
				s := remote.session()
				Expect(protocol.ReadMsg(s[chanCmd], &protocol.CmdReq{})).To(Succeed())
				_ = s[chanCmd].Close()
			}()

			_, err := client.Execute(context.Background(), 24, 0, 0, ipc.DMAHandlers{})

			Expect(errors.Is(err, io.EOF)).To(BeTrue())
		})

		It("should go down when the idle link is closed by the peer", func() {
			Expect(client.Connect(context.Background())).To(Succeed())
			s := remote.session()

			_ = s[chanDMAWrite].Close()

			Eventually(client.IsReady, time.Second).Should(BeFalse())
		})

		It("should reconnect on the next command after a failure", func() {
			go func() {
				defer GinkgoRecover()

				first := remote.session()
				Expect(protocol.ReadMsg(first[chanCmd], &protocol.CmdReq{})).To(Succeed())
				_ = first[chanDMARead].Close()

				second := remote.session()
				Expect(protocol.ReadMsg(second[chanCmd], &protocol.CmdReq{})).To(Succeed())
				Expect(protocol.WriteMsg(second[chanCmd], &protocol.CmdResp{Result: 9})).To(Succeed())
			}()

			_, err := client.Execute(context.Background(), 24, 0, 0, ipc.DMAHandlers{})
			Expect(err).To(HaveOccurred())

			result, err := client.Execute(context.Background(), 24, 0, 0, ipc.DMAHandlers{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(uint64(9)))
			Expect(remote.accepted[chanCmd].Load()).To(Equal(int32(2)))
		})

		It("should abort and tear down when the context expires", func() {
			go func() {
				defer GinkgoRecover()
				s := remote.session()
				Expect(protocol.ReadMsg(s[chanCmd], &protocol.CmdReq{})).To(Succeed())
			}()

			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()

			result, err := client.Execute(ctx, 24, 0, 0, ipc.DMAHandlers{})

			Expect(result).To(BeZero())
			Expect(err).To(MatchError(context.DeadlineExceeded))
			Expect(client.IsReady()).To(BeFalse())
		})

		It("should keep the session usable when cancelled after the result", func() {
			cancels := make(chan context.CancelFunc, 1)
			done := make(chan struct{})
			defer close(done)

			// Answer every command, then cancel the context it was sent
			// with. Sessions the client tears down are replaced.
			go func() {
				for {
					var cmd net.Conn
					select {
					case cmd = <-remote.conns[chanCmd]:
					case <-remote.conns[chanDMARead]:
						continue
					case <-remote.conns[chanDMAWrite]:
						continue
					case <-done:
						return
					}

					for {
						if protocol.ReadMsg(cmd, &protocol.CmdReq{}) != nil {
							break
						}
						if protocol.WriteMsg(cmd, &protocol.CmdResp{Result: 1}) != nil {
							break
						}
						(<-cancels)()
					}
				}
			}()

			for i := 0; i < 50; i++ {
				ctx, cancel := context.WithCancel(context.Background())
				cancels <- cancel

				result, err := client.Execute(ctx, 24, 0, 0, ipc.DMAHandlers{})
				if err != nil {
					Expect(err).To(MatchError(context.Canceled))
					continue
				}
				Expect(result).To(Equal(uint64(1)))
			}

			cancels <- func() {}
			result, err := client.Execute(context.Background(), 24, 0, 0, ipc.DMAHandlers{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(uint64(1)))
		})
	})

	Describe("DMA handler scoping", func() {
		// scriptReads answers each command with one DMA read and returns
		// what the host sent back.
		scriptReads := func(commands int) {
			go func() {
				defer GinkgoRecover()
				s := remote.session()

				for i := 0; i < commands; i++ {
					if protocol.ReadMsg(s[chanCmd], &protocol.CmdReq{}) != nil {
						return
					}

					req := &protocol.DMAReadReq{Addr: 0x100, Size: 8}
					if protocol.WriteMsg(s[chanDMARead], req) != nil {
						return
					}

					resp := &protocol.DMAReadResp{}
					if protocol.ReadMsg(s[chanDMARead], resp) != nil {
						return
					}

					_ = protocol.WriteMsg(s[chanCmd], &protocol.CmdResp{Result: resp.Data.Lo})
				}
			}()
		}

		constRead := func(v uint64) ipc.ReadFunc {
			return func(uint64, uint32) protocol.Data128 {
				return protocol.Data128{Lo: v}
			}
		}

		It("should not leak a command's handlers into the next command", func() {
			scriptReads(2)

			result, err := client.Execute(context.Background(), 24, 0, 0,
				ipc.DMAHandlers{Read: constRead(7)})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(uint64(7)))

			client.SetDMAHandlers(ipc.DMAHandlers{Read: constRead(3)})

			result, err = client.Execute(context.Background(), 24, 0, 0, ipc.DMAHandlers{})
			Expect(err).NotTo(HaveOccurred())
			Expect(result).To(Equal(uint64(3)))
		})

		It("should use the default handlers for SendAndWait", func() {
			scriptReads(1)
			client.SetDMAHandlers(ipc.DMAHandlers{Read: constRead(11)})

			Expect(client.SendAndWait(24, 0, 0)).To(Equal(uint64(11)))
		})

		It("should fail the command when no handler is bound", func() {
			scriptReads(1)

			result, err := client.Execute(context.Background(), 24, 0, 0, ipc.DMAHandlers{})

			Expect(result).To(BeZero())
			Expect(err).To(MatchError(ipc.ErrNoDMAHandler))
			Expect(client.IsReady()).To(BeFalse())
		})
	})

	Describe("Shutdown", func() {
		It("should be safe before connecting and when repeated", func() {
			client.Shutdown()

			Expect(client.Connect(context.Background())).To(Succeed())
			s := remote.session()

			client.Shutdown()
			client.Shutdown()

			Expect(client.IsReady()).To(BeFalse())
			expectClosedByPeer(s[chanCmd])
			expectClosedByPeer(s[chanDMARead])
			expectClosedByPeer(s[chanDMAWrite])
		})

		It("should fail an in-flight command with ErrClosed", func() {
			received := make(chan struct{})
			go func() {
				defer GinkgoRecover()
				s := remote.session()
				Expect(protocol.ReadMsg(s[chanCmd], &protocol.CmdReq{})).To(Succeed())
				close(received)
			}()

			go func() {
				<-received
				client.Shutdown()
			}()

			result, err := client.Execute(context.Background(), 24, 0, 0, ipc.DMAHandlers{})

			Expect(result).To(BeZero())
			Expect(err).To(MatchError(ipc.ErrClosed))
			Expect(client.IsReady()).To(BeFalse())
		})

		It("should satisfy io.Closer", func() {
			var closer io.Closer = client
			Expect(closer.Close()).To(Succeed())
		})
	})
})

func expectClosedByPeer(conn net.Conn) {
	GinkgoHelper()

	Expect(conn.SetReadDeadline(time.Now().Add(time.Second))).To(Succeed())
	_, err := conn.Read(make([]byte, 1))
	Expect(err).To(MatchError(io.EOF))
}
