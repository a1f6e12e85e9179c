package ipc_test

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bebop/config"
)

// Channel indices of a fakeRemote.
const (
	chanCmd = iota
	chanDMARead
	chanDMAWrite
)

// fakeRemote listens on three loopback ports and hands every accepted
// connection to the test, so that tests can script the NPU side frame by
// frame.
type fakeRemote struct {
	listeners [3]net.Listener
	accepted  [3]atomic.Int32
	conns     [3]chan net.Conn

	mu    sync.Mutex
	owned []net.Conn
	wg    sync.WaitGroup
}

func newFakeRemote() *fakeRemote {
	r := &fakeRemote{}

	for i := range r.listeners {
		l, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		r.listeners[i] = l
		r.conns[i] = make(chan net.Conn, 8)

		r.wg.Add(1)
		go r.acceptLoop(i)
	}

	DeferCleanup(r.close)

	return r
}

func (r *fakeRemote) acceptLoop(i int) {
	defer r.wg.Done()

	for {
		conn, err := r.listeners[i].Accept()
		if err != nil {
			return
		}

		r.accepted[i].Add(1)

		r.mu.Lock()
		r.owned = append(r.owned, conn)
		r.mu.Unlock()

		r.conns[i] <- conn
	}
}

func (r *fakeRemote) config() *config.Config {
	cfg := config.DefaultConfig()
	cfg.DialTimeoutMs = 1000

	ports := []*int{&cfg.CmdPort, &cfg.DMAReadPort, &cfg.DMAWritePort}
	for i, l := range r.listeners {
		_, port, err := net.SplitHostPort(l.Addr().String())
		Expect(err).NotTo(HaveOccurred())

		*ports[i], err = strconv.Atoi(port)
		Expect(err).NotTo(HaveOccurred())
	}

	return cfg
}

// session returns the next accepted connection on each channel.
func (r *fakeRemote) session() [3]net.Conn {
	var s [3]net.Conn
	for i := range s {
		Eventually(r.conns[i], time.Second).Should(Receive(&s[i]))
	}
	return s
}

// stopListening closes the listeners so that later connects are refused.
func (r *fakeRemote) stopListening() {
	for _, l := range r.listeners {
		_ = l.Close()
	}
}

func (r *fakeRemote) close() {
	r.stopListening()
	r.wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, c := range r.owned {
		_ = c.Close()
	}
}
