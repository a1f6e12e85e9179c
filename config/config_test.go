package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/bebop/config"
)

var _ = Describe("Config", func() {
	var tempDir string

	BeforeEach(func() {
		tempDir = GinkgoT().TempDir()
	})

	Describe("DefaultConfig", func() {
		It("should point at the three loopback ports", func() {
			c := config.DefaultConfig()

			Expect(c.CmdAddr()).To(Equal("127.0.0.1:6000"))
			Expect(c.DMAReadAddr()).To(Equal("127.0.0.1:6001"))
			Expect(c.DMAWriteAddr()).To(Equal("127.0.0.1:6002"))
			Expect(c.DialTimeout()).To(Equal(5 * time.Second))
			Expect(c.SlogLevel()).To(Equal(slog.LevelInfo))
			Expect(c.Validate()).To(Succeed())
		})
	})

	Describe("LoadConfig", func() {
		It("should keep defaults for missing fields", func() {
			path := filepath.Join(tempDir, "bebop.json")
			Expect(os.WriteFile(path, []byte(`{"cmd_port": 7000}`), 0644)).To(Succeed())

			c, err := config.LoadConfig(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(c.CmdPort).To(Equal(7000))
			Expect(c.DMAReadPort).To(Equal(6001))
			Expect(c.Host).To(Equal("127.0.0.1"))
		})

		It("should fail on a missing file", func() {
			_, err := config.LoadConfig(filepath.Join(tempDir, "missing.json"))
			Expect(err).To(HaveOccurred())
		})

		It("should fail on malformed JSON", func() {
			path := filepath.Join(tempDir, "bad.json")
			Expect(os.WriteFile(path, []byte(`{`), 0644)).To(Succeed())

			_, err := config.LoadConfig(path)
			Expect(err).To(HaveOccurred())
		})

		It("should load what SaveConfig wrote", func() {
			path := filepath.Join(tempDir, "saved.json")
			c := config.DefaultConfig()
			c.Host = "10.0.0.2"
			c.LogLevel = "debug"
			Expect(c.SaveConfig(path)).To(Succeed())

			loaded, err := config.LoadConfig(path)

			Expect(err).NotTo(HaveOccurred())
			Expect(loaded).To(Equal(c))
		})
	})

	Describe("Validate", func() {
		var c *config.Config

		BeforeEach(func() {
			c = config.DefaultConfig()
		})

		It("should reject an empty host", func() {
			c.Host = ""
			Expect(c.Validate()).NotTo(Succeed())
		})

		It("should reject out-of-range ports", func() {
			c.DMAWritePort = 70000
			Expect(c.Validate()).NotTo(Succeed())
		})

		It("should report the first invalid port in field order", func() {
			c.CmdPort, c.DMAReadPort, c.DMAWritePort = -1, 70000, 80000

			Expect(c.Validate()).To(MatchError(ContainSubstring("cmd_port")))

			c.CmdPort = 0
			Expect(c.Validate()).To(MatchError(ContainSubstring("dma_read_port")))
		})

		It("should reject duplicated ports", func() {
			c.DMAReadPort = c.CmdPort
			Expect(c.Validate()).NotTo(Succeed())
		})

		It("should accept all-zero ports for listeners", func() {
			c.CmdPort, c.DMAReadPort, c.DMAWritePort = 0, 0, 0
			Expect(c.Validate()).To(Succeed())
		})

		It("should reject unknown log levels", func() {
			c.LogLevel = "loud"
			Expect(c.Validate()).NotTo(Succeed())
			Expect(c.SlogLevel()).To(Equal(slog.LevelInfo))
		})
	})

	Describe("Clone", func() {
		It("should not share state with its source", func() {
			c := config.DefaultConfig()
			clone := c.Clone()
			clone.CmdPort = 1234

			Expect(c.CmdPort).To(Equal(6000))
		})
	})

	Describe("Environment overlay", func() {
		It("should apply keys from a .env file", func() {
			path := filepath.Join(tempDir, ".env")
			content := "BEBOP_HOST=192.168.1.9\n" +
				"BEBOP_CMD_PORT=7100\n" +
				"BEBOP_LOG_LEVEL=debug\n"
			Expect(os.WriteFile(path, []byte(content), 0644)).To(Succeed())

			c := config.DefaultConfig()
			Expect(c.ApplyEnvFile(path)).To(Succeed())

			Expect(c.Host).To(Equal("192.168.1.9"))
			Expect(c.CmdPort).To(Equal(7100))
			Expect(c.DMAReadPort).To(Equal(6001))
			Expect(c.SlogLevel()).To(Equal(slog.LevelDebug))
		})

		It("should reject a non-numeric port", func() {
			c := config.DefaultConfig()
			err := c.ApplyEnv(map[string]string{config.EnvDMAReadPort: "abc"})
			Expect(err).To(HaveOccurred())
		})

		It("should read the process environment", func() {
			GinkgoT().Setenv(config.EnvDMAWritePort, "7302")

			c := config.DefaultConfig()
			Expect(c.ApplyProcessEnv()).To(Succeed())
			Expect(c.DMAWritePort).To(Equal(7302))
		})
	})
})
