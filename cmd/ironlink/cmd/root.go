package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=...".
var Version = "dev"

var (
	serverURL string
	dataDir   string
	nodeID    string
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:   "ironlink",
	Short: "IronLink secure channel client and reference responder",
	Long: `IronLink establishes an encrypted, authenticated channel to a server,
proves the node's identity with its private key and logs a user in over it.
Complete documentation is available at https://github.com/jmcleod/ironlink`,
	SilenceUsage: true,
}

func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8443", "Base URL of the IronLink server")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Directory for node keys and saved state")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node-id", "", "Node identity (defaults to the certificate common name)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
}

func newLogger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(logLevel))); err != nil {
		return nil, fmt.Errorf("invalid --log-level %q", logLevel)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}
