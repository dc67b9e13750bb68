package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironlink/handshake"
	"github.com/jmcleod/ironlink/protocol"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the saved channel, node session and user",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		c, err := openClient(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.orch.Hydrate(cmd.Context()); err != nil {
			logger.Warn("saved state unreadable", "error", err)
		}
		printStatus(cmd.OutOrStdout(), c)
		return nil
	},
}

func printStatus(w io.Writer, c *client) {
	st := c.orch.Status()
	fmt.Fprintf(w, "state     %s\n", st.State)
	if st.ChannelID != "" {
		fmt.Fprintf(w, "channel   %s (expires %s)\n", st.ChannelID, protocol.FormatTimestamp(st.ChannelExpiresAt))
	}
	if st.State == handshake.StateSessionReady {
		fmt.Fprintf(w, "node      %s (session expires %s)\n", st.NodeID, protocol.FormatTimestamp(st.SessionExpiresAt))
		if len(st.Capabilities) > 0 {
			fmt.Fprintf(w, "can       %s\n", strings.Join(st.Capabilities, ", "))
		}
	}
	if tok, ok := c.users.Token(); ok {
		fmt.Fprintf(w, "user      %s (token expires %s)\n", tok.User.Login, protocol.FormatTimestamp(tok.ExpiresAt))
	} else {
		fmt.Fprintln(w, "user      not logged in")
	}
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
