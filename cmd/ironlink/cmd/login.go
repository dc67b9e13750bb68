package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironlink/protocol"
)

const passwordEnv = "IRONLINK_PASSWORD"

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Establish the secure channel and log a user in",
	Long: `Run the full handshake with the server, then log the user in over the
encrypted channel. The password is read from $IRONLINK_PASSWORD or, if unset,
from the first line of standard input. Channel, node session and user token
are saved sealed in the data directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger()
		if err != nil {
			return err
		}
		password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr())
		if err != nil {
			return err
		}

		c, err := openClient(cmd.Context(), logger)
		if err != nil {
			return err
		}
		defer c.Close()

		tok, err := c.users.Login(cmd.Context(), args[0], password)
		if err != nil {
			return err
		}
		st := c.orch.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s via node %s\n", tok.User.Login, st.NodeID)
		fmt.Fprintf(cmd.OutOrStdout(), "  token expires  %s\n", protocol.FormatTimestamp(tok.ExpiresAt))
		fmt.Fprintf(cmd.OutOrStdout(), "  channel        %s (expires %s)\n", st.ChannelID, protocol.FormatTimestamp(st.ChannelExpiresAt))
		return nil
	},
}

func readPassword(in io.Reader, prompt io.Writer) (string, error) {
	if pw := os.Getenv(passwordEnv); pw != "" {
		return pw, nil
	}
	fmt.Fprint(prompt, "Password: ")
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	pw := strings.TrimRight(line, "\r\n")
	if pw == "" {
		return "", errors.New("empty password")
	}
	return pw, nil
}

func init() {
	rootCmd.AddCommand(loginCmd)
}
