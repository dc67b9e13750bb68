package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Revoke the node session and forget all saved state",
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

		// Local state is cleared even if the server cannot be reached.
		if err := c.users.Logout(cmd.Context()); err != nil {
			logger.Warn("server-side revoke failed", "error", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}
