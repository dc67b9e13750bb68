package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/ironlink/pki"
)

var (
	keyValidity time.Duration
	keyForce    bool
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate the node key and self-signed certificate",
	Long: `Generate an RSA-2048 node key and a self-signed certificate whose common
name is the node id. Register the certificate with the server before logging in.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		certPath, err := writeNodeKey(dataDir, nodeID, keyValidity, keyForce)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Node %s key written to %s\nRegister this certificate with the server: %s\n",
			nodeID, dataDir, certPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
	keygenCmd.Flags().DurationVar(&keyValidity, "validity", pki.DefaultCertValidity, "Certificate lifetime")
	keygenCmd.Flags().BoolVar(&keyForce, "force", false, "Replace an existing key")
}
