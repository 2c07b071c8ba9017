// Command rfbd runs an RFB protocol endpoint: it accepts connections over
// TCP and/or WebSocket, drives the handshake and security negotiation, and
// logs every decoded client message.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rfbd",
		Short: "RFB protocol endpoint daemon",
		Long: `rfbd terminates the RFB (VNC-family) wire protocol: version
handshake, security negotiation, and client message decoding. Decoded
packets are logged; framebuffer contents are up to the embedding
application.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("rfbd %s (%s)\n", version, commit)
		},
	}
}
