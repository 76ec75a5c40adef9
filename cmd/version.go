// File: cmd/version.go
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is the application version.
// This value is intended to be set at build time using ldflags.
// Example: go build -ldflags "-X github.com/kv4sh0x/capture-cli/cmd.Version=1.0.0"
var Version = "0.1.0"

// newVersionCmd reports the build version without touching the capture
// pipeline.
func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the capture-cli version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "capture-cli %s\n", Version)
		},
	}
}
