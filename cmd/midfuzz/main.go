// Command midfuzz drives grey-box fuzzing of a running ROS2-like middleware
// install: discovering its nodes, generating typed candidate calls, and
// supervising the node process for crashes and timing anomalies.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "midfuzz",
		Short: "Grey-box fuzzer for ROS2-like middleware nodes",
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newReplayCmd())
	return root
}
