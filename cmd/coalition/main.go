// Command coalition talks to a coalition server over it's json api.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// defaultAddr is used when neither --addr nor COALITION_ADDR is set.
const defaultAddr = "localhost:19211"

func newRootCmd() *cobra.Command {
	var addr string
	cli := &client{}
	root := &cobra.Command{
		Use:           "coalition",
		Short:         "Submit and control jobs of a coalition farm",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if addr == "" {
				addr = os.Getenv("COALITION_ADDR")
			}
			if addr == "" {
				addr = defaultAddr
			}
			cli.addr = addr
		},
	}
	root.PersistentFlags().StringVar(&addr, "addr", "", "address of the server (default $COALITION_ADDR or "+defaultAddr+")")

	root.AddCommand(
		newAddCmd(cli),
		newBulkCmd(cli),
		newListCmd(cli),
		newUpdateCmd(cli),
		newWorkersCmd(cli),
	)
	for _, op := range jobOps {
		root.AddCommand(newJobOpCmd(cli, op))
	}
	return root
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
