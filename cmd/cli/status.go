package cli

import (
	"github.com/spf13/cobra"
)

var rpcURLFlag = ""

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "query the status of a running process",
	Run: func(cmd *cobra.Command, args []string) {
		writeToConsole(newClient(rpcURLFlag).Status())
	},
}

var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "send the start signal to a running process over rpc",
	Run: func(cmd *cobra.Command, args []string) {
		writeToConsole(newClient(rpcURLFlag).Start())
	},
}

func init() {
	statusCmd.Flags().StringVar(&rpcURLFlag, "rpc", "", "the rpc url of the process, defaults to the configured url")
	releaseCmd.Flags().StringVar(&rpcURLFlag, "rpc", "", "the rpc url of the process, defaults to the configured url")
}
