package cmd

import (
	"fmt"
	"github.com/ValentinKolb/dCloud/cmd/cloud"
	"github.com/ValentinKolb/dCloud/cmd/kv"
	"github.com/ValentinKolb/dCloud/cmd/lock"
	"github.com/ValentinKolb/dCloud/cmd/mr"
	"github.com/ValentinKolb/dCloud/cmd/serve"
	"github.com/spf13/cobra"
	"os"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "dcloud",
		Short: "distributed in-memory key-value cloud with map/reduce",
		Long: fmt.Sprintf(`dCloud (v%s)

A peer-to-peer cloud of nodes sharing a coherent in-memory key-value
store. Every key has a single home node, reads are cached on other
nodes and invalidated on write, and partitioned datasets can be
processed with cluster-wide map/reduce jobs.`, Version),
		SilenceUsage: true,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of dCloud",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("dCloud v%s\n", Version)
		},
	}
)

func init() {
	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(kv.KeyValueCommands)
	RootCmd.AddCommand(lock.LockCommands)
	RootCmd.AddCommand(cloud.CloudCommands)
	RootCmd.AddCommand(mr.MapReduceCommands)
	RootCmd.AddCommand(versionCmd)
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
