package cloud

import (
	"encoding/json"
	"fmt"
	"github.com/ValentinKolb/dCloud/cmd/util"
	"github.com/ValentinKolb/dCloud/rpc/client"
	"github.com/spf13/cobra"
	"os"
	"strings"
)

var (
	adminClient *client.Client

	// CloudCommands represents the cloud command group
	CloudCommands = &cobra.Command{
		Use:               "cloud",
		Short:             "Inspect a running cloud through one of its nodes",
		PersistentPreRunE: setupCloudClient,
	}

	infoCmd = &cobra.Command{
		Use:   "info",
		Short: "Prints the members and peers known to the node",
		Args:  cobra.NoArgs,
		RunE:  runInfo,
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Prints the store statistics and timers of the node as JSON",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	}

	healthCmd = &cobra.Command{
		Use:   "health",
		Short: "Checks whether the node is up",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := adminClient.Health(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("healthy=true")
			return nil
		},
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	util.SetupClientFlags(CloudCommands)

	CloudCommands.AddCommand(infoCmd)
	CloudCommands.AddCommand(statsCmd)
	CloudCommands.AddCommand(healthCmd)
}

func setupCloudClient(cmd *cobra.Command, _ []string) (err error) {
	adminClient, err = util.NewClient(cmd)
	return err
}

func runInfo(cmd *cobra.Command, _ []string) error {
	info, err := adminClient.Cloud(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Printf("self=%s, epoch=%d, client=%t, uptime=%s\n", info.Self, info.Epoch, info.ClientMode, info.Uptime)
	fmt.Printf("generation=%d, members=%s\n", info.Generation, strings.Join(info.Members, ","))
	fmt.Println()
	fmt.Printf("%-24s%-8s%-12s%-8s%s\n", "PEER", "HANDLE", "EPOCH", "LEDGER", "PENDING")
	for _, p := range info.Peers {
		fmt.Printf("%-24s%-8d%-12d%-8d%d\n", p.Addr, p.Handle, p.Epoch, p.Ledger, p.Pending)
	}
	return nil
}

func runStats(cmd *cobra.Command, _ []string) error {
	stats, err := adminClient.Stats(cmd.Context())
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(stats)
}
