package serve

import (
	"fmt"
	"github.com/ValentinKolb/dCloud/cmd/util"
	"github.com/ValentinKolb/dCloud/lib/cloud"
	"github.com/ValentinKolb/dCloud/lib/membership"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"os/signal"
	"slices"
	"syscall"
)

var (
	serveCmdConfig = common.DefaultNodeConfig("")
	membersFile    string
	ServeCmd       = &cobra.Command{
		Use:     "serve",
		Short:   "Start a dCloud node",
		Long:    `Start a dCloud node with the specified configuration. The configuration can be set via command line flags or environment variables. The format of the environment variables is DCLOUD_<flag> (e.g. DCLOUD_MEMORY_LIMIT=512)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	// initialize viper
	cobra.OnInitialize(util.InitConfig)

	// add flags
	key := "endpoint"
	ServeCmd.PersistentFlags().String(key, "127.0.0.1:7000", util.WrapString("The address (host:port) the node listens on for datagrams and streams. Other members reach the node under this address, so it must match the node's entry in the member list"))

	key = "members"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Comma-separated, ordered list of all members (host:port). Every member must use the same list"))

	key = "members-file"
	ServeCmd.PersistentFlags().String(key, "", util.WrapString("Flatfile with one member per line, used instead of --members. The file is read again on SIGHUP"))

	key = "client"
	ServeCmd.PersistentFlags().Bool(key, false, util.WrapString("Run in client mode: the node takes part in the protocol but is never home of a key and caches nothing"))

	key = "admin-endpoint"
	ServeCmd.PersistentFlags().String(key, "127.0.0.1:8080", util.WrapString("The address of the admin HTTP server (empty disables it)"))

	key = "memory-limit"
	ServeCmd.PersistentFlags().Int64(key, 0, util.WrapString("Memory limit for cached values in MiB. Above the limit home values are spilled to the backend and replicas are dropped (0 disables the limit)"))

	key = "backend"
	ServeCmd.PersistentFlags().String(key, "memory", util.WrapString("The persistence backend spilled values are written to (memory, disk)"))

	key = "data-dir"
	ServeCmd.PersistentFlags().String(key, "data", util.WrapString("The directory of the disk backend"))

	key = "max-packet-size"
	ServeCmd.PersistentFlags().Int(key, common.DefaultMaxPacketSize, util.WrapString("Messages up to this size are sent as a single datagram, larger ones over a stream connection"))

	key = "connections-per-peer"
	ServeCmd.PersistentFlags().Int(key, common.DefaultConnectionsPerPeer, util.WrapString("The number of pooled stream connections per peer"))

	key = "retry-initial"
	ServeCmd.PersistentFlags().Duration(key, common.DefaultRetryInitial, util.WrapString("The first resend deadline of a call, doubled on every retry"))

	key = "retry-max"
	ServeCmd.PersistentFlags().Duration(key, common.DefaultRetryMax, util.WrapString("The largest resend deadline of a call"))

	key = "scheduler-levels"
	ServeCmd.PersistentFlags().Int(key, common.DefaultSchedulerLevels, util.WrapString("The number of task priorities"))

	key = "workers-per-level"
	ServeCmd.PersistentFlags().Int(key, common.DefaultWorkersPerLevel, util.WrapString("The worker budget of every priority"))

	key = "write-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("The socket write buffer size in KB (0 keeps the OS default)"))

	key = "read-buffer"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("The socket read buffer size in KB (0 keeps the OS default)"))

	key = "tcp-nodelay"
	ServeCmd.PersistentFlags().Bool(key, true, util.WrapString("Whether to enable TCP_NODELAY on stream connections"))

	key = "tcp-keepalive"
	ServeCmd.PersistentFlags().Int(key, 0, util.WrapString("The keepalive interval of stream connections in seconds (0 keeps the OS default)"))

	key = "tcp-linger"
	ServeCmd.PersistentFlags().Int(key, -1, util.WrapString("The linger time of stream connections in seconds (-1 keeps the OS default)"))

	key = "log-level"
	ServeCmd.PersistentFlags().String(key, "info", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the configuration from the command line flags and environment variables and converts them to the node configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	// bind the flags to viper
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	serveCmdConfig.Transport.Endpoint = viper.GetString("endpoint")
	serveCmdConfig.Transport.MaxPacketSize = viper.GetInt("max-packet-size")
	serveCmdConfig.Transport.WriteBufferSize = viper.GetInt("write-buffer") * 1024
	serveCmdConfig.Transport.ReadBufferSize = viper.GetInt("read-buffer") * 1024
	serveCmdConfig.Transport.TCPNoDelay = viper.GetBool("tcp-nodelay")
	serveCmdConfig.Transport.TCPKeepAliveSec = viper.GetInt("tcp-keepalive")
	serveCmdConfig.Transport.TCPLingerSec = viper.GetInt("tcp-linger")

	serveCmdConfig.Messenger.ConnectionsPerPeer = viper.GetInt("connections-per-peer")
	serveCmdConfig.Messenger.RetryInitial = viper.GetDuration("retry-initial")
	serveCmdConfig.Messenger.RetryMax = viper.GetDuration("retry-max")

	serveCmdConfig.Scheduler.Levels = viper.GetInt("scheduler-levels")
	serveCmdConfig.Scheduler.WorkersPerLevel = viper.GetInt("workers-per-level")

	serveCmdConfig.Store.MemoryLimit = viper.GetInt64("memory-limit") << 20
	serveCmdConfig.Store.Backend = viper.GetString("backend")
	serveCmdConfig.Store.DataDir = viper.GetString("data-dir")

	serveCmdConfig.ClientMode = viper.GetBool("client")
	serveCmdConfig.AdminEndpoint = viper.GetString("admin-endpoint")
	serveCmdConfig.LogLevel = viper.GetString("log-level")

	if serveCmdConfig.Transport.MaxPacketSize <= 0 || serveCmdConfig.Transport.MaxPacketSize > 64*1024 {
		return fmt.Errorf("max-packet-size must be between 1 and %d", 64*1024)
	}
	if serveCmdConfig.Scheduler.Levels < 4 {
		return fmt.Errorf("scheduler-levels must be at least 4")
	}

	// parse members
	membersFile = viper.GetString("members-file")
	if membersFile != "" {
		members, err := membership.LoadFlatfile(membersFile)
		if err != nil {
			return fmt.Errorf("failed to read members file: %w", err)
		}
		serveCmdConfig.Members = members
	} else {
		serveCmdConfig.Members = util.SplitList(viper.GetString("members"))
	}

	// a member must find itself in the member list
	if len(serveCmdConfig.Members) > 0 && !serveCmdConfig.ClientMode &&
		!slices.Contains(serveCmdConfig.Members, serveCmdConfig.Transport.Endpoint) {
		return fmt.Errorf("endpoint %s is not in the member list %v", serveCmdConfig.Transport.Endpoint, serveCmdConfig.Members)
	}
	if serveCmdConfig.ClientMode && len(serveCmdConfig.Members) == 0 {
		return fmt.Errorf("a client mode node needs a member list")
	}

	return nil
}

// run starts the node and blocks until SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	// Init logger
	common.InitLoggers(serveCmdConfig)
	cloud.Logger.Infof("Starting node\n%s", serveCmdConfig.String())

	members := membership.NewStatic(serveCmdConfig.Members)
	node, err := cloud.NewNode(serveCmdConfig, nil, members)
	if err != nil {
		return err
	}
	if err := node.Start(); err != nil {
		return err
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(signals)

	for sig := range signals {
		if sig != syscall.SIGHUP {
			cloud.Logger.Infof("Received %s, shutting down", sig)
			break
		}
		if membersFile == "" {
			cloud.Logger.Warningf("Received SIGHUP without a members file, ignoring")
			continue
		}
		updated, err := membership.LoadFlatfile(membersFile)
		if err != nil {
			cloud.Logger.Errorf("Failed to reload members: %v", err)
			continue
		}
		members.Update(updated)
		node.Messenger().Announce(updated)
	}

	return node.Close()
}
