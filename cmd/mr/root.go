package mr

import (
	"bufio"
	"fmt"
	"github.com/ValentinKolb/dCloud/cmd/util"
	"github.com/ValentinKolb/dCloud/lib/cloud"
	"github.com/ValentinKolb/dCloud/lib/membership"
	"github.com/ValentinKolb/dCloud/lib/mr"
	"github.com/ValentinKolb/dCloud/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"os"
	"strconv"
	"strings"
)

var (
	node *cloud.Node

	// MapReduceCommands represents the map/reduce command group. Its commands join
	// the cloud as a client mode node for the duration of the command.
	MapReduceCommands = &cobra.Command{
		Use:                "mr",
		Short:              "Load datasets and run map/reduce jobs",
		PersistentPreRunE:  joinCloud,
		PersistentPostRunE: leaveCloud,
	}

	loadCmd = &cobra.Command{
		Use:   "load [name] [file]",
		Short: "Stores a file with one integer per line as dataset",
		Args:  cobra.ExactArgs(2),
		RunE:  runLoad,
	}

	sumCmd = &cobra.Command{
		Use:   "sum [name]",
		Short: "Sums the values of a dataset",
		Args:  cobra.ExactArgs(1),
		RunE:  runSum,
	}

	scaleCmd = &cobra.Command{
		Use:   "scale [name] [factor]",
		Short: "Multiplies every value of a dataset and stores the result as new dataset",
		Args:  cobra.ExactArgs(2),
		RunE:  runScale,
	}
)

func init() {
	// Initialize viper
	cobra.OnInitialize(util.InitConfig)

	key := "endpoint"
	MapReduceCommands.PersistentFlags().String(key, "127.0.0.1:7100", util.WrapString("The address (host:port) this client node listens on"))
	key = "members"
	MapReduceCommands.PersistentFlags().String(key, "127.0.0.1:7000", util.WrapString("Comma-separated, ordered list of all members (host:port)"))
	key = "members-file"
	MapReduceCommands.PersistentFlags().String(key, "", util.WrapString("Flatfile with one member per line, used instead of --members"))
	key = "group"
	MapReduceCommands.PersistentFlags().Uint32(key, 0, util.WrapString("The placement group of the dataset"))
	key = "log-level"
	MapReduceCommands.PersistentFlags().String(key, "warn", util.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))

	loadCmd.Flags().Int("chunk-rows", 1024, "Number of rows per chunk")
	scaleCmd.Flags().String("output", "", "Name of the output dataset (generated if empty)")

	MapReduceCommands.AddCommand(loadCmd)
	MapReduceCommands.AddCommand(sumCmd)
	MapReduceCommands.AddCommand(scaleCmd)
}

// joinCloud starts a client mode node
func joinCloud(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}

	config := common.DefaultNodeConfig(viper.GetString("endpoint"))
	config.ClientMode = true
	config.AdminEndpoint = ""
	config.LogLevel = viper.GetString("log-level")

	if path := viper.GetString("members-file"); path != "" {
		members, err := membership.LoadFlatfile(path)
		if err != nil {
			return fmt.Errorf("failed to read members file: %w", err)
		}
		config.Members = members
	} else {
		config.Members = util.SplitList(viper.GetString("members"))
	}
	if len(config.Members) == 0 {
		return fmt.Errorf("no members given")
	}

	common.InitLoggers(config)

	var err error
	if node, err = cloud.NewNode(config, nil, nil); err != nil {
		return err
	}
	return node.Start()
}

func leaveCloud(_ *cobra.Command, _ []string) error {
	if node == nil {
		return nil
	}
	return node.Close()
}

func runLoad(cmd *cobra.Command, args []string) error {
	rows, _ := cmd.Flags().GetInt("chunk-rows")
	if rows <= 0 {
		return fmt.Errorf("chunk-rows must be positive")
	}

	chunks, err := readChunks(args[1], rows)
	if err != nil {
		return err
	}

	ds, err := mr.PutDataset(cmd.Context(), node.Store(), args[0], viper.GetUint32("group"), chunks)
	if err != nil {
		return err
	}
	fmt.Printf("stored %s\n", ds)
	return nil
}

func runSum(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	ds, err := mr.LoadDataset(ctx, node.Store(), node.Types(), args[0], viper.GetUint32("group"))
	if err != nil {
		return err
	}

	res, err := node.Engine().RunAll(ctx, ds, &mr.SumTask{})
	if err != nil {
		return err
	}
	sum := res.(*mr.SumTask)
	fmt.Printf("dataset=%s, rows=%d, sum=%d\n", ds.Name, sum.Rows, sum.Sum)
	return nil
}

func runScale(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	factor, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("factor must be a number: %w", err)
	}
	output, _ := cmd.Flags().GetString("output")

	ds, err := mr.LoadDataset(ctx, node.Store(), node.Types(), args[0], viper.GetUint32("group"))
	if err != nil {
		return err
	}

	h := node.Engine().DispatchAsync(ctx, ds, &mr.ScaleTask{Factor: factor}, mr.WithOutput(output))
	res, err := h.Await(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("job=%s, output=%s, sum=%d\n", h.JobID, h.Output(), res.(*mr.ScaleTask).Sum)
	return nil
}

// readChunks reads one integer per line and splits them into chunks of rows rows
func readChunks(path string, rows int) ([]*mr.Chunk, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var chunks []*mr.Chunk
	cur := &mr.Chunk{}
	scanner := bufio.NewScanner(f)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, line, err)
		}
		cur.Ints = append(cur.Ints, v)
		if len(cur.Ints) == rows {
			chunks = append(chunks, cur)
			cur = &mr.Chunk{}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(cur.Ints) > 0 {
		chunks = append(chunks, cur)
	}
	return chunks, nil
}
