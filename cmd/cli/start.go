package cli

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/canopy-network/layercast/cmd/rpc"
	"github.com/canopy-network/layercast/controller"
	"github.com/canopy-network/layercast/lib"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start <id> <membership> <count>",
	Short: "start a broadcast process",
	Long:  "start process <id> of the group described by the <membership> file and broadcast <count> messages once the start signal arrives",
	Args:  cobra.ExactArgs(3),
	Run: func(cmd *cobra.Command, args []string) {
		id, count, err := parseStartArgs(args[0], args[2])
		if err != nil {
			l.Fatal(err.Error())
		}
		Start(id, args[1], count)
	},
}

var (
	layerFlag, outputFlag = "", ""
	noWait, noRPC         = false, false
)

func init() {
	startCmd.Flags().StringVar(&layerFlag, "layer", "", "broadcast layer: beb, urb, fifo or lcb (overrides the config)")
	startCmd.Flags().StringVar(&outputFlag, "output", "", "event log directory (overrides the config)")
	startCmd.Flags().BoolVar(&noWait, "no-wait", false, "broadcast immediately instead of waiting for SIGUSR2")
	startCmd.Flags().BoolVar(&noRPC, "no-rpc", false, "disable the status and admin rpc server")
}

// Start() is the entrypoint of a broadcast process
func Start(id lib.ProcessID, membershipPath string, count int) {
	config := InitializeDataDirectory(DataDir, ConfigPath, l)
	applyStartFlags(&config)
	procDir := filepath.Join(config.DataDirPath, fmt.Sprintf("proc_%d", id))
	logger := lib.NewLogger(lib.LoggerConfig{Level: config.GetLogLevel()}, procDir).WithPrefix(fmt.Sprintf("p%d", id))
	membership, err := lib.ParseMembershipFile(membershipPath)
	if err != nil {
		logger.Fatal(err.Error())
	}
	view, err := membership.View(id)
	if err != nil {
		logger.Fatal(err.Error())
	}
	app, err := controller.New(config, view, logger)
	if err != nil {
		logger.Fatal(err.Error())
	}
	// catch the start signal before anything can be broadcast
	startSignal := make(chan os.Signal, 1)
	signal.Notify(startSignal, syscall.SIGUSR2)
	go func() {
		<-startSignal
		app.Release()
	}()
	app.Start()
	var server *rpc.Server
	if config.RPCEnabled {
		server = rpc.NewServer(app, config, logger.WithPrefix("rpc"))
		// processes sharing a host compete for the address, a lost race only costs the rpc
		if e := server.Start(); e != nil {
			logger.Warnf("RPC server disabled: %s", e.Error())
			server = nil
		}
	}
	if !config.WaitForStart {
		app.Release()
	}
	go func() {
		<-app.Released()
		logger.Infof("Broadcasting %d messages on %s", count, config.GetLayer())
		if e := app.BroadcastN(count); e != nil {
			logger.Errorf("Broadcasting stopped: %s", e.Error())
			return
		}
		if e := app.Flush(); e != nil {
			logger.Error(e.Error())
		}
	}()
	waitForKill(logger)
	if server != nil {
		server.Stop()
	}
	if e := app.Stop(); e != nil {
		logger.Error(e.Error())
		os.Exit(1)
	}
	os.Exit(0)
}

// waitForKill() blocks until a termination signal is received
func waitForKill(logger lib.LoggerI) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGABRT)
	s := <-stop
	logger.Infof("Exit command %s received", s)
}

// applyStartFlags() overrides the loaded configuration with the command line flags
func applyStartFlags(config *lib.Config) {
	if layerFlag != "" {
		config.Layer = layerFlag
	}
	if outputFlag != "" {
		config.OutputDir = outputFlag
	}
	if noWait {
		config.WaitForStart = false
	}
	if noRPC {
		config.RPCEnabled = false
	}
}

func parseStartArgs(idArg, countArg string) (lib.ProcessID, int, error) {
	id, err := strconv.ParseInt(idArg, 10, 32)
	if err != nil || id < 1 {
		return 0, 0, fmt.Errorf("invalid process id %q", idArg)
	}
	count, err := strconv.Atoi(countArg)
	if err != nil || count < 0 {
		return 0, 0, fmt.Errorf("invalid message count %q", countArg)
	}
	return lib.ProcessID(id), count, nil
}
