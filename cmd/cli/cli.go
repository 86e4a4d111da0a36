package cli

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/canopy-network/layercast/cmd/rpc"
	"github.com/canopy-network/layercast/lib"
	"github.com/spf13/cobra"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var rootCmd = &cobra.Command{
	Use:   "layercast",
	Short: "layered broadcast processes over udp",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(rpc.SoftwareVersion)
	},
}

var (
	DataDir, ConfigPath = "", ""
	l                   = lib.NewDefaultLogger()
)

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(releaseCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.PersistentFlags().StringVar(&DataDir, "data-dir", lib.DefaultDataDirPath(), "custom data directory location")
	rootCmd.PersistentFlags().StringVar(&ConfigPath, "config", "", "config file location, defaults to <data-dir>/config.json")
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}

// InitializeDataDirectory() populates the data directory with a configuration file if missing and loads the configuration
func InitializeDataDirectory(dataDirPath, configPath string, log lib.LoggerI) (c lib.Config) {
	// make the data dir if missing
	if err := os.MkdirAll(dataDirPath, os.ModePerm); err != nil {
		log.Fatal(err.Error())
	}
	if configPath == "" {
		configPath = filepath.Join(dataDirPath, lib.ConfigFilePath)
	}
	// make the config.json file if missing
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) {
		log.Infof("Creating %s file", configPath)
		if err = lib.DefaultConfig().WriteToFile(configPath); err != nil {
			log.Fatal(err.Error())
		}
	}
	c, err := lib.NewConfigFromFile(configPath)
	if err != nil {
		log.Fatal(err.Error())
	}
	c.DataDirPath = dataDirPath
	return
}

// newClient() returns an rpc client for the configured url
func newClient(rpcURL string) *rpc.Client {
	config := InitializeDataDirectory(DataDir, ConfigPath, l)
	if rpcURL == "" {
		rpcURL = config.RPCUrl
	}
	return rpc.NewClient(rpcURL, time.Duration(config.RPCConfig.TimeoutS)*time.Second)
}

func writeToConsole(a any, err error) {
	if err != nil {
		l.Fatal(err.Error())
	}
	switch a.(type) {
	case int, int32, int64, uint32, uint64:
		p := message.NewPrinter(language.English)
		if _, err := p.Printf("%d\n", a); err != nil {
			l.Fatal(err.Error())
		}
	case string, *string:
		fmt.Println(a)
	default:
		s, err := lib.MarshalJSONIndentString(a)
		if err != nil {
			l.Fatal(err.Error())
		}
		fmt.Println(s)
	}
}
