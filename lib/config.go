package lib

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alecthomas/units"
)

/* This file implements logic for 'user controlled' global configurations of each module of the process */

const (
	// FILE NAMES in the 'data directory'
	ConfigFilePath = "config.json" // the file path for the process configuration
)

// layer names selectable by configuration
const (
	LayerBestEffort      = "beb"
	LayerUniformReliable = "urb"
	LayerFIFO            = "fifo"
	LayerLocalizedCausal = "lcb"
)

// Config is the structure of the user configuration options for a broadcast process
type Config struct {
	MainConfig      // main options spanning over all modules
	LinkConfig      // perfect link options
	BroadcastConfig // broadcast layer options
	RPCConfig       // rpc API options
	MetricsConfig   // telemetry options
}

// DefaultConfig() returns a Config with developer set options
func DefaultConfig() Config {
	return Config{
		MainConfig:      DefaultMainConfig(),
		LinkConfig:      DefaultLinkConfig(),
		BroadcastConfig: DefaultBroadcastConfig(),
		RPCConfig:       DefaultRPCConfig(),
		MetricsConfig:   DefaultMetricsConfig(),
	}
}

// MAIN CONFIG BELOW

type MainConfig struct {
	LogLevel    string `json:"logLevel"`    // any level includes the levels above it: debug < info < warning < error
	DataDirPath string `json:"dataDirPath"` // path of the designated folder where the process stores its logs
}

// DefaultMainConfig() sets log level to 'info'
func DefaultMainConfig() MainConfig {
	return MainConfig{
		LogLevel:    "info",               // everything but debug is the default
		DataDirPath: DefaultDataDirPath(), // use the default data dir path
	}
}

// GetLogLevel() parses the log string in the config file into a LogLevel Enum
func (m *MainConfig) GetLogLevel() int32 { return ParseLogLevel(m.LogLevel) }

// DefaultDataDirPath() is $USERHOME/.layercast
func DefaultDataDirPath() string {
	// get the user home
	home, err := os.UserHomeDir()
	// if unable to get the user home
	if err != nil {
		// fatal error
		panic(err)
	}
	// exit with full default data directory path
	return filepath.Join(home, ".layercast")
}

// LINK CONFIG BELOW

// LinkConfig tunes the retransmission behavior of the perfect link
type LinkConfig struct {
	MinTimeoutMS      int    `json:"minTimeoutMS"`      // the initial (and floor) per-peer retransmission timeout; also the sweep period
	MaxTimeoutMS      int    `json:"maxTimeoutMS"`      // optional ceiling of the per-peer timeout; 0 lets it double without bound
	MaxDatagramSize   uint64 `json:"maxDatagramSize"`   // the largest datagram that is read or written
	MonitorSampleMS   int    `json:"monitorSampleMS"`   // the sample window of the send / receive rate monitors
	BindRetryMaxTimeS int    `json:"bindRetryMaxTimeS"` // how long the link keeps retrying to bind its UDP endpoint
}

// DefaultLinkConfig() returns the developer recommended link configuration
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		MinTimeoutMS:      300,                    // 300ms to first retransmission
		MaxTimeoutMS:      0,                      // unbounded doubling; the link never gives up on a peer
		MaxDatagramSize:   uint64(64 * units.KiB), // a full UDP datagram
		MonitorSampleMS:   100,                    // 100ms rate samples
		BindRetryMaxTimeS: 5,                      // give up binding after 5 seconds
	}
}

// MinTimeout() converts MinTimeoutMS into a duration; a non-positive value falls back to the default
func (l *LinkConfig) MinTimeout() time.Duration {
	if l.MinTimeoutMS <= 0 {
		return time.Duration(DefaultLinkConfig().MinTimeoutMS) * time.Millisecond
	}
	return time.Duration(l.MinTimeoutMS) * time.Millisecond
}

// MaxTimeout() converts MaxTimeoutMS into a duration, never less than the minimum; 0 means no ceiling
func (l *LinkConfig) MaxTimeout() time.Duration {
	if l.MaxTimeoutMS <= 0 {
		return 0
	}
	if floor := l.MinTimeout(); time.Duration(l.MaxTimeoutMS)*time.Millisecond < floor {
		return floor
	}
	return time.Duration(l.MaxTimeoutMS) * time.Millisecond
}

// BROADCAST CONFIG BELOW

// BroadcastConfig selects and configures the broadcast layer of the process
type BroadcastConfig struct {
	Layer        string `json:"layer"`        // one of beb, urb, fifo, lcb
	OutputDir    string `json:"outputDir"`    // where the broadcast / deliver event log is written; empty means the data dir
	WaitForStart bool   `json:"waitForStart"` // block broadcasting until a start signal is received
}

// DefaultBroadcastConfig() returns the developer recommended broadcast configuration
func DefaultBroadcastConfig() BroadcastConfig {
	return BroadcastConfig{
		Layer:        LayerLocalizedCausal, // the top of the stack by default
		OutputDir:    "",                   // the data dir by default
		WaitForStart: true,                 // wait for SIGUSR2 by default
	}
}

// GetLayer() normalizes the configured layer name
func (b *BroadcastConfig) GetLayer() string { return strings.ToLower(strings.TrimSpace(b.Layer)) }

// RPC CONFIG BELOW

type RPCConfig struct {
	RPCEnabled    bool   `json:"rpcEnabled"`    // if the status / admin server is served
	ListenAddress string `json:"listenAddress"` // the address the rpc server binds to
	RPCUrl        string `json:"rpcURL"`        // the url where clients reach the rpc server
	TimeoutS      int    `json:"timeoutS"`      // the rpc request timeout in seconds
}

// DefaultRPCConfig() serves the rpc on localhost:50010
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		RPCEnabled:    true,                     // serve by default
		ListenAddress: "0.0.0.0:50010",          // listen on every interface
		RPCUrl:        "http://localhost:50010", // use a local rpc by default
		TimeoutS:      3,                        // the rpc timeout is 3 seconds
	}
}

// MetricsConfig represents the configuration for the metrics server
type MetricsConfig struct {
	MetricsEnabled    bool   `json:"metricsEnabled"`    // if the metrics are enabled
	PrometheusAddress string `json:"prometheusAddress"` // the address of the server
}

// DefaultMetricsConfig() returns the default metrics configuration
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		MetricsEnabled:    false,          // disabled by default
		PrometheusAddress: "0.0.0.0:9090", // the default prometheus address
	}
}

// WriteToFile() saves the Config object to a JSON file
func (c Config) WriteToFile(filepath string) ErrorI {
	// convert the config to indented 'pretty' json bytes
	jsonBytes, err := json.MarshalIndent(c, "", "  ")
	// if an error occurred during the conversion
	if err != nil {
		// exit with error
		return ErrJSONMarshal(err)
	}
	// write the config.json file
	if err = os.WriteFile(filepath, jsonBytes, 0644); err != nil {
		return ErrWriteFile(err)
	}
	return nil
}

// NewConfigFromFile() populates a Config object from a JSON file
func NewConfigFromFile(filepath string) (Config, ErrorI) {
	// read the file into bytes using
	fileBytes, err := os.ReadFile(filepath)
	// if an error occurred
	if err != nil {
		// exit with error
		return Config{}, ErrReadFile(err)
	}
	// define the default config to fill in any blanks in the file
	c := DefaultConfig()
	// populate the default config with the file bytes
	if err = json.Unmarshal(fileBytes, &c); err != nil {
		// exit with error
		return Config{}, ErrJSONUnmarshal(err)
	}
	// exit
	return c, nil
}
