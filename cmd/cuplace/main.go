package main

import (
	"fmt"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/devicelist"
	"github.com/AccessibleAI/cuplace/pkg/rankcfg"
	"github.com/AccessibleAI/cuplace/pkg/sysbus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type param struct {
	name      string
	shorthand string
	value     interface{}
	usage     string
	required  bool
}

const (
	envPrefix = "CUPLACE"

	// flagConfig path to the configuration file.
	flagConfig = "config"
	// flagJSONLog enables log json.
	flagJSONLog = "json-log"
	// flagVerbose enables verbose logging and the rank 0 diagnostic record.
	flagVerbose = "verbose"
	// flagListingCmd device listing command line.
	flagListingCmd = "listing-cmd"
	// flagSysfsRoot sysfs mount point.
	flagSysfsRoot = "sysfs-root"
	// flagDriver kernel driver of the accelerators.
	flagDriver = "driver"
	// flagBindCPUs binds the workload to the cpus local to its devices.
	flagBindCPUs = "bind-cpus"
	// flagOutput defines output format.
	flagOutput = "output"
	// flagOutputS short form of flagOutput.
	flagOutputS = "o"
)

const (
	outJSON  = "json"
	outTable = "table"
)

var (
	Version    string
	Build      string
	rootParams = []param{
		{name: flagConfig, shorthand: "c", value: "", usage: "path to configuration file"},
		{name: flagJSONLog, shorthand: "", value: false, usage: "output logs in json format"},
		{name: flagVerbose, shorthand: "v", value: false, usage: "enable verbose logs and print placement diagnostics from local rank 0"},
		{name: rankcfg.KeyLocalRanks, shorthand: "n", value: 0, usage: "number of ranks on this node, detected from the MPI launcher when 0"},
		{name: rankcfg.KeyLocalRank, shorthand: "r", value: -1, usage: "rank id on this node, detected from the MPI launcher when negative"},
		{name: rankcfg.KeyDeviceBias, shorthand: "b", value: 0, usage: "rotate device selection by this many devices"},
		{name: rankcfg.KeyMaskPolicy, shorthand: "m", value: "mutex", usage: "cu mask policy, one of: mutex|nomask"},
		{name: rankcfg.KeyVisibleDevices, shorthand: "", value: "", usage: "preset comma separated device identities, skips allocation"},
		{name: rankcfg.KeyCUMask, shorthand: "", value: "", usage: "preset cu mask, skips allocation"},
		{name: rankcfg.KeyDeviceTypes, shorthand: "t", value: "", usage: "comma separated device types to use, e.g. MI250X,MI300X"},
		{name: rankcfg.KeyDevicesPerRank, shorthand: "d", value: 0, usage: "give every rank this many whole devices (multi-device mode)"},
		{name: flagListingCmd, shorthand: "", value: devicelist.DefaultListingCommand, usage: "device listing command"},
		{name: flagSysfsRoot, shorthand: "", value: sysbus.DefaultRoot, usage: "sysfs mount point"},
		{name: flagDriver, shorthand: "", value: sysbus.DefaultDriver, usage: "kernel driver bound to the accelerators"},
		{name: flagBindCPUs, shorthand: "", value: true, usage: "bind the workload to the cpus local to its devices"},
	}
)

var cuplaceVersion = &cobra.Command{
	Use:   "version",
	Short: "Print cuplace version and build sha",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("version: %s build: %s \n", Version, Build)
	},
}

var rootCmd = &cobra.Command{
	Use:   "cuplace [flags] -- program [args...]",
	Short: "cuplace - bind a local rank to its gpu, compute units and cpus, then run the program",
	Args:  cobra.ArbitraryArgs,
	Run: func(cmd *cobra.Command, args []string) {
		launch(args)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	setParams(rootParams, rootCmd)
	setParams(devicesCmdParams, devicesCmd)
	setParams(placeCmdParams, placeCmd)
	// workload flags belong to the workload
	rootCmd.Flags().SetInterspersed(false)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(placeCmd)
	rootCmd.AddCommand(cuplaceVersion)
}

func initConfig() {
	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	if err := rankcfg.BindEnv(envPrefix); err != nil {
		log.Fatal(err)
	}
	if cfg := viper.GetString(flagConfig); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.SetConfigName("cuplace")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/cuplace")
	}
	err := viper.ReadInConfig()
	setupLogging()
	if err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Fatalf("failed to read config file, err: %s", err)
		}
		log.Debug("no config file found, using flags and environment")
	}
}

func setParams(params []param, command *cobra.Command) {
	for _, param := range params {
		switch v := param.value.(type) {
		case int:
			command.PersistentFlags().IntP(param.name, param.shorthand, v, param.usage)
		case string:
			command.PersistentFlags().StringP(param.name, param.shorthand, v, param.usage)
		case bool:
			command.PersistentFlags().BoolP(param.name, param.shorthand, v, param.usage)
		}
		if err := viper.BindPFlag(param.name, command.PersistentFlags().Lookup(param.name)); err != nil {
			panic(err)
		}
	}
}

func setupLogging() {

	// Set log verbosity
	if viper.GetBool(flagVerbose) {
		log.SetLevel(log.DebugLevel)
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp: true,
			CallerPrettyfier: func(frame *runtime.Frame) (function string, file string) {
				fileName := fmt.Sprintf(" [%s]", path.Base(frame.Function)+":"+strconv.Itoa(frame.Line))
				return "", fileName
			},
		})
	} else {
		log.SetLevel(log.InfoLevel)
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	// Set log format
	if viper.GetBool(flagJSONLog) {
		log.SetFormatter(&log.JSONFormatter{})
	}

	// Logs go to STDERR, STDOUT belongs to the workload
	log.SetOutput(os.Stderr)
}

func main() {

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

}
