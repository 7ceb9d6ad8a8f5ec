package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AccessibleAI/cuplace/pkg/diag"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var devicesCmdParams = []param{
	{name: flagOutput, shorthand: flagOutputS, value: outTable, usage: fmt.Sprintf("output format, one of: %s|%s", outTable, outJSON)},
}

var devicesCmd = &cobra.Command{
	Use:     "devices",
	Aliases: []string{"d", "dev"},
	Short:   "List the correlated gpu devices of this node",
	Run: func(cmd *cobra.Command, args []string) {
		listDevices()
	},
}

func listDevices() {
	mgr, err := discover()
	if err != nil {
		log.Fatalf("device discovery failed, err: %s", err)
	}
	switch viper.GetString(flagOutput) {
	case outJSON:
		b, err := json.MarshalIndent(mgr.GpuDevices, "", "  ")
		if err != nil {
			log.Fatal(err)
		}
		fmt.Println(string(b))
	case outTable:
		diag.NewDeviceTable(mgr.GpuDevices).Render(os.Stdout)
	default:
		log.Fatalf("unknown output format: %s", viper.GetString(flagOutput))
	}
}
