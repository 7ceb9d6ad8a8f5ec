package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/allocator"
	"github.com/AccessibleAI/cuplace/pkg/diag"
	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/AccessibleAI/cuplace/pkg/launcher"
	"github.com/AccessibleAI/cuplace/pkg/rankcfg"
	"github.com/jedib0t/go-pretty/v6/table"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagAllRanks = "all"
	flagEnv      = "env"
)

var placeCmdParams = []param{
	{name: flagAllRanks, shorthand: "a", value: false, usage: "print the placement of every local rank"},
	{name: flagEnv, shorthand: "e", value: false, usage: "print the environment the workload would receive"},
}

var placeCmd = &cobra.Command{
	Use:     "place",
	Aliases: []string{"p"},
	Short:   "Compute and print the placement without launching anything",
	Run: func(cmd *cobra.Command, args []string) {
		place()
	},
}

func place() {
	ctx, err := rankcfg.NewRankContext()
	if err != nil {
		log.Fatalf("bad rank context, err: %s", err)
	}
	mgr, err := discoverFor(ctx, discover)
	if err != nil {
		log.Fatalf("device discovery failed, err: %s", err)
	}
	ranks := []int{ctx.LocalRankID}
	if viper.GetBool(flagAllRanks) {
		ranks = ranks[:0]
		for r := 0; r < ctx.TotalLocalRanks; r++ {
			ranks = append(ranks, r)
		}
	}
	placements, err := placeRanks(mgr.GpuDevices, *ctx, ranks)
	if err != nil {
		log.WithFields(placementFields(ctx, mgr)).Fatalf("placement failed, err: %s", err)
	}
	for _, w := range placements[0].Warnings {
		log.Warn(w)
	}
	if viper.GetBool(flagEnv) {
		for i, p := range placements {
			if len(placements) > 1 {
				fmt.Printf("# local rank %d\n", ranks[i])
			}
			for _, kv := range launcher.NewLauncher(p, false).Environ(nil) {
				fmt.Println(kv)
			}
		}
		return
	}
	newPlacementTable(mgr.GpuDevices, ranks, placements).Render(os.Stdout)
}

// placeRanks computes the placement every listed rank would get on its own.
func placeRanks(devices []*gpudevice.GpuDevice, ctx allocator.RankContext, ranks []int) ([]*allocator.Placement, error) {
	var placements []*allocator.Placement
	for _, r := range ranks {
		ctx.LocalRankID = r
		p, err := allocator.NewPlacement(devices, ctx)
		if err != nil {
			return nil, err
		}
		placements = append(placements, p)
	}
	return placements, nil
}

func newPlacementTable(devices []*gpudevice.GpuDevice, ranks []int, placements []*allocator.Placement) *diag.TableOutput {
	rows := make([]table.Row, 0, len(placements))
	for i, p := range placements {
		var pci []string
		for _, idx := range p.DeviceIndices {
			pci = append(pci, devices[idx].PCIAddress)
		}
		mask := p.CUMask
		if mask == "" {
			mask = "-"
		}
		rows = append(rows, table.Row{
			ranks[i],
			strings.Join(p.Identities, ","),
			strings.Join(pci, ","),
			mask,
			p.CUsPerPlacement,
			diag.FormatIDs(p.NumaNodes),
			diag.FormatIDs(p.CPUCores),
		})
	}
	return diag.NewTableOutput(table.Row{"Rank", "Devices", "PCI", "CU Mask", "CUs", "NUMA", "CPUs"}, rows)
}
