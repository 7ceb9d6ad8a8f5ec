package main

import (
	"os"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/allocator"
	"github.com/AccessibleAI/cuplace/pkg/devicelist"
	"github.com/AccessibleAI/cuplace/pkg/diag"
	"github.com/AccessibleAI/cuplace/pkg/gpumgr"
	"github.com/AccessibleAI/cuplace/pkg/launcher"
	"github.com/AccessibleAI/cuplace/pkg/rankcfg"
	"github.com/AccessibleAI/cuplace/pkg/sysbus"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/viper"
)

func launch(args []string) {
	if len(args) == 0 {
		log.Debug("no workload given, nothing to do")
		return
	}
	ctx, err := rankcfg.NewRankContext()
	if err != nil {
		log.Fatalf("bad rank context, err: %s", err)
	}
	mgr, err := discoverFor(ctx, discover)
	if err != nil {
		log.Fatalf("device discovery failed, err: %s", err)
	}
	p, err := allocator.NewPlacement(mgr.GpuDevices, *ctx)
	if err != nil {
		log.WithFields(placementFields(ctx, mgr)).Fatalf("placement failed, err: %s", err)
	}
	if ctx.LocalRankID == 0 {
		for _, w := range p.Warnings {
			log.Warn(w)
		}
		if viper.GetBool(flagVerbose) {
			emitDiagnostics(diag.NewRecord(mgr.GetDeviceInfo(), ctx, p))
		}
	}
	if err := launcher.NewLauncher(p, viper.GetBool(flagBindCPUs)).Exec(args); err != nil {
		log.Fatal(err)
	}
}

func discover() (*gpumgr.GpuMgr, error) {
	cmdline := strings.Fields(viper.GetString(flagListingCmd))
	if len(cmdline) == 0 {
		cmdline = []string{devicelist.DefaultListingCommand}
	}
	return gpumgr.NewGpuManager(
		devicelist.NewCommandSource(cmdline[0], cmdline[1:]...),
		devicelist.NewParser(rankcfg.AllowList()),
		sysbus.NewEnumerator(afero.NewOsFs(), viper.GetString(flagSysfsRoot), viper.GetString(flagDriver)),
	)
}

// discoverFor runs discovery for a rank. A preset is passed through as is,
// so a failed discovery only costs it the cpu affinity.
func discoverFor(ctx *allocator.RankContext, run func() (*gpumgr.GpuMgr, error)) (*gpumgr.GpuMgr, error) {
	mgr, err := run()
	if err == nil {
		return mgr, nil
	}
	if !ctx.HasPreset() {
		return nil, err
	}
	log.Warnf("device discovery failed, passing preset devices and cu mask through, err: %s", err)
	return &gpumgr.GpuMgr{}, nil
}

func placementFields(ctx *allocator.RankContext, mgr *gpumgr.GpuMgr) log.Fields {
	var types []string
	for _, d := range mgr.GpuDevices {
		types = append(types, d.ArchClass)
	}
	f := log.Fields{
		"localRanks":  ctx.TotalLocalRanks,
		"localRank":   ctx.LocalRankID,
		"policy":      ctx.MaskPolicy,
		"deviceTypes": strings.Join(types, ","),
	}
	if ctx.HasPreset() {
		f["presetDevices"] = strings.Join(ctx.PresetIdentities, ",")
		f["presetCUMask"] = ctx.PresetCUMask
	}
	return f
}

func emitDiagnostics(r *diag.Record) {
	if viper.GetBool(flagJSONLog) {
		log.WithFields(r.Fields()).Info("placement diagnostics")
		return
	}
	r.Render(os.Stderr)
}
