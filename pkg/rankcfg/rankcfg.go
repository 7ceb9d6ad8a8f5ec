package rankcfg

import (
	"fmt"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/allocator"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	KeyLocalRanks     = "local-ranks"
	KeyLocalRank      = "local-rank"
	KeyDeviceBias     = "device-bias"
	KeyMaskPolicy     = "mask-policy"
	KeyVisibleDevices = "visible-devices"
	KeyCUMask         = "cu-mask"
	KeyDeviceTypes    = "device-types"
	KeyDevicesPerRank = "devices-per-rank"
)

type envBinding struct {
	key  string
	envs []string
}

// launcher specific variables, consulted in order after CUPLACE_<KEY>
var envBindings = []envBinding{
	{key: KeyLocalRanks, envs: []string{"OMPI_COMM_WORLD_LOCAL_SIZE", "MPI_LOCALNRANKS", "PALS_LOCAL_SIZE", "SLURM_NTASKS_PER_NODE"}},
	{key: KeyLocalRank, envs: []string{"OMPI_COMM_WORLD_LOCAL_RANK", "MPI_LOCALRANKID", "PALS_LOCAL_RANKID", "SLURM_LOCALID"}},
	{key: KeyVisibleDevices, envs: []string{"ROCR_VISIBLE_DEVICES"}},
	{key: KeyCUMask, envs: []string{"HSA_CU_MASK"}},
}

// BindEnv wires the MPI and runtime variables into viper.
func BindEnv(prefix string) error {
	for _, b := range envBindings {
		own := strings.ToUpper(fmt.Sprintf("%s_%s", prefix, strings.ReplaceAll(b.key, "-", "_")))
		if err := viper.BindEnv(append([]string{b.key, own}, b.envs...)...); err != nil {
			return errors.Wrapf(err, "failed to bind env for %s", b.key)
		}
	}
	return nil
}

// NewRankContext resolves the rank context from flags, environment and config file.
func NewRankContext() (*allocator.RankContext, error) {
	policy, err := allocator.ParseMaskPolicy(viper.GetString(KeyMaskPolicy))
	if err != nil {
		return nil, err
	}
	ctx := &allocator.RankContext{
		TotalLocalRanks:  viper.GetInt(KeyLocalRanks),
		LocalRankID:      viper.GetInt(KeyLocalRank),
		DeviceBias:       viper.GetInt(KeyDeviceBias),
		MaskPolicy:       policy,
		PresetIdentities: SplitList(viper.GetString(KeyVisibleDevices)),
		PresetCUMask:     strings.TrimSpace(viper.GetString(KeyCUMask)),
		DevicesPerRank:   viper.GetInt(KeyDevicesPerRank),
	}
	if ctx.TotalLocalRanks <= 0 {
		log.Debug("local rank count not detected, assuming a single rank")
		ctx.TotalLocalRanks = 1
	}
	if ctx.LocalRankID < 0 {
		ctx.LocalRankID = 0
	}
	if ctx.LocalRankID >= ctx.TotalLocalRanks {
		return nil, errors.Errorf("local rank %d is out of range for %d local ranks", ctx.LocalRankID, ctx.TotalLocalRanks)
	}
	log.WithFields(log.Fields{
		"localRanks":     ctx.TotalLocalRanks,
		"localRank":      ctx.LocalRankID,
		"bias":           ctx.DeviceBias,
		"policy":         ctx.MaskPolicy,
		"devicesPerRank": ctx.DevicesPerRank,
	}).Debug("rank context")
	return ctx, nil
}

// AllowList returns the configured device type allow-list.
func AllowList() []string {
	return SplitList(viper.GetString(KeyDeviceTypes))
}

func SplitList(s string) (items []string) {
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return
}
