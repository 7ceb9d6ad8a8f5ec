package allocator

import (
	"strings"

	"github.com/pkg/errors"
)

type MaskPolicy string

const (
	// Mutex partitions one device's CUs disjointly across co-located ranks.
	Mutex MaskPolicy = "mutex"
	// NoMask grants whole devices.
	NoMask MaskPolicy = "nomask"
	// Preset echoes externally supplied devices and mask.
	Preset MaskPolicy = "preset"
)

func ParseMaskPolicy(s string) (MaskPolicy, error) {
	switch MaskPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Mutex:
		return Mutex, nil
	case NoMask, "none":
		return NoMask, nil
	}
	return "", errors.Errorf("unknown mask policy: %q, expected one of: mutex|nomask", s)
}

// RankContext carries the per-invocation parameters of a single rank.
type RankContext struct {
	TotalLocalRanks  int
	LocalRankID      int
	DeviceBias       int
	MaskPolicy       MaskPolicy
	PresetIdentities []string
	PresetCUMask     string
	// DevicesPerRank switches to multi-device mode when > 0.
	DevicesPerRank int
}

func (c *RankContext) HasPreset() bool {
	return len(c.PresetIdentities) > 0 || c.PresetCUMask != ""
}

func (c *RankContext) MultiDevice() bool {
	return c.DevicesPerRank > 0
}

// Placement is the allocation result for one rank.
type Placement struct {
	Policy          MaskPolicy
	MultiDevice     bool
	DeviceIndices   []int
	Identities      []string
	CUMask          string
	CUMaskWidth     int
	CUMaskOffset    int
	CUsPerPlacement int
	NumaNodes       []int
	CPUCores        []int

	UtilizedDevices  int
	RplacesPerDevice int
	UtilizedCUs      int
	Warnings         []string
}

func (p *Placement) HasMask() bool {
	return p.CUMask != ""
}
