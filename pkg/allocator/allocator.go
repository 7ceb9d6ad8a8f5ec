package allocator

import (
	"fmt"

	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
)

// NewPlacement maps a rank onto the canonical device table. It is a pure
// function: every rank of a node computes its share independently and the
// shares only line up because all ranks see the same table and context.
func NewPlacement(devices []*gpudevice.GpuDevice, ctx RankContext) (*Placement, error) {
	if err := validate(&ctx); err != nil {
		return nil, err
	}
	if ctx.HasPreset() {
		return presetPlacement(devices, &ctx), nil
	}
	if len(devices) == 0 {
		return nil, newValidationError(ErrNoDevices, "at least one device is required")
	}
	if ctx.MultiDevice() {
		return multiDevicePlacement(devices, &ctx)
	}
	return singleDevicePlacement(devices, &ctx)
}

func validate(ctx *RankContext) error {
	if ctx.TotalLocalRanks < 1 {
		return newValidationError(ErrBadRankContext, "total local ranks must be >= 1, got %d", ctx.TotalLocalRanks)
	}
	if ctx.LocalRankID < 0 || ctx.LocalRankID >= ctx.TotalLocalRanks {
		return newValidationError(ErrBadRankContext, "local rank %d out of range [0, %d)", ctx.LocalRankID, ctx.TotalLocalRanks)
	}
	if ctx.DevicesPerRank < 0 {
		return newValidationError(ErrBadRankContext, "devices per rank must not be negative, got %d", ctx.DevicesPerRank)
	}
	if ctx.MultiDevice() && len(ctx.PresetIdentities) > 0 {
		return newValidationError(ErrPresetMultiDevice, "preset devices: %v, devices per rank: %d", ctx.PresetIdentities, ctx.DevicesPerRank)
	}
	if ctx.MaskPolicy == "" {
		ctx.MaskPolicy = Mutex
	}
	if ctx.MaskPolicy == Preset && !ctx.HasPreset() {
		return newValidationError(ErrBadRankContext, "preset mask policy without preset devices or cu mask")
	}
	return nil
}

// presetPlacement echoes the supplied values. The device table is optional,
// it only contributes affinity and a cu count for matching identities.
func presetPlacement(devices []*gpudevice.GpuDevice, ctx *RankContext) *Placement {
	p := &Placement{
		Policy:           Preset,
		Identities:       append([]string(nil), ctx.PresetIdentities...),
		CUMask:           ctx.PresetCUMask,
		RplacesPerDevice: 1,
	}
	for _, id := range ctx.PresetIdentities {
		for i, d := range devices {
			if d.Identity == id {
				p.DeviceIndices = append(p.DeviceIndices, i)
				break
			}
		}
	}
	p.NumaNodes, p.CPUCores = affinity(devices, p.DeviceIndices)
	p.UtilizedDevices = len(p.DeviceIndices)

	// without a device table only a readable mask tells the cu count
	if len(devices) > 0 {
		p.CUsPerPlacement = devices[0].CUCount
	}
	if len(p.DeviceIndices) > 0 {
		p.CUsPerPlacement = devices[p.DeviceIndices[0]].CUCount
	}
	if ctx.PresetCUMask != "" {
		if mask, err := ParseCUMask(ctx.PresetCUMask); err == nil {
			p.CUsPerPlacement = CountCUs(mask)
		}
	}
	p.UtilizedCUs = p.CUsPerPlacement
	return p
}

func multiDevicePlacement(devices []*gpudevice.GpuDevice, ctx *RankContext) (*Placement, error) {
	n := len(devices)
	k := ctx.DevicesPerRank
	if k > n {
		return nil, newValidationError(ErrTooManyDevicesPerRank, "devices per rank: %d, available devices: %d", k, n)
	}
	p := &Placement{
		Policy:      NoMask,
		MultiDevice: true,
	}
	start := (ctx.LocalRankID * k) % n
	for i := 0; i < k; i++ {
		idx := (start + i) % n
		p.DeviceIndices = append(p.DeviceIndices, idx)
		p.Identities = append(p.Identities, devices[idx].Identity)
	}
	p.NumaNodes, p.CPUCores = affinity(devices, p.DeviceIndices)
	p.CUsPerPlacement = devices[p.DeviceIndices[0]].CUCount
	p.UtilizedCUs = p.CUsPerPlacement

	requested := ctx.TotalLocalRanks * k
	p.UtilizedDevices = minInt(n, requested)
	p.RplacesPerDevice = ceilDiv(requested, n)
	if requested > n && ctx.LocalRankID == 0 {
		p.Warnings = append(p.Warnings, fmt.Sprintf(
			"%d ranks x %d devices per rank exceeds the %d available devices, device sets will overlap",
			ctx.TotalLocalRanks, k, n))
	}
	return p, nil
}

func singleDevicePlacement(devices []*gpudevice.GpuDevice, ctx *RankContext) (*Placement, error) {
	n := len(devices)
	r := ctx.LocalRankID
	utilizedDevices := minInt(n, ctx.TotalLocalRanks)
	rplaces := ceilDiv(ctx.TotalLocalRanks, utilizedDevices)

	var dev int
	if ctx.MaskPolicy == Mutex {
		// contiguous blocks of rplaces ranks share a device
		dev = mod(r/rplaces+ctx.DeviceBias, n)
	} else {
		dev = mod(r+ctx.DeviceBias, n)
	}

	cuCount := devices[dev].CUCount
	if budget := n * cuCount; ctx.TotalLocalRanks > budget {
		return nil, newValidationError(ErrInsufficientCUs,
			"%d ranks requested, node budget is %d devices x %d CUs = %d", ctx.TotalLocalRanks, n, cuCount, budget)
	}

	utilizedCUs := cuCount
	for utilizedCUs%rplaces != 0 {
		utilizedCUs--
	}
	cusPerPlacement := utilizedCUs / rplaces

	p := &Placement{
		Policy:           ctx.MaskPolicy,
		DeviceIndices:    []int{dev},
		Identities:       []string{devices[dev].Identity},
		CUsPerPlacement:  cusPerPlacement,
		UtilizedDevices:  utilizedDevices,
		RplacesPerDevice: rplaces,
		UtilizedCUs:      utilizedCUs,
	}
	p.NumaNodes, p.CPUCores = affinity(devices, p.DeviceIndices)

	if ctx.MaskPolicy == Mutex && cusPerPlacement != cuCount {
		p.CUMaskWidth = cusPerPlacement
		// offsets restart at 0 on every device
		p.CUMaskOffset = (r % rplaces) * cusPerPlacement
		p.CUMask = FormatCUMask(CUMask(p.CUMaskWidth, p.CUMaskOffset), utilizedCUs)
	}
	return p, nil
}

// affinity merges numa nodes and cpu cores of the given devices,
// dropping duplicates and keeping first-seen order.
func affinity(devices []*gpudevice.GpuDevice, indices []int) (numaNodes, cpuCores []int) {
	seenNodes := make(map[int]bool)
	seenCores := make(map[int]bool)
	for _, idx := range indices {
		d := devices[idx]
		if !seenNodes[d.NumaNode] {
			seenNodes[d.NumaNode] = true
			numaNodes = append(numaNodes, d.NumaNode)
		}
		for _, c := range d.CPUCores {
			if !seenCores[c] {
				seenCores[c] = true
				cpuCores = append(cpuCores, c)
			}
		}
	}
	return
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func mod(a, n int) int {
	return ((a % n) + n) % n
}
