package gpumgr

import (
	"fmt"
	"strconv"

	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	log "github.com/sirupsen/logrus"
)

// Correlate joins bus registry entries with listed gpu records and returns
// the canonical device table in bus order.
//
// A bus entry joins on its unique id when exactly one listed record carries
// that id. Otherwise, when the id is missing or ambiguous, it joins on pci
// address and the row identity becomes the listed record's index. No two
// rows share an identity.
func Correlate(busDevices []*gpudevice.BusDevice, listed []*gpudevice.GpuDevice) ([]*gpudevice.GpuDevice, error) {
	idCount := make(map[string]int)
	for _, l := range listed {
		if id := gpudevice.NormalizeUniqueID(l.UniqueID); id != "" {
			idCount[id]++
		}
	}
	claimed := make([]bool, len(listed))
	identities := make(map[string]bool)
	var table []*gpudevice.GpuDevice
	for _, b := range busDevices {
		uid := gpudevice.NormalizeUniqueID(b.UniqueID)
		byIdentity := uid != "" && idCount[uid] == 1
		var match int
		if byIdentity {
			match = findListed(listed, claimed, func(l *gpudevice.GpuDevice) bool {
				return gpudevice.NormalizeUniqueID(l.UniqueID) == uid
			})
		} else {
			match = findListed(listed, claimed, func(l *gpudevice.GpuDevice) bool {
				return l.PCIAddress != "" && l.PCIAddress == b.PCIAddress
			})
		}
		if match < 0 {
			log.Debugf("bus device %s (unique_id=%q) has no visible listing record, dropping", b.PCIAddress, b.UniqueID)
			continue
		}
		claimed[match] = true
		l := listed[match]
		identity := strconv.Itoa(l.Index)
		if byIdentity {
			identity = l.UniqueID
		}
		identity = uniqueIdentity(identities, identity, l.Index)
		log.Debugf("correlated bus device %s with listed gpu %d by %s, identity: %s",
			b.PCIAddress, l.Index, joinKey(byIdentity), identity)
		identities[identity] = true
		table = append(table, &gpudevice.GpuDevice{
			Index:      l.Index,
			ArchClass:  l.ArchClass,
			Target:     l.Target,
			Name:       l.Name,
			CUCount:    l.CUCount,
			PCIAddress: b.PCIAddress,
			NumaNode:   b.NumaNode,
			CPUCores:   append([]int(nil), b.CPUCores...),
			UniqueID:   l.UniqueID,
			Identity:   identity,
			Visible:    true,
		})
	}
	if len(table) == 0 {
		return nil, gpudevice.NewCorrelationError(len(busDevices), len(listed), visibleArchClasses(listed))
	}
	return table, nil
}

// uniqueIdentity returns candidate unless an earlier row holds it, then the
// listing ordinal, then the ordinal with a numeric suffix.
func uniqueIdentity(taken map[string]bool, candidate string, index int) string {
	if !taken[candidate] {
		return candidate
	}
	ordinal := strconv.Itoa(index)
	if !taken[ordinal] {
		return ordinal
	}
	for n := 1; ; n++ {
		if id := fmt.Sprintf("%s-%d", ordinal, n); !taken[id] {
			return id
		}
	}
}

func findListed(listed []*gpudevice.GpuDevice, claimed []bool, match func(*gpudevice.GpuDevice) bool) int {
	for i, l := range listed {
		if claimed[i] || !l.Visible {
			continue
		}
		if match(l) {
			return i
		}
	}
	return -1
}

func joinKey(byIdentity bool) string {
	if byIdentity {
		return "unique id"
	}
	return "pci address"
}

func visibleArchClasses(listed []*gpudevice.GpuDevice) (classes []string) {
	seen := make(map[string]bool)
	for _, l := range listed {
		if l.Visible && !seen[l.ArchClass] {
			seen[l.ArchClass] = true
			classes = append(classes, l.ArchClass)
		}
	}
	return
}
