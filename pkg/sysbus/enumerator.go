package sysbus

import (
	"bufio"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"k8s.io/utils/cpuset"
)

const (
	DefaultRoot   = "/sys"
	DefaultDriver = "amdgpu"

	pciDevicesDir = "bus/pci/devices"
)

// Enumerator walks the pci device registry and reports the entries
// bound to the accelerator driver.
type Enumerator struct {
	fs     afero.Fs
	root   string
	driver string
}

func NewEnumerator(fs afero.Fs, root, driver string) *Enumerator {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if root == "" {
		root = DefaultRoot
	}
	if driver == "" {
		driver = DefaultDriver
	}
	return &Enumerator{fs: fs, root: root, driver: driver}
}

func (e *Enumerator) Devices() ([]*gpudevice.BusDevice, error) {
	dir := filepath.Join(e.root, pciDevicesDir)
	entries, err := afero.ReadDir(e.fs, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", dir)
	}
	var devices []*gpudevice.BusDevice
	for _, entry := range entries {
		devDir := filepath.Join(dir, entry.Name())
		driver, err := e.readDriver(devDir)
		if err != nil {
			log.Debugf("skipping %s: %s", entry.Name(), err)
			continue
		}
		if driver != e.driver {
			continue
		}
		d := &gpudevice.BusDevice{
			PCIAddress: gpudevice.ShortPCIAddress(entry.Name()),
			Driver:     driver,
			NumaNode:   e.readNumaNode(devDir),
			CPUCores:   e.readCPUList(devDir),
			UniqueID:   e.readAttr(devDir, "unique_id"),
		}
		log.Debugf("bus device %s: numa=%d cpus=%v unique_id=%q", d.PCIAddress, d.NumaNode, d.CPUCores, d.UniqueID)
		devices = append(devices, d)
	}
	if len(devices) == 0 {
		return nil, &gpudevice.DiscoveryError{
			Source: "pci bus",
			Reason: errors.Wrapf(gpudevice.ErrNoBusDevices, "driver %s under %s", e.driver, dir),
		}
	}
	return devices, nil
}

func (e *Enumerator) readDriver(devDir string) (string, error) {
	f, err := e.fs.Open(filepath.Join(devDir, "uevent"))
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if v := strings.TrimPrefix(scanner.Text(), "DRIVER="); v != scanner.Text() {
			return strings.TrimSpace(v), nil
		}
	}
	return "", scanner.Err()
}

func (e *Enumerator) readAttr(devDir, name string) string {
	data, err := afero.ReadFile(e.fs, filepath.Join(devDir, name))
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("failed to read %s/%s, err: %s", devDir, name, err)
		}
		return ""
	}
	return strings.TrimSpace(string(data))
}

// readNumaNode treats a missing, negative or unparsable value as node 0.
func (e *Enumerator) readNumaNode(devDir string) int {
	raw := e.readAttr(devDir, "numa_node")
	node, err := strconv.Atoi(raw)
	if err != nil || node < 0 {
		return 0
	}
	return node
}

func (e *Enumerator) readCPUList(devDir string) []int {
	raw := e.readAttr(devDir, "local_cpulist")
	if raw == "" {
		return nil
	}
	set, err := cpuset.Parse(raw)
	if err != nil {
		log.Warnf("unparsable local_cpulist %q in %s, err: %s", raw, devDir, err)
		return nil
	}
	return set.List()
}
