package gpumgr

import (
	"github.com/AccessibleAI/cuplace/pkg/devicelist"
	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	log "github.com/sirupsen/logrus"
)

// BusSource enumerates accelerators from the OS bus registry.
type BusSource interface {
	Devices() ([]*gpudevice.BusDevice, error)
}

type GpuMgr struct {
	ListedDevices []*gpudevice.GpuDevice
	BusDevices    []*gpudevice.BusDevice
	GpuDevices    []*gpudevice.GpuDevice
	listing       devicelist.Source
	parser        *devicelist.Parser
	bus           BusSource
}

type GpuDeviceInfo struct {
	Listed  int
	Visible int
	Bus     int
	Devices []*gpudevice.GpuDevice
}

func (m *GpuMgr) setListedDevices() error {
	r, err := m.listing.Listing()
	if err != nil {
		return err
	}
	devices, err := m.parser.Parse(r)
	if err != nil {
		return err
	}
	m.ListedDevices = devices
	return nil
}

func (m *GpuMgr) setBusDevices() error {
	devices, err := m.bus.Devices()
	if err != nil {
		return err
	}
	m.BusDevices = devices
	return nil
}

func (m *GpuMgr) setGpuDevices() error {
	devices, err := Correlate(m.BusDevices, m.ListedDevices)
	if err != nil {
		return err
	}
	m.GpuDevices = devices
	return nil
}

func (m *GpuMgr) GetDeviceInfo() *GpuDeviceInfo {
	visible := 0
	for _, d := range m.ListedDevices {
		if d.Visible {
			visible++
		}
	}
	return &GpuDeviceInfo{
		Listed:  len(m.ListedDevices),
		Visible: visible,
		Bus:     len(m.BusDevices),
		Devices: m.GpuDevices,
	}
}

func (m *GpuMgr) GetDeviceByIdentity(identity string) *gpudevice.GpuDevice {
	for _, d := range m.GpuDevices {
		if d.Identity == identity {
			return d
		}
	}
	return nil
}

// NewGpuManager runs listing, bus enumeration and correlation once.
func NewGpuManager(listing devicelist.Source, parser *devicelist.Parser, bus BusSource) (*GpuMgr, error) {
	m := &GpuMgr{listing: listing, parser: parser, bus: bus}
	// parse the device listing
	if err := m.setListedDevices(); err != nil {
		return nil, err
	}
	// walk the bus registry
	if err := m.setBusDevices(); err != nil {
		return nil, err
	}
	// build the canonical table
	if err := m.setGpuDevices(); err != nil {
		return nil, err
	}
	log.Debugf("canonical device table: %v", m.GpuDevices)
	return m, nil
}
