package devicelist

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	LabelDeviceType    = "Device Type"
	LabelCUCount       = "Compute Unit"
	LabelUniqueID      = "Uuid"
	LabelBDFID         = "BDFID"
	LabelName          = "Name"
	LabelMarketingName = "Marketing Name"
	LabelISAInfo       = "ISA Info"

	agentHeaderPrefix = "Agent "
	listingEnd        = "*** Done ***"
	gpuDeviceType     = "GPU"
	// position of the architecture token inside the marketing name,
	// "AMD Instinct MI250X" -> "MI250X"
	archTokenPosition = 2
)

type section int

const (
	sectionAgent section = iota
	sectionISA
)

// agentRecord holds the raw fields of one "Agent N" block. Fields may come
// in any order, the block is only judged once it is closed.
type agentRecord struct {
	deviceType    string
	name          string
	marketingName string
	isaName       string
	cuCount       string
	uniqueID      string
	bdfid         string
}

// Parser turns a rocminfo agent listing into GPU device records.
type Parser struct {
	AllowList []string
	section   section
	pending   agentRecord
	index     int
	types     []string
	devices   []*gpudevice.GpuDevice
}

func NewParser(allowList []string) *Parser {
	var allow []string
	for _, a := range allowList {
		if a = strings.TrimSpace(a); a != "" {
			allow = append(allow, a)
		}
	}
	return &Parser{AllowList: allow}
}

// Parse reads the listing and returns every GPU agent found, in listing
// order, with Visible set according to the allow-list. Agents are delimited
// by their "Agent N" headers and by the closing "*** Done ***" line.
func (p *Parser) Parse(r io.Reader) ([]*gpudevice.GpuDevice, error) {
	p.reset()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if isAgentHeader(line) || line == listingEnd {
			p.closeAgent()
			continue
		}
		label, value, ok := splitField(line)
		if !ok {
			continue
		}
		p.consume(label, value)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read device listing")
	}
	p.closeAgent()
	devices := p.devices
	if len(devices) == 0 {
		return nil, &gpudevice.DiscoveryError{Source: "device listing", Reason: gpudevice.ErrNoDevices, Found: p.types}
	}
	if !anyVisible(devices) {
		return nil, &gpudevice.DiscoveryError{
			Source:    "device listing",
			Reason:    gpudevice.ErrNoMatchingDevices,
			Found:     archClasses(devices),
			AllowList: p.AllowList,
		}
	}
	return devices, nil
}

func (p *Parser) reset() {
	p.section = sectionAgent
	p.pending = agentRecord{}
	p.index = 0
	p.types = nil
	p.devices = nil
}

func (p *Parser) consume(label, value string) {
	if label == LabelISAInfo {
		p.section = sectionISA
		return
	}
	if p.section == sectionISA {
		// first ISA wins, later ones are generic targets
		if label == LabelName && p.pending.isaName == "" {
			p.pending.isaName = value
		}
		return
	}
	switch label {
	case LabelDeviceType:
		p.pending.deviceType = value
		p.types = appendUnique(p.types, value)
	case LabelName:
		p.pending.name = value
	case LabelMarketingName:
		p.pending.marketingName = value
	case LabelCUCount:
		p.pending.cuCount = value
	case LabelUniqueID:
		p.pending.uniqueID = value
	case LabelBDFID:
		p.pending.bdfid = value
	}
}

// closeAgent finalizes the pending block, only GPU agents produce a record.
func (p *Parser) closeAgent() {
	rec := p.pending
	p.pending = agentRecord{}
	p.section = sectionAgent
	if rec.deviceType != gpuDeviceType {
		return
	}
	if d := p.finalize(rec); d != nil {
		p.devices = append(p.devices, d)
	}
}

func (p *Parser) finalize(rec agentRecord) *gpudevice.GpuDevice {
	idx := p.index
	p.index++
	name := rec.marketingName
	if name == "" {
		name = rec.name
	}
	cu, err := strconv.Atoi(rec.cuCount)
	if err != nil || cu <= 0 {
		log.Warnf("dropping gpu record %d (%s): no compute units reported", idx, name)
		return nil
	}
	d := &gpudevice.GpuDevice{
		Index:    idx,
		Name:     name,
		Target:   gfxTarget(rec.isaName),
		CUCount:  cu,
		UniqueID: rec.uniqueID,
	}
	if d.Target == "" {
		d.Target = gfxTarget(rec.name)
	}
	switch {
	case rec.marketingName != "":
		d.ArchClass = archClass(rec.marketingName)
	case d.Target != "":
		d.ArchClass = d.Target
	default:
		d.ArchClass = archClass(rec.name)
	}
	if rec.bdfid != "" {
		if bdfid, err := strconv.Atoi(rec.bdfid); err == nil {
			d.PCIAddress = gpudevice.PCIAddressFromBDFID(bdfid)
		} else {
			log.Warnf("unparsable BDFID: %q", rec.bdfid)
		}
	}
	d.Visible = p.allowed(d)
	log.Debugf("listed gpu %d: %s arch=%s target=%s cu=%d pci=%s visible=%t",
		d.Index, d.Name, d.ArchClass, d.Target, d.CUCount, d.PCIAddress, d.Visible)
	return d
}

// allowed matches the allow-list against both the arch class and the gfx target.
func (p *Parser) allowed(d *gpudevice.GpuDevice) bool {
	if len(p.AllowList) == 0 {
		return true
	}
	arch := strings.ToLower(d.ArchClass)
	target := strings.ToLower(d.Target)
	for _, a := range p.AllowList {
		a = strings.ToLower(a)
		if strings.Contains(arch, a) || (target != "" && strings.Contains(target, a)) {
			return true
		}
	}
	return false
}

func isAgentHeader(line string) bool {
	if !strings.HasPrefix(line, agentHeaderPrefix) {
		return false
	}
	_, err := strconv.Atoi(strings.TrimPrefix(line, agentHeaderPrefix))
	return err == nil
}

func splitField(line string) (label, value string, ok bool) {
	idx := strings.Index(line, ":")
	if idx < 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:idx]), strings.TrimSpace(line[idx+1:]), true
}

func archClass(name string) string {
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return ""
	}
	if len(tokens) > archTokenPosition {
		return tokens[archTokenPosition]
	}
	return tokens[len(tokens)-1]
}

// gfxTarget extracts "gfx90a" from "amdgcn-amd-amdhsa--gfx90a:sramecc+:xnack-"
// or from a bare agent name.
func gfxTarget(s string) string {
	if idx := strings.LastIndex(s, "--"); idx >= 0 {
		s = s[idx+2:]
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if !strings.HasPrefix(s, "gfx") {
		return ""
	}
	return s
}

func anyVisible(devices []*gpudevice.GpuDevice) bool {
	for _, d := range devices {
		if d.Visible {
			return true
		}
	}
	return false
}

func archClasses(devices []*gpudevice.GpuDevice) (classes []string) {
	for _, d := range devices {
		classes = appendUnique(classes, d.ArchClass)
	}
	return
}

func appendUnique(list []string, v string) []string {
	for _, s := range list {
		if s == v {
			return list
		}
	}
	return append(list, v)
}
