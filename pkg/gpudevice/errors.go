package gpudevice

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrNoDevices         = errors.New("no gpu devices found")
	ErrNoMatchingDevices = errors.New("no gpu devices match the device type allow-list")
	ErrNoBusDevices      = errors.New("no accelerator devices found on the pci bus")
	ErrListingFailed     = errors.New("device listing failed")
	ErrNoCorrelation     = errors.New("no device could be correlated between listing and bus")
)

// DiscoveryError reports that a required enumeration source produced no usable device.
type DiscoveryError struct {
	Source    string
	Reason    error
	Found     []string
	AllowList []string
}

func (e *DiscoveryError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Source, e.Reason)
	if len(e.Found) > 0 {
		msg += fmt.Sprintf(", discovered device types: [%s]", strings.Join(e.Found, ", "))
	}
	if len(e.AllowList) > 0 {
		msg += fmt.Sprintf(", allowed device types: [%s]", strings.Join(e.AllowList, ", "))
	}
	return msg
}

func (e *DiscoveryError) Unwrap() error {
	return e.Reason
}

// CorrelationError is raised when the joined device table comes out empty.
type CorrelationError struct {
	DiscoveryError
	BusDevices    int
	ListedDevices int
}

func NewCorrelationError(busDevices, listedDevices int, found []string) *CorrelationError {
	return &CorrelationError{
		DiscoveryError: DiscoveryError{Source: "correlator", Reason: ErrNoCorrelation, Found: found},
		BusDevices:     busDevices,
		ListedDevices:  listedDevices,
	}
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("%s (bus devices: %d, listed devices: %d)", e.DiscoveryError.Error(), e.BusDevices, e.ListedDevices)
}

// As lets callers treat a CorrelationError as the DiscoveryError it extends.
func (e *CorrelationError) As(target interface{}) bool {
	if t, ok := target.(**DiscoveryError); ok {
		*t = &e.DiscoveryError
		return true
	}
	return false
}
