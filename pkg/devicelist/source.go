package devicelist

import (
	"bytes"
	"io"
	"os/exec"
	"strings"

	"github.com/AccessibleAI/cuplace/pkg/gpudevice"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const DefaultListingCommand = "rocminfo"

// Source provides the raw device listing text.
type Source interface {
	Listing() (io.Reader, error)
}

// CommandSource runs a listing binary and hands back its stdout.
type CommandSource struct {
	Command string
	Args    []string
}

func NewCommandSource(command string, args ...string) *CommandSource {
	if command == "" {
		command = DefaultListingCommand
	}
	return &CommandSource{Command: command, Args: args}
}

func (s *CommandSource) Listing() (io.Reader, error) {
	bin, err := exec.LookPath(s.Command)
	if err != nil {
		return nil, &gpudevice.DiscoveryError{
			Source: "device listing",
			Reason: errors.Wrapf(gpudevice.ErrListingFailed, "can't locate %s: %s", s.Command, err),
		}
	}
	log.Debugf("running device listing: %s %s", bin, strings.Join(s.Args, " "))
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(bin, s.Args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, &gpudevice.DiscoveryError{
			Source: "device listing",
			Reason: errors.Wrapf(gpudevice.ErrListingFailed, "%s: %s: %s", bin, err, strings.TrimSpace(stderr.String())),
		}
	}
	return &stdout, nil
}

// ReaderSource serves a listing that was captured ahead of time.
type ReaderSource struct {
	Reader io.Reader
}

func (s *ReaderSource) Listing() (io.Reader, error) {
	return s.Reader, nil
}
