package device

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

//go:generate mockgen -source=prober.go -destination=mock_device/prober.go

const (
	// CudaVisibleDevicesEnv restricts, and renumbers, the devices visible to a CUDA process.
	CudaVisibleDevicesEnv = "CUDA_VISIBLE_DEVICES"
)

var (
	ErrNvmlUnavailable = errors.New("the NVIDIA management library is unavailable")
	ErrUnknownDevice   = errors.New("unknown device")
)

// ResourceProber answers point-in-time questions about the GPUs visible to this process.
//
// Device indices are CUDA indices: positions within the visible set, numbered from 0,
// which is how a training process addresses its devices.
// Results are only valid at the instant they are produced.
type ResourceProber interface {
	// VisibleDevices returns the indices of every device visible to this process.
	VisibleDevices() ([]int, error)

	// Probe returns, in order, the subset of devices that have at least minFreeMemory bytes of free memory.
	Probe(devices []int, minFreeMemory uint64) ([]int, error)
}

// physicalDevice identifies a device as the management library sees it.
type physicalDevice struct {
	index int
	uuid  string
}

// visibleDeviceTokens returns the entries of CUDA_VISIBLE_DEVICES, and whether the variable is set at all.
func visibleDeviceTokens() ([]string, bool) {
	value, ok := os.LookupEnv(CudaVisibleDevicesEnv)
	if !ok {
		return nil, false
	}

	return parseVisibleDevices(value), true
}

func parseVisibleDevices(value string) []string {
	tokens := make([]string, 0)
	for _, token := range strings.Split(value, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		tokens = append(tokens, token)
	}

	return tokens
}

// resolveVisibleDevices maps the entries of CUDA_VISIBLE_DEVICES onto the physical devices, in the
// order they appear. Entries are either physical indices or (prefixes of) device UUIDs. As CUDA does,
// resolution stops at the first entry that does not name a device; the returned error reports it.
func resolveVisibleDevices(tokens []string, devices []physicalDevice) ([]physicalDevice, error) {
	visible := make([]physicalDevice, 0, len(tokens))
	seen := make(map[int]struct{}, len(tokens))

	for _, token := range tokens {
		dev, ok := matchDevice(token, devices)
		if !ok {
			return visible, errors.Join(ErrUnknownDevice, errors.New(token))
		}

		if _, dup := seen[dev.index]; dup {
			return visible, errors.Join(ErrUnknownDevice, errors.New("duplicate entry "+token))
		}

		seen[dev.index] = struct{}{}
		visible = append(visible, dev)
	}

	return visible, nil
}

func matchDevice(token string, devices []physicalDevice) (physicalDevice, bool) {
	if idx, err := strconv.Atoi(token); err == nil {
		for _, dev := range devices {
			if dev.index == idx {
				return dev, true
			}
		}

		return physicalDevice{}, false
	}

	var (
		match physicalDevice
		found int
	)
	for _, dev := range devices {
		if strings.HasPrefix(dev.uuid, token) {
			match = dev
			found++
		}
	}

	return match, found == 1
}
