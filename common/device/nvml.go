package device

import (
	"fmt"
	"sync"

	"github.com/NVIDIA/go-nvml/pkg/nvml"
	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/docker/go-units"
)

// NvmlProber is a ResourceProber that reads live device memory through the
// [Go Bindings for the NVIDIA Management Library].
//
// The library is initialized for the duration of each call and shut down afterwards,
// so an NvmlProber holds no driver state between probes.
//
// [Go Bindings for the NVIDIA Management Library]: https://github.com/NVIDIA/go-nvml?tab=readme-ov-file#quick-start
type NvmlProber struct {
	log logger.Logger

	// mu serializes Init/Shutdown pairs; NVML reference-counts them, but interleaving makes errors confusing.
	mu sync.Mutex
}

func NewNvmlProber() *NvmlProber {
	prober := &NvmlProber{}
	config.InitLogger(&prober.log, prober)
	return prober
}

// withNvml initializes NVML, runs f, and shuts NVML down again.
func (p *NvmlProber) withNvml(f func() error) (err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ret := nvml.Init()
	if ret != nvml.SUCCESS { // Official docs for nvml go module do not use errors.Is or errors.As here
		return fmt.Errorf("%w: unable to initialize NVML: %v", ErrNvmlUnavailable, nvml.ErrorString(ret))
	}

	defer func() {
		ret := nvml.Shutdown()
		if ret != nvml.SUCCESS && err == nil {
			err = fmt.Errorf("unable to shutdown NVML: %v", nvml.ErrorString(ret))
		}
	}()

	return f()
}

// visible returns the NVML handles of the visible devices, in CUDA index order. NVML must be initialized.
func (p *NvmlProber) visible() ([]nvml.Device, error) {
	count, ret := nvml.DeviceGetCount()
	if ret != nvml.SUCCESS {
		return nil, fmt.Errorf("unable to get device count: %v", nvml.ErrorString(ret))
	}

	handles := make(map[int]nvml.Device, count)
	physical := make([]physicalDevice, 0, count)
	for i := 0; i < count; i++ {
		handle, ret := nvml.DeviceGetHandleByIndex(i)
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("unable to get handle of device %d: %v", i, nvml.ErrorString(ret))
		}

		uuid, ret := handle.GetUUID()
		if ret != nvml.SUCCESS {
			return nil, fmt.Errorf("unable to get UUID of device %d: %v", i, nvml.ErrorString(ret))
		}

		handles[i] = handle
		physical = append(physical, physicalDevice{index: i, uuid: uuid})
	}

	tokens, restricted := visibleDeviceTokens()
	if restricted {
		resolved, err := resolveVisibleDevices(tokens, physical)
		if err != nil {
			p.log.Warn("Ignoring %s entries from the first invalid one onwards: %v", CudaVisibleDevicesEnv, err)
		}
		physical = resolved
	}

	devices := make([]nvml.Device, 0, len(physical))
	for _, dev := range physical {
		devices = append(devices, handles[dev.index])
	}

	return devices, nil
}

func (p *NvmlProber) VisibleDevices() ([]int, error) {
	var indices []int
	err := p.withNvml(func() error {
		devices, err := p.visible()
		if err != nil {
			return err
		}

		indices = make([]int, 0, len(devices))
		for i := range devices {
			indices = append(indices, i)
		}
		return nil
	})

	return indices, err
}

func (p *NvmlProber) Probe(devices []int, minFreeMemory uint64) ([]int, error) {
	var available []int
	err := p.withNvml(func() error {
		visible, err := p.visible()
		if err != nil {
			return err
		}

		available = make([]int, 0, len(devices))
		for _, idx := range devices {
			if idx < 0 || idx >= len(visible) {
				return fmt.Errorf("%w: CUDA index %d (%d visible)", ErrUnknownDevice, idx, len(visible))
			}

			memory, ret := visible[idx].GetMemoryInfo()
			if ret != nvml.SUCCESS {
				return fmt.Errorf("unable to get memory info of device %d: %v", idx, nvml.ErrorString(ret))
			}

			p.log.Debug("Device %d: %s free of %s (need %s).", idx,
				units.BytesSize(float64(memory.Free)), units.BytesSize(float64(memory.Total)),
				units.BytesSize(float64(minFreeMemory)))

			if memory.Free >= minFreeMemory {
				available = append(available, idx)
			}
		}
		return nil
	})

	return available, err
}
