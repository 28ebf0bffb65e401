package device

import (
	"fmt"
	"sync"
)

// SpoofedProber is a ResourceProber over a fixed set of devices whose free memory is set explicitly.
// It is used in tests and to exercise the queue on hosts without GPUs.
type SpoofedProber struct {
	mu         sync.Mutex
	freeMemory []uint64
	probes     int
}

// NewSpoofedProber creates a SpoofedProber with one device per entry of freeMemory.
func NewSpoofedProber(freeMemory ...uint64) *SpoofedProber {
	return &SpoofedProber{
		freeMemory: append([]uint64{}, freeMemory...),
	}
}

// SetFreeMemory sets the free memory, in bytes, of the device with the given index.
func (p *SpoofedProber) SetFreeMemory(idx int, free uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.freeMemory[idx] = free
}

// NumProbes returns how many times Probe has been called.
func (p *SpoofedProber) NumProbes() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.probes
}

func (p *SpoofedProber) VisibleDevices() ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	indices := make([]int, 0, len(p.freeMemory))
	for i := range p.freeMemory {
		indices = append(indices, i)
	}

	return indices, nil
}

func (p *SpoofedProber) Probe(devices []int, minFreeMemory uint64) ([]int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.probes++

	available := make([]int, 0, len(devices))
	for _, idx := range devices {
		if idx < 0 || idx >= len(p.freeMemory) {
			return nil, fmt.Errorf("%w: %d", ErrUnknownDevice, idx)
		}

		if p.freeMemory[idx] >= minFreeMemory {
			available = append(available, idx)
		}
	}

	return available, nil
}
