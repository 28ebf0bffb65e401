package process

import (
	"os"

	"github.com/shirou/gopsutil/process"
)

//go:generate mockgen -source=liveness.go -destination=mock_process/liveness.go

// LivenessChecker reports whether a process is currently alive on this host.
//
// The answer is only valid at the instant it is produced.
type LivenessChecker interface {
	IsAlive(pid int32) (bool, error)
}

// ProcessTableChecker is a LivenessChecker backed by the local process table.
type ProcessTableChecker struct{}

func NewProcessTableChecker() *ProcessTableChecker {
	return &ProcessTableChecker{}
}

// IsAlive returns true if a process with the given pid exists, including processes owned by other users.
func (c *ProcessTableChecker) IsAlive(pid int32) (bool, error) {
	if pid <= 0 {
		return false, nil
	}

	return process.PidExists(pid)
}

// Self identifies the calling process.
type Self struct {
	PID      int32
	Hostname string
}

// CurrentProcess returns the pid and hostname of the calling process.
// If the hostname cannot be determined it is left empty.
func CurrentProcess() Self {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = ""
	}

	return Self{
		PID:      int32(os.Getpid()),
		Hostname: hostname,
	}
}

// IsLocal returns true if a record owned by the given host can be judged by a liveness check on this host.
// Records without a hostname predate host tracking and are treated as local.
func (s Self) IsLocal(hostname string) bool {
	return hostname == "" || s.Hostname == "" || hostname == s.Hostname
}
