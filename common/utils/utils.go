package utils

import (
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
)

func GetEnv(name string, def string) string {
	val := os.Getenv(name)
	if len(val) > 0 {
		return val
	} else {
		return def
	}
}

// ParseMemorySize parses a human-readable amount of memory, such as "20GiB", "512MiB" or "16g", into bytes.
// Units are binary: "20GB" and "20GiB" are the same amount. A bare number is a number of bytes.
func ParseMemorySize(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty memory size")
	}

	size, err := units.RAMInBytes(s)
	if err != nil {
		return 0, err
	}

	if size < 0 {
		return 0, fmt.Errorf("negative memory size \"%s\"", s)
	}

	return uint64(size), nil
}

// FormatMemorySize formats a number of bytes with binary units, e.g. "20GiB".
func FormatMemorySize(bytes uint64) string {
	return units.BytesSize(float64(bytes))
}
