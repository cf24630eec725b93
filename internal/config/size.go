package config

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
)

// ParseSize converts a human-readable size string to bytes. SI suffixes
// (KB, MB, GB) use powers of 1000; IEC suffixes (KiB, MiB, GiB) use powers
// of 1024. Empty string and "0" return 0. A bare number is raw bytes.
func ParseSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == "0" {
		return 0, nil
	}

	var (
		n   int64
		err error
	)

	if strings.Contains(strings.ToLower(s), "ib") {
		n, err = units.RAMInBytes(s)
	} else {
		n, err = units.FromHumanSize(s)
	}

	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}

	if n < 0 {
		return 0, fmt.Errorf("invalid size %q: must be non-negative", s)
	}

	return n, nil
}
