package config

import (
	"errors"
	"fmt"
	"slices"

	"github.com/BurntSushi/toml"
)

// maxLevenshteinDistance is the maximum edit distance for "did you mean?"
// suggestions when unknown config keys are detected.
const maxLevenshteinDistance = 3

// knownKeys lists the valid keys of each config section. Slices are sorted
// for deterministic suggestions when two candidates tie.
var knownKeys = map[string][]string{
	"server": {"base_url", "token"},
	"upload": {
		"allowed_types", "chunk_size", "max_concurrent_chunks", "max_file_size",
		"resume_check_attempts", "retry_attempts", "retry_backoff", "retry_delay", "watch_source",
	},
	"state":   {"backend", "dir", "record_ttl"},
	"logging": {"log_file", "log_format", "log_level"},
	"network": {"connect_timeout", "data_timeout", "max_retries", "user_agent"},
	"events":  {"websocket_url"},
}

var knownSections = func() []string {
	names := make([]string, 0, len(knownKeys))
	for k := range knownKeys {
		names = append(names, k)
	}

	slices.Sort(names)

	return names
}()

// checkUnknownKeys inspects TOML metadata for undecoded keys and returns
// an error with "did you mean?" suggestions for each unknown key.
func checkUnknownKeys(md *toml.MetaData) error {
	var errs []error

	for _, key := range md.Undecoded() {
		if err := unknownKeyError(key); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// unknownKeyError describes one undecoded key. Keys below an unknown key
// (e.g. every field of a misspelled section) are reported once, via their
// parent.
func unknownKeyError(key toml.Key) error {
	section := key[0]

	keys, ok := knownKeys[section]
	if !ok {
		if len(key) > 1 {
			return nil
		}

		return suggest(fmt.Sprintf("unknown config section or key %q", section), section, knownSections)
	}

	if len(key) != 2 {
		return nil
	}

	return suggest(fmt.Sprintf("unknown key %q in [%s]", key[1], section), key[1], keys)
}

func suggest(msg, unknown string, known []string) error {
	if s := closestMatch(unknown, known); s != "" {
		return fmt.Errorf("%s, did you mean %q?", msg, s)
	}

	return errors.New(msg)
}

// closestMatch finds the closest known key by Levenshtein distance.
// Returns empty string if no match is within maxLevenshteinDistance.
func closestMatch(unknown string, known []string) string {
	best := ""
	bestDist := maxLevenshteinDistance + 1

	for _, k := range known {
		if d := levenshtein(unknown, k); d < bestDist {
			bestDist = d
			best = k
		}
	}

	return best
}

// levenshtein computes the edit distance between two strings using a
// single-row table.
func levenshtein(a, b string) int {
	if a == "" {
		return len(b)
	}

	if b == "" {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)

	for j := range prev {
		prev[j] = j
	}

	for i := range len(a) {
		curr[0] = i + 1

		for j := range len(b) {
			cost := 1
			if a[i] == b[j] {
				cost = 0
			}

			curr[j+1] = min(curr[j]+1, prev[j+1]+1, prev[j]+cost)
		}

		prev, curr = curr, prev
	}

	return prev[len(b)]
}
